// Command runixd is the engine daemon: it discovers driver manifests,
// serves a status/debug HTTP surface, and exposes the Registry, Router and
// Feature Executor to the CLI described by cmd/runixctl.
//
// Flag handling and the signal-driven shutdown path are grounded on the
// teacher's cmd/bblfshd/main.go: jessevdk/go-flags for the option struct,
// a buildLogger helper, and a Cleanup-equivalent teardown before exit.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/runix/runixd/internal/agent"
	"github.com/runix/runixd/internal/artifact"
	"github.com/runix/runixd/internal/cleanup"
	"github.com/runix/runixd/internal/config"
	"github.com/runix/runixd/internal/feature"
	"github.com/runix/runixd/internal/logging"
	"github.com/runix/runixd/internal/manifest"
	"github.com/runix/runixd/internal/registry"
	"github.com/runix/runixd/internal/router"
	"github.com/runix/runixd/internal/session"
	"github.com/runix/runixd/internal/supervisor"
)

type options struct {
	DriverDir  []string `long:"driver-dir" description:"additional driver search directory (repeatable)"`
	OutputRoot string   `long:"output-root" description:"artifact output root" default:"./runix-output"`
	Listen     string   `long:"listen" description:"status/debug HTTP listen address" default:"127.0.0.1:8088"`
	LogLevel   string   `long:"log-level" description:"engine log level" default:"info"`
	LogFile    string   `long:"log-file" description:"engine log file path"`

	SystemDriver  string `long:"system-driver" description:"driver id providing takeScreenshot/click/type/key/scroll" default:"system"`
	VisionDriver  string `long:"vision-driver" description:"driver id providing analyzeScene" default:"vision"`
	LLMDriver     string `long:"llm-driver" description:"driver id providing analyzeScreenAndDecide" default:"llm"`
	MaxIterations int    `long:"max-iterations" description:"Agent Loop iteration budget" default:"50"`
	DisplayWidth  int    `long:"display-width" description:"agent display coordinate space width" default:"1920"`
	DisplayHeight int    `long:"display-height" description:"agent display coordinate space height" default:"1080"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		return 1
	}

	cfg := config.Default()
	cfg.DriverDirs = append(cfg.DriverDirs, opts.DriverDir...)
	cfg.OutputRoot = opts.OutputRoot
	cfg.LogLevel = opts.LogLevel
	cfg.LogFile = opts.LogFile
	cfg = config.FromEnv(cfg)

	if len(cfg.DriverDirs) == 0 {
		cfg.DriverDirs = []string{"./drivers"}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1 // initialization failure, §6.6
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Console: true})
	logger := logging.ForComponent(log, "runixd")

	sup := supervisor.New(logging.ForComponent(log, "supervisor"))
	rtr := router.New()
	reg := registry.New(sup, rtr, registry.Options{
		StartupTimeout:  cfg.StartupTimeout,
		CallTimeout:     cfg.CallTimeout,
		ReconnectPolicy: cfg.ReconnectPolicy,
		DriverLogLevel:  cfg.DriverLogLevel,
		Logger:          logging.ForComponent(log, "registry"),
	})

	cm := cleanup.New(sup, logging.ForComponent(log, "cleanup"))
	cm.Register(func(ctx context.Context) error {
		reg.StopAll()
		return nil
	})
	done := cm.InstallSignalHandlers()

	if err := reg.Discover(cfg.DriverDirs); err != nil {
		logger.WithError(err).Error("driver discovery failed")
		return 1
	}
	for _, derr := range reg.DiscoveryErrors() {
		logger.WithField("path", derr.Path).Warn("skipping invalid manifest: " + derr.Reason)
	}
	reg.StartHealthSweep(cfg.HealthInterval)

	exec := feature.New(rtr, reg)
	store := artifact.New(cfg.OutputRoot)

	mux := chi.NewRouter()
	mux.Get("/status", statusHandler(reg))
	mux.Get("/drivers", driversHandler(reg))
	mux.Post("/drivers/{id}/start", driverStartHandler(reg))
	mux.Post("/drivers/{id}/stop", driverStopHandler(reg))
	mux.Post("/run", runHandler(exec))
	mux.Post("/agent/run", agentRunHandler(reg, store, opts, logging.ForComponent(log, "agent")))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: opts.Listen, Handler: mux}
	cm.Register(func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	go func() {
		logger.WithField("addr", opts.Listen).Info("status server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("status server failed")
		}
	}()

	// The only path out of InstallSignalHandlers' done channel is a received
	// termination signal (§4.9), so the process always exits 130 here (§6.6:
	// "aborted by signal") rather than 0.
	<-done
	return 130
}

func statusHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs := reg.List()
		fmt.Fprintf(w, "drivers: %d\n", len(recs))
		for _, rec := range recs {
			fmt.Fprintf(w, "  %s: %s\n", rec.ID, rec.State())
		}
	}
}

// driverInfo is the JSON shape cmd/runixctl's "driver list" renders into a
// table.
type driverInfo struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	State   string `json:"state"`
	PID     int    `json:"pid,omitempty"`
	Port    int    `json:"port,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// driverListResponse pairs live driver records with the discovery errors
// collected alongside them (SPEC_FULL.md supplement #1), so a bad manifest
// is visible to the operator instead of silently dropped.
type driverListResponse struct {
	Drivers []driverInfo           `json:"drivers"`
	Errors  []manifest.DiscoveryError `json:"errors,omitempty"`
}

func driversHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var out driverListResponse
		for _, rec := range reg.List() {
			info := driverInfo{ID: rec.ID, Version: rec.Manifest.Version, State: string(rec.State()), PID: rec.PID(), Port: rec.Port()}
			if u := rec.Uptime(); u > 0 {
				info.Uptime = u.String()
			}
			out.Drivers = append(out.Drivers, info)
		}
		out.Errors = reg.DiscoveryErrors()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func driverStartHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := reg.Instance(r.Context(), id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func driverStopHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := reg.Stop(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// agentRunHandler drives one Agent Loop run to completion and returns the
// finished Session (§4.7), the HTTP-reachable form of the Agent Loop that
// cmd/runixctl's "agent run --goal" submits to.
func agentRunHandler(reg *registry.Registry, store *artifact.Store, opts options, logger *logrus.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Goal string `json:"goal"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Goal == "" {
			http.Error(w, "request body must be {\"goal\": \"...\"}", http.StatusBadRequest)
			return
		}

		sess := session.New(uuid.NewString(), body.Goal, opts.MaxIterations, opts.DisplayWidth, opts.DisplayHeight)
		loop := agent.New(reg, store, agent.Options{
			SystemDriverID: opts.SystemDriver,
			VisionDriverID: opts.VisionDriver,
			LLMDriverID:    opts.LLMDriver,
			MaxIterations:  opts.MaxIterations,
			IterationDelay: 200 * time.Millisecond,
			PauseDuration:  5 * time.Second,
			DisplayWidth:   opts.DisplayWidth,
			DisplayHeight:  opts.DisplayHeight,
			ActionTimeout:  30 * time.Second,
			Logger:         logger,
		})

		if err := loop.Run(r.Context(), sess); err != nil {
			logger.WithError(err).WithField("session", sess.ID).Warn("agent loop did not complete")
		}
		if err := store.WriteHistory(sess.ID, sess); err != nil {
			logger.WithError(err).Warn("failed to persist session history")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sess)
	}
}

// runHandler executes a JSON-encoded feature.Feature body and returns its
// ScenarioResult[] (§4.6), the HTTP-reachable form of the Feature Executor
// that cmd/runixctl's "run" subcommand posts to.
func runHandler(exec *feature.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f feature.Feature
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		stopOnFailure := r.URL.Query().Get("stopOnFailure") == "true"
		results := exec.Run(r.Context(), f, feature.Options{StopOnFailure: stopOnFailure})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(results)
	}
}
