package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	units "github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
)

// DriverCommand groups driver subcommands, the way bblfshctl groups
// "driver list"/"driver install"/"driver remove" under one parent command.
type DriverCommand struct {
	List  DriverListCommand  `command:"list" description:"list known drivers and their state"`
	Start DriverStartCommand `command:"start" description:"start a driver on demand"`
	Stop  DriverStopCommand  `command:"stop" description:"stop a running driver"`
}

type driverInfo struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	State   string `json:"state"`
	PID     int    `json:"pid,omitempty"`
	Port    int    `json:"port,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

type discoveryError struct {
	Path   string `json:"Path"`
	Reason string `json:"Reason"`
}

type driverListResponse struct {
	Drivers []driverInfo     `json:"drivers"`
	Errors  []discoveryError `json:"errors,omitempty"`
}

// DriverListCommand renders the engine's known drivers as a table, the
// bblfshctl "driver list" equivalent (cmd/bblfshctl/cmd/driver_list.go),
// using the same olekukonko/tablewriter + docker/go-units pairing for
// human-readable durations.
type DriverListCommand struct{}

func (c *DriverListCommand) Execute(args []string) error {
	body, err := get("/drivers")
	if err != nil {
		return err
	}

	var list driverListResponse
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		return fmt.Errorf("decoding driver list: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "VERSION", "STATE", "PID", "PORT", "UPTIME"})

	for _, info := range list.Drivers {
		uptime := "-"
		if info.Uptime != "" {
			if d, err := time.ParseDuration(info.Uptime); err == nil {
				uptime = units.HumanDuration(d)
			}
		}
		pid, port := "-", "-"
		if info.PID != 0 {
			pid = fmt.Sprintf("%d", info.PID)
		}
		if info.Port != 0 {
			port = fmt.Sprintf("%d", info.Port)
		}
		table.Append([]string{info.ID, info.Version, info.State, pid, port, uptime})
	}

	table.Render()

	for _, derr := range list.Errors {
		fmt.Printf("skipped %s: %s\n", derr.Path, derr.Reason)
	}

	return nil
}

// DriverStartCommand starts a driver by id on demand.
type DriverStartCommand struct {
	Args struct {
		ID string `positional-arg-name:"driver-id" required:"true"`
	} `positional-args:"true"`
}

func (c *DriverStartCommand) Execute(args []string) error {
	return post(fmt.Sprintf("/drivers/%s/start", c.Args.ID))
}

// DriverStopCommand stops a running driver by id.
type DriverStopCommand struct {
	Args struct {
		ID string `positional-arg-name:"driver-id" required:"true"`
	} `positional-args:"true"`
}

func (c *DriverStopCommand) Execute(args []string) error {
	return post(fmt.Sprintf("/drivers/%s/stop", c.Args.ID))
}

func post(path string) error {
	resp, err := httpClient().Post(fmt.Sprintf("http://%s%s", Options.Addr, path), "application/json", nil)
	if err != nil {
		return fmt.Errorf("contacting runixd at %s: %w", Options.Addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("runixd returned %s", resp.Status)
	}
	return nil
}
