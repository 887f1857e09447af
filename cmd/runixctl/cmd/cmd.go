// Package cmd holds runixctl's subcommands, one file per verb, matching the
// teacher's cmd/bblfshctl/cmd layout.
package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// Options are the flags shared by every subcommand.
var Options struct {
	Addr string `long:"addr" description:"runixd status/debug address" default:"127.0.0.1:8088"`
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func get(path string) (string, error) {
	resp, err := httpClient().Get(fmt.Sprintf("http://%s%s", Options.Addr, path))
	if err != nil {
		return "", fmt.Errorf("contacting runixd at %s: %w", Options.Addr, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("runixd returned %s: %s", resp.Status, string(b))
	}
	return string(b), nil
}
