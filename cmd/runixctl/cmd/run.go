package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// RunCommand submits a feature file to the engine's /run endpoint and
// prints the resulting scenario outcomes, the bblfshctl "parse" command's
// counterpart for this domain: send a file, render the structured result.
type RunCommand struct {
	StopOnFailure bool `long:"stop-on-failure" description:"halt a scenario at its first failing step"`

	Args struct {
		FeatureFile string `positional-arg-name:"feature-file" required:"true"`
	} `positional-args:"true"`
}

type scenarioResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Steps   []struct {
		Text       string `json:"text"`
		Success    bool   `json:"success"`
		Error      string `json:"error,omitempty"`
		Skipped    bool   `json:"skipped,omitempty"`
		Unresolved bool   `json:"unresolved,omitempty"`
	} `json:"steps"`
}

func (c *RunCommand) Execute(args []string) error {
	body, err := os.ReadFile(c.Args.FeatureFile)
	if err != nil {
		return fmt.Errorf("reading feature file: %w", err)
	}

	url := fmt.Sprintf("http://%s/run", Options.Addr)
	if c.StopOnFailure {
		url += "?stopOnFailure=true"
	}

	resp, err := httpClient().Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("contacting runixd at %s: %w", Options.Addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("runixd returned %s", resp.Status)
	}

	var results []scenarioResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return fmt.Errorf("decoding results: %w", err)
	}

	exitCode := 0
	for _, sc := range results {
		status := "PASS"
		if !sc.Success {
			status = "FAIL"
			if exitCode < 3 {
				exitCode = 3 // scenario failure, §6.6
			}
		}
		fmt.Printf("[%s] %s\n", status, sc.Name)
		for _, st := range sc.Steps {
			marker := "ok"
			switch {
			case st.Skipped:
				marker = "skip"
			case !st.Success:
				marker = "FAIL: " + st.Error
			}
			fmt.Printf("  %s - %s\n", marker, st.Text)
			if st.Unresolved {
				exitCode = 2 // unresolved step, §6.6, takes priority over a plain scenario failure
			}
		}
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}
