package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AgentCommand groups Agent Loop subcommands.
type AgentCommand struct {
	Run AgentRunCommand `command:"run" description:"drive the Agent Loop toward a goal"`
}

// AgentRunCommand submits a goal to the engine's /agent/run endpoint and
// prints the finished session's outcome (SPEC_FULL.md supplement #4:
// "agent run --goal").
type AgentRunCommand struct {
	Goal string `long:"goal" description:"natural-language goal for the agent to pursue" required:"true"`
}

type agentSessionResult struct {
	SessionID  string `json:"sessionId"`
	State      string `json:"state"`
	Iteration  int    `json:"iteration"`
	FailReason string `json:"failReason,omitempty"`
}

func (c *AgentRunCommand) Execute(args []string) error {
	reqBody, err := json.Marshal(map[string]string{"goal": c.Goal})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/agent/run", Options.Addr)
	resp, err := httpClient().Post(url, "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("contacting runixd at %s: %w", Options.Addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("runixd returned %s", resp.Status)
	}

	var result agentSessionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding agent result: %w", err)
	}

	fmt.Printf("session %s: %s after %d iterations", result.SessionID, result.State, result.Iteration)
	if result.FailReason != "" {
		fmt.Printf(" (%s)", result.FailReason)
	}
	fmt.Println()
	return nil
}
