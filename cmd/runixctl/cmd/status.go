package cmd

import "fmt"

// StatusCommand prints the engine's overall status (driver count and
// per-driver state), the plain-text counterpart of bblfshctl's "status".
type StatusCommand struct{}

func (c *StatusCommand) Execute(args []string) error {
	body, err := get("/status")
	if err != nil {
		return err
	}
	fmt.Print(body)
	return nil
}
