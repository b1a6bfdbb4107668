package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/daimoniac/cdpilot/internal/observability"
	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
)

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the orchestrator and the history store",
		RunE: func(cmd *cobra.Command, args []string) error {
			checker := observability.NewHealthChecker(a.logger)
			checks := map[string]observability.HealthCheckFunc{
				"orchestrator": a.svc.Ping,
			}

			store, err := a.history()
			if err != nil {
				checker.RegisterComponent("history")
				checker.UpdateComponentHealth("history", observability.StatusUnhealthy, err.Error())
			} else if store != nil {
				checks["history"] = store.Ping
			}

			status := checker.RunChecks(cmd.Context(), checks)

			output := []string{strings.Join([]string{"COMPONENT", "STATUS", "LATENCY", "MESSAGE"}, "|")}
			for _, name := range status.Names() {
				c := status.Components[name]
				row := []string{name, string(c.Status), c.Latency.Round(time.Millisecond).String(), c.Message}
				output = append(output, strings.Join(row, "|"))
			}
			fmt.Fprintln(a.out, columnize.SimpleFormat(output))

			if status.Status != observability.StatusHealthy {
				return fmt.Errorf("cdpilot is %s", status.Status)
			}
			return nil
		},
	}
}
