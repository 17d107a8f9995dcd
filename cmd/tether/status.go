package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/tether/internal/config"
	"github.com/hyperengineering/tether/internal/types"
)

var (
	statusPort       int
	statusJSONOutput bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running agent's status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusPort, "port", 0,
		"Agent port (overrides config and TETHER_PORT)")
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false,
		"Output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	port := statusPort
	if port == 0 {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		port = cfg.Server.Port
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/v1/status", port))
	if err != nil {
		return fmt.Errorf("agent not reachable on port %d: %w", port, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	var status types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	if statusJSONOutput {
		return printJSON(cmd.OutOrStdout(), status)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Version:      %s\n", status.Version)
	fmt.Fprintf(out, "Online:       %t\n", status.Online)
	fmt.Fprintf(out, "Out of sync:  %t\n", status.OutOfSync)
	fmt.Fprintf(out, "Queued:       %d\n", status.Queued)
	fmt.Fprintf(out, "Channel:      %s", status.Connection.Phase)
	if status.Connection.ReconnectAttempt > 0 {
		fmt.Fprintf(out, " (attempt %d, next wait %s)",
			status.Connection.ReconnectAttempt, status.Connection.BackoffDelay)
	}
	fmt.Fprintln(out)
	if status.Connection.ConnectedAt != nil {
		fmt.Fprintf(out, "Connected at: %s\n", status.Connection.ConnectedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Reports:      %d queued, %d delivered, %d suppressed, %d dropped\n",
		status.Reports.Queued, status.Reports.Delivered,
		status.Reports.Suppressed, status.Reports.Dropped)
	return nil
}
