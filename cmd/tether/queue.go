package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/tether/internal/config"
	"github.com/hyperengineering/tether/internal/store"
)

var (
	queueDBOverride string
	queueJSONOutput bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline action queue",
	Long:  "List or clear queued actions directly from the durable store, without a running agent.",
}

func init() {
	queueCmd.PersistentFlags().StringVar(&queueDBOverride, "db", "",
		"Database path (overrides config and TETHER_DB_PATH)")
	queueCmd.PersistentFlags().BoolVar(&queueJSONOutput, "json", false,
		"Output in JSON format")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued actions in replay order",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

func runQueueList(cmd *cobra.Command, args []string) error {
	db, err := resolveStore()
	if err != nil {
		return err
	}
	defer db.Close()

	actions, err := db.OldestFirst(context.Background(), 0)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}

	if queueJSONOutput {
		items := make([]map[string]any, len(actions))
		for i, a := range actions {
			items[i] = map[string]any{
				"id":          a.ID,
				"method":      a.Method,
				"target":      a.Target,
				"enqueued_at": a.EnqueuedAt,
			}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"actions": items,
			"total":   len(items),
		})
	}

	if len(actions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tMETHOD\tTARGET\tENQUEUED")
	for _, a := range actions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			a.ID, a.Method, a.Target, a.EnqueuedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all queued actions",
	Args:  cobra.NoArgs,
	RunE:  runQueueClear,
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	db, err := resolveStore()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	count, err := db.Count(ctx)
	if err != nil {
		return fmt.Errorf("count queue: %w", err)
	}
	if err := db.Clear(ctx); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}

	if queueJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"cleared": count,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d queued action(s).\n", count)
	return nil
}

// resolveStore opens the durable store from config with an optional
// --db override.
func resolveStore() (*store.SQLiteStore, error) {
	path := queueDBOverride
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		path = cfg.Database.Path
	}
	return store.NewSQLiteStore(path)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
