package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tillpoint/posgo/internal/sync"
)

// posctl is the operator's diagnostic tool for a running terminal. It talks
// to the terminal's local HTTP API, never to the database directly.

var terminalAddr string

func main() {
	root := &cobra.Command{
		Use:          "posctl",
		Short:        "Diagnostics and conflict resolution for a running POS terminal",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&terminalAddr, "addr", envOr("POSCTL_ADDR", "http://localhost:3001"), "terminal API address")

	root.AddCommand(statusCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(conflictsCmd())
	root.AddCommand(cacheCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(3)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func client() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// call performs a request against the terminal API and decodes the JSON
// response into out (when out is non-nil).
func call(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, terminalAddr+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client().Do(req)
	if err != nil {
		return fmt.Errorf("terminal unreachable at %s: %w", terminalAddr, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func statusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status (exit 0 clean, 1 pending, 2 conflicts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap sync.Snapshot
			if err := call("GET", "/api/status", nil, &snap); err != nil {
				return err
			}

			if asJSON {
				data, _ := json.MarshalIndent(snap, "", "  ")
				fmt.Println(string(data))
			} else {
				printStatus(&snap)
			}

			os.Exit(snap.ExitCode())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func printStatus(snap *sync.Snapshot) {
	stateIcon := "📴 OFFLINE"
	if snap.Online {
		stateIcon = "📱 ONLINE"
	}
	fmt.Printf("Connectivity:  %s (since %s)\n", stateIcon, snap.LastTransitionAt.Format(time.RFC3339))

	syncing := ""
	if snap.IsSyncing {
		syncing = "  🔄 sync in progress"
	}
	fmt.Printf("Pending:       %d%s\n", snap.PendingCount, syncing)
	fmt.Printf("Conflicts:     %d\n", snap.ConflictCount)
	fmt.Printf("Failed:        %d\n", snap.FailedCount)
	fmt.Printf("Synced:        %d\n", snap.SyncedCount)
	fmt.Printf("Cached items:  %d\n", snap.CachedCount)
	if snap.LastSyncAt != nil {
		fmt.Printf("Last sync:     %s\n", snap.LastSyncAt.Format(time.RFC3339))
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Request an immediate sync drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call("POST", "/api/sync/now", nil, nil); err != nil {
				return err
			}
			fmt.Println("🔄 Sync requested")
			return nil
		},
	}
}

func conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve validation conflicts",
	}
	cmd.AddCommand(conflictsListCmd())
	cmd.AddCommand(conflictsResolveCmd())
	return cmd
}

func conflictsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List unresolved conflicts grouped by transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				Count  int                  `json:"count"`
				Groups []sync.ConflictGroup `json:"groups"`
			}
			if err := call("GET", "/api/conflicts", nil, &body); err != nil {
				return err
			}

			if body.Count == 0 {
				fmt.Println("✅ No unresolved conflicts")
				return nil
			}

			for _, group := range body.Groups {
				fmt.Printf("⚠️  Transaction %s (%d conflict(s))\n", group.Transaction.ID, len(group.Conflicts))
				for _, c := range group.Conflicts {
					fmt.Printf("    %s  %s  resource=%s\n", c.ID, c.Kind, c.ResourceID)
					if len(c.ServerSnapshot) > 0 {
						snap, _ := json.Marshal(c.ServerSnapshot)
						fmt.Printf("        server: %s\n", string(snap))
					}
				}
			}
			return nil
		},
	}
}

func conflictsResolveCmd() *cobra.Command {
	var (
		action      string
		payloadFile string
		pin         string
	)

	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a conflict (retry_adjusted, drop_line, abandon)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"action": action,
			}
			if pin != "" {
				body["operatorPin"] = pin
			}
			if payloadFile != "" {
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return err
				}
				body["adjustedPayload"] = json.RawMessage(data)
			}

			if err := call("POST", "/api/conflicts/"+args[0]+"/resolve", body, nil); err != nil {
				return err
			}
			fmt.Printf("✅ Conflict %s resolved (%s)\n", args[0], action)
			return nil
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "resolution action: retry_adjusted, drop_line or abandon")
	cmd.Flags().StringVar(&payloadFile, "payload", "", "JSON file with the adjusted sale payload (retry_adjusted)")
	cmd.Flags().StringVar(&pin, "pin", "", "operator PIN when the terminal requires one")
	cmd.MarkFlagRequired("action")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the reference data cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Pull a fresh reference dataset from the central server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call("POST", "/api/cache/refresh", nil, nil); err != nil {
				return err
			}
			fmt.Println("📥 Reference cache refreshed")
			return nil
		},
	})
	return cmd
}
