package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"interruptd/internal/rules"
	"interruptd/internal/settings"
)

var (
	host    string
	port    int
	dataDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "interruptctl",
		Short:         "CLI client for the interrupt service daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", "127.0.0.1", "Daemon host")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "Daemon port (default: from settings.json, else 7600)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", ".", "Directory holding settings.json")

	rootCmd.AddCommand(
		addCmd(),
		removeCmd(),
		listCmd(),
		triggerCmd(),
		settingsCmd(),
		simpleCmd("stats", "Show pipeline statistics", http.MethodGet, "/stats"),
		simpleCmd("health", "Liveness check", http.MethodGet, "/health"),
		simpleCmd("reload", "Reload rules from disk", http.MethodPost, "/reload"),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func resolvePort() int {
	if port != 0 {
		return port
	}
	raw, err := os.ReadFile(filepath.Join(dataDir, "settings.json"))
	if err == nil {
		var s settings.Settings
		if json.Unmarshal(raw, &s) == nil && s.Port != 0 {
			return s.Port
		}
	}
	return settings.Default().Port
}

func request(method, path string, body interface{}) (int, json.RawMessage, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	url := fmt.Sprintf("http://%s:%d%s", host, resolvePort(), path)
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("interrupt service not reachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// run performs the request, pretty-prints the response and maps non-2xx
// statuses to a non-nil error so cobra exits 1.
func run(method, path string, body interface{}) error {
	status, raw, err := request(method, path, body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}

	if status < 200 || status >= 300 {
		return fmt.Errorf("request failed with status %d", status)
	}
	return nil
}

func simpleCmd(use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(method, path, nil)
		},
	}
}

func addCmd() *cobra.Command {
	var (
		id             string
		source         string
		condition      string
		action         string
		label          string
		message        string
		instruction    string
		channel        string
		sessionID      string
		oneOff         bool
		skipValidation bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if source == "" {
				return fmt.Errorf("--source is required")
			}

			cond := map[string]*string{}
			if condition != "" {
				if err := json.Unmarshal([]byte(condition), &cond); err != nil {
					return fmt.Errorf("--condition must be valid JSON: %w", err)
				}
			}

			enabled := true
			rule := rules.Rule{
				ID:          id,
				Source:      source,
				Condition:   cond,
				Action:      rules.Action(action),
				Label:       label,
				Message:     message,
				Instruction: instruction,
				Channel:     channel,
				SessionID:   sessionID,
				OneOff:      oneOff,
				Enabled:     &enabled,
			}

			path := "/rules"
			if skipValidation {
				path = "/rules?skip_validation=1"
			}
			return run(http.MethodPost, path, rule)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Explicit rule ID (auto-generated if omitted)")
	cmd.Flags().StringVar(&source, "source", "", "Source type (e.g. ha.state_change, email, system)")
	cmd.Flags().StringVar(&condition, "condition", "", "Match conditions as a JSON object")
	cmd.Flags().StringVar(&action, "action", "subagent", "message or subagent")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label")
	cmd.Flags().StringVar(&message, "message", "", "Message template ({{key}} interpolation)")
	cmd.Flags().StringVar(&instruction, "instruction", "", "Custom instructions for the sub-agent")
	cmd.Flags().StringVar(&channel, "channel", "default", "Notification channel")
	cmd.Flags().StringVar(&sessionID, "session-id", "main", "Target session")
	cmd.Flags().BoolVar(&oneOff, "one-off", false, "Remove the rule after its first successful dispatch")
	cmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "Bypass server-side validation")

	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a rule by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(http.MethodDelete, "/rules/"+args[0], nil)
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, raw, err := request(http.MethodGet, "/rules", nil)
			if err != nil {
				return err
			}
			if status < 200 || status >= 300 {
				fmt.Println(string(raw))
				return fmt.Errorf("request failed with status %d", status)
			}

			var list []rules.Rule
			if err := json.Unmarshal(raw, &list); err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No rules configured.")
				return nil
			}

			for _, r := range list {
				cond, _ := json.Marshal(r.Condition)
				oneOff := ""
				if r.OneOff {
					oneOff = " [one-off]"
				}
				fmt.Printf("[%s] %s | %s | %s | %s | %s | %s%s\n",
					r.ID, r.Source, cond, orDash(string(r.Action)), orDash(r.Label),
					orDefault(r.Channel, "default"), orDefault(r.SessionID, "main"), oneOff)
			}
			return nil
		},
	}
}

func triggerCmd() *cobra.Command {
	var (
		source  string
		data    string
		level   string
		message string
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Fire an event into the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if source == "" {
				return fmt.Errorf("--source is required")
			}

			payload := map[string]interface{}{}
			if data != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("--data must be valid JSON: %w", err)
				}
			}
			if message != "" {
				payload["message"] = message
			}

			return run(http.MethodPost, "/trigger", map[string]interface{}{
				"source": source,
				"data":   payload,
				"level":  level,
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Event source identifier")
	cmd.Flags().StringVar(&data, "data", "", "Event data as a JSON object")
	cmd.Flags().StringVar(&level, "level", "info", "info, warn or alert")
	cmd.Flags().StringVar(&message, "message", "", "Shorthand for setting data.message")

	return cmd
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect or update daemon settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(http.MethodGet, "/settings", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <json>",
		Short: "Update settings with a JSON merge patch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch map[string]interface{}
			if err := json.Unmarshal([]byte(args[0]), &patch); err != nil {
				return fmt.Errorf("argument must be valid JSON: %w", err)
			}
			return run(http.MethodPut, "/settings", patch)
		},
	})

	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
