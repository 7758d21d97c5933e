package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/taskpilot/internal/auth"
	"github.com/kalambet/taskpilot/internal/config"
	"github.com/kalambet/taskpilot/internal/searchclient"
)

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find tasks by meaning",
	Long: `Find your tasks that are semantically closest to a natural-language query.

Examples:
  taskpilot search "things to buy"
  taskpilot search "prepare for the trip" --user alice`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSearch(cmd.Context(), client, strings.Join(args, " "))
	},
}

func runSearch(ctx context.Context, client *apiClient, query string) error {
	res := searchclient.New(client.baseURL, client.token, client.httpClient).Search(ctx, query)
	if res.Err != nil {
		slog.Debug("search failed", "error", errorsCause(res.Err))
		return res.Err
	}
	if res.Empty() {
		printWarning("No matching tasks")
		return nil
	}
	for _, r := range res.Data {
		fmt.Fprintf(stdout, "  %s  %-6s  %-11s  %s\n",
			colorize(colorCyan, fmt.Sprintf("%3.0f%%", r.Similarity*100)),
			r.Priority, r.Status, r.Text)
	}
	return nil
}

func errorsCause(err error) error {
	var se *searchclient.Error
	if errors.As(err, &se) && se.Cause != nil {
		return se.Cause
	}
	return err
}

// --- tasks ---

type taskRow struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Priority     string    `json:"priority"`
	Status       string    `json:"status"`
	ParentTaskID string    `json:"parent_task_id"`
	CreatedAt    time.Time `json:"created_at"`
	Subtasks     []taskRow `json:"subtasks"`
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List and manage tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first, with their subtasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/tasks")
		if err != nil {
			return err
		}
		var tasks []taskRow
		if err := decodeJSON(resp, &tasks); err != nil {
			return err
		}
		if len(tasks) == 0 {
			printWarning("No tasks yet")
			return nil
		}
		for _, t := range tasks {
			printTask(t, "")
			for _, st := range t.Subtasks {
				printTask(st, "    ")
			}
		}
		return nil
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetString("priority")
		parent, _ := cmd.Flags().GetString("parent")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]any{
			"text":     strings.Join(args, " "),
			"priority": priority,
		}
		if parent != "" {
			body["parent_task_id"] = parent
		}
		resp, err := client.post(cmd.Context(), "/tasks", body)
		if err != nil {
			return err
		}
		var t taskRow
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		printSuccess("Created task %s", t.ID)
		return nil
	},
}

var tasksSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Update a task's status, priority or text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		for _, field := range []string{"status", "priority", "text"} {
			if cmd.Flags().Changed(field) {
				v, _ := cmd.Flags().GetString(field)
				body[field] = v
			}
		}
		if len(body) == 0 {
			return fmt.Errorf("nothing to update: pass --status, --priority or --text")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/tasks/"+args[0], body)
		if err != nil {
			return err
		}
		var t taskRow
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		printSuccess("Updated task %s (%s, %s)", t.ID, t.Status, t.Priority)
		return nil
	},
}

var tasksRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a task and its subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/tasks/"+args[0])
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted task %s", args[0])
		return nil
	},
}

var tasksSplitCmd = &cobra.Command{
	Use:   "split <id>",
	Short: "Generate and store AI subtasks for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Asking the model for subtasks...")
		resp, err := client.post(cmd.Context(), "/tasks/"+args[0]+"/subtasks", nil)
		if err != nil {
			return err
		}
		var created []taskRow
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		for _, t := range created {
			printTask(t, "    ")
		}
		printSuccess("Added %d subtasks", len(created))
		return nil
	},
}

var tasksImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create one task per line of a text or PDF checklist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetString("priority")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/tasks/import", map[string]any{
			"filename": filepath.Base(args[0]),
			"content":  base64.StdEncoding.EncodeToString(data),
			"priority": priority,
		})
		if err != nil {
			return err
		}
		var result struct {
			Imported int `json:"imported"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Imported %d tasks from %s", result.Imported, args[0])
		return nil
	},
}

func init() {
	tasksAddCmd.Flags().String("priority", "medium", "high, medium or low")
	tasksAddCmd.Flags().String("parent", "", "id of the parent task")
	tasksSetCmd.Flags().String("status", "", "pending, in-progress or completed")
	tasksSetCmd.Flags().String("priority", "", "high, medium or low")
	tasksSetCmd.Flags().String("text", "", "new task text")
	tasksImportCmd.Flags().String("priority", "medium", "priority for imported tasks")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksSetCmd)
	tasksCmd.AddCommand(tasksRmCmd)
	tasksCmd.AddCommand(tasksSplitCmd)
	tasksCmd.AddCommand(tasksImportCmd)
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Print a session token for a user",
	Long: `Print a signed session token for a user, valid for auth.token_ttl.
Send it as "Authorization: Bearer <token>" or export it as TASKPILOT_TOKEN.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		token, err := auth.GenerateToken([]byte(cfg.Auth.JWTSecret), args[0], cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, token)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
