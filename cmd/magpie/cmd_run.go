package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/magpie/internal/state"
	"github.com/user/magpie/internal/types"
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.AddCommand(runStartCmd, runListCmd, runShowCmd)

	runStartCmd.Flags().String("template", "", "start from a stored template")
	runStartCmd.Flags().String("type", "", "workflow type (search, enrich, prune, sequence, agent, sync)")
	runStartCmd.Flags().String("task", "", "task config JSON")
	runStartCmd.Flags().String("model", "", "model override")
	runStartCmd.Flags().String("system-prompt", "", "system prompt override for this run")
	runStartCmd.Flags().Int("max-steps", 0, "cap on model rounds for this run")
	runStartCmd.Flags().Bool("wait", false, "block until the run reaches a terminal status")
	runStartCmd.Flags().Duration("timeout", 10*time.Minute, "wait timeout")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start and inspect workflow runs",
}

// daemonURL derives the daemon's HTTP base URL from the configured listen
// address.
func daemonURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://127.0.0.1" + listen
	}
	return "http://" + listen
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a run through the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		template, _ := cmd.Flags().GetString("template")
		workflowType, _ := cmd.Flags().GetString("type")
		task, _ := cmd.Flags().GetString("task")
		model, _ := cmd.Flags().GetString("model")
		systemPrompt, _ := cmd.Flags().GetString("system-prompt")
		maxSteps, _ := cmd.Flags().GetInt("max-steps")
		wait, _ := cmd.Flags().GetBool("wait")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		if template == "" && workflowType == "" {
			return fmt.Errorf("either --template or --type is required")
		}

		payload := map[string]any{}
		if task != "" {
			payload["config"] = json.RawMessage(task)
		}
		if systemPrompt != "" {
			payload["system_prompt"] = systemPrompt
		}
		if maxSteps > 0 {
			payload["max_steps"] = maxSteps
		}

		var url string
		if template != "" {
			url = daemonURL(cfg.Listen) + "/webhook/" + template
		} else {
			url = daemonURL(cfg.Listen) + "/webhook"
			payload["type"] = workflowType
			payload["model"] = model
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		resp, err := http.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("reach daemon (is it running?): %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			msg, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("daemon refused run: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		}

		var run types.WorkflowRun
		if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
			return fmt.Errorf("decode run: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Run %s started (%s).\n", run.ID, run.Type)

		if !wait {
			return nil
		}
		final, err := waitForRun(cfg.DataDir, run.ID, timeout)
		if err != nil {
			return err
		}
		printRun(final)
		return nil
	},
}

func waitForRun(dataDir string, id types.RunID, timeout time.Duration) (*types.WorkflowRun, error) {
	runs := state.NewRunStore(dataDir)
	ctx := context.Background()
	deadline := time.Now().Add(timeout)
	for {
		run, err := runs.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() {
			return run, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("run %s still %s after %s", id, run.Status, timeout)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		runs, err := state.NewRunStore(cfg.DataDir).List(context.Background())
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		sort.Slice(runs, func(i, j int) bool {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tTRIGGER\tOK\tSKIP\tERR\tCOST\tCREATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t$%.4f\t%s\n",
				r.ID,
				r.Type,
				r.Status,
				r.Trigger,
				r.SuccessItems,
				r.SkippedItems,
				r.ErrorItems,
				r.CostUSD,
				r.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var runShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its step ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		id := types.RunID(args[0])

		run, err := state.NewRunStore(cfg.DataDir).Get(ctx, id)
		if err != nil {
			return err
		}
		printRun(run)

		steps, err := state.NewStepStore(cfg.DataDir).ListByRun(ctx, id)
		if err != nil {
			return fmt.Errorf("list steps: %w", err)
		}
		if len(steps) == 0 {
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tTYPE\tSTATUS\tCONTACT\tDURATION\tERROR")
		for _, s := range steps {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%dms\t%s\n",
				s.Index,
				s.Type,
				s.Status,
				s.ContactID,
				s.DurationMS,
				s.Error,
			)
		}
		return w.Flush()
	},
}

func printRun(run *types.WorkflowRun) {
	fmt.Fprintf(os.Stdout, "Run:     %s\n", run.ID)
	fmt.Fprintf(os.Stdout, "Type:    %s\n", run.Type)
	fmt.Fprintf(os.Stdout, "Status:  %s\n", run.Status)
	fmt.Fprintf(os.Stdout, "Trigger: %s\n", run.Trigger)
	fmt.Fprintf(os.Stdout, "Items:   %d total, %d ok, %d skipped, %d errored\n",
		run.TotalItems, run.SuccessItems, run.SkippedItems, run.ErrorItems)
	if run.InputTokens > 0 || run.OutputTokens > 0 {
		fmt.Fprintf(os.Stdout, "Tokens:  %d in / %d out ($%.4f)\n",
			run.InputTokens, run.OutputTokens, run.CostUSD)
	}
	for _, e := range run.Errors {
		fmt.Fprintf(os.Stdout, "Error:   %s\n", e)
	}
	if len(run.Result) > 0 {
		fmt.Fprintf(os.Stdout, "Result:  %s\n", string(run.Result))
	}
}
