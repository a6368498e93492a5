package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/magpie/internal/engine"
	"github.com/user/magpie/internal/state"
	"github.com/user/magpie/internal/types"
)

func init() {
	rootCmd.AddCommand(templateCmd)
	templateCmd.AddCommand(templateAddCmd, templateListCmd, templateRemoveCmd, templateEnableCmd, templateDisableCmd)

	templateAddCmd.Flags().String("name", "", "template name (required)")
	templateAddCmd.Flags().String("type", "", "workflow type (required)")
	templateAddCmd.Flags().String("task", "", "task config JSON")
	templateAddCmd.Flags().String("schedule", "", "cron schedule expression")
	templateAddCmd.Flags().String("account", "", "platform account the runs act as")
	templateAddCmd.Flags().String("model", "", "model override")
	templateAddCmd.Flags().String("system-prompt", "", "system prompt override")
	_ = templateAddCmd.MarkFlagRequired("name")
	_ = templateAddCmd.MarkFlagRequired("type")
}

func templateStore() *state.TemplateStore {
	cfg := loadConfig()
	return state.NewTemplateStore(cfg.DataDir)
}

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage workflow templates",
}

var templateAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a workflow template",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		workflowType, _ := cmd.Flags().GetString("type")
		task, _ := cmd.Flags().GetString("task")
		schedule, _ := cmd.Flags().GetString("schedule")
		account, _ := cmd.Flags().GetString("account")
		model, _ := cmd.Flags().GetString("model")
		systemPrompt, _ := cmd.Flags().GetString("system-prompt")

		template := &types.Template{
			ID:           types.NewTemplateID(),
			Name:         name,
			Type:         types.WorkflowType(workflowType),
			SystemPrompt: systemPrompt,
			Schedule:     schedule,
			AccountID:    types.AccountID(account),
			Model:        model,
			Enabled:      true,
			CreatedAt:    time.Now(),
		}
		if task != "" {
			template.Config = json.RawMessage(task)
		}

		// Reject a config blob the engine would refuse at run time.
		if _, err := engine.ParseTaskConfig(template.Type, template.Config); err != nil {
			return fmt.Errorf("invalid task config: %w", err)
		}

		if err := templateStore().Add(context.Background(), template); err != nil {
			return fmt.Errorf("add template: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Template %q added.\n", name)
		return nil
	},
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		templates, err := templateStore().List(context.Background())
		if err != nil {
			return fmt.Errorf("list templates: %w", err)
		}
		if len(templates) == 0 {
			fmt.Println("No templates configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tSCHEDULE\tACCOUNT\tENABLED")
		for _, t := range templates {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
				t.Name,
				t.Type,
				t.Schedule,
				t.AccountID,
				t.Enabled,
			)
		}
		return w.Flush()
	},
}

var templateRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := templateStore()
		ctx := context.Background()
		tmpl, err := store.GetByName(ctx, args[0])
		if err != nil {
			return err
		}
		if err := store.Remove(ctx, tmpl.ID); err != nil {
			return fmt.Errorf("remove template: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Template %q removed.\n", args[0])
		return nil
	},
}

var templateEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := templateStore().SetEnabled(context.Background(), args[0], true); err != nil {
			return fmt.Errorf("enable template: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Template %q enabled.\n", args[0])
		return nil
	},
}

var templateDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := templateStore().SetEnabled(context.Background(), args[0], false); err != nil {
			return fmt.Errorf("disable template: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Template %q disabled.\n", args[0])
		return nil
	},
}
