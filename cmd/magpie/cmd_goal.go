package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/magpie/internal/state"
	"github.com/user/magpie/internal/types"
)

func init() {
	rootCmd.AddCommand(goalCmd)
	goalCmd.AddCommand(goalAddCmd, goalListCmd, goalShowCmd, goalArchiveCmd)

	goalAddCmd.Flags().String("name", "", "goal name (required)")
	goalAddCmd.Flags().Int("target", 0, "target count (required)")
	goalAddCmd.Flags().StringSlice("count", nil, "step types that advance the goal, e.g. contact_create (required)")
	goalAddCmd.Flags().StringSlice("template", nil, "template names whose runs feed this goal")
	_ = goalAddCmd.MarkFlagRequired("name")
	_ = goalAddCmd.MarkFlagRequired("target")
	_ = goalAddCmd.MarkFlagRequired("count")
}

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Manage goals",
}

var goalAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a goal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		name, _ := cmd.Flags().GetString("name")
		target, _ := cmd.Flags().GetInt("target")
		counted, _ := cmd.Flags().GetStringSlice("count")
		templateNames, _ := cmd.Flags().GetStringSlice("template")

		if target <= 0 {
			return fmt.Errorf("--target must be positive")
		}

		goal := &types.Goal{
			ID:          types.NewGoalID(),
			Name:        name,
			Status:      types.GoalActive,
			TargetValue: target,
			CreatedAt:   time.Now(),
		}
		for _, c := range counted {
			goal.CountedSteps = append(goal.CountedSteps, types.StepType(c))
		}

		templates := state.NewTemplateStore(cfg.DataDir)
		for _, tn := range templateNames {
			tmpl, err := templates.GetByName(ctx, tn)
			if err != nil {
				return fmt.Errorf("resolve template %q: %w", tn, err)
			}
			goal.TemplateIDs = append(goal.TemplateIDs, tmpl.ID)
		}

		if err := state.NewGoalStore(cfg.DataDir).Create(ctx, goal); err != nil {
			return fmt.Errorf("add goal: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Goal %q added (%s, target %d).\n", name, goal.ID, target)
		return nil
	},
}

var goalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		goals, err := state.NewGoalStore(cfg.DataDir).List(context.Background())
		if err != nil {
			return fmt.Errorf("list goals: %w", err)
		}
		if len(goals) == 0 {
			fmt.Println("No goals configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPROGRESS\tCOUNTS")
		for _, g := range goals {
			counts := ""
			for i, c := range g.CountedSteps {
				if i > 0 {
					counts += ","
				}
				counts += string(c)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
				g.ID,
				g.Name,
				g.Status,
				g.CurrentValue,
				g.TargetValue,
				counts,
			)
		}
		return w.Flush()
	},
}

var goalShowCmd = &cobra.Command{
	Use:   "show <goal-id>",
	Short: "Show a goal and its progress history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		store := state.NewGoalStore(cfg.DataDir)

		goal, err := store.Get(ctx, types.GoalID(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Goal:     %s (%s)\n", goal.Name, goal.ID)
		fmt.Fprintf(os.Stdout, "Status:   %s\n", goal.Status)
		fmt.Fprintf(os.Stdout, "Progress: %d/%d\n", goal.CurrentValue, goal.TargetValue)
		if goal.AchievedAt != nil {
			fmt.Fprintf(os.Stdout, "Achieved: %s\n", goal.AchievedAt.Format("2006-01-02 15:04:05"))
		}

		progress, err := store.ListProgress(ctx, goal.ID)
		if err != nil {
			return fmt.Errorf("list progress: %w", err)
		}
		if len(progress) == 0 {
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AT\tDELTA\tVALUE\tSOURCE RUN")
		for _, p := range progress {
			fmt.Fprintf(w, "%s\t+%d\t%d\t%s\n",
				p.At.Format("2006-01-02 15:04:05"),
				p.Delta,
				p.Value,
				p.Source,
			)
		}
		return w.Flush()
	},
}

var goalArchiveCmd = &cobra.Command{
	Use:   "archive <goal-id>",
	Short: "Archive a goal so runs stop advancing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		_, err := state.NewGoalStore(cfg.DataDir).Update(context.Background(), types.GoalID(args[0]), func(g *types.Goal) {
			g.Status = types.GoalArchived
		})
		if err != nil {
			return fmt.Errorf("archive goal: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Goal %s archived.\n", args[0])
		return nil
	},
}
