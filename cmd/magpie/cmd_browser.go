package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/magpie/internal/browser"
	"github.com/user/magpie/internal/state"
)

func init() {
	rootCmd.AddCommand(browserCmd)
	browserCmd.AddCommand(browserSetupCmd, browserValidateCmd, browserDeleteCmd, browserListCmd)
}

var browserCmd = &cobra.Command{
	Use:   "browser",
	Short: "Manage authenticated browser sessions",
}

func browserManager() (*browser.Manager, error) {
	cfg := loadConfig()
	setupLogging(cfg)
	key, err := cfg.SessionKeyBytes()
	if err != nil {
		return nil, err
	}
	sessions, err := state.NewSessionStore(cfg.DataDir, key)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return browser.NewManager(sessions), nil
}

var browserSetupCmd = &cobra.Command{
	Use:   "setup <platform>",
	Short: "Log in to a platform interactively and save the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := browserManager()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Opening %s login. Complete the login (including 2FA) in the browser window.\n", args[0])
		session, err := mgr.Setup(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("setup %s: %w", args[0], err)
		}
		fmt.Fprintf(os.Stdout, "Session for %s saved (%d cookies captured).\n",
			session.Platform, len(session.Cookies))
		return nil
	},
}

var browserValidateCmd = &cobra.Command{
	Use:   "validate <platform>",
	Short: "Check whether the saved session is still authenticated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := browserManager()
		if err != nil {
			return err
		}
		ok, err := mgr.Validate(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("validate %s: %w", args[0], err)
		}
		if !ok {
			return fmt.Errorf("session for %s is no longer valid; run `magpie browser setup %s`", args[0], args[0])
		}
		fmt.Fprintf(os.Stdout, "Session for %s is valid.\n", args[0])
		return nil
	},
}

var browserDeleteCmd = &cobra.Command{
	Use:   "delete <platform>",
	Short: "Delete the saved session for a platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := browserManager()
		if err != nil {
			return err
		}
		if err := mgr.Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("delete %s session: %w", args[0], err)
		}
		fmt.Fprintf(os.Stdout, "Session for %s deleted.\n", args[0])
		return nil
	},
}

var browserListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved browser sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		key, err := cfg.SessionKeyBytes()
		if err != nil {
			return err
		}
		sessions, err := state.NewSessionStore(cfg.DataDir, key)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		all, err := sessions.List(context.Background())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(all) == 0 {
			fmt.Println("No browser sessions saved.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PLATFORM\tCREATED\tLAST VALIDATED")
		for _, s := range all {
			validated := "-"
			if !s.LastValidatedAt.IsZero() {
				validated = s.LastValidatedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				s.Platform,
				s.CreatedAt.Format("2006-01-02"),
				validated,
			)
		}
		return w.Flush()
	},
}
