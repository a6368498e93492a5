package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/magpie/internal/platform"
	"github.com/user/magpie/internal/ratelimit"
	"github.com/user/magpie/internal/state"
	"github.com/user/magpie/internal/syncer"
	"github.com/user/magpie/internal/types"
)

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncStatusCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync <account-id> <data-type>",
	Short: "Pull one account's data stream down to the local ledger",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		if cfg.Platform.BaseURL == "" {
			return fmt.Errorf("platform.base_url is not configured")
		}

		accountID := types.AccountID(args[0])
		dataType := args[1]

		tokens := platform.StaticTokens{}
		for id, token := range cfg.AccountTokens() {
			tokens[types.AccountID(id)] = token
		}
		client := platform.NewClient(cfg.Platform.BaseURL, ratelimit.New(), tokens)
		cursors := state.NewCursorStore(cfg.DataDir)
		sync := syncer.New(cursors, syncer.NewPlatformSource(client), cfg.Sync.MaxPages)

		synced, err := sync.Sync(cmd.Context(), accountID, dataType)
		if err != nil {
			if errors.Is(err, syncer.ErrSyncInProgress) {
				return fmt.Errorf("a sync for %s/%s is already running", accountID, dataType)
			}
			return fmt.Errorf("sync stopped after %d items: %w", synced, err)
		}
		fmt.Fprintf(os.Stdout, "Synced %d %s items for %s.\n", synced, dataType, accountID)
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show all sync cursors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		cursors, err := state.NewCursorStore(cfg.DataDir).List(context.Background())
		if err != nil {
			return fmt.Errorf("list cursors: %w", err)
		}
		if len(cursors) == 0 {
			fmt.Println("No sync cursors yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tDATA\tSTATUS\tITEMS\tLAST COMPLETED\tERROR")
		for _, c := range cursors {
			completed := "-"
			if c.LastSyncCompletedAt != nil {
				completed = c.LastSyncCompletedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				c.AccountID,
				c.DataType,
				c.Status,
				c.ItemsSynced,
				completed,
				c.LastError,
			)
		}
		return w.Flush()
	},
}
