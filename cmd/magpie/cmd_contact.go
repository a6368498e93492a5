package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/magpie/internal/state"
	"github.com/user/magpie/internal/types"
)

func init() {
	rootCmd.AddCommand(contactCmd)
	contactCmd.AddCommand(contactListCmd, contactShowCmd)

	contactListCmd.Flags().Bool("archived", false, "include archived contacts")
}

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Inspect the contact ledger",
}

var contactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		includeArchived, _ := cmd.Flags().GetBool("archived")

		contacts, err := state.NewContactStore(cfg.DataDir).List(context.Background())
		if err != nil {
			return fmt.Errorf("list contacts: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tPLATFORM\tHANDLE\tARCHIVED")
		shown := 0
		for _, c := range contacts {
			if c.Archived && !includeArchived {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n",
				c.ID,
				c.Name,
				c.Email,
				c.Platform,
				c.Handle,
				c.Archived,
			)
			shown++
		}
		if shown == 0 {
			fmt.Println("No contacts recorded.")
			return nil
		}
		return w.Flush()
	},
}

var contactShowCmd = &cobra.Command{
	Use:   "show <contact-id>",
	Short: "Show one contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		contact, err := state.NewContactStore(cfg.DataDir).Get(context.Background(), types.ContactID(args[0]))
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "ID:       %s\n", contact.ID)
		fmt.Fprintf(os.Stdout, "Name:     %s\n", contact.Name)
		if contact.Email != "" {
			fmt.Fprintf(os.Stdout, "Email:    %s\n", contact.Email)
		}
		if contact.Platform != "" {
			fmt.Fprintf(os.Stdout, "Platform: %s (%s)\n", contact.Platform, contact.Handle)
		}
		fmt.Fprintf(os.Stdout, "Archived: %v\n", contact.Archived)
		fmt.Fprintf(os.Stdout, "Updated:  %s\n", contact.UpdatedAt.Format("2006-01-02 15:04:05"))
		if contact.Notes != "" {
			fmt.Fprintf(os.Stdout, "Notes:\n%s\n", contact.Notes)
		}
		return nil
	},
}
