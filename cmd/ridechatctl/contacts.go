package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ridelink/ridechat/internal/chat"
	"github.com/spf13/cobra"
)

func init() {
	contactsCmd.AddCommand(contactsAddCmd)
	rootCmd.AddCommand(contactsCmd)
}

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List conversation partners, most unread first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		var resp struct {
			Contacts []chat.Contact `json:"contacts"`
		}
		if err := newClient().get(ctx, "/v1/contacts", &resp); err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(resp.Contacts)
		}

		if len(resp.Contacts) == 0 {
			fmt.Println("no contacts")
			return nil
		}
		for _, c := range resp.Contacts {
			unread := ""
			if c.Unread > 0 {
				unread = fmt.Sprintf("  [%d unread]", c.Unread)
			}
			fmt.Printf("%-8d %s%s\n", c.ID, c.Name, unread)
		}
		return nil
	},
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <user-id>",
	Short: "Add a marketplace user to the directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		var contact chat.Contact
		if err := newClient().post(ctx, "/v1/contacts", map[string]any{"user_id": userID}, &contact); err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(contact)
		}
		fmt.Printf("added %d %s\n", contact.ID, contact.Name)
		return nil
	},
}
