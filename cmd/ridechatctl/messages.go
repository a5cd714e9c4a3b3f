package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ridelink/ridechat/internal/chat"
	"github.com/spf13/cobra"
)

var messagesOpen bool

func init() {
	messagesCmd.Flags().BoolVar(&messagesOpen, "open", false, "open the conversation (subscribe + clear unread) instead of a passive read")
	rootCmd.AddCommand(messagesCmd)
}

var messagesCmd = &cobra.Command{
	Use:   "messages <peer-id>",
	Short: "Show the conversation with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid peer id %q", args[0])
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var resp struct {
			Messages []chat.Message `json:"messages"`
		}
		c := newClient()
		path := fmt.Sprintf("/v1/conversations/%d/messages", peerID)
		if messagesOpen {
			err = c.post(ctx, fmt.Sprintf("/v1/conversations/%d/open", peerID), nil, &resp)
		} else {
			err = c.get(ctx, path, &resp)
		}
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(resp.Messages)
		}

		for _, m := range resp.Messages {
			ts := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04")
			who := "me"
			if m.FromID == peerID {
				who = "peer"
			}
			marker := ""
			if m.Temporary {
				marker = " (sending)"
			}
			fmt.Printf("[%s] %s: %s%s\n", ts, who, m.Body, marker)
		}
		if len(resp.Messages) == 0 {
			fmt.Println("no messages")
		}
		return nil
	},
}
