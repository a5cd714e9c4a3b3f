package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ridelink/ridechat/internal/chat"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <peer-id> <text>...",
	Short: "Send a message to a peer",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid peer id %q", args[0])
		}
		body := strings.Join(args[1:], " ")

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		var msg chat.Message
		req := map[string]any{"to_id": peerID, "body": body}
		if err := newClient().post(ctx, "/v1/messages", req, &msg); err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(msg)
		}
		fmt.Printf("queued %s\n", msg.ID)
		return nil
	},
}
