package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state for the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		var st struct {
			Session       string `json:"session"`
			State         string `json:"state"`
			UserID        int64  `json:"user_id"`
			PushConnected bool   `json:"push_connected"`
		}
		if err := newClient().get(ctx, "/v1/status", &st); err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(st)
		}

		fmt.Printf("session:  %s\n", st.Session)
		fmt.Printf("state:    %s\n", st.State)
		if st.UserID != 0 {
			fmt.Printf("user:     %d\n", st.UserID)
		}
		fmt.Printf("push:     %s\n", map[bool]string{true: "connected", false: "disconnected"}[st.PushConnected])
		return nil
	},
}
