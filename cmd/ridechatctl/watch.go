package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events (messages, sends, connection changes)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		var cursor uint64

		for {
			var resp struct {
				Cursor uint64 `json:"cursor"`
				Events []struct {
					Seq       uint64 `json:"seq"`
					Kind      string `json:"kind"`
					Timestamp string `json:"timestamp"`
					Payload   any    `json:"payload"`
				} `json:"events"`
			}
			path := fmt.Sprintf("/v1/events?cursor=%d&wait=25s", cursor)
			if err := c.get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			cursor = resp.Cursor

			for _, evt := range resp.Events {
				if jsonFlag {
					if err := printJSON(evt); err != nil {
						return err
					}
					continue
				}
				fmt.Printf("%s  %s  %v\n", evt.Timestamp, evt.Kind, evt.Payload)
			}
		}
	},
}
