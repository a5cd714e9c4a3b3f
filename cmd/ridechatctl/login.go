package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	loginUserID int64
	loginToken  string
)

func init() {
	loginCmd.Flags().Int64Var(&loginUserID, "user-id", 0, "marketplace account id")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "marketplace API bearer token")
	_ = loginCmd.MarkFlagRequired("user-id")
	_ = loginCmd.MarkFlagRequired("token")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store backend credentials in the session daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		req := map[string]any{"user_id": loginUserID, "token": loginToken}
		if err := newClient().post(ctx, "/v1/auth", req, nil); err != nil {
			return err
		}
		fmt.Printf("authenticated as user %d\n", loginUserID)
		return nil
	},
}
