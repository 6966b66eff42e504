package main

import (
	"fmt"
	"time"

	"github.com/docshare/drive/internal/services"
	"github.com/docshare/drive/pkg/utils"
	"github.com/spf13/cobra"
)

var flagTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token for a user",
	Long: `Issue a signed bearer token for calling the API as a user.

  drivectl token <user-id>             Token with the configured lifetime
  drivectl token <user-id> --ttl 1h    Short-lived token`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}

		user, err := services.NewUserService(db, cfg.Storage.DefaultQuota).Get(cmd.Context(), userID)
		if err != nil {
			return fmt.Errorf("loading user: %w", err)
		}

		var token string
		if flagTTL > 0 {
			token, err = utils.GenerateTokenWithTTL(user, flagTTL)
		} else {
			token, err = utils.GenerateToken(user)
		}
		if err != nil {
			return fmt.Errorf("signing token: %w", err)
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), map[string]string{"token": token})
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", 0, "Token lifetime (default JWT_EXPIRATION_HOURS)")
	rootCmd.AddCommand(tokenCmd)
}
