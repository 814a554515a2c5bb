package cmd

import (
	"errors"
	"fmt"
	"time"

	"dndj/core/auth"

	"github.com/spf13/cobra"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <observer>",
	Short: "Issue an observer token",
	Long: `Signs a token with OBSERVER_JWT_SECRET. Observers pass it as ?token= on
/ws or as a Bearer header on the /api routes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.ObserverJWTToken == "" {
			return errors.New("OBSERVER_JWT_SECRET is not set, observer authentication is disabled")
		}
		token, err := auth.NewTokens(cfg.ObserverJWTToken, tokenTTL).GenerateToken(args[0])
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime, 0 for no expiry")
}
