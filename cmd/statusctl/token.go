package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aistatus/aistatus/internal/auth"
	"github.com/aistatus/aistatus/internal/config"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a signed bearer token for the /v1/cron endpoints",
	Long: `token signs a short-lived trigger token with the configured cron secret.
Schedulers that can only send bearer tokens use it instead of the raw secret.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		token, err := issueTriggerToken(cfg.CronSecret, tokenTTL, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 10*time.Minute, "Token lifetime")
}

func issueTriggerToken(secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("cron_secret is not configured")
	}
	if ttl <= 0 || ttl > 24*time.Hour {
		return "", fmt.Errorf("ttl must be between 0 and 24h, got %s", ttl)
	}
	return auth.IssueTriggerToken(secret, ttl, now)
}
