// Package cmd provides the sessionctl commands for inspecting and revoking
// dashboard sessions stored in Redis.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stockroom/internal/auth/models"
	"stockroom/internal/auth/service"
	sessionStore "stockroom/internal/auth/store/session"
	"stockroom/internal/platform/config"
	"stockroom/internal/platform/logger"
	"stockroom/internal/platform/redis"
)

// SessionAdmin is what the commands need from the session facade.
type SessionAdmin interface {
	ListSessions(ctx context.Context) ([]models.SessionSummary, error)
	RevokeSession(ctx context.Context, id string) error
}

// Opener connects to the session backend. The returned func releases it.
type Opener func(ctx context.Context) (SessionAdmin, func(), error)

// NewRootCmd builds the command tree around open.
func NewRootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "sessionctl",
		Short: "Inspect and revoke stockroom dashboard sessions",
		Long: `sessionctl lists and revokes the dashboard sessions held in Redis.

It reads the same environment as the server (APP_ENV, REDIS_URL,
CACHE_KEY_PREFIX) but does not need vendor OAuth credentials.

Commands:
  list     Show every stored session without its tokens
  delete   Revoke one or more sessions by id
  prune    Revoke sessions that are expired and cannot be refreshed`,
		SilenceUsage: true,
	}
	root.AddCommand(newListCmd(open), newDeleteCmd(open), newPruneCmd(open))
	return root
}

// Execute runs the root command against Redis.
func Execute() {
	if err := NewRootCmd(openRedis).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openRedis(ctx context.Context) (SessionAdmin, func(), error) {
	cfg, err := config.ToolingFromEnv()
	if err != nil {
		return nil, nil, err
	}
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	store := sessionStore.NewRedis(client.Client, sessionStore.WithKeyPrefix(cfg.Redis.KeyPrefix))
	svc := service.New(store, nil, nil, cfg.Session, service.WithLogger(logger.New(cfg.Environment)))
	return svc, func() { _ = client.Close() }, nil
}
