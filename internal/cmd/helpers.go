package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/lecternhq/lectern/internal/config"
	"github.com/lecternhq/lectern/internal/observability"
	"github.com/lecternhq/lectern/pkg/console"
	"github.com/lecternhq/lectern/pkg/registry"
)

// runtime bundles the pieces nearly every command needs: effective
// configuration, an authenticated API client, and the local job registry.
type runtime struct {
	cfg    *config.Config
	client *console.Client
	jobs   *registry.Store
}

func loadRuntime(ctx context.Context) (*runtime, error) {
	var overrides []map[string]any
	if rootAPIURL != "" {
		overrides = append(overrides, map[string]any{"api.base_url": rootAPIURL})
	}
	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "failed to load configuration", err)
	}

	client, err := console.New(console.Config{
		BaseURL:    cfg.API.BaseURL,
		APIKey:     cfg.API.Key,
		Timeout:    cfg.API.Timeout,
		UploadRate: cfg.API.UploadRate,
	}, observability.CLILogger)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "failed to construct API client", err)
	}

	store := registry.NewStore(cfg.Registry.Root)

	observability.CLILogger.Debug("runtime ready",
		zap.String("api_url", cfg.API.BaseURL),
		zap.String("registry_root", cfg.Registry.Root))

	return &runtime{cfg: cfg, client: client, jobs: store}, nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// shortJobID trims a job id for table display. Prefix resolution means the
// short form stays usable as an argument.
func shortJobID(jobID string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) <= 12 {
		return jobID
	}
	return jobID[:12]
}
