// Package jobs moves batch runs between the API and workers over Valkey:
// a run queue, a per-run progress stream, and a cancel flag.
package jobs

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"

	"github.com/maraichr/cellforge/internal/config"
)

func NewClient(ctx context.Context, cfg config.ValkeyConfig) (valkey.Client, error) {
	opts := valkey.ClientOption{
		InitAddress: []string{cfg.Addr},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	resp := client.Do(ctx, client.B().Ping().Build())
	if err := resp.Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}
	return client, nil
}
