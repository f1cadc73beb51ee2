package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

const cancelKeyPrefix = "cellforge:cancel:"

// DefaultCancelPoll is how often a worker checks the cancel flag.
const DefaultCancelPoll = time.Second

func cancelKey(runID uuid.UUID) string { return cancelKeyPrefix + runID.String() }

// RequestCancel raises the cancel flag for a run. The flag expires after ttl
// so abandoned requests do not pile up.
func RequestCancel(ctx context.Context, client valkey.Client, runID uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	resp := client.Do(ctx, client.B().Set().Key(cancelKey(runID)).Value("1").Ex(ttl).Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("request cancel %s: %w", runID, err)
	}
	return nil
}

// CancelRequested reports whether the cancel flag is set.
func CancelRequested(ctx context.Context, client valkey.Client, runID uuid.UUID) (bool, error) {
	n, err := client.Do(ctx, client.B().Exists().Key(cancelKey(runID)).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("check cancel %s: %w", runID, err)
	}
	return n > 0, nil
}

// WatchCancel polls the cancel flag every interval and calls onCancel once
// when it appears. It returns when ctx ends or after onCancel ran. Poll
// errors are ignored; the next tick retries.
func WatchCancel(ctx context.Context, client valkey.Client, runID uuid.UUID, interval time.Duration, onCancel func()) {
	if interval <= 0 {
		interval = DefaultCancelPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok, err := CancelRequested(ctx, client, runID); err == nil && ok {
				onCancel()
				return
			}
		}
	}
}

// ClearCancel removes the flag once a run has finished.
func ClearCancel(ctx context.Context, client valkey.Client, runID uuid.UUID) error {
	if err := client.Do(ctx, client.B().Del().Key(cancelKey(runID)).Build()).Error(); err != nil {
		return fmt.Errorf("clear cancel %s: %w", runID, err)
	}
	return nil
}
