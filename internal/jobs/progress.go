package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/maraichr/cellforge/internal/logging"
	"github.com/maraichr/cellforge/pkg/models"
)

const (
	progressStreamPrefix = "cellforge:progress:"
	snapshotKeyPrefix    = "cellforge:run:"
	progressStreamMaxLen = 1000
	DefaultProgressTTL   = 24 * time.Hour
)

const (
	EventProgress = "progress"
	EventComplete = "complete"
)

var ErrNoProgress = errors.New("no progress recorded")

func ProgressStream(runID uuid.UUID) string { return progressStreamPrefix + runID.String() }

func snapshotKey(runID uuid.UUID) string { return snapshotKeyPrefix + runID.String() }

// Event is one entry of a run's progress stream.
type Event struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Progress *models.Progress `json:"progress,omitempty"`
	Summary  *Summary         `json:"summary,omitempty"`
}

// Summary is a completion without its result list. Results go to Postgres.
type Summary struct {
	RunID     uuid.UUID       `json:"run_id"`
	State     models.RunState `json:"state"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Err       string          `json:"error,omitempty"`
}

func summarize(c models.Completion) Summary {
	return Summary{RunID: c.RunID, State: c.State, Succeeded: c.Succeeded, Failed: c.Failed, Err: c.Err}
}

// StreamSink publishes a run's events to Valkey. Write failures are logged;
// they never reach the engine.
type StreamSink struct {
	ctx    context.Context
	client valkey.Client
	runID  uuid.UUID
	ttl    time.Duration
	logger *slog.Logger
}

func NewStreamSink(ctx context.Context, client valkey.Client, runID uuid.UUID, ttl time.Duration, logger *slog.Logger) *StreamSink {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &StreamSink{
		ctx:    context.WithoutCancel(ctx),
		client: client,
		runID:  runID,
		ttl:    ttl,
		logger: logging.OrNop(logger),
	}
}

func (s *StreamSink) Progress(p models.Progress) {
	data, err := json.Marshal(p)
	if err != nil {
		s.logger.Error("marshal progress", slog.String("error", err.Error()))
		return
	}
	s.publish(EventProgress, data)

	resp := s.client.Do(s.ctx, s.client.B().Set().Key(snapshotKey(s.runID)).Value(string(data)).Ex(s.ttl).Build())
	if err := resp.Error(); err != nil {
		s.logger.Warn("save progress snapshot", slog.String("run_id", s.runID.String()), slog.String("error", err.Error()))
	}
}

func (s *StreamSink) Complete(c models.Completion) {
	data, err := json.Marshal(summarize(c))
	if err != nil {
		s.logger.Error("marshal completion", slog.String("error", err.Error()))
		return
	}
	s.publish(EventComplete, data)
}

func (s *StreamSink) publish(kind string, data []byte) {
	stream := ProgressStream(s.runID)
	cmds := valkey.Commands{
		s.client.B().Xadd().Key(stream).
			Maxlen().Almost().Threshold(strconv.Itoa(progressStreamMaxLen)).
			Id("*").
			FieldValue().FieldValue("type", kind).FieldValue("data", string(data)).
			Build(),
		s.client.B().Expire().Key(stream).Seconds(int64(s.ttl / time.Second)).Build(),
	}
	for _, resp := range s.client.DoMulti(s.ctx, cmds...) {
		if err := resp.Error(); err != nil {
			s.logger.Warn("publish run event",
				slog.String("run_id", s.runID.String()),
				slog.String("type", kind),
				slog.String("error", err.Error()))
		}
	}
}

// LoadProgress returns the latest progress snapshot of a run.
func LoadProgress(ctx context.Context, client valkey.Client, runID uuid.UUID) (models.Progress, error) {
	data, err := client.Do(ctx, client.B().Get().Key(snapshotKey(runID)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return models.Progress{}, ErrNoProgress
		}
		return models.Progress{}, fmt.Errorf("load progress %s: %w", runID, err)
	}
	var p models.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return models.Progress{}, fmt.Errorf("decode progress %s: %w", runID, err)
	}
	return p, nil
}

// ReadEvents returns up to count events recorded after the entry with ID
// after ("" reads from the start).
func ReadEvents(ctx context.Context, client valkey.Client, runID uuid.UUID, after string, count int64) ([]Event, error) {
	start := "-"
	if after != "" {
		start = "(" + after
	}
	entries, err := client.Do(ctx, client.B().Xrange().
		Key(ProgressStream(runID)).Start(start).End("+").Count(count).
		Build()).AsXRange()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read events %s: %w", runID, err)
	}

	events := make([]Event, 0, len(entries))
	for _, e := range entries {
		ev, err := decodeEvent(e)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func decodeEvent(e valkey.XRangeEntry) (Event, error) {
	ev := Event{ID: e.ID, Type: e.FieldValues["type"]}
	data := []byte(e.FieldValues["data"])
	switch ev.Type {
	case EventProgress:
		var p models.Progress
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, err
		}
		ev.Progress = &p
	case EventComplete:
		var s Summary
		if err := json.Unmarshal(data, &s); err != nil {
			return Event{}, err
		}
		ev.Summary = &s
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}
