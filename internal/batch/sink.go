package batch

import (
	"github.com/maraichr/cellforge/pkg/models"
)

// Sink receives a run's progress reports and its single completion.
// Implementations should return quickly; the engine recovers and logs
// panics raised by a sink.
type Sink interface {
	Progress(p models.Progress)
	Complete(c models.Completion)
}

// SinkFuncs adapts plain callbacks. Nil fields are ignored.
type SinkFuncs struct {
	OnProgress func(models.Progress)
	OnComplete func(models.Completion)
}

func (s SinkFuncs) Progress(p models.Progress) {
	if s.OnProgress != nil {
		s.OnProgress(p)
	}
}

func (s SinkFuncs) Complete(c models.Completion) {
	if s.OnComplete != nil {
		s.OnComplete(c)
	}
}

// ChannelSink forwards events to channels. Progress is dropped when its
// buffer is full so a slow reader never stalls the run; the completion
// channel is buffered for the single completion and then closed.
type ChannelSink struct {
	progress chan models.Progress
	done     chan models.Completion
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{
		progress: make(chan models.Progress, buffer),
		done:     make(chan models.Completion, 1),
	}
}

func (s *ChannelSink) Progress(p models.Progress) {
	select {
	case s.progress <- p:
	default:
	}
}

func (s *ChannelSink) Complete(c models.Completion) {
	s.done <- c
	close(s.done)
	close(s.progress)
}

// Updates yields progress reports; it is closed after completion.
func (s *ChannelSink) Updates() <-chan models.Progress { return s.progress }

// Done yields the completion.
func (s *ChannelSink) Done() <-chan models.Completion { return s.done }

// MultiSink fans events out to several sinks in order. A panic in one sink
// does not prevent delivery to the others.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Progress(p models.Progress) {
	for _, s := range m {
		func() {
			defer func() { _ = recover() }()
			s.Progress(p)
		}()
	}
}

func (m multiSink) Complete(c models.Completion) {
	for _, s := range m {
		func() {
			defer func() { _ = recover() }()
			s.Complete(c)
		}()
	}
}
