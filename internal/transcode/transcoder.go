// Package transcode converts raw media into a publishable blob off the
// caller's goroutine, reporting progress along the way.
package transcode

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event is one item in the finite stream a Transcoder produces: any number
// of progress events followed by exactly one terminal event. No progress is
// emitted after the terminal event.
type Event struct {
	Progress float64       // 0..1
	Elapsed  time.Duration // time spent so far, for the UI subtext

	// Terminal fields; exactly one event has Done or Err set.
	Done []byte
	Err  error
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool { return e.Done != nil || e.Err != nil }

// Transcoder produces the event stream for one blob. The returned channel is
// closed after the terminal event.
type Transcoder interface {
	Transcode(ctx context.Context, media []byte) <-chan Event
}

// Passthrough stands in when no real encoder is available: it reports
// synthetic progress over a bounded delay and hands back the original bytes.
// Callers must not assume the output is smaller than the input, only that it
// keeps the same content type.
type Passthrough struct {
	// Delay is the total synthetic duration; zero means DefaultDelay.
	Delay time.Duration
	log   *zap.Logger
}

// DefaultDelay keeps the UI feedback visible without noticeably slowing the
// pipeline, mirroring the staged delays of the original worker.
const DefaultDelay = time.Second

var checkpoints = []float64{0.1, 0.5, 0.9}

func NewPassthrough(log *zap.Logger) *Passthrough {
	return &Passthrough{log: log}
}

func (p *Passthrough) Transcode(ctx context.Context, media []byte) <-chan Event {
	events := make(chan Event, len(checkpoints)+1)
	go func() {
		defer close(events)
		delay := p.Delay
		if delay <= 0 {
			delay = DefaultDelay
		}
		step := delay / time.Duration(len(checkpoints))
		start := time.Now()

		for _, progress := range checkpoints {
			select {
			case <-ctx.Done():
				events <- Event{Err: ctx.Err()}
				return
			case <-time.After(step):
			}
			events <- Event{Progress: progress, Elapsed: time.Since(start)}
		}

		out := make([]byte, len(media))
		copy(out, media)
		p.log.Debug("passthrough transcode finished",
			zap.Int("bytes", len(out)),
			zap.Duration("elapsed", time.Since(start)))
		events <- Event{Done: out}
	}()
	return events
}
