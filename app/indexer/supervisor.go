package indexer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const restartDelay = 5 * time.Second

// Supervisor runs one engine per source type, each in its own goroutine.
// A crashed engine is restarted after a delay; the siblings keep running.
type Supervisor struct {
	engines []*Engine
	wg      sync.WaitGroup
}

func NewSupervisor(engines ...*Engine) *Supervisor {
	return &Supervisor{engines: engines}
}

// Run starts every engine and blocks until ctx is cancelled and all engines
// have stopped.
func (s *Supervisor) Run(ctx context.Context) {
	for _, engine := range s.engines {
		s.wg.Add(1)
		go func(e *Engine) {
			defer s.wg.Done()
			s.supervise(ctx, e)
		}(engine)
	}
	s.wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, e *Engine) {
	for {
		err := s.runOnce(ctx, e)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("Indexing engine crashed, restarting", "source", e.SourceType(), "error", err, "delay", restartDelay)
		} else {
			slog.Warn("Indexing engine exited, restarting", "source", e.SourceType(), "delay", restartDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, e *Engine) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Indexing engine panic", "source", e.SourceType(), "panic", r)
		}
	}()
	return e.Run(ctx)
}
