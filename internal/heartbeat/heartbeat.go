package heartbeat

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Service logs a periodic "still running" line while a long external
// command works, so a four hour encode does not look like a hang.
type Service struct {
	interval time.Duration
	logger   hclog.Logger
	name     string
	now      func() time.Time
}

// New creates a heartbeat for the named process.
func New(interval time.Duration, logger hclog.Logger, name string) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		interval: interval,
		logger:   logger,
		name:     name,
		now:      time.Now,
	}
}

// Start launches the ticker loop in the background. The returned func stops
// it and waits for the loop to exit.
func (s *Service) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	started := s.now()
	ticker := time.NewTicker(s.interval)

	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.beat(started)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *Service) beat(started time.Time) {
	elapsed := s.now().Sub(started).Round(time.Second)
	s.logger.Info("process still running", "process", s.name, "elapsed", elapsed.String())
}
