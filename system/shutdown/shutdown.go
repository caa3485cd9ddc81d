package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

type step struct {
	name string
	fn   func(context.Context) error
}

// Sequence tears components down in the reverse order they were added.
type Sequence struct {
	mu    sync.Mutex
	steps []step
	ran   bool
}

func New() *Sequence {
	return &Sequence{}
}

func (s *Sequence) Add(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step{name: name, fn: fn})
}

// Run executes every step once, even when earlier steps fail. Later calls do
// nothing.
func (s *Sequence) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil
	}
	s.ran = true
	steps := s.steps
	s.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		start := time.Now()
		if err := st.fn(ctx); err != nil {
			log.Error().Err(err).Str("component", st.name).Msg("Shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
			continue
		}
		log.Info().Str("component", st.name).Dur("took", time.Since(start)).Msg("Component stopped")
	}
	return errors.Join(errs...)
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives or ctx is done.
func WaitForSignal(ctx context.Context) os.Signal {
	sigs := make(chan os.Signal, 1)
	notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		log.Info().Str("signal", sig.String()).Msg("Shutdown requested")
		return sig
	case <-ctx.Done():
		return nil
	}
}

var (
	notify = signal.Notify
	exit   = os.Exit
)

// ShutdownWithError tears everything down and exits non-zero.
func ShutdownWithError(s *Sequence, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Run(ctx)
	exit(1)
}
