package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/state"
)

// Service ties engine runs to the per-site checkpoint.
type Service struct {
	engine *Engine
	states state.Store
	site   string
	logger *events.Logger
}

// SyncOptions configures a sync operation.
type SyncOptions struct {
	Full bool // ignore the stored checkpoint and pull everything
}

// NewService creates a sync service for one remote site.
func NewService(engine *Engine, states state.Store, site string, logger *events.Logger) *Service {
	return &Service{
		engine: engine,
		states: states,
		site:   site,
		logger: logger.WithField("service", "sync"),
	}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Site returns the checkpoint key.
func (s *Service) Site() string {
	return s.site
}

// Sync runs the engine and records the outcome. Without an explicit
// LastSyncDate the stored checkpoint supplies one.
func (s *Service) Sync(ctx context.Context, req Request, opts SyncOptions) (*models.SyncResult, error) {
	cp, err := s.Checkpoint(ctx)
	if err != nil {
		return nil, err
	}

	if opts.Full {
		req.LastSyncDate = nil
	} else if req.LastSyncDate == nil && cp.LastSyncAt != nil {
		t := *cp.LastSyncAt
		req.LastSyncDate = &t
	}

	result, err := s.engine.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	cp.Record(result)
	if err := s.states.Save(ctx, cp); err != nil {
		// The run itself is complete; the next one falls back to a wider pull.
		s.logger.WithError(err).WithField("site", s.site).Warn("Failed to save sync checkpoint")
	}
	return result, nil
}

// Checkpoint returns the stored checkpoint, or an empty one.
func (s *Service) Checkpoint(ctx context.Context) (*models.SyncCheckpoint, error) {
	cp, err := s.states.Load(ctx, s.site)
	switch {
	case err == nil:
		return cp, nil
	case errors.Is(err, state.ErrStateNotFound):
		return models.NewSyncCheckpoint(s.site), nil
	case errors.Is(err, state.ErrStateCorrupt):
		s.logger.WithError(err).Warn("Checkpoint unreadable, starting fresh")
		return models.NewSyncCheckpoint(s.site), nil
	default:
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
}

// Reset forgets the checkpoint so the next run pulls everything.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.states.Reset(ctx, s.site); err != nil && !errors.Is(err, state.ErrStateNotFound) {
		return err
	}
	return nil
}

// Events returns the engine event channel.
func (s *Service) Events() <-chan Event {
	return s.engine.Events()
}

// Cancel stops an ongoing sync.
func (s *Service) Cancel() {
	s.engine.Cancel()
}
