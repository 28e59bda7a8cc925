// Package sync reconciles the local news collection with the remote CMS.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/remote"
	"github.com/TheMichaelB/newsync/internal/repository"
)

// Remote is the slice of the CMS client the engine drives.
type Remote interface {
	RefreshCredentials(ctx context.Context) error
	Pull(ctx context.Context, filter remote.PullFilter) ([]models.RemoteItem, error)
	Push(ctx context.Context, item *models.ContentItem, mode models.PushMode) (*models.PushResult, error)
}

// Snapshotter takes safety backups.
type Snapshotter interface {
	Snapshot(ctx context.Context, kind models.BackupKind) (*models.BackupInfo, error)
}

// Phase of a run.
type Phase string

// Run phases.
const (
	PhaseIdle      Phase = "idle"
	PhasePulling   Phase = "pulling"
	PhaseMerging   Phase = "merging"
	PhasePushing   Phase = "pushing"
	PhaseReporting Phase = "reporting"
)

// EventType defines sync event types.
type EventType string

const (
	EventStarted      EventType = "started"
	EventPhase        EventType = "phase"
	EventItemMerged   EventType = "item_merged"
	EventItemFiltered EventType = "item_filtered"
	EventItemPushed   EventType = "item_pushed"
	EventItemFailed   EventType = "item_failed"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
)

// Event represents a sync event.
type Event struct {
	Type      EventType          `json:"type"`
	RunID     string             `json:"run_id"`
	Timestamp time.Time          `json:"timestamp"`
	Phase     Phase              `json:"phase,omitempty"`
	ItemID    string             `json:"item_id,omitempty"`
	Message   string             `json:"message,omitempty"`
	Result    *models.SyncResult `json:"result,omitempty"`
}

// Request is one caller's sync invocation.
type Request struct {
	Direction      models.Direction `json:"direction"`
	SyncImages     bool             `json:"syncImages"`
	SyncCategories bool             `json:"syncCategories"`
	SyncTags       bool             `json:"syncTags"`
	LastSyncDate   *time.Time       `json:"lastSyncDate,omitempty"`
}

// DefaultRequest pulls and pushes every field group.
func DefaultRequest() Request {
	return Request{
		Direction:      models.DirectionBoth,
		SyncImages:     true,
		SyncCategories: true,
		SyncTags:       true,
	}
}

const eventBuffer = 100

// Engine runs sync passes. One run at a time.
type Engine struct {
	remote    Remote
	repo      *repository.Repository
	snapshots Snapshotter
	filter    *Filter
	cfg       config.SyncConfig
	validate  *validator.Validate
	logger    *events.Logger
	now       func() time.Time

	phase atomic.Value // Phase

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
	events <-chan Event
}

// NewEngine creates a sync engine. snapshots may be nil.
func NewEngine(r Remote, repo *repository.Repository, snapshots Snapshotter, cfg config.SyncConfig, logger *events.Logger) *Engine {
	e := &Engine{
		remote:    r,
		repo:      repo,
		snapshots: snapshots,
		filter:    NewFilter(cfg),
		cfg:       cfg,
		validate:  models.NewValidator(),
		logger:    logger.WithField("component", "sync_engine"),
		now:       repo.Now,
		subs:      make(map[int]chan Event),
	}
	e.phase.Store(PhaseIdle)
	return e
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Phase returns the current run phase.
func (e *Engine) Phase() Phase {
	return e.phase.Load().(Phase)
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Events returns the engine's default event channel. Events are dropped
// when nobody drains it.
func (e *Engine) Events() <-chan Event {
	e.subMu.Lock()
	if e.events == nil {
		ch := make(chan Event, eventBuffer)
		e.subs[e.nextID] = ch
		e.nextID++
		e.events = ch
	}
	e.subMu.Unlock()
	return e.events
}

// Subscribe registers an extra event listener. The returned func removes it.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	id := e.nextID
	e.nextID++
	ch := make(chan Event, eventBuffer)
	e.subs[id] = ch

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
}

// Cancel stops an ongoing run.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Run executes one sync pass. The returned error is non-nil only when the
// run could not start; failures during the run are reported in the result.
func (e *Engine) Run(ctx context.Context, req Request) (*models.SyncResult, error) {
	if req.Direction == "" {
		req.Direction = models.DirectionBoth
	}
	if !req.Direction.Valid() {
		return nil, fmt.Errorf("direction %q: %w", req.Direction, models.ErrInvalidConfig)
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, models.ErrSyncInProgress
	}
	e.running = true
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
		e.setPhase("", PhaseIdle)
	}()

	runID := ulid.Make().String()
	logger := e.logger.WithField("run_id", runID)
	ctx = events.WithLogger(events.WithRunID(ctx, runID), logger)

	result := &models.SyncResult{
		RunID:     runID,
		Direction: req.Direction,
		Failures:  []models.Failure{},
		StartedAt: e.now(),
	}

	logger.WithFields(map[string]interface{}{
		"direction": req.Direction,
		"images":    req.SyncImages,
	}).Info("Starting sync")
	e.emit(Event{Type: EventStarted, RunID: runID})

	if err := e.run(ctx, req, result); err != nil {
		result.Abort(err)
		logger.WithError(err).WithField("kind", result.ErrorKind).Error("Sync aborted")
	}

	e.setPhase(runID, PhaseReporting)
	result.FinishedAt = e.now()
	if result.Error == "" {
		started := result.StartedAt
		result.LastSyncDate = &started
	}

	logger.WithFields(map[string]interface{}{
		"outcome":  result.Outcome(),
		"pulled":   result.Pulled,
		"created":  result.Created,
		"updated":  result.Updated,
		"pushed":   result.Pushed,
		"failures": len(result.Failures),
		"duration": result.Duration().String(),
	}).Info("Sync finished")

	final := EventCompleted
	if result.Error != "" {
		final = EventFailed
	}
	e.emit(Event{Type: final, RunID: runID, Message: result.Error, Result: result})
	return result, nil
}

func (e *Engine) run(ctx context.Context, req Request, result *models.SyncResult) error {
	if err := e.remote.RefreshCredentials(ctx); err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	existing, err := e.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	emptyAtStart := len(existing) == 0

	if req.Direction.Pulls() {
		if err := e.pullAndMerge(ctx, req, result); err != nil {
			return err
		}
	}

	if req.Direction.Pushes() {
		if emptyAtStart && e.snapshots != nil {
			if _, err := e.snapshots.Snapshot(ctx, models.BackupPrePush); err != nil {
				return fmt.Errorf("pre-push snapshot: %w", err)
			}
		}
		if err := e.push(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pullAndMerge(ctx context.Context, req Request, result *models.SyncResult) error {
	runID := result.RunID
	logger := events.FromContext(ctx)

	e.setPhase(runID, PhasePulling)
	pulled, err := e.remote.Pull(ctx, remote.PullFilter{
		Status:        e.cfg.PullStatus,
		ModifiedAfter: req.LastSyncDate,
		Images:        req.SyncImages,
	})
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	result.Pulled = len(pulled)

	e.setPhase(runID, PhaseMerging)
	if err := ctx.Err(); err != nil {
		return err
	}

	accepted := make([]models.RemoteItem, 0, len(pulled))
	for i := range pulled {
		item := &pulled[i]
		// Foreign content is dropped before it is held to news rules.
		if ok, reason := e.filter.Accept(item); !ok {
			result.Filtered++
			logger.WithFields(map[string]interface{}{
				"remote_id": item.RemoteID,
				"reason":    reason,
			}).Debug("Filtered remote item")
			e.emit(Event{Type: EventItemFiltered, RunID: runID, ItemID: remoteLabel(item.RemoteID), Message: reason})
			continue
		}
		if err := models.CheckItem(e.validate, remoteLabel(item.RemoteID), item); err != nil {
			result.AddFailure(remoteLabel(item.RemoteID), err)
			e.emit(Event{Type: EventItemFailed, RunID: runID, ItemID: remoteLabel(item.RemoteID), Message: err.Error()})
			continue
		}
		accepted = append(accepted, *item)
	}
	accepted = Dedup(accepted)

	fields := fieldsFor(req)
	now := e.now()
	var merged []Event

	err = e.repo.Mutate(ctx, func(items []models.ContentItem) ([]models.ContentItem, bool, error) {
		changed := false
		for i := range accepted {
			var action mergeAction
			var id string
			items, action, id = mergeRemote(items, &accepted[i], fields, now)

			switch action {
			case mergeCreated:
				result.Created++
				changed = true
			case mergeUpdated:
				result.Updated++
				changed = true
			default:
				result.Skipped++
				continue
			}
			merged = append(merged, Event{Type: EventItemMerged, RunID: runID, ItemID: id, Message: mergeLabel(action)})
		}
		return items, changed, nil
	})
	if err != nil {
		// Nothing was written; the counts describe an unsaved merge.
		result.Created, result.Updated, result.Skipped = 0, 0, 0
		return fmt.Errorf("merge: %w", err)
	}

	for _, ev := range merged {
		e.emit(ev)
	}
	logger.WithFields(map[string]interface{}{
		"pulled":   result.Pulled,
		"filtered": result.Filtered,
		"created":  result.Created,
		"updated":  result.Updated,
	}).Info("Merged remote items")
	return nil
}

func mergeLabel(a mergeAction) string {
	if a == mergeCreated {
		return "created"
	}
	return "updated"
}

func (e *Engine) setPhase(runID string, p Phase) {
	e.phase.Store(p)
	if runID != "" {
		e.emit(Event{Type: EventPhase, RunID: runID, Phase: p})
	}
}

func (e *Engine) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Phase == "" {
		ev.Phase = e.Phase()
	}

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.logger.Debug("Event channel full, dropping event")
		}
	}
}

// isAbort reports whether a per-item error ends the whole run.
func isAbort(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	return models.IsFatal(models.Classify(err))
}
