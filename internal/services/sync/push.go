package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
)

// pending lists items whose local state has not reached the remote.
func pending(items []models.ContentItem) []models.ContentItem {
	var out []models.ContentItem
	for _, item := range items {
		if item.NeedsPush() {
			out = append(out, item)
		}
	}
	return out
}

// push sends every pending item. A failing item is recorded and skipped;
// only fatal kinds stop the loop.
func (e *Engine) push(ctx context.Context, result *models.SyncResult) error {
	runID := result.RunID
	logger := events.FromContext(ctx)
	e.setPhase(runID, PhasePushing)

	items, err := e.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	queue := pending(items)
	logger.WithField("count", len(queue)).Info("Pushing local changes")

	for i := range queue {
		item := &queue[i]
		if err := ctx.Err(); err != nil {
			return err
		}

		mode := models.ModeUpdate
		if !item.HasRemote() {
			mode = models.ModeCreate
		}
		itemLog := logger.WithFields(map[string]interface{}{
			"item_id": item.LocalID,
			"mode":    mode,
		})

		ack, err := e.remote.Push(events.WithItemID(ctx, item.LocalID), item, mode)
		if err != nil {
			if isAbort(ctx, err) {
				return &models.SyncError{Code: errorCode(err), Phase: string(PhasePushing), ItemID: item.LocalID, Err: err}
			}
			result.AddFailure(item.LocalID, err)
			itemLog.WithError(err).WithField("kind", models.Classify(err)).Warn("Push failed")
			e.emit(Event{Type: EventItemFailed, RunID: runID, ItemID: item.LocalID, Message: err.Error()})
			continue
		}

		if _, err := e.repo.StampSynced(ctx, item.LocalID, ack.RemoteID, e.now()); err != nil {
			var persistErr *models.PersistError
			if errors.As(err, &persistErr) {
				return fmt.Errorf("stamp %s: %w", item.LocalID, err)
			}
			// The item may have been deleted mid-run or the id is held by
			// another item; the remote write itself went through.
			result.AddFailure(item.LocalID, err)
			itemLog.WithError(err).Warn("Could not record push")
			e.emit(Event{Type: EventItemFailed, RunID: runID, ItemID: item.LocalID, Message: err.Error()})
			continue
		}

		result.Pushed++
		itemLog.WithField("remote_id", ack.RemoteID).Debug("Pushed item")
		e.emit(Event{Type: EventItemPushed, RunID: runID, ItemID: item.LocalID, Message: string(mode)})
	}
	return nil
}

// errorCode maps an abort cause to a structured error code.
func errorCode(err error) string {
	switch models.Classify(err) {
	case models.KindConfigMissing:
		return models.ErrCodeConfig
	case models.KindLocalPersist:
		return models.ErrCodeStorage
	default:
		return models.ErrCodeNetwork
	}
}
