package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/newsync/internal/api"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/services/sync"
	"github.com/TheMichaelB/newsync/internal/transport"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull remote news and push local edits",
	Long: `Sync pulls published news from the remote CMS into the local
collection, then pushes local items that are new or edited.

Pulls are incremental from the last recorded sync date. Use --full to
pull everything. With --server the run happens on a running
"newsync serve" instance and its progress is streamed back.`,
	Example: `  newsync sync
  newsync sync --direction pull --images=false
  newsync sync --server http://127.0.0.1:8089`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var (
	syncDirection  string
	syncImages     bool
	syncCategories bool
	syncTags       bool
	syncFull       bool
	syncServer     string
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVarP(&syncDirection, "direction", "d", string(models.DirectionBoth),
		"Sync direction: pull, push or both")
	syncCmd.Flags().BoolVar(&syncImages, "images", true,
		"Sync featured image and gallery")
	syncCmd.Flags().BoolVar(&syncCategories, "categories", true,
		"Sync categories")
	syncCmd.Flags().BoolVar(&syncTags, "tags", true,
		"Sync tags")
	syncCmd.Flags().BoolVarP(&syncFull, "full", "f", false,
		"Ignore the last sync date and pull everything")
	syncCmd.Flags().StringVar(&syncServer, "server", "",
		"Run the sync on a newsync server at this URL")
}

func runSync(cmd *cobra.Command, args []string) error {
	direction := models.Direction(strings.ToLower(syncDirection))
	if !direction.Valid() {
		return fmt.Errorf("invalid direction %q: %w", syncDirection, models.ErrInvalidConfig)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if syncServer != "" {
		return runRemoteSync(ctx, direction)
	}

	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	req := sync.Request{
		Direction:      direction,
		SyncImages:     syncImages,
		SyncCategories: syncCategories,
		SyncTags:       syncTags,
	}

	feed, unsubscribe := c.Sync.Engine().Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range feed {
			showEvent(ev)
		}
	}()

	start := time.Now()
	result, err := c.Sync.Sync(ctx, req, sync.SyncOptions{Full: syncFull})
	unsubscribe()
	<-done
	if err != nil {
		return err
	}

	return reportResult(result, time.Since(start))
}

// runRemoteSync streams a run from a newsync server.
func runRemoteSync(ctx context.Context, direction models.Direction) error {
	body := api.SyncBody{
		Direction:      direction,
		SyncImages:     &syncImages,
		SyncCategories: &syncCategories,
		SyncTags:       &syncTags,
		Full:           syncFull,
	}

	ws := transport.NewWSClient(strings.TrimSuffix(syncServer, "/")+"/api/sync/stream", logger)
	if err := ws.Connect(ctx, body); err != nil {
		return err
	}
	defer ws.Close()

	start := time.Now()
	errs := ws.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return fmt.Errorf("stream: %w", err)

		case raw, ok := <-ws.Frames():
			if !ok {
				return fmt.Errorf("stream closed before a result arrived")
			}

			var frame api.StreamFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				return fmt.Errorf("decode frame: %w", err)
			}

			switch frame.Type {
			case api.FrameEvent:
				if frame.Event != nil {
					showEvent(*frame.Event)
				}
			case api.FrameResult:
				return reportResult(frame.Result, time.Since(start))
			case api.FrameError:
				return fmt.Errorf("server (HTTP %d): %s", frame.Status, frame.Error)
			}
		}
	}
}

func showEvent(ev sync.Event) {
	if jsonOutput {
		return
	}

	switch ev.Type {
	case sync.EventStarted:
		printInfo("Sync %s started", ev.RunID)
	case sync.EventPhase:
		logger.WithField("phase", ev.Phase).Debug("Sync phase")
	case sync.EventItemMerged, sync.EventItemPushed:
		logger.WithField("item", ev.ItemID).Debug(ev.Message)
	case sync.EventItemFiltered:
		logger.WithField("item", ev.ItemID).Debug("Filtered: " + ev.Message)
	case sync.EventItemFailed:
		printWarning("  %s: %s", ev.ItemID, ev.Message)
	case sync.EventFailed:
		printError("Sync failed: %s", ev.Message)
	}
}

func reportResult(result *models.SyncResult, duration time.Duration) error {
	if result == nil {
		return fmt.Errorf("no sync result")
	}

	if jsonOutput {
		printJSON(result)
	} else {
		fmt.Printf("\nSync summary (%s):\n", result.Outcome())
		fmt.Printf("   Pulled:   %d (created %d, updated %d, skipped %d, filtered %d)\n",
			result.Pulled, result.Created, result.Updated, result.Skipped, result.Filtered)
		fmt.Printf("   Pushed:   %d\n", result.Pushed)
		if len(result.Failures) > 0 {
			fmt.Printf("   Failures: %d\n", len(result.Failures))
		}
		if result.LastSyncDate != nil {
			fmt.Printf("   Last sync date: %s\n", result.LastSyncDate.Format(time.RFC3339))
		}
		fmt.Printf("   Duration: %s\n", duration.Round(time.Millisecond))
	}

	switch result.Outcome() {
	case models.OutcomeFailed:
		if result.Error != "" {
			return fmt.Errorf("sync failed (%s): %s", result.ErrorKind, result.Error)
		}
		return fmt.Errorf("sync failed: %d item(s) could not be synced", len(result.Failures))
	case models.OutcomePartial:
		if !jsonOutput {
			printWarning("Sync finished with %d failure(s)", len(result.Failures))
		}
	default:
		if !jsonOutput {
			printSuccess("Sync completed")
		}
	}
	return nil
}
