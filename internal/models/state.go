package models

import "time"

// SyncCheckpoint tracks the last sync run against one remote site.
type SyncCheckpoint struct {
	Site        string     `json:"site"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	LastRunID   string     `json:"last_run_id,omitempty"`
	LastOutcome Outcome    `json:"last_outcome,omitempty"`
	Pulled      int        `json:"pulled"`
	Pushed      int        `json:"pushed"`
	Failures    int        `json:"failures"`
	LastError   string     `json:"last_error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewSyncCheckpoint creates an empty checkpoint.
func NewSyncCheckpoint(site string) *SyncCheckpoint {
	return &SyncCheckpoint{Site: site}
}

// Record folds a finished run into the checkpoint. The sync date only
// advances when the run produced one.
func (c *SyncCheckpoint) Record(result *SyncResult) {
	c.LastRunID = result.RunID
	c.LastOutcome = result.Outcome()
	c.Pulled = result.Pulled
	c.Pushed = result.Pushed
	c.Failures = len(result.Failures)
	c.LastError = result.Error
	if result.LastSyncDate != nil {
		t := *result.LastSyncDate
		c.LastSyncAt = &t
	}
	c.UpdatedAt = time.Now().UTC()
}

// SetError sets the last error message.
func (c *SyncCheckpoint) SetError(err error) {
	if err != nil {
		c.LastError = err.Error()
	} else {
		c.LastError = ""
	}
}
