package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/models"
)

func TestSyncResultOutcome(t *testing.T) {
	tests := []struct {
		name   string
		result models.SyncResult
		want   models.Outcome
	}{
		{"nothing", models.SyncResult{Pulled: 3, Skipped: 3}, models.OutcomeNoop},
		{"created", models.SyncResult{Created: 1}, models.OutcomeSuccess},
		{"partial", models.SyncResult{Pushed: 4, Failures: []models.Failure{{ItemID: "x"}}}, models.OutcomePartial},
		{"all failed", models.SyncResult{Failures: []models.Failure{{ItemID: "x"}}}, models.OutcomeFailed},
		{"aborted", models.SyncResult{Pushed: 2, Error: "disk full"}, models.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Outcome())
		})
	}
}

func TestSyncResultAddFailureKeepsRemoteBody(t *testing.T) {
	var result models.SyncResult
	result.AddFailure("a1", &models.APIError{StatusCode: 409, Message: "conflict", Body: `{"message":"duplicate title"}`})
	result.AddFailure("a2", errors.New("connection reset"))

	require.Len(t, result.Failures, 2)
	assert.Equal(t, models.KindRemoteRejected, result.Failures[0].Kind)
	assert.Equal(t, `{"message":"duplicate title"}`, result.Failures[0].Message)
	assert.Equal(t, models.KindRemoteUnreachable, result.Failures[1].Kind)
}

func TestSyncResultAbort(t *testing.T) {
	var result models.SyncResult
	result.Abort(&models.PersistError{Op: "write", Path: "news.json", Err: errors.New("eacces")})
	assert.Equal(t, models.KindLocalPersist, result.ErrorKind)
	assert.Equal(t, models.OutcomeFailed, result.Outcome())
}

func TestCheckpointRecord(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	result := &models.SyncResult{RunID: "r1", Pulled: 5, Pushed: 2, LastSyncDate: &at}

	cp := models.NewSyncCheckpoint("https://cms.example.com")
	cp.Record(result)

	assert.Equal(t, "r1", cp.LastRunID)
	assert.Equal(t, models.OutcomeSuccess, cp.LastOutcome)
	require.NotNil(t, cp.LastSyncAt)
	assert.True(t, at.Equal(*cp.LastSyncAt))

	cp.Record(&models.SyncResult{RunID: "r2", Error: "boom"})
	assert.True(t, at.Equal(*cp.LastSyncAt), "failed run keeps previous date")
	assert.Equal(t, "boom", cp.LastError)
}

func TestDirection(t *testing.T) {
	assert.True(t, models.DirectionBoth.Pulls())
	assert.True(t, models.DirectionBoth.Pushes())
	assert.False(t, models.DirectionPull.Pushes())
	assert.False(t, models.DirectionPush.Pulls())
	assert.False(t, models.Direction("sideways").Valid())
}

func TestBackupKindRetentionClass(t *testing.T) {
	assert.Equal(t, models.BackupAuto, models.BackupPrePush.RetentionClass())
	assert.Equal(t, models.BackupAuto, models.BackupPreRestore.RetentionClass())
	assert.Equal(t, models.BackupPreDeploy, models.BackupPreDeploy.RetentionClass())
	assert.Equal(t, models.BackupManual, models.BackupManual.RetentionClass())
}
