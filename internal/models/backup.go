package models

import "time"

// BundleVersion is the current backup file format.
const BundleVersion = 1

// BackupKind labels why a snapshot was taken.
type BackupKind string

// Snapshot kinds.
const (
	BackupAuto       BackupKind = "auto"
	BackupPreDeploy  BackupKind = "predeploy"
	BackupManual     BackupKind = "manual"
	BackupPreRestore BackupKind = "pre-restore"
	BackupPrePush    BackupKind = "pre-push"
)

// Valid reports whether k is a known kind.
func (k BackupKind) Valid() bool {
	switch k {
	case BackupAuto, BackupPreDeploy, BackupManual, BackupPreRestore, BackupPrePush:
		return true
	}
	return false
}

// RetentionClass groups kinds that share a pruning budget.
func (k BackupKind) RetentionClass() BackupKind {
	switch k {
	case BackupPreRestore, BackupPrePush:
		return BackupAuto
	}
	return k
}

// BackupBundle is a serialized snapshot of the main collection.
type BackupBundle struct {
	Version   int           `json:"version"`
	Kind      BackupKind    `json:"kind"`
	CreatedAt time.Time     `json:"created_at"`
	Count     int           `json:"count"`
	Items     []ContentItem `json:"items"`
}

// BackupInfo describes a stored snapshot.
type BackupInfo struct {
	Name      string     `json:"name"`
	Kind      BackupKind `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
	Size      int64      `json:"size"`
}
