package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorKind classifies failures surfaced in a SyncResult.
type ErrorKind string

// Error kinds.
const (
	KindConfigMissing     ErrorKind = "CONFIG_MISSING"
	KindRemoteUnreachable ErrorKind = "REMOTE_UNREACHABLE"
	KindRemoteRejected    ErrorKind = "REMOTE_REJECTED"
	KindRemoteServerError ErrorKind = "REMOTE_SERVER_ERROR"
	KindLocalPersist      ErrorKind = "LOCAL_PERSIST_ERROR"
	KindInvalidRemoteItem ErrorKind = "INVALID_REMOTE_ITEM"
)

// Error codes for structured error handling.
const (
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeDecryption  = "DECRYPTION_ERROR"
	ErrCodeNetwork     = "NETWORK_ERROR"
	ErrCodeRejected    = "REJECTED"
	ErrCodeServerError = "SERVER_ERROR"
	ErrCodeStorage     = "STORAGE_ERROR"
	ErrCodeState       = "STATE_ERROR"
	ErrCodeValidation  = "VALIDATION_ERROR"
)

// Sentinel errors
var (
	ErrConfigMissing       = errors.New("remote not configured")
	ErrNotFound            = errors.New("not found")
	ErrRemoteIDConflict    = errors.New("remote id already claimed by another item")
	ErrSyncInProgress      = errors.New("sync already in progress")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrDecryptionFailed    = errors.New("decryption failed")
	ErrInvalidItem         = errors.New("invalid content item")
	ErrPluginNotConfigured = errors.New("plugin channel not configured")
)

// APIError represents a non-2xx reply from the remote CMS.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// SyncError provides detailed sync failure information.
type SyncError struct {
	Code   string
	Phase  string
	ItemID string
	Err    error
}

func (e *SyncError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("sync %s [%s]: item %s: %v", e.Phase, e.Code, e.ItemID, e.Err)
	}
	return fmt.Sprintf("sync %s [%s]: %v", e.Phase, e.Code, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// DecryptError represents a credential decryption failure.
type DecryptError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecryptError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decrypt %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("decrypt: %s: %v", e.Reason, e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

// PersistError wraps a failed local read or write.
type PersistError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// ValidationError lists the fields that failed validation for one record.
type ValidationError struct {
	ItemID string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid item %q: %v", e.ItemID, e.Fields)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidItem
}

// Classify maps an error to the kind reported in sync results.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 {
			return KindRemoteServerError
		}
		return KindRemoteRejected
	}

	var decErr *DecryptError
	if errors.Is(err, ErrConfigMissing) || errors.Is(err, ErrDecryptionFailed) ||
		errors.Is(err, ErrPluginNotConfigured) || errors.As(err, &decErr) {
		return KindConfigMissing
	}

	var persistErr *PersistError
	if errors.As(err, &persistErr) {
		return KindLocalPersist
	}

	if errors.Is(err, ErrInvalidItem) || errors.Is(err, ErrRemoteIDConflict) {
		return KindInvalidRemoteItem
	}

	// Anything else failed before a reply arrived: dial, reset, timeout.
	return KindRemoteUnreachable
}

// IsTransport reports whether err is a network-level failure with no HTTP reply.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether an error kind aborts a whole sync run.
func IsFatal(kind ErrorKind) bool {
	return kind == KindConfigMissing || kind == KindLocalPersist
}
