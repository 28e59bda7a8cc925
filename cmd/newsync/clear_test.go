package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/repository"
)

func TestParseClearScope(t *testing.T) {
	tests := []struct {
		in          string
		scope       repository.Scope
		withBackups bool
	}{
		{"main", repository.ScopeMain, false},
		{"trash", repository.ScopeTrash, false},
		{"main+trash", repository.ScopeMainAndTrash, false},
		{"all", repository.ScopeMainAndTrash, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			scope, withBackups, err := parseClearScope(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.scope, scope)
			assert.Equal(t, tt.withBackups, withBackups)
		})
	}
}

func TestParseClearScopeRejectsUnknown(t *testing.T) {
	_, _, err := parseClearScope("everything")
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}
