package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/models"
)

func TestCheckItem(t *testing.T) {
	v := models.NewValidator()

	item := sampleItem()
	assert.NoError(t, models.CheckItem(v, item.LocalID, &item))

	bad := sampleItem()
	bad.Status = "publish"
	bad.Title = ""
	err := models.CheckItem(v, bad.LocalID, &bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidItem)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 2)
}

func TestCheckItemTimestamps(t *testing.T) {
	v := models.NewValidator()

	item := sampleItem()
	item.Timestamps.UpdatedAt = item.Timestamps.CreatedAt.Add(-time.Hour)
	assert.Error(t, models.CheckItem(v, item.LocalID, &item))

	item = sampleItem()
	item.Timestamps.CreatedAt = time.Time{}
	assert.Error(t, models.CheckItem(v, item.LocalID, &item))
}

func TestCheckTrashItem(t *testing.T) {
	v := models.NewValidator()

	trash := models.TrashItem{ContentItem: sampleItem(), TrashID: "t1", DeletedAt: time.Now()}
	assert.NoError(t, models.CheckItem(v, trash.LocalID, &trash))

	trash.TrashID = ""
	assert.Error(t, models.CheckItem(v, trash.LocalID, &trash))
}

func TestCheckRemoteItem(t *testing.T) {
	v := models.NewValidator()

	remote := models.RemoteItem{RemoteID: 102, Title: "Hello", Status: models.StatusPublished}
	assert.NoError(t, models.CheckItem(v, "102", &remote))

	remote.RemoteID = 0
	assert.Error(t, models.CheckItem(v, "0", &remote))
}
