package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessLog_RecordAndRecent(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, db.RecordAccess(AccessEvent{
		DeviceID: "d1", Cedula: "1", Nombres: "One", Method: MethodFacial, Status: "authenticated", Time: base,
	}))
	require.NoError(t, db.RecordAccess(AccessEvent{
		DeviceID: "d1", Method: MethodFingerprint, Status: "denied_unknown", Time: base.Add(time.Minute),
	}))

	events, err := db.RecentAccess(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "denied_unknown", events[0].Status)
	assert.Empty(t, events[0].Cedula)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, MethodFingerprint, events[0].Method)

	assert.Equal(t, "One", events[1].Nombres)
	assert.True(t, events[1].Time.Equal(base))

	limited, err := db.RecentAccess(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAccessLog_RejectsUnknownMethod(t *testing.T) {
	db := setupTestDB(t)
	err := db.RecordAccess(AccessEvent{DeviceID: "d1", Method: "iris", Status: "authenticated"})
	assert.Error(t, err)
}
