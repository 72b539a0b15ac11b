package sos

import (
	"context"
	"testing"

	"EpiFind/internal/models"
	"EpiFind/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineReturnsSameLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Same(t, e.Lifecycle("alice"), e.Lifecycle("alice"))
	assert.NotSame(t, e.Lifecycle("alice"), e.Lifecycle("bob"))
}

func TestNearbyHelpersReadOnlyQuery(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	seedProfile(t, e, "bob", nearLat, originLon, true)
	seedProfile(t, e, "carol", farLat, originLon, true)

	helpers, err := e.NearbyHelpers(ctx, "alice", 0) // default radius
	require.NoError(t, err)
	require.Len(t, helpers, 1)
	assert.Equal(t, "bob", helpers[0].Profile.UserID)
	assert.Equal(t, models.StatusAvailable, helpers[0].Status)

	helpers, err = e.NearbyHelpers(ctx, "alice", 5000)
	require.NoError(t, err)
	assert.Len(t, helpers, 2)

	// the query must not have armed anything
	ok, err := st.Get(ctx, "sos_requests/alice", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateIdle, e.Lifecycle("alice").State())
}

func TestNearbyHelpersWithoutProfile(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.NearbyHelpers(context.Background(), "ghost", 2000)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotSignedIn))
}

func TestSweepOrphanedNotifications(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	seedProfile(t, e, "bob", nearLat, originLon, true)
	seedProfile(t, e, "carol", nearLat, originLon, true)

	require.NoError(t, e.Lifecycle("alice").Activate(ctx))

	// an entry whose request vanished without cleanup
	_, err := st.Set(ctx, "sos_notifications/carol", models.SOSRequest{Requester: "ghost", Active: true})
	require.NoError(t, err)

	require.NoError(t, e.SweepOrphanedNotifications(ctx))

	ok, err := st.Get(ctx, "sos_notifications/carol", nil)
	require.NoError(t, err)
	assert.False(t, ok, "orphan removed")

	ok, err = st.Get(ctx, "sos_notifications/bob", nil)
	require.NoError(t, err)
	assert.True(t, ok, "live entry kept")
}
