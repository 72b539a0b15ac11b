package sos

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"EpiFind/internal/models"
	"EpiFind/internal/store"
	"EpiFind/pkg/config"
	"EpiFind/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	cfg := config.SOSConfig{
		HoldDuration:        10 * time.Millisecond,
		HapticInterval:      5 * time.Millisecond,
		DefaultRadiusMeters: 2000,
		MinRadiusMeters:     1000,
		MaxRadiusMeters:     10000,
		SnapshotTTL:         0, // no snapshot caching in tests
		CleanupRetries:      2,
		CleanupBackoff:      time.Millisecond,
		ExpiryWarnDays:      30,
	}
	return NewEngine(cfg, st, nil), st
}

func seedProfile(t *testing.T, e *Engine, id string, lat, lon float64, hasPen bool) {
	t.Helper()
	err := e.Directory().SaveProfile(context.Background(), models.UserProfile{
		UserID:       id,
		Name:         id,
		Allergies:    "peanuts",
		EpiPenExpiry: "31/12/2099",
		Latitude:     lat,
		Longitude:    lon,
		HasEpiPen:    hasPen,
	})
	require.NoError(t, err)
}

func TestActivateNotifiesNearbyHelpers(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	seedProfile(t, e, "bob", nearLat, originLon, true)
	seedProfile(t, e, "carol", farLat, originLon, true)
	seedProfile(t, e, "dave", nearLat, originLon, false)

	lc := e.Lifecycle("alice")
	require.NoError(t, lc.Activate(ctx))
	assert.Equal(t, StateActive, lc.State())

	var req models.SOSRequest
	ok, err := st.Get(ctx, "sos_requests/alice", &req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, req.Active)
	assert.Equal(t, "alice", req.Requester)
	assert.Positive(t, req.Timestamp)

	// only the in-range device carrier gets an inbox entry
	ok, err = st.Get(ctx, "sos_notifications/bob", &models.SOSRequest{})
	require.NoError(t, err)
	assert.True(t, ok)
	for _, id := range []string{"carol", "dave"} {
		ok, err = st.Get(ctx, "sos_notifications/"+id, nil)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}

	var latest models.SOSRequest
	ok, err = st.Get(ctx, "latest_sos", &latest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", latest.Requester)

	p, _, err := e.Directory().Profile(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, p.NeedsHelp)

	set := lc.MatchSet()
	require.Len(t, set, 1)
	assert.Equal(t, "bob", set[0].Profile.UserID)
	assert.Equal(t, models.StatusAvailable, set[0].Status)
	assert.InDelta(t, 500, set[0].Distance, 30)
}

func TestActivateWithoutLocationFixRollsBack(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", 0, 0, true)

	lc := e.Lifecycle("alice")
	err := lc.Activate(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNoLocationFix))
	assert.Equal(t, StateIdle, lc.State())

	ok, err := st.Get(ctx, "sos_requests/alice", nil)
	require.NoError(t, err)
	assert.False(t, ok, "no request record may exist after a failed activation")
}

func TestActivateClearsPreviousResponses(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	seedProfile(t, e, "bob", nearLat, originLon, true)

	// leftover answer from an earlier incident
	_, err := st.Set(ctx, "sos_responses/alice/bob", models.SOSResponse{CanHelp: true, Timestamp: 1})
	require.NoError(t, err)

	lc := e.Lifecycle("alice")
	require.NoError(t, lc.Activate(ctx))

	children, err := st.Children(ctx, "sos_responses/alice")
	require.NoError(t, err)
	assert.Empty(t, children, "stale responses must be cleared before arming")
}

func TestReactivationOverwritesRequest(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)

	lc := e.Lifecycle("alice")
	require.NoError(t, lc.Activate(ctx))
	var first models.SOSRequest
	_, err := st.Get(ctx, "sos_requests/alice", &first)
	require.NoError(t, err)

	require.NoError(t, lc.Activate(ctx))
	var second models.SOSRequest
	_, err = st.Get(ctx, "sos_requests/alice", &second)
	require.NoError(t, err)
	assert.Greater(t, second.Timestamp, first.Timestamp)

	children, err := st.Children(ctx, "sos_requests")
	require.NoError(t, err)
	assert.Len(t, children, 1, "at most one request record per requester")
}

func TestCancelCleansUpEverything(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	seedProfile(t, e, "bob", nearLat, originLon, true)

	lc := e.Lifecycle("alice")
	require.NoError(t, lc.Activate(ctx))

	// bob answered in the meantime
	require.NoError(t, e.Directory().SetResponseStatus(ctx, "bob", models.StatusResponding))

	require.NoError(t, lc.Cancel(ctx))
	assert.Equal(t, StateIdle, lc.State())

	for _, path := range []string{"sos_requests/alice", "sos_notifications/bob", "latest_sos"} {
		ok, err := st.Get(ctx, path, nil)
		require.NoError(t, err)
		assert.False(t, ok, path)
	}

	alice, _, err := e.Directory().Profile(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, alice.NeedsHelp)

	bob, _, err := e.Directory().Profile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, bob.ResponseStatus)
}

func TestCancelIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	lc := e.Lifecycle("alice")

	require.NoError(t, lc.Cancel(ctx), "cancel from idle is a no-op")

	require.NoError(t, lc.Activate(ctx))
	require.NoError(t, lc.Cancel(ctx))
	require.NoError(t, lc.Cancel(ctx), "second cancel must succeed")
}

func TestHoldReleaseAborts(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)

	lc := e.Lifecycle("alice")
	require.NoError(t, lc.BeginHold(ctx))
	assert.Equal(t, StateActivating, lc.State())
	assert.True(t, lc.ReleaseHold())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateIdle, lc.State())
	ok, err := st.Get(ctx, "sos_requests/alice", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHoldConfirmsActivation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)

	lc := e.Lifecycle("alice")
	require.NoError(t, lc.BeginHold(ctx))

	require.Eventually(t, func() bool {
		return lc.State() == StateActive
	}, time.Second, 10*time.Millisecond, "hold must confirm after the delay")
}

func TestBeginHoldRequiresCompleteProfile(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// no allergies recorded
	require.NoError(t, e.Directory().SaveProfile(ctx, models.UserProfile{
		UserID: "alice", Name: "alice", EpiPenExpiry: "31/12/2099",
		Latitude: originLat, Longitude: originLon, HasEpiPen: true,
	}))

	lc := e.Lifecycle("alice")
	err := lc.BeginHold(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeProfileIncomplete))
	assert.Equal(t, StateIdle, lc.State())
}

func TestSetRadiusClampsAndRematches(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	seedProfile(t, e, "bob", nearLat, originLon, true)
	seedProfile(t, e, "carol", farLat, originLon, true)

	lc := e.Lifecycle("alice")
	require.NoError(t, lc.Activate(ctx))
	assert.Len(t, lc.MatchSet(), 1)

	require.NoError(t, lc.SetRadius(ctx, 5000))
	assert.Equal(t, float64(5000), lc.Radius())
	assert.Len(t, lc.MatchSet(), 2)

	// the far helper now holds an inbox entry too
	ok, err := st.Get(ctx, "sos_notifications/carol", nil)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lc.SetRadius(ctx, 100))
	assert.Equal(t, float64(1000), lc.Radius(), "radius clamps to the minimum")

	require.NoError(t, lc.SetRadius(ctx, 50000))
	assert.Equal(t, float64(10000), lc.Radius(), "radius clamps to the maximum")
}

func TestHoldRestartThenReleaseReturnsIdle(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)

	lc := e.Lifecycle("alice")
	require.NoError(t, lc.BeginHold(ctx))
	require.NoError(t, lc.BeginHold(ctx), "holding again restarts the cycle")
	assert.Equal(t, StateActivating, lc.State(), "restart keeps the hold pending")

	assert.True(t, lc.ReleaseHold())
	assert.Equal(t, StateIdle, lc.State(), "release after a restart must land back in idle")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateIdle, lc.State())
	ok, err := st.Get(ctx, "sos_requests/alice", nil)
	require.NoError(t, err)
	assert.False(t, ok, "neither cycle may confirm")
}

func TestRadiusShrinkWithdrawsDroppedHelper(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	seedProfile(t, e, "bob", nearLat, originLon, true)
	seedProfile(t, e, "carol", farLat, originLon, true)

	lc := e.Lifecycle("alice")
	require.NoError(t, lc.Activate(ctx))
	require.NoError(t, lc.SetRadius(ctx, 5000))
	assert.Len(t, lc.MatchSet(), 2)

	// carol saw the alert and declined, then the requester narrows the search
	require.NoError(t, e.Directory().SetResponseStatus(ctx, "carol", models.StatusUnavailable))
	require.NoError(t, lc.SetRadius(ctx, 1000))
	assert.Len(t, lc.MatchSet(), 1)

	ok, err := st.Get(ctx, "sos_notifications/carol", nil)
	require.NoError(t, err)
	assert.False(t, ok, "a dropped helper's inbox entry is withdrawn immediately")

	require.NoError(t, lc.Cancel(ctx))
	carol, _, err := e.Directory().Profile(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, carol.ResponseStatus,
		"cancellation resets every helper notified before the shrink")
}

func TestCancelFromIdleRetriesIncompleteCleanup(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	fs := &flakyStore{Store: mem}

	e := NewEngine(config.SOSConfig{
		HoldDuration:        10 * time.Millisecond,
		HapticInterval:      5 * time.Millisecond,
		DefaultRadiusMeters: 2000,
		MinRadiusMeters:     1000,
		MaxRadiusMeters:     10000,
		CleanupRetries:      2,
		CleanupBackoff:      time.Millisecond,
		ExpiryWarnDays:      30,
	}, fs, nil)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	seedProfile(t, e, "bob", nearLat, originLon, true)

	lc := e.Lifecycle("alice")
	require.NoError(t, lc.Activate(ctx))
	require.NoError(t, e.Directory().SetResponseStatus(ctx, "bob", models.StatusResponding))

	atomic.StoreInt32(&fs.failures, 1<<20)
	err := lc.Cancel(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStoreWriteFailed))
	assert.Equal(t, StateIdle, lc.State(), "a cleanup failure never re-arms the request")

	ok, err := mem.Get(ctx, "sos_requests/alice", nil)
	require.NoError(t, err)
	require.True(t, ok, "the failed pass left the record behind")

	// store recovered; another cancel tap must re-run the sweep
	atomic.StoreInt32(&fs.failures, 0)
	require.NoError(t, lc.Cancel(ctx))

	for _, path := range []string{"sos_requests/alice", "sos_notifications/bob", "latest_sos"} {
		ok, err := mem.Get(ctx, path, nil)
		require.NoError(t, err)
		assert.False(t, ok, path)
	}
	bob, _, err := e.Directory().Profile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, bob.ResponseStatus)
}
