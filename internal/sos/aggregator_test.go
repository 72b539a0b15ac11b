package sos

import (
	"context"
	"testing"
	"time"

	"EpiFind/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondRecordsAnswerAndClearsInbox(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	seedProfile(t, e, "bob", nearLat, originLon, true)
	require.NoError(t, e.Lifecycle("alice").Activate(ctx))

	var req models.SOSRequest
	_, err := st.Get(ctx, "sos_requests/alice", &req)
	require.NoError(t, err)

	hint, err := e.Aggregator().Respond(ctx, "bob", "alice", true)
	require.NoError(t, err)
	require.NotNil(t, hint, "a yes answer returns where to go")
	assert.Equal(t, req.Latitude, hint.Latitude)
	assert.Equal(t, req.Longitude, hint.Longitude)

	var resp models.SOSResponse
	ok, err := st.Get(ctx, "sos_responses/alice/bob", &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, resp.CanHelp)
	assert.Greater(t, resp.Timestamp, req.Timestamp)

	// the inbox entry is consumed
	ok, err = st.Get(ctx, "sos_notifications/bob", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	bob, _, err := e.Directory().Profile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, bob.ResponseStatus)
}

func TestRespondCannotHelpReturnsNoHint(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	seedProfile(t, e, "bob", nearLat, originLon, true)
	require.NoError(t, e.Lifecycle("alice").Activate(ctx))

	hint, err := e.Aggregator().Respond(ctx, "bob", "alice", false)
	require.NoError(t, err)
	assert.Nil(t, hint)

	var resp models.SOSResponse
	ok, err := st.Get(ctx, "sos_responses/alice/bob", &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, resp.CanHelp)
}

func TestRespondAfterResolutionStillRecords(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	seedProfile(t, e, "alice", originLat, originLon, true)
	seedProfile(t, e, "bob", nearLat, originLon, true)

	// no request record exists
	hint, err := e.Aggregator().Respond(ctx, "bob", "alice", true)
	require.NoError(t, err)
	assert.Nil(t, hint, "no destination without a live request")

	ok, err := st.Get(ctx, "sos_responses/alice/bob", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWatchResponsesDiscardsStale(t *testing.T) {
	e, st := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	createdAt, err := st.ServerTime(ctx)
	require.NoError(t, err)

	// an answer from before this request existed
	_, err = st.Set(ctx, "sos_responses/alice/bob", models.SOSResponse{CanHelp: true, Timestamp: createdAt - 10})
	require.NoError(t, err)

	updates := make(chan StatusUpdate, 8)
	require.NoError(t, e.Aggregator().WatchResponses(ctx, "alice", createdAt, func(u StatusUpdate) {
		updates <- u
	}))

	// fresh answers land after the request timestamp
	_, err = st.Set(ctx, "sos_responses/alice/carol", models.SOSResponse{CanHelp: true, Timestamp: createdAt + 5})
	require.NoError(t, err)

	select {
	case u := <-updates:
		assert.Equal(t, "carol", u.HelperID)
		assert.Equal(t, models.StatusResponding, u.Status)
	case <-time.After(time.Second):
		t.Fatal("fresh response never surfaced")
	}

	select {
	case u := <-updates:
		t.Fatalf("stale response surfaced: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchResponsesChangeOfMind(t *testing.T) {
	e, st := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	createdAt, err := st.ServerTime(ctx)
	require.NoError(t, err)

	updates := make(chan StatusUpdate, 8)
	require.NoError(t, e.Aggregator().WatchResponses(ctx, "alice", createdAt, func(u StatusUpdate) {
		updates <- u
	}))

	_, err = st.Set(ctx, "sos_responses/alice/bob", models.SOSResponse{CanHelp: false, Timestamp: createdAt + 1})
	require.NoError(t, err)
	_, err = st.Set(ctx, "sos_responses/alice/bob", models.SOSResponse{CanHelp: true, Timestamp: createdAt + 2})
	require.NoError(t, err)

	first := recvUpdate(t, updates)
	assert.Equal(t, models.StatusUnavailable, first.Status)
	second := recvUpdate(t, updates)
	assert.Equal(t, models.StatusResponding, second.Status, "the later answer wins")
}

func recvUpdate(t *testing.T, ch <-chan StatusUpdate) StatusUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status update")
		return StatusUpdate{}
	}
}
