package sos

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"EpiFind/internal/models"
	"EpiFind/internal/store"
	"EpiFind/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first failures Deletes, then behaves normally.
type flakyStore struct {
	store.Store
	failures int32
}

func (f *flakyStore) Delete(ctx context.Context, path string) error {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return fmt.Errorf("transient store error")
	}
	return f.Store.Delete(ctx, path)
}

func seedIncident(t *testing.T, st store.Store, dir *Directory) {
	t.Helper()
	ctx := context.Background()

	for _, p := range []models.UserProfile{
		{UserID: "alice", Name: "alice", Allergies: "peanuts", EpiPenExpiry: "31/12/2099",
			Latitude: originLat, Longitude: originLon, HasEpiPen: true, NeedsHelp: true},
		{UserID: "bob", Name: "bob", Allergies: "none", EpiPenExpiry: "31/12/2099",
			Latitude: nearLat, Longitude: originLon, HasEpiPen: true, ResponseStatus: models.StatusResponding},
		{UserID: "carol", Name: "carol", Allergies: "none", EpiPenExpiry: "31/12/2099",
			Latitude: nearLat, Longitude: originLon, HasEpiPen: true, ResponseStatus: models.StatusUnavailable},
		{UserID: "dave", Name: "dave", Allergies: "none", EpiPenExpiry: "31/12/2099",
			Latitude: farLat, Longitude: originLon, HasEpiPen: true, ResponseStatus: models.StatusResponding},
	} {
		require.NoError(t, dir.SaveProfile(ctx, p))
	}

	req := models.SOSRequest{Requester: "alice", Latitude: originLat, Longitude: originLon, Timestamp: 100, Active: true}
	for _, path := range []string{"sos_requests/alice", "latest_sos", "sos_notifications/bob", "sos_notifications/carol"} {
		_, err := st.Set(ctx, path, req)
		require.NoError(t, err)
	}
}

func TestResolveAllScopedToManifest(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	dir := NewDirectory(st, 0)
	seedIncident(t, st, dir)
	ctx := context.Background()

	res := NewResolution(st, dir, 2, time.Millisecond)
	require.NoError(t, res.ResolveAll(ctx, "alice", []string{"bob", "carol"}))

	for _, path := range []string{"sos_requests/alice", "latest_sos", "sos_notifications/bob", "sos_notifications/carol"} {
		ok, err := st.Get(ctx, path, nil)
		require.NoError(t, err)
		assert.False(t, ok, path)
	}

	alice, _, err := dir.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, alice.NeedsHelp)

	for _, id := range []string{"bob", "carol"} {
		p, _, err := dir.Profile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAvailable, p.ResponseStatus, id)
	}

	// dave was never part of this incident
	dave, _, err := dir.Profile(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResponding, dave.ResponseStatus)
}

func TestResolveAllGlobalFallback(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	dir := NewDirectory(st, 0)
	seedIncident(t, st, dir)
	ctx := context.Background()

	// nil manifest: the engine restarted and lost track of who was notified
	res := NewResolution(st, dir, 2, time.Millisecond)
	require.NoError(t, res.ResolveAll(ctx, "alice", nil))

	for _, id := range []string{"bob", "carol", "dave"} {
		p, _, err := dir.Profile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAvailable, p.ResponseStatus, id)
	}

	for _, path := range []string{"sos_notifications/bob", "sos_notifications/carol"} {
		ok, err := st.Get(ctx, path, nil)
		require.NoError(t, err)
		assert.False(t, ok, path)
	}
}

func TestResolveAllPreservesForeignLatest(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	dir := NewDirectory(st, 0)
	seedIncident(t, st, dir)
	ctx := context.Background()

	// someone else raised an alarm after alice did
	_, err := st.Set(ctx, "latest_sos", models.SOSRequest{Requester: "eve", Timestamp: 200, Active: true})
	require.NoError(t, err)

	res := NewResolution(st, dir, 2, time.Millisecond)
	require.NoError(t, res.ResolveAll(ctx, "alice", []string{"bob", "carol"}))

	var latest models.SOSRequest
	ok, err := st.Get(ctx, "latest_sos", &latest)
	require.NoError(t, err)
	require.True(t, ok, "another requester's slot must survive")
	assert.Equal(t, "eve", latest.Requester)
}

func TestResolveAllRetriesTransientFailures(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	st := &flakyStore{Store: mem, failures: 1}
	dir := NewDirectory(st, 0)
	seedIncident(t, mem, dir)
	ctx := context.Background()

	res := NewResolution(st, dir, 3, time.Millisecond)
	require.NoError(t, res.ResolveAll(ctx, "alice", []string{"bob", "carol"}))

	ok, err := mem.Get(ctx, "sos_requests/alice", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveAllReportsIncompleteCleanup(t *testing.T) {
	mem := store.NewMemoryStore()
	defer mem.Close()
	st := &flakyStore{Store: mem, failures: 1000} // never recovers
	dir := NewDirectory(st, 0)
	seedIncident(t, mem, dir)
	ctx := context.Background()

	res := NewResolution(st, dir, 2, time.Millisecond)
	err := res.ResolveAll(ctx, "alice", []string{"bob", "carol"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStoreWriteFailed))
	assert.True(t, strings.Contains(err.Error(), "cleanup incomplete"))

	// the non-Delete steps still converged
	alice, _, err2 := dir.Profile(ctx, "alice")
	require.NoError(t, err2)
	assert.False(t, alice.NeedsHelp, "cancellation itself must stick even when cleanup fails")
}
