package sos

import (
	"context"
	"sync"

	"EpiFind/internal/models"
	"EpiFind/internal/store"
	"EpiFind/pkg/errors"
	"EpiFind/pkg/logger"
	"EpiFind/pkg/metrics"
	"EpiFind/pkg/util"

	"go.uber.org/zap"
)

// State is the coordination state of one user's request lifecycle.
type State int

const (
	StateIdle State = iota
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// LocationProvider yields the requester's current fix at activation time.
type LocationProvider interface {
	Location(ctx context.Context, userID string) (lat, lon float64, err error)
}

// directoryLocation falls back to the last fix written on the user's record.
type directoryLocation struct{ dir *Directory }

// NewDirectoryLocation returns a provider backed by the stored profile fix.
func NewDirectoryLocation(dir *Directory) LocationProvider {
	return directoryLocation{dir: dir}
}

func (l directoryLocation) Location(ctx context.Context, userID string) (float64, float64, error) {
	p, ok, err := l.dir.Profile(ctx, userID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "read location")
	}
	if !ok {
		return 0, 0, errors.WithCodef(errors.CodeNotSignedIn, "no record for %s", userID)
	}
	if p.Latitude == 0 && p.Longitude == 0 {
		return 0, 0, errors.WithCode(errors.CodeNoLocationFix, "no location fix available")
	}
	return p.Latitude, p.Longitude, nil
}

// Lifecycle drives one user's request through idle, activating and active.
// Activation is a multi-step write sequence; a failure part-way compensates
// back to idle so observers never see a half-armed request.
type Lifecycle struct {
	userID     string
	st         store.Store
	dir        *Directory
	fanout     *Fanout
	resolution *Resolution
	agg        *Aggregator
	loc        LocationProvider
	sink       Sink
	debouncer  *Debouncer

	minRadius float64
	maxRadius float64

	mu       sync.Mutex
	state    State
	resume   State // state to fall back to when a hold is released early
	radius   float64
	request  models.SOSRequest
	matched  []models.UserProfile
	statuses map[string]models.ResponseStatus

	// notified accumulates every helper fanned out for the current request,
	// radius changes included, so cancellation can clean entries of helpers
	// who have since dropped out of the match set.
	notified       map[string]bool
	cleanupPending bool
	stopWatch      context.CancelFunc
}

// LifecycleDeps bundles the collaborators shared by every per-user lifecycle.
type LifecycleDeps struct {
	Store      store.Store
	Directory  *Directory
	Fanout     *Fanout
	Resolution *Resolution
	Aggregator *Aggregator
	Location   LocationProvider
	Sink       Sink
	Debouncer  *Debouncer

	DefaultRadius float64
	MinRadius     float64
	MaxRadius     float64
}

func NewLifecycle(userID string, d LifecycleDeps) *Lifecycle {
	if d.Location == nil {
		d.Location = NewDirectoryLocation(d.Directory)
	}
	if d.Sink == nil {
		d.Sink = NopSink{}
	}
	return &Lifecycle{
		userID:     userID,
		st:         d.Store,
		dir:        d.Directory,
		fanout:     d.Fanout,
		resolution: d.Resolution,
		agg:        d.Aggregator,
		loc:        d.Location,
		sink:       d.Sink,
		debouncer:  d.Debouncer,
		minRadius:  d.MinRadius,
		maxRadius:  d.MaxRadius,
		radius:     d.DefaultRadius,
		statuses:   make(map[string]models.ResponseStatus),
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// BeginHold starts the press-and-hold cycle. The profile gate runs here, not
// at confirm time, so an incomplete profile is rejected before the user has
// held for the full delay. Holding while a request is already active starts
// a re-activation; the confirmed request simply overwrites the current one.
func (l *Lifecycle) BeginHold(ctx context.Context) error {
	complete, err := l.dir.ProfileComplete(ctx, l.userID)
	if err != nil {
		return errors.Wrap(err, "profile gate")
	}
	if !complete {
		return errors.WithCode(errors.CodeProfileIncomplete,
			"profile must include name, allergies and device expiry before activating")
	}

	l.mu.Lock()
	// A restart (hold while already Activating) keeps the original pre-hold
	// state; otherwise release could strand the machine in Activating.
	if l.state != StateActivating {
		l.resume = l.state
	}
	l.state = StateActivating
	l.mu.Unlock()

	l.debouncer.Begin(ActivationListener{
		OnStarted: func() {
			l.sink.SendToUser(l.userID, MsgVibrate, nil)
			util.Sig().Emit(models.SigActivationStarted, l.userID)
		},
		OnCancelled: func() {
			// A superseded cycle must not unwind the state the replacement
			// cycle still owns.
			if !l.debouncer.Pending() {
				l.mu.Lock()
				l.state = l.resume
				l.mu.Unlock()
			}
			l.sink.SendToUser(l.userID, MsgVibrateCancel, nil)
			util.Sig().Emit(models.SigActivationCancelled, l.userID)
			metrics.IncActivation("aborted")
		},
		OnConfirmed: func() {
			if err := l.Activate(context.Background()); err != nil {
				logger.Error("activation failed",
					zap.String("user", l.userID), zap.Error(err))
			}
		},
	})
	return nil
}

// ReleaseHold aborts a pending hold cycle. Releasing after the delay has
// elapsed (or with no cycle running) is a no-op.
func (l *Lifecycle) ReleaseHold() bool {
	return l.debouncer.Cancel()
}

// Activate runs the arming sequence: clear stale responses, write the request
// record, raise needsHelp, match, fan out. Any failure after the record is
// written unwinds the earlier writes before returning.
func (l *Lifecycle) Activate(ctx context.Context) error {
	lat, lon, err := l.loc.Location(ctx, l.userID)
	if err != nil {
		l.abort()
		metrics.IncActivation("no_location")
		return err
	}

	// responses from a previous incident must not satisfy this one
	if err := l.st.Delete(ctx, responsesPath(l.userID)); err != nil {
		l.abort()
		metrics.IncActivation("store_error")
		return errors.WrapCode(err, errors.CodeStoreWriteFailed, "clear previous responses")
	}

	ts, err := l.st.ServerTime(ctx)
	if err != nil {
		l.abort()
		metrics.IncActivation("store_error")
		return errors.WrapCode(err, errors.CodeStoreWriteFailed, "server time")
	}
	req := models.SOSRequest{
		Requester: l.userID,
		Latitude:  lat,
		Longitude: lon,
		Timestamp: ts,
		Active:    true,
	}
	if _, err := l.st.Set(ctx, requestPath(l.userID), req); err != nil {
		l.abort()
		metrics.IncActivation("store_error")
		return errors.WrapCode(err, errors.CodeStoreWriteFailed, "write request record")
	}
	if err := l.dir.SetNeedsHelp(ctx, l.userID, true); err != nil {
		l.compensate(ctx, false)
		metrics.IncActivation("store_error")
		return errors.Wrap(err, "raise needsHelp")
	}

	matched, err := l.match(ctx, lat, lon)
	if err != nil {
		l.compensate(ctx, true)
		metrics.IncActivation("store_error")
		return err
	}
	if err := l.fanout.Publish(ctx, req, matched); err != nil {
		l.compensate(ctx, true)
		metrics.IncActivation("store_error")
		return errors.Wrap(err, "fan out")
	}

	watchCtx, stop := context.WithCancel(context.Background())

	l.mu.Lock()
	if l.stopWatch != nil {
		l.stopWatch()
	}
	l.state = StateActive
	l.request = req
	l.matched = matched
	l.statuses = make(map[string]models.ResponseStatus)
	if l.notified == nil {
		l.notified = make(map[string]bool, len(matched))
	}
	for _, m := range matched {
		l.notified[m.UserID] = true
	}
	l.cleanupPending = false
	l.stopWatch = stop
	l.mu.Unlock()

	if err := l.agg.WatchResponses(watchCtx, l.userID, req.Timestamp, l.onStatus); err != nil {
		logger.Warn("response watch unavailable", zap.String("user", l.userID), zap.Error(err))
	}

	metrics.IncActivation("ok")
	util.Sig().Emit(models.SigActivationConfirmed, &req)
	l.pushMatchSet()

	logger.Info("request activated",
		zap.String("user", l.userID),
		zap.Int64("ts", ts),
		zap.Float64("radius_m", l.Radius()),
		zap.Int("matched", len(matched)))
	return nil
}

// Cancel resolves the active request. Cancelling from idle is a no-op unless
// an earlier cancellation left cleanup incomplete, in which case the sweep is
// re-run. A cleanup error is reported to the caller but never re-arms the
// request.
func (l *Lifecycle) Cancel(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case StateIdle:
		retry := l.cleanupPending
		l.mu.Unlock()
		if !retry {
			return nil
		}
		// manifest is gone; the global sweep covers whatever the failed
		// pass left behind
		if err := l.resolution.ResolveAll(ctx, l.userID, nil); err != nil {
			metrics.IncCancellation("cleanup_incomplete")
			util.Sig().Emit(models.SigRequestCancelFailed, l.userID, err)
			return err
		}
		l.mu.Lock()
		l.cleanupPending = false
		l.mu.Unlock()
		metrics.IncCancellation("ok")
		util.Sig().Emit(models.SigRequestResolved, l.userID)
		return nil
	case StateActivating:
		l.mu.Unlock()
		l.ReleaseHold()
		return nil
	}
	if l.stopWatch != nil {
		l.stopWatch()
		l.stopWatch = nil
	}
	matchedIDs := make([]string, 0, len(l.notified))
	for id := range l.notified {
		matchedIDs = append(matchedIDs, id)
	}
	l.state = StateIdle
	l.matched = nil
	l.notified = nil
	l.statuses = make(map[string]models.ResponseStatus)
	l.mu.Unlock()

	if err := l.resolution.ResolveAll(ctx, l.userID, matchedIDs); err != nil {
		l.mu.Lock()
		l.cleanupPending = true
		l.mu.Unlock()
		metrics.IncCancellation("cleanup_incomplete")
		util.Sig().Emit(models.SigRequestCancelFailed, l.userID, err)
		return err
	}

	metrics.IncCancellation("ok")
	util.Sig().Emit(models.SigRequestResolved, l.userID)
	l.sink.SendToUser(l.userID, MsgRequestResolved, nil)
	for _, id := range matchedIDs {
		l.sink.SendToUser(id, MsgRequestResolved, map[string]string{"requester": l.userID})
	}
	logger.Info("request resolved", zap.String("user", l.userID))
	return nil
}

// SetRadius updates the search radius, clamped to the configured bounds.
// While a request is active the match set is recomputed and newly matched
// helpers are notified immediately.
func (l *Lifecycle) SetRadius(ctx context.Context, meters float64) error {
	if meters < l.minRadius {
		meters = l.minRadius
	}
	if meters > l.maxRadius {
		meters = l.maxRadius
	}

	l.mu.Lock()
	l.radius = meters
	active := l.state == StateActive
	req := l.request
	l.mu.Unlock()

	if !active {
		return nil
	}
	matched, err := l.match(ctx, req.Latitude, req.Longitude)
	if err != nil {
		return err
	}
	if err := l.fanout.Publish(ctx, req, matched); err != nil {
		return errors.Wrap(err, "republish after radius change")
	}

	l.mu.Lock()
	if l.notified == nil {
		l.notified = make(map[string]bool)
	}
	inSet := make(map[string]bool, len(matched))
	for _, m := range matched {
		inSet[m.UserID] = true
		l.notified[m.UserID] = true
	}
	var dropped []string
	for _, m := range l.matched {
		if !inSet[m.UserID] {
			dropped = append(dropped, m.UserID)
		}
	}
	l.matched = matched
	l.mu.Unlock()

	// helpers who fell out of the shrunken radius no longer have a live
	// match; withdraw their inbox entries now rather than at cancellation
	for _, id := range dropped {
		if err := l.st.Delete(ctx, notificationPath(id)); err != nil {
			logger.Warn("withdraw notification after radius change",
				zap.String("helper", id), zap.Error(err))
		}
	}
	l.pushMatchSet()
	return nil
}

// Radius returns the current search radius in meters.
func (l *Lifecycle) Radius() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.radius
}

// View returns the tagged presence of this user's request record.
func (l *Lifecycle) View(ctx context.Context) (models.RequestView, error) {
	var req models.SOSRequest
	ok, err := l.st.Get(ctx, requestPath(l.userID), &req)
	if err != nil {
		return models.NoRequest(), errors.Wrap(err, "read request record")
	}
	if !ok {
		return models.NoRequest(), nil
	}
	return models.ActiveRequest(req), nil
}

// MatchSet returns the requester's live view: every matched helper with
// their current status and distance from the request origin.
func (l *Lifecycle) MatchSet() []models.HelperStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.HelperStatus, 0, len(l.matched))
	for _, m := range l.matched {
		status, ok := l.statuses[m.UserID]
		if !ok {
			status = models.StatusAvailable
		}
		out = append(out, models.HelperStatus{
			Profile:  m,
			Status:   status,
			Distance: Distance(l.request.Latitude, l.request.Longitude, m.Latitude, m.Longitude),
		})
	}
	return out
}

func (l *Lifecycle) match(ctx context.Context, lat, lon float64) ([]models.UserProfile, error) {
	profiles, err := l.dir.AllProfiles(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load directory")
	}
	return FindNearby(lat, lon, l.Radius(), profiles, l.userID), nil
}

// onStatus folds one helper update into the live view.
func (l *Lifecycle) onStatus(u StatusUpdate) {
	l.mu.Lock()
	if l.state != StateActive {
		l.mu.Unlock()
		return
	}
	l.statuses[u.HelperID] = u.Status
	l.mu.Unlock()

	util.Sig().Emit(models.SigHelperStatusChanged, l.userID, u.HelperID, u.Status)
	l.sink.SendToUser(l.userID, MsgHelperStatus, map[string]interface{}{
		"helper": u.HelperID,
		"status": u.Status,
	})
	l.pushMatchSet()
}

func (l *Lifecycle) pushMatchSet() {
	set := l.MatchSet()
	util.Sig().Emit(models.SigMatchSetUpdated, l.userID, set)
	l.sink.SendToUser(l.userID, MsgMatchSetUpdated, set)
}

// abort returns to the pre-activation state without store writes.
func (l *Lifecycle) abort() {
	l.mu.Lock()
	l.state = l.resume
	l.mu.Unlock()
}

// compensate unwinds a partially armed activation: the request record is
// removed and, when raised, the needsHelp flag is lowered. Unwind failures
// are logged; the store converges on the next activation or cancel.
func (l *Lifecycle) compensate(ctx context.Context, needsHelpRaised bool) {
	if needsHelpRaised {
		if err := l.dir.SetNeedsHelp(ctx, l.userID, false); err != nil {
			logger.Warn("compensation: lower needsHelp", zap.String("user", l.userID), zap.Error(err))
		}
	}
	if err := l.st.Delete(ctx, requestPath(l.userID)); err != nil {
		logger.Warn("compensation: delete request record", zap.String("user", l.userID), zap.Error(err))
	}
	l.abort()
}
