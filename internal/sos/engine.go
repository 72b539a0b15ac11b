package sos

import (
	"context"
	"encoding/json"
	"sync"

	"EpiFind/internal/models"
	"EpiFind/internal/store"
	"EpiFind/pkg/config"
	"EpiFind/pkg/logger"
	"EpiFind/pkg/notification"

	"go.uber.org/zap"
)

// Engine is the coordination entry point. It owns one Lifecycle per user,
// the shared collaborators behind them, and the ambient latest-request
// listener that wakes every connected client when anyone raises an alarm.
type Engine struct {
	cfg        config.SOSConfig
	st         store.Store
	dir        *Directory
	fanout     *Fanout
	resolution *Resolution
	agg        *Aggregator
	sink       Sink
	loc        LocationProvider
	localFor   func(userID string) notification.LocalChannel

	mu         sync.Mutex
	lifecycles map[string]*Lifecycle
	stopAmb    context.CancelFunc
}

// EngineOption overrides a default collaborator.
type EngineOption func(*Engine)

// WithSink routes realtime messages through the given sink.
func WithSink(s Sink) EngineOption { return func(e *Engine) { e.sink = s } }

// WithLocationProvider overrides the stored-fix location source.
func WithLocationProvider(l LocationProvider) EngineOption {
	return func(e *Engine) { e.loc = l }
}

// WithLocalChannels sets the factory for per-user haptic channels used
// during hold cycles.
func WithLocalChannels(f func(userID string) notification.LocalChannel) EngineOption {
	return func(e *Engine) { e.localFor = f }
}

func NewEngine(cfg config.SOSConfig, st store.Store, pusher *notification.Pusher, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:        cfg,
		st:         st,
		sink:       NopSink{},
		localFor:   func(string) notification.LocalChannel { return notification.NopLocal{} },
		lifecycles: make(map[string]*Lifecycle),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dir = NewDirectory(st, cfg.SnapshotTTL)
	e.fanout = NewFanout(st, e.sink, pusher)
	e.resolution = NewResolution(st, e.dir, cfg.CleanupRetries, cfg.CleanupBackoff)
	e.agg = NewAggregator(st, e.dir)
	if e.loc == nil {
		e.loc = NewDirectoryLocation(e.dir)
	}
	return e
}

// Directory exposes the user record layer.
func (e *Engine) Directory() *Directory { return e.dir }

// Aggregator exposes the helper response layer.
func (e *Engine) Aggregator() *Aggregator { return e.agg }

// Lifecycle returns the per-user lifecycle, creating it on first use.
func (e *Engine) Lifecycle(userID string) *Lifecycle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if lc, ok := e.lifecycles[userID]; ok {
		return lc
	}
	lc := NewLifecycle(userID, LifecycleDeps{
		Store:         e.st,
		Directory:     e.dir,
		Fanout:        e.fanout,
		Resolution:    e.resolution,
		Aggregator:    e.agg,
		Location:      e.loc,
		Sink:          e.sink,
		Debouncer:     NewDebouncer(e.cfg.HoldDuration, e.cfg.HapticInterval, e.localFor(userID)),
		DefaultRadius: e.cfg.DefaultRadiusMeters,
		MinRadius:     e.cfg.MinRadiusMeters,
		MaxRadius:     e.cfg.MaxRadiusMeters,
	})
	e.lifecycles[userID] = lc
	return lc
}

// Start begins the ambient latest-request watch. The slot replays its
// current value on subscribe, so a request raised before startup is still
// surfaced.
func (e *Engine) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	events, err := e.st.Watch(ctx, pathLatest)
	if err != nil {
		cancel()
		return err
	}
	e.mu.Lock()
	e.stopAmb = cancel
	e.mu.Unlock()

	go func() {
		for ev := range events {
			if ev.Type != store.EventPut {
				continue
			}
			var req models.SOSRequest
			if err := json.Unmarshal(ev.Value, &req); err != nil || !req.Active {
				continue
			}
			// matched helpers already got a directed alert; this is the
			// ambient banner for everyone else
			e.sink.Broadcast(MsgLocalNotice, map[string]interface{}{
				"title":     "SOS nearby",
				"body":      "Someone nearby may need emergency assistance",
				"requester": req.Requester,
			})
			logger.Debug("latest slot updated", zap.String("requester", req.Requester))
		}
	}()
	return nil
}

// Stop halts the ambient watch and every per-user response watch.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopAmb != nil {
		e.stopAmb()
		e.stopAmb = nil
	}
	lcs := make([]*Lifecycle, 0, len(e.lifecycles))
	for _, lc := range e.lifecycles {
		lcs = append(lcs, lc)
	}
	e.mu.Unlock()

	for _, lc := range lcs {
		lc.mu.Lock()
		if lc.stopWatch != nil {
			lc.stopWatch()
			lc.stopWatch = nil
		}
		lc.mu.Unlock()
	}
}

// NearbyHelpers answers the read-only proximity query at an arbitrary
// radius, without touching any lifecycle.
func (e *Engine) NearbyHelpers(ctx context.Context, userID string, radiusMeters float64) ([]models.HelperStatus, error) {
	lat, lon, err := e.loc.Location(ctx, userID)
	if err != nil {
		return nil, err
	}
	if radiusMeters <= 0 {
		radiusMeters = e.cfg.DefaultRadiusMeters
	}
	profiles, err := e.dir.AllProfiles(ctx)
	if err != nil {
		return nil, err
	}
	matched := FindNearby(lat, lon, radiusMeters, profiles, userID)
	out := make([]models.HelperStatus, 0, len(matched))
	for _, m := range matched {
		status := m.ResponseStatus
		if status == "" {
			status = models.StatusAvailable
		}
		out = append(out, models.HelperStatus{
			Profile:  m,
			Status:   status,
			Distance: Distance(lat, lon, m.Latitude, m.Longitude),
		})
	}
	return out, nil
}

// SweepOrphanedNotifications removes inbox entries whose request record no
// longer exists, catching entries a failed cleanup left behind.
func (e *Engine) SweepOrphanedNotifications(ctx context.Context) error {
	entries, err := e.st.Children(ctx, pathNotifications)
	if err != nil {
		return err
	}
	for helperID, raw := range entries {
		var req models.SOSRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		var live models.SOSRequest
		ok, err := e.st.Get(ctx, requestPath(req.Requester), &live)
		if err != nil {
			return err
		}
		if !ok {
			if err := e.st.Delete(ctx, notificationPath(helperID)); err != nil {
				return err
			}
			logger.Info("removed orphaned notification",
				zap.String("helper", helperID), zap.String("requester", req.Requester))
		}
	}
	return nil
}
