package sos

import (
	"context"

	"EpiFind/internal/models"
	"EpiFind/internal/store"
	"EpiFind/pkg/errors"
	"EpiFind/pkg/logger"
	"EpiFind/pkg/metrics"
	"EpiFind/pkg/notification"

	"go.uber.org/zap"
)

// Realtime message types pushed to clients.
const (
	MsgSOSAlert        = "sos_alert"
	MsgMatchSetUpdated = "match_set"
	MsgHelperStatus    = "helper_status"
	MsgRequestResolved = "request_resolved"
	MsgNavigationHint  = "navigation_hint"
	MsgVibrate         = "vibrate"
	MsgVibrateCancel   = "vibrate_cancel"
	MsgLocalNotice     = "local_notification"
)

// Sink delivers realtime payloads to connected clients. The websocket hub
// implements it; tests use NopSink.
type Sink interface {
	SendToUser(userID, msgType string, data interface{})
	Broadcast(msgType string, data interface{})
}

// NopSink drops everything.
type NopSink struct{}

func (NopSink) SendToUser(string, string, interface{}) {}
func (NopSink) Broadcast(string, interface{})          {}

// Fanout copies an active request into every matched helper's inbox slot and
// the shared latest-request slot, then triggers delivery. Best-effort
// broadcast: offline helpers pick the durable entry up on reconnect; there is
// no delivery acknowledgment at this layer.
type Fanout struct {
	st     store.Store
	sink   Sink
	pusher *notification.Pusher
}

func NewFanout(st store.Store, sink Sink, pusher *notification.Pusher) *Fanout {
	if sink == nil {
		sink = NopSink{}
	}
	return &Fanout{st: st, sink: sink, pusher: pusher}
}

// Publish writes one NotificationEntry per helper (overwriting any previous
// entry, so republishing on reconnect never duplicates) plus the latest_sos
// slot, and pushes a wake-up to each helper.
func (f *Fanout) Publish(ctx context.Context, req models.SOSRequest, helpers []models.UserProfile) error {
	aliases := make([]string, 0, len(helpers))
	for _, h := range helpers {
		if h.UserID == req.Requester {
			continue
		}
		if _, err := f.st.Set(ctx, notificationPath(h.UserID), req); err != nil {
			return errors.WrapCode(err, errors.CodeStoreWriteFailed, "write helper inbox").
				WithContext("helper", h.UserID)
		}
		f.sink.SendToUser(h.UserID, MsgSOSAlert, req)
		aliases = append(aliases, h.UserID)

		logger.Debug("notified helper",
			zap.String("helper", h.UserID),
			zap.Float64("distance_m", Distance(req.Latitude, req.Longitude, h.Latitude, h.Longitude)))
	}

	if _, err := f.st.Set(ctx, pathLatest, req); err != nil {
		return errors.WrapCode(err, errors.CodeStoreWriteFailed, "write latest_sos slot")
	}
	metrics.ObserveFanout(len(aliases))

	if len(aliases) > 0 && f.pusher != nil {
		extras := map[string]interface{}{
			"requester": req.Requester,
			"latitude":  req.Latitude,
			"longitude": req.Longitude,
		}
		if err := f.pusher.PushToAlias(ctx, aliases, "EpiFind SOS", "Someone nearby needs help", extras); err != nil && err != notification.ErrNoPushClient {
			// delivery has no acknowledgment here; the inbox entry is the durable copy
			logger.Warn("push delivery failed", zap.Error(err))
		}
	}
	return nil
}
