package sos

import (
	"context"
	"encoding/json"

	"EpiFind/internal/models"
	"EpiFind/internal/store"
	"EpiFind/pkg/errors"
	"EpiFind/pkg/logger"
	"EpiFind/pkg/metrics"
	"EpiFind/pkg/util"

	"go.uber.org/zap"
)

// Aggregator collects helper responses for an active request and records the
// helper side of the exchange. A response either bumps the helper to
// Responding or marks them Unavailable; responses stamped at or before the
// request's creation belong to an earlier incident and are discarded.
type Aggregator struct {
	st  store.Store
	dir *Directory
}

func NewAggregator(st store.Store, dir *Directory) *Aggregator {
	return &Aggregator{st: st, dir: dir}
}

// StatusUpdate is delivered to the requester's view whenever a helper's
// effective status changes.
type StatusUpdate struct {
	HelperID string
	Status   models.ResponseStatus
	CanHelp  bool
}

// WatchResponses streams per-helper status updates for the request created at
// createdAt until ctx is cancelled. Re-responses from the same helper simply
// overwrite: the latest write wins.
func (a *Aggregator) WatchResponses(ctx context.Context, requesterID string, createdAt int64, onStatus func(StatusUpdate)) error {
	events, err := a.st.WatchChildren(ctx, responsesPath(requesterID))
	if err != nil {
		return errors.Wrap(err, "watch responses")
	}
	go func() {
		for ev := range events {
			if ev.Type == store.ChildRemoved {
				continue
			}
			var resp models.SOSResponse
			if err := json.Unmarshal(ev.Value, &resp); err != nil {
				logger.Warn("malformed response record",
					zap.String("requester", requesterID), zap.String("helper", ev.Key), zap.Error(err))
				continue
			}
			if resp.Timestamp <= createdAt {
				metrics.IncStaleResponse()
				logger.Debug("discarding stale response",
					zap.String("helper", ev.Key),
					zap.Int64("responseTs", resp.Timestamp),
					zap.Int64("requestTs", createdAt))
				continue
			}
			status := models.StatusUnavailable
			if resp.CanHelp {
				status = models.StatusResponding
			}
			onStatus(StatusUpdate{HelperID: ev.Key, Status: status, CanHelp: resp.CanHelp})
		}
	}()
	return nil
}

// Respond records helperID's answer to requesterID's active request. The
// write lands under the requester's response set; the helper's own record is
// the only user record this path touches. When the helper can help, the
// requester's last known position is returned as a navigation hint.
func (a *Aggregator) Respond(ctx context.Context, helperID, requesterID string, canHelp bool) (*models.NavigationHint, error) {
	ts, err := a.st.ServerTime(ctx)
	if err != nil {
		return nil, errors.WrapCode(err, errors.CodeStoreWriteFailed, "server time")
	}
	resp := models.SOSResponse{CanHelp: canHelp, Timestamp: ts}
	if _, err := a.st.Set(ctx, responsePath(requesterID, helperID), resp); err != nil {
		return nil, errors.WrapCode(err, errors.CodeStoreWriteFailed, "write response")
	}

	// the inbox entry is consumed regardless of the answer, and the
	// helper's coordination slot is freed for the next incident
	if err := a.dir.SetResponseStatus(ctx, helperID, models.StatusAvailable); err != nil {
		logger.Warn("reset helper status", zap.String("helper", helperID), zap.Error(err))
	}
	if err := a.st.Delete(ctx, notificationPath(helperID)); err != nil {
		logger.Warn("clear notification entry", zap.String("helper", helperID), zap.Error(err))
	}

	metrics.IncResponse(canHelp)
	util.Sig().Emit(models.SigResponseRecorded, helperID, requesterID, canHelp)

	if !canHelp {
		return nil, nil
	}
	var req models.SOSRequest
	ok, err := a.st.Get(ctx, requestPath(requesterID), &req)
	if err != nil || !ok {
		// request resolved between the tap and the read; the response
		// itself already landed
		return nil, nil
	}
	return &models.NavigationHint{Latitude: req.Latitude, Longitude: req.Longitude}, nil
}
