package sos

import (
	"context"
	"strings"
	"time"

	"EpiFind/internal/models"
	"EpiFind/internal/store"
	"EpiFind/pkg/errors"
	"EpiFind/pkg/logger"
	"EpiFind/pkg/metrics"

	"go.uber.org/zap"
)

// Resolution converges all parties after a cancellation: it removes the
// request record and the notifications fanned out for it, and returns every
// affected helper's status to Available. Steps are retried on transient store
// failures; a step that keeps failing is reported but never re-arms the
// cancelled request.
type Resolution struct {
	st      store.Store
	dir     *Directory
	retries int
	backoff time.Duration
}

func NewResolution(st store.Store, dir *Directory, retries int, backoff time.Duration) *Resolution {
	if retries < 1 {
		retries = 1
	}
	return &Resolution{st: st, dir: dir, retries: retries, backoff: backoff}
}

// ResolveAll tears down the request owned by requesterID. matchedHelperIDs is
// the fanout manifest of the request being cancelled; the status reset is
// scoped to it. A nil manifest (engine restarted mid-request) falls back to a
// sweep of every user record, which is what the notification entries'
// absence of a manifest leaves as the only safe option.
func (r *Resolution) ResolveAll(ctx context.Context, requesterID string, matchedHelperIDs []string) error {
	var failed []string

	r.step(ctx, &failed, "delete request record", func() error {
		return r.st.Delete(ctx, requestPath(requesterID))
	})

	r.step(ctx, &failed, "clear latest slot", func() error {
		var latest models.SOSRequest
		ok, err := r.st.Get(ctx, pathLatest, &latest)
		if err != nil {
			return err
		}
		// only delete the pointer while it still references this request
		if ok && latest.Requester == requesterID {
			return r.st.Delete(ctx, pathLatest)
		}
		return nil
	})

	if matchedHelperIDs != nil {
		for _, helperID := range matchedHelperIDs {
			id := helperID
			r.step(ctx, &failed, "remove notification for "+id, func() error {
				return r.st.Delete(ctx, notificationPath(id))
			})
			r.step(ctx, &failed, "reset status for "+id, func() error {
				return r.resetIfNotAvailable(ctx, id)
			})
		}
	} else {
		r.step(ctx, &failed, "global status sweep", func() error {
			return r.globalReset(ctx, requesterID)
		})
	}

	r.step(ctx, &failed, "clear needsHelp", func() error {
		return r.dir.SetNeedsHelp(ctx, requesterID, false)
	})

	if len(failed) > 0 {
		return errors.WithCodef(errors.CodeStoreWriteFailed,
			"cancelled but cleanup incomplete: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (r *Resolution) resetIfNotAvailable(ctx context.Context, userID string) error {
	p, ok, err := r.dir.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if !ok || p.ResponseStatus == models.StatusAvailable {
		return nil
	}
	return r.dir.SetResponseStatus(ctx, userID, models.StatusAvailable)
}

// globalReset sweeps every record, also removing orphaned notification
// entries that still reference the cancelled request.
func (r *Resolution) globalReset(ctx context.Context, requesterID string) error {
	r.dir.Invalidate()
	profiles, err := r.dir.AllProfiles(ctx)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if p.UserID == requesterID {
			continue
		}
		var entry models.SOSRequest
		if ok, err := r.st.Get(ctx, notificationPath(p.UserID), &entry); err == nil && ok && entry.Requester == requesterID {
			if err := r.st.Delete(ctx, notificationPath(p.UserID)); err != nil {
				return err
			}
		}
		if p.ResponseStatus != models.StatusAvailable {
			if err := r.dir.SetResponseStatus(ctx, p.UserID, models.StatusAvailable); err != nil {
				return err
			}
		}
	}
	return nil
}

// step runs fn with bounded retry; permanent failure is recorded in failed
// and cleanup continues with the remaining steps.
func (r *Resolution) step(ctx context.Context, failed *[]string, name string, fn func() error) {
	var err error
	for attempt := 0; attempt < r.retries; attempt++ {
		if attempt > 0 {
			metrics.IncCleanupRetry()
			select {
			case <-time.After(r.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				*failed = append(*failed, name)
				return
			}
		}
		if err = fn(); err == nil {
			return
		}
	}
	logger.Warn("cleanup step failed", zap.String("step", name), zap.Error(err))
	*failed = append(*failed, name)
}
