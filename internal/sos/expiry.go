package sos

import (
	"context"
	"time"

	"EpiFind/internal/models"
	"EpiFind/pkg/errors"
	"EpiFind/pkg/logger"
	"EpiFind/pkg/util"

	"go.uber.org/zap"
)

// expiryLayout is the dd/MM/yyyy form the expiry date is stored in.
const expiryLayout = "02/01/2006"

// DaysUntilExpiry returns whole days from now until the device expiry date.
// Negative means already expired. Day boundaries are compared in UTC.
func DaysUntilExpiry(expiry string, now time.Time) (int, error) {
	t, err := time.Parse(expiryLayout, expiry)
	if err != nil {
		return 0, errors.Wrapf(err, "parse expiry %q", expiry)
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(day).Hours() / 24), nil
}

// ExpirySweeper walks the directory and raises a reminder for every device
// expiring within the warn window. Expiry never affects match eligibility;
// an expired device is still better than none.
type ExpirySweeper struct {
	dir      *Directory
	warnDays int
	sink     Sink
}

func NewExpirySweeper(dir *Directory, warnDays int, sink Sink) *ExpirySweeper {
	if sink == nil {
		sink = NopSink{}
	}
	return &ExpirySweeper{dir: dir, warnDays: warnDays, sink: sink}
}

// Run performs one sweep. Malformed dates are logged and skipped.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	s.dir.Invalidate()
	profiles, err := s.dir.AllProfiles(ctx)
	if err != nil {
		return errors.Wrap(err, "expiry sweep")
	}
	now := time.Now()
	for _, p := range profiles {
		if !p.HasEpiPen || p.EpiPenExpiry == "" {
			continue
		}
		days, err := DaysUntilExpiry(p.EpiPenExpiry, now)
		if err != nil {
			logger.Warn("unparseable device expiry",
				zap.String("user", p.UserID), zap.String("expiry", p.EpiPenExpiry))
			continue
		}
		if days > s.warnDays {
			continue
		}
		util.Sig().Emit(models.SigDeviceExpiringSoon, p.UserID, days)
		body := "Your rescue device expires soon. Please replace it."
		if days < 0 {
			body = "Your rescue device has expired. Please replace it."
		}
		s.sink.SendToUser(p.UserID, MsgLocalNotice, map[string]interface{}{
			"title": "Device expiry",
			"body":  body,
			"days":  days,
		})
	}
	return nil
}
