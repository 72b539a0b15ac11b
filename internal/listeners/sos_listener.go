package listeners

import (
	"encoding/json"

	"EpiFind/internal/models"
	"EpiFind/pkg/logger"
	"EpiFind/pkg/sse"
	"EpiFind/pkg/util"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InitSOSListeners wires the engine's signals into the audit trail and the
// SSE streams. The engine itself stays free of persistence concerns.
func InitSOSListeners(db *gorm.DB, events *sse.Hub) {
	util.Sig().Connect(models.SigActivationConfirmed, func(sender any, params ...any) {
		req := sender.(*models.SOSRequest)
		go audit(db, req.Requester, models.AlertActionActivated, map[string]any{
			"latitude":  req.Latitude,
			"longitude": req.Longitude,
			"timestamp": req.Timestamp,
		})
	})

	util.Sig().Connect(models.SigRequestResolved, func(sender any, params ...any) {
		requester := sender.(string)
		go audit(db, requester, models.AlertActionCancelled, nil)
	})

	util.Sig().Connect(models.SigRequestCancelFailed, func(sender any, params ...any) {
		requester := sender.(string)
		var detail map[string]any
		if len(params) > 0 {
			if err, ok := params[0].(error); ok {
				detail = map[string]any{"error": err.Error()}
			}
		}
		go audit(db, requester, models.AlertActionCleanupFailed, detail)
	})

	util.Sig().Connect(models.SigResponseRecorded, func(sender any, params ...any) {
		helper := sender.(string)
		if len(params) < 2 {
			return
		}
		requester, _ := params[0].(string)
		canHelp, _ := params[1].(bool)
		go audit(db, helper, models.AlertActionResponded, map[string]any{
			"requester": requester,
			"canHelp":   canHelp,
		})
	})

	util.Sig().Connect(models.SigDeviceExpiringSoon, func(sender any, params ...any) {
		userID := sender.(string)
		days := 0
		if len(params) > 0 {
			days, _ = params[0].(int)
		}
		logger.Info("rescue device expiring",
			zap.String("user", userID), zap.Int("days", days))
	})

	if events != nil {
		util.Sig().Connect(models.SigMatchSetUpdated, func(sender any, params ...any) {
			requester := sender.(string)
			if len(params) > 0 {
				events.SendEvent(requester, "match_set", params[0])
			}
		})

		util.Sig().Connect(models.SigHelperStatusChanged, func(sender any, params ...any) {
			requester := sender.(string)
			if len(params) < 2 {
				return
			}
			events.SendEvent(requester, "helper_status", map[string]any{
				"helper": params[0],
				"status": params[1],
			})
		})
	}
}

func audit(db *gorm.DB, userID, action string, detail map[string]any) {
	if db == nil {
		return
	}
	var details string
	if detail != nil {
		b, _ := json.Marshal(detail)
		details = string(b)
	}
	if err := models.AppendAlertLog(db, userID, action, details); err != nil {
		logger.Warn("audit write failed",
			zap.String("user", userID), zap.String("action", action), zap.Error(err))
	}
}
