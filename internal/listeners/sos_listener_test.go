package listeners

import (
	"path/filepath"
	"testing"
	"time"

	"EpiFind/internal/models"
	"EpiFind/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenersWriteAuditTrail(t *testing.T) {
	db, err := models.InitAuditDB(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	InitSOSListeners(db, nil)
	t.Cleanup(func() {
		for _, sig := range []string{
			models.SigActivationConfirmed, models.SigRequestResolved,
			models.SigRequestCancelFailed, models.SigResponseRecorded,
			models.SigDeviceExpiringSoon,
		} {
			util.Sig().Disconnect(sig)
		}
	})

	req := &models.SOSRequest{Requester: "alice", Latitude: 51.5, Longitude: -0.1, Timestamp: 100, Active: true}
	util.Sig().Emit(models.SigActivationConfirmed, req)
	util.Sig().Emit(models.SigResponseRecorded, "bob", "alice", true)
	util.Sig().Emit(models.SigRequestResolved, "alice")

	// audit writes are fired asynchronously
	require.Eventually(t, func() bool {
		rows, err := models.RecentAlertLogs(db, 10)
		return err == nil && len(rows) == 3
	}, time.Second, 10*time.Millisecond)

	rows, err := models.RecentAlertLogs(db, 10)
	require.NoError(t, err)

	actions := make(map[string]string)
	for _, row := range rows {
		actions[row.Action] = row.UserID
		assert.Equal(t, models.AlertTypeSOS, row.AlertType)
	}
	assert.Equal(t, "alice", actions[models.AlertActionActivated])
	assert.Equal(t, "bob", actions[models.AlertActionResponded])
	assert.Equal(t, "alice", actions[models.AlertActionCancelled])
}
