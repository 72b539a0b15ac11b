package models

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// AlertLog 求助事件审计记录
type AlertLog struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string // 触发者
	AlertType string // "SOS"
	Action    string // "activated" "cancelled" "responded" "cleanup_failed"
	Details   string // JSON
	CreatedAt time.Time
}

const AlertTypeSOS = "SOS"

const (
	AlertActionActivated     = "activated"
	AlertActionCancelled     = "cancelled"
	AlertActionResponded     = "responded"
	AlertActionCleanupFailed = "cleanup_failed"
)

// InitAuditDB opens the embedded audit database and migrates the schema.
func InitAuditDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&AlertLog{}); err != nil {
		return nil, err
	}
	return db, nil
}

// AppendAlertLog writes one audit row.
func AppendAlertLog(db *gorm.DB, userID, action, details string) error {
	return db.Create(&AlertLog{
		UserID:    userID,
		AlertType: AlertTypeSOS,
		Action:    action,
		Details:   details,
	}).Error
}

// RecentAlertLogs returns the latest n rows, newest first.
func RecentAlertLogs(db *gorm.DB, n int) ([]AlertLog, error) {
	var rows []AlertLog
	err := db.Order("id desc").Limit(n).Find(&rows).Error
	return rows, err
}
