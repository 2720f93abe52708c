package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSON is a custom type for storing arbitrary JSON data
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return fmt.Errorf("unsupported JSON column type %T", value)
}

// LogAction identifies what happened to a schedule config
type LogAction string

const (
	LogActionCreated   LogAction = "created"
	LogActionUpdated   LogAction = "updated"
	LogActionEnabled   LogAction = "enabled"
	LogActionDisabled  LogAction = "disabled"
	LogActionTriggered LogAction = "triggered"
	LogActionCompleted LogAction = "completed"
	LogActionFailed    LogAction = "failed"
)

// LogOrigin identifies who performed a schedule action
type LogOrigin string

const (
	LogOriginSystem  LogOrigin = "system"
	LogOriginUser    LogOrigin = "user"
	LogOriginAPI     LogOrigin = "api"
	LogOriginWebhook LogOrigin = "webhook"
)

// ScheduleLog is an append-only audit entry for schedule-related actions.
// The core never mutates or deletes these rows; retention is an external
// concern.
type ScheduleLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ConfigID  uint      `gorm:"index;not null" json:"config_id"`
	JobID     *string   `gorm:"index" json:"job_id"`
	Action    LogAction `gorm:"index;not null" json:"action"`
	Detail    JSON      `gorm:"type:json" json:"detail"`
	Origin    LogOrigin `gorm:"not null;default:'system'" json:"origin"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
