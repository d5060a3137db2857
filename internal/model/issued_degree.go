package model

import (
	"time"

	"gorm.io/datatypes"
)

// IssuedDegree 已签发学位表 — 对应 issued_degrees
// (student_id, degree) 唯一；fingerprint 唯一（验证服务双键索引）
// 创建后仅 notification_delivered 可由 false 变为 true 一次
type IssuedDegree struct {
	DegreeID              string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"       json:"degree_id"`
	StudentID             string         `gorm:"type:varchar(64);not null;uniqueIndex:uq_issued_degree" json:"student_id"`
	Degree                string         `gorm:"type:varchar(200);not null;uniqueIndex:uq_issued_degree" json:"degree"`
	CGPA                  float64        `gorm:"type:numeric(4,2);not null"                           json:"cgpa"`
	ContentAddress        string         `gorm:"type:varchar(200);not null"                           json:"content_address"`
	Fingerprint           string         `gorm:"type:varchar(200);not null;uniqueIndex"               json:"fingerprint"`
	SubjectKey            string         `gorm:"type:varchar(80);not null"                            json:"subject_key"`
	LedgerTxRef           string         `gorm:"type:varchar(200)"                                    json:"ledger_tx_ref"`
	SchemaVersion         int            `gorm:"not null;default:1"                                   json:"schema_version"`
	Payload               datatypes.JSON `gorm:"type:jsonb"                                           json:"-"`
	IssuedAt              time.Time      `gorm:"not null"                                             json:"issued_at"`
	NotificationDelivered bool           `gorm:"not null;default:false"                               json:"notification_delivered"`
	NotifiedAt            *time.Time     `json:"notified_at,omitempty"`
	NotifyAttempts        int            `gorm:"not null;default:0"                                   json:"notify_attempts"`
	LastNotifyAt          *time.Time     `json:"last_notify_at,omitempty"`
	NotifyError           string         `gorm:"type:text"                                            json:"notify_error,omitempty"`
	BaseModel
}

// MaxNotifyAttempts 通知补发上限；达到上限（或确定无法送达）后不再进入补发队列
const MaxNotifyAttempts = 10

// TableName 指定表名
func (IssuedDegree) TableName() string { return "issued_degrees" }
