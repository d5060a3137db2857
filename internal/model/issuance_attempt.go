package model

import "gorm.io/datatypes"

// 签发尝试阶段
const (
	AttemptStageGenerated       = "generated"
	AttemptStagePublished       = "published"
	AttemptStageAnchorSubmitted = "anchor_submitted"
	AttemptStageAnchored        = "anchored"
	AttemptStageCommitted       = "committed"
	AttemptStageFailed          = "failed"
)

// IssuanceAttempt 签发尝试日志表 — 对应 issuance_attempts
// 每次审批流水线一行，记录外部副作用（发布、锚定）的结果，供对账任务回放
type IssuanceAttempt struct {
	AttemptID      string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"attempt_id"`
	StudentID      string         `gorm:"type:varchar(64);not null;index"                json:"student_id"`
	Degree         string         `gorm:"type:varchar(200);not null"                     json:"degree"`
	SubjectKey     string         `gorm:"type:varchar(80);not null"                      json:"subject_key"`
	Stage          string         `gorm:"type:varchar(32);not null;index"                json:"stage"`
	CGPA           float64        `gorm:"type:numeric(4,2);not null"                     json:"cgpa"`
	DroppedRecords int            `gorm:"not null;default:0"                             json:"dropped_records"`
	ContentAddress string         `gorm:"type:varchar(200)"                              json:"content_address,omitempty"`
	LedgerTxRef    string         `gorm:"type:varchar(200)"                              json:"ledger_tx_ref,omitempty"`
	Fingerprint    string         `gorm:"type:varchar(200)"                              json:"fingerprint,omitempty"`
	Payload        datatypes.JSON `gorm:"type:jsonb"                                     json:"-"`
	LastError      string         `gorm:"type:text"                                      json:"last_error,omitempty"`
	BaseModel
}

// TableName 指定表名
func (IssuanceAttempt) TableName() string { return "issuance_attempts" }

// HasLedgerEffect 是否已向账本提交锚定（交易可能已上链）
func (a *IssuanceAttempt) HasLedgerEffect() bool {
	return a.LedgerTxRef != "" || a.Stage == AttemptStageAnchorSubmitted || a.Stage == AttemptStageAnchored
}

// IsSettled 是否已进入终态（提交或失败）
func (a *IssuanceAttempt) IsSettled() bool {
	return a.Stage == AttemptStageCommitted || a.Stage == AttemptStageFailed
}
