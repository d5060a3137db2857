package model

import "time"

// 学位申请状态
const (
	RequestStatusPending           = "pending"
	RequestStatusRejected          = "rejected"
	RequestStatusIssued            = "issued"
	RequestStatusAnchoringInFlight = "anchoring_in_flight" // 账本确认超时，等待对账
)

// DegreeRequest 学位申请表 — 对应 degree_requests（每个学生仅一行，驳回后复用）
type DegreeRequest struct {
	RequestID      string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"  json:"request_id"`
	StudentID      string     `gorm:"type:varchar(64);not null;uniqueIndex"           json:"student_id"`
	Status         string     `gorm:"type:varchar(32);not null;default:'pending'"     json:"status"` // pending | rejected | issued | anchoring_in_flight
	Remark         string     `gorm:"type:varchar(500)"                               json:"remark,omitempty"`
	CGPA           *float64   `gorm:"type:numeric(4,2)"                               json:"cgpa,omitempty"`
	ContentAddress string     `gorm:"type:varchar(200)"                               json:"content_address,omitempty"`
	Fingerprint    string     `gorm:"type:varchar(200)"                               json:"fingerprint,omitempty"`
	LedgerTxRef    string     `gorm:"type:varchar(200)"                               json:"ledger_tx_ref,omitempty"`
	DroppedRecords int        `gorm:"not null;default:0"                              json:"dropped_records"`
	SubmittedAt    time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"              json:"submitted_at"`
	DecidedAt      *time.Time `json:"decided_at,omitempty"`
	DecidedBy      *string    `gorm:"type:varchar(64)"                                json:"decided_by,omitempty"`
	VersionedModel
}

// TableName 指定表名
func (DegreeRequest) TableName() string { return "degree_requests" }

// IsOpen 是否为非终态（同一学生同一时间最多一个）
func (r *DegreeRequest) IsOpen() bool {
	return r.Status == RequestStatusPending || r.Status == RequestStatusAnchoringInFlight
}
