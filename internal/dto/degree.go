package dto

// ── 学位申请模块 DTO ──

// SubmitDegreeRequest 提交学位申请
// 学生角色忽略 student_id，始终使用 Token 中的学号；管理员可代为提交
type SubmitDegreeRequest struct {
	StudentID string `json:"student_id" binding:"omitempty,max=64"`
}

// DecisionRequest 审核决定
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approved rejected"`
	Remark   string `json:"remark"   binding:"omitempty,max=500"`
}

// ListDegreeRequestsQuery 申请列表查询参数
type ListDegreeRequestsQuery struct {
	PaginationRequest
	Status string `form:"status" binding:"omitempty,oneof=pending rejected issued anchoring_in_flight"`
}

// VerifyQuery 公开验证查询参数
type VerifyQuery struct {
	Input  string `form:"input"  binding:"required,max=200"`
	Ledger bool   `form:"ledger"`
}

// DegreeRequestResponse 学位申请响应
type DegreeRequestResponse struct {
	ID             string   `json:"id"`
	StudentID      string   `json:"student_id"`
	Status         string   `json:"status"`
	Remark         string   `json:"remark,omitempty"`
	CGPA           *float64 `json:"cgpa,omitempty"`
	ContentAddress string   `json:"content_address,omitempty"`
	Fingerprint    string   `json:"fingerprint,omitempty"`
	LedgerTxRef    string   `json:"ledger_tx_ref,omitempty"`
	DroppedRecords int      `json:"dropped_records"`
	SubmittedAt    string   `json:"submitted_at"`
	DecidedAt      string   `json:"decided_at,omitempty"`
	Version        int      `json:"version"`
}

// IssuedDegreeResponse 已签发学位响应（本人或管理员可见）
type IssuedDegreeResponse struct {
	ID                    string  `json:"id"`
	StudentID             string  `json:"student_id"`
	Degree                string  `json:"degree"`
	CGPA                  float64 `json:"cgpa"`
	ContentAddress        string  `json:"content_address"`
	Fingerprint           string  `json:"fingerprint"`
	SubjectKey            string  `json:"subject_key"`
	LedgerTxRef           string  `json:"ledger_tx_ref,omitempty"`
	IssuedAt              string  `json:"issued_at"`
	NotificationDelivered bool    `json:"notification_delivered"`
	VerifyURL             string  `json:"verify_url"`
}

// DecisionResponse 审核结果
// outcome: rejected | issued | already_issued | needs_reconciliation
type DecisionResponse struct {
	Outcome string                 `json:"outcome"`
	Request *DegreeRequestResponse `json:"request,omitempty"`
	Degree  *IssuedDegreeResponse  `json:"degree,omitempty"`
}

// PublicSummary 公开验证摘要（不含成绩明细与载荷）
type PublicSummary struct {
	Name           string       `json:"name"`
	StudentID      string       `json:"student_id"`
	Degree         string       `json:"degree"`
	CGPA           float64      `json:"cgpa"`
	Batch          string       `json:"batch"`
	IssuedAt       string       `json:"issued_at"`
	ContentAddress string       `json:"content_address"`
	Fingerprint    string       `json:"fingerprint"`
	VerifyURL      string       `json:"verify_url"`
	Ledger         *LedgerCheck `json:"ledger,omitempty"`
}

// LedgerCheck 账本交叉校验结果
type LedgerCheck struct {
	Consistent     bool   `json:"consistent"`
	Fingerprint    string `json:"fingerprint,omitempty"`
	ContentAddress string `json:"content_address,omitempty"`
	AnchoredAt     string `json:"anchored_at,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ReconcileReport 批量对账结果
type ReconcileReport struct {
	Scanned       int `json:"scanned"`
	Committed     int `json:"committed"`
	Reverted      int `json:"reverted"`
	StillInFlight int `json:"still_in_flight"`
	Failed        int `json:"failed"`
	Notified      int `json:"notified"`
}
