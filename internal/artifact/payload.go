package artifact

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"degree-ledger/backend/internal/score"
)

// SchemaVersion 当前证书载荷版本；字段变更必须递增
const SchemaVersion = 1

// ErrInvalidPayload 载荷未通过结构校验
var ErrInvalidPayload = errors.New("证书载荷校验失败")

// StudentSnapshot 签发时刻的学生身份快照
type StudentSnapshot struct {
	StudentID string `json:"student_id" validate:"required,max=64"`
	Name      string `json:"name"       validate:"required,max=200"`
	Email     string `json:"email,omitempty" validate:"omitempty,max=200"`
	Program   string `json:"program"    validate:"required"`
	Batch     string `json:"batch"      validate:"required"`
}

// Payload 证书生成输入（固定结构、带版本）
type Payload struct {
	SchemaVersion    int                    `json:"schema_version"     validate:"required,eq=1"`
	Institution      string                 `json:"institution"        validate:"required"`
	Signatory        string                 `json:"signatory"          validate:"required"`
	Student          StudentSnapshot        `json:"student"`
	Degree           string                 `json:"degree"             validate:"required"`
	Semesters        []score.SemesterResult `json:"semesters"          validate:"required,min=1,dive"`
	TotalCreditHours float64                `json:"total_credit_hours" validate:"gte=0"`
	CGPA             float64                `json:"cgpa"               validate:"gte=0,lte=4"`
	DroppedRecords   int                    `json:"dropped_records"    validate:"gte=0"`
	IssuedOn         string                 `json:"issued_on"          validate:"required,datetime=2006-01-02"`
	VerifyURL        string                 `json:"verify_url"         validate:"required,url"`
}

var validate = validator.New()

// Validate 生成前的结构校验
func (p *Payload) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: 载荷为空", ErrInvalidPayload)
	}
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: 字段 %s 不满足 %s", ErrInvalidPayload, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// JSON 序列化为持久化快照
func (p *Payload) JSON() ([]byte, error) {
	return json.Marshal(p)
}

// ParsePayload 从持久化快照恢复载荷
func ParsePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &p, nil
}
