package model

// Student 学生表 — 对应 students（入学时由教务系统写入，本模块只读）
type Student struct {
	StudentID string `gorm:"type:varchar(64);primaryKey"  json:"student_id"`
	Name      string `gorm:"type:varchar(200);not null"   json:"name"`
	Email     string `gorm:"type:varchar(200)"            json:"email"`
	Contact   string `gorm:"type:varchar(50)"             json:"contact"`
	Program   string `gorm:"type:varchar(200);not null"   json:"program"` // 学位名称，如 BS Computer Science
	Batch     string `gorm:"type:varchar(50);not null"    json:"batch"`
	BaseModel
}

// TableName 指定表名
func (Student) TableName() string { return "students" }
