package model

// CourseDefinition 课程定义表 — 对应 course_definitions
// (program, semester, course_name) 唯一；被成绩引用后不可修改
type CourseDefinition struct {
	CourseID    string  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"      json:"course_id"`
	Program     string  `gorm:"type:varchar(200);not null;uniqueIndex:uq_course_def" json:"program"`
	Semester    int     `gorm:"not null;uniqueIndex:uq_course_def"                   json:"semester"`
	CourseName  string  `gorm:"type:varchar(200);not null;uniqueIndex:uq_course_def" json:"course_name"`
	CourseCode  string  `gorm:"type:varchar(50)"                                     json:"course_code"`
	CreditHours float64 `gorm:"type:numeric(5,2);not null"                           json:"credit_hours"`
	MaxMarks    float64 `gorm:"type:numeric(7,2);not null"                           json:"max_marks"`
	BaseModel
}

// TableName 指定表名
func (CourseDefinition) TableName() string { return "course_definitions" }

// GradeRecord 成绩记录表 — 对应 grade_records（由成绩子系统写入，本模块只读）
type GradeRecord struct {
	GradeID       string  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"      json:"grade_id"`
	StudentID     string  `gorm:"type:varchar(64);not null;uniqueIndex:uq_grade"       json:"student_id"`
	CourseName    string  `gorm:"type:varchar(200);not null;uniqueIndex:uq_grade"      json:"course_name"`
	Semester      int     `gorm:"not null;uniqueIndex:uq_grade"                        json:"semester"`
	ObtainedMarks float64 `gorm:"type:numeric(7,2);not null"                           json:"obtained_marks"`
	Letter        string  `gorm:"type:varchar(2)"                                      json:"letter"`
	QualityPoints float64 `gorm:"type:numeric(7,2)"                                    json:"quality_points"`
	RecordedBy    string  `gorm:"type:varchar(64)"                                     json:"recorded_by"`
	BaseModel
}

// TableName 指定表名
func (GradeRecord) TableName() string { return "grade_records" }
