// Package score 学分加权成绩计算（纯函数，无 I/O）
//
// 全系统唯一的 CGPA 计算入口，仅由签发编排器调用；其他读取方一律使用已持久化的 CGPA。
package score

import (
	"math"
	"sort"
)

// Grade 百分比对应的字母等级与绩点
type Grade struct {
	Letter string  `json:"letter"`
	Point  float64 `json:"point"`
}

// 等级阈值：下界包含，阈值本身不做舍入
var gradeScale = []struct {
	min   float64
	grade Grade
}{
	{80, Grade{Letter: "A", Point: 4.0}},
	{70, Grade{Letter: "B", Point: 3.0}},
	{60, Grade{Letter: "C", Point: 2.0}},
	{50, Grade{Letter: "D", Point: 1.0}},
}

var gradeF = Grade{Letter: "F", Point: 0.0}

// GradePointOf 百分比 → 等级
func GradePointOf(percentage float64) Grade {
	for _, step := range gradeScale {
		if percentage >= step.min {
			return step.grade
		}
	}
	return gradeF
}

// Percentage 得分百分比；满分不为正时按 0 处理
func Percentage(obtained, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return 100 * obtained / total
}

// QualityPoints 绩点 × 学分
func QualityPoints(obtained, total, creditHours float64) float64 {
	return GradePointOf(Percentage(obtained, total)).Point * creditHours
}

// Entry 一条已匹配到课程定义的成绩
type Entry struct {
	Semester    int
	CourseName  string
	CourseCode  string
	Obtained    float64
	MaxMarks    float64
	CreditHours float64
}

// CourseResult 单门课程计算结果
type CourseResult struct {
	CourseName    string  `json:"course_name"`
	CourseCode    string  `json:"course_code,omitempty"`
	Obtained      float64 `json:"obtained_marks"`
	MaxMarks      float64 `json:"max_marks"`
	CreditHours   float64 `json:"credit_hours"`
	Letter        string  `json:"letter"`
	GradePoint    float64 `json:"grade_point"`
	QualityPoints float64 `json:"quality_points"`
}

// SemesterResult 单学期汇总
type SemesterResult struct {
	Semester           int            `json:"semester"`
	Courses            []CourseResult `json:"courses"`
	TotalCreditHours   float64        `json:"total_credit_hours"`
	TotalQualityPoints float64        `json:"total_quality_points"`
	GPA                float64        `json:"gpa"`
}

// Breakdown 完整成绩单
type Breakdown struct {
	Semesters          []SemesterResult `json:"semesters"`
	TotalCreditHours   float64          `json:"total_credit_hours"`
	TotalQualityPoints float64          `json:"total_quality_points"`
	CGPA               float64          `json:"cgpa"`
}

// Evaluate 计算课程、学期、总体三级结果
// 学期升序、课程按名称排序，保证相同输入产出相同结果
// 已报告的 GPA/CGPA 保留两位小数；CGPA 基于全部课程学分加权，而非各学期 GPA 的平均
func Evaluate(entries []Entry) Breakdown {
	bySemester := make(map[int][]CourseResult)
	for _, e := range entries {
		g := GradePointOf(Percentage(e.Obtained, e.MaxMarks))
		bySemester[e.Semester] = append(bySemester[e.Semester], CourseResult{
			CourseName:    e.CourseName,
			CourseCode:    e.CourseCode,
			Obtained:      e.Obtained,
			MaxMarks:      e.MaxMarks,
			CreditHours:   e.CreditHours,
			Letter:        g.Letter,
			GradePoint:    g.Point,
			QualityPoints: g.Point * e.CreditHours,
		})
	}

	semesters := make([]int, 0, len(bySemester))
	for sem := range bySemester {
		semesters = append(semesters, sem)
	}
	sort.Ints(semesters)

	var out Breakdown
	for _, sem := range semesters {
		courses := bySemester[sem]
		sort.SliceStable(courses, func(i, j int) bool { return courses[i].CourseName < courses[j].CourseName })

		var qp, ch float64
		for _, c := range courses {
			qp += c.QualityPoints
			ch += c.CreditHours
		}
		out.Semesters = append(out.Semesters, SemesterResult{
			Semester:           sem,
			Courses:            courses,
			TotalCreditHours:   ch,
			TotalQualityPoints: qp,
			GPA:                Round2(ratio(qp, ch)),
		})
		out.TotalCreditHours += ch
		out.TotalQualityPoints += qp
	}
	out.CGPA = Round2(ratio(out.TotalQualityPoints, out.TotalCreditHours))
	return out
}

// SemesterGPA Σ质量分 / Σ学分（未舍入）；总学分为 0 时返回 0
func SemesterGPA(entries []Entry) float64 {
	var qp, ch float64
	for _, e := range entries {
		qp += QualityPoints(e.Obtained, e.MaxMarks, e.CreditHours)
		ch += e.CreditHours
	}
	return ratio(qp, ch)
}

// CGPA 跨学期合并计算，公式与 SemesterGPA 相同（未舍入）
func CGPA(entries []Entry) float64 {
	return SemesterGPA(entries)
}

// Round2 四舍五入保留两位小数
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ratio(qp, ch float64) float64 {
	if ch == 0 {
		return 0
	}
	return qp / ch
}
