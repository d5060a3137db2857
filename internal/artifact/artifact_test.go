package artifact

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"degree-ledger/backend/internal/score"
)

func samplePayload() *Payload {
	b := score.Evaluate([]score.Entry{
		{Semester: 1, CourseName: "CourseA", Obtained: 85, MaxMarks: 100, CreditHours: 3},
		{Semester: 1, CourseName: "CourseB", Obtained: 55, MaxMarks: 100, CreditHours: 4},
	})
	return &Payload{
		SchemaVersion: SchemaVersion,
		Institution:   "Government College University",
		Signatory:     "Vice Chancellor",
		Student: StudentSnapshot{
			StudentID: "BSCS-2020-001",
			Name:      "Ayesha Khan",
			Email:     "ayesha@example.edu",
			Program:   "BS Computer Science",
			Batch:     "2020",
		},
		Degree:           "BS Computer Science",
		Semesters:        b.Semesters,
		TotalCreditHours: b.TotalCreditHours,
		CGPA:             b.CGPA,
		IssuedOn:         "2026-06-30",
		VerifyURL:        "https://degrees.example.edu/api/v1/verify?input=BSCS-2020-001",
	}
}

func TestPayload_Validate(t *testing.T) {
	require.NoError(t, samplePayload().Validate())

	p := samplePayload()
	p.Semesters = nil
	assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)

	p = samplePayload()
	p.CGPA = 4.5
	assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)

	p = samplePayload()
	p.SchemaVersion = 2
	assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)

	p = samplePayload()
	p.IssuedOn = "30/06/2026"
	assert.ErrorIs(t, p.Validate(), ErrInvalidPayload)

	var nilPayload *Payload
	assert.ErrorIs(t, nilPayload.Validate(), ErrInvalidPayload)
}

func TestPayload_JSONRoundTrip(t *testing.T) {
	p := samplePayload()
	data, err := p.JSON()
	require.NoError(t, err)

	back, err := ParsePayload(data)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestPDFGenerator_Deterministic(t *testing.T) {
	g := NewPDFGenerator()
	ctx := context.Background()

	first, err := g.Generate(ctx, samplePayload())
	require.NoError(t, err)
	second, err := g.Generate(ctx, samplePayload())
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(first, []byte("%PDF-")))
	assert.Equal(t, first, second)
}

func TestPDFGenerator_EmbedsVerifyQRCode(t *testing.T) {
	data, err := NewPDFGenerator().Generate(context.Background(), samplePayload())
	require.NoError(t, err)

	assert.True(t, bytes.Contains(data, []byte("/Subtype /Image")), "证书应内嵌验证二维码图片")
	assert.True(t, bytes.Contains(data, []byte("verify?input=BSCS-2020-001")), "二维码应链接到验证地址")
}

func TestPDFGenerator_QRCodeFollowsVerifyURL(t *testing.T) {
	ctx := context.Background()
	g := NewPDFGenerator()

	first, err := g.Generate(ctx, samplePayload())
	require.NoError(t, err)

	p := samplePayload()
	p.VerifyURL = "https://degrees.example.edu/api/v1/verify?input=BSCS-2020-002"
	second, err := g.Generate(ctx, p)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestPDFGenerator_InvalidPayload(t *testing.T) {
	p := samplePayload()
	p.Student.Name = ""

	_, err := NewPDFGenerator().Generate(context.Background(), p)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
}

func TestPDFGenerator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPDFGenerator().Generate(ctx, samplePayload())
	assert.ErrorIs(t, err, context.Canceled)
}
