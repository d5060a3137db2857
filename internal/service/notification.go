package service

import (
	"context"
	"fmt"
	"html"

	"degree-ledger/backend/internal/model"
	"degree-ledger/backend/pkg/mail"
)

// Notifier 学位签发通知
type Notifier interface {
	NotifyIssued(ctx context.Context, student *model.Student, degree *model.IssuedDegree, verifyURL string) error
}

type mailNotifier struct {
	sender      *mail.Sender
	institution string
}

// NewMailNotifier 通过邮件通知学生学位已签发
func NewMailNotifier(sender *mail.Sender, institution string) Notifier {
	return &mailNotifier{sender: sender, institution: institution}
}

func (n *mailNotifier) NotifyIssued(ctx context.Context, student *model.Student, degree *model.IssuedDegree, verifyURL string) error {
	subject := fmt.Sprintf("Your %s degree has been issued", degree.Degree)
	plain := fmt.Sprintf(
		"Dear %s,\n\n%s has issued your %s degree with a CGPA of %.2f.\n\nLedger fingerprint: %s\nVerify at: %s\n",
		student.Name, n.institution, degree.Degree, degree.CGPA, degree.Fingerprint, verifyURL,
	)
	body := fmt.Sprintf(
		"<p>Dear %s,</p><p>%s has issued your <strong>%s</strong> degree with a CGPA of <strong>%.2f</strong>.</p>"+
			"<p>Ledger fingerprint: <code>%s</code></p><p><a href=\"%s\">Verify your degree</a></p>",
		html.EscapeString(student.Name), html.EscapeString(n.institution), html.EscapeString(degree.Degree),
		degree.CGPA, degree.Fingerprint, html.EscapeString(verifyURL),
	)

	return n.sender.Send(ctx, mail.Message{
		ToName:    student.Name,
		ToAddress: student.Email,
		Subject:   subject,
		PlainText: plain,
		HTML:      body,
	})
}
