package mail

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"degree-ledger/backend/config"
)

func TestNewSender_DisabledWithoutKey(t *testing.T) {
	s := NewSender(&config.MailConfig{From: "registrar@example.edu"}, zap.NewNop())
	if s.Enabled() {
		t.Fatalf("未配置 API Key 时发送器应为禁用状态")
	}

	err := s.Send(context.Background(), Message{ToAddress: "ayesha@example.edu", Subject: "x"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("期望 ErrNotConfigured，实际: %v", err)
	}
}

func TestSend_EmptyRecipient(t *testing.T) {
	s := NewSender(&config.MailConfig{SendGridAPIKey: "SG.test-key", From: "registrar@example.edu"}, zap.NewNop())
	if !s.Enabled() {
		t.Fatalf("配置 API Key 后发送器应启用")
	}

	err := s.Send(context.Background(), Message{ToName: "Ayesha Khan", Subject: "x"})
	if !errors.Is(err, ErrNoRecipient) {
		t.Errorf("期望 ErrNoRecipient，实际: %v", err)
	}
}

func TestEnabled_NilSender(t *testing.T) {
	var s *Sender
	if s.Enabled() {
		t.Errorf("nil 发送器不应视为启用")
	}
}
