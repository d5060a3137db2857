// Package ledger 账本锚定网关客户端
//
// 写入（Anchor）为异步，需通过 Status 轮询确认；读取（ReadFingerprint）为同步。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"degree-ledger/backend/config"
)

// 交易状态
const (
	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
)

var (
	ErrNotFound = errors.New("账本中不存在该主题记录")
	ErrTxFailed = errors.New("账本交易执行失败")
)

// Receipt 锚定交易回执
type Receipt struct {
	TxRef          string `json:"tx_ref"`
	Status         string `json:"status"`
	SubjectKey     string `json:"subject_key"`
	ContentAddress string `json:"content_address"`
	Fingerprint    string `json:"fingerprint,omitempty"`
	BlockNumber    uint64 `json:"block_number,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Record 已确认的账本记录
type Record struct {
	SubjectKey     string    `json:"subject_key"`
	ContentAddress string    `json:"content_address"`
	Fingerprint    string    `json:"fingerprint"`
	TxRef          string    `json:"tx_ref"`
	AnchoredAt     time.Time `json:"anchored_at"`
}

// Anchor 账本锚定接口
type Anchor interface {
	Anchor(ctx context.Context, subjectKey, contentAddress string) (string, error)
	Status(ctx context.Context, txRef string) (*Receipt, error)
	ReadFingerprint(ctx context.Context, subjectKey string) (*Record, error)
}

type gatewayError struct {
	Error string `json:"error"`
}

// Gateway 通过 HTTP 网关访问账本
type Gateway struct {
	client *resty.Client
	logger *zap.Logger
}

// NewGateway 创建账本网关客户端
func NewGateway(cfg *config.LedgerConfig, logger *zap.Logger) *Gateway {
	client := resty.New().
		SetBaseURL(cfg.GatewayURL).
		SetHeader("Accept", "application/json").
		SetError(&gatewayError{})
	if cfg.APIToken != "" {
		client.SetAuthToken(cfg.APIToken)
	}
	if cfg.RequestTimeout > 0 {
		client.SetTimeout(cfg.RequestTimeout)
	}
	return &Gateway{client: client, logger: logger}
}

// Anchor 提交锚定交易，返回交易引用（尚未确认）
func (g *Gateway) Anchor(ctx context.Context, subjectKey, contentAddress string) (string, error) {
	var out struct {
		TxRef string `json:"tx_ref"`
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"subject_key":     subjectKey,
			"content_address": contentAddress,
		}).
		SetResult(&out).
		Post("/anchors")
	if err != nil {
		return "", fmt.Errorf("提交锚定交易失败: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("账本网关拒绝锚定请求: %s", errorMessage(resp))
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("账本网关响应缺少 tx_ref")
	}

	g.logger.Info("锚定交易已提交", zap.String("subject_key", subjectKey), zap.String("tx_ref", out.TxRef))
	return out.TxRef, nil
}

// Status 查询交易状态
func (g *Gateway) Status(ctx context.Context, txRef string) (*Receipt, error) {
	var out Receipt
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/anchors/tx/" + url.PathEscape(txRef))
	if err != nil {
		return nil, fmt.Errorf("查询交易状态失败: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("账本网关查询交易失败: %s", errorMessage(resp))
	}
	if out.TxRef == "" {
		out.TxRef = txRef
	}
	return &out, nil
}

// ReadFingerprint 读取主题键对应的已确认记录；不存在时返回 ErrNotFound
func (g *Gateway) ReadFingerprint(ctx context.Context, subjectKey string) (*Record, error) {
	var out Record
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/anchors/subjects/" + url.PathEscape(subjectKey))
	if err != nil {
		return nil, fmt.Errorf("读取账本记录失败: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("账本网关读取失败: %s", errorMessage(resp))
	}
	if out.Fingerprint == "" {
		return nil, ErrNotFound
	}
	return &out, nil
}

// WaitConfirmed 按 interval 轮询直到交易确认、失败或 ctx 结束
// ctx 超时返回 context.DeadlineExceeded，调用方据此区分“超时”与“失败”
func WaitConfirmed(ctx context.Context, a Anchor, txRef string, interval time.Duration) (*Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := a.Status(ctx, txRef)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, err
		case err == nil && receipt.Status == TxStatusConfirmed:
			return receipt, nil
		case err == nil && receipt.Status == TxStatusFailed:
			return receipt, fmt.Errorf("%w: %s", ErrTxFailed, receipt.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func errorMessage(resp *resty.Response) string {
	if e, ok := resp.Error().(*gatewayError); ok && e.Error != "" {
		return fmt.Sprintf("%d %s", resp.StatusCode(), e.Error)
	}
	return fmt.Sprintf("%d %s", resp.StatusCode(), resp.Status())
}
