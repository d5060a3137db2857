package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"degree-ledger/backend/config"
)

// cidPattern 粗略匹配 CIDv0（Qm...）与 CIDv1（b...）
var cidPattern = regexp.MustCompile(`^(Qm[1-9A-HJ-NP-Za-km-z]{44}|b[a-z2-7]{20,})$`)

// pinResponse Pinata pinFileToIPFS 响应
type pinResponse struct {
	IpfsHash    string `json:"IpfsHash"`
	PinSize     int64  `json:"PinSize"`
	Timestamp   string `json:"Timestamp"`
	IsDuplicate bool   `json:"isDuplicate"`
}

// IPFSPublisher 通过 Pinata 固定服务发布到 IPFS
// 相同内容得到相同 CID，重复固定由 Pinata 去重
type IPFSPublisher struct {
	api     *resty.Client
	gateway *resty.Client
	logger  *zap.Logger
}

// NewIPFSPublisher 创建 IPFS 发布器
func NewIPFSPublisher(cfg *config.IPFSConfig, logger *zap.Logger) *IPFSPublisher {
	api := resty.New().SetBaseURL(cfg.APIURL)
	if cfg.JWT != "" {
		api.SetAuthToken(cfg.JWT)
	} else {
		api.SetHeader("pinata_api_key", cfg.APIKey).
			SetHeader("pinata_secret_api_key", cfg.APISecret)
	}

	return &IPFSPublisher{
		api:     api,
		gateway: resty.New().SetBaseURL(cfg.GatewayURL),
		logger:  logger,
	}
}

// Publish 上传并固定文件，返回 CIDv1
func (p *IPFSPublisher) Publish(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyContent
	}

	options, _ := json.Marshal(map[string]int{"cidVersion": 1})

	var out pinResponse
	resp, err := p.api.R().
		SetContext(ctx).
		SetFileReader("file", "degree.pdf", bytes.NewReader(data)).
		SetFormData(map[string]string{"pinataOptions": string(options)}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/pinning/pinFileToIPFS")
	if err != nil {
		return "", fmt.Errorf("调用 Pinata 失败: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("Pinata 返回状态码 %d: %s", resp.StatusCode(), resp.String())
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("Pinata 响应缺少 IpfsHash")
	}

	p.logger.Info("证书已固定到 IPFS",
		zap.String("cid", out.IpfsHash),
		zap.Int64("size", out.PinSize),
		zap.Bool("duplicate", out.IsDuplicate),
	)
	return out.IpfsHash, nil
}

// Resolve 经网关读取内容
func (p *IPFSPublisher) Resolve(ctx context.Context, address string) ([]byte, error) {
	if !cidPattern.MatchString(address) {
		return nil, ErrInvalidAddress
	}

	resp, err := p.gateway.R().
		SetContext(ctx).
		Get("/ipfs/" + address)
	if err != nil {
		return nil, fmt.Errorf("读取 IPFS 网关失败: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("IPFS 网关返回状态码 %d", resp.StatusCode())
	}
	return resp.Body(), nil
}
