// Package publisher 内容寻址存储：发布证书字节并返回由内容哈希派生的地址
package publisher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"degree-ledger/backend/config"
)

var (
	ErrNotFound       = errors.New("内容地址不存在")
	ErrInvalidAddress = errors.New("内容地址格式无效")
	ErrEmptyContent   = errors.New("待发布内容为空")
)

// Publisher 内容寻址发布器
// Publish 对相同字节必须返回相同地址；Resolve 返回的字节不可变
type Publisher interface {
	Publish(ctx context.Context, data []byte) (string, error)
	Resolve(ctx context.Context, address string) ([]byte, error)
}

// New 按配置选择发布器实现
func New(cfg *config.PublisherConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Driver {
	case "ipfs":
		return NewIPFSPublisher(&cfg.IPFS, logger), nil
	case "s3":
		return NewS3Publisher(&cfg.S3, logger)
	default:
		return nil, fmt.Errorf("不支持的发布驱动: %q", cfg.Driver)
	}
}
