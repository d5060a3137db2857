package publisher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"degree-ledger/backend/config"
)

const (
	sha256Prefix = "sha256:"
	objectPrefix = "artifacts/"
)

// S3Publisher 以 SHA-256 为键的 S3 兼容对象存储发布器
// 地址格式 sha256:<hex>；对象键 artifacts/<hex>
type S3Publisher struct {
	client s3iface.S3API
	bucket string
	logger *zap.Logger
}

// NewS3Publisher 创建 S3 发布器
func NewS3Publisher(cfg *config.S3Config, logger *zap.Logger) (*S3Publisher, error) {
	awsCfg := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		Region:           aws.String(cfg.Region),
		DisableSSL:       aws.Bool(!cfg.UseSSL),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("创建 S3 会话失败: %w", err)
	}

	return NewS3PublisherWithClient(s3.New(sess), cfg.Bucket, logger), nil
}

// NewS3PublisherWithClient 使用给定客户端创建发布器
func NewS3PublisherWithClient(client s3iface.S3API, bucket string, logger *zap.Logger) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, logger: logger}
}

// Publish 已存在相同哈希的对象时直接返回地址，不重复写入
func (p *S3Publisher) Publish(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyContent
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	address := sha256Prefix + digest
	key := objectPrefix + digest

	exists, err := p.exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("检查对象是否存在失败: %w", err)
	}
	if exists {
		p.logger.Info("证书对象已存在，跳过上传", zap.String("address", address))
		return address, nil
	}

	_, err = p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimetype.Detect(data).String()),
	})
	if err != nil {
		return "", fmt.Errorf("上传对象失败: %w", err)
	}

	p.logger.Info("证书已上传到对象存储", zap.String("address", address), zap.Int("size", len(data)))
	return address, nil
}

// Resolve 读取对象并校验内容哈希
func (p *S3Publisher) Resolve(ctx context.Context, address string) ([]byte, error) {
	digest, ok := strings.CutPrefix(address, sha256Prefix)
	if !ok || len(digest) != sha256.Size*2 {
		return nil, ErrInvalidAddress
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return nil, ErrInvalidAddress
	}

	out, err := p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(objectPrefix + digest),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取对象失败: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("读取对象内容失败: %w", err)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != digest {
		return nil, fmt.Errorf("对象内容与地址哈希不一致: %s", address)
	}
	return data, nil
}

func (p *S3Publisher) exists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
