package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cvinsight/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// UploadOriginal 上传原始简历，返回对象键
	UploadOriginal(ctx context.Context, submissionUUID, fileName string, reader io.Reader, fileSize int64) (string, error)
	// UploadResult 上传解析结果 JSON，返回对象键
	UploadResult(ctx context.Context, submissionUUID string, data []byte) (string, error)
	// GetOriginal 下载原始简历
	GetOriginal(ctx context.Context, objectKey string) ([]byte, error)
	// GetResult 下载解析结果
	GetResult(ctx context.Context, objectKey string) ([]byte, error)
	// GetPresignedURL 原始简历的预签名下载地址
	GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client         *minio.Client
	cfg            *config.MinIOConfig
	originalBucket string
	resultBucket   string
	logger         *log.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("MinIO endpoint 未配置")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:         client,
		cfg:            cfg,
		originalBucket: orDefault(cfg.OriginalsBucket, "cvinsight-originals"),
		resultBucket:   orDefault(cfg.ResultsBucket, "cvinsight-results"),
		logger:         logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, bucket := range []string{m.originalBucket, m.resultBucket} {
		if err := m.ensureBucketExists(ctx, bucket, cfg.Location); err != nil {
			return nil, err
		}
	}

	if cfg.OriginalFileExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.originalBucket, "expire-originals", cfg.OriginalFileExpireDays); err != nil {
			logger.Printf("[MinIO] Warning: Failed to set up lifecycle rules: %v", err)
		}
	}

	logger.Printf("[MinIO] Client initialized for endpoint: %s", cfg.Endpoint)
	return m, nil
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(ctx context.Context, bucketName, location string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	m.logger.Printf("[MinIO] Bucket %s does not exist, creating...", bucketName)
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	return nil
}

// setupBucketLifecycle 为指定存储桶设置过期规则
func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	rules := lifecycle.NewConfiguration()
	rules.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucketName, rules)
}

// OriginalObjectKey 原始简历的对象键，例如 resume/{uuid}/original.pdf
func OriginalObjectKey(submissionUUID, fileName string) string {
	return path.Join("resume", submissionUUID, "original"+strings.ToLower(filepath.Ext(fileName)))
}

// ResultObjectKey 解析结果的对象键
func ResultObjectKey(submissionUUID string) string {
	return path.Join("resume", submissionUUID, "result.json")
}

// UploadOriginal 上传原始简历到 originals 桶
func (m *MinIO) UploadOriginal(ctx context.Context, submissionUUID, fileName string, reader io.Reader, fileSize int64) (string, error) {
	objectName := OriginalObjectKey(submissionUUID, fileName)
	_, err := m.client.PutObject(ctx, m.originalBucket, objectName, reader, fileSize, minio.PutObjectOptions{
		ContentType:  ContentType(filepath.Ext(fileName)),
		UserMetadata: map[string]string{"file-name": filepath.Base(fileName)},
	})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.originalBucket, objectName, err)
	}
	m.logger.Printf("[MinIO] Uploaded original %s (%d bytes)", objectName, fileSize)
	return objectName, nil
}

// UploadResult 上传解析结果 JSON 到 results 桶
func (m *MinIO) UploadResult(ctx context.Context, submissionUUID string, data []byte) (string, error) {
	objectName := ResultObjectKey(submissionUUID)
	_, err := m.client.PutObject(ctx, m.resultBucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("上传解析结果 %s 到存储桶 %s 失败: %w", objectName, m.resultBucket, err)
	}
	return objectName, nil
}

// GetOriginal 下载原始简历
func (m *MinIO) GetOriginal(ctx context.Context, objectKey string) ([]byte, error) {
	return m.download(ctx, m.originalBucket, objectKey)
}

// GetResult 下载解析结果
func (m *MinIO) GetResult(ctx context.Context, objectKey string) ([]byte, error) {
	return m.download(ctx, m.resultBucket, objectKey)
}

func (m *MinIO) download(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", bucketName, objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", bucketName, objectName, err)
	}
	m.logger.Printf("[MinIO] Downloaded %d bytes from %s/%s", len(data), bucketName, objectName)
	return data, nil
}

// GetPresignedURL 获取原始简历的预签名URL
func (m *MinIO) GetPresignedURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.originalBucket, objectKey, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成MinIO预签名URL失败: %w", err)
	}
	return u.String(), nil
}

// ContentType 按扩展名返回 MIME 类型
func ContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
