// Package objectstore хранит сгенерированные документы и выдаёт ссылки на них.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	defaultUploadTimeout = 30 * time.Second
	defaultPresignTTL    = 7 * 24 * time.Hour
)

// S3Config описывает бакет для документов. Endpoint задаётся для S3-совместимых хранилищ (MinIO).
type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	Prefix     string
	PublicBase string
	PresignTTL time.Duration
	Timeout    time.Duration
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedURL, error)
}

// PresignedURL: подписанная ссылка на объект.
type PresignedURL struct {
	URL string
}

type s3Presigner struct {
	client *s3.PresignClient
}

func (p s3Presigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedURL, error) {
	req, err := p.client.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &PresignedURL{URL: req.URL}, nil
}

// S3Storage загружает документы в S3.
type S3Storage struct {
	cfg     S3Config
	api     s3API
	presign presignAPI
}

// NewS3Storage собирает клиент из конфигурации AWS SDK.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Storage(cfg, client, s3Presigner{client: s3.NewPresignClient(client)}), nil
}

func newS3Storage(cfg S3Config, api s3API, presign presignAPI) *S3Storage {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultUploadTimeout
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	cfg.PublicBase = strings.TrimRight(cfg.PublicBase, "/")
	return &S3Storage{cfg: cfg, api: api, presign: presign}
}

// Upload кладёт файл в бакет. Если задан PublicBase, ссылка строится от него,
// иначе выдаётся подписанная ссылка на PresignTTL.
func (s *S3Storage) Upload(ctx context.Context, data []byte, name string) (string, error) {
	key, err := s.objectKey(name)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(name)),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	if s.cfg.PublicBase != "" {
		return s.cfg.PublicBase + "/" + escapeKey(key), nil
	}
	signed, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = s.cfg.PresignTTL
	})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return signed.URL, nil
}

func (s *S3Storage) objectKey(name string) (string, error) {
	name = strings.TrimLeft(path.Clean("/"+strings.TrimSpace(name)), "/")
	if name == "" || name == "." {
		return "", errors.New("object name is required")
	}
	if s.cfg.Prefix == "" {
		return name, nil
	}
	return strings.Trim(s.cfg.Prefix, "/") + "/" + name, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
