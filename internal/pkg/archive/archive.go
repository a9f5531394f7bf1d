package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// Archiver stores expired ledger rows before they are deleted.
type Archiver interface {
	Archive(ctx context.Context, events []models.ProcessedEvent) error
}

// Config holds S3 archive configuration
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // Optional for S3-compatible services
	AccessKey string
	SecretKey string
	Prefix    string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each batch as one newline delimited JSON object.
type S3Archiver struct {
	api    putObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver creates an S3 client from cfg.
func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	log.Infof("[Archive] Archiving expired processed events to s3://%s/%s", cfg.Bucket, cfg.Prefix)
	return newS3Archiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Archiver(api putObjectAPI, bucket, prefix string) *S3Archiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archiver{
		api:    api,
		bucket: bucket,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Archive uploads events. An empty batch is a no-op.
func (a *S3Archiver) Archive(ctx context.Context, events []models.ProcessedEvent) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("encode processed event %d: %w", events[i].ID, err)
		}
	}

	key := a.objectKey(events)
	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", a.bucket, key, err)
	}
	log.Debugf("[Archive] Archived %d processed events to s3://%s/%s", len(events), a.bucket, key)
	return nil
}

// objectKey: <prefix>YYYY/MM/DD/<first id>-<last id>.ndjson
func (a *S3Archiver) objectKey(events []models.ProcessedEvent) string {
	now := a.now()
	return fmt.Sprintf("%s%04d/%02d/%02d/%d-%d.ndjson",
		a.prefix, now.Year(), int(now.Month()), now.Day(), events[0].ID, events[len(events)-1].ID)
}
