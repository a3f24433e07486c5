package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Client handles S3/MinIO operations for the archive bucket.
type S3Client struct {
	client *s3.Client
	config S3Config
	logger *slog.Logger
}

// NewS3Client creates a new S3 client.
func NewS3Client(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = cfg.UsePathStyle
	})

	s3Client := &S3Client{
		client: client,
		config: cfg,
		logger: logger.With("component", "s3-client"),
	}

	logger.Info("S3 client created",
		"endpoint", cfg.Endpoint,
		"bucket", cfg.Bucket,
		"region", cfg.Region,
	)

	return s3Client, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *S3Client) EnsureBucket(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.config.Bucket),
	})
	if err == nil {
		c.logger.Debug("bucket exists", "bucket", c.config.Bucket)
		return nil
	}

	c.logger.Info("creating bucket", "bucket", c.config.Bucket)
	_, err = c.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(c.config.Bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	c.logger.Info("bucket created", "bucket", c.config.Bucket)
	return nil
}

// Upload uploads a Parquet file to S3.
func (c *S3Client) Upload(ctx context.Context, key string, data []byte) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-parquet"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	c.logger.Debug("uploaded to S3",
		"key", key,
		"size_bytes", len(data),
	)

	return nil
}

// GenerateKey generates an S3 key for the given partition.
// Format: {prefix}/webhook_config_id={cfg}/year={y}/month={m}/day={d}/messages_{uuid}.parquet.
func (c *S3Client) GenerateKey(configID string, year, month, day int) string {
	fileUUID := uuid.New().String()
	return fmt.Sprintf(
		"%s/webhook_config_id=%s/year=%d/month=%02d/day=%02d/messages_%s.parquet",
		c.config.Prefix,
		configID,
		year,
		month,
		day,
		fileUUID,
	)
}

// HealthCheck performs a health check on the S3 connection.
func (c *S3Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.config.Bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}

	return nil
}

// ListPartitions lists the day partitions stored for one configuration.
func (c *S3Client) ListPartitions(ctx context.Context, configID string) ([]string, error) {
	prefix := fmt.Sprintf("%s/webhook_config_id=%s/", c.config.Prefix, configID)

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.config.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var partitions []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list partitions: %w", err)
		}

		for _, cp := range page.CommonPrefixes {
			if cp.Prefix != nil {
				partitions = append(partitions, *cp.Prefix)
			}
		}
	}

	return partitions, nil
}
