// Package archive writes terminal messages to object storage as Parquet
// files before the janitor purges them, keeping a queryable audit trail
// beyond the database retention window.
package archive

import (
	"time"
)

// Config holds archival configuration.
type Config struct {
	// Enabled turns archival on. When false the janitor purges without
	// writing archives.
	Enabled bool `env:"ENABLED" envDefault:"false"`

	// S3 configuration
	S3 S3Config `envPrefix:"S3_"`

	// Parquet configuration
	Parquet ParquetConfig `envPrefix:"PARQUET_"`
}

// S3Config holds S3/MinIO configuration.
type S3Config struct {
	// Endpoint is the S3 endpoint URL (e.g., "http://localhost:9000" for MinIO)
	Endpoint string `env:"ENDPOINT" envDefault:"http://localhost:9000"`

	// Region is the AWS region
	Region string `env:"REGION" envDefault:"us-east-1"`

	// Bucket is the S3 bucket name
	Bucket string `env:"BUCKET" envDefault:"hookrelay-archive"`

	// AccessKeyID is the AWS access key ID
	AccessKeyID string `env:"ACCESS_KEY_ID" envDefault:"minioadmin"`

	// SecretAccessKey is the AWS secret access key
	SecretAccessKey string `env:"SECRET_ACCESS_KEY" envDefault:"minioadmin"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `env:"USE_PATH_STYLE" envDefault:"true"`

	// Prefix is the key prefix for all objects
	Prefix string `env:"PREFIX" envDefault:"messages"`
}

// ParquetConfig holds Parquet writer configuration.
type ParquetConfig struct {
	// Compression is the compression codec (snappy, gzip, zstd, none)
	Compression string `env:"COMPRESSION" envDefault:"snappy"`
}

// HealthCheckTimeout bounds S3 health probes.
const HealthCheckTimeout = 5 * time.Second
