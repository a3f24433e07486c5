package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hookrelay/hookrelay/internal/observability"
	"github.com/hookrelay/hookrelay/internal/store"
)

// Archiver writes batches of terminal messages to object storage, one
// Parquet file per (configuration, day) partition.
type Archiver struct {
	writer  *ParquetWriter
	s3      *S3Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewArchiver creates an archiver. metrics is optional.
func NewArchiver(writer *ParquetWriter, s3 *S3Client, metrics *observability.Metrics, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer:  writer,
		s3:      s3,
		metrics: metrics,
		logger:  logger.With("component", "archiver"),
	}
}

type partitionKey struct {
	configID string
	year     int
	month    int
	day      int
}

// Archive writes the given messages to S3. All partitions must upload
// before the caller may purge the batch; a failed upload aborts the run
// so no message is deleted without a durable copy.
func (a *Archiver) Archive(ctx context.Context, messages []*store.Message) error {
	if len(messages) == 0 {
		return nil
	}

	groups := make(map[partitionKey][]MessageRow)
	for _, msg := range messages {
		row := MessageRowFromStore(msg)
		key := partitionKey{
			configID: row.WebhookConfigID,
			year:     row.Year,
			month:    row.Month,
			day:      row.Day,
		}
		groups[key] = append(groups[key], row)
	}

	for key, rows := range groups {
		data, err := a.writer.Write(rows)
		if err != nil {
			return fmt.Errorf("failed to encode partition: %w", err)
		}

		objectKey := a.s3.GenerateKey(key.configID, key.year, key.month, key.day)
		if err := a.s3.Upload(ctx, objectKey, data); err != nil {
			return fmt.Errorf("failed to upload partition %s: %w", objectKey, err)
		}

		a.logger.Info("archived partition",
			"key", objectKey,
			"rows", len(rows),
			"size_bytes", len(data),
		)
		if a.metrics != nil {
			a.metrics.ArchiveFilesWritten.Add(ctx, 1)
			a.metrics.ArchiveFileSize.Record(ctx, int64(len(data)))
		}
	}

	return nil
}
