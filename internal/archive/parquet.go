package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/hookrelay/hookrelay/internal/store"
)

// MessageRow is the flattened structure for Parquet storage. The schema is
// optimized for analytics queries via Hive/Athena.
type MessageRow struct {
	ID              string `parquet:"id,snappy"`
	WebhookConfigID string `parquet:"webhook_config_id,snappy,dict"`
	Status          string `parquet:"status,snappy,dict"`
	TargetURL       string `parquet:"target_url,snappy,dict"`
	Signature       string `parquet:"signature,snappy"`
	RetryCount      int32  `parquet:"retry_count"`
	LastError       string `parquet:"last_error,snappy,optional"`
	CreatedAtMS     int64  `parquet:"created_at_ms"`
	UpdatedAtMS     int64  `parquet:"updated_at_ms"`

	// Payload as JSON for querying
	PayloadJSON string `parquet:"payload_json,snappy"`

	// Partition columns (for Hive partitioning)
	Year  int `parquet:"year,dict"`
	Month int `parquet:"month,dict"`
	Day   int `parquet:"day,dict"`
}

// MessageRowFromStore flattens a stored message into a row. Partition
// columns derive from the message creation time in UTC.
func MessageRowFromStore(msg *store.Message) MessageRow {
	created := msg.CreatedAt.UTC()
	row := MessageRow{
		ID:              msg.ID,
		WebhookConfigID: msg.WebhookConfigID,
		Status:          string(msg.Status),
		TargetURL:       msg.TargetURL,
		Signature:       msg.Signature,
		RetryCount:      int32(msg.RetryCount),
		CreatedAtMS:     created.UnixMilli(),
		UpdatedAtMS:     msg.UpdatedAt.UTC().UnixMilli(),
		PayloadJSON:     string(msg.Payload),
		Year:            created.Year(),
		Month:           int(created.Month()),
		Day:             created.Day(),
	}
	if msg.LastError != nil {
		row.LastError = *msg.LastError
	}
	return row
}

// PartitionDate returns the row's partition day as a time value.
func (r MessageRow) PartitionDate() time.Time {
	return time.Date(r.Year, time.Month(r.Month), r.Day, 0, 0, 0, 0, time.UTC)
}

// ParquetWriter handles writing message rows to Parquet format.
type ParquetWriter struct {
	config ParquetConfig
}

// NewParquetWriter creates a new Parquet writer.
func NewParquetWriter(cfg ParquetConfig) *ParquetWriter {
	return &ParquetWriter{
		config: cfg,
	}
}

// Write writes a batch of message rows to Parquet format and returns the bytes.
func (w *ParquetWriter) Write(rows []MessageRow) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to write")
	}

	var buf bytes.Buffer

	writer := parquet.NewGenericWriter[MessageRow](&buf,
		parquet.Compression(w.compressionCodec()),
		parquet.CreatedBy("hookrelay-archive", "1.0.0", ""),
	)

	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("failed to write rows: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

func (w *ParquetWriter) compressionCodec() compress.Codec {
	switch w.config.Compression {
	case "snappy":
		return &parquet.Snappy
	case "gzip":
		return &parquet.Gzip
	case "zstd":
		return &parquet.Zstd
	case "none":
		return &parquet.Uncompressed
	default:
		return &parquet.Snappy
	}
}
