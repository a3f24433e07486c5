package observability

import (
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments used across the delivery pipeline.
// Instruments are created once at startup and shared with middleware,
// handlers, and service components.
type Metrics struct {
	// HTTP metrics
	HTTPRequestDuration otelmetric.Float64Histogram
	HTTPRequestTotal    otelmetric.Int64Counter
	HTTPRequestErrors   otelmetric.Int64Counter

	// Intake metrics
	MessagesAccepted otelmetric.Int64Counter
	MessagesDeduped  otelmetric.Int64Counter

	// Delivery metrics
	DeliveryAttempts  otelmetric.Int64Counter
	DeliverySuccess   otelmetric.Int64Counter
	DeliveryFailure   otelmetric.Int64Counter
	DeliveryDuration  otelmetric.Float64Histogram
	MessagesExpired   otelmetric.Int64Counter
	MessagesCancelled otelmetric.Int64Counter

	// Scheduler metrics
	RetriesEnqueued  otelmetric.Int64Counter
	ZombiesRecovered otelmetric.Int64Counter
	PendingRescued   otelmetric.Int64Counter

	// Bus metrics
	BusTasksPublished otelmetric.Int64Counter
	BusTasksProcessed otelmetric.Int64Counter

	// Janitor and archive metrics
	MessagesPurged       otelmetric.Int64Counter
	ArchiveFilesWritten  otelmetric.Int64Counter
	ArchiveFileSize      otelmetric.Int64Histogram
	JanitorRunDuration   otelmetric.Float64Histogram
	HealthFlushesApplied otelmetric.Int64Counter
}

// NewMetrics creates all metric instruments from the given Meter.
// Each instrument is created with a descriptive name, unit, and description
// following OpenTelemetry semantic conventions.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http.request.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestTotal, err = meter.Int64Counter(
		"http.request.total",
		otelmetric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestErrors, err = meter.Int64Counter(
		"http.request.errors",
		otelmetric.WithDescription("HTTP request errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, err
	}

	// Intake metrics
	m.MessagesAccepted, err = meter.Int64Counter(
		"messages.accepted",
		otelmetric.WithDescription("Messages accepted for delivery"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesDeduped, err = meter.Int64Counter(
		"messages.deduped",
		otelmetric.WithDescription("Messages dropped by the duplicate pre-filter"),
	)
	if err != nil {
		return nil, err
	}

	// Delivery metrics
	m.DeliveryAttempts, err = meter.Int64Counter(
		"delivery.attempts",
		otelmetric.WithDescription("Delivery attempts made"),
	)
	if err != nil {
		return nil, err
	}

	m.DeliverySuccess, err = meter.Int64Counter(
		"delivery.success",
		otelmetric.WithDescription("Deliveries acknowledged with 2xx"),
	)
	if err != nil {
		return nil, err
	}

	m.DeliveryFailure, err = meter.Int64Counter(
		"delivery.failure",
		otelmetric.WithDescription("Delivery attempts that failed"),
	)
	if err != nil {
		return nil, err
	}

	m.DeliveryDuration, err = meter.Float64Histogram(
		"delivery.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Destination round-trip time in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesExpired, err = meter.Int64Counter(
		"messages.expired",
		otelmetric.WithDescription("Messages terminally failed for exceeding max age"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagesCancelled, err = meter.Int64Counter(
		"messages.cancelled",
		otelmetric.WithDescription("Messages cancelled by operators"),
	)
	if err != nil {
		return nil, err
	}

	// Scheduler metrics
	m.RetriesEnqueued, err = meter.Int64Counter(
		"scheduler.retries.enqueued",
		otelmetric.WithDescription("Due retries re-enqueued by the scheduler"),
	)
	if err != nil {
		return nil, err
	}

	m.ZombiesRecovered, err = meter.Int64Counter(
		"scheduler.zombies.recovered",
		otelmetric.WithDescription("Stuck processing messages reverted to retryable"),
	)
	if err != nil {
		return nil, err
	}

	m.PendingRescued, err = meter.Int64Counter(
		"scheduler.pending.rescued",
		otelmetric.WithDescription("Aged pending messages re-enqueued by the scheduler"),
	)
	if err != nil {
		return nil, err
	}

	// Bus metrics
	m.BusTasksPublished, err = meter.Int64Counter(
		"bus.tasks.published",
		otelmetric.WithDescription("Delivery tasks published to the bus"),
	)
	if err != nil {
		return nil, err
	}

	m.BusTasksProcessed, err = meter.Int64Counter(
		"bus.tasks.processed",
		otelmetric.WithDescription("Delivery tasks consumed from the bus"),
	)
	if err != nil {
		return nil, err
	}

	// Janitor and archive metrics
	m.MessagesPurged, err = meter.Int64Counter(
		"janitor.messages.purged",
		otelmetric.WithDescription("Terminal messages deleted by retention"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveFilesWritten, err = meter.Int64Counter(
		"archive.files.written",
		otelmetric.WithDescription("Archive files written to object storage"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveFileSize, err = meter.Int64Histogram(
		"archive.file.size",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Archive file sizes in bytes"),
	)
	if err != nil {
		return nil, err
	}

	m.JanitorRunDuration, err = meter.Float64Histogram(
		"janitor.run.duration",
		otelmetric.WithUnit("ms"),
		otelmetric.WithDescription("Janitor run duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	m.HealthFlushesApplied, err = meter.Int64Counter(
		"health.flushes.applied",
		otelmetric.WithDescription("Health stat flushes written to the store"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}
