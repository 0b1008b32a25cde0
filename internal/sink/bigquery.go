package sink

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jittakal/kafwarehouse/internal/config/dto"
	"github.com/jittakal/kafwarehouse/internal/errors"
	"github.com/jittakal/kafwarehouse/internal/retry"
	"github.com/jittakal/kafwarehouse/pkg/event"
	pkgsink "github.com/jittakal/kafwarehouse/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgsink.Sink = (*BigQuerySink)(nil)

// BigQuerySink appends fired windows to a BigQuery table via the streaming
// insert API. Inserts carry no dedupe id, so redelivered windows may append
// duplicate rows. Downstream consumers dedupe on (id, __lsn).
type BigQuerySink struct {
	client  *bigquery.Client
	dataset string
	table   string
	retry   retry.Config
	logger  *slog.Logger
	metrics MetricsCollector
}

// NewBigQuerySink creates a new BigQuery sink.
func NewBigQuerySink(
	ctx context.Context,
	config dto.BigQueryConfig,
	retryConfig retry.Config,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*BigQuerySink, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	}
	if config.Endpoint != "" {
		opts = append(opts,
			option.WithEndpoint(config.Endpoint),
			option.WithoutAuthentication(),
		)
	}

	client, err := bigquery.NewClient(ctx, config.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}

	return &BigQuerySink{
		client:  client,
		dataset: config.Dataset,
		table:   config.Table,
		retry:   retryConfig,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// TableSchema returns the warehouse table schema. The field order is part
// of the table contract.
func TableSchema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "id", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "first_name", Type: bigquery.StringFieldType},
		{Name: "last_name", Type: bigquery.StringFieldType},
		{Name: "email", Type: bigquery.StringFieldType},
		{Name: "__op", Type: bigquery.StringFieldType, Required: true},
		{Name: "__source_ts_ms", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "__lsn", Type: bigquery.IntegerFieldType, Required: true},
	}
}

// Open ensures the destination table exists, creating it when missing.
func (s *BigQuerySink) Open(ctx context.Context) error {
	tableRef := s.client.Dataset(s.dataset).Table(s.table)

	_, err := tableRef.Metadata(ctx)
	if err == nil {
		s.logger.Info("bigquery sink opened",
			"dataset", s.dataset,
			"table", s.table,
		)
		return nil
	}
	if !isNotFound(err) {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("bigquery", "metadata")
		}
		return &errors.SinkWriteError{Destination: "bigquery", Operation: "metadata", Err: err}
	}

	createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: TableSchema()})
	if createErr != nil && !isAlreadyExists(createErr) {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("bigquery", "create")
		}
		return &errors.SinkWriteError{Destination: "bigquery", Operation: "create", Err: createErr}
	}

	s.logger.Info("bigquery table created",
		"dataset", s.dataset,
		"table", s.table,
	)
	return nil
}

// Append streams the window's rows into the table, retrying transient
// failures with exponential backoff.
func (s *BigQuerySink) Append(ctx context.Context, w event.Window, rows []event.Row) error {
	if len(rows) == 0 {
		return nil
	}

	savers := make([]*rowSaver, len(rows))
	for i := range rows {
		savers[i] = &rowSaver{row: rows[i]}
	}

	startTime := time.Now()
	inserter := s.client.Dataset(s.dataset).Table(s.table).Inserter()

	err := retry.Do(ctx, s.retry, func() error {
		if err := inserter.Put(ctx, savers); err != nil {
			return &errors.SinkWriteError{Destination: "bigquery", Operation: "append", Err: err}
		}
		return nil
	}, func(err error, next time.Duration) {
		if s.metrics != nil {
			s.metrics.IncSinkRetries("bigquery")
		}
		s.logger.Warn("bigquery append failed, retrying",
			"window", w.String(),
			"next_attempt_in", next,
			"error", err,
		)
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncSinkErrors("bigquery", "append")
			s.metrics.AddRowsAppended("bigquery", "error", len(rows))
		}
		return fmt.Errorf("failed to append window %s: %w", w, err)
	}

	duration := time.Since(startTime)
	s.logger.Info("appended window to bigquery",
		"window", w.String(),
		"row_count", len(rows),
		"duration_ms", duration.Milliseconds(),
	)

	if s.metrics != nil {
		s.metrics.AddRowsAppended("bigquery", "success", len(rows))
		s.metrics.ObserveAppendDuration("bigquery", duration.Seconds())
	}
	return nil
}

// Close closes the underlying client.
func (s *BigQuerySink) Close() error {
	s.logger.Info("closing bigquery sink")
	return s.client.Close()
}

// rowSaver adapts an event.Row to the streaming insert API. InsertID is
// left empty so BigQuery performs no best-effort dedupe.
type rowSaver struct {
	row event.Row
}

var _ bigquery.ValueSaver = (*rowSaver)(nil)

func (r *rowSaver) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"id":             r.row.ID,
		"first_name":     r.row.FirstName,
		"last_name":      r.row.LastName,
		"email":          r.row.Email,
		"__op":           r.row.Op,
		"__source_ts_ms": r.row.SourceTsMs,
		"__lsn":          r.row.LSN,
	}, bigquery.NoDedupeID, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return stderrors.As(err, &apiErr) && apiErr.Code == 404
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return stderrors.As(err, &apiErr) && apiErr.Code == 409
}
