// Package decoder resolves schema-registry-framed payloads into typed
// change records.
package decoder

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/linkedin/goavro/v2"
	"github.com/riferrei/srclient"

	"github.com/jittakal/kafwarehouse/internal/errors"
	"github.com/jittakal/kafwarehouse/pkg/event"
)

// Payloads follow the registry wire convention: one magic byte, a 4-byte
// big-endian schema id, then the Avro binary body.
const (
	magicByte    = 0x00
	headerLength = 5
)

// SchemaResolver resolves a writer schema definition by id.
// Registry schemas are immutable once published, so a resolved schema may be
// cached for the process lifetime.
type SchemaResolver interface {
	Resolve(schemaID int) (string, error)
}

// MetricsCollector defines metrics operations for the decoder.
type MetricsCollector interface {
	IncSchemaCacheHit()
	IncSchemaCacheMiss()
	IncDecodeFailures(reason string)
}

// Config contains schema registry client configuration.
type Config struct {
	URL     string
	Timeout time.Duration
}

// registryResolver resolves schemas against a Confluent-compatible registry.
type registryResolver struct {
	client *srclient.SchemaRegistryClient
}

func (r *registryResolver) Resolve(schemaID int) (string, error) {
	schema, err := r.client.GetSchema(schemaID)
	if err != nil {
		return "", err
	}
	return schema.Schema(), nil
}

// Decoder decodes registry-framed change events into DecodedRecord values.
//
// Resolved codecs are cached for the process lifetime, keyed by schema id.
// The cache is shared, read-mostly state: concurrent reads with rare writes
// on miss. A Decoder is constructed explicitly and handed to each processing
// unit; it holds the registry client resource and releases it in Close.
type Decoder struct {
	resolver SchemaResolver
	logger   *slog.Logger
	metrics  MetricsCollector

	mu     sync.RWMutex
	codecs map[int]*goavro.Codec
}

// New creates a decoder backed by the schema registry at cfg.URL.
func New(cfg Config, logger *slog.Logger, metrics MetricsCollector) *Decoder {
	client := srclient.NewSchemaRegistryClient(cfg.URL)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	logger.Info("schema registry decoder created", "url", cfg.URL)

	return NewWithResolver(&registryResolver{client: client}, logger, metrics)
}

// NewWithResolver creates a decoder with a custom schema resolver.
func NewWithResolver(resolver SchemaResolver, logger *slog.Logger, metrics MetricsCollector) *Decoder {
	return &Decoder{
		resolver: resolver,
		logger:   logger,
		metrics:  metrics,
		codecs:   make(map[int]*goavro.Codec),
	}
}

// Decode resolves the embedded schema id and decodes value into a typed
// record. It returns a SchemaResolutionError for unknown schema ids and a
// ContractViolation for malformed payloads or missing/mistyped required
// fields. No partially decoded record is ever returned.
func (d *Decoder) Decode(value []byte) (*event.DecodedRecord, error) {
	if len(value) < headerLength {
		d.failDecode("malformed_frame")
		return nil, &errors.ContractViolation{
			Reason: fmt.Sprintf("payload too short: %d bytes, want at least %d", len(value), headerLength),
		}
	}
	if value[0] != magicByte {
		d.failDecode("malformed_frame")
		return nil, &errors.ContractViolation{
			Reason: fmt.Sprintf("unexpected magic byte 0x%02x", value[0]),
		}
	}

	schemaID := int(binary.BigEndian.Uint32(value[1:headerLength]))

	codec, err := d.codec(schemaID)
	if err != nil {
		d.failDecode("schema_resolution")
		return nil, err
	}

	native, _, err := codec.NativeFromBinary(value[headerLength:])
	if err != nil {
		d.failDecode("malformed_payload")
		return nil, &errors.ContractViolation{
			SchemaID: schemaID,
			Reason:   fmt.Sprintf("avro decode failed: %v", err),
		}
	}

	fields, ok := native.(map[string]interface{})
	if !ok {
		d.failDecode("malformed_payload")
		return nil, &errors.ContractViolation{
			SchemaID: schemaID,
			Reason:   fmt.Sprintf("decoded value is %T, want record", native),
		}
	}

	record, err := extractRecord(schemaID, fields)
	if err != nil {
		d.failDecode("contract_violation")
		return nil, err
	}

	return record, nil
}

// Close releases the decoder's registry resources and clears the cache.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codecs = make(map[int]*goavro.Codec)
	d.logger.Info("schema registry decoder closed")
	return nil
}

// codec returns the cached codec for the schema id, resolving it against
// the registry on first use. Double-checked locking: the common path is a
// read-lock cache hit.
func (d *Decoder) codec(schemaID int) (*goavro.Codec, error) {
	d.mu.RLock()
	codec, exists := d.codecs[schemaID]
	d.mu.RUnlock()

	if exists {
		if d.metrics != nil {
			d.metrics.IncSchemaCacheHit()
		}
		return codec, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if codec, exists := d.codecs[schemaID]; exists {
		if d.metrics != nil {
			d.metrics.IncSchemaCacheHit()
		}
		return codec, nil
	}

	if d.metrics != nil {
		d.metrics.IncSchemaCacheMiss()
	}

	schema, err := d.resolver.Resolve(schemaID)
	if err != nil {
		return nil, &errors.SchemaResolutionError{SchemaID: schemaID, Err: err}
	}

	codec, err = goavro.NewCodec(schema)
	if err != nil {
		return nil, &errors.SchemaResolutionError{
			SchemaID: schemaID,
			Err:      fmt.Errorf("invalid schema definition: %w", err),
		}
	}

	d.codecs[schemaID] = codec
	d.logger.Debug("resolved and cached schema", "schema_id", schemaID)
	return codec, nil
}

func (d *Decoder) failDecode(reason string) {
	if d.metrics != nil {
		d.metrics.IncDecodeFailures(reason)
	}
}

// extractRecord enforces the decode contract over the raw Avro field map.
func extractRecord(schemaID int, fields map[string]interface{}) (*event.DecodedRecord, error) {
	id, err := int64Field(schemaID, fields, "id")
	if err != nil {
		return nil, err
	}
	firstName, err := stringField(schemaID, fields, "first_name")
	if err != nil {
		return nil, err
	}
	lastName, err := stringField(schemaID, fields, "last_name")
	if err != nil {
		return nil, err
	}
	email, err := stringField(schemaID, fields, "email")
	if err != nil {
		return nil, err
	}
	op, err := stringField(schemaID, fields, "__op")
	if err != nil {
		return nil, err
	}
	switch op {
	case event.OpCodeCreate, event.OpCodeUpdate, event.OpCodeDelete, event.OpCodeRead:
	default:
		return nil, &errors.ContractViolation{
			SchemaID: schemaID,
			Field:    "__op",
			Reason:   fmt.Sprintf("unknown operation code %q", op),
		}
	}
	sourceTs, err := int64Field(schemaID, fields, "__source_ts_ms")
	if err != nil {
		return nil, err
	}
	lsn, err := int64Field(schemaID, fields, "__lsn")
	if err != nil {
		return nil, err
	}

	return &event.DecodedRecord{
		SchemaID:   schemaID,
		ID:         id,
		FirstName:  firstName,
		LastName:   lastName,
		Email:      email,
		Op:         op,
		SourceTsMs: sourceTs,
		LSN:        lsn,
	}, nil
}

// unwrapUnion unwraps goavro's single-entry union representation
// (e.g. map["string"]v for ["null","string"] schemas).
func unwrapUnion(v interface{}) interface{} {
	if union, ok := v.(map[string]interface{}); ok && len(union) == 1 {
		for _, inner := range union {
			return inner
		}
	}
	return v
}

func stringField(schemaID int, fields map[string]interface{}, name string) (string, error) {
	raw, present := fields[name]
	if !present || raw == nil {
		return "", &errors.ContractViolation{SchemaID: schemaID, Field: name, Reason: "required field is missing"}
	}
	s, ok := unwrapUnion(raw).(string)
	if !ok {
		return "", &errors.ContractViolation{
			SchemaID: schemaID,
			Field:    name,
			Reason:   fmt.Sprintf("value of type %T, want string", raw),
		}
	}
	return s, nil
}

func int64Field(schemaID int, fields map[string]interface{}, name string) (int64, error) {
	raw, present := fields[name]
	if !present || raw == nil {
		return 0, &errors.ContractViolation{SchemaID: schemaID, Field: name, Reason: "required field is missing"}
	}
	switch v := unwrapUnion(raw).(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	default:
		return 0, &errors.ContractViolation{
			SchemaID: schemaID,
			Field:    name,
			Reason:   fmt.Sprintf("value of type %T, want integer", raw),
		}
	}
}
