package sink

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/jittakal/kafwarehouse/internal/config/dto"
	"github.com/jittakal/kafwarehouse/internal/retry"
	"github.com/jittakal/kafwarehouse/pkg/event"
)

func TestTableSchemaFieldOrder(t *testing.T) {
	want := []string{"id", "first_name", "last_name", "email", "__op", "__source_ts_ms", "__lsn"}

	schema := TableSchema()
	if len(schema) != len(want) {
		t.Fatalf("schema has %d fields, want %d", len(schema), len(want))
	}
	for i, name := range want {
		if schema[i].Name != name {
			t.Errorf("field %d = %q, want %q", i, schema[i].Name, name)
		}
	}
}

func TestRowSaver(t *testing.T) {
	saver := &rowSaver{row: event.Row{
		ID:         1004,
		FirstName:  "Anne",
		LastName:   "Kretchmar",
		Email:      "annek@noanswer.org",
		Op:         "create",
		SourceTsMs: 1_700_000_000_000,
		LSN:        33558736,
	}}

	values, insertID, err := saver.Save()
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if insertID != bigquery.NoDedupeID {
		t.Errorf("insertID = %q, want NoDedupeID", insertID)
	}

	want := map[string]bigquery.Value{
		"id":             int64(1004),
		"first_name":     "Anne",
		"last_name":      "Kretchmar",
		"email":          "annek@noanswer.org",
		"__op":           "create",
		"__source_ts_ms": int64(1_700_000_000_000),
		"__lsn":          int64(33558736),
	}
	for key, wantVal := range want {
		if values[key] != wantVal {
			t.Errorf("values[%q] = %v, want %v", key, values[key], wantVal)
		}
	}
	if len(values) != len(want) {
		t.Errorf("Save() produced %d values, want %d", len(values), len(want))
	}
}

// fakeBigQuery serves just enough of the table API to exercise Open: the
// table is always reported missing, the first create wins and every later
// create conflicts.
func fakeBigQuery(creates *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/tables/customers"):
			http.Error(w, `{"error":{"code":404,"message":"Not found: Table"}}`, http.StatusNotFound)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/tables"):
			if creates.Add(1) > 1 {
				http.Error(w, `{"error":{"code":409,"message":"Already Exists: Table"}}`, http.StatusConflict)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"tableReference":{"projectId":"cdc","datasetId":"warehouse","tableId":"customers"}}`)
		default:
			http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
		}
	})
}

func TestBigQuerySinkOpenConcurrentCreate(t *testing.T) {
	var creates atomic.Int32
	server := httptest.NewServer(fakeBigQuery(&creates))
	defer server.Close()

	ctx := context.Background()
	cfg := dto.BigQueryConfig{
		Project:  "cdc",
		Dataset:  "warehouse",
		Table:    "customers",
		Endpoint: server.URL,
	}

	open := func() error {
		s, err := NewBigQuerySink(ctx, cfg, retry.Config{MaxAttempts: 1}, testLogger(), nil)
		if err != nil {
			return err
		}
		defer s.Close()
		return s.Open(ctx)
	}

	// Both opens observe the missing table and race to create it. The loser
	// gets a conflict back and must treat the table as present.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- open() }()
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Open() error = %v, want nil", err)
		}
	}

	if got := creates.Load(); got != 2 {
		t.Errorf("create calls = %d, want 2", got)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		name              string
		err               error
		wantNotFound      bool
		wantAlreadyExists bool
	}{
		{
			name:         "table not found",
			err:          &googleapi.Error{Code: 404, Message: "Not found: Table"},
			wantNotFound: true,
		},
		{
			name:              "table already exists",
			err:               &googleapi.Error{Code: 409, Message: "Already Exists: Table"},
			wantAlreadyExists: true,
		},
		{
			name:         "wrapped not found",
			err:          fmt.Errorf("metadata: %w", &googleapi.Error{Code: 404}),
			wantNotFound: true,
		},
		{
			name: "server error is neither",
			err:  &googleapi.Error{Code: 500},
		},
		{
			name: "plain error is neither",
			err:  fmt.Errorf("connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.wantNotFound {
				t.Errorf("isNotFound() = %v, want %v", got, tt.wantNotFound)
			}
			if got := isAlreadyExists(tt.err); got != tt.wantAlreadyExists {
				t.Errorf("isAlreadyExists() = %v, want %v", got, tt.wantAlreadyExists)
			}
		})
	}
}
