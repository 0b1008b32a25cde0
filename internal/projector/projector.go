// Package projector maps decoded change records onto the flat warehouse row.
package projector

import (
	"fmt"

	"github.com/jittakal/kafwarehouse/internal/errors"
	"github.com/jittakal/kafwarehouse/pkg/event"
)

// Projector is the stateless, pure mapping DecodedRecord -> Row.
//
// The decoder is responsible for rejecting malformed records before they
// reach this stage; a mismatch here is an internal invariant violation, not
// a recoverable input error.
type Projector struct{}

// New creates a projector.
func New() *Projector {
	return &Projector{}
}

// Project produces the row for one change record. Field order of the
// resulting Row matches the declared target schema exactly.
func (p *Projector) Project(record *event.DecodedRecord) (event.Row, error) {
	if record == nil {
		return event.Row{}, &errors.InvariantViolation{
			Stage:  "projector",
			Reason: "nil record reached projection",
		}
	}

	op, err := operationName(record.Op)
	if err != nil {
		return event.Row{}, err
	}

	return event.Row{
		ID:         record.ID,
		FirstName:  record.FirstName,
		LastName:   record.LastName,
		Email:      record.Email,
		Op:         op,
		SourceTsMs: record.SourceTsMs,
		LSN:        record.LSN,
	}, nil
}

// operationName expands a connector op code to the row's operation name.
func operationName(code string) (string, error) {
	switch code {
	case event.OpCodeCreate:
		return event.OpCreate, nil
	case event.OpCodeUpdate:
		return event.OpUpdate, nil
	case event.OpCodeDelete:
		return event.OpDelete, nil
	case event.OpCodeRead:
		return event.OpRead, nil
	default:
		return "", &errors.InvariantViolation{
			Stage:  "projector",
			Reason: fmt.Sprintf("operation code %q passed the decoder contract", code),
		}
	}
}
