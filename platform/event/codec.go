package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// SchemaVersion is written into every envelope. Decode rejects other versions.
const SchemaVersion = 1

// ErrMalformed marks a body that does not match the schema of its declared kind.
// Consumers acknowledge such messages without touching any ledger.
var ErrMalformed = errors.New("malformed event")

// Envelope is the wire record.
type Envelope struct {
	EventID       string          `json:"event_id"`
	Kind          Kind            `json:"kind"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// Decoded is an envelope together with its typed payload.
type Decoded struct {
	Envelope
	Event Event
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Encode wraps e into a fresh envelope and serializes it.
func Encode(e Event) ([]byte, error) {
	if err := validate.Struct(e); err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(Envelope{
		EventID:       uuid.NewString(),
		Kind:          e.Kind(),
		Version:       SchemaVersion,
		CorrelationID: e.CorrelationID(),
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	})
}

// Decode parses and validates body. Every failure wraps ErrMalformed.
func Decode(body []byte) (Decoded, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Decoded{}, &ParseError{Field: "envelope", Message: err.Error()}
	}
	if env.Version != SchemaVersion {
		return Decoded{Envelope: env}, &ParseError{Field: "version", Message: fmt.Sprintf("unsupported schema version %d", env.Version)}
	}
	if env.CorrelationID == "" {
		return Decoded{Envelope: env}, &ParseError{Field: "correlation_id", Message: "correlation_id is required"}
	}

	ev, err := newPayload(env.Kind)
	if err != nil {
		return Decoded{Envelope: env}, err
	}

	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(ev); err != nil {
		return Decoded{Envelope: env}, &ParseError{Field: "payload", Message: err.Error()}
	}
	if err := validate.Struct(ev); err != nil {
		return Decoded{Envelope: env}, &ParseError{Field: "payload", Message: err.Error()}
	}

	typed := deref(ev)
	if typed.CorrelationID() != env.CorrelationID {
		return Decoded{Envelope: env}, &ParseError{Field: "correlation_id", Message: "correlation_id does not match payload order_id"}
	}
	return Decoded{Envelope: env, Event: typed}, nil
}

// newPayload returns a pointer to the zero payload for kind.
func newPayload(k Kind) (any, error) {
	switch k {
	case KindReservePayment:
		return &ReservePayment{}, nil
	case KindReleasePayment:
		return &ReleasePayment{}, nil
	case KindReserveStock:
		return &ReserveStock{}, nil
	case KindReleaseStock:
		return &ReleaseStock{}, nil
	case KindPaymentReserved:
		return &PaymentReserved{}, nil
	case KindPaymentRejected:
		return &PaymentRejected{}, nil
	case KindStockReserved:
		return &StockReserved{}, nil
	case KindStockRejected:
		return &StockRejected{}, nil
	}
	return nil, &ParseError{Field: "kind", Message: fmt.Sprintf("unknown event kind %q", k)}
}

func deref(p any) Event {
	switch v := p.(type) {
	case *ReservePayment:
		return *v
	case *ReleasePayment:
		return *v
	case *ReserveStock:
		return *v
	case *ReleaseStock:
		return *v
	case *PaymentReserved:
		return *v
	case *PaymentRejected:
		return *v
	case *StockReserved:
		return *v
	case *StockRejected:
		return *v
	}
	panic(fmt.Sprintf("event: unexpected payload type %T", p))
}

// ParseError describes why a body was rejected. It matches ErrMalformed.
type ParseError struct {
	Field   string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrMalformed
}
