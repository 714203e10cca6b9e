package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MaxMessageSize is the maximum encoded frame size in bytes. Frames larger
// than this are dropped before any JSON parsing happens.
const MaxMessageSize = 1_000_000

// ReadLimit is the transport-level read cap for WebSocket connections. It
// sits above MaxMessageSize so an oversized frame still reaches Decode and
// gets dropped with a warning instead of killing the connection.
const ReadLimit = MaxMessageSize + 4096

// PlaceholderPrefix is the reserved namespace for hub-generated temporary
// connection identifiers. A real device id must never begin with it.
const PlaceholderPrefix = "conn:"

var (
	// ErrOversized is returned by Decode for frames exceeding MaxMessageSize.
	ErrOversized = errors.New("protocol: frame exceeds size limit")

	// ErrMalformed is returned by Decode when a frame is not a JSON object
	// with a string "type" field, or when the typed payload does not decode.
	ErrMalformed = errors.New("protocol: malformed frame")
)

// UnknownTypeError is returned by Decode for a well-formed frame whose type
// discriminant is not a recognised message kind.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("protocol: unknown message type %q", e.Type)
}

// NewPlaceholderID returns a fresh temporary identifier for a not-yet-
// classified connection. It is guaranteed distinct from any real device id
// because real ids are rejected when they begin with [PlaceholderPrefix].
func NewPlaceholderID() string {
	return PlaceholderPrefix + uuid.NewString()
}

// IsPlaceholderID reports whether id lies in the reserved placeholder
// namespace.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, PlaceholderPrefix)
}

// Encode marshals m into a single wire frame with the "type" discriminant
// spliced into the record.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Kind(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Kind(), err)
	}
	fields["type"], _ = json.Marshal(m.Kind())

	return json.Marshal(fields)
}

// Decode parses a wire frame into its concrete message struct.
//
// The validation contract is applied in order: the size ceiling first (an
// oversized frame is never parsed as JSON), then the envelope shape, then the
// discriminant, then the typed payload. Callers translate ErrMalformed and
// *UnknownTypeError into fault replies; ErrOversized frames are dropped
// silently apart from a logged warning.
func Decode(data []byte) (Message, error) {
	if len(data) > MaxMessageSize {
		return nil, ErrOversized
	}

	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type discriminant", ErrMalformed)
	}

	var m Message
	switch env.Type {
	case TypeRegistration:
		m = &Registration{}
	case TypeAudioChunk:
		m = &AudioChunk{}
	case TypeAck:
		m = &Ack{}
	case TypeSpeak:
		m = &Speak{}
	case TypeControl:
		m = &Control{}
	case TypeFault:
		m = &Fault{}
	case TypeObserverOptIn:
		m = &ObserverOptIn{}
	case TypeRoster:
		m = &Roster{}
	case TypeDeviceUp:
		m = &DeviceUp{}
	case TypeDeviceDown:
		m = &DeviceDown{}
	case TypeTranscriptEvent:
		m = &TranscriptEvent{}
	case TypeAlertEvent:
		m = &AlertEvent{}
	default:
		return nil, &UnknownTypeError{Type: string(env.Type)}
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %v", ErrMalformed, env.Type, err)
	}
	return m, nil
}
