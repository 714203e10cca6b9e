// Package protocol defines the framed-message protocol spoken between
// producers, observers, and the hub.
//
// Every wire frame carries exactly one JSON record with a mandatory "type"
// discriminant. Each message kind is a distinct Go struct implementing
// [Message]; [Decode] performs an exhaustive switch over the discriminant so
// that adding a kind is a compile-time-checked change rather than a stringly
// typed one. Binary audio payloads travel base64-encoded inside the record
// (encoding/json's native []byte handling).
package protocol

import "time"

// Type is the message kind discriminant carried in every wire frame.
type Type string

// Message kinds. The wire strings are part of the protocol and must not change.
const (
	// Producer → hub.
	TypeRegistration Type = "registration"
	TypeAudioChunk   Type = "audio-chunk"

	// Hub → producer.
	TypeAck   Type = "ack"
	TypeSpeak Type = "speak"
	TypeFault Type = "fault"

	// Bidirectional: hub → producer, or observer → hub (addressed).
	TypeControl Type = "control"

	// Client → hub.
	TypeObserverOptIn Type = "observer-opt-in"

	// Hub → observer.
	TypeRoster          Type = "roster"
	TypeDeviceUp        Type = "device-up"
	TypeDeviceDown      Type = "device-down"
	TypeTranscriptEvent Type = "transcript-event"
	TypeAlertEvent      Type = "alert-event"
)

// Message is implemented by every protocol message struct.
type Message interface {
	// Kind returns the Type discriminant written into the wire frame.
	Kind() Type
}

// FaultCode identifies the class of a non-fatal protocol or processing error
// reported in a [Fault] message.
type FaultCode string

const (
	CodeInvalidDeviceID     FaultCode = "INVALID_DEVICE_ID"
	CodeDeviceNotRegistered FaultCode = "DEVICE_NOT_REGISTERED"
	CodeDeviceNotConnected  FaultCode = "DEVICE_NOT_CONNECTED"
	CodeMalformedMessage    FaultCode = "MALFORMED_MESSAGE"
	CodeUnknownType         FaultCode = "UNKNOWN_TYPE"
)

// Capabilities is the capability set a producer declares at registration.
type Capabilities struct {
	// Audio reports whether the device produces audio. Always true for
	// current producers.
	Audio bool `json:"audio"`

	// Video reports whether the device produces video. Reserved; no current
	// producer sets it.
	Video bool `json:"video"`

	// Speaker reports whether the device can render speak requests locally.
	Speaker bool `json:"speaker"`
}

// Registration declares a producer's identity. It must be the first message
// sent on a producer connection.
type Registration struct {
	DeviceID     string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	Location     string       `json:"location,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

func (Registration) Kind() Type { return TypeRegistration }

// AudioChunk is one buffered slice of raw audio. Payload is raw PCM bytes;
// JSON marshalling base64-encodes it on the wire.
type AudioChunk struct {
	DeviceID   string    `json:"id"`
	CapturedAt time.Time `json:"captured_at"`
	Payload    []byte    `json:"payload"`
}

func (AudioChunk) Kind() Type { return TypeAudioChunk }

// Ack is a generic hub → producer acknowledgment.
type Ack struct {
	Message string `json:"message"`
}

func (Ack) Kind() Type { return TypeAck }

// Speak asks a producer to render text as audio locally.
type Speak struct {
	Text string `json:"text"`
}

func (Speak) Kind() Type { return TypeSpeak }

// Control is a remote command. When sent observer → hub it additionally
// carries the target device id; the hub strips nothing and forwards the
// message to the producer as-is.
type Control struct {
	Command  string         `json:"command"`
	TargetID string         `json:"target_id,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

func (Control) Kind() Type { return TypeControl }

// Fault is a non-fatal protocol or processing error notice.
type Fault struct {
	Message string    `json:"message"`
	Code    FaultCode `json:"code"`
}

func (Fault) Kind() Type { return TypeFault }

// ObserverOptIn declares the sending connection as an observer. The hub
// answers with a [Roster] snapshot followed by recent alert events.
type ObserverOptIn struct{}

func (ObserverOptIn) Kind() Type { return TypeObserverOptIn }

// RosterEntry is one device in a [Roster] snapshot.
type RosterEntry struct {
	DeviceID     string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	Location     string       `json:"location,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
}

// Roster is the full current registry snapshot sent to a newly opted-in
// observer.
type Roster struct {
	Devices []RosterEntry `json:"devices"`
}

func (Roster) Kind() Type { return TypeRoster }

// DeviceUp is an incremental roster change: a producer registered.
type DeviceUp struct {
	DeviceID     string       `json:"id"`
	Capabilities Capabilities `json:"capabilities"`
}

func (DeviceUp) Kind() Type { return TypeDeviceUp }

// DeviceDown is an incremental roster change: a producer disconnected.
type DeviceDown struct {
	DeviceID string `json:"id"`
}

func (DeviceDown) Kind() Type { return TypeDeviceDown }

// TranscriptEvent announces a newly stored transcript to observers.
type TranscriptEvent struct {
	DeviceID   string    `json:"id"`
	CapturedAt time.Time `json:"captured_at"`
	Text       string    `json:"text"`
}

func (TranscriptEvent) Kind() Type { return TypeTranscriptEvent }

// AlertEvent announces a newly raised alert to observers.
type AlertEvent struct {
	DeviceID   string    `json:"id"`
	CapturedAt time.Time `json:"captured_at"`
	Message    string    `json:"message"`
	Severity   string    `json:"severity"`
}

func (AlertEvent) Kind() Type { return TypeAlertEvent }
