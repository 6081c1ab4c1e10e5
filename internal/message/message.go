// Package message classifies raw frames into typed, timestamped messages and
// filters corrupted temperature readings.
package message

import (
	"errors"
	"strings"
	"time"
)

// Kind is the closed set of message kinds, selected by a frame's first byte.
type Kind int

const (
	Error Kind = iota
	Data
	Setting
	Acknowledgement
)

func (k Kind) String() string {
	switch k {
	case Data:
		return "Data"
	case Setting:
		return "Setting"
	case Acknowledgement:
		return "Acknowledgement"
	default:
		return "Error"
	}
}

// Reasons attached to Error messages.
var (
	ErrEmptyFrame  = errors.New("empty frame")
	ErrUnknownKind = errors.New("unknown message kind")
	ErrMalformed   = errors.New("malformed data payload")
	ErrOutlier     = errors.New("temperature jump exceeds tolerance")
)

// TimestampLayout renders capture times with hundredths of a second.
const TimestampLayout = "15:04:05.00"

// Message is an immutable classified frame. Sample is set only for Data
// messages.
type Message struct {
	Kind       Kind
	ID         uint64
	CapturedAt time.Time
	// Payload is the frame without its leading kind byte. Empty frames have
	// no payload.
	Payload string
	// Raw is the frame as extracted, delimiters stripped.
	Raw string
	// Reason explains why a message was classified as Error.
	Reason error
	Sample *Sample
}

// Label returns the capture time formatted for display.
func (m Message) Label() string {
	return m.CapturedAt.Format(TimestampLayout)
}

// Setting splits a Setting payload of the form label:value.
func (m Message) Setting() (label, value string, ok bool) {
	if m.Kind != Setting {
		return "", "", false
	}
	label, value, ok = strings.Cut(m.Payload, ":")
	return label, value, ok
}

// Sample holds the numeric payload of an accepted Data message.
type Sample struct {
	Temperature float64
	AccelX      float64
	AccelY      float64
	AccelZ      float64
	Timestamp   string
	// MessageID links the sample back to the message it came from.
	MessageID uint64
}
