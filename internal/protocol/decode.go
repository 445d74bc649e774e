package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// sendMessagePayload is the wire form of SendMessage. Text must be present
// but may be empty.
type sendMessagePayload struct {
	Text      *string  `json:"text" validate:"required"`
	Receivers []string `json:"receivers" validate:"omitempty,dive,required"`
}

type rawEnvelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Inbound is a decoded client frame. Exactly one payload pointer is set for
// types that carry data.
type Inbound struct {
	Type        Type
	Hello       *Hello
	SendMessage *SendMessage
}

// Decode parses a client frame. It returns ErrInvalidEnvelope for anything
// that is not a well-formed envelope of a client type and ErrUnknownType for
// well-formed envelopes of any other type.
func Decode(frame []byte) (Inbound, error) {
	var raw rawEnvelope
	if err := strictUnmarshal(frame, &raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if raw.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}

	in := Inbound{Type: raw.Type}
	switch raw.Type {
	case TypeHello:
		var p Hello
		if err := decodePayload(raw.Data, &p); err != nil {
			return in, err
		}
		in.Hello = &p
	case TypeReceiveStatus:
		if !isAbsent(raw.Data) {
			var p struct{}
			if err := strictUnmarshal(raw.Data, &p); err != nil {
				return in, fmt.Errorf("%w: %s: %v", ErrInvalidEnvelope, raw.Type, err)
			}
		}
	case TypeSendMessage:
		var p sendMessagePayload
		if err := decodePayload(raw.Data, &p); err != nil {
			return in, err
		}
		in.SendMessage = &SendMessage{Text: *p.Text, Receivers: p.Receivers}
	default:
		return in, fmt.Errorf("%w: %q", ErrUnknownType, raw.Type)
	}
	return in, nil
}

// decodePayload fills dst from a required data object and validates it.
func decodePayload(data json.RawMessage, dst any) error {
	if isAbsent(data) {
		return fmt.Errorf("%w: missing data", ErrInvalidEnvelope)
	}
	if err := strictUnmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return nil
}

func strictUnmarshal(b []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after object")
	}
	return nil
}

func isAbsent(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
