package envelope

import (
	"fmt"

	"github.com/roach88/siglog/internal/canonical"
)

// object renders the message as the canonical value that gets signed.
func (m Message) object() canonical.Object {
	body := canonical.Object(m.Body)
	if body == nil {
		body = canonical.Object{}
	}
	return canonical.Object{
		"body":  body,
		"date":  canonical.String(FormatDate(m.Date)),
		"index": canonical.Int(m.Index),
	}
}

// object renders the envelope as the canonical value that gets hashed.
func (e Envelope) object() canonical.Object {
	return canonical.Object{
		"message":   e.Message.object(),
		"publicKey": canonical.String(e.PublicKey),
		"signature": canonical.String(e.Signature),
	}
}

// Encode returns the canonical bytes of env. These bytes are what gets stored
// and what Hash digests.
func Encode(env Envelope) ([]byte, error) {
	b, err := canonical.Marshal(env.object())
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// Decode parses an envelope from JSON. Decoding is strict about shape: unknown
// top-level fields are rejected so that Encode(Decode(b)) is stable.
func Decode(data []byte) (Envelope, error) {
	v, err := canonical.Decode(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	obj, ok := v.(canonical.Object)
	if !ok {
		return Envelope{}, &ValidationError{Field: "envelope", Reason: "must be an object"}
	}
	return fromObject(obj)
}

func fromObject(obj canonical.Object) (Envelope, error) {
	var env Envelope
	for k := range obj {
		switch k {
		case "publicKey", "message", "signature":
		default:
			return env, &ValidationError{Field: k, Reason: "unknown field"}
		}
	}

	pk, ok := obj["publicKey"].(canonical.String)
	if !ok {
		return env, &ValidationError{Field: "publicKey", Reason: "must be a string"}
	}
	sig, ok := obj["signature"].(canonical.String)
	if !ok {
		return env, &ValidationError{Field: "signature", Reason: "must be a string"}
	}
	msgObj, ok := obj["message"].(canonical.Object)
	if !ok {
		return env, &ValidationError{Field: "message", Reason: "must be an object"}
	}
	msg, err := messageFromObject(msgObj)
	if err != nil {
		return env, err
	}

	env.PublicKey = PublicKey(pk)
	env.Signature = string(sig)
	env.Message = msg
	return env, nil
}

func messageFromObject(obj canonical.Object) (Message, error) {
	var msg Message
	for k := range obj {
		switch k {
		case "index", "date", "body":
		default:
			return msg, &ValidationError{Field: "message." + k, Reason: "unknown field"}
		}
	}

	idx, ok := obj["index"].(canonical.Int)
	if !ok {
		return msg, &ValidationError{Field: "message.index", Reason: "must be an integer"}
	}
	ds, ok := obj["date"].(canonical.String)
	if !ok {
		return msg, &ValidationError{Field: "message.date", Reason: "must be a string"}
	}
	date, err := ParseDate(string(ds))
	if err != nil {
		return msg, &ValidationError{Field: "message.date", Reason: err.Error()}
	}
	body, ok := obj["body"].(canonical.Object)
	if !ok {
		return msg, &ValidationError{Field: "message.body", Reason: "must be an object"}
	}

	msg.Index = int64(idx)
	msg.Date = date
	msg.Body = Body(body)
	return msg, nil
}

// MarshalJSON emits the canonical encoding.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return Encode(e)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	env, err := Decode(data)
	if err != nil {
		return err
	}
	*e = env
	return nil
}

// MarshalJSON emits the canonical encoding of the message.
func (m Message) MarshalJSON() ([]byte, error) {
	return canonical.Marshal(m.object())
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	v, err := canonical.Decode(data)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	obj, ok := v.(canonical.Object)
	if !ok {
		return &ValidationError{Field: "message", Reason: "must be an object"}
	}
	msg, err := messageFromObject(obj)
	if err != nil {
		return err
	}
	*m = msg
	return nil
}
