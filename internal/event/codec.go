package event

import (
	"encoding/json"
	"fmt"
)

// MalformedError is a decode-time structural failure: the payload is not
// valid JSON, its eventType is not a recognized tag, or trade.id is missing.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed trade event: %s: %v", e.Reason, e.Err)
	}
	return "malformed trade event: " + e.Reason
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Encode serializes an envelope to bytes. Building an envelope with an
// unrecognized tag or an empty trade id is a construction-time error.
func Encode(env Envelope) ([]byte, error) {
	if !env.Type.Valid() {
		return nil, fmt.Errorf("encode trade event: unrecognized eventType %q", env.Type)
	}
	if env.Trade.ID == "" {
		return nil, fmt.Errorf("encode trade event %s: trade.id is empty", env.Type)
	}
	return json.Marshal(env)
}

// Decode parses bytes into an envelope, validating that eventType is a
// recognized tag and trade.id is present. Any other shape mismatch is a
// *MalformedError. A well-formed but semantically empty payload decodes
// cleanly; rejecting it is the dispatch layer's job, not the codec's.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &MalformedError{Reason: "invalid JSON", Err: err}
	}
	if env.Type == "" {
		return Envelope{}, &MalformedError{Reason: "missing eventType"}
	}
	if !env.Type.Valid() {
		return Envelope{}, &MalformedError{Reason: fmt.Sprintf("unrecognized eventType %q", env.Type)}
	}
	if env.Trade.ID == "" {
		return Envelope{}, &MalformedError{Reason: "missing trade.id"}
	}
	return env, nil
}
