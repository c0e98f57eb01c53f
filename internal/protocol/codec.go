package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type SkipReason string

const (
	SkipFiltered       SkipReason = "filtered"
	SkipUnknownVersion SkipReason = "unknown_version"
	SkipMalformed      SkipReason = "malformed"
)

// SkipError is returned by Decode for every payload that must not be
// dispatched. It never indicates a relay failure.
type SkipError struct {
	Reason  SkipReason
	Version int
	Err     error
}

func (e *SkipError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("protocol: skip (%s, version %d): %v", e.Reason, e.Version, e.Err)
	default:
		return fmt.Sprintf("protocol: skip (%s, version %d)", e.Reason, e.Version)
	}
}

func (e *SkipError) Unwrap() error { return e.Err }

var errArity = errors.New("unexpected envelope arity")

// envelopeV1 is the version 1 wire record.
type envelopeV1 struct {
	Action Action
	Event  EventRecord
	State  StateRecord
}

func (e envelopeV1) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{1, e.Action, e.Event, e.State})
}

func (e *envelopeV1) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	if len(parts) != 4 {
		return fmt.Errorf("%w: got %d, want 4", errArity, len(parts))
	}
	if err := json.Unmarshal(parts[1], &e.Action); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	if !e.Action.valid() {
		return fmt.Errorf("unknown action %q", e.Action)
	}
	if err := json.Unmarshal(parts[2], &e.Event); err != nil {
		return fmt.Errorf("event record: %w", err)
	}
	if err := json.Unmarshal(parts[3], &e.State); err != nil {
		return fmt.Errorf("state record: %w", err)
	}
	return nil
}

// Encode builds an insert envelope stamped with CurrentVersion.
func Encode(event EventRecord, state StateRecord) ([]byte, error) {
	if event.Data == nil {
		event.Data = map[string]any{}
	}
	b, err := json.Marshal(envelopeV1{Action: ActionInsert, Event: event, State: state})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return b, nil
}

// Decode parses a topic payload. Any returned error is a *SkipError; delete
// envelopes are filtered because post-processing only runs for inserts.
func Decode(value []byte) (Envelope, error) {
	version, err := peekVersion(value)
	if err != nil {
		return Envelope{}, &SkipError{Reason: SkipMalformed, Err: err}
	}

	switch version {
	case 1:
		var v1 envelopeV1
		if err := json.Unmarshal(value, &v1); err != nil {
			return Envelope{}, &SkipError{Reason: SkipMalformed, Version: version, Err: err}
		}
		if v1.Action != ActionInsert {
			return Envelope{}, &SkipError{Reason: SkipFiltered, Version: version}
		}
		return Envelope{Version: version, Action: v1.Action, Event: v1.Event, State: v1.State}, nil
	default:
		return Envelope{}, &SkipError{Reason: SkipUnknownVersion, Version: version}
	}
}

func peekVersion(value []byte) (int, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || value[0] != '[' {
		return 0, errors.New("envelope is not a JSON array")
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(value, &parts); err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, fmt.Errorf("%w: empty array", errArity)
	}
	var version int
	if err := json.Unmarshal(parts[0], &version); err != nil {
		return 0, fmt.Errorf("version: %w", err)
	}
	return version, nil
}
