// Package callbacks builds and reads inline-button payloads. Every payload
// is a JSON object with exactly one top-level key naming the command, which
// is the shape the dialog engine decodes on the way back in.
package callbacks

import (
	"encoding/json"
	"fmt"
)

// Data encodes a command payload for an inline button. Telegram limits
// callback data to 64 bytes, so args should stay small (ids, not records).
func Data(name string, args any) (string, error) {
	raw, err := json.Marshal(map[string]any{name: args})
	if err != nil {
		return "", fmt.Errorf("callbacks: encode %s: %w", name, err)
	}
	if len(raw) > 64 {
		return "", fmt.Errorf("callbacks: payload %s exceeds 64 bytes (%d)", name, len(raw))
	}
	return string(raw), nil
}

// MustData is Data for payloads known to fit, typically literals built
// at keyboard render time. It panics on encode failure.
func MustData(name string, args any) string {
	s, err := Data(name, args)
	if err != nil {
		panic(err)
	}
	return s
}

// IDArgs is the common single-id argument shape, e.g. {"delete_alert":{"id":7}}.
type IDArgs struct {
	ID int64 `json:"id"`
}

// DecodeID parses args as an IDArgs object.
func DecodeID(args json.RawMessage) (int64, error) {
	var a IDArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return 0, fmt.Errorf("callbacks: decode id args: %w", err)
	}
	return a.ID, nil
}
