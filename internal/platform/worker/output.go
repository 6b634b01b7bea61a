package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Output is the single JSON object a worker prints on stdout.
type Output struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// Raw is the complete object, for kind-specific decoding.
	Raw json.RawMessage `json:"-"`
}

// Decode unmarshals the complete result object into v.
func (o Output) Decode(v any) error {
	if len(o.Raw) == 0 {
		return ErrInvalidOutput
	}
	if err := json.Unmarshal(o.Raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	return nil
}

// ParseOutput finds the last JSON object line in stdout. Workers may print
// progress noise before the result, so earlier lines are ignored.
func ParseOutput(stdout []byte) (Output, error) {
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var out Output
		if err := json.Unmarshal(line, &out); err != nil {
			continue
		}
		out.Raw = append(json.RawMessage(nil), line...)
		return out, nil
	}
	return Output{}, ErrInvalidOutput
}
