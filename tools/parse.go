package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// decodeArgs decodes tool arguments into T. Fields the schema does not
// declare are rejected, matching its additionalProperties: false.
func decodeArgs[T any](args json.RawMessage) (T, error) {
	var params T
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		return params, fmt.Errorf("decode arguments: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return params, errors.New("decode arguments: trailing data after the JSON object")
	}
	return params, nil
}
