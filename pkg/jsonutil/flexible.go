// Package jsonutil holds JSON helpers for decoding third-party payloads.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// FlexString decodes a JSON string, number, or boolean into its string form.
// Providers are inconsistent about whether ids are numbers or strings.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler. null leaves the value empty.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	*f = FlexString(FlexibleStringValue(data))
	return nil
}

// String returns the decoded value.
func (f FlexString) String() string { return string(f) }

// FlexibleStringValue converts a json.RawMessage to a string, handling payloads that
// carry numbers or booleans where a string is expected. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Numbers keep their literal text so large ids don't lose precision.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var num json.Number
	if err := dec.Decode(&num); err == nil {
		return num.String()
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(raw)
}
