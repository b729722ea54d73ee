// Package jsonutil holds lenient decoding helpers for model-produced JSON.
// Tool arguments arrive as whatever the model felt like emitting, so string
// parameters are accepted as numbers or booleans too.
package jsonutil

import (
	"encoding/json"
	"fmt"
)

// FlexibleStringValue converts a raw JSON value to a string. Numbers keep
// their literal form (no float round-trip), booleans render as true/false,
// and null or empty input becomes "". Anything else falls back to the raw
// text so callers can surface it in an error.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal json.Number
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return numVal.String()
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	return string(raw)
}
