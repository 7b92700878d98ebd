// Package serialization renders task parameters for logs and events with sensitive values masked.
package serialization

import (
	"encoding/json"
	"strings"

	"github.com/tigerroll/undertow/pkg/dbchange/support/util/logger"
)

// Mask replaces the value of a masked key.
const Mask = "********"

// Masker masks configured parameter keys. Keys match case-insensitively at any nesting depth.
type Masker struct {
	keys map[string]struct{}
}

// NewMasker creates a Masker for keys.
func NewMasker(keys []string) *Masker {
	m := &Masker{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			m.keys[k] = struct{}{}
		}
	}
	return m
}

func (m *Masker) masked(key string) bool {
	if m == nil {
		return false
	}
	_, ok := m.keys[strings.ToLower(key)]
	return ok
}

// GetMaskedParametersMap returns a deep copy of params with masked keys replaced.
func (m *Masker) GetMaskedParametersMap(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return map[string]interface{}{}
	}
	return m.maskValue(params).(map[string]interface{})
}

func (m *Masker) maskValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if m.masked(k) {
				out[k] = Mask
				continue
			}
			out[k] = m.maskValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = m.maskValue(val)
		}
		return out
	default:
		return v
	}
}

// MaskJSON masks a JSON document. Input that is not a JSON object or array is returned as a placeholder
// so that it cannot leak into logs.
func (m *Masker) MaskJSON(raw []byte) string {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Debugf("Parameters are not valid JSON, not logging them: %v", err)
		return "<unparseable parameters>"
	}
	switch doc.(type) {
	case map[string]interface{}, []interface{}:
	default:
		return "<unparseable parameters>"
	}
	out, err := json.Marshal(m.maskValue(doc))
	if err != nil {
		return "<unparseable parameters>"
	}
	return string(out)
}
