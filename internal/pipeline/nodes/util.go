package nodes

import "encoding/json"

func decodeJSON(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}

// getFloat/getBool read typed values out of the bot's opaque
// risk_limits map (round-tripped through JSON, so numbers decode as
// float64 regardless of their Go-side field type).
func getFloat(m map[string]any, key string, def float64) float64 {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func getBool(m map[string]any, key string, def bool) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func getInt(m map[string]any, key string, def int) int {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f)
		}
	}
	return def
}
