package cli

// getMapString is a helper that returns m[key] if it exists and is a string, otherwise empty string.
func getMapString(m map[string]interface{}, key string) string {
	if val, ok := m[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		default:
			return ""
		}
	}
	return ""
}

// getMapFloat is a helper that returns m[key] as a float64, otherwise zero.
// JSON numbers always decode to float64 in a map.
func getMapFloat(m map[string]interface{}, key string) float64 {
	if val, ok := m[key]; ok {
		if v, ok := val.(float64); ok {
			return v
		}
	}
	return 0
}

// getMapBool is a helper that returns m[key] as a bool, otherwise false.
func getMapBool(m map[string]interface{}, key string) bool {
	if val, ok := m[key]; ok {
		if v, ok := val.(bool); ok {
			return v
		}
	}
	return false
}

// getMap is a helper that returns m[key] as a nested map, otherwise nil. The
// other helpers treat a nil map as all-zero, so lookups chain safely.
func getMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	if val, ok := m[key]; ok {
		if v, ok := val.(map[string]interface{}); ok {
			return v
		}
	}
	return nil
}
