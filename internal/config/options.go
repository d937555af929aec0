package config

// Typed accessors for ProviderEntry.Options. YAML decodes numbers as int or
// float64 depending on how they are written, so numeric accessors accept
// both. A missing key or a value of the wrong type yields def.

// StringOption returns Options[key] as a string.
func (e ProviderEntry) StringOption(key, def string) string {
	if s, ok := e.Options[key].(string); ok {
		return s
	}
	return def
}

// BoolOption returns Options[key] as a bool.
func (e ProviderEntry) BoolOption(key string, def bool) bool {
	if b, ok := e.Options[key].(bool); ok {
		return b
	}
	return def
}

// FloatOption returns Options[key] as a float64.
func (e ProviderEntry) FloatOption(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// IntOption returns Options[key] as an int. Fractional values are truncated.
func (e ProviderEntry) IntOption(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
