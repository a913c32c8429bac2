package session

// Capability keys read by the server.
const (
	CapDesired  = "desiredCapabilities"
	CapRequired = "requiredCapabilities"
)

// negotiate layers server defaults, then desired, then required capabilities.
// With no defaults configured the desired set is echoed back unchanged.
func negotiate(defaults, desired, required map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(desired)+len(required))
	for _, layer := range []map[string]any{defaults, desired, required} {
		for k, v := range layer {
			out[k] = cloneValue(v)
		}
	}
	return out
}

func cloneCapabilities(caps map[string]any) map[string]any {
	if caps == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(caps))
	for k, v := range caps {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneCapabilities(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
