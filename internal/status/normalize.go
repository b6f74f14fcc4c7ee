package status

import (
	"strings"

	"github.com/aistatus/aistatus/internal/provider"
)

// NormalizeIndicator maps a Statuspage indicator to a canonical status.
func NormalizeIndicator(indicator string) Status {
	switch strings.ToLower(strings.TrimSpace(indicator)) {
	case "none":
		return Operational
	case "minor":
		return Degraded
	case "major", "critical":
		return Down
	default:
		return Unknown
	}
}

// Normalize maps a decoded JSON payload to a canonical status according to
// the provider's response format. It never panics and returns Unknown for
// anything it does not recognize.
func Normalize(payload any, format provider.Format) Status {
	switch format {
	case provider.FormatStatuspage:
		return normalizeStatuspage(payload)
	case provider.FormatIncidentList:
		return normalizeIncidentList(payload)
	case provider.FormatStatusField:
		return normalizeStatusField(payload)
	default:
		return Unknown
	}
}

func normalizeStatuspage(payload any) Status {
	obj, ok := payload.(map[string]any)
	if !ok {
		return Unknown
	}
	inner, ok := obj["status"].(map[string]any)
	if !ok {
		return Unknown
	}
	indicator, ok := inner["indicator"].(string)
	if !ok {
		return Unknown
	}
	return NormalizeIndicator(indicator)
}

func normalizeStatusField(payload any) Status {
	obj, ok := payload.(map[string]any)
	if !ok {
		return Unknown
	}
	s, ok := obj["status"].(string)
	if !ok {
		return Unknown
	}
	return ParseStatus(s)
}

var (
	endFields      = []string{"resolved", "end", "resolved_at", "end_time"}
	severityFields = []string{"severity", "impact"}
)

func normalizeIncidentList(payload any) Status {
	var entries []any
	switch v := payload.(type) {
	case []any:
		entries = v
	case map[string]any:
		list, ok := v["incidents"].([]any)
		if !ok {
			return Unknown
		}
		entries = list
	default:
		return Unknown
	}

	result := Operational
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok || !isOpenEntry(entry) {
			continue
		}
		if isMajorEntry(entry) {
			return Down
		}
		result = Degraded
	}
	return result
}

func isOpenEntry(entry map[string]any) bool {
	for _, field := range endFields {
		switch v := entry[field].(type) {
		case nil:
		case string:
			if v != "" {
				return false
			}
		case bool:
			if v {
				return false
			}
		default:
			return false
		}
	}

	if s, ok := entry["status"].(string); ok {
		switch strings.ToLower(s) {
		case "resolved", "completed", "closed", "postmortem":
			return false
		}
	}
	return true
}

func isMajorEntry(entry map[string]any) bool {
	for _, field := range severityFields {
		if s, ok := entry[field].(string); ok {
			switch strings.ToLower(s) {
			case "major", "critical", "high":
				return true
			}
		}
	}
	return false
}
