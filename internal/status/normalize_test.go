package status_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistatus/aistatus/internal/provider"
	"github.com/aistatus/aistatus/internal/status"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestNormalizeIndicator(t *testing.T) {
	tests := map[string]status.Status{
		"none":        status.Operational,
		"minor":       status.Degraded,
		"major":       status.Down,
		"critical":    status.Down,
		"MAJOR":       status.Down,
		"":            status.Unknown,
		"maintenance": status.Unknown,
		"bogus":       status.Unknown,
	}

	for indicator, want := range tests {
		t.Run(indicator, func(t *testing.T) {
			assert.Equal(t, want, status.NormalizeIndicator(indicator))
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]status.Status{
		"operational":          status.Operational,
		"degraded":             status.Degraded,
		"degraded_performance": status.Degraded,
		"partial_outage":       status.Degraded,
		"maintenance":          status.Degraded,
		"under_maintenance":    status.Degraded,
		"major_outage":         status.Down,
		"down":                 status.Down,
		"unknown":              status.Unknown,
		"sideways":             status.Unknown,
	}

	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, status.ParseStatus(in))
		})
	}
}

func TestNormalize_Statuspage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want status.Status
	}{
		{"none", `{"status":{"indicator":"none","description":"All Systems Operational"}}`, status.Operational},
		{"minor", `{"status":{"indicator":"minor"}}`, status.Degraded},
		{"critical", `{"status":{"indicator":"critical"}}`, status.Down},
		{"absent indicator", `{"status":{}}`, status.Unknown},
		{"absent status", `{"page":{}}`, status.Unknown},
		{"wrong type", `{"status":{"indicator":3}}`, status.Unknown},
		{"array", `[]`, status.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Normalize(decode(t, tt.raw), provider.FormatStatuspage))
		})
	}
}

func TestNormalize_IncidentList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want status.Status
	}{
		{"empty", `[]`, status.Operational},
		{"all resolved", `[{"id":"1","end":"2026-01-01T00:00:00Z"},{"id":"2","status":"resolved"}]`, status.Operational},
		{"open low", `[{"id":"1","severity":"low"}]`, status.Degraded},
		{"open high", `[{"id":"1","end":null,"severity":"high"}]`, status.Down},
		{"open impact critical", `{"incidents":[{"id":"1","impact":"critical"}]}`, status.Down},
		{"resolved_at set", `{"incidents":[{"id":"1","resolved_at":"2026-01-01","impact":"critical"}]}`, status.Operational},
		{"wrapped missing list", `{"incidents":"nope"}`, status.Unknown},
		{"scalar", `"ok"`, status.Unknown},
		{"non-object entries ignored", `[1, "x", null]`, status.Operational},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Normalize(decode(t, tt.raw), provider.FormatIncidentList))
		})
	}
}

func TestNormalize_StatusField(t *testing.T) {
	assert.Equal(t, status.Degraded, status.Normalize(decode(t, `{"status":"partial_outage"}`), provider.FormatStatusField))
	assert.Equal(t, status.Unknown, status.Normalize(decode(t, `{"status":{"indicator":"none"}}`), provider.FormatStatusField))
}

func TestNormalize_UnknownFormat(t *testing.T) {
	assert.Equal(t, status.Unknown, status.Normalize(decode(t, `{"status":{"indicator":"none"}}`), "rss"))
	assert.Equal(t, status.Unknown, status.Normalize(nil, provider.FormatStatuspage))
}

func TestStatus_Rank(t *testing.T) {
	assert.Less(t, status.Operational.Rank(), status.Degraded.Rank())
	assert.Less(t, status.Degraded.Rank(), status.Down.Rank())
	assert.Equal(t, -1, status.Unknown.Rank())
	assert.False(t, status.Unknown.IsKnown())
	assert.True(t, status.Down.IsKnown())
}
