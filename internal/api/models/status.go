package models

// ProviderInfo is a monitored provider as listed publicly.
type ProviderInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	StatusPageURL  string `json:"statusPageUrl,omitempty"`
	ResponseFormat string `json:"responseFormat"`
	Active         bool   `json:"active"`
}

// ProviderList is the response of GET /v1/providers.
type ProviderList struct {
	Items []ProviderInfo `json:"items"`
}

// StatusEntry is one provider's latest canonical status.
type StatusEntry struct {
	ProviderID     string     `json:"providerId"`
	ProviderName   string     `json:"providerName"`
	Status         string     `json:"status"`
	ResponseTimeMs int64      `json:"responseTime"`
	CheckedAt      *Timestamp `json:"checkedAt,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// StatusOverview is the response of GET /v1/status.
type StatusOverview struct {
	Status string        `json:"status"`
	Time   Timestamp     `json:"time"`
	Items  []StatusEntry `json:"items"`
}

// StatusHistory is the response of GET /v1/providers/{providerId}/history.
type StatusHistory struct {
	ProviderID string            `json:"providerId"`
	Items      []StatusEntry     `json:"items"`
	Meta       PagedResponseMeta `json:"meta"`
}
