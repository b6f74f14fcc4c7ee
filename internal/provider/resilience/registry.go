package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Health represents the health of one outbound client (a probed provider or
// a delivery channel).
type Health struct {
	// Name is the client identifier.
	Name string `json:"name"`

	// CircuitState is the current circuit breaker state.
	CircuitState gobreaker.State `json:"-"`

	// State is CircuitState rendered for JSON output.
	State string `json:"state"`

	// Counts contains circuit breaker statistics.
	Counts gobreaker.Counts `json:"counts"`

	// LastSuccessAt is the timestamp of the last successful call.
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`

	// LastFailureAt is the timestamp of the last failed call.
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`

	// LastError is the most recent sanitized error message, if any.
	LastError string `json:"lastError,omitempty"`
}

// IsHealthy returns true if the circuit is closed.
func (h *Health) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the circuit is half-open.
func (h *Health) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true if the circuit is open.
func (h *Health) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry tracks resilient clients and their recent outcomes. It is
// constructed once per process and passed to whoever needs it.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*registeredClient
	now     func() time.Time
}

type registeredClient struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*registeredClient),
		now:     time.Now,
	}
}

// Register adds a client under its name, replacing any previous one.
func (r *Registry) Register(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Name()] = &registeredClient{client: client}
}

// Unregister removes a client.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
}

// RecordSuccess records a successful call.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[name]; ok {
		now := r.now()
		c.lastSuccessAt = &now
	}
}

// RecordFailure records a failed call. Callers pass an already sanitized message.
func (r *Registry) RecordFailure(name, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[name]; ok {
		now := r.now()
		c.lastFailureAt = &now
		c.lastError = message
	}
}

// Health returns the health of one client, or nil if it is not registered.
func (r *Registry) Health(name string) *Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[name]
	if !ok {
		return nil
	}
	return c.health(name)
}

// All returns the health of every registered client ordered by name.
func (r *Registry) All() []*Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := make([]*Health, 0, len(r.clients))
	for name, c := range r.clients {
		health = append(health, c.health(name))
	}
	sort.Slice(health, func(i, j int) bool { return health[i].Name < health[j].Name })
	return health
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

func (c *registeredClient) health(name string) *Health {
	state := c.client.CircuitBreakerState()
	return &Health{
		Name:          name,
		CircuitState:  state,
		State:         state.String(),
		Counts:        c.client.CircuitBreakerCounts(),
		LastSuccessAt: c.lastSuccessAt,
		LastFailureAt: c.lastFailureAt,
		LastError:     c.lastError,
	}
}
