// Package scaling sizes the probe and dispatch worker pools within configured
// bounds. It never probes or sends itself; callers read Workers and report
// each cycle back through Observe.
package scaling

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pool names.
const (
	PoolProbe    = "probe"
	PoolDispatch = "dispatch"
)

// Scaling errors.
var (
	ErrUnknownPool = errors.New("unknown worker pool")
	ErrCooldown    = errors.New("scaling cooldown in effect")
	ErrAtMaximum   = errors.New("pool already at maximum workers")
	ErrAtMinimum   = errors.New("pool already at minimum workers")
)

// Direction of a scaling action.
type Direction string

// Scaling directions.
const (
	ScaleUp   Direction = "up"
	ScaleDown Direction = "down"
)

// PoolConfig bounds one pool.
type PoolConfig struct {
	MinWorkers     int           `mapstructure:"min_workers"`
	MaxWorkers     int           `mapstructure:"max_workers"`
	InitialWorkers int           `mapstructure:"initial_workers"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
}

// Validate checks the bounds.
func (c PoolConfig) Validate() error {
	if c.MinWorkers < 1 {
		return fmt.Errorf("min workers must be at least 1, got %d", c.MinWorkers)
	}
	if c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("max workers %d below min workers %d", c.MaxWorkers, c.MinWorkers)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	return nil
}

// DefaultPools returns the default probe and dispatch pool bounds.
func DefaultPools() map[string]PoolConfig {
	return map[string]PoolConfig{
		PoolProbe:    {MinWorkers: 2, MaxWorkers: 20, InitialWorkers: 5, Cooldown: time.Minute},
		PoolDispatch: {MinWorkers: 1, MaxWorkers: 10, InitialWorkers: 3, Cooldown: time.Minute},
	}
}

// PolicyConfig tunes Autoscale.
type PolicyConfig struct {
	// ScaleUpQueueFactor scales up when queue length exceeds workers times this factor.
	ScaleUpQueueFactor float64 `mapstructure:"scale_up_queue_factor"`

	// MaxErrorRate blocks scaling up when the last cycle failed more often
	// than this; more workers would only add load on a failing dependency.
	MaxErrorRate float64 `mapstructure:"max_error_rate"`
}

// DefaultPolicy returns the default autoscale policy.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{ScaleUpQueueFactor: 2, MaxErrorRate: 0.5}
}

// Config holds configuration for the controller.
type Config struct {
	Pools  map[string]PoolConfig
	Policy PolicyConfig
	Logger zerolog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Observation is what one processing cycle reports.
type Observation struct {
	// QueueLength is the work still waiting after the cycle.
	QueueLength int
	Processed   int
	Failed      int
	Duration    time.Duration

	// AvgResponseTime is the mean per-item latency.
	AvgResponseTime time.Duration
}

// PoolState is a read-only snapshot of one pool.
type PoolState struct {
	Name              string     `json:"name"`
	MinWorkers        int        `json:"minWorkers"`
	MaxWorkers        int        `json:"maxWorkers"`
	TotalWorkers      int        `json:"totalWorkers"`
	HealthyWorkers    int        `json:"healthyWorkers"`
	QueueLength       int        `json:"queueLength"`
	Throughput        float64    `json:"throughput"`
	AvgResponseTimeMs int64      `json:"avgResponseTimeMs"`
	ErrorRate         float64    `json:"errorRate"`
	LastScalingAction string     `json:"lastScalingAction,omitempty"`
	LastScalingAt     *time.Time `json:"lastScalingAt,omitempty"`
}

type pool struct {
	cfg      PoolConfig
	workers  int
	last     Observation
	action   string
	actionAt time.Time
}

// Controller holds the worker counts of the named pools.
type Controller struct {
	mu     sync.RWMutex
	pools  map[string]*pool
	policy PolicyConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewController creates a controller. Pools start at InitialWorkers clamped
// to their bounds.
func NewController(cfg Config) (*Controller, error) {
	if len(cfg.Pools) == 0 {
		cfg.Pools = DefaultPools()
	}
	if cfg.Policy.ScaleUpQueueFactor <= 0 {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Controller{
		pools:  make(map[string]*pool, len(cfg.Pools)),
		policy: cfg.Policy,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	for name, pc := range cfg.Pools {
		if err := pc.Validate(); err != nil {
			return nil, fmt.Errorf("pool %s: %w", name, err)
		}
		c.pools[name] = &pool{cfg: pc, workers: clamp(pc.InitialWorkers, pc.MinWorkers, pc.MaxWorkers)}
	}
	return c, nil
}

// Workers returns the current worker count for a pool, or 1 for an unknown pool.
func (c *Controller) Workers(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pools[name]
	if !ok {
		return 1
	}
	return p.workers
}

// ScaleUp adds one worker unless the pool is cooling down or at its maximum.
func (c *Controller) ScaleUp(name, reason string) error {
	return c.scale(name, ScaleUp, reason)
}

// ScaleDown removes one worker unless the pool is cooling down or at its minimum.
func (c *Controller) ScaleDown(name, reason string) error {
	return c.scale(name, ScaleDown, reason)
}

func (c *Controller) scale(name string, dir Direction, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, name)
	}

	now := c.now()
	if !p.actionAt.IsZero() && now.Sub(p.actionAt) < p.cfg.Cooldown {
		return ErrCooldown
	}

	switch dir {
	case ScaleUp:
		if p.workers >= p.cfg.MaxWorkers {
			return ErrAtMaximum
		}
		p.workers++
	case ScaleDown:
		if p.workers <= p.cfg.MinWorkers {
			return ErrAtMinimum
		}
		p.workers--
	}

	p.action = string(dir) + ": " + reason
	p.actionAt = now

	c.logger.Info().
		Str("pool", name).
		Str("direction", string(dir)).
		Str("reason", reason).
		Int("workers", p.workers).
		Msg("worker pool scaled")
	return nil
}

// Observe records the numbers from one processing cycle.
func (c *Controller) Observe(name string, obs Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pools[name]; ok {
		p.last = obs
	}
}

// Snapshot returns a pool's current state.
func (c *Controller) Snapshot(name string) (PoolState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pools[name]
	if !ok {
		return PoolState{}, fmt.Errorf("%w: %s", ErrUnknownPool, name)
	}
	return p.state(name), nil
}

// Health returns every pool's state ordered by name.
func (c *Controller) Health() []PoolState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	states := make([]PoolState, 0, len(c.pools))
	for name, p := range c.pools {
		states = append(states, p.state(name))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// Autoscale applies the policy to a pool using its last observation:
// a backlog beyond workers*ScaleUpQueueFactor scales up unless the error
// rate is too high, an empty queue scales down. Cooldown and bounds apply
// as for ScaleUp and ScaleDown. It returns the direction taken, if any.
func (c *Controller) Autoscale(name string) (Direction, error) {
	state, err := c.Snapshot(name)
	if err != nil {
		return "", err
	}

	switch {
	case float64(state.QueueLength) > float64(state.TotalWorkers)*c.policy.ScaleUpQueueFactor:
		if state.ErrorRate > c.policy.MaxErrorRate {
			return "", nil
		}
		reason := fmt.Sprintf("queue length %d exceeds %d workers", state.QueueLength, state.TotalWorkers)
		if err := c.ScaleUp(name, reason); err != nil {
			return "", err
		}
		return ScaleUp, nil

	case state.QueueLength == 0 && state.TotalWorkers > state.MinWorkers:
		if err := c.ScaleDown(name, "queue empty"); err != nil {
			return "", err
		}
		return ScaleDown, nil
	}
	return "", nil
}

func (p *pool) state(name string) PoolState {
	s := PoolState{
		Name:         name,
		MinWorkers:   p.cfg.MinWorkers,
		MaxWorkers:   p.cfg.MaxWorkers,
		TotalWorkers: p.workers,
		QueueLength:  p.last.QueueLength,
	}

	if total := p.last.Processed + p.last.Failed; total > 0 {
		s.ErrorRate = float64(p.last.Failed) / float64(total)
		if p.last.Duration > 0 {
			s.Throughput = float64(total) / p.last.Duration.Seconds()
		}
	}
	s.AvgResponseTimeMs = p.last.AvgResponseTime.Milliseconds()
	s.HealthyWorkers = int(math.Round(float64(p.workers) * (1 - s.ErrorRate)))

	if !p.actionAt.IsZero() {
		at := p.actionAt
		s.LastScalingAction = p.action
		s.LastScalingAt = &at
	}
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
