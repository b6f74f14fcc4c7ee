// Package featureflags holds the runtime switches operators flip during an
// incident: pausing probes, halting notification sends, capping drain batches
// and exposing debug injection.
package featureflags

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Well-known feature flag keys.
const (
	// FlagDebugInjection enables the debug transition injection endpoint.
	FlagDebugInjection = "debug_injection_enabled"

	// FlagDisableSending stops notification drains from sending anything.
	FlagDisableSending = "disable_sending"

	// FlagPauseProbing makes probe sweeps return without probing.
	FlagPauseProbing = "pause_probing"

	// FlagMaxDrainBatch overrides the notification drain batch size when positive.
	FlagMaxDrainBatch = "max_drain_batch"
)

// ErrInvalidFlag is returned for updates to unknown flags or with values of
// the wrong kind.
var ErrInvalidFlag = errors.New("invalid feature flag")

// Kind is the value type of a flag.
type Kind string

// Flag kinds.
const (
	KindBool Kind = "bool"
	KindInt  Kind = "int"
)

// Definition describes a well-known flag.
type Definition struct {
	Key         string
	Kind        Kind
	Default     interface{}
	Description string

	// Max bounds KindInt values. Zero means unbounded.
	Max int
}

var definitions = map[string]Definition{
	FlagDebugInjection: {
		Key:         FlagDebugInjection,
		Kind:        KindBool,
		Default:     false,
		Description: "Expose POST /v1/debug/transitions",
	},
	FlagDisableSending: {
		Key:         FlagDisableSending,
		Kind:        KindBool,
		Default:     false,
		Description: "Leave queued notifications pending instead of sending",
	},
	FlagPauseProbing: {
		Key:         FlagPauseProbing,
		Kind:        KindBool,
		Default:     false,
		Description: "Skip probe sweeps",
	},
	FlagMaxDrainBatch: {
		Key:         FlagMaxDrainBatch,
		Kind:        KindInt,
		Default:     float64(0),
		Description: "Cap on notifications sent per drain, 0 for the configured batch size",
		Max:         1000,
	},
}

// Definitions returns the well-known flags sorted by key.
func Definitions() []Definition {
	defs := make([]Definition, 0, len(definitions))
	for _, d := range definitions {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })
	return defs
}

// Flag is a flag and its current value.
type Flag struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	Reason    string      `json:"reason,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// FlagList represents a list of feature flags.
type FlagList struct {
	Items []Flag `json:"items"`
}

// FlagUpdate represents a single flag update request.
type FlagUpdate struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// FlagUpdateRequest represents a request to update feature flags.
type FlagUpdateRequest struct {
	Updates []FlagUpdate `json:"updates"`
	Reason  string       `json:"reason"`
}

// Validate checks that u names a well-known flag and carries a value of its
// kind. Int values arrive from JSON as float64 and must be whole.
func (u FlagUpdate) Validate() error {
	def, ok := definitions[u.Key]
	if !ok {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidFlag, u.Key)
	}

	switch def.Kind {
	case KindBool:
		if _, ok := u.Value.(bool); !ok {
			return fmt.Errorf("%w: %s takes true or false", ErrInvalidFlag, u.Key)
		}
	case KindInt:
		n, ok := u.Value.(float64)
		if !ok || n != math.Trunc(n) || n < 0 {
			return fmt.Errorf("%w: %s takes a non-negative integer", ErrInvalidFlag, u.Key)
		}
		if def.Max > 0 && n > float64(def.Max) {
			return fmt.Errorf("%w: %s is at most %d", ErrInvalidFlag, u.Key, def.Max)
		}
	}
	return nil
}

// BoolValue returns the flag value as a boolean, or defaultValue when the
// flag is nil or not a boolean.
func (f *Flag) BoolValue(defaultValue bool) bool {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return defaultValue
	}
}

// IntValue returns the flag value as an integer, or defaultValue when the
// flag is nil or not a number.
func (f *Flag) IntValue(defaultValue int) int {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultValue
	}
}

// DefaultFlags returns a fresh flag per well-known definition holding its default.
func DefaultFlags() map[string]*Flag {
	flags := make(map[string]*Flag, len(definitions))
	for key, def := range definitions {
		flags[key] = &Flag{Key: key, Value: def.Default}
	}
	return flags
}
