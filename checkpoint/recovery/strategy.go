// Package recovery provides policy objects deciding how a
// safe-executed call reacts to an error from the wrapped callable.
// Strategies see and mutate only the state they are handed; they
// never touch the checkpoint DAG directly, and they are stateless
// between invocations of SafeExecute — any per-attempt counters live
// in the caller's attempt loop, not in the strategy.
package recovery

import (
	"math"
	"time"

	"github.com/haldane-ai/checkpoint-go/checkpoint"
)

// Outcome is the decision a Strategy returns for one error
// observation.
type Outcome struct {
	// Action selects which of RETRY/FALLBACK/GIVE_UP this Outcome
	// represents.
	Action Action

	// State is the (possibly modified) state to continue with, valid
	// for ActionRetry and ActionFallback.
	State checkpoint.Value

	// Delay is how long the orchestrator should wait before
	// re-invoking the callable, valid for ActionRetry only.
	Delay time.Duration
}

// Action enumerates the three outcomes a Strategy can return.
type Action int

const (
	ActionRetry Action = iota
	ActionFallback
	ActionGiveUp
)

// Retry builds a RETRY outcome.
func Retry(state checkpoint.Value, delay time.Duration) Outcome {
	return Outcome{Action: ActionRetry, State: state, Delay: delay}
}

// Fallback builds a FALLBACK outcome.
func Fallback(state checkpoint.Value) Outcome {
	return Outcome{Action: ActionFallback, State: state}
}

// GiveUp builds a GIVE_UP outcome.
func GiveUp() Outcome {
	return Outcome{Action: ActionGiveUp}
}

// Strategy decides how to react to an error observed during one
// attempt of a protected call.
type Strategy interface {
	Handle(err error, state checkpoint.Value, attempt int) Outcome
}

// RetryWithBackoff retries up to MaxRetries times with exponential
// backoff: delay = min(Max, Base * Factor^attempt). A zero Factor
// defaults to 2.
type RetryWithBackoff struct {
	Base       time.Duration
	Max        time.Duration
	Factor     float64
	MaxRetries int
}

func (r RetryWithBackoff) Handle(_ error, state checkpoint.Value, attempt int) Outcome {
	if attempt >= r.MaxRetries {
		return GiveUp()
	}
	factor := r.Factor
	if factor == 0 {
		factor = 2
	}
	delay := time.Duration(float64(r.Base) * math.Pow(factor, float64(attempt)))
	if delay > r.Max {
		delay = r.Max
	}
	if delay < 0 {
		delay = 0
	}
	return Retry(state, delay)
}

// AlternativePath retries exactly once with StateModifiers shallow-merged
// over the current state, then gives up.
type AlternativePath struct {
	StateModifiers checkpoint.Value // must be a Map Value

	used bool
}

func (a *AlternativePath) Handle(_ error, state checkpoint.Value, _ int) Outcome {
	if a.used {
		return GiveUp()
	}
	a.used = true
	return Retry(overrideKeys(state, a.StateModifiers), 0)
}

// DegradeGracefully falls back once to state merged with
// {"mode":"degraded","simplified":true}, then gives up.
type DegradeGracefully struct {
	used bool
}

func (d *DegradeGracefully) Handle(_ error, state checkpoint.Value, _ int) Outcome {
	if d.used {
		return GiveUp()
	}
	d.used = true
	degraded := checkpoint.MapValue(map[string]checkpoint.Value{
		"mode":       checkpoint.StrValue("degraded"),
		"simplified": checkpoint.BoolValue(true),
	})
	return Fallback(overrideKeys(state, degraded))
}

// Composite tries each child strategy in order; the first child that
// does not GIVE_UP determines the outcome. If every child gives up,
// Composite gives up too.
type Composite struct {
	Children []Strategy
}

func (c Composite) Handle(err error, state checkpoint.Value, attempt int) Outcome {
	for _, child := range c.Children {
		outcome := child.Handle(err, state, attempt)
		if outcome.Action != ActionGiveUp {
			return outcome
		}
	}
	return GiveUp()
}

// overrideKeys performs a shallow key-wise "current ⊕ modifiers"
// override: modifiers' keys win on conflict. Both arguments must be
// Map values (or the zero Value, treated as an empty map); anything
// else is returned unchanged.
func overrideKeys(base, modifiers checkpoint.Value) checkpoint.Value {
	if modifiers.Kind != checkpoint.KindMap {
		return base
	}
	merged := make(map[string]checkpoint.Value)
	if base.Kind == checkpoint.KindMap {
		for k, v := range base.Map {
			merged[k] = v
		}
	}
	for k, v := range modifiers.Map {
		merged[k] = v
	}
	return checkpoint.MapValue(merged)
}
