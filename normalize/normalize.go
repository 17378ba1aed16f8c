// Package normalize rewrites create and update payloads before they reach
// a delegate so that per-model invariants hold.
//
// Rules are registered per model name. Models without rules pass through
// untouched. The default rule set (see Defaults) flattens nested
// relationship connectors into foreign keys, back-fills owner fields from
// the caller identity and checks that the owner fields are present:
//
//	n := normalize.Defaults(registry)
//	err := n.Normalize(ctx, "Task", normalize.OpCreate, data)
package normalize

import (
	"context"
	"slices"
	"sync"

	"github.com/syssam/dynacrud"
)

// Op is the write operation a payload is normalized for.
type Op uint

// Write operations.
const (
	OpCreate Op = 1 << iota
	OpUpdate
)

// Is reports whether o matches the given operation(s).
func (o Op) Is(op Op) bool {
	return o&op != 0
}

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Input is the payload handed to rules. Rules mutate Data in place.
type Input struct {
	Model string
	Op    Op
	Data  dynacrud.Record
}

type (
	// Rule rewrites or validates a payload.
	Rule interface {
		Normalize(context.Context, *Input) error
	}

	// RuleFunc is an adapter which allows the use of ordinary functions as rules.
	RuleFunc func(context.Context, *Input) error

	// Rules runs rules in order and stops at the first error.
	Rules []Rule
)

// Normalize returns f(ctx, in).
func (f RuleFunc) Normalize(ctx context.Context, in *Input) error {
	return f(ctx, in)
}

// Normalize evaluates the rules in order.
func (rs Rules) Normalize(ctx context.Context, in *Input) error {
	for _, r := range rs {
		if err := r.Normalize(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

// OnOp evaluates the given rule only for the given operation(s).
func OnOp(rule Rule, op Op) Rule {
	return RuleFunc(func(ctx context.Context, in *Input) error {
		if in.Op.Is(op) {
			return rule.Normalize(ctx, in)
		}
		return nil
	})
}

// Normalizer maps model names to their rules.
type Normalizer struct {
	mu    sync.RWMutex
	rules map[string]Rules
}

// New returns a Normalizer without rules.
func New() *Normalizer {
	return &Normalizer{rules: make(map[string]Rules)}
}

// Register appends rules for a model.
func (n *Normalizer) Register(model string, rules ...Rule) *Normalizer {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rules[model] = append(n.rules[model], rules...)
	return n
}

// Models returns the names of the models with rules, sorted.
func (n *Normalizer) Models() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.rules))
	for name := range n.rules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Normalize applies the rules of model to data in place.
// A nil Normalizer or a model without rules is a no-op.
func (n *Normalizer) Normalize(ctx context.Context, model string, op Op, data dynacrud.Record) error {
	if n == nil || data == nil {
		return nil
	}
	n.mu.RLock()
	rules := n.rules[model]
	n.mu.RUnlock()
	if len(rules) == 0 {
		return nil
	}
	return rules.Normalize(ctx, &Input{Model: model, Op: op, Data: data})
}
