package router

import (
	"sort"
	"sync"

	"aolcore/pkg/logging"
)

// Condition evaluates a routing predicate against caller-supplied context.
type Condition func(ctx interface{}) bool

type rule struct {
	condition Condition
	target    string
	priority  int
	order     int
}

// RuleTable holds conditional routing rules keyed by source node. Rules are
// evaluated in descending priority; ties break by insertion order.
type RuleTable struct {
	mu    sync.Mutex
	rules map[string][]rule
	next  int
}

// NewRuleTable creates an empty rule table.
func NewRuleTable() *RuleTable {
	return &RuleTable{rules: make(map[string][]rule)}
}

// AddRule registers a conditional route from a source node.
func (t *RuleTable) AddRule(source string, condition Condition, target string, priority int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rules[source] = append(t.rules[source], rule{
		condition: condition,
		target:    target,
		priority:  priority,
		order:     t.next,
	})
	t.next++

	sort.SliceStable(t.rules[source], func(i, j int) bool {
		a, b := t.rules[source][i], t.rules[source][j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.order < b.order
	})
}

// NextTarget evaluates the source node's rules against the context and
// returns the first matching target. A panicking predicate is skipped.
func (t *RuleTable) NextTarget(source string, ctx interface{}) (string, bool) {
	t.mu.Lock()
	rules := append([]rule(nil), t.rules[source]...)
	t.mu.Unlock()

	for _, r := range rules {
		if evalCondition(r.condition, ctx, source) {
			return r.target, true
		}
	}
	return "", false
}

func evalCondition(c Condition, ctx interface{}, source string) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Router", nil, "Conditional rule for %s panicked: %v", source, r)
			matched = false
		}
	}()
	return c(ctx)
}
