package pipeline

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// GateEnv is the evaluation environment exposed to a casebook gate
// expression: which fact ids the detective currently holds and which
// casebook entries have already been visited (§4.9 / §5's optimal-path
// feasibility test).
type GateEnv struct {
	KnownFacts map[string]bool `expr:"knownFacts"`
	Visited    map[string]bool `expr:"visited"`
}

// GateCache compiles and caches gate expressions by source text, the
// same role the teacher's DAG edge-condition cache plays for branch
// predicates: compilation is the expensive part, and the same
// expression string recurs across every optimal-path candidate probed
// during S11's greedy search.
type GateCache struct {
	mu      sync.RWMutex
	entries map[string]*vm.Program
}

// NewGateCache builds an empty cache.
func NewGateCache() *GateCache {
	return &GateCache{entries: make(map[string]*vm.Program)}
}

// Compile returns the cached program for source, compiling and storing
// it on first use.
func (c *GateCache) Compile(source string) (*vm.Program, error) {
	c.mu.RLock()
	program, ok := c.entries[source]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(source, expr.Env(GateEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile gate expression %q: %w", source, err)
	}

	c.mu.Lock()
	c.entries[source] = program
	c.mu.Unlock()
	return program, nil
}

// Evaluate compiles (or reuses) source and runs it against env. A
// casebook entry with no gate expression is always reachable, so
// callers should skip Evaluate entirely for an empty RequiresAnyFact
// clause rather than calling it with source == "".
func (c *GateCache) Evaluate(source string, env GateEnv) (bool, error) {
	program, err := c.Compile(source)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate gate expression %q: %w", source, err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("gate expression %q did not evaluate to a boolean", source)
	}
	return result, nil
}

// AnyKnown reports whether any fact in factIDs is present in known,
// compiling and evaluating AnyFactKnownSource(factIDs) through the
// cache rather than scanning factIDs against known by hand, so every
// gate check in the system — S8's reachability sweep and S11's
// eligibility test alike — runs the same compiled, auditable path.
func (c *GateCache) AnyKnown(factIDs []string, known map[string]bool) (bool, error) {
	return c.Evaluate(AnyFactKnownSource(factIDs), GateEnv{KnownFacts: known})
}

// AnyFactKnownSource builds the concrete gate predicate a casebook entry's
// RequiresAnyFact list compiles down to: true once at least one of the
// listed fact ids is present in knownFacts. It is built as an
// expr-lang source string (rather than evaluated directly in Go) so
// every gate in the system goes through the same cached, auditable
// evaluation path, including ones composed from multiple clauses.
func AnyFactKnownSource(factIDs []string) string {
	if len(factIDs) == 0 {
		return "true"
	}
	source := ""
	for i, id := range factIDs {
		if i > 0 {
			source += " or "
		}
		source += fmt.Sprintf("knownFacts[%q]", id)
	}
	return source
}
