// Package axiom defines the fixed fitness predicates an agent must satisfy to
// stay in the population.
package axiom

// Names of the default axioms.
const (
	SelfPreservation   = "self_preservation"
	KnowledgeRetention = "knowledge_retention"
	ComplexityBoundary = "complexity_boundary"
	LockDiscipline     = "lock_discipline"
)

// Bounds used by the default axioms.
const (
	MaxContext   = 20
	MaxSubagents = 5
)

// State is the view of an agent that axioms are evaluated against.
type State struct {
	Energy        float64
	ContextLen    int
	SubagentCount int

	// RegistryLocked reports whether the evaluating operation itself holds
	// the registry lock while checking.
	RegistryLocked bool
}

// Axiom is a named boolean predicate over an agent state.
type Axiom struct {
	Name  string
	Holds func(State) bool
}

// Set is an ordered, fixed collection of axioms.
type Set []Axiom

// Default returns the four axioms every registered agent is judged by.
func Default() Set {
	return Set{
		{Name: SelfPreservation, Holds: func(s State) bool { return s.Energy > 0 }},
		{Name: KnowledgeRetention, Holds: func(s State) bool { return s.ContextLen < MaxContext }},
		{Name: ComplexityBoundary, Holds: func(s State) bool { return s.SubagentCount < MaxSubagents }},
		{Name: LockDiscipline, Holds: func(s State) bool { return !s.RegistryLocked }},
	}
}

// Check returns the names of the axioms violated by s, in set order.
// An empty result means s is compliant.
func (set Set) Check(s State) []string {
	var violated []string
	for _, a := range set {
		if !a.Holds(s) {
			violated = append(violated, a.Name)
		}
	}
	return violated
}

// Holds reports whether every axiom in the set holds for s.
func (set Set) Holds(s State) bool {
	for _, a := range set {
		if !a.Holds(s) {
			return false
		}
	}
	return true
}

// Names returns the axiom names in set order.
func (set Set) Names() []string {
	names := make([]string, len(set))
	for i, a := range set {
		names[i] = a.Name
	}
	return names
}
