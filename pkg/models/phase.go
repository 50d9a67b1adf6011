package models

// Phase is one state in the pipeline state machine.
type Phase string

// Pipeline phases, in nominal traversal order.
const (
	PhaseQueued       Phase = "queued"
	PhaseAnalysis     Phase = "analysis"
	PhaseArchitecture Phase = "architecture"
	PhaseScaffold     Phase = "scaffold"
	PhaseDeploying    Phase = "deploying"
	PhaseDevelopment  Phase = "development"
	PhaseDebugging    Phase = "debugging"
	PhaseQA           Phase = "qa"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// IsTerminal reports whether the phase ends normal execution.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// phaseEdges is the forward transition graph. Any non-terminal phase may
// additionally move to failed; both terminal phases may re-enter
// development through modify.
var phaseEdges = map[Phase][]Phase{
	PhaseQueued:       {PhaseAnalysis},
	PhaseAnalysis:     {PhaseArchitecture},
	PhaseArchitecture: {PhaseScaffold},
	PhaseScaffold:     {PhaseDeploying, PhaseDevelopment},
	PhaseDeploying:    {PhaseDevelopment},
	PhaseDevelopment:  {PhaseDebugging, PhaseQA},
	PhaseDebugging:    {PhaseDevelopment},
	PhaseQA:           {PhaseCompleted},
	PhaseCompleted:    {PhaseDevelopment},
	PhaseFailed:       {PhaseDevelopment},
}

// CanTransition reports whether moving from one phase to another is legal.
func CanTransition(from, to Phase) bool {
	if to == PhaseFailed {
		return !from.IsTerminal()
	}
	for _, next := range phaseEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// phaseProgress is the minimum progress value per phase. Failed is absent:
// failure leaves progress where it was.
var phaseProgress = map[Phase]int{
	PhaseQueued:       0,
	PhaseAnalysis:     10,
	PhaseArchitecture: 25,
	PhaseScaffold:     35,
	PhaseDeploying:    40,
	PhaseDevelopment:  40,
	PhaseDebugging:    75,
	PhaseQA:           90,
	PhaseCompleted:    100,
}

// MinProgress returns the progress floor for a phase. The second return is
// false for phases that leave progress unchanged.
func MinProgress(p Phase) (int, bool) {
	v, ok := phaseProgress[p]
	return v, ok
}
