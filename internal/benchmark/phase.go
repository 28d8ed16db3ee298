package benchmark

// Phase of a benchmark run. A run goes through the phases in order, never going back.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseModelLoaded
	PhaseGraphRewritten
	PhaseWarmup
	PhaseMeasured
	PhaseReported
	PhaseDone
)

//go:generate go tool enumer -type=Phase -trimprefix=Phase -transform=snake-upper -values -text phase.go
