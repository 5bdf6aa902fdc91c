package models

// Phase is one ordered step of the analysis pipeline.
type Phase string

const (
	PhaseInitializing Phase = "Initializing"
	PhaseParsing      Phase = "Parsing"
	PhaseStructuring  Phase = "Structuring"
	PhaseClassifying  Phase = "Classifying"
	PhaseReporting    Phase = "Reporting"
	PhaseDone         Phase = "Done"

	// PhaseFallback keys the checkpoint of the failure Result. It never
	// appears as Job.Phase.
	PhaseFallback Phase = "Fallback"
)

// Pipeline is the fixed execution order of work phases.
var Pipeline = []Phase{PhaseParsing, PhaseStructuring, PhaseClassifying, PhaseReporting}

// PhaseInfo describes the snapshot written once a phase completes.
type PhaseInfo struct {
	// Milestone is a fixed policy percentage, not a measure of remaining work.
	Milestone int
	// Next is the phase the job moves to.
	Next Phase
	// Message describes the step that follows.
	Message string
}

var phaseInfo = map[Phase]PhaseInfo{
	PhaseParsing:     {Milestone: 15, Next: PhaseStructuring, Message: "Document parsed; structuring contract content"},
	PhaseStructuring: {Milestone: 35, Next: PhaseClassifying, Message: "Contract structured; classifying lease"},
	PhaseClassifying: {Milestone: 70, Next: PhaseReporting, Message: "Lease classified; generating report"},
	PhaseReporting:   {Milestone: 90, Next: PhaseDone, Message: "Report generated; finalizing result"},
}

// Info returns the completion snapshot data for a work phase.
func (p Phase) Info() (PhaseInfo, bool) {
	info, ok := phaseInfo[p]
	return info, ok
}

// Ordinal gives the position of a phase in the job lifecycle so that
// regressions can be detected. Unknown phases return -1.
func (p Phase) Ordinal() int {
	switch p {
	case PhaseInitializing:
		return 0
	case PhaseParsing:
		return 1
	case PhaseStructuring:
		return 2
	case PhaseClassifying:
		return 3
	case PhaseReporting:
		return 4
	case PhaseDone:
		return 5
	}
	return -1
}

// Description is the human text shown while a phase is running.
func (p Phase) Description() string {
	switch p {
	case PhaseInitializing:
		return "Starting analysis"
	case PhaseParsing:
		return "Extracting document text"
	case PhaseStructuring:
		return "Structuring contract content"
	case PhaseClassifying:
		return "Classifying lease"
	case PhaseReporting:
		return "Generating report"
	case PhaseDone:
		return "Analysis complete"
	}
	return string(p)
}
