package analysis

import "fmt"

// Stage of one request inside the orchestrator.
type Stage string

const (
	StageAccepted    Stage = "accepted"
	StageAcquiring   Stage = "acquiring"
	StageFetching    Stage = "fetching"
	StageAnalyzing   Stage = "analyzing"
	StageAggregating Stage = "aggregating"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

var stageTransitions = map[Stage][]Stage{
	StageAccepted:    {StageAcquiring, StageFailed},
	StageAcquiring:   {StageFetching, StageFailed},
	StageFetching:    {StageAnalyzing, StageFailed},
	StageAnalyzing:   {StageAggregating, StageFailed},
	StageAggregating: {StageCompleted, StageFailed},
}

func (s Stage) Terminal() bool { return s == StageCompleted || s == StageFailed }

// StageObserver sees every stage change of every request.
type StageObserver func(requestID string, from, to Stage)

type tracker struct {
	id       string
	stage    Stage
	observer StageObserver
}

func (t *tracker) advance(to Stage) error {
	for _, next := range stageTransitions[t.stage] {
		if next == to {
			from := t.stage
			t.stage = to
			if t.observer != nil {
				t.observer(t.id, from, to)
			}
			return nil
		}
	}
	return fmt.Errorf("request %s: illegal stage change %s -> %s", t.id, t.stage, to)
}
