package coach

import (
	"fmt"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/task"
)

// GateDesign names the pre-loop design gate in QualityGateBlockedError.
const GateDesign = "design"

// DesignGate judges the Player's pre-loop design in design_results.json.
type DesignGate struct {
	Store *artifact.Store
	// ArchitectureThreshold is the minimum architectural score of the plan.
	ArchitectureThreshold int
}

// DesignVerdict is what a passing design gate contributes to the run.
type DesignVerdict struct {
	Results  artifact.DesignResults
	MaxTurns int
}

// Evaluate returns the complexity-derived turn budget for an accepted
// design. A missing or unreadable design, a rejected checkpoint or a score
// below threshold yields a QualityGateBlockedError.
func (g *DesignGate) Evaluate(taskID string) (DesignVerdict, error) {
	var d artifact.DesignResults
	if err := g.Store.Read(artifact.KindDesignResults, taskID, 0, &d); err != nil {
		return DesignVerdict{}, errors.NewQualityGateBlockedError(GateDesign, "design results unavailable").
			WithTaskID(taskID).WithCause(err)
	}
	if !d.CheckpointPassed {
		return DesignVerdict{Results: d}, errors.NewQualityGateBlockedError(GateDesign, "design checkpoint rejected").
			WithTaskID(taskID).WithScore(d.ArchitecturalScore)
	}

	threshold := g.ArchitectureThreshold
	if threshold <= 0 {
		threshold = DefaultArchitectureThreshold
	}
	if d.ArchitecturalScore < threshold {
		return DesignVerdict{Results: d}, errors.NewQualityGateBlockedError(GateDesign,
			fmt.Sprintf("architectural score below threshold %d", threshold)).
			WithTaskID(taskID).WithScore(d.ArchitecturalScore)
	}

	return DesignVerdict{
		Results:  d,
		MaxTurns: task.MaxTurnsFor(task.LevelForScore(d.Complexity)),
	}, nil
}
