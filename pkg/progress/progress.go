// Package progress folds an activity stream into cumulative distance and the
// milestone reached after each activity.
package progress

import (
	"sort"

	"github.com/fitglue/journey/pkg/types"
)

const (
	// MetersPerMile converts provider distances into the milestone unit.
	MetersPerMile = 1609.34
	// NotStartedIndex is the stage index before the first milestone.
	NotStartedIndex = -1
)

// State is the journey position right after one activity.
type State struct {
	CumulativeMeters float64
	CumulativeMiles  float64
	StageIndex       int
	Stage            string
}

// Step pairs a qualifying activity with the state after folding it in.
type Step struct {
	Activity types.Activity
	State    State
}

// Engine computes progress. The zero value is not usable; use NewEngine.
type Engine struct {
	MetersPerUnit   float64
	NotStartedLabel string
}

func NewEngine(metersPerUnit float64, notStartedLabel string) *Engine {
	if metersPerUnit <= 0 {
		metersPerUnit = MetersPerMile
	}
	return &Engine{MetersPerUnit: metersPerUnit, NotStartedLabel: notStartedLabel}
}

// Compute keeps activities dated on or after startDate, orders them by start
// time and emits one Step per activity with the running total. milestones
// must be sorted ascending. A zero startDate keeps every activity.
func (e *Engine) Compute(activities []types.Activity, milestones []types.MilestoneEntry, startDate types.Date) []Step {
	kept := make([]types.Activity, 0, len(activities))
	for _, a := range activities {
		if !startDate.IsZero() && a.StartDate().Before(startDate) {
			continue
		}
		kept = append(kept, a)
	}
	if len(kept) == 0 {
		return nil
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].StartLocal.Before(kept[j].StartLocal)
	})

	steps := make([]Step, 0, len(kept))
	var meters float64
	for _, a := range kept {
		meters += a.Distance
		steps = append(steps, Step{Activity: a, State: e.state(meters, milestones)})
	}
	return steps
}

// Total returns the state after every qualifying activity, or the
// not-started state when none qualify.
func (e *Engine) Total(steps []Step, milestones []types.MilestoneEntry) State {
	if len(steps) == 0 {
		return e.state(0, milestones)
	}
	return steps[len(steps)-1].State
}

func (e *Engine) state(meters float64, milestones []types.MilestoneEntry) State {
	miles := meters / e.MetersPerUnit
	idx := StageIndex(milestones, miles)
	label := e.NotStartedLabel
	if idx != NotStartedIndex {
		label = milestones[idx].Label
	}
	return State{
		CumulativeMeters: meters,
		CumulativeMiles:  miles,
		StageIndex:       idx,
		Stage:            label,
	}
}

// StageIndex returns the index of the last milestone with threshold <= miles,
// or NotStartedIndex. For equal thresholds the later entry wins. The result
// never decreases as miles grows.
func StageIndex(milestones []types.MilestoneEntry, miles float64) int {
	i := sort.Search(len(milestones), func(i int) bool {
		return milestones[i].Threshold > miles
	})
	return i - 1
}
