package progress

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/fitglue/journey/pkg/types"
)

var tolkien = []types.MilestoneEntry{
	{Threshold: 0, Label: "The Shire"},
	{Threshold: 100, Label: "Rivendell"},
	{Threshold: 500, Label: "Mordor"},
}

func day(d int) time.Time {
	return time.Date(2025, 12, 18+d, 7, 30, 0, 0, time.UTC)
}

func activity(id int64, start time.Time, meters float64) types.Activity {
	return types.Activity{ID: id, StartLocal: start, Distance: meters}
}

func TestCompute_Scenario(t *testing.T) {
	engine := NewEngine(MetersPerMile, "Start your journey!")
	activities := []types.Activity{
		activity(3, day(3), 30000),
		activity(1, day(1), 40000),
		activity(2, day(2), 70000),
	}

	steps := engine.Compute(activities, tolkien, types.DateOf(day(1)))
	if len(steps) != 3 {
		t.Fatalf("Compute() returned %d steps, want 3", len(steps))
	}

	wantMiles := []float64{24.855, 68.351, 86.992}
	for i, step := range steps {
		if step.Activity.ID != int64(i+1) {
			t.Errorf("step %d: activity %d, want %d", i, step.Activity.ID, i+1)
		}
		if math.Abs(step.State.CumulativeMiles-wantMiles[i]) > 0.001 {
			t.Errorf("step %d: %.3f miles, want %.3f", i, step.State.CumulativeMiles, wantMiles[i])
		}
		if step.State.Stage != "The Shire" || step.State.StageIndex != 0 {
			t.Errorf("step %d: stage %q (%d), want The Shire (0)", i, step.State.Stage, step.State.StageIndex)
		}
	}
	if got := steps[2].State.CumulativeMeters; got != 140000 {
		t.Errorf("final meters = %v, want 140000", got)
	}
}

func TestCompute_Filtering(t *testing.T) {
	engine := NewEngine(MetersPerMile, "Start your journey!")
	start := types.DateOf(day(2))

	tests := []struct {
		name       string
		activities []types.Activity
		wantIDs    []int64
	}{
		{
			name:       "Empty input",
			activities: nil,
			wantIDs:    nil,
		},
		{
			name: "Before start date excluded",
			activities: []types.Activity{
				activity(1, day(1), 5000),
				activity(2, day(2), 5000),
			},
			wantIDs: []int64{2},
		},
		{
			name: "Start of day boundary is inclusive",
			activities: []types.Activity{
				activity(1, time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC), 5000),
				activity(2, time.Date(2025, 12, 19, 23, 59, 59, 0, time.UTC), 5000),
			},
			wantIDs: []int64{1},
		},
		{
			name: "Equal timestamps keep feed order",
			activities: []types.Activity{
				activity(7, day(3), 1000),
				activity(5, day(3), 1000),
			},
			wantIDs: []int64{7, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := engine.Compute(tt.activities, tolkien, start)
			var ids []int64
			for _, s := range steps {
				ids = append(ids, s.Activity.ID)
			}
			if !reflect.DeepEqual(ids, tt.wantIDs) {
				t.Errorf("Compute() ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestCompute_ZeroStartDateKeepsAll(t *testing.T) {
	steps := NewEngine(0, "").Compute([]types.Activity{activity(1, day(-100), 1)}, tolkien, types.Date{})
	if len(steps) != 1 {
		t.Errorf("Compute() returned %d steps, want 1", len(steps))
	}
}

func TestCompute_OrderIndependentTotal(t *testing.T) {
	engine := NewEngine(MetersPerMile, "Start your journey!")
	var activities []types.Activity
	var sum float64
	for i := 0; i < 40; i++ {
		meters := float64((i*7919)%23000 + 500)
		activities = append(activities, activity(int64(i), day(1).Add(time.Duration(i)*time.Hour), meters))
		sum += meters
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 5; trial++ {
		shuffled := append([]types.Activity(nil), activities...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		steps := engine.Compute(shuffled, tolkien, types.DateOf(day(1)))
		if len(steps) != len(activities) {
			t.Fatalf("trial %d: %d steps, want %d", trial, len(steps), len(activities))
		}
		if total := engine.Total(steps, tolkien).CumulativeMeters; math.Abs(total-sum) > 1e-6 {
			t.Errorf("trial %d: total %v, want %v", trial, total, sum)
		}

		for i := 1; i < len(steps); i++ {
			prev, cur := steps[i-1].State, steps[i].State
			if cur.CumulativeMeters < prev.CumulativeMeters || cur.StageIndex < prev.StageIndex {
				t.Errorf("trial %d: step %d went backwards (%v, %d) after (%v, %d)",
					trial, i, cur.CumulativeMeters, cur.StageIndex, prev.CumulativeMeters, prev.StageIndex)
			}
		}
	}
}

func TestCompute_ZeroDistanceParticipates(t *testing.T) {
	engine := NewEngine(MetersPerMile, "Start your journey!")
	steps := engine.Compute([]types.Activity{activity(1, day(1), 0)}, tolkien, types.DateOf(day(1)))

	if len(steps) != 1 {
		t.Fatalf("Compute() returned %d steps, want 1", len(steps))
	}
	if got := steps[0].State; got.CumulativeMiles != 0 || got.Stage != "The Shire" {
		t.Errorf("state = %+v, want 0 miles at The Shire", got)
	}
}

func TestCompute_NotStartedSentinel(t *testing.T) {
	engine := NewEngine(MetersPerMile, "Start your journey!")
	table := []types.MilestoneEntry{{Threshold: 10, Label: "Bree"}}

	steps := engine.Compute([]types.Activity{activity(1, day(1), 1609.34 * 9.99)}, table, types.Date{})
	if len(steps) != 1 {
		t.Fatalf("Compute() returned %d steps, want 1", len(steps))
	}
	if got := steps[0].State; got.StageIndex != NotStartedIndex || got.Stage != "Start your journey!" {
		t.Errorf("state = %+v, want the not-started sentinel", got)
	}

	if got := engine.Total(nil, table).Stage; got != "Start your journey!" {
		t.Errorf("Total(nil).Stage = %q, want the not-started label", got)
	}
}

func TestStageIndex(t *testing.T) {
	ties := []types.MilestoneEntry{
		{Threshold: 0, Label: "Start"},
		{Threshold: 5, Label: "First"},
		{Threshold: 5, Label: "Second"},
	}

	tests := []struct {
		name       string
		milestones []types.MilestoneEntry
		miles      float64
		want       int
	}{
		{"Empty table", nil, 10, NotStartedIndex},
		{"Below first threshold", []types.MilestoneEntry{{Threshold: 1, Label: "x"}}, 0.5, NotStartedIndex},
		{"Exactly on threshold", tolkien, 100, 1},
		{"Just under threshold", tolkien, 99.999, 0},
		{"Past the last", tolkien, 10000, 2},
		{"Tie resolves to later entry", ties, 5, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StageIndex(tt.milestones, tt.miles); got != tt.want {
				t.Errorf("StageIndex(%v) = %d, want %d", tt.miles, got, tt.want)
			}
		})
	}
}

func TestStageIndex_Monotonic(t *testing.T) {
	prev := NotStartedIndex
	for miles := 0.0; miles <= 600; miles += 0.5 {
		idx := StageIndex(tolkien, miles)
		if idx < prev {
			t.Fatalf("StageIndex(%v) = %d, dropped below %d", miles, idx, prev)
		}
		prev = idx
	}
}
