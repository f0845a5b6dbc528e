package registry

import "testing"

func entryWith(total int64, overallSum float64, dims map[Dimension]Tally) *Entry {
	if dims == nil {
		dims = make(map[Dimension]Tally)
	}
	return &Entry{
		ID:                      "skill-x",
		CurrentVersion:          1,
		TotalGrades:             total,
		OverallSum:              overallSum,
		Dimension:               dims,
		ImprovementThreshold:    3.5,
		MinGradesForImprovement: 50,
	}
}

func TestComputeScoresNoGrades(t *testing.T) {
	s := ComputeScores(entryWith(0, 0, nil))

	if s.AverageOverall != nil {
		t.Errorf("AverageOverall = %v, want nil", *s.AverageOverall)
	}
	for dim, avg := range s.Dimensions {
		if avg != nil {
			t.Errorf("dimension %s average = %v, want nil", dim, *avg)
		}
	}
	if s.GradesUntilEligible != 50 {
		t.Errorf("GradesUntilEligible = %d, want 50", s.GradesUntilEligible)
	}
}

func TestComputeScoresExactMean(t *testing.T) {
	// 4 grades: 2, 3, 4, 5 -> mean 3.5
	s := ComputeScores(entryWith(4, 14, map[Dimension]Tally{
		DimClarity: {Sum: 7, Count: 2}, // only 2 grades supplied clarity
	}))

	if s.AverageOverall == nil || *s.AverageOverall != 3.5 {
		t.Errorf("AverageOverall = %v, want 3.5", s.AverageOverall)
	}
	if avg := s.Dimensions[DimClarity]; avg == nil || *avg != 3.5 {
		t.Errorf("clarity average = %v, want 3.5", avg)
	}
	if avg := s.Dimensions[DimAccuracy]; avg != nil {
		t.Errorf("accuracy average = %v, want nil", *avg)
	}
	if s.GradesUntilEligible != 46 {
		t.Errorf("GradesUntilEligible = %d, want 46", s.GradesUntilEligible)
	}
}

func TestNeedsImprovement(t *testing.T) {
	avg := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		scores SkillScores
		want   bool
	}{
		{
			name: "below threshold with enough grades",
			scores: SkillScores{
				TotalGrades: 50, AverageOverall: avg(3.4),
				ImprovementThreshold: 3.5, MinGradesForImprovement: 50,
			},
			want: true,
		},
		{
			name: "exactly at threshold is fine",
			scores: SkillScores{
				TotalGrades: 100, AverageOverall: avg(3.5),
				ImprovementThreshold: 3.5, MinGradesForImprovement: 50,
			},
			want: false,
		},
		{
			name: "below threshold but too few grades",
			scores: SkillScores{
				TotalGrades: 49, AverageOverall: avg(1.0),
				ImprovementThreshold: 3.5, MinGradesForImprovement: 50,
			},
			want: false,
		},
		{
			name: "dimension hard floor ignores grade minimum",
			scores: SkillScores{
				TotalGrades: 3, AverageOverall: avg(4.8),
				Dimensions:           map[Dimension]*float64{DimAccuracy: avg(2.9)},
				ImprovementThreshold: 3.5, MinGradesForImprovement: 50,
			},
			want: true,
		},
		{
			name: "dimension exactly at floor is fine",
			scores: SkillScores{
				TotalGrades: 10, AverageOverall: avg(4.0),
				Dimensions:           map[Dimension]*float64{DimAccuracy: avg(3.0)},
				ImprovementThreshold: 3.5, MinGradesForImprovement: 50,
			},
			want: false,
		},
		{
			name:   "no grades at all",
			scores: SkillScores{ImprovementThreshold: 3.5, MinGradesForImprovement: 50},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsImprovement(tt.scores); got != tt.want {
				t.Errorf("NeedsImprovement = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWeakDimensionsSortedWeakestFirst(t *testing.T) {
	avg := func(v float64) *float64 { return &v }
	s := SkillScores{
		Dimensions: map[Dimension]*float64{
			DimRelevance: avg(2.5),
			DimClarity:   avg(1.8),
			DimAccuracy:  avg(4.0),
		},
	}

	weak := WeakDimensions(s)
	if len(weak) != 2 || weak[0] != DimClarity || weak[1] != DimRelevance {
		t.Errorf("WeakDimensions = %v, want [clarity relevance]", weak)
	}
}

func TestSnapshotScoresIsDeepCopy(t *testing.T) {
	overall := 2.0
	dimAvg := 2.5
	s := SkillScores{
		TotalGrades:    10,
		AverageOverall: &overall,
		Dimensions:     map[Dimension]*float64{DimClarity: &dimAvg},
	}

	snap := SnapshotScores(s)
	overall = 5.0
	dimAvg = 5.0

	if *snap.Overall != 2.0 {
		t.Errorf("snapshot overall mutated to %v", *snap.Overall)
	}
	if *snap.Dimensions[DimClarity] != 2.5 {
		t.Errorf("snapshot clarity mutated to %v", *snap.Dimensions[DimClarity])
	}
}
