package registry

import "sort"

// hardFloor is the dimension average below which improvement is always
// warranted, independent of the skill's configured threshold.
const hardFloor = 3.0

// ComputeScores projects an entry's counters into read-side scores.
// Averages are exact quotients of the stored sums and counts.
func ComputeScores(e *Entry) SkillScores {
	s := SkillScores{
		TotalGrades:             e.TotalGrades,
		Dimensions:              make(map[Dimension]*float64, len(Dimensions)),
		CurrentVersion:          e.CurrentVersion,
		ImprovementPending:      e.ImprovementPending,
		ImprovementThreshold:    e.ImprovementThreshold,
		MinGradesForImprovement: e.MinGradesForImprovement,
	}

	if e.TotalGrades > 0 {
		avg := e.OverallSum / float64(e.TotalGrades)
		s.AverageOverall = &avg
	}
	for _, dim := range Dimensions {
		t := e.Dimension[dim]
		if t.Count > 0 {
			avg := t.Sum / float64(t.Count)
			s.Dimensions[dim] = &avg
		} else {
			s.Dimensions[dim] = nil
		}
	}

	if remaining := int64(e.MinGradesForImprovement) - e.TotalGrades; remaining > 0 {
		s.GradesUntilEligible = remaining
	}
	return s
}

// NeedsImprovement reports whether a skill's scores warrant an automatic
// prompt rewrite: either enough grades have accumulated and the overall
// average fell strictly below the threshold, or any dimension average fell
// below the 3.0 hard floor.
func NeedsImprovement(s SkillScores) bool {
	if s.TotalGrades >= int64(s.MinGradesForImprovement) &&
		s.AverageOverall != nil && *s.AverageOverall < s.ImprovementThreshold {
		return true
	}
	for _, avg := range s.Dimensions {
		if avg != nil && *avg < hardFloor {
			return true
		}
	}
	return false
}

// WeakDimensions returns the dimensions averaging below the hard floor,
// weakest first.
func WeakDimensions(s SkillScores) []Dimension {
	var weak []Dimension
	for _, dim := range Dimensions {
		if avg := s.Dimensions[dim]; avg != nil && *avg < hardFloor {
			weak = append(weak, dim)
		}
	}
	sort.Slice(weak, func(i, j int) bool {
		return *s.Dimensions[weak[i]] < *s.Dimensions[weak[j]]
	})
	return weak
}

// SnapshotScores freezes a score projection for attachment to an improvement
// request. The copy is deep: later counter updates cannot reach it.
func SnapshotScores(s SkillScores) Snapshot {
	snap := Snapshot{
		TotalGrades: s.TotalGrades,
		Dimensions:  make(map[Dimension]*float64, len(s.Dimensions)),
		Threshold:   s.ImprovementThreshold,
	}
	if s.AverageOverall != nil {
		v := *s.AverageOverall
		snap.Overall = &v
	}
	for dim, avg := range s.Dimensions {
		if avg != nil {
			v := *avg
			snap.Dimensions[dim] = &v
		} else {
			snap.Dimensions[dim] = nil
		}
	}
	return snap
}
