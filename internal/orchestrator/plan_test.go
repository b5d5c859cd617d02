package orchestrator

import "testing"

func TestParsePlanStepsExtractsDotAndParenPrefixes(t *testing.T) {
	steps := ParsePlanSteps("1. Inspect current behavior\n2) Design fix\n3. Add tests\nDone")
	want := []string{"Inspect current behavior", "Design fix", "Add tests"}
	if len(steps) != len(want) {
		t.Fatalf("expected %d steps, got %+v", len(want), steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("step %d: expected %q, got %q", i, want[i], steps[i])
		}
	}
}

func TestParsePlanStepsIgnoresUnstructuredLines(t *testing.T) {
	steps := ParsePlanSteps("- inspect\n* patch\nstep three")
	if len(steps) != 0 {
		t.Fatalf("expected no steps, got %+v", steps)
	}
}

func TestCountReviewedStepsMatchesTokenOverlapDeterministically(t *testing.T) {
	steps := []string{"Inspect constraints", "Apply change", "Run verification tests"}
	executionText := "Applied change after inspecting constraints, then verification tests passed."
	if got := CountReviewedSteps(steps, executionText); got != 3 {
		t.Fatalf("expected all 3 steps covered, got %d", got)
	}
	if got := CountReviewedSteps(steps, "no related content"); got != 0 {
		t.Fatalf("expected 0 steps covered, got %d", got)
	}
}

func TestResponseWithinBudgetRespectsBoundary(t *testing.T) {
	cases := []struct {
		chars, max int
		want       bool
	}{
		{24, 24, true},
		{12, 24, true},
		{25, 24, false},
	}
	for _, c := range cases {
		if got := ResponseWithinBudget(c.chars, c.max); got != c.want {
			t.Fatalf("ResponseWithinBudget(%d, %d) = %v, want %v", c.chars, c.max, got, c.want)
		}
	}
}
