package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// BuildPlannerPrompt wraps userPrompt in the planner phase's system
// preamble, instructing a numbered plan of at most maxPlanSteps steps with
// no execution.
func BuildPlannerPrompt(userPrompt string, maxPlanSteps int) string {
	return fmt.Sprintf(
		"ORCHESTRATOR_PLANNER_PHASE\nYou are operating in plan-first orchestration mode.\n"+
			"Create a numbered implementation plan with at most %d steps.\n"+
			"Use exactly one line per step in the format '1. <step>'.\nDo not execute anything.\n\n"+
			"User request:\n%s", maxPlanSteps, userPrompt)
}

// BuildExecutionPrompt wraps userPrompt and the approved plan in the
// executor phase's preamble.
func BuildExecutionPrompt(userPrompt string, steps []string) string {
	var b strings.Builder
	for i, step := range steps {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(step)
	}
	return fmt.Sprintf(
		"ORCHESTRATOR_EXECUTION_PHASE\nExecute the user request using the approved plan.\n\n"+
			"Approved plan:\n%s\n\nUser request:\n%s\n\nProvide the final response.", b.String(), userPrompt)
}

// ParsePlanSteps extracts the step text from each line matching the strict
// line grammar '<digits>.<text>' or '<digits>)<text>' (leading/trailing
// whitespace ignored, unstructured lines dropped).
func ParsePlanSteps(plan string) []string {
	var steps []string
	for _, line := range strings.Split(plan, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		digitLen := 0
		for digitLen < len(trimmed) && unicode.IsDigit(rune(trimmed[digitLen])) {
			digitLen++
		}
		if digitLen == 0 {
			continue
		}

		remainder := strings.TrimLeft(trimmed[digitLen:], " \t")
		if remainder == "" {
			continue
		}
		switch remainder[0] {
		case '.', ')':
			remainder = remainder[1:]
		default:
			continue
		}

		step := strings.TrimSpace(remainder)
		if step == "" {
			continue
		}
		steps = append(steps, step)
	}
	return steps
}

// CountReviewedSteps counts how many plan steps are mentioned in
// executionText by token overlap: a step is "covered" if any of its
// alphanumeric tokens of length >= 4 appears (case-insensitively) in the
// execution text, or — for a step with no such token — if the whole step
// text appears verbatim.
func CountReviewedSteps(steps []string, executionText string) int {
	normalized := strings.ToLower(executionText)
	covered := 0
	for _, step := range steps {
		tokens := reviewTokens(step)
		if len(tokens) == 0 {
			if strings.Contains(normalized, strings.ToLower(strings.TrimSpace(step))) {
				covered++
			}
			continue
		}
		for _, token := range tokens {
			if strings.Contains(normalized, token) {
				covered++
				break
			}
		}
	}
	return covered
}

// reviewTokens splits step on non-alphanumeric runes and keeps lowercase
// tokens of at least 4 characters, matching the review pass's
// "only alphanumeric tokens >= 4 characters" rule.
func reviewTokens(step string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := strings.ToLower(cur.String())
		if len([]rune(tok)) >= 4 {
			tokens = append(tokens, tok)
		}
		cur.Reset()
	}
	for _, r := range step {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// ResponseWithinBudget reports whether responseChars fits maxResponseChars.
func ResponseWithinBudget(responseChars, maxResponseChars int) bool {
	return responseChars <= maxResponseChars
}
