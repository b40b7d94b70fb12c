package execution

// Aggregate derives the execution-level status from the recorded step
// outcomes. totalSteps is the number of steps the test case defines; steps
// without a recorded outcome count as not yet executed.
//
// Precedence, highest first:
//
//  1. any FAIL step fails the execution
//  2. otherwise any BLOCKED step blocks it
//  3. otherwise PASS requires every step recorded as passed or skipped,
//     with at least one pass
//  4. everything else, including an empty or all-skipped result set, is
//     NOT_RUN
//
// The order of outcomes never affects the result.
func Aggregate(outcomes []StepOutcome, totalSteps int) ExecutionStatus {
	if totalSteps < len(outcomes) {
		totalSteps = len(outcomes)
	}
	var passed, skipped int
	var hasFail, hasBlocked bool
	for _, o := range outcomes {
		switch o {
		case StepFail:
			hasFail = true
		case StepBlocked:
			hasBlocked = true
		case StepPass:
			passed++
		case StepSkipped:
			skipped++
		}
	}
	if hasFail {
		return StatusFail
	}
	if hasBlocked {
		return StatusBlocked
	}
	if passed > 0 && passed+skipped == totalSteps {
		return StatusPass
	}
	return StatusNotRun
}
