package transaction

import "fmt"

// Outcome is the success/failure verdict of a transaction.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Failure messages shared by the pipelines and the manager.
const (
	MsgTimedOut   = "transaction timed out"
	MsgAlreadyRun = "transaction already run"
)

// Result is the immutable outcome of a transaction. Message is diagnostic
// only and is set on failures.
type Result struct {
	outcome Outcome
	message string
}

// Succeed returns a successful result.
func Succeed() Result {
	return Result{outcome: OutcomeSucceeded}
}

// Fail returns a failed result carrying a diagnostic message.
func Fail(message string) Result {
	return Result{outcome: OutcomeFailed, message: message}
}

func (r Result) Outcome() Outcome { return r.outcome }
func (r Result) Message() string  { return r.message }
func (r Result) OK() bool         { return r.outcome == OutcomeSucceeded }

func (r Result) String() string {
	if r.message == "" {
		return r.outcome.String()
	}
	return fmt.Sprintf("%s: %s", r.outcome, r.message)
}
