package domain

// ApplyOutcome is the answer returned to an applicant.
type ApplyOutcome string

const (
	OutcomeAlreadyApplied ApplyOutcome = "ALREADY_APPLIED"
	// OutcomeApplied means a first-come application was queued for allocation.
	OutcomeApplied ApplyOutcome = "APPLIED"
	// OutcomeAppliedRaffle means the applicant holds a PENDING raffle entry,
	// or one is queued to be created.
	OutcomeAppliedRaffle ApplyOutcome = "APPLIED_RAFFLE"
	OutcomeTryAgain      ApplyOutcome = "TRY_AGAIN"
	OutcomeWin           ApplyOutcome = "WIN"
	OutcomeLose          ApplyOutcome = "LOSE"
	// OutcomeEnqueueFailed reports a transport failure while handing the
	// application to the queue. Nothing was recorded.
	OutcomeEnqueueFailed ApplyOutcome = "ENQUEUE_FAILED"
)

// AllocationOutcome is the result of one immediate allocation attempt.
type AllocationOutcome string

const (
	AllocationWon       AllocationOutcome = "WON"
	AllocationExhausted AllocationOutcome = "EXHAUSTED"
	AllocationDuplicate AllocationOutcome = "DUPLICATE"
)

// AllocationResult carries the recorded entry when the allocation won.
type AllocationResult struct {
	Outcome AllocationOutcome
	Entry   *Entry
}

func (r AllocationResult) Won() bool {
	return r.Outcome == AllocationWon
}

// ApplyOutcome maps an allocation to what the applicant is told.
func (r AllocationResult) ApplyOutcome() ApplyOutcome {
	switch r.Outcome {
	case AllocationWon:
		return OutcomeWin
	case AllocationDuplicate:
		return OutcomeAlreadyApplied
	default:
		return OutcomeLose
	}
}

// EventSummary reports how the entries of an event are resolved so far.
type EventSummary struct {
	EventID        int64 `json:"event_id"`
	Pending        int64 `json:"pending"`
	Won            int64 `json:"won"`
	Lost           int64 `json:"lost"`
	RemainingStock int64 `json:"remaining_stock"`
}
