package models

import "time"

type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunValidating RunStatus = "validating"
	RunRunning    RunStatus = "running"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// allowedTransitions is the full edge set of the run state machine. The run
// ledger is the only writer of status, so the table lives next to the model
// rather than inside any processor.
var allowedTransitions = map[RunStatus][]RunStatus{
	RunPending:    {RunValidating, RunCancelled, RunFailed},
	RunValidating: {RunRunning, RunFailed},
	RunRunning:    {RunProcessing, RunCancelled, RunFailed},
	RunProcessing: {RunCompleted, RunFailed},
}

// CanTransition reports whether from -> to is a legal status edge.
func CanTransition(from, to RunStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every status from which `to` is reachable.
func TransitionSources(to RunStatus) []RunStatus {
	var sources []RunStatus
	for from, nexts := range allowedTransitions {
		for _, next := range nexts {
			if next == to {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// RunRecord is one row per execution attempt. Records are created at
// admission and never deleted; they are the audit trail and the source of
// truth for status polling.
type RunRecord struct {
	ID               string     `json:"id" db:"id"`
	TenantID         string     `json:"tenant_id" db:"tenant_id"`
	Provider         string     `json:"provider" db:"provider"`
	Domain           string     `json:"domain" db:"domain"`
	JobName          string     `json:"job_name" db:"job_name"`
	Status           RunStatus  `json:"status" db:"status"`
	ErrorKind        *string    `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage     *string    `json:"error_message,omitempty" db:"error_message"`
	RecordsProcessed int64      `json:"records_processed" db:"records_processed"`
	TargetLocation   *string    `json:"target_location,omitempty" db:"target_location"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt        *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

func (r RunRecord) Job() JobKey {
	return JobKey{Provider: r.Provider, Domain: r.Domain, Name: r.JobName}
}
