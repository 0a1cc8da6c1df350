package core

import "time"

// State is the position of the scheduler inside its poll cycle.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateParsing    State = "parsing"
	StateDiffing    State = "diffing"
	StateEnriching  State = "enriching"
	StateNotifying  State = "notifying"
	StatePersisting State = "persisting"
)

// CycleStatus summarises how a cycle ended.
type CycleStatus string

const (
	CycleStatusRunning   CycleStatus = "running"
	CycleStatusCompleted CycleStatus = "completed"
	CycleStatusPartial   CycleStatus = "partial" // at least one query failed
	CycleStatusCancelled CycleStatus = "cancelled"
)

// CycleReport is the outcome of one pass over all queries.
type CycleReport struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Status      CycleStatus   `json:"status"`
	Queries     []QueryReport `json:"queries"`
}

// QueryReport describes what happened to one query within a cycle.
type QueryReport struct {
	QueryID       string `json:"query_id"`
	Label         string `json:"label"`
	Stage         State  `json:"stage"` // last stage reached
	Pages         int    `json:"pages"`
	Found         int    `json:"found"`
	Novel         int    `json:"novel"`
	DetailsFailed int    `json:"details_failed"`
	Filtered      int    `json:"filtered"`
	Notified      int    `json:"notified"`
	Failed        int    `json:"failed"`
	Persisted     bool   `json:"persisted"`
	Error         string `json:"error,omitempty"`
}

// Novel returns all novel counts across queries, mostly for logging.
func (r *CycleReport) Novel() int {
	total := 0
	for _, q := range r.Queries {
		total += q.Novel
	}
	return total
}

// Failed reports whether any query recorded an error.
func (r *CycleReport) Failed() bool {
	for _, q := range r.Queries {
		if q.Error != "" {
			return true
		}
	}
	return false
}
