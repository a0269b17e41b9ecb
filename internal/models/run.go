package models

import "time"

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether the run will not be mutated by the pipeline anymore.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

type Phase string

const (
	PhaseSearching  Phase = "searching"
	PhaseFetching   Phase = "fetching"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

var phaseOrder = map[Phase]int{
	PhaseSearching:  0,
	PhaseFetching:   1,
	PhaseProcessing: 2,
	PhaseCompleted:  3,
}

// IsTerminal reports whether no further transitions are allowed from the phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Rank returns the position of the phase in the forward order.
// Unknown phases and failed return -1.
func (p Phase) Rank() int {
	if r, ok := phaseOrder[p]; ok {
		return r
	}
	return -1
}

// Snapshot is the full progress state of a sourcing run. It is always written as a whole.
type Snapshot struct {
	Phase        Phase     `json:"phase"`
	Found        int       `json:"found"`
	Fetched      int       `json:"fetched"`
	Failed       int       `json:"failed"`
	Processed    int       `json:"processed"`
	Created      int       `json:"candidates_created"`
	Duplicates   int       `json:"duplicates"`
	Scored       int       `json:"scored"`
	Recommended  int       `json:"recommended"`
	CurrentBatch int       `json:"current_batch"`
	TotalBatches int       `json:"total_batches"`
	Message      string    `json:"message"`
	Errors       []string  `json:"errors,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Errors != nil {
		out.Errors = append([]string(nil), s.Errors...)
	}
	return out
}

type Cost struct {
	ProfilesRequested int     `json:"profiles_requested"`
	ProfilesFetched   int     `json:"profiles_fetched"`
	Spent             float64 `json:"spent"`
	Budget            float64 `json:"budget,omitempty"`
}

// Run is one execution of the fetch, ingest, score and link pipeline.
type Run struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id,omitempty"`
	Intent       string     `json:"intent,omitempty"`
	Status       RunStatus  `json:"status"`
	References   []string   `json:"references,omitempty"`
	Progress     Snapshot   `json:"progress"`
	CandidateIDs []string   `json:"candidate_ids,omitempty"`
	Cost         Cost       `json:"cost"`
	Errors       []string   `json:"errors,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	cp := *r
	cp.References = append([]string(nil), r.References...)
	cp.CandidateIDs = append([]string(nil), r.CandidateIDs...)
	cp.Errors = append([]string(nil), r.Errors...)
	cp.Progress = r.Progress.Clone()
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
