// ABOUTME: Domain payload shapes carried through the bridge unmodified.
// ABOUTME: Participant verdicts, the arbiter's aggregate decision, and the worker request.

package protocol

// Decision is a participant's verdict on the question.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// ParticipantResult is the terminal payload of one participant, produced
// exactly once per agent id.
type ParticipantResult struct {
	AgentID         string   `json:"agentId"`
	Decision        Decision `json:"decision"`
	Content         string   `json:"content"`
	Reasoning       string   `json:"reasoning"`
	Confidence      float64  `json:"confidence"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
}

// VotingTally counts participant verdicts. The three fields sum to the
// participant count.
type VotingTally struct {
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Abstained int `json:"abstained"`
}

// AgentScore is the arbiter's per-participant evaluation, 0-100.
type AgentScore struct {
	AgentID   string `json:"agentId"`
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

// AggregateDecision is the arbiter's reduction of all participant results,
// produced exactly once per request in the judge_complete payload.
type AggregateDecision struct {
	FinalDecision Decision     `json:"finalDecision"`
	VotingTally   VotingTally  `json:"votingTally"`
	Scores        []AgentScore `json:"scores"`
	Summary       string       `json:"summary"`
	Confidence    float64      `json:"confidence"`
}

// WorkerRequest is the single JSON object written to the worker's stdin at
// spawn time. stdin is closed immediately after the write; there is no
// back-and-forth protocol.
type WorkerRequest struct {
	Question  string         `json:"question"`
	SessionID string         `json:"sessionId,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}
