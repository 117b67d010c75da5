package trigger

// Input is optional; a process may start a run with no variables.
type Input struct {
	RequestID string `json:"requestId,omitempty"`
}

type Output struct {
	RequestID   string         `json:"requestId,omitempty"`
	Job         string         `json:"job"`
	Status      string         `json:"status"`
	Counts      map[string]int `json:"counts"`
	CompletedAt string         `json:"completedAt"`
}
