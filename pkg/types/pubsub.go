package types

// PubSubMessage is the payload of a Pub/Sub event via Cloud Event.
type PubSubMessage struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
}

// SyncRequest is the optional body of a scheduled sync message.
// An empty SubjectID means every stored subject.
type SyncRequest struct {
	SubjectID string `json:"subject_id,omitempty"`
}

// ActivityAnnotatedEvent is published after a description was written.
type ActivityAnnotatedEvent struct {
	SubjectID       string  `json:"subject_id"`
	ActivityID      int64   `json:"activity_id"`
	Stage           string  `json:"stage"`
	CumulativeMiles float64 `json:"cumulative_miles"`
	RunID           string  `json:"run_id"`
}
