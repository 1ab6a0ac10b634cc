package messagequeue

// RefreshRequestPayload is the schema for dashboard.refresh.{action} messages.
// The action may be given in the subject suffix or in Name.
type RefreshRequestPayload struct {
	Name        string `json:"name"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// EventPayload is the envelope for dashboard.events.{type} messages.
type EventPayload struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
