package model

// WebSocket message types
type WSMessageType string

const (
	WSMessageTypeProgress WSMessageType = "progress"
	WSMessageTypeComplete WSMessageType = "complete"
	WSMessageTypeError    WSMessageType = "error"
	WSMessageTypePing     WSMessageType = "ping"
	WSMessageTypePong     WSMessageType = "pong"
)

// WSMessage is the base message envelope
type WSMessage struct {
	Type WSMessageType `json:"type"`
}

// WSProgressMessage pushes a phase/percent update for a job
type WSProgressMessage struct {
	Type     WSMessageType `json:"type"`
	JobID    string        `json:"jobId"`
	Status   JobStatus     `json:"status"`
	Phase    JobPhase      `json:"phase"`
	Progress int           `json:"progress"`
}

// WSCompleteMessage signals a terminal success
type WSCompleteMessage struct {
	Type      WSMessageType `json:"type"`
	JobID     string        `json:"jobId"`
	ReportURL string        `json:"reportUrl"`
}

// WSError carries a failure code and message
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSErrorMessage signals a terminal failure
type WSErrorMessage struct {
	Type  WSMessageType `json:"type"`
	JobID string        `json:"jobId"`
	Error WSError       `json:"error"`
}
