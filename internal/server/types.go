package server

import "time"

// StartSessionRequest is the POST /sessions request body.
type StartSessionRequest struct {
	// Topic seeds the dialogue's opening question. Required.
	Topic string `json:"topic"`
}

// SendMessageRequest is the POST /sessions/{id}/message body.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// RephraseRequest is the POST /sessions/{id}/turns/{tid}/rephrase body.
type RephraseRequest struct {
	Style string `json:"style"` // simplify | analogy | expand
}

// SessionStatus is returned by GET /sessions/{id}.
type SessionStatus struct {
	SessionID   string     `json:"session_id"`
	Topic       string     `json:"topic"`
	State       string     `json:"state"`
	TurnCount   int        `json:"turn_count"`
	Credentials []string   `json:"credentials,omitempty"` // advisory statuses, same order as config
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// TurnView is the wire form of one turn.
type TurnView struct {
	ID          string         `json:"id"`
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	IsStreaming bool           `json:"is_streaming"`
	IsRephrased bool           `json:"is_rephrased,omitempty"`
	Rating      string         `json:"rating,omitempty"`
	Function    string         `json:"function,omitempty"`
	Citations   []CitationView `json:"citations,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type CitationView struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// ErrorResponse is a standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
