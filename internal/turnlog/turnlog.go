package turnlog

import (
	"time"
)

type Role string

const (
	RoleAsker     Role = "asker"
	RoleAnswerer  Role = "answerer"
	RoleValidator Role = "validator"
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleStarter   Role = "starter"
)

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentText  AttachmentKind = "text"
)

// Attachment is inline data carried by a turn. Immutable once attached.
type Attachment struct {
	Name     string         `msgpack:"name"`
	Kind     AttachmentKind `msgpack:"kind"`
	MIMEType string         `msgpack:"mime_type"`
	Data     []byte         `msgpack:"data"`
}

type Rating string

const (
	RatingGood     Rating = "GOOD"
	RatingComplex  Rating = "COMPLEX"
	RatingOffTopic Rating = "OFF_TOPIC"
)

// Feedback is a validator verdict. Set only on validator turns.
type Feedback struct {
	Rating Rating `msgpack:"rating"`
	Text   string `msgpack:"text"`
}

// FunctionCall records a structured tool invocation by the answerer.
type FunctionCall struct {
	Name string         `msgpack:"name"`
	Args map[string]any `msgpack:"args"`
}

// Citation is grounding metadata attached to an answerer turn.
type Citation struct {
	Title string `msgpack:"title"`
	URI   string `msgpack:"uri"`
}

// Turn is one utterance in the conversation log. Content grows while
// IsStreaming is true and is frozen once the producing stream ends.
type Turn struct {
	ID           string        `msgpack:"id"`
	Role         Role          `msgpack:"role"`
	Content      string        `msgpack:"content"`
	IsStreaming  bool          `msgpack:"is_streaming"`
	IsRephrased  bool          `msgpack:"is_rephrased"`
	Attachments  []Attachment  `msgpack:"attachments,omitempty"`
	Feedback     *Feedback     `msgpack:"feedback,omitempty"`
	FunctionCall *FunctionCall `msgpack:"function_call,omitempty"`
	Citations    []Citation    `msgpack:"citations,omitempty"`
	CreatedAt    time.Time     `msgpack:"created_at"`
}

// WindowSize selects how many trailing turns form the model's context.
type WindowSize string

const (
	WindowShort  WindowSize = "short"
	WindowMedium WindowSize = "medium"
	WindowLong   WindowSize = "long"
)

// TurnsBack maps a window size to a turn count. Unknown sizes fall back to
// medium.
func (w WindowSize) TurnsBack() int {
	switch w {
	case WindowShort:
		return 4
	case WindowLong:
		return 12
	default:
		return 8
	}
}
