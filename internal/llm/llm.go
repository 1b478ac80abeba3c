package llm

import (
	"context"
	"fmt"
	"strings"
)

// Client is the unified model surface the session core consumes. Generate
// performs a full (blocking) completion; GenerateStream returns a lazy
// sequence of text deltas that the caller pulls to completion.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	GenerateStream(ctx context.Context, req Request) (Stream, error)
}

// Stream is a pull-based sequence of text deltas. Recv returns io.EOF when
// the provider has sent the final chunk. Callers that stop pulling abandon
// the underlying transport; Close releases it early.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Request describes one model call.
type Request struct {
	Model  string
	System string
	Prompt string

	// Attachments are inlined into the request alongside the prompt text.
	Attachments []Attachment

	// ResponseSchema, when non-nil, constrains the response to JSON matching
	// the schema (Gemini responseSchema subset).
	ResponseSchema map[string]any

	// Tools declares callable functions the model may invoke instead of (or
	// in addition to) free text.
	Tools []ToolDeclaration

	// EnableGrounding requests web-search grounding with citation metadata.
	EnableGrounding bool

	Temperature     *float64
	MaxOutputTokens int
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return &ConfigurationError{Message: "model is required"}
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return &ConfigurationError{Message: "prompt is required"}
	}
	return nil
}

// Attachment is request-side inline data (image or text file contents).
type Attachment struct {
	MIMEType string
	Data     []byte
}

// ToolDeclaration describes a function the model may call. Parameters is a
// JSON-schema object in the Gemini functionDeclarations subset.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is the materialized result of Generate.
type Response struct {
	Text         string
	FunctionCall *FunctionCall
	Grounding    *GroundingMetadata
}

// FunctionCall is a structured tool invocation returned by the model.
type FunctionCall struct {
	Name string
	Args map[string]any
}

// GroundingMetadata carries web citations attached to a grounded response.
type GroundingMetadata struct {
	Citations []Citation
}

type Citation struct {
	Title string
	URI   string
}

type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.TrimSpace(e.Message)
}

// Func adapts a pair of closures into a Client. Used by tests and by
// call sites that only need one of the two methods.
type Func struct {
	GenerateFn       func(ctx context.Context, req Request) (Response, error)
	GenerateStreamFn func(ctx context.Context, req Request) (Stream, error)
}

func (f Func) Generate(ctx context.Context, req Request) (Response, error) {
	if f.GenerateFn == nil {
		return Response{}, fmt.Errorf("generate not implemented")
	}
	return f.GenerateFn(ctx, req)
}

func (f Func) GenerateStream(ctx context.Context, req Request) (Stream, error) {
	if f.GenerateStreamFn == nil {
		return nil, fmt.Errorf("generate stream not implemented")
	}
	return f.GenerateStreamFn(ctx, req)
}
