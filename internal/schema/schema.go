// Package schema defines the structured response shapes the session requests
// from the model, one tagged variant per task, each with a compiled JSON
// schema used both to constrain the remote call and to validate what came
// back.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type Kind string

const (
	KindValidatorFeedback Kind = "validator_feedback"
	KindQuiz              Kind = "quiz"
	KindConceptMap        Kind = "concept_map"
)

// MalformedStructuredResponseError is returned when a schema-constrained
// call produced unparsable or schema-violating text. Raw carries the
// response verbatim so prompt/schema mismatches can be diagnosed.
type MalformedStructuredResponseError struct {
	Variant Kind
	Raw     string
	Err     error
}

func (e *MalformedStructuredResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %v\nraw response:\n%s", e.Variant, e.Err, e.Raw)
}

func (e *MalformedStructuredResponseError) Unwrap() error { return e.Err }

// ValidatorFeedback is the validator agent's verdict on an exchange.
type ValidatorFeedback struct {
	Rating   string `json:"rating"`
	Feedback string `json:"feedback"`
}

// Quiz is the one-off quiz+summary artifact.
type Quiz struct {
	Summary   string         `json:"summary"`
	Questions []QuizQuestion `json:"questions"`
}

type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answerIndex"`
	Explanation string   `json:"explanation"`
}

// ConceptMap is the one-off concept graph artifact.
type ConceptMap struct {
	Nodes []ConceptNode `json:"nodes"`
	Edges []ConceptEdge `json:"edges"`
}

type ConceptNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type ConceptEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// ValidatorFeedbackSchema is the response schema for validator calls. Also
// sent to the model as the responseSchema constraint.
func ValidatorFeedbackSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rating": map[string]any{
				"type": "string",
				"enum": []any{"GOOD", "COMPLEX", "OFF_TOPIC"},
			},
			"feedback": map[string]any{"type": "string"},
		},
		"required": []any{"rating", "feedback"},
	}
}

func QuizSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question":    map[string]any{"type": "string"},
						"options":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"answerIndex": map[string]any{"type": "integer"},
						"explanation": map[string]any{"type": "string"},
					},
					"required": []any{"question", "options", "answerIndex"},
				},
			},
		},
		"required": []any{"summary", "questions"},
	}
}

func ConceptMapSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nodes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":    map[string]any{"type": "string"},
						"label": map[string]any{"type": "string"},
					},
					"required": []any{"id", "label"},
				},
			},
			"edges": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"from":  map[string]any{"type": "string"},
						"to":    map[string]any{"type": "string"},
						"label": map[string]any{"type": "string"},
					},
					"required": []any{"from", "to"},
				},
			},
		},
		"required": []any{"nodes", "edges"},
	}
}

var (
	validatorCompiled  = mustCompile(KindValidatorFeedback, ValidatorFeedbackSchema())
	quizCompiled       = mustCompile(KindQuiz, QuizSchema())
	conceptMapCompiled = mustCompile(KindConceptMap, ConceptMapSchema())
)

func mustCompile(kind Kind, schema map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("marshal %s schema: %v", kind, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", strings.NewReader(string(b))); err != nil {
		panic(fmt.Sprintf("add %s schema: %v", kind, err))
	}
	s, err := c.Compile("schema.json")
	if err != nil {
		panic(fmt.Sprintf("compile %s schema: %v", kind, err))
	}
	return s
}

func ParseValidatorFeedback(raw string) (ValidatorFeedback, error) {
	var out ValidatorFeedback
	if err := parseInto(KindValidatorFeedback, validatorCompiled, raw, &out); err != nil {
		return ValidatorFeedback{}, err
	}
	return out, nil
}

func ParseQuiz(raw string) (Quiz, error) {
	var out Quiz
	if err := parseInto(KindQuiz, quizCompiled, raw, &out); err != nil {
		return Quiz{}, err
	}
	return out, nil
}

func ParseConceptMap(raw string) (ConceptMap, error) {
	var out ConceptMap
	if err := parseInto(KindConceptMap, conceptMapCompiled, raw, &out); err != nil {
		return ConceptMap{}, err
	}
	return out, nil
}

func parseInto(kind Kind, compiled *jsonschema.Schema, raw string, dst any) error {
	text := stripCodeFence(raw)
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return &MalformedStructuredResponseError{Variant: kind, Raw: raw, Err: err}
	}
	if err := compiled.Validate(doc); err != nil {
		return &MalformedStructuredResponseError{Variant: kind, Raw: raw, Err: err}
	}
	if err := json.Unmarshal([]byte(text), dst); err != nil {
		return &MalformedStructuredResponseError{Variant: kind, Raw: raw, Err: err}
	}
	return nil
}

// stripCodeFence unwraps ```json fences some models emit even under a
// responseSchema constraint.
func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
