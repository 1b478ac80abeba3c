package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestParseValidatorFeedback(t *testing.T) {
	fb, err := ParseValidatorFeedback(`{"rating":"COMPLEX","feedback":"Too advanced for the thread."}`)
	if err != nil {
		t.Fatalf("ParseValidatorFeedback: %v", err)
	}
	if fb.Rating != "COMPLEX" {
		t.Fatalf("rating = %q", fb.Rating)
	}
	if fb.Feedback != "Too advanced for the thread." {
		t.Fatalf("feedback = %q", fb.Feedback)
	}
}

func TestParseValidatorFeedbackStripsCodeFence(t *testing.T) {
	raw := "```json\n{\"rating\":\"GOOD\",\"feedback\":\"ok\"}\n```"
	fb, err := ParseValidatorFeedback(raw)
	if err != nil {
		t.Fatalf("ParseValidatorFeedback: %v", err)
	}
	if fb.Rating != "GOOD" {
		t.Fatalf("rating = %q", fb.Rating)
	}
}

func TestParseValidatorFeedbackRejectsUnknownRating(t *testing.T) {
	_, err := ParseValidatorFeedback(`{"rating":"MEDIOCRE","feedback":"hm"}`)
	var malformed *MalformedStructuredResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedStructuredResponseError", err)
	}
	if malformed.Variant != KindValidatorFeedback {
		t.Fatalf("variant = %s", malformed.Variant)
	}
}

func TestParseNonJSONCarriesRawResponse(t *testing.T) {
	raw := "I cannot answer in JSON today."
	_, err := ParseValidatorFeedback(raw)
	var malformed *MalformedStructuredResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedStructuredResponseError", err)
	}
	if malformed.Raw != raw {
		t.Fatalf("raw = %q, want verbatim response", malformed.Raw)
	}
	if !strings.Contains(malformed.Error(), raw) {
		t.Fatal("error message omits the raw response")
	}
}

func TestParseQuiz(t *testing.T) {
	quiz, err := ParseQuiz(`{
		"summary": "A recap.",
		"questions": [
			{"question": "Q1?", "options": ["a","b","c","d"], "answerIndex": 2, "explanation": "because"},
			{"question": "Q2?", "options": ["a","b","c","d"], "answerIndex": 0}
		]
	}`)
	if err != nil {
		t.Fatalf("ParseQuiz: %v", err)
	}
	if quiz.Summary != "A recap." {
		t.Fatalf("summary = %q", quiz.Summary)
	}
	if len(quiz.Questions) != 2 {
		t.Fatalf("questions = %d", len(quiz.Questions))
	}
	if quiz.Questions[0].AnswerIndex != 2 {
		t.Fatalf("answerIndex = %d", quiz.Questions[0].AnswerIndex)
	}
}

func TestParseQuizMissingRequiredField(t *testing.T) {
	_, err := ParseQuiz(`{"questions": []}`)
	var malformed *MalformedStructuredResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedStructuredResponseError", err)
	}
}

func TestParseConceptMap(t *testing.T) {
	cm, err := ParseConceptMap(`{
		"nodes": [{"id": "goroutine", "label": "Goroutine"}, {"id": "channel", "label": "Channel"}],
		"edges": [{"from": "goroutine", "to": "channel", "label": "communicates via"}]
	}`)
	if err != nil {
		t.Fatalf("ParseConceptMap: %v", err)
	}
	if len(cm.Nodes) != 2 || len(cm.Edges) != 1 {
		t.Fatalf("nodes = %d, edges = %d", len(cm.Nodes), len(cm.Edges))
	}
	if cm.Edges[0].Label != "communicates via" {
		t.Fatalf("edge label = %q", cm.Edges[0].Label)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := stripCodeFence(tc.in); got != tc.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
