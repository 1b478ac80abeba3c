package agent

import (
	"fmt"
	"strings"
)

// RephraseStyle selects how an answer is restated.
type RephraseStyle string

const (
	RephraseSimplify RephraseStyle = "simplify"
	RephraseAnalogy  RephraseStyle = "analogy"
	RephraseExpand   RephraseStyle = "expand"
)

const starterSystem = `You open Socratic dialogues. Given a topic, produce a single
clear, thought-provoking opening question that a curious student would ask
about it. Respond with the question only, no preamble.`

const askerSystem = `You are the asker in a Socratic dialogue: a curious student
probing a topic one question at a time. Given the conversation so far, ask
the single most useful next question. Build on what was already said, drill
into gaps, and never repeat an earlier question. Respond with the question
only.`

const answererSystem = `You are the answerer in a Socratic dialogue: a patient
expert explaining a topic. Answer the question directly and concretely,
grounded in the conversation so far. Prefer plain language and short
paragraphs. When an interactive example would teach better than prose, call
the interactive_example function instead of describing it.`

const validatorSystem = `You review one question/answer exchange from a Socratic
dialogue and rate the answer: GOOD if it is correct and appropriately
scoped, COMPLEX if it is correct but pitched too high for the conversation,
OFF_TOPIC if it drifts from the question. Give one or two sentences of
feedback.`

const rephraseSystem = `You restate an existing answer from a Socratic dialogue in
a different register without changing its meaning.`

const quizSystem = `You write a short quiz covering a Socratic dialogue, plus a
one-paragraph summary of what was discussed. Each question has exactly four
options and one correct answer.`

const conceptMapSystem = `You distill a Socratic dialogue into a concept map:
the key concepts as nodes and the relationships the conversation established
as labeled edges.`

func buildStarterPrompt(topic string) string {
	return fmt.Sprintf("Topic: %s", strings.TrimSpace(topic))
}

func buildAskerPrompt(topic, context string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", strings.TrimSpace(topic))
	if strings.TrimSpace(context) == "" {
		b.WriteString("The conversation has not started. Ask the opening question.")
		return b.String()
	}
	b.WriteString("Conversation so far:\n\n")
	b.WriteString(context)
	b.WriteString("\n\nAsk the next question.")
	return b.String()
}

func buildAnswerPrompt(topic, context, question string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", strings.TrimSpace(topic))
	if strings.TrimSpace(context) != "" {
		b.WriteString("Conversation so far:\n\n")
		b.WriteString(context)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Question:\n%s", strings.TrimSpace(question))
	return b.String()
}

func buildValidatorPrompt(question, answer string) string {
	return fmt.Sprintf("Question:\n%s\n\nAnswer:\n%s", strings.TrimSpace(question), strings.TrimSpace(answer))
}

func buildRephrasePrompt(style RephraseStyle, question, answer string) string {
	var instruction string
	switch style {
	case RephraseSimplify:
		instruction = "Restate the answer in simpler terms, as if for a beginner."
	case RephraseAnalogy:
		instruction = "Restate the answer built around a concrete analogy."
	case RephraseExpand:
		instruction = "Restate the answer with more depth and detail."
	default:
		instruction = "Restate the answer."
	}
	return fmt.Sprintf("Question:\n%s\n\nOriginal answer:\n%s\n\n%s", strings.TrimSpace(question), strings.TrimSpace(answer), instruction)
}

func buildQuizPrompt(topic, context string) string {
	return fmt.Sprintf("Topic: %s\n\nConversation:\n\n%s\n\nWrite the quiz and summary.", strings.TrimSpace(topic), context)
}

func buildConceptMapPrompt(topic, context string) string {
	return fmt.Sprintf("Topic: %s\n\nConversation:\n\n%s\n\nProduce the concept map.", strings.TrimSpace(topic), context)
}
