package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/danshapiro/socratic/internal/gateway"
	"github.com/danshapiro/socratic/internal/llm"
	"github.com/danshapiro/socratic/internal/schema"
	"github.com/danshapiro/socratic/internal/storage"
	"github.com/danshapiro/socratic/internal/turnlog"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle            State = "idle"
	StateStarting        State = "starting"
	StateRunningAuto     State = "running_auto"
	StatePausedUserInput State = "paused_user_input"
	StateWorking         State = "working"
	StateFinished        State = "finished"
)

// ModelSet names the model used for each agent role.
type ModelSet struct {
	Asker     string
	Answerer  string
	Validator string
}

type Config struct {
	Models ModelSet

	// Window bounds the textual context derived from the turn log.
	Window turnlog.WindowSize

	// MaxTurns ends the session once this many answerer turns exist.
	MaxTurns int

	// AutoContinue keeps the exchange loop running after each exchange,
	// with AutoContinueDelay between iterations to bound request rate.
	AutoContinue      bool
	AutoContinueDelay time.Duration

	Validation Frequency

	Temperature *float64
}

const defaultModel = "gemini-2.5-flash"

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Models.Asker) == "" {
		c.Models.Asker = defaultModel
	}
	if strings.TrimSpace(c.Models.Answerer) == "" {
		c.Models.Answerer = defaultModel
	}
	if strings.TrimSpace(c.Models.Validator) == "" {
		c.Models.Validator = defaultModel
	}
	if c.Window == "" {
		c.Window = turnlog.WindowMedium
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = 10
	}
	if c.AutoContinueDelay <= 0 {
		c.AutoContinueDelay = 3 * time.Second
	}
	if c.Validation == "" {
		c.Validation = FreqDisabled
	}
}

// ClientFactory returns a model client bound to one credential. The gateway
// calls it once per attempt.
type ClientFactory func(credential string) llm.Client

// Persister stores session snapshots. The session saves after every
// exchange and user mutation.
type Persister interface {
	SaveSession(storage.SessionSnapshot) error
}

// Session drives the asker/answerer/validator loop over one turn store. All
// exchanges are strictly sequential: a reentrancy guard makes a second
// invocation while one is in flight a no-op, so the store is never touched
// by two exchanges at once.
type Session struct {
	id    string
	cfg   Config
	creds []string

	newClient ClientFactory
	gw        *gateway.Gateway
	store     *turnlog.Store
	asm       *Assembler
	persist   Persister

	events    chan Event
	createdAt time.Time

	mu         sync.Mutex
	topic      string
	state      State
	exchanging bool
	closed     bool
	updatedAt  time.Time
}

func NewSession(credentials []string, factory ClientFactory, persist Persister, cfg Config) (*Session, error) {
	if factory == nil {
		return nil, fmt.Errorf("client factory is nil")
	}
	cfg.applyDefaults()

	s := &Session{
		id:        ulid.Make().String(),
		cfg:       cfg,
		creds:     append([]string{}, credentials...),
		newClient: factory,
		gw:        gateway.New(),
		store:     turnlog.NewStore(),
		persist:   persist,
		events:    make(chan Event, 256),
		createdAt: time.Now().UTC(),
		state:     StateIdle,
	}
	s.asm = &Assembler{Store: s.store}

	s.store.OnChange(func(ch turnlog.Change) {
		s.emitTurnChange(ch)
	})
	s.gw.OnActiveChange(func(redacted string) {
		s.emit(EventCredentialActive, map[string]any{"credential": redacted})
	})
	return s, nil
}

// Restore rehydrates a persisted session. The restored session starts in
// paused_user_input: its history exists, so idle (which clears the store on
// start) would be wrong, and nothing is in flight.
func Restore(snap storage.SessionSnapshot, credentials []string, factory ClientFactory, persist Persister, cfg Config) (*Session, error) {
	s, err := NewSession(credentials, factory, persist, cfg)
	if err != nil {
		return nil, err
	}
	s.id = snap.ID
	s.topic = snap.Topic
	s.createdAt = snap.CreatedAt
	s.updatedAt = snap.UpdatedAt
	s.store.Replace(snap.Turns)
	s.state = StatePausedUserInput
	return s, nil
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Topic() string { s.mu.Lock(); defer s.mu.Unlock(); return s.topic }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Turns() []turnlog.Turn { return s.store.Turns() }

func (s *Session) Events() <-chan Event { return s.events }

// CredentialStatuses classifies the configured credentials for display.
func (s *Session) CredentialStatuses() []gateway.Status {
	return s.gw.Statuses(s.creds)
}

// Close stops event delivery. Call once, after the session will no longer
// be driven.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.events)
}

// Start creates the conversation: it clears the turn log, produces the
// opening turn (a refined question, role=starter) and enters the exchange
// loop. Blocks until the loop pauses, finishes, or fails; run it in its own
// goroutine when driving a UI.
func (s *Session) Start(ctx context.Context, topic string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start from state %s", st)
	}
	s.state = StateStarting
	s.topic = strings.TrimSpace(topic)
	s.mu.Unlock()
	s.emitState(StateStarting)

	s.store.Clear()

	resp, err := s.generate(ctx, s.cfg.Models.Asker, starterSystem, buildStarterPrompt(topic), nil, false, nil)
	if err != nil {
		// Nothing exists yet; fall back to idle rather than pausing an
		// empty conversation.
		s.emitError(err)
		s.setState(StateIdle)
		return err
	}
	s.store.Append(turnlog.Turn{
		Role:    turnlog.RoleStarter,
		Content: strings.TrimSpace(resp.Text),
	})
	s.save()

	s.setState(StateRunningAuto)
	return s.loop(ctx)
}

// Send appends a user-authored turn and resumes the loop for at least one
// exchange. Only legal from paused_user_input.
func (s *Session) Send(ctx context.Context, text string, attachments []turnlog.Attachment) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("message is empty")
	}
	s.mu.Lock()
	if s.state != StatePausedUserInput {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot send in state %s", st)
	}
	s.state = StateRunningAuto
	s.mu.Unlock()
	s.emitState(StateRunningAuto)

	s.store.Append(turnlog.Turn{
		Role:        turnlog.RoleUser,
		Content:     text,
		Attachments: attachments,
	})
	s.save()
	return s.loop(ctx)
}

// Pause requests a cooperative stop. The loop observes the state before
// scheduling its next iteration; an in-flight exchange lands first.
func (s *Session) Pause() {
	s.mu.Lock()
	if s.state != StateRunningAuto {
		s.mu.Unlock()
		return
	}
	s.state = StatePausedUserInput
	s.mu.Unlock()
	s.emitState(StatePausedUserInput)
}

// Finish is terminal: no further agent turns are produced. Resend,
// regenerate and rephrase remain available as explicit actions.
func (s *Session) Finish() {
	s.setState(StateFinished)
}

// loop runs exchanges until the state leaves running_auto. Auto-continue
// re-invocation is delayed, not a tight loop, so the request rate is
// bounded and pausing can land between exchanges.
func (s *Session) loop(ctx context.Context) error {
	for {
		if s.State() != StateRunningAuto {
			return nil
		}
		if err := s.runAgentTurn(ctx); err != nil {
			return err
		}
		if s.State() != StateRunningAuto {
			return nil
		}
		if !s.cfg.AutoContinue {
			s.setState(StatePausedUserInput)
			return nil
		}
		timer := time.NewTimer(s.cfg.AutoContinueDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StatePausedUserInput)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runAgentTurn executes at most one exchange; a second invocation while one
// is in flight is a no-op. Failure never strands the session: it falls to
// paused_user_input and the error is surfaced.
func (s *Session) runAgentTurn(ctx context.Context) error {
	s.mu.Lock()
	if s.exchanging {
		s.mu.Unlock()
		return nil
	}
	s.exchanging = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.exchanging = false
		s.mu.Unlock()
	}()

	err := s.exchange(ctx)
	if err != nil {
		s.emitError(err)
		s.setState(StatePausedUserInput)
	}
	s.save()
	return err
}

// exchange is one question→answer(→validation) cycle.
func (s *Session) exchange(ctx context.Context) error {
	n := s.cfg.Window.TurnsBack()

	var question turnlog.Turn
	last, ok := s.store.Last()
	if !ok || last.Role == turnlog.RoleAnswerer || last.Role == turnlog.RoleValidator || last.Role == turnlog.RoleStarter {
		// Ask the asker model for the next question, streamed.
		askCtx := s.store.WindowedContext(n)
		st, err := s.generateStream(ctx, s.cfg.Models.Asker, askerSystem, buildAskerPrompt(s.Topic(), askCtx))
		if err != nil {
			return err
		}
		qid, err := s.asm.Assemble(turnlog.RoleAsker, st)
		if err != nil {
			return err
		}
		if qid == "" {
			return ErrEmptyStream
		}
		question, _ = s.store.Get(qid)
	} else {
		// A pending user-authored or asker turn is the question.
		question = last
	}

	// The answerer sees everything up to, but not including, the question.
	answerCtx := s.store.WindowedContextBefore(question.ID, n)

	answerID := s.store.Append(turnlog.Turn{
		Role:        turnlog.RoleAnswerer,
		IsStreaming: true,
	})
	resp, err := s.generate(ctx, s.cfg.Models.Answerer, answererSystem,
		buildAnswerPrompt(s.Topic(), answerCtx, question.Content),
		nil, true, answererTools(), question.Attachments...)
	if err != nil {
		s.store.Remove(answerID)
		return err
	}
	s.completeAnswer(answerID, resp)

	if resp.FunctionCall != nil {
		// The invocation is presented as an interactive widget outside the
		// core; stop the exchange and wait for the user.
		s.setState(StatePausedUserInput)
		return nil
	}

	answererCount := s.store.CountRole(turnlog.RoleAnswerer)
	if IsDue(answererCount, s.cfg.Validation) {
		if err := s.runValidator(ctx, question, answerID); err != nil {
			return err
		}
	}

	if answererCount >= s.cfg.MaxTurns {
		s.setState(StateFinished)
	}
	return nil
}

func (s *Session) completeAnswer(id string, resp llm.Response) {
	done := false
	content := resp.Text
	u := turnlog.Update{Content: &content, IsStreaming: &done}
	if resp.FunctionCall != nil {
		u.FunctionCall = &turnlog.FunctionCall{
			Name: resp.FunctionCall.Name,
			Args: resp.FunctionCall.Args,
		}
	}
	if resp.Grounding != nil {
		for _, c := range resp.Grounding.Citations {
			u.Citations = append(u.Citations, turnlog.Citation{Title: c.Title, URI: c.URI})
		}
	}
	s.store.Update(id, u)
}

func (s *Session) runValidator(ctx context.Context, question turnlog.Turn, answerID string) error {
	answer, _ := s.store.Get(answerID)

	validatorID := s.store.Append(turnlog.Turn{
		Role:        turnlog.RoleValidator,
		IsStreaming: true,
	})
	resp, err := s.generate(ctx, s.cfg.Models.Validator, validatorSystem,
		buildValidatorPrompt(question.Content, answer.Content),
		schema.ValidatorFeedbackSchema(), false, nil)
	if err != nil {
		s.store.Remove(validatorID)
		return err
	}
	fb, err := schema.ParseValidatorFeedback(resp.Text)
	if err != nil {
		s.store.Remove(validatorID)
		return err
	}

	done := false
	s.store.Update(validatorID, turnlog.Update{
		Content:     &fb.Feedback,
		IsStreaming: &done,
		Feedback: &turnlog.Feedback{
			Rating: turnlog.Rating(fb.Rating),
			Text:   fb.Feedback,
		},
	})
	return nil
}

// enterRunning moves a quiescent session into running_auto for an explicit
// user action, returning the prior state. Rejected while an exchange may be
// in flight so the action cannot mutate the store under a live exchange.
func (s *Session) enterRunning(action string) (State, error) {
	s.mu.Lock()
	if s.state != StatePausedUserInput && s.state != StateFinished {
		st := s.state
		s.mu.Unlock()
		return st, fmt.Errorf("cannot %s in state %s", action, st)
	}
	prev := s.state
	s.state = StateRunningAuto
	s.mu.Unlock()
	s.emitState(StateRunningAuto)
	return prev, nil
}

// Resend truncates the log from the target turn onward and resubmits its
// content as a new user message. Only legal from paused_user_input or
// finished.
func (s *Session) Resend(ctx context.Context, turnID string) error {
	t, ok := s.store.Get(turnID)
	if !ok {
		return fmt.Errorf("turn %s not found", turnID)
	}
	if _, err := s.enterRunning("resend"); err != nil {
		return err
	}
	s.store.TruncateFrom(turnID)

	s.store.Append(turnlog.Turn{
		Role:        turnlog.RoleUser,
		Content:     t.Content,
		Attachments: t.Attachments,
	})
	s.save()
	return s.loop(ctx)
}

// Regenerate clears an answerer turn in place and reruns the answer step
// using context up to (not including) the prior question turn. The session
// returns to its previous state afterwards, so a finished session stays
// finished.
func (s *Session) Regenerate(ctx context.Context, turnID string) error {
	t, ok := s.store.Get(turnID)
	if !ok {
		return fmt.Errorf("turn %s not found", turnID)
	}
	if t.Role != turnlog.RoleAnswerer {
		return fmt.Errorf("turn %s is not an answerer turn", turnID)
	}
	question, ok := s.questionBefore(turnID)
	if !ok {
		return fmt.Errorf("no question turn precedes %s", turnID)
	}

	prev, err := s.enterRunning("regenerate")
	if err != nil {
		return err
	}

	streaming := true
	empty := ""
	s.store.Update(turnID, turnlog.Update{Content: &empty, IsStreaming: &streaming, ClearMeta: true})

	answerCtx := s.store.WindowedContextBefore(question.ID, s.cfg.Window.TurnsBack())
	resp, err := s.generate(ctx, s.cfg.Models.Answerer, answererSystem,
		buildAnswerPrompt(s.Topic(), answerCtx, question.Content),
		nil, true, answererTools(), question.Attachments...)
	if err != nil {
		s.emitError(err)
		s.setState(StatePausedUserInput)
		return err
	}
	s.completeAnswer(turnID, resp)
	s.save()
	s.setState(prev)
	return nil
}

// Rephrase produces a new answerer turn restating an existing answer in the
// given style. The original turn is not mutated.
func (s *Session) Rephrase(ctx context.Context, turnID string, style RephraseStyle) error {
	t, ok := s.store.Get(turnID)
	if !ok {
		return fmt.Errorf("turn %s not found", turnID)
	}
	if t.Role != turnlog.RoleAnswerer {
		return fmt.Errorf("turn %s is not an answerer turn", turnID)
	}
	question, ok := s.questionBefore(turnID)
	if !ok {
		return fmt.Errorf("no question turn precedes %s", turnID)
	}

	prev, err := s.enterRunning("rephrase")
	if err != nil {
		return err
	}

	resp, err := s.generate(ctx, s.cfg.Models.Answerer, rephraseSystem,
		buildRephrasePrompt(style, question.Content, t.Content), nil, false, nil)
	if err != nil {
		s.emitError(err)
		s.setState(StatePausedUserInput)
		return err
	}
	s.store.Append(turnlog.Turn{
		Role:        turnlog.RoleAnswerer,
		Content:     strings.TrimSpace(resp.Text),
		IsRephrased: true,
	})
	s.save()
	s.setState(prev)
	return nil
}

// GenerateQuiz is a one-off long operation bracketed by the working state.
func (s *Session) GenerateQuiz(ctx context.Context) (schema.Quiz, error) {
	var quiz schema.Quiz
	err := s.working(ctx, func(ctx context.Context) error {
		contextText := s.store.WindowedContext(turnlog.WindowLong.TurnsBack())
		resp, err := s.generate(ctx, s.cfg.Models.Answerer, quizSystem,
			buildQuizPrompt(s.Topic(), contextText), schema.QuizSchema(), false, nil)
		if err != nil {
			return err
		}
		quiz, err = schema.ParseQuiz(resp.Text)
		return err
	})
	return quiz, err
}

// GenerateConceptMap is a one-off long operation bracketed by the working
// state.
func (s *Session) GenerateConceptMap(ctx context.Context) (schema.ConceptMap, error) {
	var cm schema.ConceptMap
	err := s.working(ctx, func(ctx context.Context) error {
		contextText := s.store.WindowedContext(turnlog.WindowLong.TurnsBack())
		resp, err := s.generate(ctx, s.cfg.Models.Answerer, conceptMapSystem,
			buildConceptMapPrompt(s.Topic(), contextText), schema.ConceptMapSchema(), false, nil)
		if err != nil {
			return err
		}
		cm, err = schema.ParseConceptMap(resp.Text)
		return err
	})
	return cm, err
}

// working brackets fn with the working state and always returns to
// paused_user_input or finished, even on failure.
func (s *Session) working(ctx context.Context, fn func(context.Context) error) error {
	s.mu.Lock()
	if s.state != StatePausedUserInput && s.state != StateFinished {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot run long operation in state %s", st)
	}
	prev := s.state
	s.state = StateWorking
	s.mu.Unlock()
	s.emitState(StateWorking)

	err := fn(ctx)
	if err != nil {
		s.emitError(err)
		if prev == StateFinished {
			s.setState(StateFinished)
		} else {
			s.setState(StatePausedUserInput)
		}
		return err
	}
	s.setState(prev)
	return nil
}

// questionBefore finds the nearest preceding turn that can have served as
// the question for the given answerer turn.
func (s *Session) questionBefore(turnID string) (turnlog.Turn, bool) {
	turns := s.store.Turns()
	idx := -1
	for i := range turns {
		if turns[i].ID == turnID {
			idx = i
			break
		}
	}
	for i := idx - 1; i >= 0; i-- {
		switch turns[i].Role {
		case turnlog.RoleUser, turnlog.RoleAsker, turnlog.RoleStarter:
			return turns[i], true
		}
	}
	return turnlog.Turn{}, false
}

func answererTools() []llm.ToolDeclaration {
	return []llm.ToolDeclaration{{
		Name:        "interactive_example",
		Description: "Present an interactive example instead of a prose explanation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":       map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
				"code":        map[string]any{"type": "string"},
			},
			"required": []any{"title", "description"},
		},
	}}
}

// Model invocation through the credential gateway.

func (s *Session) generate(ctx context.Context, model, system, prompt string, responseSchema map[string]any, ground bool, tools []llm.ToolDeclaration, attachments ...turnlog.Attachment) (llm.Response, error) {
	req := llm.Request{
		Model:           model,
		System:          system,
		Prompt:          prompt,
		ResponseSchema:  responseSchema,
		EnableGrounding: ground,
		Tools:           tools,
		Temperature:     s.cfg.Temperature,
	}
	for _, a := range attachments {
		req.Attachments = append(req.Attachments, llm.Attachment{MIMEType: a.MIMEType, Data: a.Data})
	}
	return gateway.Invoke(ctx, s.gw, s.creds, func(ctx context.Context, credential string) (llm.Response, error) {
		return s.newClient(credential).Generate(ctx, req)
	})
}

func (s *Session) generateStream(ctx context.Context, model, system, prompt string) (llm.Stream, error) {
	req := llm.Request{
		Model:       model,
		System:      system,
		Prompt:      prompt,
		Temperature: s.cfg.Temperature,
	}
	return gateway.Invoke(ctx, s.gw, s.creds, func(ctx context.Context, credential string) (llm.Stream, error) {
		return s.newClient(credential).GenerateStream(ctx, req)
	})
}

// State/event plumbing.

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.emitState(st)
}

func (s *Session) emitState(st State) {
	s.emit(EventStateChange, map[string]any{"state": string(st)})
}

func (s *Session) emitError(err error) {
	s.emit(EventError, map[string]any{"error": err.Error()})
}

func (s *Session) emitTurnChange(ch turnlog.Change) {
	var kind EventKind
	switch ch.Kind {
	case turnlog.ChangeAppended:
		kind = EventTurnAppended
	case turnlog.ChangeUpdated:
		kind = EventTurnUpdated
	case turnlog.ChangeRemoved, turnlog.ChangeTruncated, turnlog.ChangeCleared:
		kind = EventTurnRemoved
	default:
		return
	}
	s.emit(kind, map[string]any{
		"turn_id":      ch.Turn.ID,
		"role":         string(ch.Turn.Role),
		"content":      ch.Turn.Content,
		"is_streaming": ch.Turn.IsStreaming,
	})
}

func (s *Session) emit(kind EventKind, data map[string]any) {
	ev := Event{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		SessionID: s.id,
		Data:      data,
	}
	// Close may race a landing exchange; best-effort delivery, never panic.
	defer func() { _ = recover() }()
	select {
	case s.events <- ev:
	default:
		// Drop events if the consumer is too slow.
	}
}

func (s *Session) save() {
	if s.persist == nil {
		return
	}
	s.mu.Lock()
	s.updatedAt = time.Now().UTC()
	snap := storage.SessionSnapshot{
		ID:        s.id,
		Topic:     s.topic,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	s.mu.Unlock()
	snap.Turns = s.store.Turns()
	if err := s.persist.SaveSession(snap); err != nil {
		s.emitError(fmt.Errorf("save session: %w", err))
	}
}
