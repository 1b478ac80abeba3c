// Package gateway tries multiple API credentials in sequence until one
// succeeds. Each Invoke is independent: prior exhaustion never removes a
// candidate from routing, it only feeds the advisory status surface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danshapiro/socratic/internal/llm"
)

// Local format validation bounds. Keys that fail these never produce a
// remote call.
const (
	MinKeyLength = 20
	KeyPrefix    = "AIza"
)

// Status is advisory, for display only.
type Status string

const (
	StatusReady     Status = "ready"
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
)

// ErrNoCredentialConfigured is returned when the candidate list is empty
// after trimming.
var ErrNoCredentialConfigured = errors.New("no credential configured")

// AllCredentialsInvalidError is returned when every candidate failed local
// format validation and zero remote attempts were made.
type AllCredentialsInvalidError struct {
	Count int
}

func (e *AllCredentialsInvalidError) Error() string {
	return fmt.Sprintf("all %d credentials failed format validation; no remote call was made", e.Count)
}

// RemoteRequestFailedError wraps the last remote failure, with the failing
// credential redacted to its first and last four characters.
type RemoteRequestFailedError struct {
	Credential string // redacted
	Err        error
}

func (e *RemoteRequestFailedError) Error() string {
	return fmt.Sprintf("request failed for credential %s: %v", e.Credential, e.Err)
}

func (e *RemoteRequestFailedError) Unwrap() error { return e.Err }

// Redact shortens a credential to first 4 / last 4 characters for error
// messages and telemetry.
func Redact(cred string) string {
	cred = strings.TrimSpace(cred)
	if len(cred) <= 8 {
		return cred
	}
	return cred[:4] + "..." + cred[len(cred)-4:]
}

// ValidateFormat performs the cheap local check that gates remote attempts.
func ValidateFormat(cred string) error {
	cred = strings.TrimSpace(cred)
	if len(cred) < MinKeyLength {
		return fmt.Errorf("credential too short (%d < %d)", len(cred), MinKeyLength)
	}
	if !strings.HasPrefix(cred, KeyPrefix) {
		return fmt.Errorf("credential missing %q prefix", KeyPrefix)
	}
	return nil
}

// Gateway tracks the active credential and exhaustion hints across calls.
// The routing decision in Invoke never consults the exhaustion set.
type Gateway struct {
	mu        sync.Mutex
	active    string
	exhausted map[string]bool
	onActive  func(redacted string)
}

func New() *Gateway {
	return &Gateway{exhausted: map[string]bool{}}
}

// OnActiveChange registers a callback invoked with the redacted credential
// when one becomes active, and with "" when cleared.
func (g *Gateway) OnActiveChange(fn func(redacted string)) {
	g.mu.Lock()
	g.onActive = fn
	g.mu.Unlock()
}

// Statuses classifies the given credentials for display.
func (g *Gateway) Statuses(creds []string) []Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Status, len(creds))
	for i, c := range creds {
		c = strings.TrimSpace(c)
		switch {
		case c != "" && c == g.active:
			out[i] = StatusActive
		case g.exhausted[c]:
			out[i] = StatusExhausted
		default:
			out[i] = StatusReady
		}
	}
	return out
}

func (g *Gateway) setActive(cred string) {
	g.mu.Lock()
	g.active = cred
	fn := g.onActive
	g.mu.Unlock()
	if fn != nil {
		if cred == "" {
			fn("")
		} else {
			fn(Redact(cred))
		}
	}
}

func (g *Gateway) markExhausted(cred string) {
	g.mu.Lock()
	g.exhausted[strings.TrimSpace(cred)] = true
	g.mu.Unlock()
}

// Invoke tries credentials in order: trim-filter, local format validation
// (skips without a remote call), then requestFn with the first valid
// candidate. Success returns immediately; a remote failure records the
// error and moves on. With zero remote attempts the result is
// AllCredentialsInvalidError; otherwise the last remote error is wrapped in
// RemoteRequestFailedError. There is no backoff between attempts.
func Invoke[T any](ctx context.Context, g *Gateway, credentials []string, requestFn func(ctx context.Context, credential string) (T, error)) (T, error) {
	var zero T

	candidates := make([]string, 0, len(credentials))
	for _, c := range credentials {
		if strings.TrimSpace(c) != "" {
			candidates = append(candidates, strings.TrimSpace(c))
		}
	}
	if len(candidates) == 0 {
		return zero, ErrNoCredentialConfigured
	}

	var lastErr error
	var lastCred string
	remoteAttempts := 0
	for _, cred := range candidates {
		if err := ValidateFormat(cred); err != nil {
			continue
		}
		g.setActive(cred)
		res, err := requestFn(ctx, cred)
		g.setActive("")
		if err == nil {
			return res, nil
		}
		remoteAttempts++
		lastErr = err
		lastCred = cred
		if isExhaustion(err) {
			g.markExhausted(cred)
		}
	}

	if remoteAttempts == 0 {
		return zero, &AllCredentialsInvalidError{Count: len(candidates)}
	}
	return zero, &RemoteRequestFailedError{Credential: Redact(lastCred), Err: lastErr}
}

func isExhaustion(err error) bool {
	var quota *llm.QuotaExceededError
	var rate *llm.RateLimitError
	return errors.As(err, &quota) || errors.As(err, &rate)
}
