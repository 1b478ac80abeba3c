package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/danshapiro/socratic/internal/llm"
)

const (
	validKey       = "AIzaVALIDLOOKINGKEYXXXXXXXXXXXXXXXX"
	secondValidKey = "AIzaSECONDVALIDKEYYYYYYYYYYYYYYYYYY"
)

func TestInvoke_NoCredentialConfigured(t *testing.T) {
	g := New()
	_, err := Invoke(context.Background(), g, []string{"", "  ", "\t"}, func(ctx context.Context, cred string) (string, error) {
		t.Fatal("requestFn called with no candidates")
		return "", nil
	})
	if !errors.Is(err, ErrNoCredentialConfigured) {
		t.Fatalf("err = %v, want ErrNoCredentialConfigured", err)
	}
}

func TestInvoke_SkipsMalformedWithoutRemoteCall(t *testing.T) {
	g := New()
	var called []string
	got, err := Invoke(context.Background(), g, []string{"short", "sk-wrongprefix-aaaaaaaaaaaa", validKey}, func(ctx context.Context, cred string) (string, error) {
		called = append(called, cred)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "ok" {
		t.Fatalf("result = %q", got)
	}
	if len(called) != 1 || called[0] != validKey {
		t.Fatalf("requestFn calls = %v, want only the well-formed key", called)
	}
}

func TestInvoke_FirstWellFormedWinsOnSuccess(t *testing.T) {
	g := New()
	var called []string
	_, err := Invoke(context.Background(), g, []string{validKey, secondValidKey}, func(ctx context.Context, cred string) (string, error) {
		called = append(called, cred)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(called) != 1 || called[0] != validKey {
		t.Fatalf("requestFn calls = %v, want exactly the first credential", called)
	}
}

func TestInvoke_AllMalformedRaisesAllCredentialsInvalid(t *testing.T) {
	g := New()
	calls := 0
	_, err := Invoke(context.Background(), g, []string{"short", "also-bad"}, func(ctx context.Context, cred string) (string, error) {
		calls++
		return "", nil
	})
	var invalid *AllCredentialsInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want AllCredentialsInvalidError", err)
	}
	if invalid.Count != 2 {
		t.Fatalf("count = %d, want 2", invalid.Count)
	}
	if calls != 0 {
		t.Fatalf("remote calls = %d, want 0", calls)
	}
}

func TestInvoke_MixedListFailsRemotelyOnOnlyValidCandidate(t *testing.T) {
	g := New()
	remoteErr := fmt.Errorf("boom")
	var called []string
	_, err := Invoke(context.Background(), g, []string{"short", validKey}, func(ctx context.Context, cred string) (string, error) {
		called = append(called, cred)
		return "", remoteErr
	})

	var failed *RemoteRequestFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want RemoteRequestFailedError", err)
	}
	if len(called) != 1 || called[0] != validKey {
		t.Fatalf("requestFn calls = %v, want only the well-formed key", called)
	}
	if failed.Credential != Redact(validKey) {
		t.Fatalf("credential = %q, want %q", failed.Credential, Redact(validKey))
	}
	if !errors.Is(err, remoteErr) {
		t.Fatalf("underlying error not wrapped: %v", err)
	}
}

func TestInvoke_FailoverToNextCandidate(t *testing.T) {
	g := New()
	var called []string
	got, err := Invoke(context.Background(), g, []string{validKey, secondValidKey}, func(ctx context.Context, cred string) (string, error) {
		called = append(called, cred)
		if cred == validKey {
			return "", fmt.Errorf("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "ok" {
		t.Fatalf("result = %q", got)
	}
	want := []string{validKey, secondValidKey}
	if len(called) != 2 || called[0] != want[0] || called[1] != want[1] {
		t.Fatalf("call order = %v, want %v", called, want)
	}
}

func TestInvoke_ActiveCredentialNotifications(t *testing.T) {
	g := New()
	var seen []string
	g.OnActiveChange(func(redacted string) { seen = append(seen, redacted) })

	_, err := Invoke(context.Background(), g, []string{validKey}, func(ctx context.Context, cred string) (int, error) {
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(seen) != 2 || seen[0] != Redact(validKey) || seen[1] != "" {
		t.Fatalf("notifications = %v, want set-then-clear", seen)
	}
}

func TestInvoke_ExhaustionIsAdvisoryOnly(t *testing.T) {
	g := New()
	quota := llm.ErrorFromHTTPStatus(429, "quota exceeded")
	calls := 0
	_, err := Invoke(context.Background(), g, []string{validKey}, func(ctx context.Context, cred string) (string, error) {
		calls++
		return "", quota
	})
	if err == nil {
		t.Fatal("expected failure")
	}

	statuses := g.Statuses([]string{validKey})
	if statuses[0] != StatusExhausted {
		t.Fatalf("status = %s, want exhausted", statuses[0])
	}

	// Routing never consults prior exhaustion: the next call retries the key.
	_, _ = Invoke(context.Background(), g, []string{validKey}, func(ctx context.Context, cred string) (string, error) {
		calls++
		return "ok", nil
	})
	if calls != 2 {
		t.Fatalf("calls = %d, want the exhausted key retried", calls)
	}
}

func TestValidateFormat(t *testing.T) {
	cases := []struct {
		cred string
		ok   bool
	}{
		{validKey, true},
		{"short", false},
		{"sk-" + strings.Repeat("x", 40), false},
		{"AIza", false},
	}
	for _, tc := range cases {
		err := ValidateFormat(tc.cred)
		if tc.ok && err != nil {
			t.Fatalf("ValidateFormat(%q) = %v, want nil", tc.cred, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ValidateFormat(%q) = nil, want error", tc.cred)
		}
	}
}

func TestRedact(t *testing.T) {
	if got := Redact(validKey); got != "AIza...XXXX" {
		t.Fatalf("Redact = %q", got)
	}
	if got := Redact("short"); got != "short" {
		t.Fatalf("short credentials pass through, got %q", got)
	}
}
