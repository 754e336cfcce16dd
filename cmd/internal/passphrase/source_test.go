package passphrase

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func scripted(answers ...string) func(string) (string, error) {
	return func(string) (string, error) {
		if len(answers) == 0 {
			return "", errors.New("no more input")
		}
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}
}

func TestEnvironmentWins(t *testing.T) {
	s := NewSource("JCT_KEY_PASS")
	s.lookup = func(string) (string, bool) { return " spaced ", true }
	s.read = func(string) (string, error) {
		t.Fatalf("unexpected prompt")
		return "", nil
	}
	got, err := s.Get()
	if err != nil || got != " spaced " {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestEmptyEnvironmentRejected(t *testing.T) {
	s := NewSource("JCT_KEY_PASS")
	s.lookup = func(string) (string, bool) { return "   ", true }
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "JCT_KEY_PASS") {
		t.Fatalf("expected empty env error, got %v", err)
	}
}

func TestPromptIsCached(t *testing.T) {
	calls := 0
	s := NewSource("")
	s.read = func(string) (string, error) {
		calls++
		return "hunter2", nil
	}
	for i := 0; i < 3; i++ {
		if got, err := s.Get(); err != nil || got != "hunter2" {
			t.Fatalf("got %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one prompt, got %d", calls)
	}
}

func TestConfirmation(t *testing.T) {
	s := NewSource("", WithConfirmation())
	s.read = scripted("first", "second")
	if _, err := s.Get(); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	s = NewSource("", WithConfirmation())
	s.read = scripted("same", "same")
	if got, err := s.Get(); err != nil || got != "same" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestNoTerminal(t *testing.T) {
	s := NewSource("JCT_KEY_PASS")
	s.lookup = func(string) (string, bool) { return "", false }
	s.read = func(string) (string, error) { return "", errNoTerminal }
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "set JCT_KEY_PASS") {
		t.Fatalf("expected guidance error, got %v", err)
	}
}

func TestReadFromWritesPrompt(t *testing.T) {
	var buf bytes.Buffer
	got, err := readFrom(&buf, "pass: ", func() ([]byte, error) { return []byte("abc"), nil })
	if err != nil || got != "abc" {
		t.Fatalf("got %q, %v", got, err)
	}
	if buf.String() != "pass: \n" {
		t.Fatalf("unexpected prompt output %q", buf.String())
	}
}
