package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrMismatch is returned when a confirmed passphrase differs from the first
// entry.
var ErrMismatch = errors.New("passphrases do not match")

// Source resolves a keystore passphrase from an environment variable or by
// prompting on the terminal, caching the first result.
type Source struct {
	envVar  string
	confirm bool
	lookup  func(string) (string, bool)
	read    func(prompt string) (string, error)

	once  sync.Once
	value string
	err   error
}

// Option tunes a Source.
type Option func(*Source)

// WithConfirmation asks for the passphrase twice when prompting. Use it when
// creating a keystore.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar: strings.TrimSpace(envVar),
		lookup: os.LookupEnv,
		read:   readTerminal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached passphrase or resolves it on first use. An
// environment value is used verbatim; whitespace-only passphrases are
// rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookup(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if s.read == nil {
		return "", s.unavailable()
	}
	first, err := s.read("Enter party keystore passphrase: ")
	if err != nil {
		if errors.Is(err, errNoTerminal) {
			return "", s.unavailable()
		}
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("party keystore passphrase cannot be empty")
	}
	if s.confirm {
		second, err := s.read("Repeat passphrase: ")
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		if second != first {
			return "", ErrMismatch
		}
	}
	return first, nil
}

func (s *Source) unavailable() error {
	if s.envVar != "" {
		return fmt.Errorf("party keystore passphrase required; set %s or run interactively", s.envVar)
	}
	return errors.New("party keystore passphrase required and no terminal available")
}

var errNoTerminal = errors.New("stdin is not a terminal")

func readTerminal(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	return readFrom(os.Stderr, prompt, func() ([]byte, error) { return term.ReadPassword(fd) })
}

func readFrom(w io.Writer, prompt string, read func() ([]byte, error)) (string, error) {
	fmt.Fprint(w, prompt)
	raw, err := read()
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
