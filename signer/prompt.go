package signer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/freehandle/signon/protocol/authority"
	"golang.org/x/term"
)

type PromptOptions struct {
	Username  string
	KeyType   authority.Level
	LoginType LoginType
	// Retry is set when a previous secret was rejected.
	Retry bool
}

type PromptResult struct {
	Password      string
	StorePassword bool
}

// Prompter asks the user for a secret. It may wait indefinitely; ctx is the
// only bound. A dismissed prompt returns ErrPromptCancelled.
type Prompter interface {
	PromptForSecret(ctx context.Context, opts PromptOptions) (PromptResult, error)
}

// StaticPrompter answers every prompt with the same result, or cancels.
type StaticPrompter struct {
	mu     sync.Mutex
	Result PromptResult
	Cancel bool
	calls  int
}

func (s *StaticPrompter) PromptForSecret(ctx context.Context, opts PromptOptions) (PromptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.Cancel {
		return PromptResult{}, ErrPromptCancelled
	}
	if err := ctx.Err(); err != nil {
		return PromptResult{}, err
	}
	return s.Result, nil
}

func (s *StaticPrompter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// TerminalPrompter reads the secret from a terminal without echo. An empty
// answer cancels.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
	// AskToStore asks whether the unlocked key may be kept.
	AskToStore bool
}

func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr, AskToStore: true}
}

type promptAnswer struct {
	result PromptResult
	err    error
}

// PromptForSecret returns as soon as ctx is done. The terminal echo is
// restored then, but the reader stays blocked in the read until the next line
// is entered; that line is discarded.
func (t *TerminalPrompter) PromptForSecret(ctx context.Context, opts PromptOptions) (PromptResult, error) {
	if err := ctx.Err(); err != nil {
		return PromptResult{}, err
	}
	fd := int(t.In.Fd())
	state, stateErr := term.GetState(fd)
	answer := make(chan promptAnswer, 1)
	go func() {
		result, err := t.read(opts)
		answer <- promptAnswer{result, err}
	}()
	select {
	case <-ctx.Done():
		if stateErr == nil {
			term.Restore(fd, state)
		}
		fmt.Fprintln(t.Out)
		return PromptResult{}, ctx.Err()
	case a := <-answer:
		return a.result, a.err
	}
}

func (t *TerminalPrompter) read(opts PromptOptions) (PromptResult, error) {
	if opts.Retry {
		fmt.Fprintln(t.Out, "The key was not accepted.")
	}
	fmt.Fprintf(t.Out, "%s key for @%s (empty to cancel): ", opts.KeyType, opts.Username)
	secret, err := term.ReadPassword(int(t.In.Fd()))
	fmt.Fprintln(t.Out)
	if err != nil {
		return PromptResult{}, err
	}
	password := strings.TrimSpace(string(secret))
	if password == "" {
		return PromptResult{}, ErrPromptCancelled
	}
	result := PromptResult{Password: password}
	if t.AskToStore {
		fmt.Fprint(t.Out, "Keep the key unlocked for this session? [y/N]: ")
		line, _ := bufio.NewReader(t.In).ReadString('\n')
		line = strings.ToLower(strings.TrimSpace(line))
		result.StorePassword = line == "y" || line == "yes"
	}
	return result, nil
}
