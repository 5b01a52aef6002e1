package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// TokenSource is the contract consumed from the external identity provider:
// give me a current bearer credential, and refresh it synchronously when the
// server reports it expired. A failed refresh is a hard logout.
type TokenSource interface {
	Token() string
	Refresh(ctx context.Context) (string, error)
}

// FileTokenSource reads the bearer credential from a file the host
// application keeps rotated. Refresh re-reads the file, so a rotated token
// is picked up without restarting the daemon; an unchanged token means the
// provider could not refresh.
type FileTokenSource struct {
	mu   sync.Mutex
	path string
	last string
}

// NewFileTokenSource creates a token source backed by the given file.
func NewFileTokenSource(path string) (*FileTokenSource, error) {
	ts := &FileTokenSource{path: path}
	tok, err := ts.read()
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}
	ts.last = tok
	return ts, nil
}

// Token returns the most recently loaded credential.
func (ts *FileTokenSource) Token() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.last
}

// Refresh re-reads the credential file. It fails when the file is gone or
// still holds the credential the server already rejected.
func (ts *FileTokenSource) Refresh(_ context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	tok, err := ts.read()
	if err != nil {
		return "", fmt.Errorf("refresh credential: %w", err)
	}
	if tok == ts.last {
		return "", fmt.Errorf("credential not rotated")
	}
	ts.last = tok
	return tok, nil
}

func (ts *FileTokenSource) read() (string, error) {
	data, err := os.ReadFile(ts.path)
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("empty credential file %s", ts.path)
	}
	return tok, nil
}
