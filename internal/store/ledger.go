package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Ledger is the append-only roll file backing the strategy's idempotence
// guard. Each key is a file path; each line records one evaluated
// (date, symbol) run. Lines are newline-terminated CSV.
type Ledger struct {
	mu sync.Mutex
}

// NewLedger returns a ledger over the local filesystem.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Has reports whether the ledger file already contains the line.
// A missing file simply means nothing has been recorded yet.
func (l *Ledger) Has(key, line string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(key) // #nosec G304 -- key is the configured roll-file path
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading ledger %s: %w", key, err)
	}
	needle := strings.TrimSuffix(line, "\n")
	for _, have := range strings.Split(string(data), "\n") {
		if have == needle {
			return true, nil
		}
	}
	return false, nil
}

// Append adds a line to the ledger file, creating parent directories and the
// file itself as needed.
func (l *Ledger) Append(key, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(key), 0o755); err != nil {
		return fmt.Errorf("creating ledger folder for %s: %w", key, err)
	}
	f, err := os.OpenFile(key, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304
	if err != nil {
		return fmt.Errorf("opening ledger %s: %w", key, err)
	}
	defer f.Close()

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("appending to ledger %s: %w", key, err)
	}
	return nil
}
