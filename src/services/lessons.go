package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const lessonsHeader = `# Transaction Memory

Lessons learned from human review of categorized transactions. Each entry
records one review decision for audit and future categorization context.

`

// LessonsWriter appends review outcomes to a durable, human-readable
// markdown ledger. Writes are serialized and flushed per entry so a crash
// never loses more than the entry being written.
type LessonsWriter struct {
	mu   sync.Mutex
	path string
}

func NewLessonsWriter(path string) *LessonsWriter {
	return &LessonsWriter{path: path}
}

// Lesson is one recorded review outcome.
type Lesson struct {
	Decision      ReviewDecision
	Merchant      string
	OldCategory   string
	NewCategory   string
	RulePattern   string
	TransactionID int64
}

// Append writes one lesson entry, creating the ledger with its header on
// first use.
func (w *LessonsWriter) Append(lesson Lesson) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("creating lessons directory: %w", err)
	}

	newFile := false
	if _, err := os.Stat(w.path); os.IsNotExist(err) {
		newFile = true
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening lessons ledger: %w", err)
	}
	defer f.Close()

	if newFile {
		if _, err := f.WriteString(lessonsHeader); err != nil {
			return err
		}
	}

	entry := fmt.Sprintf("- **%s** `%s` (transaction %d) merchant %q",
		time.Now().Format("2006-01-02 15:04"), lesson.Decision, lesson.TransactionID, lesson.Merchant)
	switch {
	case lesson.OldCategory != "" && lesson.NewCategory != "" && lesson.OldCategory != lesson.NewCategory:
		entry += fmt.Sprintf(": %s -> %s", lesson.OldCategory, lesson.NewCategory)
	case lesson.NewCategory != "":
		entry += fmt.Sprintf(": confirmed %s", lesson.NewCategory)
	}
	if lesson.RulePattern != "" {
		entry += fmt.Sprintf(", rule pattern %q", lesson.RulePattern)
	}
	entry += "\n"

	if _, err := f.WriteString(entry); err != nil {
		return err
	}
	return f.Sync()
}
