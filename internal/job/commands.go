package job

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/jobengine/internal/actor"
)

// Command is one control message issued to a job or one of its workers
type Command struct {
	ID       string       `json:"id"`
	Job      string       `json:"job"`
	Target   string       `json:"target"`
	Action   actor.Action `json:"action"`
	Seconds  int          `json:"seconds,omitempty"`
	Accepted bool         `json:"accepted"`
	Status   actor.Status `json:"status"`
	Error    string       `json:"error,omitempty"`
	At       time.Time    `json:"at"`
}

// CommandLog persists issued commands
type CommandLog interface {
	Append(ctx context.Context, cmd Command) error
	// List returns up to limit of the most recent commands, oldest first.
	// limit <= 0 returns everything.
	List(ctx context.Context, limit int) ([]Command, error)
}

// MemoryLog keeps commands in memory
type MemoryLog struct {
	mu       sync.Mutex
	commands []Command
}

// NewMemoryLog creates an empty in-memory command log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, cmd Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = append(l.commands, cmd)
	return nil
}

func (l *MemoryLog) List(_ context.Context, limit int) ([]Command, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := 0
	if limit > 0 && len(l.commands) > limit {
		start = len(l.commands) - limit
	}
	return append([]Command(nil), l.commands[start:]...), nil
}
