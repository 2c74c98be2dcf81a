package queue

import (
	"encoding/json"
	"fmt"
)

// Record is the wire form of a task stored in a durable backend
type Record[T any] struct {
	ID       string            `json:"id"`
	Data     T                 `json:"data"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Attempts int               `json:"attempts"`
}

// Encode serializes a record
func Encode[T any](r Record[T]) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task %s: %w", r.ID, err)
	}
	return b, nil
}

// Decode parses a record
func Decode[T any](b []byte) (Record[T], error) {
	var r Record[T]
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("failed to decode task: %w", err)
	}
	return r, nil
}

// Task converts a record into a leased task
func (r Record[T]) Task(queue, receipt string) *Task[T] {
	return &Task[T]{
		ID:       r.ID,
		Queue:    queue,
		Data:     r.Data,
		Attrs:    r.Attrs,
		Receipt:  receipt,
		Attempts: r.Attempts,
	}
}
