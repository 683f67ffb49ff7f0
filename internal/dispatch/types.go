package dispatch

import (
	"errors"
	"time"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatch queue stopped")
)

// Queue names the three logical queues. They share one worker pool but are
// counted separately in stats.
type Queue string

const (
	QueueMessage       Queue = "message"
	QueueReminder      Queue = "reminder"
	QueueRejectedOffer Queue = "rejected_offer"
)

// Job is one outbound notification, fully rendered.
type Job struct {
	ID          string
	Queue       Queue
	OrderID     string
	Phone       string
	MessageType string
	Text        string

	EnqueuedAt time.Time
}

// Options tweaks a single enqueue.
type Options struct {
	// Delay holds the job back before it becomes eligible for a worker
	// (rejected-offer follow-ups, reminders).
	Delay time.Duration
}

// Stats is a per-queue counter snapshot.
type Stats struct {
	Waiting   int    `json:"waiting"`
	Active    int    `json:"active"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Config controls the dispatch pipeline.
type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

// Event is emitted on the event bus for job lifecycle transitions.
type Event struct {
	JobID       string    `json:"job_id"`
	Queue       Queue     `json:"queue"`
	OrderID     string    `json:"order_id"`
	MessageType string    `json:"message_type"`
	At          time.Time `json:"at"`
	Error       string    `json:"error,omitempty"`
}
