package task

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation marks a submission rejected before persistence.
// Wrap it with context: fmt.Errorf("%w: chat id is required", ErrValidation).
var ErrValidation = errors.New("invalid task")

// ErrBadFormat marks an unparseable user-entered date/time.
var ErrBadFormat = errors.New("bad date format")

// Recurrence is the repetition period of a scheduled publication.
type Recurrence string

const (
	RecurNone    Recurrence = "none"
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
)

func ParseRecurrence(s string) (Recurrence, error) {
	switch Recurrence(s) {
	case RecurNone, RecurDaily, RecurWeekly, RecurMonthly:
		return Recurrence(s), nil
	}
	return "", fmt.Errorf("%w: unknown recurrence %q", ErrValidation, s)
}

// PayloadKind tags the single content variant carried by a task.
type PayloadKind string

const (
	KindText     PayloadKind = "text"
	KindPhoto    PayloadKind = "photo"
	KindDocument PayloadKind = "document"
)

// Payload is the content delivered at fire time. Exactly one kind per task:
// plain text, or a photo/document file id with an optional caption.
type Payload struct {
	Kind    PayloadKind
	Text    string // KindText only
	FileID  string // KindPhoto / KindDocument: Telegram file id
	Caption string // KindPhoto / KindDocument: optional
}

func (p Payload) Validate() error {
	switch p.Kind {
	case KindText:
		if p.Text == "" {
			return fmt.Errorf("%w: text payload is empty", ErrValidation)
		}
		if p.FileID != "" {
			return fmt.Errorf("%w: text payload carries a file id", ErrValidation)
		}
	case KindPhoto, KindDocument:
		if p.FileID == "" {
			return fmt.Errorf("%w: %s payload has no file id", ErrValidation, p.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown payload kind %q", ErrValidation, p.Kind)
	}
	return nil
}

// Preview returns a short human-readable description of the content,
// used by the publication list.
func (p Payload) Preview() string {
	switch p.Kind {
	case KindText:
		return p.Text
	default:
		if p.Caption != "" {
			return p.Caption
		}
		return string(p.Kind)
	}
}

// Task is a scheduled unit of content delivery.
//
// FirstFireAt is the original scheduled instant and never changes after
// creation; it anchors recurrence math. NextFireAt advances on each
// successful firing of a recurring task. All instants are UTC.
type Task struct {
	ID     int64
	ChatID int64 // destination chat

	Payload Payload

	FirstFireAt time.Time
	NextFireAt  time.Time
	Recurrence  Recurrence

	Pin             bool // pin the message after publishing
	Silent          bool // suppress the member notification
	DeleteAfterDays int  // 0 = never

	Active          bool
	MaxEndAt        time.Time // hard horizon; no occurrence may fire past it
	LastPublishedAt time.Time // zero until the first successful firing

	CreatedAt time.Time
}

// Draft holds the caller-supplied fields of a new task. The store stamps
// identity, NextFireAt and MaxEndAt at creation.
type Draft struct {
	ChatID          int64
	Payload         Payload
	FireAt          time.Time
	Recurrence      Recurrence
	Pin             bool
	Silent          bool
	DeleteAfterDays int
}

func (d Draft) Validate() error {
	if d.ChatID == 0 {
		return fmt.Errorf("%w: chat id is required", ErrValidation)
	}
	if err := d.Payload.Validate(); err != nil {
		return err
	}
	if d.FireAt.IsZero() {
		return fmt.Errorf("%w: fire time is required", ErrValidation)
	}
	if _, err := ParseRecurrence(string(d.Recurrence)); err != nil {
		return err
	}
	if d.DeleteAfterDays < 0 {
		return fmt.Errorf("%w: delete_after_days must be positive", ErrValidation)
	}
	return nil
}

// DeliveryStatus tags an archive entry's lifecycle.
type DeliveryStatus string

const (
	StatusPublished         DeliveryStatus = "published"
	StatusDeletionScheduled DeliveryStatus = "deletion-scheduled"
	StatusDeleted           DeliveryStatus = "deleted"
	StatusFailed            DeliveryStatus = "failed"
)

// Delivery is an append-only archive record of one firing.
// After creation only Status may change.
type Delivery struct {
	ID          int64
	TaskID      int64
	ChatID      int64
	MessageID   int // Telegram delivery handle; 0 for failed firings
	Payload     Payload
	Status      DeliveryStatus
	Error       string // failed firings only
	PublishedAt time.Time
}

// DeletionJob schedules removal of a delivered message after its
// delete-after window elapses. Jobs are persisted so a restart inside
// the window does not lose the deletion.
type DeletionJob struct {
	ID         string
	ChatID     int64
	MessageID  int
	DeliveryID int64 // archive record to mark deleted; 0 if unknown
	FireAt     time.Time
}
