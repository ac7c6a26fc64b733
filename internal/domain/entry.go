package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// WinningStatus is the lifecycle state of an entry.
type WinningStatus string

const (
	StatusPending WinningStatus = "PENDING"
	StatusWin     WinningStatus = "WIN"
	StatusLose    WinningStatus = "LOSE"
)

var (
	// ErrEntryAlreadyResolved is returned when a WIN or LOSE entry is asked to
	// transition again.
	ErrEntryAlreadyResolved = errors.New("entry already resolved")
	ErrInvalidEntryIdentity = errors.New("entry requires positive event and member ids")
	ErrNegativeReward       = errors.New("reward amount must not be negative")
)

// ApplicantContact is the optional contact payload an applicant leaves with an
// entry. It may be erased independently of the entry's status.
type ApplicantContact struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

// IsEmpty reports whether no contact field is populated.
func (c *ApplicantContact) IsEmpty() bool {
	if c == nil {
		return true
	}
	return strings.TrimSpace(c.Phone) == "" &&
		strings.TrimSpace(c.Email) == "" &&
		strings.TrimSpace(c.Address) == ""
}

// Entry is one applicant's participation record for one event.
type Entry struct {
	ID           int64             `json:"id"`
	EventID      int64             `json:"event_id"`
	MemberID     int64             `json:"member_id"`
	Status       WinningStatus     `json:"status"`
	RewardAmount int64             `json:"reward_amount"`
	Contact      *ApplicantContact `json:"contact,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// NewPendingEntry builds an unresolved entry for an applicant.
func NewPendingEntry(eventID, memberID int64, contact *ApplicantContact) (*Entry, error) {
	if eventID <= 0 || memberID <= 0 {
		return nil, ErrInvalidEntryIdentity
	}
	if contact.IsEmpty() {
		contact = nil
	}
	return &Entry{
		EventID:  eventID,
		MemberID: memberID,
		Status:   StatusPending,
		Contact:  contact,
	}, nil
}

// AssignWinner moves a pending entry to WIN with the given reward.
func (e *Entry) AssignWinner(rewardAmount int64) error {
	if e.Status != StatusPending {
		return fmt.Errorf("%w: entry %d is %s", ErrEntryAlreadyResolved, e.ID, e.Status)
	}
	if rewardAmount < 0 {
		return ErrNegativeReward
	}
	e.Status = StatusWin
	e.RewardAmount = rewardAmount
	return nil
}

// AssignLoser moves a pending entry to LOSE.
func (e *Entry) AssignLoser() error {
	if e.Status != StatusPending {
		return fmt.Errorf("%w: entry %d is %s", ErrEntryAlreadyResolved, e.ID, e.Status)
	}
	e.Status = StatusLose
	return nil
}

// ClearContact erases the contact payload. Status and reward are untouched.
func (e *Entry) ClearContact() {
	e.Contact = nil
}
