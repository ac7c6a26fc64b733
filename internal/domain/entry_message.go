package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedEntryMessage marks queue payloads that can never be processed.
var ErrMalformedEntryMessage = errors.New("malformed entry message")

// EntryMessage is the work item carried over the apply and raffle topics.
// On the wire it is the text "<eventId>:<memberId>".
type EntryMessage struct {
	EventID  int64
	MemberID int64
}

func (m EntryMessage) String() string {
	return strconv.FormatInt(m.EventID, 10) + ":" + strconv.FormatInt(m.MemberID, 10)
}

// ParseEntryMessage decodes a queue payload. Any error wraps
// ErrMalformedEntryMessage.
func ParseEntryMessage(raw string) (EntryMessage, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return EntryMessage{}, fmt.Errorf("%w: expected 2 fields, got %d", ErrMalformedEntryMessage, len(parts))
	}
	eventID, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return EntryMessage{}, fmt.Errorf("%w: event id %q", ErrMalformedEntryMessage, parts[0])
	}
	memberID, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return EntryMessage{}, fmt.Errorf("%w: member id %q", ErrMalformedEntryMessage, parts[1])
	}
	return EntryMessage{EventID: eventID, MemberID: memberID}, nil
}
