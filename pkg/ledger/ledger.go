package ledger

import (
	"errors"
	"time"
)

var ErrEventNotFound = errors.New("event not found")
var ErrInvalidEventId = errors.New("invalid event id")
var ErrInvalidTimeRange = errors.New("event end is before its start")
var ErrInvalidResponseStatus = errors.New("invalid response status")
var ErrEmptyTitle = errors.New("event title is empty")

type EventStatus string

const (
	StatusActive   EventStatus = "active"
	StatusArchived EventStatus = "archived"
	StatusDeleted  EventStatus = "deleted"
)

// EventRecord is an event as the ledger owns it. Description holds only the
// user-authored text; the attendance summary lives in the calendar copy.
type EventRecord struct {
	Id          string
	Title       string
	Start       time.Time
	End         time.Time
	IsAllDay    bool
	Location    string
	Description string
	// ExternalRef is the calendar event id, empty when the event is not linked.
	ExternalRef string
	// DescriptionHash is the digest of the summary body at the last calendar write.
	DescriptionHash string
	Status          EventStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	// LastSyncedAt is the newest calendar modification folded into this record.
	LastSyncedAt time.Time
}

func (e EventRecord) IsLinked() bool {
	return e.ExternalRef != ""
}

// EventPatch is a partial update. Nil fields are left untouched; an empty
// ExternalRef or DescriptionHash and a zero LastSyncedAt clear the column.
type EventPatch struct {
	Title           *string
	Start           *time.Time
	End             *time.Time
	IsAllDay        *bool
	Location        *string
	Description     *string
	ExternalRef     *string
	DescriptionHash *string
	Status          *EventStatus
	LastSyncedAt    *time.Time
}

func (p EventPatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Fields returns the column names the patch touches, in a fixed order.
func (p EventPatch) Fields() []string {
	var fields []string
	if p.Title != nil {
		fields = append(fields, "title")
	}
	if p.Start != nil {
		fields = append(fields, "start_time")
	}
	if p.End != nil {
		fields = append(fields, "end_time")
	}
	if p.IsAllDay != nil {
		fields = append(fields, "is_all_day")
	}
	if p.Location != nil {
		fields = append(fields, "location")
	}
	if p.Description != nil {
		fields = append(fields, "description")
	}
	if p.ExternalRef != nil {
		fields = append(fields, "external_ref")
	}
	if p.DescriptionHash != nil {
		fields = append(fields, "description_hash")
	}
	if p.Status != nil {
		fields = append(fields, "status")
	}
	if p.LastSyncedAt != nil {
		fields = append(fields, "last_synced_at")
	}
	return fields
}

// Apply returns a copy of e with the patch applied.
func (p EventPatch) Apply(e EventRecord) EventRecord {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Start != nil {
		e.Start = *p.Start
	}
	if p.End != nil {
		e.End = *p.End
	}
	if p.IsAllDay != nil {
		e.IsAllDay = *p.IsAllDay
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.ExternalRef != nil {
		e.ExternalRef = *p.ExternalRef
	}
	if p.DescriptionHash != nil {
		e.DescriptionHash = *p.DescriptionHash
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.LastSyncedAt != nil {
		e.LastSyncedAt = *p.LastSyncedAt
	}
	return e
}

// touchesSchedule reports whether the patch changes the event's time span.
func (p EventPatch) touchesSchedule() bool {
	return p.Start != nil || p.End != nil || p.IsAllDay != nil
}

// WriteOptions control side effects of ledger writes.
type WriteOptions struct {
	// SkipExternalSync suppresses the change notification that makes the sync
	// service push the event to the calendar. Sync components set it on their
	// own bookkeeping writes so a push never triggers another push.
	SkipExternalSync bool
}

// EventFilter narrows ListEvents. Zero values mean "no restriction".
type EventFilter struct {
	Statuses []EventStatus
	// From and To select events overlapping [From, To].
	From time.Time
	To   time.Time
}

func ActiveEvents() EventFilter {
	return EventFilter{Statuses: []EventStatus{StatusActive}}
}

type ResponseStatus string

const (
	ResponseAttend    ResponseStatus = "attend"
	ResponseTentative ResponseStatus = "tentative"
	ResponseAbsent    ResponseStatus = "absent"
	ResponseUnset     ResponseStatus = "unset"
)

// ResponseStatuses lists every status in display order.
var ResponseStatuses = []ResponseStatus{ResponseAttend, ResponseTentative, ResponseAbsent, ResponseUnset}

func (s ResponseStatus) IsValid() bool {
	switch s {
	case ResponseAttend, ResponseTentative, ResponseAbsent, ResponseUnset:
		return true
	}
	return false
}

type ResponseRecord struct {
	EventId   string
	UserKey   string
	Status    ResponseStatus
	Comment   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Member struct {
	UserKey     string
	Name        string
	DisplayName string
	Part        string
}

// Tally holds response counts per status for one event.
type Tally struct {
	Attend    int
	Tentative int
	Absent    int
	Unset     int
}

func NewTally(responses []ResponseRecord) Tally {
	var t Tally
	for _, r := range responses {
		switch r.Status {
		case ResponseAttend:
			t.Attend++
		case ResponseTentative:
			t.Tentative++
		case ResponseAbsent:
			t.Absent++
		default:
			t.Unset++
		}
	}
	return t
}

func (t Tally) Count(status ResponseStatus) int {
	switch status {
	case ResponseAttend:
		return t.Attend
	case ResponseTentative:
		return t.Tentative
	case ResponseAbsent:
		return t.Absent
	case ResponseUnset:
		return t.Unset
	}
	return 0
}

func (t Tally) Total() int {
	return t.Attend + t.Tentative + t.Absent + t.Unset
}
