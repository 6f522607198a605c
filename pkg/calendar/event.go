package calendar

import (
	"time"
)

type ExternalEvent struct {
	Id       string
	Title    string
	Start    time.Time
	End      time.Time
	IsAllDay bool
	Location string
	// Description is the full text, including the generated attendance summary.
	Description string
	// LastModified advances on every change made on the calendar side.
	LastModified time.Time
}

type EventOptions struct {
	Description string
	Location    string
}

// FieldsUpdate carries only the fields that changed. Start and End are sent
// together; AllDay tells how to interpret them.
type FieldsUpdate struct {
	Title       *string
	Location    *string
	Description *string
	Start       *time.Time
	End         *time.Time
	AllDay      bool
}

func (u FieldsUpdate) IsEmpty() bool {
	return u.Title == nil && u.Location == nil && u.Description == nil && u.Start == nil && u.End == nil
}

// Fields names the fields the update sets, for logging.
func (u FieldsUpdate) Fields() []string {
	var fields []string
	if u.Title != nil {
		fields = append(fields, "title")
	}
	if u.Location != nil {
		fields = append(fields, "location")
	}
	if u.Description != nil {
		fields = append(fields, "description")
	}
	if u.Start != nil || u.End != nil {
		fields = append(fields, "time")
	}
	return fields
}
