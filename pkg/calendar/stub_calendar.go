package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shotasten/union-board/internal/utils"
)

// StubStore is an in-memory Store. Every mutation stamps LastModified with the
// clock, and call counters let tests assert how many round trips a sync made.
type StubStore struct {
	mu     sync.Mutex
	clock  utils.Clock
	nextId int
	data   map[string]ExternalEvent
	hidden map[string]bool
	// failCreates makes creation of events with the given title fail.
	failCreates map[string]error
	// failNextUpdate is returned by the next UpdateFields call.
	failNextUpdate error

	Gets    int
	Lists   int
	Creates int
	Updates int
	Deletes int
}

func NewStubStore(clock utils.Clock) *StubStore {
	return &StubStore{
		clock:       clock,
		data:        map[string]ExternalEvent{},
		hidden:      map[string]bool{},
		failCreates: map[string]error{},
	}
}

// Put stores an event as if a human had created it on the calendar. It is not
// counted as a call.
func (c *StubStore) Put(event ExternalEvent) ExternalEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if event.Id == "" {
		event.Id = c.newId()
	}
	if event.LastModified.IsZero() {
		event.LastModified = c.clock.Now()
	}
	c.data[event.Id] = event
	return event
}

// Edit changes an event as a human would, advancing LastModified.
func (c *StubStore) Edit(id string, edit func(e *ExternalEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	event, ok := c.data[id]
	if !ok {
		return
	}
	edit(&event)
	event.LastModified = c.clock.Now()
	c.data[id] = event
}

// Remove deletes an event behind the sync engine's back.
func (c *StubStore) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
}

// Hide makes an existing event invisible to reads, like a stale listing.
func (c *StubStore) Hide(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hidden[id] = true
}

func (c *StubStore) FailCreates(title string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCreates[title] = err
}

func (c *StubStore) FailNextUpdate(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNextUpdate = err
}

func (c *StubStore) Event(id string) (ExternalEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	event, ok := c.data[id]
	return event, ok
}

func (c *StubStore) Events() []ExternalEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sorted(func(ExternalEvent) bool { return true })
}

// Writes is the number of create, update and delete calls.
func (c *StubStore) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Creates + c.Updates + c.Deletes
}

// Calls is the number of Store calls of any kind.
func (c *StubStore) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Gets + c.Lists + c.Creates + c.Updates + c.Deletes
}

func (c *StubStore) ResetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gets, c.Lists, c.Creates, c.Updates, c.Deletes = 0, 0, 0, 0, 0
}

func (c *StubStore) GetEventById(ctx context.Context, id string) (ExternalEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gets++
	event, ok := c.data[id]
	if !ok || c.hidden[id] {
		return ExternalEvent{}, ErrEventNotFound
	}
	return event, nil
}

func (c *StubStore) ListEvents(ctx context.Context, start, end time.Time) ([]ExternalEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Lists++
	return c.sorted(func(e ExternalEvent) bool {
		return !c.hidden[e.Id] && !e.Start.After(end) && !e.End.Before(start)
	}), nil
}

func (c *StubStore) CreateEvent(ctx context.Context, title string, start, end time.Time, opts EventOptions) (ExternalEvent, error) {
	return c.create(title, start, end, false, opts)
}

func (c *StubStore) CreateAllDayEvent(ctx context.Context, title string, startDate, endDate time.Time, opts EventOptions) (ExternalEvent, error) {
	return c.create(title, startDate, endDate, true, opts)
}

func (c *StubStore) create(title string, start, end time.Time, allDay bool, opts EventOptions) (ExternalEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Creates++
	if err := c.failCreates[title]; err != nil {
		return ExternalEvent{}, err
	}
	event := ExternalEvent{
		Id:           c.newId(),
		Title:        title,
		Start:        start,
		End:          end,
		IsAllDay:     allDay,
		Location:     opts.Location,
		Description:  opts.Description,
		LastModified: c.clock.Now(),
	}
	c.data[event.Id] = event
	return event, nil
}

func (c *StubStore) UpdateFields(ctx context.Context, id string, update FieldsUpdate) (ExternalEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Updates++
	if err := c.failNextUpdate; err != nil {
		c.failNextUpdate = nil
		return ExternalEvent{}, err
	}
	event, ok := c.data[id]
	if !ok || c.hidden[id] {
		return ExternalEvent{}, ErrEventNotFound
	}
	if update.Title != nil {
		event.Title = *update.Title
	}
	if update.Location != nil {
		event.Location = *update.Location
	}
	if update.Description != nil {
		event.Description = *update.Description
	}
	if update.Start != nil && update.End != nil {
		event.Start = *update.Start
		event.End = *update.End
		event.IsAllDay = update.AllDay
	}
	event.LastModified = c.clock.Now()
	c.data[id] = event
	return event, nil
}

func (c *StubStore) DeleteEvent(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deletes++
	if _, ok := c.data[id]; !ok {
		return ErrEventNotFound
	}
	delete(c.data, id)
	delete(c.hidden, id)
	return nil
}

func (c *StubStore) newId() string {
	c.nextId++
	return fmt.Sprintf("ext-%d", c.nextId)
}

func (c *StubStore) sorted(keep func(ExternalEvent) bool) []ExternalEvent {
	events := make([]ExternalEvent, 0, len(c.data))
	for _, event := range c.data {
		if keep(event) {
			events = append(events, event)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].Id < events[j].Id
	})
	return events
}
