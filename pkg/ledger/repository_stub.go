package ledger

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// RepositoryStub is an in-memory Repository. It counts scans and writes so
// tests can assert that a code path touched nothing.
type RepositoryStub struct {
	mu         sync.RWMutex
	events     map[string]EventRecord
	responses  map[string]map[string]ResponseRecord
	members    map[string]Member
	properties map[string]string

	ResponseScans  int
	EventWrites    int
	PropertyWrites int
	// FailUpdates makes UpdateEvent fail for the listed event ids.
	FailUpdates map[string]error
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		events:      make(map[string]EventRecord),
		responses:   make(map[string]map[string]ResponseRecord),
		members:     make(map[string]Member),
		properties:  make(map[string]string),
		FailUpdates: make(map[string]error),
	}
}

func (s *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	return fn(s)
}

func (s *RepositoryStub) GetEvent(ctx context.Context, id string) (EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return EventRecord{}, ErrEventNotFound
	}
	return event, nil
}

func (s *RepositoryStub) ListEvents(ctx context.Context, filter EventFilter) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]EventRecord, 0, len(s.events))
	for _, e := range s.events {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, e.Status) {
			continue
		}
		if !filter.To.IsZero() && e.Start.After(filter.To) {
			continue
		}
		if !filter.From.IsZero() && e.End.Before(filter.From) {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Start.Equal(result[j].Start) {
			return result[i].Start.Before(result[j].Start)
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].Id < result[j].Id
	})
	return result, nil
}

func (s *RepositoryStub) StoreEvent(ctx context.Context, event EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.Id]; exists {
		return fmt.Errorf("event %s already exists", event.Id)
	}
	s.events[event.Id] = event
	s.EventWrites++
	return nil
}

func (s *RepositoryStub) UpdateEvent(ctx context.Context, id string, patch EventPatch, updatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailUpdates[id]; err != nil {
		return false, err
	}
	event, ok := s.events[id]
	if !ok {
		return false, nil
	}
	event = patch.Apply(event)
	event.UpdatedAt = updatedAt
	s.events[id] = event
	s.EventWrites++
	return true, nil
}

func (s *RepositoryStub) ListResponses(ctx context.Context, eventId string) ([]ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResponseScans++

	var result []ResponseRecord
	for id, byUser := range s.responses {
		if eventId != "" && id != eventId {
			continue
		}
		for _, r := range byUser {
			result = append(result, r)
		}
	}
	sortResponses(result)
	return result, nil
}

func (s *RepositoryStub) ListResponsesUpdatedSince(ctx context.Context, since time.Time) ([]ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResponseScans++

	var result []ResponseRecord
	for _, byUser := range s.responses {
		for _, r := range byUser {
			if r.UpdatedAt.After(since) {
				result = append(result, r)
			}
		}
	}
	sortResponses(result)
	return result, nil
}

func sortResponses(responses []ResponseRecord) {
	sort.Slice(responses, func(i, j int) bool {
		if responses[i].EventId != responses[j].EventId {
			return responses[i].EventId < responses[j].EventId
		}
		if !responses[i].CreatedAt.Equal(responses[j].CreatedAt) {
			return responses[i].CreatedAt.Before(responses[j].CreatedAt)
		}
		return responses[i].UserKey < responses[j].UserKey
	})
}

func (s *RepositoryStub) UpsertResponse(ctx context.Context, response ResponseRecord) (ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[response.EventId]; !ok {
		return ResponseRecord{}, fmt.Errorf("event %s does not exist", response.EventId)
	}
	byUser, ok := s.responses[response.EventId]
	if !ok {
		byUser = make(map[string]ResponseRecord)
		s.responses[response.EventId] = byUser
	}
	if existing, ok := byUser[response.UserKey]; ok {
		response.CreatedAt = existing.CreatedAt
	}
	byUser[response.UserKey] = response
	return response, nil
}

func (s *RepositoryStub) ListMembers(ctx context.Context) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserKey < members[j].UserKey })
	return members, nil
}

func (s *RepositoryStub) UpsertMember(ctx context.Context, member Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[member.UserKey] = member
	return nil
}

func (s *RepositoryStub) GetProperty(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.properties[key]
	return value, ok, nil
}

func (s *RepositoryStub) SetProperty(ctx context.Context, key, value string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[key] = value
	s.PropertyWrites++
	return nil
}

// Writes returns the number of event and property writes so far.
func (s *RepositoryStub) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.EventWrites + s.PropertyWrites
}

func (s *RepositoryStub) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]EventRecord)
	s.responses = make(map[string]map[string]ResponseRecord)
	s.members = make(map[string]Member)
	s.properties = make(map[string]string)
	s.FailUpdates = make(map[string]error)
	s.ResponseScans = 0
	s.EventWrites = 0
	s.PropertyWrites = 0
}
