package calendar_sync

import (
	"strings"
	"time"

	"github.com/shotasten/union-board/internal/utils"
	"github.com/shotasten/union-board/pkg/calendar"
	"github.com/shotasten/union-board/pkg/ledger"
	"golang.org/x/text/unicode/norm"
)

type MatchTier int

const (
	NoMatch MatchTier = iota
	// MatchExact means the record's external reference is the event id.
	MatchExact
	// MatchIdentity means title, start key and location are equal.
	MatchIdentity
	// MatchFullField means an unlinked record has the same title, location
	// and span after whitespace and case folding.
	MatchFullField
)

func (t MatchTier) String() string {
	switch t {
	case MatchExact:
		return "exact"
	case MatchIdentity:
		return "identity"
	case MatchFullField:
		return "full-field"
	}
	return "none"
}

// Matcher resolves calendar events to ledger records during one pull pass.
// Attach and Add keep its indices current, so a second calendar copy of the
// same event within the pass matches the record the first copy claimed.
type Matcher struct {
	location   *time.Location
	records    map[string]ledger.EventRecord
	order      []string
	byRef      map[string]string
	byIdentity map[string][]string
}

func NewMatcher(records []ledger.EventRecord, location *time.Location) *Matcher {
	m := &Matcher{
		location:   location,
		records:    make(map[string]ledger.EventRecord, len(records)),
		byRef:      make(map[string]string, len(records)),
		byIdentity: make(map[string][]string, len(records)),
	}
	for _, record := range records {
		m.Add(record)
	}
	return m
}

// Match returns the record ext belongs to and the tier that matched.
func (m *Matcher) Match(ext calendar.ExternalEvent) (ledger.EventRecord, MatchTier) {
	if id, ok := m.byRef[ext.Id]; ok {
		return m.records[id], MatchExact
	}

	if candidates := m.byIdentity[identityKey(ext.Title, ext.Start, ext.Location, ext.IsAllDay, m.location)]; len(candidates) > 0 {
		// An unlinked candidate can be attached; otherwise report the first
		// linked one so the caller can treat ext as its duplicate.
		for _, id := range candidates {
			if !m.records[id].IsLinked() {
				return m.records[id], MatchIdentity
			}
		}
		return m.records[candidates[0]], MatchIdentity
	}

	for _, id := range m.order {
		record := m.records[id]
		if record.IsLinked() {
			continue
		}
		if m.sameFields(record, ext) {
			return record, MatchFullField
		}
	}
	return ledger.EventRecord{}, NoMatch
}

// Add indexes a record, replacing any earlier version with the same id.
func (m *Matcher) Add(record ledger.EventRecord) {
	if previous, exists := m.records[record.Id]; exists {
		m.unindex(previous)
	} else {
		m.order = append(m.order, record.Id)
	}
	m.records[record.Id] = record
	if record.ExternalRef != "" {
		// The first holder keeps the index entry; duplicates are resolved by the reindex.
		if _, taken := m.byRef[record.ExternalRef]; !taken {
			m.byRef[record.ExternalRef] = record.Id
		}
	}
	key := m.recordKey(record)
	m.byIdentity[key] = append(m.byIdentity[key], record.Id)
}

// Attach links a known record to an external id.
func (m *Matcher) Attach(recordId, externalRef string) {
	record, ok := m.records[recordId]
	if !ok {
		return
	}
	record.ExternalRef = externalRef
	m.Add(record)
}

func (m *Matcher) unindex(record ledger.EventRecord) {
	if record.ExternalRef != "" && m.byRef[record.ExternalRef] == record.Id {
		delete(m.byRef, record.ExternalRef)
	}
	key := m.recordKey(record)
	ids := m.byIdentity[key]
	for i, id := range ids {
		if id == record.Id {
			m.byIdentity[key] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(m.byIdentity[key]) == 0 {
		delete(m.byIdentity, key)
	}
}

func (m *Matcher) recordKey(record ledger.EventRecord) string {
	return identityKey(record.Title, record.Start, record.Location, record.IsAllDay, m.location)
}

func (m *Matcher) sameFields(record ledger.EventRecord, ext calendar.ExternalEvent) bool {
	if record.IsAllDay != ext.IsAllDay {
		return false
	}
	if foldText(record.Title) != foldText(ext.Title) || foldText(record.Location) != foldText(ext.Location) {
		return false
	}
	if record.IsAllDay {
		return utils.SameDate(record.Start, ext.Start, m.location) && utils.SameDate(record.End, ext.End, m.location)
	}
	return record.Start.Truncate(time.Minute).Equal(ext.Start.Truncate(time.Minute)) &&
		record.End.Truncate(time.Minute).Equal(ext.End.Truncate(time.Minute))
}

// identityKey is (title, start key, location); the start key is the local
// date for all-day events and the UTC instant otherwise.
func identityKey(title string, start time.Time, location string, allDay bool, loc *time.Location) string {
	startKey := "t:" + start.UTC().Format(time.RFC3339)
	if allDay {
		startKey = "d:" + utils.DateKey(start, loc)
	}
	return title + "\x00" + startKey + "\x00" + location
}

func foldText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(norm.NFKC.String(s)), " "))
}
