package calendar_sync

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shotasten/union-board/internal/config"
	"github.com/shotasten/union-board/pkg/ledger"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

const (
	// generatedMarker starts the machine-generated part of a calendar description.
	generatedMarker  = "===== union-board attendance ====="
	identifierPrefix = "union-board:event="
	noComments       = "(no comments)"
	noAttendees      = "(no attendees)"
	noPart           = "(no part)"
	lastUpdatedLabel = "Last updated: "
	timestampLayout  = "2006-01-02 15:04 MST"
)

var statusSymbols = map[ledger.ResponseStatus]string{
	ledger.ResponseAttend:    "○",
	ledger.ResponseTentative: "△",
	ledger.ResponseAbsent:    "×",
	ledger.ResponseUnset:     "-",
}

var statusLabels = map[ledger.ResponseStatus]string{
	ledger.ResponseAttend:    "Attend",
	ledger.ResponseTentative: "Tentative",
	ledger.ResponseAbsent:    "Absent",
	ledger.ResponseUnset:     "No answer",
}

func statusSymbol(status ledger.ResponseStatus) string {
	if symbol, ok := statusSymbols[status]; ok {
		return symbol
	}
	return statusSymbols[ledger.ResponseUnset]
}

// Description is a rendered calendar description. Body is deterministic for
// given inputs and is what gets hashed; Text adds the trailing timestamp and is
// what the calendar receives.
type Description struct {
	Body string
	Text string
}

func (d Description) Hash() string {
	return Hash(d.Body)
}

type Renderer struct {
	partBreakdown bool
	partOrder     map[string]int
	names         NameResolver
	location      *time.Location

	// collate.Collator reuses internal buffers.
	mu       sync.Mutex
	collator *collate.Collator
}

func NewRenderer(cfg config.Sync) *Renderer {
	tag, err := language.Parse(cfg.Language)
	if err != nil {
		log.Warnf("unknown collation language %q, falling back to root order: %v", cfg.Language, err)
		tag = language.Und
	}
	partOrder := make(map[string]int, len(cfg.PartOrder))
	for i, part := range cfg.PartOrder {
		if _, exists := partOrder[part]; !exists {
			partOrder[part] = i
		}
	}
	return &Renderer{
		partBreakdown: cfg.PartBreakdown,
		partOrder:     partOrder,
		names:         DefaultNameResolver(),
		location:      cfg.Location(),
		collator:      collate.New(tag),
	}
}

// Render builds the calendar description of event. It never fails: missing
// members or responses degrade to placeholders.
func (r *Renderer) Render(event ledger.EventRecord, responses []ledger.ResponseRecord, members []ledger.Member, now time.Time) Description {
	r.mu.Lock()
	defer r.mu.Unlock()

	directory := make(map[string]ledger.Member, len(members))
	for _, m := range members {
		directory[m.UserKey] = m
	}
	ordered := make([]ledger.ResponseRecord, len(responses))
	copy(ordered, responses)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].UserKey < ordered[j].UserKey
	})

	var lines []string
	if userText := strings.TrimRight(event.Description, " \t\r\n"); userText != "" {
		lines = append(lines, userText, "")
	}
	lines = append(lines, generatedMarker, identifierPrefix+event.Id, "")
	lines = append(lines, r.tallyLines(ledger.NewTally(ordered))...)
	if r.partBreakdown {
		lines = append(lines, "")
		lines = append(lines, r.partLines(ordered, directory)...)
	}
	lines = append(lines, "")
	lines = append(lines, r.commentLines(ordered, directory)...)

	body := strings.Join(lines, "\n")
	return Description{
		Body: body,
		Text: body + "\n\n" + lastUpdatedLabel + now.In(r.location).Format(timestampLayout),
	}
}

func (r *Renderer) tallyLines(tally ledger.Tally) []string {
	lines := []string{"[Attendance]"}
	for _, status := range ledger.ResponseStatuses {
		lines = append(lines, fmt.Sprintf("%s %s: %d", statusSymbols[status], statusLabels[status], tally.Count(status)))
	}
	return append(lines, fmt.Sprintf("Total: %d", tally.Total()))
}

type partEntry struct {
	name      string
	tentative bool
}

func (r *Renderer) partLines(responses []ledger.ResponseRecord, directory map[string]ledger.Member) []string {
	groups := map[string][]partEntry{}
	for _, response := range responses {
		if response.Status != ledger.ResponseAttend && response.Status != ledger.ResponseTentative {
			continue
		}
		part := strings.TrimSpace(directory[response.UserKey].Part)
		groups[part] = append(groups[part], partEntry{
			name:      r.names.Resolve(response.UserKey, directory),
			tentative: response.Status == ledger.ResponseTentative,
		})
	}

	lines := []string{"[By part]"}
	if len(groups) == 0 {
		return append(lines, noAttendees)
	}
	for _, part := range r.sortParts(groups) {
		entries := groups[part]
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].tentative != entries[j].tentative {
				return !entries[i].tentative
			}
			return r.collator.CompareString(entries[i].name, entries[j].name) < 0
		})
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.tentative {
				names = append(names, e.name+" ("+statusSymbols[ledger.ResponseTentative]+")")
			} else {
				names = append(names, e.name)
			}
		}
		label := part
		if label == "" {
			label = noPart
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, strings.Join(names, ", ")))
	}
	return lines
}

// sortParts orders configured parts first, then unknown parts by the
// configured language collation, then members without a part.
func (r *Renderer) sortParts(groups map[string][]partEntry) []string {
	parts := make([]string, 0, len(groups))
	for part := range groups {
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool {
		a, b := parts[i], parts[j]
		if (a == "") != (b == "") {
			return b == ""
		}
		ai, aKnown := r.partOrder[a]
		bi, bKnown := r.partOrder[b]
		switch {
		case aKnown && bKnown:
			return ai < bi
		case aKnown != bKnown:
			return aKnown
		}
		if c := r.collator.CompareString(a, b); c != 0 {
			return c < 0
		}
		return a < b
	})
	return parts
}

func (r *Renderer) commentLines(responses []ledger.ResponseRecord, directory map[string]ledger.Member) []string {
	lines := []string{"[Comments]"}
	for _, response := range responses {
		comment := strings.Join(strings.Fields(response.Comment), " ")
		if comment == "" {
			continue
		}
		name := r.names.Resolve(response.UserKey, directory)
		lines = append(lines, fmt.Sprintf("%s %s: %s", statusSymbol(response.Status), name, comment))
	}
	if len(lines) == 1 {
		lines = append(lines, noComments)
	}
	return lines
}

// StripGenerated returns the user-authored part of a calendar description:
// everything before the generated block, without embedded identifier lines.
func StripGenerated(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if idx := strings.Index(text, generatedMarker); idx >= 0 {
		text = text[:idx]
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), identifierPrefix) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), " \t\n")
}
