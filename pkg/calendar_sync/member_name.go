package calendar_sync

import (
	"strings"

	"github.com/shotasten/union-board/pkg/ledger"
)

const unknownMember = "unknown member"

// NameStrategy resolves a display name for a user key. It reports false when
// it has no opinion so the next strategy can try.
type NameStrategy func(userKey string, directory map[string]ledger.Member) (string, bool)

// NameResolver tries its strategies in order.
type NameResolver []NameStrategy

func DefaultNameResolver() NameResolver {
	return NameResolver{byDirectory, byKeyPattern, fallbackUnknown}
}

func (r NameResolver) Resolve(userKey string, directory map[string]ledger.Member) string {
	for _, strategy := range r {
		if name, ok := strategy(userKey, directory); ok {
			return name
		}
	}
	return unknownMember
}

// byDirectory prefers the member's display name, then their registered name.
func byDirectory(userKey string, directory map[string]ledger.Member) (string, bool) {
	member, ok := directory[userKey]
	if !ok {
		return "", false
	}
	if name := strings.TrimSpace(member.DisplayName); name != "" {
		return name, true
	}
	if name := strings.TrimSpace(member.Name); name != "" {
		return name, true
	}
	return "", false
}

// nameKeyPrefixes mark user keys that embed a human-readable name.
var nameKeyPrefixes = []string{"guest:", "name:"}

// byKeyPattern derives a name from keys such as "guest:Yamada" or an email
// address. Opaque account ids are left to the next strategy.
func byKeyPattern(userKey string, _ map[string]ledger.Member) (string, bool) {
	key := strings.TrimSpace(userKey)
	for _, prefix := range nameKeyPrefixes {
		if name, found := strings.CutPrefix(key, prefix); found && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name), true
		}
	}
	if local, domain, found := strings.Cut(key, "@"); found && local != "" && strings.Contains(domain, ".") {
		return local, true
	}
	return "", false
}

func fallbackUnknown(string, map[string]ledger.Member) (string, bool) {
	return unknownMember, true
}
