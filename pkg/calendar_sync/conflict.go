package calendar_sync

import "time"

type Winner int

const (
	LedgerWins Winner = iota
	ExternalWins
)

func (w Winner) String() string {
	if w == ExternalWins {
		return "external"
	}
	return "ledger"
}

// Resolution is the outcome of comparing a record's sync watermark with the
// calendar's modification time.
type Resolution struct {
	Winner Winner
	// Watermark is the LastSyncedAt the record should hold afterwards. It only
	// moves when the calendar wins.
	Watermark time.Time
}

// Resolve applies last-write-wins. An unset lastSyncedAt counts as the epoch,
// so any calendar copy with a modification time wins over it; equal
// timestamps keep the ledger values.
func Resolve(lastSyncedAt, lastModified time.Time) Resolution {
	if lastModified.After(lastSyncedAt) {
		return Resolution{Winner: ExternalWins, Watermark: lastModified}
	}
	return Resolution{Winner: LedgerWins, Watermark: lastSyncedAt}
}
