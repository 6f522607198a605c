package event_bus

const (
	EventCreated EventType = "ledger.event.created"
	EventUpdated EventType = "ledger.event.updated"
	EventDeleted EventType = "ledger.event.deleted"
)

// LedgerEventChanged is published after a ledger write that did not opt out of
// external synchronization.
type LedgerEventChanged struct {
	EventId string
	// Fields lists the patched column names; empty for creations.
	Fields []string
}

// LedgerEventDeleted carries the external reference the soft-deleted record held
// at deletion time, so subscribers can remove the calendar copy.
type LedgerEventDeleted struct {
	EventId     string
	ExternalRef string
}
