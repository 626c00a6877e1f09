package session

// SaveStatus is surfaced to the presentation layer after save activity.
type SaveStatus int

const (
	StatusSaved SaveStatus = iota
	StatusSaveFailed
)

// View receives the outbound events the presentation layer renders.
// Callbacks run on internal goroutines and must not call back into the
// Controller synchronously.
type View interface {
	// ContentReplaced fires when the document was replaced wholesale:
	// note opened, remote delta applied, buffer cleared, conflict
	// resolved.
	ContentReplaced(content string)

	// PresenceChanged fires when the viewer list for the open note
	// changed. Viewers are in insertion order.
	PresenceChanged(viewers []string)

	// SaveStatusChanged fires after a local save attempt or a peer's
	// save announcement. savedBy is the display label of the saver.
	SaveStatusChanged(status SaveStatus, savedBy string)

	// TypingIndicator reports that author is currently editing, or
	// clears the indicator when active is false.
	TypingIndicator(author string, active bool)
}

// NopView is a View that ignores everything. Embed it to implement only
// the callbacks of interest.
type NopView struct{}

func (NopView) ContentReplaced(string)              {}
func (NopView) PresenceChanged([]string)            {}
func (NopView) SaveStatusChanged(SaveStatus, string) {}
func (NopView) TypingIndicator(string, bool)        {}
