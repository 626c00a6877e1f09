// Package event defines the wire vocabulary exchanged on a notes channel.
package event

import "encoding/json"

type Kind string

const (
	Join        Kind = "join"
	Leave       Kind = "leave"
	Ping        Kind = "ping"
	Pong        Kind = "pong"
	Change      Kind = "change"
	ClearBuffer Kind = "clear_buffer"
	Save        Kind = "save"
	Disconnect  Kind = "disconnect"
)

// Event is one message on a notes channel. Not every field is set for every
// kind; see the table in the package docs for which payloads carry what.
//
//	join         NoteID (optional)
//	leave        UserID, NoteID
//	ping         Channel, NoteID
//	pong         Channel, NoteID, To (addressed reply, not a broadcast)
//	change       Channel, NoteID, Delta, UserID as attribution
//	clear_buffer Channel, NoteID
//	save         Channel, NoteID, SavedBy
//	disconnect   UserID
type Event struct {
	Kind    Kind            `json:"event"`
	Channel string          `json:"channel,omitempty"`
	NoteID  string          `json:"noteId,omitempty"`
	UserID  string          `json:"userId,omitempty"`
	To      string          `json:"to,omitempty"`
	Delta   json.RawMessage `json:"delta,omitempty"`
	SavedBy string          `json:"savedBy,omitempty"`

	// Origin is the peer id of the publisher. Brokers that echo messages
	// back to every subscriber (Redis pub/sub) use it to drop self-sends.
	Origin string `json:"origin,omitempty"`
}

func Marshal(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func Unmarshal(b []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(b, &ev)
	return ev, err
}
