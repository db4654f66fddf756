package amqp

import (
	"encoding/json"
	"time"
)

// Event kinds carried on the mirror queue.
const (
	KindDuesPayment = "dues_payment"
	KindExpense     = "expense"
	KindRestore     = "restore"
)

// MirrorMessage is a lightweight change notification. It carries only
// the record kind and id; the worker fetches the full record from the
// store before mirroring it.
type MirrorMessage struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMirrorMessage(kind, id string) *MirrorMessage {
	return &MirrorMessage{
		Kind:      kind,
		ID:        id,
		Timestamp: time.Now(),
	}
}

func (m *MirrorMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MirrorMessageFromJSON(data []byte) (*MirrorMessage, error) {
	var msg MirrorMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
