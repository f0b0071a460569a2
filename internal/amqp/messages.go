package amqp

import (
	"encoding/json"
	"time"

	"ledger/internal/core"
)

// EntrySyncMessage announces a posted ledger entry. It carries only ids; the
// mirror worker loads the entry from the store.
type EntrySyncMessage struct {
	EntryID     string    `json:"entry_id"`
	TenantID    string    `json:"tenant_id"`
	RecurringID string    `json:"recurring_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewEntrySyncMessage(e core.LedgerEntry) *EntrySyncMessage {
	return &EntrySyncMessage{
		EntryID:     e.ID,
		TenantID:    e.TenantID,
		RecurringID: e.RecurringID,
		Timestamp:   time.Now(),
	}
}

func (m *EntrySyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func EntrySyncMessageFromJSON(data []byte) (*EntrySyncMessage, error) {
	var msg EntrySyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
