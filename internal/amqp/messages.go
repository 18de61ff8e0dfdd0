package amqp

import (
	"encoding/json"
	"time"
)

// EntrySyncMessage is a lightweight message for pushing an entry to the
// remote ledger. It carries only the ID and version; the worker fetches
// the full entry from the database.
type EntrySyncMessage struct {
	ID        int64     `json:"id"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntrySyncMessage creates a new sync message with just ID and version
func NewEntrySyncMessage(id, version int64) *EntrySyncMessage {
	return &EntrySyncMessage{
		ID:        id,
		Version:   version,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *EntrySyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EntrySyncMessageFromJSON creates a message from JSON bytes
func EntrySyncMessageFromJSON(data []byte) (*EntrySyncMessage, error) {
	var msg EntrySyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EntryDeleteMessage asks the worker to remove an already-synced entry
// from the remote ledger. RemoteRef is the remote record reference.
type EntryDeleteMessage struct {
	ID        int64     `json:"id"`
	RemoteRef string    `json:"remote_ref"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEntryDeleteMessage(id int64, remoteRef string) *EntryDeleteMessage {
	return &EntryDeleteMessage{
		ID:        id,
		RemoteRef: remoteRef,
		Timestamp: time.Now(),
	}
}

func (m *EntryDeleteMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func EntryDeleteMessageFromJSON(data []byte) (*EntryDeleteMessage, error) {
	var msg EntryDeleteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
