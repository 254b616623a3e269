package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names what happened to a transaction.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	}
	return false
}

// RoutingKey is the key events of this type are published under.
func (t EventType) RoutingKey() string {
	return "transaction." + string(t)
}

// TransactionEvent is a lightweight notice that a transaction changed.
// Consumers load the transaction itself from the database; Version lets them
// discard notices older than what they already applied.
type TransactionEvent struct {
	Type      EventType `json:"type"`
	ID        uuid.UUID `json:"id"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTransactionEvent(t EventType, id uuid.UUID, version int64) *TransactionEvent {
	return &TransactionEvent{
		Type:      t,
		ID:        id,
		Version:   version,
		Timestamp: time.Now().UTC(),
	}
}

func (m *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

var errMalformedEvent = errors.New("malformed transaction event")

// TransactionEventFromJSON decodes and checks an event body.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var msg TransactionEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", errMalformedEvent, msg.Type)
	}
	if msg.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing id", errMalformedEvent)
	}
	return &msg, nil
}
