package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	inserted []Event
	nextID   int64
	fail     error
}

func (m *memStore) InsertEvent(_ context.Context, e Event) (Event, error) {
	if m.fail != nil {
		return Event{}, m.fail
	}
	m.nextID++
	e.ID = m.nextID
	e.OccurredAt = time.Now()
	m.inserted = append(m.inserted, e)
	return e, nil
}

type memNotifier struct {
	seen []Event
	fail error
}

func (m *memNotifier) Notify(_ context.Context, e Event) error {
	m.seen = append(m.seen, e)
	return m.fail
}

func TestEmitPersistsAndNotifies(t *testing.T) {
	store := &memStore{}
	notifier := &memNotifier{}
	bus := &Bus{Store: store, Notifiers: []Notifier{notifier}}

	id := uuid.New()
	ev, err := bus.Emit(context.Background(), TopicOrderCompleted, id, map[string]any{"number": "n-1"})
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID == 0 || ev.Topic != TopicOrderCompleted {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(store.inserted) != 1 || len(notifier.seen) != 1 {
		t.Fatal("event must be persisted and fanned out once")
	}
}

func TestEmitValidation(t *testing.T) {
	bus := &Bus{Store: &memStore{}}
	if _, err := bus.Emit(context.Background(), "", uuid.New(), nil); err == nil {
		t.Fatal("empty topic must be rejected")
	}
	if _, err := bus.Emit(context.Background(), TopicOrderPaid, uuid.Nil, nil); err == nil {
		t.Fatal("nil aggregate id must be rejected")
	}
	if _, err := bus.Emit(context.Background(), TopicOrderPaid, uuid.New(), "not json"); err == nil {
		t.Fatal("invalid json payload must be rejected")
	}
}

func TestEmitNotifierFailureDoesNotBlock(t *testing.T) {
	store := &memStore{}
	failing := &memNotifier{fail: errors.New("smtp down")}
	second := &memNotifier{}
	bus := &Bus{Store: store, Notifiers: []Notifier{failing, second}}

	_, err := bus.Emit(context.Background(), TopicOrderPaid, uuid.New(), nil)
	if err == nil {
		t.Fatal("notifier failure must surface")
	}
	if len(second.seen) != 1 {
		t.Fatal("later notifiers still run after a failure")
	}
	if len(store.inserted) != 1 {
		t.Fatal("the event itself is still persisted")
	}
}
