package connswitch

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNotifier_RaiseInOrder(t *testing.T) {
	n := NewNotifier()

	var order []string
	n.Subscribe(func(ctx context.Context, ev SwitchEvent) error {
		order = append(order, "first")
		return nil
	})
	n.Subscribe(func(ctx context.Context, ev SwitchEvent) error {
		order = append(order, "second")
		return nil
	})

	err := n.Raise(context.Background(), SwitchEvent{TenantID: uuid.New(), DBName: "tenant7"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestNotifier_FirstErrorAborts(t *testing.T) {
	n := NewNotifier()
	boom := errors.New("resolver unavailable")

	var secondRan bool
	n.Subscribe(func(ctx context.Context, ev SwitchEvent) error {
		return boom
	})
	n.Subscribe(func(ctx context.Context, ev SwitchEvent) error {
		secondRan = true
		return nil
	})

	err := n.Raise(context.Background(), SwitchEvent{DBName: "tenant7"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, secondRan)
}

func TestNotifier_NoSubscribers(t *testing.T) {
	n := NewNotifier()
	assert.NoError(t, n.Raise(context.Background(), SwitchEvent{DBName: "tenant7"}))
}

func TestNotifier_EventCarriesTenant(t *testing.T) {
	n := NewNotifier()
	id := uuid.New()

	var got SwitchEvent
	n.Subscribe(func(ctx context.Context, ev SwitchEvent) error {
		got = ev
		return nil
	})

	err := n.Raise(context.Background(), SwitchEvent{TenantID: id, DBName: "tenant7", DSN: "sqlsrv://sa@127.0.0.1:1433"})
	assert.NoError(t, err)
	assert.Equal(t, id, got.TenantID)
	assert.Equal(t, "tenant7", got.DBName)
	assert.Equal(t, "sqlsrv://sa@127.0.0.1:1433", got.DSN)
}
