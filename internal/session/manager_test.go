package session_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/session"
)

func newManager(t *testing.T, gw *fakeGateway) *session.Manager {
	t.Helper()
	manager := session.NewManager(gw, testOptions(), zerolog.Nop())
	t.Cleanup(manager.Close)
	return manager
}

func TestManagerReturnsOneEnginePerUser(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	manager := newManager(t, gw)

	first, err := manager.Get(context.Background(), "user-1")
	require.NoError(t, err)
	second, err := manager.Get(context.Background(), "user-1")
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, gw.invoked(gateway.ProcGetUserRooms))
	require.Equal(t, 1, manager.Count())
}

func TestManagerDoesNotCacheFailedStart(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		if failing.Load() && procedure == gateway.ProcGetUserRooms {
			return errors.New("backend unavailable")
		}
		return sessionFixtures(procedure, out)
	})
	manager := newManager(t, gw)

	_, err := manager.Get(context.Background(), "user-1")
	require.Error(t, err)
	require.Zero(t, manager.Count())

	failing.Store(false)
	engine, err := manager.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", engine.UserID())
	require.Equal(t, 1, manager.Count())
}

func TestManagerPeekNeverStarts(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	manager := newManager(t, gw)

	_, exists := manager.Peek("user-1")
	require.False(t, exists)
	require.Zero(t, gw.invoked(gateway.ProcGetUserRooms))

	_, err := manager.Get(context.Background(), "user-1")
	require.NoError(t, err)

	engine, exists := manager.Peek("user-1")
	require.True(t, exists)
	require.Equal(t, "user-1", engine.UserID())
}

func TestManagerReleaseClosesEngine(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	manager := newManager(t, gw)

	engine, err := manager.Get(context.Background(), "user-1")
	require.NoError(t, err)
	events, _ := engine.Subscribe(8)

	manager.Release("user-1")

	_, open := <-events
	require.False(t, open)
	require.Zero(t, manager.Count())
	require.True(t, gw.presenceChannel("room-general").isClosed())

	manager.Release("user-1")
}

func TestManagerCloseTearsDownEverySession(t *testing.T) {
	gw := newFakeGateway(func(procedure string, _ any, out any) error {
		return sessionFixtures(procedure, out)
	})
	manager := newManager(t, gw)

	_, err := manager.Get(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = manager.Get(context.Background(), "user-2")
	require.NoError(t, err)
	require.Equal(t, 2, manager.Count())

	manager.Close()
	require.Zero(t, manager.Count())
	require.Empty(t, gw.subscriptionKeys())
}
