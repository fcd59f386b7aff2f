package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
)

func newRPCClient(t *testing.T, handler http.HandlerFunc) *gateway.RPCClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gateway.NewRPCClient(gateway.RPCConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestInvokePostsArgsAndDecodesData(t *testing.T) {
	client := newRPCClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/rpc/get_user_rooms", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var args map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		require.Equal(t, "user-1", args["user_id"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    []map[string]string{{"id": "room-1", "name": "General Chat"}},
		})
	})

	var rooms []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	err := client.Invoke(context.Background(), gateway.ProcGetUserRooms, map[string]string{"user_id": "user-1"}, &rooms)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, "room-1", rooms[0].ID)
}

func TestInvokeSurfacesBackendRefusal(t *testing.T) {
	client := newRPCClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "room ownership must be transferred first",
		})
	})

	err := client.Invoke(context.Background(), gateway.ProcLeaveRoom, map[string]string{"room_id": "room-1"}, nil)
	require.Error(t, err)

	var rpcErr *gateway.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, http.StatusConflict, rpcErr.Status)
	require.True(t, rpcErr.IsOwnershipConflict())
}

func TestInvokeTreatsEnvelopeFailureAsError(t *testing.T) {
	client := newRPCClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "room not found",
		})
	})

	err := client.Invoke(context.Background(), gateway.ProcJoinRoom, nil, nil)

	var rpcErr *gateway.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, "room not found", rpcErr.Message)
	require.False(t, rpcErr.IsOwnershipConflict())
}

func TestInvokeHandlesNonJSONErrorBody(t *testing.T) {
	client := newRPCClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	})

	err := client.Invoke(context.Background(), gateway.ProcGetNotifications, nil, nil)

	var rpcErr *gateway.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, http.StatusBadGateway, rpcErr.Status)
}

func TestInvokeRequiresProcedureName(t *testing.T) {
	client := newRPCClient(t, func(http.ResponseWriter, *http.Request) {})
	require.Error(t, client.Invoke(context.Background(), "", nil, nil))
}
