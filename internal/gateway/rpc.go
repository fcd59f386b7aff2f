package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Named procedures exposed by the backend. Each encapsulates multi-table
// transactional logic server-side and is opaque to this client.
const (
	ProcGetUserRooms         = "get_user_rooms"
	ProcJoinRoom             = "join_room"
	ProcLeaveRoom            = "leave_room"
	ProcSwitchRoom           = "switch_room"
	ProcCreateRoom           = "create_room"
	ProcSendMessage          = "send_message"
	ProcTransferOwnership    = "transfer_room_ownership"
	ProcAcceptJoinRequest    = "accept_join_request"
	ProcRejectJoinRequest    = "reject_join_request"
	ProcGetNotifications     = "get_notifications"
	ProcGetNotification      = "get_notification"
	ProcMarkNotificationRead = "mark_notification_read"
	ProcDeleteNotification   = "delete_notification"
)

// RPCError is a non-2xx response from the backend RPC surface.
type RPCError struct {
	Status  int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc failed with status %d: %s", e.Status, e.Message)
}

// IsOwnershipConflict reports whether the backend refused a leave because the
// caller still owns the room.
func (e *RPCError) IsOwnershipConflict() bool {
	return e.Status == http.StatusConflict && strings.Contains(strings.ToLower(e.Message), "ownership")
}

// RPCClient invokes named procedures over HTTP POST {base}/rpc/{procedure}.
type RPCClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
}

// RPCConfig configures the RPC client.
type RPCConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewRPCClient constructs an RPC client for the backend service.
func NewRPCClient(cfg RPCConfig, logger zerolog.Logger) (*RPCClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &RPCClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "rpc_client").Logger(),
	}, nil
}

type rpcEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Invoke executes a named procedure. args is marshalled as the request body;
// when out is non-nil the response data payload is unmarshalled into it.
func (c *RPCClient) Invoke(ctx context.Context, procedure string, args any, out any) error {
	if procedure == "" {
		return fmt.Errorf("procedure name is required")
	}

	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal rpc args: %w", err)
	}

	url := fmt.Sprintf("%s/rpc/%s", c.baseURL, procedure)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", procedure, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("rpc %s: failed to read response: %w", procedure, err)
	}

	c.logger.Debug().
		Str("procedure", procedure).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("rpc completed")

	var envelope rpcEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		if resp.StatusCode >= 300 {
			return &RPCError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("rpc %s: invalid response: %w", procedure, err)
	}

	if resp.StatusCode >= 300 || !envelope.Success {
		message := envelope.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &RPCError{Status: resp.StatusCode, Message: message}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("rpc %s: failed to decode data: %w", procedure, err)
		}
	}

	return nil
}
