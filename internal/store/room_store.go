package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/dto"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/gateway"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/models"
	"github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/observability"
)

const (
	maxRoomNameLength = 100
	defaultRoomName   = "General Chat"
)

// ErrInvalidRoomName rejects empty or oversized room names before any
// network call is made.
var ErrInvalidRoomName = errors.New("room name must be non-empty and at most 100 characters")

// ErrRoomNotFound reports a local lookup miss.
var ErrRoomNotFound = errors.New("room not found")

// ErrOwnershipTransferRequired is surfaced when the backend refuses a leave
// because the caller still owns the room and other members remain.
var ErrOwnershipTransferRequired = errors.New("room ownership must be transferred before leaving")

// RoomStore is the session's authoritative in-memory room cache. All
// mutation funnels through the operations below; UI components read through
// the selectors. Optimistic mutations are applied before the remote call and
// rolled back (join) or resynchronized (leave) on failure.
type RoomStore struct {
	userID    string
	invoker   gateway.Invoker
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu             sync.RWMutex
	rooms          []models.Room
	index          map[string]int
	selectedRoomID string
	fetchFailed    bool

	onChange func()
}

// NewRoomStore constructs the room store for one session user.
func NewRoomStore(userID string, invoker gateway.Invoker, logger zerolog.Logger) *RoomStore {
	return &RoomStore{
		userID:    userID,
		invoker:   invoker,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "room_store").Logger(),
		tracer:    otel.Tracer("github.com/JAGADEESHWARAN20/Chat-APP-sub000/internal/store/rooms"),
		index:     make(map[string]int),
	}
}

// SetOnChange registers a callback invoked after every state mutation, with
// no locks held. Used by the view-binding layer to push updates.
func (s *RoomStore) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *RoomStore) notifyChange() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

type fetchRoomsArgs struct {
	UserID string `json:"user_id"`
}

// FetchRooms replaces the room list with the backend's authoritative view.
// Idempotent and safe to call repeatedly. An existing selection is never
// clobbered; with no selection the room named "General Chat" is selected if
// present, else the first result. On failure the previous state is left
// untouched and an error flag is raised.
func (s *RoomStore) FetchRooms(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "rooms.fetch", trace.WithAttributes(
		attribute.String("user_id", s.userID),
	))
	defer span.End()

	var fetched []models.Room
	if err := s.invoker.Invoke(ctx, gateway.ProcGetUserRooms, fetchRoomsArgs{UserID: s.userID}, &fetched); err != nil {
		span.RecordError(err)
		s.mu.Lock()
		s.fetchFailed = true
		s.mu.Unlock()
		return fmt.Errorf("failed to fetch rooms: %w", err)
	}

	s.mu.Lock()
	s.rooms = fetched
	s.rebuildIndexLocked()
	s.fetchFailed = false

	if s.selectedRoomID != "" {
		if _, stillThere := s.index[s.selectedRoomID]; !stillThere {
			s.selectedRoomID = ""
		}
	}
	if s.selectedRoomID == "" && len(s.rooms) > 0 {
		s.selectedRoomID = s.rooms[0].ID
		for _, room := range s.rooms {
			if room.Name == defaultRoomName {
				s.selectedRoomID = room.ID
				break
			}
		}
		s.resetUnreadLocked(s.selectedRoomID)
	}
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

type createRoomArgs struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
}

// CreateRoom validates the name, inserts the room remotely and appends it
// locally with the caller as its sole accepted member. The new room becomes
// the selection. Failure applies no local mutation.
func (s *RoomStore) CreateRoom(ctx context.Context, name string, isPrivate bool) (models.Room, error) {
	name = strings.TrimSpace(s.sanitizer.Sanitize(name))
	if name == "" || len(name) > maxRoomNameLength {
		return models.Room{}, ErrInvalidRoomName
	}

	ctx, span := s.tracer.Start(ctx, "rooms.create", trace.WithAttributes(
		attribute.String("user_id", s.userID),
		attribute.Bool("is_private", isPrivate),
	))
	defer span.End()

	var created models.Room
	args := createRoomArgs{UserID: s.userID, Name: name, IsPrivate: isPrivate}
	if err := s.invoker.Invoke(ctx, gateway.ProcCreateRoom, args, &created); err != nil {
		span.RecordError(err)
		return models.Room{}, fmt.Errorf("failed to create room: %w", err)
	}

	created.IsMember = true
	created.ParticipationStatus = models.ParticipationAccepted
	if created.MemberCount == 0 {
		created.MemberCount = 1
	}

	s.mu.Lock()
	s.rooms = append([]models.Room{created}, s.rooms...)
	s.rebuildIndexLocked()
	s.selectedRoomID = created.ID
	s.mu.Unlock()

	s.notifyChange()
	return created, nil
}

type roomUserArgs struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// JoinRoom optimistically marks the room joined (or pending, when private)
// before the remote call. On failure the participation fields roll back to
// their exact prior values, so an idempotent retry of a pending request
// stays pending.
func (s *RoomStore) JoinRoom(ctx context.Context, roomID string) (dto.JoinRoomResponse, error) {
	s.mu.Lock()
	pos, ok := s.index[roomID]
	if !ok {
		s.mu.Unlock()
		return dto.JoinRoomResponse{}, ErrRoomNotFound
	}

	prevMember := s.rooms[pos].IsMember
	prevStatus := s.rooms[pos].ParticipationStatus
	isPrivate := s.rooms[pos].IsPrivate

	if isPrivate {
		s.rooms[pos].ParticipationStatus = models.ParticipationPending
		s.rooms[pos].IsMember = false
	} else {
		s.rooms[pos].ParticipationStatus = models.ParticipationAccepted
		s.rooms[pos].IsMember = true
	}
	s.mu.Unlock()
	s.notifyChange()

	ctx, span := s.tracer.Start(ctx, "rooms.join", trace.WithAttributes(
		attribute.String("room_id", roomID),
		attribute.Bool("is_private", isPrivate),
	))
	defer span.End()

	var resp dto.JoinRoomResponse
	err := s.invoker.Invoke(ctx, gateway.ProcJoinRoom, roomUserArgs{RoomID: roomID, UserID: s.userID}, &resp)
	if err != nil {
		span.RecordError(err)
		observability.OptimisticRollbacks().WithLabelValues("join").Inc()

		s.mu.Lock()
		if pos, ok := s.index[roomID]; ok {
			s.rooms[pos].IsMember = prevMember
			s.rooms[pos].ParticipationStatus = prevStatus
		}
		s.mu.Unlock()
		s.notifyChange()

		return dto.JoinRoomResponse{}, fmt.Errorf("failed to join room: %w", err)
	}

	return resp, nil
}

// LeaveRoom optimistically clears membership, then invokes the backend.
// Failure triggers a full resync rather than a field rollback: leaving can
// cascade server-side (room deletion when the caller was the last member),
// so the true state cannot be guessed locally. An ownership conflict is
// surfaced as ErrOwnershipTransferRequired.
func (s *RoomStore) LeaveRoom(ctx context.Context) (dto.LeaveRoomResponse, error) {
	return s.leave(ctx, "")
}

// LeaveRoomByID is LeaveRoom targeting an explicit room.
func (s *RoomStore) LeaveRoomByID(ctx context.Context, roomID string) (dto.LeaveRoomResponse, error) {
	return s.leave(ctx, roomID)
}

func (s *RoomStore) leave(ctx context.Context, roomID string) (dto.LeaveRoomResponse, error) {
	s.mu.Lock()
	if roomID == "" {
		roomID = s.selectedRoomID
	}
	pos, ok := s.index[roomID]
	if !ok {
		s.mu.Unlock()
		return dto.LeaveRoomResponse{}, ErrRoomNotFound
	}

	s.rooms[pos].IsMember = false
	s.rooms[pos].ParticipationStatus = models.ParticipationNone
	s.mu.Unlock()
	s.notifyChange()

	ctx, span := s.tracer.Start(ctx, "rooms.leave", trace.WithAttributes(
		attribute.String("room_id", roomID),
	))
	defer span.End()

	var resp dto.LeaveRoomResponse
	err := s.invoker.Invoke(ctx, gateway.ProcLeaveRoom, roomUserArgs{RoomID: roomID, UserID: s.userID}, &resp)
	if err != nil {
		span.RecordError(err)
		observability.OptimisticRollbacks().WithLabelValues("leave").Inc()

		if fetchErr := s.FetchRooms(ctx); fetchErr != nil {
			s.logger.Warn().Err(fetchErr).Str("room_id", roomID).Msg("resync after failed leave also failed")
		}

		var rpcErr *gateway.RPCError
		if errors.As(err, &rpcErr) && rpcErr.IsOwnershipConflict() {
			return dto.LeaveRoomResponse{}, ErrOwnershipTransferRequired
		}
		return dto.LeaveRoomResponse{}, fmt.Errorf("failed to leave room: %w", err)
	}

	s.mu.Lock()
	if resp.RoomLeft {
		s.removeRoomLocked(roomID)
	}
	if s.selectedRoomID == roomID {
		s.selectedRoomID = resp.DefaultRoom
		if s.selectedRoomID != "" {
			s.resetUnreadLocked(s.selectedRoomID)
		}
	}
	s.mu.Unlock()
	s.notifyChange()

	return resp, nil
}

// SwitchRoom joins the target room and leaves the previously selected one in
// a single backend procedure. Optimistic semantics follow JoinRoom.
func (s *RoomStore) SwitchRoom(ctx context.Context, roomID string) (dto.SwitchRoomResponse, error) {
	s.mu.Lock()
	pos, ok := s.index[roomID]
	if !ok {
		s.mu.Unlock()
		return dto.SwitchRoomResponse{}, ErrRoomNotFound
	}

	prevMember := s.rooms[pos].IsMember
	prevStatus := s.rooms[pos].ParticipationStatus
	isPrivate := s.rooms[pos].IsPrivate

	if isPrivate {
		s.rooms[pos].ParticipationStatus = models.ParticipationPending
	} else {
		s.rooms[pos].ParticipationStatus = models.ParticipationAccepted
		s.rooms[pos].IsMember = true
	}
	s.mu.Unlock()
	s.notifyChange()

	ctx, span := s.tracer.Start(ctx, "rooms.switch", trace.WithAttributes(
		attribute.String("room_id", roomID),
	))
	defer span.End()

	var resp dto.SwitchRoomResponse
	err := s.invoker.Invoke(ctx, gateway.ProcSwitchRoom, roomUserArgs{RoomID: roomID, UserID: s.userID}, &resp)
	if err != nil {
		span.RecordError(err)
		observability.OptimisticRollbacks().WithLabelValues("switch").Inc()

		s.mu.Lock()
		if pos, ok := s.index[roomID]; ok {
			s.rooms[pos].IsMember = prevMember
			s.rooms[pos].ParticipationStatus = prevStatus
		}
		s.mu.Unlock()
		s.notifyChange()

		return dto.SwitchRoomResponse{}, fmt.Errorf("failed to switch room: %w", err)
	}

	if resp.Status == string(models.ParticipationAccepted) {
		s.SelectRoom(roomID)
	}

	return resp, nil
}

type transferArgs struct {
	RoomID     string `json:"room_id"`
	UserID     string `json:"user_id"`
	NewOwnerID string `json:"new_owner_id"`
}

// TransferOwnership hands the room to another member, unblocking a later
// leave by the current owner.
func (s *RoomStore) TransferOwnership(ctx context.Context, roomID, newOwnerID string) error {
	if newOwnerID == "" {
		return errors.New("new owner id is required")
	}

	ctx, span := s.tracer.Start(ctx, "rooms.transfer_ownership", trace.WithAttributes(
		attribute.String("room_id", roomID),
	))
	defer span.End()

	args := transferArgs{RoomID: roomID, UserID: s.userID, NewOwnerID: newOwnerID}
	if err := s.invoker.Invoke(ctx, gateway.ProcTransferOwnership, args, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to transfer ownership: %w", err)
	}

	s.mu.Lock()
	if pos, ok := s.index[roomID]; ok {
		s.rooms[pos].CreatedBy = newOwnerID
	}
	s.mu.Unlock()
	s.notifyChange()

	return nil
}

// UpdateRoom applies a partial local mutation. Used by the reconciliation
// layer; never calls the network.
func (s *RoomStore) UpdateRoom(roomID string, patch models.RoomPatch) {
	s.mu.Lock()
	pos, ok := s.index[roomID]
	if ok {
		patch.Apply(&s.rooms[pos])
	}
	s.mu.Unlock()

	if ok {
		s.notifyChange()
	}
}

// RemoveRoom drops a room locally. Never calls the network.
func (s *RoomStore) RemoveRoom(roomID string) {
	s.mu.Lock()
	s.removeRoomLocked(roomID)
	if s.selectedRoomID == roomID {
		s.selectedRoomID = ""
	}
	s.mu.Unlock()
	s.notifyChange()
}

// SelectRoom marks a room as the active one and zeroes its unread count.
func (s *RoomStore) SelectRoom(roomID string) {
	s.mu.Lock()
	if _, ok := s.index[roomID]; !ok {
		s.mu.Unlock()
		return
	}
	s.selectedRoomID = roomID
	s.resetUnreadLocked(roomID)
	s.mu.Unlock()
	s.notifyChange()
}

// AdjustMemberCount shifts a room's member count by delta, floored at zero.
func (s *RoomStore) AdjustMemberCount(roomID string, delta int) {
	s.mu.Lock()
	if pos, ok := s.index[roomID]; ok {
		s.rooms[pos].MemberCount += delta
		if s.rooms[pos].MemberCount < 0 {
			s.rooms[pos].MemberCount = 0
		}
	}
	s.mu.Unlock()
	s.notifyChange()
}

// RecordMessage folds an incoming message into the room's latest-message
// fields. The unread count grows only when the room is not selected.
func (s *RoomStore) RecordMessage(roomID, preview string, at time.Time) {
	preview = strings.TrimSpace(s.sanitizer.Sanitize(preview))

	s.mu.Lock()
	if pos, ok := s.index[roomID]; ok {
		s.rooms[pos].LatestMessageText = preview
		stamp := at
		s.rooms[pos].LatestMessageAt = &stamp
		if s.selectedRoomID != roomID {
			s.rooms[pos].UnreadCount++
		}
	}
	s.mu.Unlock()
	s.notifyChange()
}

// BumpUnread increments a room's unread count unless it is selected.
func (s *RoomStore) BumpUnread(roomID string) {
	s.mu.Lock()
	if pos, ok := s.index[roomID]; ok && s.selectedRoomID != roomID {
		s.rooms[pos].UnreadCount++
	}
	s.mu.Unlock()
	s.notifyChange()
}

// Rooms returns a copy of the current room list.
func (s *RoomStore) Rooms() []models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Room, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// Room returns one room by id.
func (s *RoomStore) Room(roomID string) (models.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[roomID]
	if !ok {
		return models.Room{}, false
	}
	return s.rooms[pos], true
}

// SelectedRoomID returns the active room id, or empty.
func (s *RoomStore) SelectedRoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedRoomID
}

// JoinedRoomIDs lists the rooms the user is an accepted member of. The
// presence follower derives its subscription set from this.
func (s *RoomStore) JoinedRoomIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for _, room := range s.rooms {
		if room.IsMember {
			out = append(out, room.ID)
		}
	}
	return out
}

// FetchFailed reports whether the last FetchRooms attempt errored.
func (s *RoomStore) FetchFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchFailed
}

func (s *RoomStore) rebuildIndexLocked() {
	s.index = make(map[string]int, len(s.rooms))
	for i, room := range s.rooms {
		s.index[room.ID] = i
	}
}

func (s *RoomStore) removeRoomLocked(roomID string) {
	pos, ok := s.index[roomID]
	if !ok {
		return
	}
	s.rooms = append(s.rooms[:pos], s.rooms[pos+1:]...)
	s.rebuildIndexLocked()
}

func (s *RoomStore) resetUnreadLocked(roomID string) {
	if pos, ok := s.index[roomID]; ok {
		s.rooms[pos].UnreadCount = 0
	}
}
