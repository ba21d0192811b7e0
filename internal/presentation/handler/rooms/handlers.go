package rooms

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/hilthontt/pokersync/internal/domain"
	"github.com/hilthontt/pokersync/internal/infrastructure/events"
	"github.com/hilthontt/pokersync/internal/infrastructure/json"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/hilthontt/pokersync/internal/infrastructure/ws"
	"github.com/hilthontt/pokersync/internal/presentation/utils"
)

const createAttempts = 5

type Handler struct {
	store       domain.RoomRepository
	hub         ws.Handler
	events      events.RoomEvents
	logger      logging.Logger
	upgrader    websocket.Upgrader
	connOptions ws.ConnectionOptions
}

type Options struct {
	Events         events.RoomEvents
	Logger         logging.Logger
	AllowedOrigins []string
	Connection     ws.ConnectionOptions
}

func NewHandler(store domain.RoomRepository, hub ws.Handler, opts Options) *Handler {
	if opts.Events == nil {
		opts.Events = events.NewNopPublisher()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	return &Handler{
		store:  store,
		hub:    hub,
		events: opts.Events,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(opts.AllowedOrigins),
		},
		connOptions: opts.Connection,
	}
}

// CreateRoomHandler creates a room with a fresh code. Codes are short, so a
// collision is retried with a new one.
func (h *Handler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	created, err := h.createRoom(r.Context(), req.Options)
	if err != nil {
		if !errors.Is(err, domain.ErrValidationFailed) {
			h.logger.Error(logging.Room, logging.Insert, "create room failed", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		json.WriteDomainError(w, err)
		return
	}

	if err := h.events.RoomCreated(r.Context(), created); err != nil {
		h.logger.Warn(logging.RabbitMQ, logging.Publish, "publish room created", map[logging.ExtraKey]any{
			logging.RoomCode:     created.RoomCode,
			logging.ErrorMessage: err.Error(),
		})
	}

	h.logger.Info(logging.Room, logging.Insert, "room created", map[logging.ExtraKey]any{
		logging.RoomCode: created.RoomCode,
	})

	json.Write(w, http.StatusCreated, createRoomResponse{
		RoomID:    created.ID,
		RoomCode:  created.RoomCode,
		Options:   created.Options,
		CreatedAt: created.CreatedAt,
	})
}

func (h *Handler) createRoom(ctx context.Context, options []string) (*domain.Room, error) {
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		room, err := domain.NewRoom(options)
		if err != nil {
			return nil, err
		}

		created, err := h.store.Create(ctx, room)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, domain.ErrDuplicateRoomCode) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (h *Handler) CheckRoomExistsHandler(w http.ResponseWriter, r *http.Request) {
	code, err := domain.NormalizeRoomCode(chi.URLParam(r, "roomCode"))
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}

	_, err = h.store.Lookup(r.Context(), code)
	switch {
	case err == nil:
		json.Write(w, http.StatusOK, roomExistsResponse{RoomExists: true})
	case errors.Is(err, domain.ErrRoomNotFound):
		json.Write(w, http.StatusOK, roomExistsResponse{RoomExists: false})
	default:
		json.WriteDomainError(w, err)
	}
}

func (h *Handler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	code, err := domain.NormalizeRoomCode(chi.URLParam(r, "roomCode"))
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}

	room, err := h.store.Lookup(r.Context(), code)
	if err != nil {
		json.WriteDomainError(w, err)
		return
	}

	json.Write(w, http.StatusOK, newRoomResponse(room))
}

// ServeWS upgrades the request and serves the connection until it closes.
// Whether the room exists is only answered after the client sends Join.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code, err := domain.NormalizeRoomCode(chi.URLParam(r, "roomCode"))
	if err != nil {
		json.WriteValidationError(w, err)
		return
	}

	participantID, resumed := utils.ParticipantID(r)

	conn, err := h.upgrader.Upgrade(w, r, utils.ParticipantHeader(participantID))
	if err != nil {
		h.logger.Warn(logging.WebSocket, logging.Connect, "upgrade failed", map[logging.ExtraKey]any{
			logging.RoomCode:     code,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	c := ws.NewConnection(conn, code, participantID, h.hub, h.connOptions)
	h.logger.Debug(logging.WebSocket, logging.Connect, "connection opened", map[logging.ExtraKey]any{
		logging.RoomCode:     code,
		logging.Participant:  participantID,
		logging.ConnectionID: c.ID(),
		"resumed":            resumed,
	})

	c.Serve(context.WithoutCancel(r.Context()))
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
