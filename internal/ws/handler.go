package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/series-draft/internal/auth"
	"github.com/DoyleJ11/series-draft/internal/engine"
	"github.com/DoyleJ11/series-draft/internal/hub"
	"github.com/DoyleJ11/series-draft/internal/lobby"
	"github.com/DoyleJ11/series-draft/internal/logging"
	"github.com/DoyleJ11/series-draft/internal/registry"
	"github.com/DoyleJ11/series-draft/internal/store"
	"github.com/DoyleJ11/series-draft/internal/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	helloTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
	writeTimeout  = 3 * time.Second
	submitTimeout = 5 * time.Second
)

// Error codes beyond the engine's.
const (
	CodeRetryable    = "Retryable"
	CodeUnauthorized = "Unauthorized"
	CodeBadRequest   = "BadRequest"
)

type Options struct {
	// Auth verifies account tokens; nil disables signed-in connections.
	Auth *auth.Authenticator
	// OriginPatterns are passed to websocket.Accept.
	OriginPatterns []string
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())

		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}

		lb, err := h.Lobby(r.Context(), sessionID)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Warnw("loading lobby failed", "session_id", sessionID, "error", err)
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx := r.Context()
		p, ok := hello(ctx, conn, lb, opts.Auth)
		if !ok {
			conn.Close(websocket.StatusPolicyViolation, "bad hello")
			return
		}
		logger = logger.With("session_id", sessionID, "participant_id", p.ID)

		out := make(chan lobby.Snapshot, 8)
		clientID := uuid.NewString()

		deliver(lb, lobby.Join{ClientID: clientID, Outbox: out})
		defer deliver(lb, lobby.Leave{ClientID: clientID})

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(ctx)
		defer writeCancel()
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for {
				select {
				case snap, ok := <-out:
					if !ok {
						// Dropped as too slow or the lobby stopped: the client
						// reconnects and receives a fresh snapshot.
						conn.Close(websocket.StatusTryAgainLater, "resync required")
						return
					}
					write(writeCtx, conn, types.ServerMessage{Type: types.MsgStateSnapshot, Version: snap.Version, Snapshot: &snap})
				case <-ticker.C:
					pingCtx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					err := conn.Ping(pingCtx)
					cancel()
					if err != nil {
						conn.Close(websocket.StatusGoingAway, "ping timeout")
						return
					}
				case <-writeCtx.Done():
					return
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					logger.Debugw("connection closed", "error", err)
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				write(ctx, conn, types.ServerMessage{Type: types.MsgError, Code: CodeBadRequest, Error: "bad json"})
				continue
			}

			if cm.Type == types.MsgResync {
				deliver(lb, lobby.Resync{ClientID: clientID, LastSeen: cm.LastSeenVersion})
				continue
			}

			cmd, ok := toEngineCommand(cm)
			if !ok {
				write(ctx, conn, types.ServerMessage{Type: types.MsgError, RequestID: cm.RequestID, Code: CodeBadRequest, Error: "unknown type"})
				continue
			}
			if p.ID == "" {
				write(ctx, conn, types.ServerMessage{Type: types.MsgError, RequestID: cm.RequestID, Code: CodeUnauthorized, Error: "spectators cannot act"})
				continue
			}
			cmd.Actor = p.Actor()

			submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
			err = lb.Submit(submitCtx, cmd)
			cancel()
			if err != nil {
				write(ctx, conn, types.ServerMessage{Type: types.MsgError, RequestID: cm.RequestID, Code: codeOf(err), Error: err.Error()})
				continue
			}
			write(ctx, conn, types.ServerMessage{Type: types.MsgAck, RequestID: cm.RequestID})
		}
	}
}

// hello reads the first frame and resolves who is connecting. Connections
// without credentials observe as spectators.
func hello(ctx context.Context, conn *websocket.Conn, lb *lobby.Lobby, a *auth.Authenticator) (registry.Participant, bool) {
	readCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	var cm types.ClientMessage
	if err := wsjson.Read(readCtx, conn, &cm); err != nil || cm.Type != types.MsgHello {
		return registry.Participant{}, false
	}

	var userID string
	if cm.Token != "" {
		if a == nil {
			write(ctx, conn, types.ServerMessage{Type: types.MsgError, Code: CodeUnauthorized, Error: "accounts disabled"})
			return registry.Participant{}, false
		}
		claims, err := a.Parse(cm.Token)
		if err != nil {
			write(ctx, conn, types.ServerMessage{Type: types.MsgError, Code: CodeUnauthorized, Error: "invalid token"})
			return registry.Participant{}, false
		}
		userID = claims.UserID
	}

	var p registry.Participant
	if cm.ParticipantID != "" || userID != "" {
		var err error
		p, err = lb.Authenticate(ctx, cm.ParticipantID, cm.Secret, userID)
		if err != nil && cm.ParticipantID != "" {
			write(ctx, conn, types.ServerMessage{Type: types.MsgError, Code: CodeUnauthorized, Error: err.Error()})
			return registry.Participant{}, false
		}
	}

	role := string(registry.RoleSpectator)
	if p.ID != "" {
		role = string(p.Role)
	}
	write(ctx, conn, types.ServerMessage{Type: types.MsgWelcome, ParticipantID: p.ID, Role: role})
	return p, true
}

func deliver(lb *lobby.Lobby, msg lobby.Msg) {
	select {
	case lb.Inbox() <- msg:
	case <-lb.Done():
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = wsjson.Write(ctx, conn, msg)
}

func toEngineCommand(m types.ClientMessage) (engine.Command, bool) {
	switch m.Type {
	case types.MsgLockIn:
		return engine.Command{Type: engine.CmdLockIn, TurnIndex: m.TurnIndex, ChampionID: m.ChampionID}, true
	case types.MsgFill:
		return engine.Command{Type: engine.CmdFill, TurnIndex: m.TurnIndex, ChampionID: m.ChampionID}, true
	case types.MsgStart:
		return engine.Command{Type: engine.CmdStart}, true
	case types.MsgPause:
		return engine.Command{Type: engine.CmdPause}, true
	case types.MsgResume:
		return engine.Command{Type: engine.CmdResume}, true
	case types.MsgCancel:
		return engine.Command{Type: engine.CmdCancel}, true
	case types.MsgSwapSides:
		return engine.Command{Type: engine.CmdSwapSides}, true
	default:
		return engine.Command{}, false
	}
}

func codeOf(err error) string {
	switch {
	case errors.Is(err, lobby.ErrRetryable),
		errors.Is(err, lobby.ErrClosed),
		errors.Is(err, context.DeadlineExceeded):
		return CodeRetryable
	default:
		return engine.Code(err)
	}
}
