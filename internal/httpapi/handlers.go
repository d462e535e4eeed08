package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DoyleJ11/series-draft/internal/auth"
	"github.com/DoyleJ11/series-draft/internal/engine"
	"github.com/DoyleJ11/series-draft/internal/hub"
	"github.com/DoyleJ11/series-draft/internal/lobby"
	"github.com/DoyleJ11/series-draft/internal/logging"
	"github.com/DoyleJ11/series-draft/internal/registry"
	"github.com/DoyleJ11/series-draft/internal/store"
	"github.com/DoyleJ11/series-draft/pkg/types"
	"github.com/go-chi/chi/v5"
)

// maxBody caps request bodies; every request here is a handful of fields.
const maxBody = 16 << 10

func CreateSession(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateSessionRequest
		if !decode(w, r, &req) {
			return
		}

		join := registry.JoinRequest{DisplayName: req.DisplayName, Role: registry.Role(req.Role)}
		if user, ok := auth.UserFrom(r.Context()); ok {
			join.UserID = user.UserID
		}

		s, p, err := h.CreateSession(r.Context(), req.Settings(), join)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, types.CreateSessionResponse{
			Session:     types.SummaryOf(s),
			Participant: types.Credentials{ParticipantID: p.ID, Secret: p.Secret, Role: string(p.Role)},
		})
	}
}

func GetSession(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb, err := h.Lobby(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		snap, err := lb.Snapshot(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func JoinSession(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.JoinRequest
		if !decode(w, r, &req) {
			return
		}
		lb, err := h.Lobby(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		join := registry.JoinRequest{DisplayName: req.DisplayName, Role: registry.Role(req.Role)}
		if user, ok := auth.UserFrom(r.Context()); ok {
			join.UserID = user.UserID
		}
		p, existing, err := lb.AddParticipant(r.Context(), join)
		if err != nil {
			writeError(w, r, err)
			return
		}

		status := http.StatusCreated
		if existing {
			status = http.StatusOK
		}
		writeJSON(w, status, types.Credentials{ParticipantID: p.ID, Secret: p.Secret, Role: string(p.Role), Existing: existing})
	}
}

// LinkParticipant attaches the signed-in account to an anonymous participant.
func LinkParticipant(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFrom(r.Context())
		lb, err := h.Lobby(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		p, err := lb.Link(r.Context(), chi.URLParam(r, "participantID"), user.UserID, user.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func MySessions(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFrom(r.Context())
		sessions, err := h.Store().UserSessions(r.Context(), user.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]types.SessionSummary, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, types.SummaryOf(s))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Code: "BadRequest", Message: "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Errorw("request failed", "error", err)
	}
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: err.Error()})
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, lobby.ErrRetryable), errors.Is(err, lobby.ErrClosed), errors.Is(err, hub.ErrClosed):
		return http.StatusServiceUnavailable, "Retryable"
	case errors.Is(err, engine.ErrInvalidSettings):
		return http.StatusBadRequest, engine.Code(err)
	case errors.Is(err, engine.ErrNotYourTurn):
		return http.StatusForbidden, engine.Code(err)
	case errors.Is(err, engine.ErrSessionFull),
		errors.Is(err, engine.ErrParticipantConflict),
		errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrTurnAlreadyResolved),
		errors.Is(err, engine.ErrChampionUnavailable):
		return http.StatusConflict, engine.Code(err)
	default:
		return http.StatusInternalServerError, engine.Code(err)
	}
}
