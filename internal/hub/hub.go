package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/series-draft/internal/engine"
	"github.com/DoyleJ11/series-draft/internal/lobby"
	"github.com/DoyleJ11/series-draft/internal/logging"
	"github.com/DoyleJ11/series-draft/internal/notify"
	"github.com/DoyleJ11/series-draft/internal/registry"
	"github.com/DoyleJ11/series-draft/internal/store"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type CreateLobby struct {
	Session engine.Session
	Roster  []registry.Participant
	Reply   chan *lobby.Lobby
}

type GetLobby struct {
	ID    string
	Reply chan *lobby.Lobby
}

// EnsureLobby returns the running lobby for ID, loading it from the store
// if this instance has not seen it yet.
type EnsureLobby struct {
	ID    string
	Reply chan EnsureResult
}

type EnsureResult struct {
	Lobby *lobby.Lobby
	Err   error
}

type RemoveLobby struct {
	ID string
}

// SweepAll asks every running lobby to apply overdue timeouts.
type SweepAll struct{}

// Changed reports that another instance committed version of a session.
type Changed struct {
	ID      string
	Version int
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg() {}
func (GetLobby) isHubMsg()    {}
func (EnsureLobby) isHubMsg() {}
func (RemoveLobby) isHubMsg() {}
func (SweepAll) isHubMsg()    {}
func (Changed) isHubMsg()     {}
func (ShutdownHub) isHubMsg() {}

type Options struct {
	Store    store.Store
	Notifier notify.Notifier
	Clock    func() time.Time
	// IdleAfter unloads unfinished lobbies without observers; zero disables.
	IdleAfter time.Duration
}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	opts    Options
	logger  *zap.SugaredLogger
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		opts:    opts,
		logger:  logging.FromContext(parent).Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Store() store.Store { return h.opts.Store }

func (h *Hub) Now() time.Time { return h.opts.Clock() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				if lb := h.lobbies[msg.Session.ID]; lb != nil {
					msg.Reply <- lb
					break
				}
				lb := h.start(msg.Session, msg.Roster)
				msg.Reply <- lb

			case GetLobby:
				msg.Reply <- h.lobbies[msg.ID] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.ID]; lb != nil {
					msg.Reply <- EnsureResult{Lobby: lb}
					break
				}
				s, roster, err := h.opts.Store.Load(h.ctx, msg.ID)
				if err != nil {
					msg.Reply <- EnsureResult{Err: err}
					break
				}
				msg.Reply <- EnsureResult{Lobby: h.start(s, roster)}

			case RemoveLobby:
				if lb := h.lobbies[msg.ID]; lb != nil {
					deliver(lb, lobby.Shutdown{})
					delete(h.lobbies, msg.ID)
				}

			case SweepAll:
				for id, lb := range h.lobbies {
					select {
					case lb.Inbox() <- lobby.Sweep{}:
					default:
						h.logger.Warnw("lobby busy, sweep skipped", "session_id", id)
					}
				}

			case Changed:
				if lb := h.lobbies[msg.ID]; lb != nil {
					deliver(lb, lobby.Reload{})
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) start(s engine.Session, roster []registry.Participant) *lobby.Lobby {
	lb := lobby.NewLobby(h.ctx, s, roster, lobby.Options{
		Store:     h.opts.Store,
		Notifier:  h.opts.Notifier,
		Clock:     h.opts.Clock,
		OnIdle:    h.evict,
		IdleAfter: h.opts.IdleAfter,
	})
	h.lobbies[s.ID] = lb
	return lb
}

func deliver(lb *lobby.Lobby, msg lobby.Msg) {
	select {
	case lb.Inbox() <- msg:
	case <-lb.Done():
	}
}

func (h *Hub) evict(id string) {
	select {
	case h.inbox <- RemoveLobby{ID: id}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		select {
		case lb.Inbox() <- lobby.Shutdown{}:
		default:
		}
	}
	clear(h.lobbies)
	h.cancel()
}

func (h *Hub) send(ctx context.Context, msg HubMsg) error {
	select {
	case h.inbox <- msg:
		return nil
	case <-h.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lobby returns the running lobby for a session; store.ErrNotFound if the
// session does not exist.
func (h *Hub) Lobby(ctx context.Context, id string) (*lobby.Lobby, error) {
	reply := make(chan EnsureResult, 1)
	if err := h.send(ctx, EnsureLobby{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.Lobby, res.Err
	case <-h.ctx.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateSession persists a new session with its creator, who joins under
// req, and starts its lobby.
func (h *Hub) CreateSession(ctx context.Context, settings engine.Settings, req registry.JoinRequest) (engine.Session, registry.Participant, error) {
	now := h.opts.Clock()
	s, err := engine.NewSession(settings, engine.Attribution{UserID: req.UserID}, now)
	if err != nil {
		return engine.Session{}, registry.Participant{}, err
	}
	p, s, _, err := registry.Join(s, nil, req, now)
	if err != nil {
		return engine.Session{}, registry.Participant{}, err
	}
	s.CreatedBy.ParticipantID = p.ID

	if err := h.opts.Store.CreateSession(ctx, s, &p, []string{req.UserID}); err != nil {
		return engine.Session{}, registry.Participant{}, fmt.Errorf("%w: %v", lobby.ErrRetryable, err)
	}
	h.logger.Infow("session created", "session_id", s.ID, "mode", s.Mode, "games", s.PlannedGames)

	reply := make(chan *lobby.Lobby, 1)
	if err := h.send(ctx, CreateLobby{Session: s, Roster: []registry.Participant{p}, Reply: reply}); err != nil {
		return engine.Session{}, registry.Participant{}, err
	}
	return s, p, nil
}

// Sweep is called on a schedule to expire turns in lobbies nobody touched.
func (h *Hub) Sweep() {
	select {
	case h.inbox <- SweepAll{}:
	default:
		h.logger.Warnw("hub busy, sweep skipped")
	}
}

// AbandonStale cancels sessions still in the lobby that were created before
// cutoff. It returns how many were cancelled.
func (h *Hub) AbandonStale(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := h.opts.Store.StaleLobbies(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		lb, err := h.Lobby(ctx, id)
		if err != nil {
			h.logger.Warnw("loading stale lobby failed", "session_id", id, zap.Error(err))
			continue
		}
		err = lb.Submit(ctx, engine.Command{Type: engine.CmdAbandon})
		if err != nil {
			h.logger.Warnw("abandoning lobby failed", "session_id", id, zap.Error(err))
			continue
		}
		deliver(lb, lobby.Sweep{}) // lets it go idle and be evicted
		n++
	}
	return n, nil
}

// Notified forwards a change made by another instance.
func (h *Hub) Notified(c notify.Change) {
	select {
	case h.inbox <- Changed{ID: c.SessionID, Version: c.Version}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }
