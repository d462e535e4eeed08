package lobby

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/DoyleJ11/series-draft/internal/engine"
	"github.com/DoyleJ11/series-draft/internal/logging"
	"github.com/DoyleJ11/series-draft/internal/notify"
	"github.com/DoyleJ11/series-draft/internal/registry"
	"github.com/DoyleJ11/series-draft/internal/store"
	"go.uber.org/zap"
)

// ErrRetryable wraps storage or transport failures. Nothing was applied and
// the same request may be sent again.
var ErrRetryable = errors.New("temporarily unavailable")

var ErrClosed = errors.New("lobby closed")

// ErrUnknownParticipant is returned by Authenticate when neither the secret
// nor the user id identify a participant.
var ErrUnknownParticipant = errors.New("unknown participant")

type Msg interface{ isLobbyMsg() }

type FromClient struct {
	Cmd   engine.Command
	Reply chan error // optional
}

func (FromClient) isLobbyMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

// Resync asks for the authoritative snapshot to be sent to one client again.
// LastSeen is the newest version the client holds; nothing is sent if that is
// already current. Zero always gets a snapshot.
type Resync struct {
	ClientID string
	LastSeen int
}

func (Resync) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type GetSnapshot struct {
	Reply chan Snapshot
}

func (GetSnapshot) isLobbyMsg() {}

type AddParticipant struct {
	Req   registry.JoinRequest
	Reply chan JoinResult
}

func (AddParticipant) isLobbyMsg() {}

type LinkParticipant struct {
	ParticipantID string
	CallerUserID  string
	UserID        string
	Reply         chan LinkResult
}

func (LinkParticipant) isLobbyMsg() {}

// Authenticate resolves a connection to a participant, by user id when the
// caller is signed in, otherwise by participant id and secret.
type Authenticate struct {
	ParticipantID string
	Secret        string
	UserID        string
	Reply         chan AuthResult
}

func (Authenticate) isLobbyMsg() {}

// Sweep evaluates the timeout policy now. Sent periodically by the hub.
type Sweep struct{}

func (Sweep) isLobbyMsg() {}

// Reload replaces the in-memory state with the stored one if it is newer,
// e.g. after another instance committed a change.
type Reload struct{}

func (Reload) isLobbyMsg() {}

// PrimeTimer re-arms the deadline timer for the active turn.
type PrimeTimer struct{}

func (PrimeTimer) isLobbyMsg() {}

type timerFired struct{ gen int }

func (timerFired) isLobbyMsg() {}

type JoinResult struct {
	Participant registry.Participant
	Existing    bool
	Err         error
}

type LinkResult struct {
	Participant registry.Participant
	Changed     bool
	Err         error
}

type AuthResult struct {
	Participant registry.Participant
	Err         error
}

type View struct {
	Version      int
	NumClients   int
	State        engine.Session
	Participants []registry.Participant
}

type Options struct {
	Store    store.Store
	Notifier notify.Notifier
	// Clock defaults to time.Now.
	Clock func() time.Time
	// OnIdle is called once a lobby has no observers left and is either
	// finished or has seen no local activity for IdleAfter.
	OnIdle func(sessionID string)
	// IdleAfter of zero keeps unfinished lobbies running.
	IdleAfter time.Duration
}

type Lobby struct {
	id       string
	inbox    chan Msg
	state    engine.Session
	roster   []registry.Participant
	clients  map[string]chan Snapshot
	store    store.Store
	notifier notify.Notifier
	clock    func() time.Time
	onIdle   func(string)
	// idleAfter and lastActive drive eviction of unfinished lobbies.
	idleAfter  time.Duration
	lastActive time.Time
	timer      *time.Timer
	timerGen   int
	logger     *zap.SugaredLogger
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewLobby(parent context.Context, initial engine.Session, roster []registry.Participant, opts Options) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Store == nil {
		// Standalone lobby: keep the state in a private in-memory store.
		mem := store.NewMemory()
		_ = mem.CreateSession(ctx, initial, nil, nil)
		for _, p := range roster {
			_ = mem.Commit(ctx, store.Change{Prev: initial, Next: initial, Participant: &p})
		}
		opts.Store = mem
	}

	l := &Lobby{
		id:         initial.ID,
		inbox:      make(chan Msg, 64), // Small buffer
		state:      initial,
		roster:     roster,
		clients:    make(map[string]chan Snapshot),
		store:      opts.Store,
		notifier:   opts.Notifier,
		clock:      opts.Clock,
		onIdle:     opts.OnIdle,
		idleAfter:  opts.IdleAfter,
		lastActive: opts.Clock(),
		logger:     logging.FromContext(parent).With("session_id", initial.ID),
		ctx:        ctx,
		cancel:     cancel,
	}

	l.armTimer()
	go l.loop()
	return l
}

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch m.(type) {
			case Sweep, timerFired, PrimeTimer, Reload:
			default:
				l.lastActive = l.clock()
			}

			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				l.clients[msg.ClientID] = msg.Outbox
				l.send(msg.ClientID, l.snapshot())

			case Leave:
				delete(l.clients, msg.ClientID)
				l.maybeIdle()

			case Resync:
				if msg.LastSeen > 0 && msg.LastSeen >= l.state.Version {
					break
				}
				l.send(msg.ClientID, l.snapshot())

			case FromClient:
				err := l.handleCommand(msg.Cmd)
				if err != nil {
					l.logger.Debugw("command rejected", "type", msg.Cmd.Type, "actor", msg.Cmd.Actor.ParticipantID, "error", err)
				}
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case AddParticipant:
				msg.Reply <- l.addParticipant(msg.Req)

			case LinkParticipant:
				msg.Reply <- l.linkParticipant(msg.ParticipantID, msg.CallerUserID, msg.UserID)

			case Authenticate:
				msg.Reply <- l.authenticate(msg)

			case Sweep:
				if !l.state.Status.Terminal() {
					if err := l.handleCommand(engine.Command{Type: engine.CmdTimeoutAdvance}); err != nil {
						l.logger.Warnw("sweep failed", "error", err)
					}
				}
				l.maybeIdle()

			case timerFired:
				if msg.gen != l.timerGen {
					break // superseded by a later state change
				}
				if err := l.handleCommand(engine.Command{Type: engine.CmdTimeoutAdvance}); err != nil {
					l.logger.Warnw("turn expiry failed", "error", err)
				}

			case PrimeTimer:
				l.armTimer()

			case Reload:
				if err := l.reload(); err != nil {
					l.logger.Warnw("reload failed", "error", err)
				}

			case GetState:
				// reflect internal state without data races
				msg.Reply <- View{
					Version:      l.state.Version,
					NumClients:   len(l.clients),
					State:        l.state.Clone(),
					Participants: append([]registry.Participant(nil), l.roster...),
				}

			case GetSnapshot:
				msg.Reply <- l.snapshot()

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) handleCommand(cmd engine.Command) error {
	if cmd.At.IsZero() {
		cmd.At = l.clock()
	}

	// Expire overdue turns first as their own transition, so a late action is
	// judged against the state observers were already shown.
	if cmd.Type != engine.CmdTimeoutAdvance {
		if err := l.handleCommand(engine.Command{Type: engine.CmdTimeoutAdvance, At: cmd.At}); err != nil {
			return err
		}
	}

	events, next, err := engine.Apply(l.state, cmd)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	if err := l.commit(next, nil, nil); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return engine.ErrTurnAlreadyResolved
		}
		return err
	}
	l.logger.Debugw("command applied", "type", cmd.Type, "events", len(events), "version", l.state.Version)
	return nil
}

func (l *Lobby) addParticipant(req registry.JoinRequest) JoinResult {
	for attempt := 0; attempt < 2; attempt++ {
		p, next, existing, err := registry.Join(l.state, l.roster, req, l.clock())
		if err != nil || existing {
			return JoinResult{Participant: p, Existing: existing, Err: err}
		}

		err = l.commit(next, &p, []string{req.UserID})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return JoinResult{Participant: p, Err: err}
	}
	return JoinResult{Err: ErrRetryable}
}

func (l *Lobby) linkParticipant(participantID, callerUserID, userID string) LinkResult {
	for attempt := 0; attempt < 2; attempt++ {
		p, next, changed, err := registry.Link(l.state, l.roster, participantID, callerUserID, userID)
		if err != nil || !changed {
			return LinkResult{Participant: p, Err: err}
		}

		err = l.commit(next, &p, []string{userID})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return LinkResult{Participant: p, Changed: err == nil, Err: err}
	}
	return LinkResult{Err: ErrRetryable}
}

func (l *Lobby) authenticate(msg Authenticate) AuthResult {
	if p, ok := registry.FindByUser(l.roster, msg.UserID); ok {
		return AuthResult{Participant: p}
	}
	if p, ok := registry.Find(l.roster, msg.ParticipantID); ok && msg.Secret != "" && p.Secret == msg.Secret {
		return AuthResult{Participant: p}
	}
	return AuthResult{Err: ErrUnknownParticipant}
}

// commit persists next through a compare-and-set on the current version and,
// on success, adopts it and broadcasts. On store.ErrConflict the lobby reloads
// and the caller decides how to report it.
func (l *Lobby) commit(next engine.Session, p *registry.Participant, indexUsers []string) error {
	next.Version = l.state.Version + 1

	var users []string
	for _, u := range indexUsers {
		if u != "" {
			users = append(users, u)
		}
	}

	err := l.store.Commit(l.ctx, store.Change{Prev: l.state, Next: next, Participant: p, IndexUsers: users})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConflict):
		if rerr := l.reload(); rerr != nil {
			l.logger.Warnw("reload after conflict failed", "error", rerr)
		}
		return store.ErrConflict
	case errors.Is(err, store.ErrDuplicate):
		return engine.ErrParticipantConflict
	default:
		l.logger.Errorw("commit failed", "error", err)
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}

	l.state = next
	if p != nil {
		l.upsertRoster(*p)
	}
	l.publish()
	return nil
}

func (l *Lobby) upsertRoster(p registry.Participant) {
	for i := range l.roster {
		if l.roster[i].ID == p.ID {
			l.roster[i] = p
			return
		}
	}
	l.roster = append(l.roster, p)
}

func (l *Lobby) reload() error {
	s, roster, err := l.store.Load(l.ctx, l.id)
	if err != nil {
		return err
	}
	if s.Version <= l.state.Version {
		return nil
	}
	l.state, l.roster = s, roster
	l.publishLocal()
	return nil
}

// publish fans the new state out to local observers and other instances.
func (l *Lobby) publish() {
	l.publishLocal()
	if err := l.notifier.Publish(l.ctx, l.id, l.state.Version); err != nil {
		l.logger.Warnw("change notification failed", "error", err)
	}
}

func (l *Lobby) publishLocal() {
	l.broadcast(l.snapshot())
	l.armTimer()
}

func (l *Lobby) armTimer() {
	l.timerGen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}

	deadline, ok := l.state.Deadline()
	if !ok {
		return
	}
	gen := l.timerGen
	wait := deadline.Sub(l.clock())
	if wait < 0 {
		wait = 0
	}
	l.timer = time.AfterFunc(wait, func() {
		select {
		case l.inbox <- timerFired{gen: gen}:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) maybeIdle() {
	if l.onIdle == nil || len(l.clients) > 0 {
		return
	}
	stale := l.idleAfter > 0 && l.clock().Sub(l.lastActive) >= l.idleAfter
	if l.state.Status.Terminal() || stale {
		id := l.id
		onIdle := l.onIdle
		l.onIdle = nil
		go onIdle(id)
	}
}

func (l *Lobby) shutdown() {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timerGen++
	for id, ch := range l.clients {
		close(ch) // Tell client no more snapshots
		delete(l.clients, id)
	}
	l.cancel()
}

func (l *Lobby) send(clientID string, snap Snapshot) {
	ch, ok := l.clients[clientID]
	if !ok {
		return
	}
	select {
	case ch <- snap:
	default:
		close(ch)
		delete(l.clients, clientID)
	}
}

func (l *Lobby) broadcast(snap Snapshot) {
	for id, ch := range l.clients {
		select {
		case ch <- snap:
			//ok
		default:
			// Client is slow/full - drop them. It resyncs on reconnect.
			close(ch)
			delete(l.clients, id)
		}
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) ID() string { return l.id }

// Done is closed once the lobby stopped.
func (l *Lobby) Done() <-chan struct{} { return l.ctx.Done() }

func (l *Lobby) request(ctx context.Context, msg Msg) error {
	select {
	case l.inbox <- msg:
		return nil
	case <-l.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, l *Lobby, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-l.ctx.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Submit sends cmd and waits for it to be accepted or rejected.
func (l *Lobby) Submit(ctx context.Context, cmd engine.Command) error {
	reply := make(chan error, 1)
	if err := l.request(ctx, FromClient{Cmd: cmd, Reply: reply}); err != nil {
		return err
	}
	res, err := await(ctx, l, reply)
	if err != nil {
		return err
	}
	return res
}

func (l *Lobby) AddParticipant(ctx context.Context, req registry.JoinRequest) (registry.Participant, bool, error) {
	reply := make(chan JoinResult, 1)
	if err := l.request(ctx, AddParticipant{Req: req, Reply: reply}); err != nil {
		return registry.Participant{}, false, err
	}
	res, err := await(ctx, l, reply)
	if err != nil {
		return registry.Participant{}, false, err
	}
	return res.Participant, res.Existing, res.Err
}

func (l *Lobby) Link(ctx context.Context, participantID, callerUserID, userID string) (registry.Participant, error) {
	reply := make(chan LinkResult, 1)
	if err := l.request(ctx, LinkParticipant{ParticipantID: participantID, CallerUserID: callerUserID, UserID: userID, Reply: reply}); err != nil {
		return registry.Participant{}, err
	}
	res, err := await(ctx, l, reply)
	if err != nil {
		return registry.Participant{}, err
	}
	return res.Participant, res.Err
}

func (l *Lobby) Authenticate(ctx context.Context, participantID, secret, userID string) (registry.Participant, error) {
	reply := make(chan AuthResult, 1)
	if err := l.request(ctx, Authenticate{ParticipantID: participantID, Secret: secret, UserID: userID, Reply: reply}); err != nil {
		return registry.Participant{}, err
	}
	res, err := await(ctx, l, reply)
	if err != nil {
		return registry.Participant{}, err
	}
	return res.Participant, res.Err
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.request(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	return await(ctx, l, reply)
}

// Snapshot returns the current state as observers see it.
func (l *Lobby) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := l.request(ctx, GetSnapshot{Reply: reply}); err != nil {
		return Snapshot{}, err
	}
	return await(ctx, l, reply)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
