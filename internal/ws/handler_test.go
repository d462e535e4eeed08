package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DoyleJ11/series-draft/internal/auth"
	"github.com/DoyleJ11/series-draft/internal/engine"
	"github.com/DoyleJ11/series-draft/internal/hub"
	"github.com/DoyleJ11/series-draft/internal/registry"
	"github.com/DoyleJ11/series-draft/internal/store"
	"github.com/DoyleJ11/series-draft/internal/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	url     string
	auth    *auth.Authenticator
	hub     *hub.Hub
	session engine.Session
	blue    registry.Participant
	red     registry.Participant
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.NewHub(ctx, hub.Options{Store: store.NewMemory()})
	s, blue, err := h.CreateSession(ctx, engine.Settings{Name: "Scrim", Mode: engine.ModeFearless, PlannedGames: 3, PickSeconds: 30, BanSeconds: 30},
		registry.JoinRequest{DisplayName: "Faker", Role: registry.RoleCaptain})
	require.NoError(t, err)
	lb, err := h.Lobby(ctx, s.ID)
	require.NoError(t, err)
	red, _, err := lb.AddParticipant(ctx, registry.JoinRequest{DisplayName: "Chovy", Role: registry.RoleCaptain})
	require.NoError(t, err)

	a := auth.New("secret", time.Hour)
	srv := httptest.NewServer(Handler(h, Options{Auth: a}))
	t.Cleanup(srv.Close)

	return fixture{
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=" + s.ID,
		auth:    a,
		hub:     h,
		session: s,
		blue:    blue,
		red:     red,
	}
}

func dial(t *testing.T, url string, hello types.ClientMessage) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	hello.Type = types.MsgHello
	require.NoError(t, wsjson.Write(ctx, conn, hello))
	return conn
}

func read(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg types.ServerMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msg types.ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, msg))
}

// readUntil skips snapshots until a message of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) types.ServerMessage {
	t.Helper()
	for i := 0; i < 5; i++ {
		msg := read(t, conn)
		if msg.Type == want {
			return msg
		}
	}
	t.Fatalf("no %s message", want)
	return types.ServerMessage{}
}

func TestHandler_CaptainDrafts(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f.url, types.ClientMessage{ParticipantID: f.blue.ID, Secret: f.blue.Secret})

	welcome := read(t, conn)
	assert.Equal(t, types.MsgWelcome, welcome.Type)
	assert.Equal(t, f.blue.ID, welcome.ParticipantID)
	assert.Equal(t, string(registry.RoleCaptain1), welcome.Role)

	first := read(t, conn)
	require.Equal(t, types.MsgStateSnapshot, first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, engine.StatusLobby, first.Snapshot.State.Status)

	send(t, conn, types.ClientMessage{Type: types.MsgStart, RequestID: "r1"})
	ack := readUntil(t, conn, types.MsgAck)
	assert.Equal(t, "r1", ack.RequestID)

	send(t, conn, types.ClientMessage{Type: types.MsgLockIn, RequestID: "r2", TurnIndex: 0, ChampionID: "Ahri"})
	ack = readUntil(t, conn, types.MsgAck)
	assert.Equal(t, "r2", ack.RequestID)

	send(t, conn, types.ClientMessage{Type: types.MsgResync})
	snap := readUntil(t, conn, types.MsgStateSnapshot)
	for snap.Version < 3 {
		snap = readUntil(t, conn, types.MsgStateSnapshot)
	}
	g, ok := snap.Snapshot.State.CurrentGameState()
	require.True(t, ok)
	assert.Equal(t, "Ahri", g.Turns[0].ChampionID)

	// Blue cannot act on red's turn.
	send(t, conn, types.ClientMessage{Type: types.MsgLockIn, RequestID: "r3", TurnIndex: 1, ChampionID: "Zed"})
	errMsg := readUntil(t, conn, types.MsgError)
	assert.Equal(t, "r3", errMsg.RequestID)
	assert.Equal(t, "NotYourTurn", errMsg.Code)
}

func TestHandler_SpectatorCannotAct(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f.url, types.ClientMessage{})

	welcome := read(t, conn)
	assert.Equal(t, string(registry.RoleSpectator), welcome.Role)
	assert.Empty(t, welcome.ParticipantID)

	send(t, conn, types.ClientMessage{Type: types.MsgStart, RequestID: "r1"})
	errMsg := readUntil(t, conn, types.MsgError)
	assert.Equal(t, CodeUnauthorized, errMsg.Code)

	send(t, conn, types.ClientMessage{Type: "Dance"})
	errMsg = readUntil(t, conn, types.MsgError)
	assert.Equal(t, CodeBadRequest, errMsg.Code)
}

func TestHandler_WrongSecretIsRejected(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f.url, types.ClientMessage{ParticipantID: f.blue.ID, Secret: "guess"})

	errMsg := read(t, conn)
	assert.Equal(t, types.MsgError, errMsg.Type)
	assert.Equal(t, CodeUnauthorized, errMsg.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestHandler_SignedInUserIsRecognised(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lb, err := f.hub.Lobby(ctx, f.session.ID)
	require.NoError(t, err)
	_, err = lb.Link(ctx, f.red.ID, "u-chovy", "u-chovy")
	require.NoError(t, err)

	token, err := f.auth.Issue("u-chovy", "Chovy")
	require.NoError(t, err)
	conn := dial(t, f.url, types.ClientMessage{Token: token})

	welcome := read(t, conn)
	assert.Equal(t, types.MsgWelcome, welcome.Type)
	assert.Equal(t, f.red.ID, welcome.ParticipantID)
	assert.Equal(t, string(registry.RoleCaptain2), welcome.Role)
}

func TestHandler_UnknownSession(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := f.url[:strings.Index(f.url, "?")] + "?session=nope"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "TurnAlreadyResolved", codeOf(engine.ErrTurnAlreadyResolved))
	assert.Equal(t, CodeRetryable, codeOf(context.DeadlineExceeded))
	assert.Equal(t, "Internal", codeOf(assert.AnError))
}
