package network

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/annel0/cubestack/internal/auth"
	"github.com/annel0/cubestack/internal/protocol"
	"github.com/annel0/cubestack/internal/vec"
)

type intentCall struct {
	id protocol.ParticipantID
	in protocol.Intent
}

type fakeHandler struct {
	intents      chan intentCall
	disconnected chan protocol.ParticipantID
	joined       chan protocol.ParticipantID
	rejectRemote atomic.Bool
	// announce: при подключении сразу отправлять событие, как тик хоста
	announce atomic.Bool
	server   *Server
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		intents:      make(chan intentCall, 16),
		disconnected: make(chan protocol.ParticipantID, 16),
		joined:       make(chan protocol.ParticipantID, 16),
	}
}

func (h *fakeHandler) Admit(_ context.Context, a Admission) (protocol.Welcome, error) {
	if a.Role == protocol.RoleHost {
		return protocol.Welcome{Participant: 1, Role: a.Role, Planes: 12, Rows: 4, Cols: 4}, nil
	}
	if h.rejectRemote.Load() {
		return protocol.Welcome{}, errors.New("матч заполнен")
	}
	return protocol.Welcome{Participant: 2, Role: a.Role, Planes: 12, Rows: 4, Cols: 4}, nil
}

func (h *fakeHandler) Joined(_ context.Context, id protocol.ParticipantID, _ Admission) error {
	if h.announce.Load() {
		h.server.Send(id, &protocol.Event{
			Seq:          1,
			Kind:         protocol.KindStateChanged,
			StateChanged: &protocol.StateChanged{Version: 1, Old: protocol.StateWaiting, New: protocol.StatePlaying},
		})
	}
	h.joined <- id
	return nil
}

func (h *fakeHandler) Intent(id protocol.ParticipantID, in protocol.Intent) {
	h.intents <- intentCall{id: id, in: in}
}

func (h *fakeHandler) Disconnected(id protocol.ParticipantID) { h.disconnected <- id }

type fixture struct {
	t       *testing.T
	addr    string
	codec   *protocol.Codec
	issuer  *auth.TokenIssuer
	handler *fakeHandler
	server  *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := protocol.NewCodec(1024)
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fixture{
		t:       t,
		addr:    ln.Addr().String(),
		codec:   codec,
		issuer:  issuer,
		handler: newFakeHandler(),
	}
	f.server = NewServer(codec, DefaultChannelConfig(), issuer, nil)
	f.server.Bind(f.handler)
	f.handler.server = f.server

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- f.server.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-served)
		codec.Close()
	})
	return f
}

func (f *fixture) connect(role protocol.Role, token string) (*Client, error) {
	conn, err := net.Dial("tcp", f.addr)
	require.NoError(f.t, err)
	if token == "" {
		token, err = f.issuer.Issue("игрок", role, false)
		require.NoError(f.t, err)
	}
	return Connect(context.Background(), conn, f.codec, DefaultChannelConfig(), protocol.Hello{Token: token, Name: "игрок"})
}

func TestHandshakeAndIntentForwarding(t *testing.T) {
	f := newFixture(t)

	c, err := f.connect(protocol.RoleRemote, "")
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, protocol.ParticipantID(2), c.Welcome().Participant)
	require.Equal(t, 4, c.Welcome().Rows)

	require.NoError(t, c.SendIntent(protocol.Move(vec.AxisX, -1)))
	select {
	case call := <-f.handler.intents:
		require.Equal(t, protocol.ParticipantID(2), call.id)
		require.Equal(t, protocol.IntentMove, call.in.Kind)
		require.Equal(t, -1, call.in.Sign)
	case <-time.After(2 * time.Second):
		t.Fatal("намерение не дошло до хоста")
	}
}

func TestServerDeliversEvents(t *testing.T) {
	f := newFixture(t)

	c, err := f.connect(protocol.RoleRemote, "")
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool { return len(f.server.Peers()) == 1 }, 2*time.Second, 10*time.Millisecond)

	f.server.Send(2, &protocol.Event{
		Seq:          7,
		Kind:         protocol.KindScoreChanged,
		ScoreChanged: &protocol.ScoreChanged{Version: 3, Score: 16},
	})
	// неизвестному участнику ничего не отправляется
	f.server.Send(5, &protocol.Event{Kind: protocol.KindScoreChanged, ScoreChanged: &protocol.ScoreChanged{}})

	select {
	case ev := <-c.Events():
		require.Equal(t, uint64(7), ev.Seq)
		require.Equal(t, 16, ev.ScoreChanged.Score)
	case <-time.After(2 * time.Second):
		t.Fatal("событие не получено")
	}
}

func TestEventsOnJoinArriveAfterWelcome(t *testing.T) {
	f := newFixture(t)
	f.handler.announce.Store(true)

	c, err := f.connect(protocol.RoleRemote, "")
	require.NoError(t, err, "Welcome должен прийти раньше событий")
	defer c.Close()
	require.Equal(t, protocol.ParticipantID(2), <-f.handler.joined)

	select {
	case ev := <-c.Events():
		require.Equal(t, protocol.KindStateChanged, ev.Kind)
		require.Equal(t, protocol.StatePlaying, ev.StateChanged.New)
	case <-time.After(2 * time.Second):
		t.Fatal("событие тика подключения потеряно")
	}
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.connect(protocol.RoleRemote, "not-a-token")
	require.ErrorIs(t, err, ErrHandshake)
}

func TestHandshakeRejectedByHandler(t *testing.T) {
	f := newFixture(t)
	f.handler.rejectRemote.Store(true)

	_, err := f.connect(protocol.RoleRemote, "")
	require.ErrorIs(t, err, ErrHandshake)
}

func TestDisconnectNotifiesHandler(t *testing.T) {
	f := newFixture(t)

	c, err := f.connect(protocol.RoleRemote, "")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	select {
	case id := <-f.handler.disconnected:
		require.Equal(t, protocol.ParticipantID(2), id)
	case <-time.After(2 * time.Second):
		t.Fatal("отключение не зафиксировано")
	}
}

func TestReconnectReplacesOldConnection(t *testing.T) {
	f := newFixture(t)

	first, err := f.connect(protocol.RoleRemote, "")
	require.NoError(t, err)
	second, err := f.connect(protocol.RoleRemote, "")
	require.NoError(t, err)
	defer second.Close()

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("старое соединение не закрыто")
	}

	// замена соединения не считается отключением участника
	select {
	case id := <-f.handler.disconnected:
		t.Fatalf("неожиданное отключение участника %d", id)
	case <-time.After(100 * time.Millisecond):
	}

	f.server.Send(2, &protocol.Event{Seq: 1, Kind: protocol.KindScoreChanged, ScoreChanged: &protocol.ScoreChanged{Score: 1}})
	select {
	case ev := <-second.Events():
		require.Equal(t, uint64(1), ev.Seq)
	case <-time.After(2 * time.Second):
		t.Fatal("событие не дошло до нового соединения")
	}
}
