package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/cubestack/internal/auth"
	"github.com/annel0/cubestack/internal/logging"
	"github.com/annel0/cubestack/internal/protocol"
)

// TokenValidator проверяет токен из Hello
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Admission - запрос на подключение после проверки токена
type Admission struct {
	Name    string
	Role    protocol.Role
	IsAdmin bool
	Resume  protocol.ParticipantID
	Addr    string
}

// Handler - сторона хоста. Вызовы приходят из горутин соединений.
type Handler interface {
	// Admit проверяет участника и возвращает Welcome, ничего не меняя
	Admit(ctx context.Context, a Admission) (protocol.Welcome, error)
	// Joined вызывается после отправки Welcome, когда соединение уже
	// получает события хоста
	Joined(ctx context.Context, id protocol.ParticipantID, a Admission) error
	// Intent передает намерение участника в очередь хоста
	Intent(id protocol.ParticipantID, in protocol.Intent)
	// Disconnected сообщает о потере соединения
	Disconnected(id protocol.ParticipantID)
}

type peer struct {
	id      protocol.ParticipantID
	channel *Channel
}

// Server принимает KCP-подключения участников и доставляет им события хоста
type Server struct {
	codec     *protocol.Codec
	config    ChannelConfig
	validator TokenValidator
	handler   Handler
	metrics   *Metrics
	logger    *logging.Logger

	mu    sync.RWMutex
	peers map[protocol.ParticipantID]*peer
	conns map[*Channel]struct{}

	wg sync.WaitGroup
}

// NewServer создает сервер. metrics может быть nil.
// Обработчик назначается через Bind до вызова Serve.
func NewServer(codec *protocol.Codec, config ChannelConfig, validator TokenValidator, metrics *Metrics) *Server {
	return &Server{
		codec:     codec,
		config:    config.withDefaults(),
		validator: validator,
		metrics:   metrics,
		logger:    logging.GetNetworkLogger(),
		peers:     make(map[protocol.ParticipantID]*peer),
		conns:     make(map[*Channel]struct{}),
	}
}

// Bind назначает обработчик подключений
func (s *Server) Bind(h Handler) { s.handler = h }

// ListenAndServe слушает KCP на addr до отмены ctx
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := kcp.ListenWithOptions(addr, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.logger.Info("🚀 KCP сервер запущен на %s", addr)
	return s.Serve(ctx, ln)
}

// Serve принимает подключения с ln до отмены ctx
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.closeAll()
				s.wg.Wait()
				return nil
			}
			s.logger.Error("Failed to accept connection: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*Channel, 0, len(s.conns))
	for ch := range s.conns {
		conns = append(conns, ch)
	}
	s.mu.Unlock()
	for _, ch := range conns {
		ch.Close()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	ch := NewChannel(conn, s.codec, s.config)
	s.mu.Lock()
	s.conns[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, ch)
		s.mu.Unlock()
		ch.Close()
	}()

	p, err := s.handshake(ctx, ch)
	if err != nil {
		s.logger.Warn("🚫 Рукопожатие с %s не удалось: %v", ch.RemoteAddr(), err)
		s.metrics.handshakeFailed()
		return
	}
	s.metrics.connected()
	defer s.metrics.disconnected()

	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			break
		}
		s.metrics.received(msg.Type)

		switch msg.Type {
		case protocol.MsgIntent:
			s.handler.Intent(p.id, *msg.Intent)
		case protocol.MsgPing:
			_ = ch.Send(&protocol.Message{Type: protocol.MsgPong})
		default:
			s.logger.Debug("Неожиданное сообщение %d от участника %d", msg.Type, p.id)
		}
	}

	if s.release(p) {
		s.logger.Info("👋 Участник %d отключен (%s)", p.id, ch.RemoteAddr())
		s.handler.Disconnected(p.id)
	}
}

// release удаляет участника, если соединение не было заменено новым
func (s *Server) release(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[p.id] != p {
		return false
	}
	delete(s.peers, p.id)
	return true
}

func (s *Server) handshake(ctx context.Context, ch *Channel) (*peer, error) {
	hctx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()

	msg, err := ch.Receive(hctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if msg.Type != protocol.MsgHello {
		return nil, fmt.Errorf("%w: ожидался Hello, получено %d", ErrHandshake, msg.Type)
	}

	claims, err := s.validator.Validate(msg.Hello.Token)
	if err != nil {
		return nil, err
	}
	name := claims.Name
	if name == "" {
		name = msg.Hello.Name
	}

	admission := Admission{
		Name:    name,
		Role:    claims.Role,
		IsAdmin: claims.IsAdmin,
		Resume:  msg.Hello.Resume,
		Addr:    ch.RemoteAddr(),
	}
	welcome, err := s.handler.Admit(hctx, admission)
	if err != nil {
		return nil, err
	}

	// Welcome уходит первым, до любых событий хоста
	if err := ch.Send(&protocol.Message{Type: protocol.MsgWelcome, Welcome: &welcome}); err != nil {
		return nil, err
	}

	p := &peer{id: welcome.Participant, channel: ch}
	s.mu.Lock()
	old := s.peers[p.id]
	s.peers[p.id] = p
	s.mu.Unlock()
	if old != nil {
		s.logger.Warn("🔁 Участник %d переподключился, старое соединение закрыто", p.id)
		old.channel.shutdown(errors.New("заменено новым соединением"))
	}

	// соединение уже зарегистрировано: события тика подключения дойдут до него
	if err := s.handler.Joined(hctx, p.id, admission); err != nil {
		if s.release(p) {
			s.handler.Disconnected(p.id)
		}
		return nil, err
	}
	s.logger.Info("🔗 Участник %d (%s, %s) подключен: %s", p.id, name, claims.Role, ch.RemoteAddr())
	return p, nil
}

// Send реализует replication.Transport
func (s *Server) Send(to protocol.ParticipantID, ev *protocol.Event) {
	s.mu.RLock()
	p := s.peers[to]
	s.mu.RUnlock()
	if p == nil {
		return
	}
	if err := p.channel.Send(protocol.NewEventMessage(ev)); err != nil {
		s.metrics.dropped()
		s.logger.Debug("Событие %s для участника %d отброшено: %v", ev.Kind, to, err)
		return
	}
	s.metrics.sent()
}

// Peers возвращает статистику подключенных участников
func (s *Server) Peers() map[protocol.ParticipantID]ConnectionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[protocol.ParticipantID]ConnectionStats, len(s.peers))
	for id, p := range s.peers {
		out[id] = p.channel.Stats()
	}
	return out
}
