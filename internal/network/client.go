package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/cubestack/internal/logging"
	"github.com/annel0/cubestack/internal/protocol"
)

// Client - подключение участника к хосту
type Client struct {
	channel *Channel
	welcome protocol.Welcome
	events  chan *protocol.Event
	logger  *logging.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// Dial подключается к хосту по KCP и выполняет рукопожатие
func Dial(ctx context.Context, addr string, codec *protocol.Codec, config ChannelConfig, hello protocol.Hello) (*Client, error) {
	conn, err := kcp.DialWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return Connect(ctx, conn, codec, config, hello)
}

// Connect выполняет рукопожатие поверх готового соединения
func Connect(ctx context.Context, conn net.Conn, codec *protocol.Codec, config ChannelConfig, hello protocol.Hello) (*Client, error) {
	config = config.withDefaults()
	ch := NewChannel(conn, codec, config)
	if err := ch.Send(&protocol.Message{Type: protocol.MsgHello, Hello: &hello}); err != nil {
		ch.Close()
		return nil, err
	}

	hctx, cancel := context.WithTimeout(ctx, config.HandshakeTimeout)
	defer cancel()
	msg, err := ch.Receive(hctx)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if msg.Type != protocol.MsgWelcome {
		ch.Close()
		return nil, fmt.Errorf("%w: ожидался Welcome, получено %d", ErrHandshake, msg.Type)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	c := &Client{
		channel: ch,
		welcome: *msg.Welcome,
		events:  make(chan *protocol.Event, config.BufferSize),
		logger:  logging.GetNetworkLogger(),
		cancel:  runCancel,
		done:    make(chan struct{}),
	}
	c.logger.Info("🔗 Подключен к хосту %s как участник %d (%s)", ch.RemoteAddr(), c.welcome.Participant, c.welcome.Role)

	go c.readLoop(runCtx)
	if config.IdleTimeout > 0 {
		go c.pingLoop(runCtx, config.IdleTimeout/3)
	}
	return c, nil
}

// Welcome возвращает ответ хоста на рукопожатие
func (c *Client) Welcome() protocol.Welcome { return c.welcome }

// Events возвращает поток событий хоста; закрывается при разрыве
func (c *Client) Events() <-chan *protocol.Event { return c.events }

// SendIntent отправляет намерение хосту
func (c *Client) SendIntent(in protocol.Intent) error {
	return c.channel.Send(protocol.NewIntentMessage(in))
}

// Done закрывается при разрыве соединения
func (c *Client) Done() <-chan struct{} { return c.done }

// Close закрывает соединение
func (c *Client) Close() error {
	c.cancel()
	err := c.channel.Close()
	<-c.done
	return err
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	for {
		msg, err := c.channel.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("🔌 Соединение с хостом потеряно: %v", err)
			}
			return
		}
		switch msg.Type {
		case protocol.MsgEvent:
			select {
			case c.events <- msg.Event:
			case <-ctx.Done():
				return
			}
		case protocol.MsgPong:
		default:
			c.logger.Debug("Неожиданное сообщение %d от хоста", msg.Type)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = c.channel.Send(&protocol.Message{Type: protocol.MsgPing})
		case <-ctx.Done():
			return
		case <-c.channel.Done():
			return
		}
	}
}
