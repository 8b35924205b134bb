package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/cubestack/internal/logging"
	"github.com/annel0/cubestack/internal/protocol"
)

// Channel - двунаправленный канал сообщений поверх потокового соединения.
// Кадры: 4 байта длины + конверт protocol.Codec.
type Channel struct {
	conn   net.Conn
	codec  *protocol.Codec
	config ChannelConfig
	logger *logging.Logger
	stats  channelStats

	sendBuffer chan *protocol.Message
	recvBuffer chan *protocol.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// configureKCP применяет настройки KCP для игрового трафика
func configureKCP(conn net.Conn) {
	sess, ok := conn.(*kcp.UDPSession)
	if !ok {
		return
	}
	sess.SetStreamMode(true)
	sess.SetWriteDelay(false)
	sess.SetNoDelay(1, 20, 2, 1) // Агрессивные настройки для игр
	sess.SetWindowSize(512, 512) // Увеличиваем окно для пропускной способности
	sess.SetMtu(1400)            // Стандартный MTU для интернета
}

// NewChannel запускает обработку соединения
func NewChannel(conn net.Conn, codec *protocol.Codec, config ChannelConfig) *Channel {
	configureKCP(conn)
	config = config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		conn:       conn,
		codec:      codec,
		config:     config,
		logger:     logging.GetNetworkLogger(),
		sendBuffer: make(chan *protocol.Message, config.BufferSize),
		recvBuffer: make(chan *protocol.Message, config.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	ch.stats.touch()

	ch.wg.Add(2)
	go ch.sendLoop()
	go ch.receiveLoop()
	return ch
}

// Send ставит сообщение в очередь отправки; при переполнении сообщение
// отбрасывается, чтобы медленный участник не задерживал хост
func (ch *Channel) Send(msg *protocol.Message) error {
	select {
	case <-ch.ctx.Done():
		return ErrChannelClosed
	default:
	}
	select {
	case ch.sendBuffer <- msg:
		return nil
	default:
		ch.stats.packetsDropped.Add(1)
		return ErrSendQueueFull
	}
}

// Receive получает следующее сообщение
func (ch *Channel) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg, ok := <-ch.recvBuffer:
		if !ok {
			return nil, ch.closeErr()
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done закрывается вместе с каналом
func (ch *Channel) Done() <-chan struct{} { return ch.ctx.Done() }

// Close закрывает канал и соединение
func (ch *Channel) Close() error {
	ch.shutdown(nil)
	ch.wg.Wait()
	return nil
}

func (ch *Channel) shutdown(err error) {
	ch.closeOnce.Do(func() {
		ch.errMu.Lock()
		ch.err = err
		ch.errMu.Unlock()
		ch.cancel()
		_ = ch.conn.Close()
	})
}

func (ch *Channel) closeErr() error {
	ch.errMu.Lock()
	defer ch.errMu.Unlock()
	if ch.err != nil {
		return ch.err
	}
	return ErrChannelClosed
}

// RemoteAddr возвращает адрес удалённого узла
func (ch *Channel) RemoteAddr() string { return ch.conn.RemoteAddr().String() }

// Stats возвращает статистику соединения
func (ch *Channel) Stats() ConnectionStats { return ch.stats.snapshot(ch.RemoteAddr()) }

// sendLoop обрабатывает отправку сообщений
func (ch *Channel) sendLoop() {
	defer ch.wg.Done()

	for {
		select {
		case msg := <-ch.sendBuffer:
			if err := ch.write(msg); err != nil {
				ch.logger.Warn("Failed to send message: %v", err)
				ch.shutdown(err)
				return
			}
		case <-ch.ctx.Done():
			return
		}
	}
}

func (ch *Channel) write(msg *protocol.Message) error {
	data, err := ch.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	if ch.config.WriteTimeout > 0 {
		_ = ch.conn.SetWriteDeadline(time.Now().Add(ch.config.WriteTimeout))
	}
	if err := protocol.WriteFrame(ch.conn, data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	logging.LogMessage(ch.RemoteAddr(), "OUT", msg.Type, data)
	ch.stats.packetsSent.Add(1)
	ch.stats.bytesSent.Add(uint64(len(data) + 4))
	return nil
}

// receiveLoop обрабатывает получение сообщений
func (ch *Channel) receiveLoop() {
	defer ch.wg.Done()
	defer close(ch.recvBuffer)

	for {
		if ch.config.IdleTimeout > 0 {
			_ = ch.conn.SetReadDeadline(time.Now().Add(ch.config.IdleTimeout))
		}
		data, err := protocol.ReadFrame(ch.conn)
		if err != nil {
			select {
			case <-ch.ctx.Done():
			default:
				if errors.Is(err, io.EOF) {
					err = ErrChannelClosed
				}
				ch.shutdown(err)
			}
			return
		}

		msg, err := ch.codec.Unmarshal(data)
		if err != nil {
			logging.LogProtocolError(ch.RemoteAddr(), err, data)
			continue
		}

		logging.LogMessage(ch.RemoteAddr(), "IN", msg.Type, data)
		ch.stats.packetsReceived.Add(1)
		ch.stats.bytesReceived.Add(uint64(len(data) + 4))
		ch.stats.touch()

		select {
		case ch.recvBuffer <- msg:
		case <-ch.ctx.Done():
			return
		}
	}
}
