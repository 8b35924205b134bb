package network

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrChannelClosed - канал закрыт
	ErrChannelClosed = errors.New("network: канал закрыт")
	// ErrSendQueueFull - очередь отправки переполнена, сообщение отброшено
	ErrSendQueueFull = errors.New("network: очередь отправки переполнена")
	// ErrHandshake - рукопожатие не состоялось
	ErrHandshake = errors.New("network: ошибка рукопожатия")
)

// ChannelConfig настройки канала
type ChannelConfig struct {
	BufferSize       int           // Размер очередей отправки и приема
	HandshakeTimeout time.Duration // Время на Hello после подключения
	IdleTimeout      time.Duration // Разрыв при отсутствии входящих сообщений
	WriteTimeout     time.Duration // Таймаут записи одного кадра
}

// DefaultChannelConfig возвращает настройки по умолчанию
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		BufferSize:       256,
		HandshakeTimeout: 5 * time.Second,
		IdleTimeout:      15 * time.Second,
		WriteTimeout:     2 * time.Second,
	}
}

// withDefaults заполняет нулевые поля значениями по умолчанию
func (c ChannelConfig) withDefaults() ChannelConfig {
	d := DefaultChannelConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	return c
}

// ConnectionStats статистика соединения
type ConnectionStats struct {
	PacketsSent     uint64    // Отправлено пакетов
	PacketsReceived uint64    // Получено пакетов
	PacketsDropped  uint64    // Отброшено при переполнении очереди
	BytesSent       uint64    // Отправлено байт
	BytesReceived   uint64    // Получено байт
	LastActivity    time.Time // Последняя активность
	RemoteAddr      string    // Адрес удалённого узла
}

type channelStats struct {
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	lastActivity    atomic.Int64
}

func (s *channelStats) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

func (s *channelStats) snapshot(addr string) ConnectionStats {
	return ConnectionStats{
		PacketsSent:     s.packetsSent.Load(),
		PacketsReceived: s.packetsReceived.Load(),
		PacketsDropped:  s.packetsDropped.Load(),
		BytesSent:       s.bytesSent.Load(),
		BytesReceived:   s.bytesReceived.Load(),
		LastActivity:    time.Unix(0, s.lastActivity.Load()),
		RemoteAddr:      addr,
	}
}
