package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// MsgType определяет тип сообщения в конверте
type MsgType int32

const (
	MsgUnknown MsgType = 0

	// Рукопожатие
	MsgHello   MsgType = 1
	MsgWelcome MsgType = 2
	MsgPing    MsgType = 3
	MsgPong    MsgType = 4

	// Игровой трафик
	MsgIntent MsgType = 10
	MsgEvent  MsgType = 11
)

// Номера полей конверта
const (
	fieldType      protowire.Number = 1
	fieldTimestamp protowire.Number = 2
	fieldFlags     protowire.Number = 3
	fieldPayload   protowire.Number = 4
)

const flagZstd uint64 = 1

// DefaultCompressThreshold - полезная нагрузка больше порога сжимается zstd
const DefaultCompressThreshold = 1024

var (
	ErrEmptyMessage = errors.New("пустое сообщение")
	ErrUnknownType  = errors.New("неизвестный тип сообщения")
)

// Message - конверт сетевого сообщения. Заполнено поле, соответствующее Type.
type Message struct {
	Type      MsgType
	Timestamp int64 // unix ms

	Hello   *Hello
	Welcome *Welcome
	Intent  *Intent
	Event   *Event
}

// Codec кодирует сообщения: protobuf-конверт с JSON телом,
// большие тела сжимаются zstd
type Codec struct {
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCodec создает кодек; threshold <= 0 отключает сжатие
func NewCodec(threshold int) (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}
	return &Codec{threshold: threshold, encoder: encoder, decoder: decoder}, nil
}

// Close освобождает ресурсы zstd
func (c *Codec) Close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}

func (m *Message) body() (any, error) {
	switch m.Type {
	case MsgHello:
		return m.Hello, nil
	case MsgWelcome:
		return m.Welcome, nil
	case MsgIntent:
		return m.Intent, nil
	case MsgEvent:
		return m.Event, nil
	case MsgPing, MsgPong:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, m.Type)
}

// Marshal сериализует сообщение
func (c *Codec) Marshal(m *Message) ([]byte, error) {
	body, err := m.body()
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ошибка сериализации %d: %w", m.Type, err)
		}
	}

	var flags uint64
	if c.threshold > 0 && len(payload) > c.threshold {
		payload = c.encoder.EncodeAll(payload, nil)
		flags |= flagZstd
	}

	ts := m.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	b := make([]byte, 0, len(payload)+24)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ts))
	if flags != 0 {
		b = protowire.AppendTag(b, fieldFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, flags)
	}
	if len(payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, payload)
	}
	return b, nil
}

// Unmarshal разбирает сообщение. Неизвестные поля конверта пропускаются.
func (c *Codec) Unmarshal(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}

	m := &Message{}
	var flags uint64
	var payload []byte

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("ошибка тега: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			m.Type = MsgType(v)
			data = data[n:]
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			m.Timestamp = int64(v)
			data = data[n:]
		case num == fieldFlags && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			flags = v
			data = data[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			payload = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}

	if flags&flagZstd != 0 {
		decoded, err := c.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("decompression failed: %w", err)
		}
		payload = decoded
	}

	var target any
	switch m.Type {
	case MsgHello:
		m.Hello = &Hello{}
		target = m.Hello
	case MsgWelcome:
		m.Welcome = &Welcome{}
		target = m.Welcome
	case MsgIntent:
		m.Intent = &Intent{}
		target = m.Intent
	case MsgEvent:
		m.Event = &Event{}
		target = m.Event
	case MsgPing, MsgPong:
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, m.Type)
	}

	if err := json.Unmarshal(payload, target); err != nil {
		return nil, fmt.Errorf("ошибка разбора тела %d: %w", m.Type, err)
	}
	return m, nil
}

// NewEventMessage оборачивает событие в конверт
func NewEventMessage(ev *Event) *Message { return &Message{Type: MsgEvent, Event: ev} }

// NewIntentMessage оборачивает намерение в конверт
func NewIntentMessage(in Intent) *Message { return &Message{Type: MsgIntent, Intent: &in} }
