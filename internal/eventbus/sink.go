package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/cubestack/internal/logging"
	"github.com/annel0/cubestack/internal/protocol"
)

// PayloadVersion - версия схемы JSON события в Envelope.Payload
const PayloadVersion = 1

// Sink публикует события хоста в шину. Observe вызывается из тика хоста
// и никогда не блокирует: события ставятся в очередь, а при ее
// переполнении отбрасываются.
type Sink struct {
	bus     EventBus
	source  string
	queue   chan *Envelope
	wg      sync.WaitGroup
	dropped atomic.Uint64
	logger  *logging.Logger

	// matchID меняется при каждом новом раунде; трогается только из Observe
	matchID string
	once    sync.Once
}

// NewSink запускает публикацию событий в bus
func NewSink(bus EventBus, source string, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &Sink{
		bus:     bus,
		source:  source,
		queue:   make(chan *Envelope, buffer),
		logger:  logging.GetComponentLogger("eventbus"),
		matchID: uuid.NewString(),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Observe реализует replication.Sink
func (s *Sink) Observe(ev *protocol.Event) {
	if sc := ev.StateChanged; sc != nil && sc.New == protocol.StatePlaying &&
		(sc.Old == protocol.StateWaiting || sc.Old.Terminal()) {
		s.matchID = uuid.NewString()
	}

	env, err := NewEnvelope(s.source, s.matchID, ev)
	if err != nil {
		s.logger.Error("❌ Не удалось упаковать событие %s: %v", ev.Kind, err)
		return
	}

	select {
	case s.queue <- env:
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			s.logger.Warn("⚠️ Очередь шины заполнена, отброшено событий: %d", n)
		}
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for env := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.bus.Publish(ctx, env); err != nil {
			s.logger.Warn("⚠️ Публикация %s не удалась: %v", env.EventType, err)
		}
		cancel()
	}
}

// Dropped возвращает число отброшенных событий
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// Close дожидается публикации поставленных событий
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.queue)
		s.wg.Wait()
	})
}

// NewEnvelope упаковывает событие хоста
func NewEnvelope(source, matchID string, ev *protocol.Event) (*Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: ev.Kind.String(),
		Version:   PayloadVersion,
		MatchID:   matchID,
		Seq:       ev.Seq,
		Priority:  priorityOf(ev.Kind),
		Payload:   payload,
	}
	if ev.Addressed() {
		env.Metadata = map[string]string{"target": fmt.Sprint(ev.Target)}
	}
	return env, nil
}

// DecodeEvent распаковывает событие хоста из Envelope
func DecodeEvent(env *Envelope) (*protocol.Event, error) {
	if env.Version != PayloadVersion {
		return nil, fmt.Errorf("eventbus: неподдерживаемая версия %d", env.Version)
	}
	var ev protocol.Event
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return nil, fmt.Errorf("eventbus: payload %s: %w", env.EventType, err)
	}
	return &ev, nil
}

// priorityOf: движения фигуры и сигналы можно потерять, смену состояния - нет
func priorityOf(k protocol.Kind) int {
	switch k {
	case protocol.KindStateChanged, protocol.KindScoreChanged, protocol.KindLayersCleared:
		return 9
	case protocol.KindPieceFrozen, protocol.KindPieceSpawned, protocol.KindGridSnapshot:
		return 5
	case protocol.KindPieceMoved, protocol.KindFeedback:
		return 1
	}
	return 3
}
