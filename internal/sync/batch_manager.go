package sync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/cubestack/internal/eventbus"
	"github.com/annel0/cubestack/internal/logging"
)

// BatchEventType - тип пакетного события в шине
const BatchEventType = "sync.batch"

// Change содержит одно событие матча в сериализованном виде.
type Change struct {
	Seq        uint64    // Номер события хоста
	Data       []byte    // JSON protocol.Event
	Priority   int       // Приоритет исходного Envelope
	Timestamp  time.Time // Время создания изменения
	ChangeType string    // Тип события: piece.frozen, score.changed…
}

// BatchManager накапливает события матча и отправляет их пакетами через EventBus.
// Порядок событий сохраняется: при заполнении буфер сбрасывается досрочно,
// события не отбрасываются.
type BatchManager struct {
	mu       sync.Mutex
	buf      []Change
	capacity int

	flushEvery time.Duration
	bus        eventbus.EventBus
	source     string
	compressor DeltaCompressor
	logger     *logging.Logger

	kick chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewBatchManager создаёт менеджер с указанным лимитом буфера и интервалом отправки.
func NewBatchManager(bus eventbus.EventBus, source string, capacity int, flushEvery time.Duration, compressor DeltaCompressor) *BatchManager {
	if compressor == nil {
		compressor = NewPassthroughCompressor()
	}
	if capacity <= 0 {
		capacity = 64
	}
	if flushEvery <= 0 {
		flushEvery = time.Second
	}
	bm := &BatchManager{
		capacity:   capacity,
		flushEvery: flushEvery,
		bus:        bus,
		source:     source,
		compressor: compressor,
		logger:     logging.GetSyncLogger(),
		kick:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go bm.loop()
	return bm
}

// AddChange добавляет изменение в буфер
func (bm *BatchManager) AddChange(ch Change) {
	bm.mu.Lock()
	bm.buf = append(bm.buf, ch)
	full := len(bm.buf) >= bm.capacity
	bm.mu.Unlock()

	if full {
		select {
		case bm.kick <- struct{}{}:
		default:
		}
	}
}

func (bm *BatchManager) loop() {
	defer close(bm.done)
	ticker := time.NewTicker(bm.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bm.flush()
		case <-bm.kick:
			bm.flush()
		case <-bm.quit:
			return
		}
	}
}

// flush отсылает накопленные изменения единым сообщением.
// Вызывается только из loop и из Stop после его завершения.
func (bm *BatchManager) flush() {
	bm.mu.Lock()
	if len(bm.buf) == 0 {
		bm.mu.Unlock()
		return
	}
	changes := bm.buf
	bm.buf = make([]Change, 0, bm.capacity)
	bm.mu.Unlock()

	payload, err := bm.compressor.Compress(changes)
	if err != nil {
		bm.logger.Warn("BatchManager compress error: %v", err)
		return
	}

	env := &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    bm.source,
		EventType: BatchEventType,
		Version:   eventbus.PayloadVersion,
		Seq:       changes[len(changes)-1].Seq,
		Priority:  9,
		Payload:   payload,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bm.bus.Publish(ctx, env); err != nil {
		bm.logger.Warn("BatchManager publish error: %v", err)
		return
	}
	bm.logger.Trace("📦 Пакет: %d событий, %d байт", len(changes), len(payload))
}

// Stop завершает работу менеджера и отправляет оставшиеся изменения.
func (bm *BatchManager) Stop() {
	bm.once.Do(func() {
		close(bm.quit)
		<-bm.done
		bm.flush()
	})
}
