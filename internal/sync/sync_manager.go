package sync

import (
	"time"

	"github.com/annel0/cubestack/internal/eventbus"
	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/logging"
)

// SyncManager координирует работу всех компонентов синхронизации:
// BatchManager, SyncProducer, SyncConsumer.
type SyncManager struct {
	bm       *BatchManager
	producer *SyncProducer
	consumer *SyncConsumer
}

type SyncConfig struct {
	Source       string
	Bus          eventbus.EventBus
	Dims         grid.Dims
	BatchSize    int
	FlushEvery   time.Duration
	UseGzipCompr bool
}

func NewSyncManager(cfg SyncConfig) (*SyncManager, error) {
	var compressor DeltaCompressor
	if cfg.UseGzipCompr {
		compressor = NewGzipCompressor()
		logging.Info("🔄 SyncManager: используется gzip-компрессия")
	} else {
		compressor = NewPassthroughCompressor()
		logging.Info("🔄 SyncManager: компрессия отключена")
	}

	bm := NewBatchManager(cfg.Bus, cfg.Source, cfg.BatchSize, cfg.FlushEvery, compressor)
	producer, err := NewSyncProducer(cfg.Bus, cfg.Source, bm)
	if err != nil {
		bm.Stop()
		return nil, err
	}

	consumer, err := NewSyncConsumer(cfg.Bus, cfg.Dims, compressor)
	if err != nil {
		producer.Stop()
		bm.Stop()
		return nil, err
	}

	logging.Info("✅ SyncManager инициализирован: source=%s, batch=%d, flush=%v",
		cfg.Source, cfg.BatchSize, cfg.FlushEvery)

	return &SyncManager{
		bm:       bm,
		producer: producer,
		consumer: consumer,
	}, nil
}

// Spectator возвращает реплику наблюдателя
func (sm *SyncManager) Spectator() *SyncConsumer { return sm.consumer }

func (sm *SyncManager) Stop() {
	sm.producer.Stop()
	sm.bm.Stop()
	sm.consumer.Stop()
	logging.Info("🔄 SyncManager остановлен")
}
