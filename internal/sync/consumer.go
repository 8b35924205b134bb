package sync

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"slices"
	"sync"

	"github.com/annel0/cubestack/internal/eventbus"
	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/logging"
	"github.com/annel0/cubestack/internal/protocol"
	"github.com/annel0/cubestack/internal/replication"
)

// SpectatorView - состояние матча, восстановленное наблюдателем
type SpectatorView struct {
	State   protocol.MatchState `json:"state"`
	Score   int                 `json:"score"`
	Best    int                 `json:"best"`
	Elapsed float64             `json:"elapsed"`
	Cubes   int                 `json:"cubes"`
	LastSeq uint64              `json:"last_seq"`
	Stale   bool                `json:"stale"`
	Batches uint64              `json:"batches"`
}

// SyncConsumer слушает SyncBatch сообщения и восстанавливает по ним
// матч в собственной реплике. Реплика помечается устаревшей при пропуске
// событий и восстанавливается со следующим снимком сетки.
type SyncConsumer struct {
	sub        eventbus.Subscription
	compressor DeltaCompressor
	logger     *logging.Logger

	mu      sync.Mutex
	mirror  *replication.Mirror
	batches uint64
}

func NewSyncConsumer(bus eventbus.EventBus, dims grid.Dims, compressor DeltaCompressor) (*SyncConsumer, error) {
	if compressor == nil {
		compressor = NewPassthroughCompressor()
	}
	sc := &SyncConsumer{
		compressor: compressor,
		logger:     logging.GetSyncLogger(),
		mirror:     replication.NewMirror(dims),
	}
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{BatchEventType}}, sc.handle)
	if err != nil {
		return nil, err
	}
	sc.sub = sub
	return sc, nil
}

func (sc *SyncConsumer) handle(_ context.Context, ev *eventbus.Envelope) {
	changes, err := sc.compressor.Decompress(ev.Payload)
	if err != nil {
		sc.logger.Warn("SyncConsumer decompress error: %v", err)
		if len(changes) == 0 {
			return
		}
	}
	sc.logger.Trace("SyncConsumer: пакет %d событий от %s", len(changes), ev.Source)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.batches++
	for i := range changes {
		if err := sc.applyChange(&changes[i]); err != nil {
			sc.logger.Warn("SyncConsumer: событие #%d: %v", changes[i].Seq, err)
		}
	}
}

// applyChange применяет одно событие к реплике
func (sc *SyncConsumer) applyChange(change *Change) error {
	if change.Seq != 0 && change.Seq <= sc.mirror.LastSeq() {
		return nil
	}
	if last := sc.mirror.LastSeq(); last != 0 && change.Seq > last+1 {
		sc.logger.Warn("⚠️ SyncConsumer: пропуск событий %d..%d", last+1, change.Seq-1)
		sc.mirror.MarkStale()
	}

	var ev protocol.Event
	if err := json.Unmarshal(change.Data, &ev); err != nil {
		return err
	}
	if err := sc.mirror.Apply(&ev); err != nil && !errors.Is(err, replication.ErrNeedResync) {
		return err
	}
	return nil
}

// View возвращает текущее состояние реплики
func (sc *SyncConsumer) View() SpectatorView {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return SpectatorView{
		State:   sc.mirror.State(),
		Score:   sc.mirror.Score(),
		Best:    sc.mirror.Best(),
		Elapsed: sc.mirror.Elapsed(),
		Cubes:   sc.mirror.Grid().Len(),
		LastSeq: sc.mirror.LastSeq(),
		Stale:   sc.mirror.Stale(),
		Batches: sc.batches,
	}
}

// Cubes возвращает копию кубов реплики
func (sc *SyncConsumer) Cubes() iter.Seq[grid.Cube] {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return slices.Values(slices.Collect(sc.mirror.Snapshot()))
}

func (sc *SyncConsumer) Stop() { sc.sub.Unsubscribe() }
