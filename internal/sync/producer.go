package sync

import (
	"context"

	"github.com/annel0/cubestack/internal/eventbus"
)

// SyncProducer подписывается на события матча своего хоста
// и передаёт их BatchManager'у.
type SyncProducer struct {
	bm  *BatchManager
	sub eventbus.Subscription
}

func NewSyncProducer(bus eventbus.EventBus, source string, bm *BatchManager) (*SyncProducer, error) {
	sp := &SyncProducer{bm: bm}
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{Sources: []string{source}}, sp.handle)
	if err != nil {
		return nil, err
	}
	sp.sub = sub
	return sp, nil
}

func (sp *SyncProducer) handle(_ context.Context, ev *eventbus.Envelope) {
	if ev.EventType == BatchEventType {
		return
	}
	sp.bm.AddChange(Change{
		Seq:        ev.Seq,
		Data:       ev.Payload,
		Priority:   ev.Priority,
		Timestamp:  ev.Timestamp,
		ChangeType: ev.EventType,
	})
}

func (sp *SyncProducer) Stop() { sp.sub.Unsubscribe() }
