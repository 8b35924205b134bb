package replication

import (
	"sync"

	"github.com/annel0/cubestack/internal/protocol"
)

// LoopbackTransport складывает события в очереди участников в памяти.
// Используется для локальной реплики и в тестах.
type LoopbackTransport struct {
	mu     sync.Mutex
	queues map[protocol.ParticipantID][]*protocol.Event
}

// NewLoopbackTransport создает пустой транспорт
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{queues: make(map[protocol.ParticipantID][]*protocol.Event)}
}

// Send реализует Transport
func (t *LoopbackTransport) Send(to protocol.ParticipantID, ev *protocol.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queues[to] = append(t.queues[to], ev)
}

// Drain забирает накопленные события участника
func (t *LoopbackTransport) Drain(id protocol.ParticipantID) []*protocol.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.queues[id]
	delete(t.queues, id)
	return out
}
