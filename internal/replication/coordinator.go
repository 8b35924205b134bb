package replication

import (
	"iter"
	"slices"
	"sort"

	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/logging"
	"github.com/annel0/cubestack/internal/piece"
	"github.com/annel0/cubestack/internal/protocol"
)

// RequiredParticipants - матч идет только при двух подключенных участниках
const RequiredParticipants = 2

// Transport доставляет события участникам. Отправка не блокирует
// симуляцию; надежность и порядок - забота транспорта.
type Transport interface {
	Send(to protocol.ParticipantID, ev *protocol.Event)
}

// Sink наблюдает за всеми событиями (шина событий, метрики)
type Sink interface {
	Observe(ev *protocol.Event)
}

// GridSource - источник снимка сетки
type GridSource interface {
	Dims() grid.Dims
	Snapshot() iter.Seq[grid.Cube]
}

// Match - то, что координатору нужно от контроллера матча
type Match interface {
	// ParticipantsReady вызывается, когда подключены оба участника
	ParticipantsReady()
	// ParticipantLost вызывается, когда участников стало меньше двух
	ParticipantLost()
	// Sync возвращает полное состояние матча для ресинхронизации
	Sync() protocol.MatchSync
}

// Participant - подключенный или временно отключенный участник
type Participant struct {
	ID        protocol.ParticipantID `json:"id"`
	Name      string                 `json:"name"`
	Role      protocol.Role          `json:"role"`
	Connected bool                   `json:"connected"`
	OwnsPiece bool                   `json:"owns_piece"`
}

// Coordinator рассылает события хоста и ресинхронизирует участников
type Coordinator struct {
	grid        GridSource
	match       Match
	transport   Transport
	sinks       []Sink
	scheduler   *Scheduler
	resyncDelay float64
	logger      *logging.Logger

	participants map[protocol.ParticipantID]*Participant
	pending      map[protocol.ParticipantID]TaskID
	seq          uint64
	activePiece  uint64
}

// NewCoordinator создает координатор. resyncDelay - задержка полной
// синхронизации после подключения, в секундах тикового времени.
func NewCoordinator(g GridSource, t Transport, sched *Scheduler, resyncDelay float64) *Coordinator {
	return &Coordinator{
		grid:         g,
		transport:    t,
		scheduler:    sched,
		resyncDelay:  resyncDelay,
		logger:       logging.GetReplicationLogger(),
		participants: make(map[protocol.ParticipantID]*Participant),
		pending:      make(map[protocol.ParticipantID]TaskID),
	}
}

// Bind связывает координатор с контроллером матча
func (c *Coordinator) Bind(m Match) { c.match = m }

// AddSink добавляет наблюдателя событий
func (c *Coordinator) AddSink(s Sink) { c.sinks = append(c.sinks, s) }

// Register добавляет участника без подключения
func (c *Coordinator) Register(id protocol.ParticipantID, name string, role protocol.Role) *Participant {
	p, ok := c.participants[id]
	if !ok {
		p = &Participant{ID: id}
		c.participants[id] = p
	}
	p.Name = name
	p.Role = role
	return p
}

// SetPieceOwner назначает участника, управляющего падающей фигурой
func (c *Coordinator) SetPieceOwner(id protocol.ParticipantID) {
	for _, p := range c.participants {
		p.OwnsPiece = p.ID == id
	}
}

// PieceOwner возвращает владельца фигуры или 0
func (c *Coordinator) PieceOwner() protocol.ParticipantID {
	for _, p := range c.participants {
		if p.OwnsPiece {
			return p.ID
		}
	}
	return 0
}

// Participant возвращает копию участника
func (c *Coordinator) Participant(id protocol.ParticipantID) (Participant, bool) {
	p, ok := c.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Participants возвращает участников по возрастанию идентификатора
func (c *Coordinator) Participants() []Participant {
	out := make([]Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Connected возвращает число подключенных участников
func (c *Coordinator) Connected() int {
	n := 0
	for _, p := range c.participants {
		if p.Connected {
			n++
		}
	}
	return n
}

// Join отмечает участника подключенным. Удаленный участник получает полную
// синхронизацию после задержки; при кворуме матч стартует или продолжается.
func (c *Coordinator) Join(id protocol.ParticipantID) {
	p, ok := c.participants[id]
	if !ok {
		p = c.Register(id, "", protocol.RoleRemote)
	}
	if p.Connected {
		return
	}
	p.Connected = true
	c.logger.Info("🔌 Участник %d (%s) подключен, всего: %d", id, p.Role, c.Connected())

	if p.Role == protocol.RoleRemote {
		c.scheduleResync(id)
	}
	if c.Connected() >= RequiredParticipants && c.match != nil {
		c.match.ParticipantsReady()
	}
}

// Leave отмечает участника отключенным. Отложенная синхронизация отменяется,
// состояние сетки и матча сохраняется.
func (c *Coordinator) Leave(id protocol.ParticipantID) {
	p, ok := c.participants[id]
	if !ok || !p.Connected {
		return
	}
	p.Connected = false
	if n := c.scheduler.CancelOwner(id); n > 0 {
		c.logger.Debug("⏹️ Отменено задач участника %d: %d", id, n)
	}
	delete(c.pending, id)
	c.logger.Warn("🔌 Участник %d отключен, осталось: %d", id, c.Connected())

	if c.Connected() < RequiredParticipants && c.match != nil {
		c.match.ParticipantLost()
	}
}

func (c *Coordinator) scheduleResync(id protocol.ParticipantID) {
	if old, ok := c.pending[id]; ok {
		c.scheduler.Cancel(old)
	}
	c.pending[id] = c.scheduler.Schedule(id, c.resyncDelay, func() {
		delete(c.pending, id)
		c.Resync(id)
	})
}

// Resync отправляет участнику снимок сетки и состояние матча
func (c *Coordinator) Resync(id protocol.ParticipantID) {
	snapshot := &protocol.GridSnapshot{
		Dims:  c.grid.Dims(),
		Cubes: slices.Collect(c.grid.Snapshot()),
	}
	c.SendTo(id, &protocol.Event{Kind: protocol.KindGridSnapshot, GridSnapshot: snapshot})

	if c.match != nil {
		sync := c.match.Sync()
		c.SendTo(id, &protocol.Event{Kind: protocol.KindMatchSync, MatchSync: &sync})
	}
	c.logger.Info("📦 Участник %d синхронизирован: %d кубов", id, len(snapshot.Cubes))
}

// Broadcast рассылает событие всем подключенным удаленным участникам
func (c *Coordinator) Broadcast(ev *protocol.Event) {
	c.seq++
	ev.Seq = c.seq
	ev.Target = 0
	for _, p := range c.participants {
		if p.Connected && p.Role == protocol.RoleRemote {
			c.transport.Send(p.ID, ev)
		}
	}
	c.observe(ev)
}

// SendTo отправляет событие одному участнику
func (c *Coordinator) SendTo(id protocol.ParticipantID, ev *protocol.Event) {
	c.seq++
	ev.Seq = c.seq
	ev.Target = id
	if p, ok := c.participants[id]; ok && p.Connected && p.Role == protocol.RoleRemote {
		c.transport.Send(id, ev)
	}
	c.observe(ev)
}

func (c *Coordinator) observe(ev *protocol.Event) {
	for _, s := range c.sinks {
		s.Observe(ev)
	}
}

// Seq возвращает номер последнего события
func (c *Coordinator) Seq() uint64 { return c.seq }

// PieceSpawned рассылает появление новой фигуры
func (c *Coordinator) PieceSpawned(p *piece.Piece, next piece.Shape) {
	c.activePiece = uint64(p.ID())
	c.Broadcast(&protocol.Event{Kind: protocol.KindPieceSpawned, PieceSpawned: SpawnPayload(p, next)})
}

// SpawnPayload строит описание фигуры для репликации
func SpawnPayload(p *piece.Piece, next piece.Shape) *protocol.PieceSpawned {
	return &protocol.PieceSpawned{
		PieceID: uint64(p.ID()),
		Shape:   p.Shape(),
		Cubes:   p.Cubes(),
		Next:    next,
	}
}

// PieceMoved реализует piece.Sink
func (c *Coordinator) PieceMoved(p *piece.Piece) {
	c.Broadcast(&protocol.Event{
		Kind:       protocol.KindPieceMoved,
		PieceMoved: &protocol.PieceMoved{PieceID: uint64(p.ID()), Cells: p.Cells()},
	})
}

// Feedback реализует piece.Sink: сигнал получает только владелец фигуры
func (c *Coordinator) Feedback(_ *piece.Piece, in piece.Input, accepted bool) {
	owner := c.PieceOwner()
	if owner == 0 {
		return
	}
	c.SendTo(owner, &protocol.Event{
		Kind:     protocol.KindFeedback,
		Feedback: &protocol.Feedback{Intent: in.String(), Accepted: accepted},
	})
}

// Reject сообщает участнику об отклоненном намерении вне фигуры
func (c *Coordinator) Reject(id protocol.ParticipantID, intent string) {
	c.SendTo(id, &protocol.Event{
		Kind:     protocol.KindFeedback,
		Feedback: &protocol.Feedback{Intent: intent, Accepted: false},
	})
}

// OnFreeze реализует grid.Observer
func (c *Coordinator) OnFreeze(report grid.FreezeReport) {
	c.Broadcast(&protocol.Event{
		Kind:        protocol.KindPieceFrozen,
		PieceFrozen: &protocol.PieceFrozen{PieceID: c.activePiece, Cubes: report.Frozen},
	})
	if len(report.Cleared) == 0 {
		return
	}
	c.Broadcast(&protocol.Event{
		Kind: protocol.KindLayersCleared,
		LayersCleared: &protocol.LayersCleared{
			Layers: report.Cleared,
			Steps:  report.Steps,
			Points: report.Points,
		},
	})
}

// OnClearAll реализует grid.Observer: участники получают пустой снимок
func (c *Coordinator) OnClearAll(int) {
	c.Broadcast(&protocol.Event{
		Kind:         protocol.KindGridSnapshot,
		GridSnapshot: &protocol.GridSnapshot{Dims: c.grid.Dims()},
	})
}
