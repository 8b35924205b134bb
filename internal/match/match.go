package match

import (
	"math"

	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/logging"
	"github.com/annel0/cubestack/internal/piece"
	"github.com/annel0/cubestack/internal/protocol"
	"github.com/annel0/cubestack/internal/replication"
	"github.com/annel0/cubestack/internal/vec"
)

// Broadcaster рассылает события матча участникам
type Broadcaster interface {
	Broadcast(ev *protocol.Event)
	PieceSpawned(p *piece.Piece, next piece.Shape)
}

// Timer - реплицируемая часть часов матча
type Timer struct {
	Seconds      int
	DropInterval float64
}

// Match - единственный матч сессии. Все методы вызываются только
// из тика хоста.
type Match struct {
	settings Settings
	grid     *grid.Grid
	out      Broadcaster
	sink     piece.Sink
	shapes   ShapeSource
	best     BestScore
	logger   *logging.Logger

	phase Phase
	state *replication.Versioned[State]
	score *replication.Versioned[int]
	timer *replication.Versioned[Timer]

	elapsed      float64
	dropInterval float64
	rampClock    float64

	controller   *piece.Controller
	preview      *piece.Piece
	nextPieceID  piece.ID
	spawnBlocked bool
	inputs       piece.Input

	pausedByDisconnect bool
}

// New создает матч в состоянии Waiting и подписывает его на заморозки сетки.
// sink получает движения фигуры; best может быть nil.
func New(settings Settings, g *grid.Grid, out Broadcaster, sink piece.Sink, shapes ShapeSource, best BestScore) *Match {
	if best == nil {
		best = &memoryBest{}
	}
	m := &Match{
		settings:     settings,
		grid:         g,
		out:          out,
		sink:         sink,
		shapes:       shapes,
		best:         best,
		logger:       logging.GetMatchLogger(),
		phase:        waitingPhase{},
		state:        replication.NewVersioned(Waiting),
		score:        replication.NewVersioned(0),
		dropInterval: settings.StartTimeout,
		nextPieceID:  1,
	}
	m.timer = replication.NewVersioned(Timer{DropInterval: settings.StartTimeout})

	m.state.Subscribe(replication.HandlerFunc[State](func(old, new State, version uint64) {
		m.logger.Info("🎮 Матч: %s -> %s", old, new)
		m.out.Broadcast(&protocol.Event{
			Kind:         protocol.KindStateChanged,
			StateChanged: &protocol.StateChanged{Old: old, New: new, Version: version},
		})
	}))
	m.score.Subscribe(replication.HandlerFunc[int](func(_, score int, version uint64) {
		m.best.Offer(score)
		m.out.Broadcast(&protocol.Event{
			Kind:         protocol.KindScoreChanged,
			ScoreChanged: &protocol.ScoreChanged{Score: score, Best: m.best.Best(), Version: version},
		})
	}))
	m.timer.Subscribe(replication.HandlerFunc[Timer](func(_, t Timer, version uint64) {
		m.out.Broadcast(&protocol.Event{
			Kind: protocol.KindTimerChanged,
			TimerChanged: &protocol.TimerChanged{
				Elapsed:      m.elapsed,
				DropInterval: t.DropInterval,
				Version:      version,
			},
		})
	}))

	g.AddObserver(m)
	return m
}

// State возвращает текущее состояние
func (m *Match) State() State { return m.phase.State() }

// StateVersion возвращает версию поля состояния
func (m *Match) StateVersion() uint64 { return m.state.Version() }

// Score возвращает текущий счет
func (m *Match) Score() int { return m.score.Get() }

// Best возвращает рекорд
func (m *Match) Best() int { return m.best.Best() }

// Elapsed возвращает прошедшее игровое время
func (m *Match) Elapsed() float64 { return m.elapsed }

// DropInterval возвращает текущий интервал падения
func (m *Match) DropInterval() float64 { return m.dropInterval }

// Active возвращает падающую фигуру или nil
func (m *Match) Active() *piece.Piece {
	if m.controller == nil {
		return nil
	}
	return m.controller.Piece()
}

// Preview возвращает фигуру предпросмотра
func (m *Match) Preview() *piece.Piece { return m.preview }

// Submit добавляет ввод для следующего тика
func (m *Match) Submit(in piece.Input) { m.inputs |= in }

func (m *Match) takeInputs() piece.Input {
	in := m.inputs
	m.inputs = 0
	return in
}

// Update продвигает матч на dt секунд
func (m *Match) Update(dt float64) {
	next := m.phase.Update(m, dt)
	if next != m.phase {
		m.setPhase(next)
	}
}

func (m *Match) setPhase(next Phase) {
	m.phase.Exit(m)
	m.phase = next
	m.state.Set(next.State())
	next.Enter(m)
}

// Start переводит Waiting -> Playing
func (m *Match) Start(auth Authority) bool {
	if auth != Host || m.State() != Waiting {
		return false
	}
	m.resetRound()
	m.setPhase(playingPhase{})
	return true
}

// Pause переводит Playing -> Paused
func (m *Match) Pause(auth Authority) bool {
	if auth != Host || m.State() != Playing {
		return false
	}
	m.pausedByDisconnect = false
	m.setPhase(pausedPhase{})
	return true
}

// Resume переводит Paused -> Playing
func (m *Match) Resume(auth Authority) bool {
	if auth != Host || m.State() != Paused {
		return false
	}
	m.pausedByDisconnect = false
	m.setPhase(playingPhase{})
	return true
}

// RequestVictory фиксирует победу, если участник поднялся на нужную высоту
func (m *Match) RequestVictory(auth Authority, height float64) bool {
	if auth != Host || m.State() != Playing {
		return false
	}
	if height < m.settings.VictoryHeight {
		m.logger.Debug("🚫 Победа отклонена: высота %.2f < %.2f", height, m.settings.VictoryHeight)
		return false
	}
	m.setPhase(victoryPhase{})
	return true
}

// Restart начинает матч заново из конечного состояния
func (m *Match) Restart(auth Authority) bool {
	if auth != Host || !m.State().Terminal() {
		return false
	}
	m.resetRound()
	m.setPhase(playingPhase{})
	return true
}

// ParticipantsReady реализует replication.Match
func (m *Match) ParticipantsReady() {
	switch m.State() {
	case Waiting:
		m.Start(Host)
	case Paused:
		if m.pausedByDisconnect {
			m.Resume(Host)
		}
	}
}

// ParticipantLost реализует replication.Match
func (m *Match) ParticipantLost() {
	if m.State() == Playing {
		m.Pause(Host)
		m.pausedByDisconnect = true
	}
}

// PausedByDisconnect - пауза выставлена из-за отключения участника
func (m *Match) PausedByDisconnect() bool { return m.pausedByDisconnect }

// Sync реализует replication.Match
func (m *Match) Sync() protocol.MatchSync {
	s := protocol.MatchSync{
		State:        m.State(),
		StateVersion: m.state.Version(),
		Score:        m.score.Get(),
		ScoreVersion: m.score.Version(),
		Best:         m.best.Best(),
		Elapsed:      m.elapsed,
		DropInterval: m.dropInterval,
	}
	if p := m.Active(); p != nil && p.State() == piece.Falling {
		next := piece.ShapeSingle
		if m.preview != nil {
			next = m.preview.Shape()
		}
		s.Piece = replication.SpawnPayload(p, next)
	}
	return s
}

// OnFreeze реализует grid.Observer: очки за очищенные слои
func (m *Match) OnFreeze(report grid.FreezeReport) {
	if report.Points > 0 {
		m.addScore(report.Points)
	}
}

// OnClearAll реализует grid.Observer
func (m *Match) OnClearAll(int) {}

func (m *Match) addScore(points int) {
	old := m.score.Get()
	score := old + points
	m.score.Set(score)

	if trigger := m.settings.ScoreTrigger; trigger > 0 {
		for i := old / trigger; i < score/trigger; i++ {
			m.shrinkInterval()
		}
	}
}

func (m *Match) shrinkInterval() {
	m.dropInterval = math.Max(m.settings.MinTimeout, m.dropInterval-m.settings.TimeoutStep)
	m.timer.Set(Timer{Seconds: m.timer.Get().Seconds, DropInterval: m.dropInterval})
}

// advanceClock продвигает игровое время; true - лимит времени достигнут
func (m *Match) advanceClock(dt float64) bool {
	m.elapsed = math.Min(m.elapsed+dt, m.settings.TimeLimit)

	if trigger := m.settings.TimeTrigger; trigger > 0 {
		m.rampClock += dt
		for m.rampClock >= trigger {
			m.rampClock -= trigger
			m.shrinkInterval()
		}
	}

	m.timer.Set(Timer{Seconds: int(m.elapsed), DropInterval: m.dropInterval})
	return m.elapsed >= m.settings.TimeLimit
}

func (m *Match) resetRound() {
	if m.controller != nil {
		m.controller.Piece().MarkRemoved()
	}
	m.controller = nil
	m.preview = nil
	m.spawnBlocked = false
	m.inputs = 0
	m.pausedByDisconnect = false

	removed := m.grid.ClearAll()
	m.score.Set(0)
	m.elapsed = 0
	m.rampClock = 0
	m.dropInterval = m.settings.StartTimeout
	m.timer.Set(Timer{DropInterval: m.dropInterval})
	m.logger.Info("🔄 Новый раунд, удалено кубов: %d", removed)
}

// spawnNext создает следующую фигуру; false - места нет, матч окончен
func (m *Match) spawnNext() bool {
	var shape piece.Shape
	if m.preview != nil {
		shape = m.preview.Shape()
	} else {
		shape = m.shapes.Next()
	}
	next := m.shapes.Next()
	m.preview = piece.New(0, next, vec.Vec3{})

	id := m.nextPieceID
	m.nextPieceID++
	p, overlap := piece.Spawn(id, shape, m.grid)
	m.controller = piece.NewController(p, m.grid, m.sink, m.settings.DebugMode)
	m.out.PieceSpawned(p, next)

	if overlap {
		m.spawnBlocked = true
		m.logger.Info("🛑 Фигуре %s негде появиться", shape)
		return false
	}
	// фигура появилась уже лежащей: фиксируем ее и заканчиваем матч
	if out := m.controller.Settle(); out.Frozen || out.Overflow {
		m.controller = nil
		m.spawnBlocked = true
		m.logger.Info("🛑 Фигура %s зафиксирована сразу после появления", shape)
		return false
	}
	return true
}
