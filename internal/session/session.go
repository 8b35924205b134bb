package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/annel0/cubestack/internal/config"
	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/logging"
	"github.com/annel0/cubestack/internal/match"
	"github.com/annel0/cubestack/internal/network"
	"github.com/annel0/cubestack/internal/protocol"
	"github.com/annel0/cubestack/internal/replication"
)

// Идентификаторы участников фиксированы ролью
const (
	HostID   protocol.ParticipantID = 1
	RemoteID protocol.ParticipantID = 2
)

// ErrStopped - цикл хоста остановлен
var ErrStopped = errors.New("session: цикл хоста остановлен")

type commandKind uint8

const (
	cmdJoin commandKind = iota + 1
	cmdLeave
	cmdIntent
)

type command struct {
	kind   commandKind
	id     protocol.ParticipantID
	name   string
	role   protocol.Role
	intent protocol.Intent
}

// Options - зависимости сессии
type Options struct {
	Config    *config.Config
	Transport replication.Transport
	// Best может быть nil: рекорд хранится в памяти
	Best match.BestScore
	// Shapes может быть nil: случайные фигуры с зерном из конфигурации
	Shapes match.ShapeSource
	Sinks  []replication.Sink
	// Metrics может быть nil
	Metrics *Metrics
	// QueueSize - емкость очереди команд
	QueueSize int
}

// Session - авторитетный хост одного матча. Все изменения выполняются
// в Tick; сетевые горутины только ставят команды в очередь.
type Session struct {
	grid      *grid.Grid
	match     *match.Match
	coord     *replication.Coordinator
	scheduler *replication.Scheduler
	metrics   *Metrics
	logger    *logging.Logger

	tick     time.Duration
	commands chan command
	done     chan struct{}
	stopOnce sync.Once

	ticks  uint64
	status atomic.Pointer[StatusView]
}

// New собирает сетку, матч и координатор репликации
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Transport == nil {
		return nil, errors.New("session: transport не задан")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	shapes := opts.Shapes
	if shapes == nil {
		shapes = match.NewRandomShapes(cfg.Match.Seed)
	}

	dims := grid.Dims{Planes: cfg.Grid.Planes, Rows: cfg.Grid.Rows, Cols: cfg.Grid.Columns}
	s := &Session{
		grid:      grid.New(dims, cfg.Scoring.ScorePerPlane),
		scheduler: replication.NewScheduler(),
		metrics:   opts.Metrics,
		logger:    logging.GetGameLogger(),
		tick:      cfg.Timing.Tick(),
		commands:  make(chan command, opts.QueueSize),
		done:      make(chan struct{}),
	}
	s.coord = replication.NewCoordinator(s.grid, opts.Transport, s.scheduler, cfg.Match.ResyncDelay)
	for _, sink := range opts.Sinks {
		s.coord.AddSink(sink)
	}
	if s.metrics != nil {
		s.coord.AddSink(s.metrics)
	}

	// координатор должен увидеть заморозку раньше матча: события
	// PieceFrozen и LayersCleared идут перед ScoreChanged
	s.grid.AddObserver(s.coord)
	s.match = match.New(match.SettingsFrom(cfg), s.grid, s.coord, s.coord, shapes, opts.Best)
	s.coord.Bind(s.match)

	s.coord.Register(HostID, "host", protocol.RoleHost)
	s.coord.Register(RemoteID, "remote", protocol.RoleRemote)
	if cfg.Match.PieceOwner == "remote" {
		s.coord.SetPieceOwner(RemoteID)
	} else {
		s.coord.SetPieceOwner(HostID)
	}

	s.publish()
	return s, nil
}

// IDFor возвращает идентификатор участника для роли
func IDFor(role protocol.Role) protocol.ParticipantID {
	if role == protocol.RoleHost {
		return HostID
	}
	return RemoteID
}

// Dims возвращает размеры сетки
func (s *Session) Dims() grid.Dims { return s.grid.Dims() }

// Admit реализует network.Handler: проверяет участника и выдает Welcome
func (s *Session) Admit(_ context.Context, a network.Admission) (protocol.Welcome, error) {
	select {
	case <-s.done:
		return protocol.Welcome{}, ErrStopped
	default:
	}
	id := IDFor(a.Role)
	if a.Resume != 0 && a.Resume != id {
		return protocol.Welcome{}, fmt.Errorf("участник %d не может продолжить как %d", id, a.Resume)
	}
	d := s.grid.Dims()
	return protocol.Welcome{Participant: id, Role: a.Role, Planes: d.Planes, Rows: d.Rows, Cols: d.Cols}, nil
}

// Joined реализует network.Handler. Подключение применяется на ближайшем тике.
func (s *Session) Joined(ctx context.Context, id protocol.ParticipantID, a network.Admission) error {
	return s.enqueue(ctx, command{kind: cmdJoin, id: id, name: a.Name, role: a.Role})
}

// Intent реализует network.Handler. При переполнении очереди намерение отбрасывается.
func (s *Session) Intent(id protocol.ParticipantID, in protocol.Intent) {
	select {
	case s.commands <- command{kind: cmdIntent, id: id, intent: in}:
	default:
		s.metrics.intentDropped()
		s.logger.Warn("⚠️ Очередь команд переполнена, намерение %s от %d отброшено", in.Kind, id)
	}
}

// Disconnected реализует network.Handler
func (s *Session) Disconnected(id protocol.ParticipantID) {
	_ = s.enqueue(context.Background(), command{kind: cmdLeave, id: id})
}

// Submit ставит административное намерение от имени хоста
func (s *Session) Submit(ctx context.Context, kind protocol.IntentKind) error {
	return s.enqueue(ctx, command{kind: cmdIntent, id: HostID, intent: protocol.Intent{Kind: kind}})
}

func (s *Session) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick выполняет один шаг хоста: команды, отложенные задачи, матч
func (s *Session) Tick(dt float64) {
	start := time.Now()
	s.drain()
	s.scheduler.Advance(dt)
	s.match.Update(dt)
	s.ticks++
	s.publish()
	s.metrics.observeTick(s.match, time.Since(start))
}

func (s *Session) drain() {
	for {
		select {
		case cmd := <-s.commands:
			s.apply(cmd)
		default:
			return
		}
	}
}

func (s *Session) apply(cmd command) {
	switch cmd.kind {
	case cmdJoin:
		if p, ok := s.coord.Participant(cmd.id); ok && p.Connected {
			// переподключение: участник получит полную синхронизацию заново
			s.coord.Leave(cmd.id)
		}
		s.coord.Register(cmd.id, cmd.name, cmd.role)
		s.coord.Join(cmd.id)
	case cmdLeave:
		s.coord.Leave(cmd.id)
	case cmdIntent:
		s.applyIntent(cmd.id, cmd.intent)
	}
}

func (s *Session) applyIntent(id protocol.ParticipantID, in protocol.Intent) {
	s.metrics.intent(in.Kind)

	if input, ok := in.Input(); ok {
		if id != s.coord.PieceOwner() {
			s.reject(id, in)
			return
		}
		s.match.Submit(input)
		return
	}

	auth := match.Remote
	if p, ok := s.coord.Participant(id); ok && p.Role == protocol.RoleHost {
		auth = match.Host
	}

	var ok bool
	switch in.Kind {
	case protocol.IntentVictory:
		// высоту сообщает участник, проверяет хост
		ok = s.match.RequestVictory(match.Host, in.Height)
	case protocol.IntentPause:
		ok = s.match.Pause(auth)
	case protocol.IntentResume:
		ok = s.match.Resume(auth)
	case protocol.IntentRestart:
		ok = s.restart(auth)
	}
	if !ok {
		s.reject(id, in)
	}
}

func (s *Session) restart(auth match.Authority) bool {
	_, span := otel.Tracer("cubestack/session").Start(context.Background(), "match.restart")
	defer span.End()
	span.SetAttributes(
		attribute.Int("score", s.match.Score()),
		attribute.String("state", s.match.State().String()),
	)
	ok := s.match.Restart(auth)
	span.SetAttributes(attribute.Bool("accepted", ok))
	if ok {
		s.logger.Info("🔄 Матч перезапущен")
	}
	return ok
}

func (s *Session) reject(id protocol.ParticipantID, in protocol.Intent) {
	s.metrics.intentRejected(in.Kind)
	s.coord.Reject(id, in.Kind.String())
}

// Run крутит тики с периодом из конфигурации до отмены ctx
func (s *Session) Run(ctx context.Context) {
	defer s.stopOnce.Do(func() { close(s.done) })

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("🎮 Цикл хоста запущен, тик %s", s.tick)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("🛑 Цикл хоста остановлен после %d тиков", s.ticks)
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			s.Tick(dt)
		}
	}
}

// Status возвращает последний опубликованный снимок состояния
func (s *Session) Status() *StatusView { return s.status.Load() }
