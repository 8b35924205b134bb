package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/piece"
	"github.com/annel0/cubestack/internal/protocol"
)

type recorder struct {
	events []*protocol.Event
	spawns []piece.Shape
}

func (r *recorder) Broadcast(ev *protocol.Event) { r.events = append(r.events, ev) }
func (r *recorder) PieceSpawned(p *piece.Piece, next piece.Shape) {
	r.spawns = append(r.spawns, p.Shape())
	r.events = append(r.events, &protocol.Event{Kind: protocol.KindPieceSpawned})
}

func (r *recorder) kinds() []protocol.Kind {
	out := make([]protocol.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) reset() { r.events = nil }

type nopSink struct{}

func (nopSink) PieceMoved(*piece.Piece)                   {}
func (nopSink) Feedback(*piece.Piece, piece.Input, bool) {}

func testSettings() Settings {
	return Settings{
		StartTimeout:  2.0,
		MinTimeout:    0.3,
		TimeoutStep:   0.1,
		TimeTrigger:   30,
		ScoreTrigger:  100,
		TimeLimit:     300,
		VictoryHeight: 2.5,
	}
}

func newMatch(t *testing.T, dims grid.Dims, settings Settings, shapes ...piece.Shape) (*Match, *grid.Grid, *recorder) {
	t.Helper()
	if len(shapes) == 0 {
		shapes = []piece.Shape{piece.ShapeO}
	}
	g := grid.New(dims, 100)
	rec := &recorder{}
	m := New(settings, g, rec, nopSink{}, NewSequenceShapes(shapes...), nil)
	return m, g, rec
}

var scenarioDims = grid.Dims{Planes: 3, Rows: 4, Cols: 4}

func fullLayer(d grid.Dims, plane int) []grid.PlacedCube {
	var out []grid.PlacedCube
	for r := 0; r < d.Rows; r++ {
		for c := 0; c < d.Cols; c++ {
			out = append(out, grid.PlacedCube{Cell: grid.Cell{Plane: plane, Row: r, Col: c}})
		}
	}
	return out
}

func TestNonHostRequestsIgnored(t *testing.T) {
	m, _, rec := newMatch(t, scenarioDims, testSettings())

	assert.False(t, m.Start(Remote))
	assert.Equal(t, Waiting, m.State())
	assert.Empty(t, rec.events, "отклоненный запрос ничего не рассылает")

	require.True(t, m.Start(Host))
	assert.False(t, m.Pause(Remote))
	assert.False(t, m.RequestVictory(Remote, 100))
	assert.Equal(t, Playing, m.State())

	require.True(t, m.Pause(Host))
	assert.False(t, m.Resume(Remote))
	assert.Equal(t, Paused, m.State())

	assert.False(t, m.Restart(Host), "рестарт только из конечного состояния")
}

func TestStartSpawnsFirstPiece(t *testing.T) {
	m, _, rec := newMatch(t, scenarioDims, testSettings(), piece.ShapeT, piece.ShapeI)

	require.True(t, m.Start(Host))
	assert.Equal(t, Playing, m.State())
	assert.Equal(t, uint64(1), m.StateVersion())

	require.NotNil(t, m.Active())
	assert.Equal(t, piece.ShapeT, m.Active().Shape())
	assert.Equal(t, piece.Falling, m.Active().State())
	require.NotNil(t, m.Preview())
	assert.Equal(t, piece.ShapeI, m.Preview().Shape())

	kinds := rec.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, protocol.KindPieceSpawned, kinds[len(kinds)-1])
	assert.Contains(t, kinds, protocol.KindStateChanged)
}

func TestSpawnOverlapEndsMatch(t *testing.T) {
	dims := grid.Dims{Planes: 3, Rows: 6, Cols: 6}
	m, g, _ := newMatch(t, dims, testSettings(), piece.ShapeO)
	require.True(t, m.Start(Host))

	first := m.Active()
	require.NotNil(t, first)

	// отводим первую фигуру в сторону и занимаем место появления следующей
	for i := 0; i < 2; i++ {
		m.Submit(piece.InputRowNeg)
		m.Update(0.01)
	}
	g.Freeze([]grid.PlacedCube{{Cell: grid.Cell{Plane: 2, Row: 2, Col: 2}}})
	frozenBefore := g.Len()

	m.Submit(piece.InputDrop)
	m.Update(0.01)

	assert.Equal(t, piece.Frozen, first.State())
	assert.Equal(t, GameOver, m.State())

	blocked := m.Active()
	require.NotNil(t, blocked)
	assert.NotSame(t, first, blocked)
	assert.Equal(t, piece.Removed, blocked.State(), "фигура не заморожена, а снята")
	for _, c := range blocked.Cells() {
		assert.GreaterOrEqual(t, c.Plane, 3, "фигура поднята над занятым местом")
	}
	assert.Equal(t, frozenBefore+4, g.Len(), "в сетку попала только первая фигура")

	// дальнейшие тики ничего не меняют
	m.Submit(piece.InputDrop)
	m.Update(10)
	assert.Equal(t, GameOver, m.State())
	assert.Equal(t, frozenBefore+4, g.Len())
}

func TestRestingSpawnFreezesThenEndsMatch(t *testing.T) {
	dims := grid.Dims{Planes: 3, Rows: 6, Cols: 6}
	m, g, rec := newMatch(t, dims, testSettings(), piece.ShapeO)
	require.True(t, m.Start(Host))
	first := m.Active()
	require.NotNil(t, first)

	for i := 0; i < 2; i++ {
		m.Submit(piece.InputRowNeg)
		m.Update(0.01)
	}
	// место появления свободно, но под ним лежит куб
	support := grid.Cell{Plane: 1, Row: 2, Col: 2}
	g.Freeze([]grid.PlacedCube{{Cell: support}})
	frozenBefore := g.Len()
	rec.reset()

	m.Submit(piece.InputDrop)
	m.Update(0.01)
	require.Equal(t, piece.Frozen, first.State())
	assert.Contains(t, rec.kinds(), protocol.KindPieceSpawned)

	assert.Equal(t, frozenBefore+8, g.Len(), "вторая фигура записана в сетку")
	for _, c := range []grid.Cell{{Plane: 2, Row: 2, Col: 2}, {Plane: 2, Row: 3, Col: 3}} {
		assert.True(t, g.IsOccupied(c), "ячейка %s", c)
	}
	assert.Nil(t, m.Active())

	m.Update(0.01)
	assert.Equal(t, GameOver, m.State())
}

func TestScoreAndDifficultyRamp(t *testing.T) {
	m, g, rec := newMatch(t, scenarioDims, testSettings())
	require.True(t, m.Start(Host))
	rec.reset()

	g.Freeze(fullLayer(scenarioDims, 0))
	assert.Equal(t, 100, m.Score())
	assert.InDelta(t, 1.9, m.DropInterval(), 1e-9)

	both := append(fullLayer(scenarioDims, 0), fullLayer(scenarioDims, 1)...)
	g.Freeze(both)
	assert.Equal(t, 500, m.Score(), "квадратичный бонус 400")
	assert.InDelta(t, 1.5, m.DropInterval(), 1e-9, "пересечено четыре порога")
	assert.Equal(t, 500, m.Best())

	var scores []int
	var versions []uint64
	for _, ev := range rec.events {
		if ev.Kind == protocol.KindScoreChanged {
			scores = append(scores, ev.ScoreChanged.Score)
			versions = append(versions, ev.ScoreChanged.Version)
		}
	}
	assert.Equal(t, []int{100, 500}, scores)
	assert.Equal(t, []uint64{1, 2}, versions)
}

func TestDropIntervalFloor(t *testing.T) {
	s := testSettings()
	s.TimeoutStep = 1.0
	m, g, _ := newMatch(t, scenarioDims, s)
	require.True(t, m.Start(Host))

	for i := 0; i < 5; i++ {
		g.Freeze(fullLayer(scenarioDims, 0))
	}
	assert.Equal(t, 0.3, m.DropInterval())
}

func TestTimeRampAndLimit(t *testing.T) {
	s := testSettings()
	s.TimeTrigger = 10
	s.TimeLimit = 25
	m, _, rec := newMatch(t, scenarioDims, s, piece.ShapeSingle)
	require.True(t, m.Start(Host))

	m.Update(10)
	assert.InDelta(t, 1.9, m.DropInterval(), 1e-9)
	assert.Equal(t, Playing, m.State())

	m.Update(10)
	assert.InDelta(t, 1.8, m.DropInterval(), 1e-9)

	m.Update(10)
	assert.Equal(t, GameOver, m.State())
	assert.Equal(t, 25.0, m.Elapsed(), "время ограничено лимитом")

	found := false
	for _, ev := range rec.events {
		if ev.Kind == protocol.KindTimerChanged && ev.TimerChanged.Elapsed == 25 {
			found = true
		}
	}
	assert.True(t, found, "таймер реплицируется")
}

func TestPauseFreezesClock(t *testing.T) {
	m, _, _ := newMatch(t, scenarioDims, testSettings())
	require.True(t, m.Start(Host))
	m.Update(1)
	require.True(t, m.Pause(Host))

	origin := m.Active().Origin()
	m.Submit(piece.InputDrop)
	m.Update(100)
	assert.Equal(t, 1.0, m.Elapsed())
	assert.Equal(t, origin, m.Active().Origin(), "ввод во время паузы отброшен")

	require.True(t, m.Resume(Host))
	m.Update(0.01)
	assert.Equal(t, origin, m.Active().Origin())
}

func TestAutoPauseOnDisconnect(t *testing.T) {
	t.Run("отключение и возврат", func(t *testing.T) {
		m, _, _ := newMatch(t, scenarioDims, testSettings())
		m.ParticipantsReady()
		require.Equal(t, Playing, m.State(), "кворум запускает матч")

		m.ParticipantLost()
		assert.Equal(t, Paused, m.State())
		assert.True(t, m.PausedByDisconnect())

		m.ParticipantsReady()
		assert.Equal(t, Playing, m.State())
	})

	t.Run("ручная пауза не снимается переподключением", func(t *testing.T) {
		m, _, _ := newMatch(t, scenarioDims, testSettings())
		m.ParticipantsReady()
		require.True(t, m.Pause(Host))

		m.ParticipantLost()
		m.ParticipantsReady()
		assert.Equal(t, Paused, m.State())
	})

	t.Run("отключение в ожидании", func(t *testing.T) {
		m, _, _ := newMatch(t, scenarioDims, testSettings())
		m.ParticipantLost()
		assert.Equal(t, Waiting, m.State())
	})
}

func TestVictoryAndRestart(t *testing.T) {
	m, g, _ := newMatch(t, scenarioDims, testSettings(), piece.ShapeT, piece.ShapeO)
	require.True(t, m.Start(Host))
	g.Freeze(fullLayer(scenarioDims, 0))
	g.Freeze([]grid.PlacedCube{{Cell: grid.Cell{Plane: 0, Row: 0, Col: 0}}})
	m.Update(5)
	first := m.Active()

	assert.False(t, m.RequestVictory(Host, 1.0), "высота недостаточна")
	require.True(t, m.RequestVictory(Host, 3.0))
	assert.Equal(t, Victory, m.State())
	assert.Equal(t, piece.Removed, first.State())
	assert.Equal(t, 100, m.Best())

	require.True(t, m.Restart(Host))
	assert.Equal(t, Playing, m.State())
	assert.Zero(t, m.Score())
	assert.Zero(t, m.Elapsed())
	assert.Equal(t, 2.0, m.DropInterval())
	assert.Zero(t, g.Len(), "сетка очищена")
	assert.Equal(t, 100, m.Best(), "рекорд сохраняется")

	second := m.Active()
	require.NotNil(t, second)
	assert.Greater(t, second.ID(), first.ID())
	assert.Equal(t, piece.Falling, second.State())
}

func TestSync(t *testing.T) {
	m, _, _ := newMatch(t, scenarioDims, testSettings(), piece.ShapeL, piece.ShapeZ)
	require.True(t, m.Start(Host))
	m.Update(1.5)

	s := m.Sync()
	assert.Equal(t, Playing, s.State)
	assert.Equal(t, m.StateVersion(), s.StateVersion)
	assert.Equal(t, 1.5, s.Elapsed)
	require.NotNil(t, s.Piece)
	assert.Equal(t, piece.ShapeL, s.Piece.Shape)
	assert.Equal(t, piece.ShapeZ, s.Piece.Next)
	assert.Len(t, s.Piece.Cubes, 4)
}

func TestRandomShapesDeterministic(t *testing.T) {
	a, b := NewRandomShapes(42), NewRandomShapes(42)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Next(), b.Next())
	}
}
