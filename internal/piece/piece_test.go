package piece

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/vec"
)

type feedback struct {
	in       Input
	accepted bool
}

type fakeSink struct {
	moves    int
	feedback []feedback
}

func (s *fakeSink) PieceMoved(*Piece) { s.moves++ }
func (s *fakeSink) Feedback(_ *Piece, in Input, accepted bool) {
	s.feedback = append(s.feedback, feedback{in: in, accepted: accepted})
}

func newGrid() *grid.Grid {
	return grid.New(grid.Dims{Planes: 3, Rows: 4, Cols: 4}, 100)
}

func put(g *grid.Grid, cells ...grid.Cell) {
	for _, c := range cells {
		g.Freeze([]grid.PlacedCube{{Cell: c}})
	}
}

// controllerAt создает управляемую фигуру в заданной позиции
func controllerAt(g *grid.Grid, shape Shape, origin vec.Vec3, debug bool) (*Controller, *fakeSink) {
	sink := &fakeSink{}
	return NewController(New(1, shape, origin), g, sink, debug), sink
}

const never = 1e9

func TestSpawn(t *testing.T) {
	t.Run("стартовая позиция по центру у верхнего слоя", func(t *testing.T) {
		g := newGrid()
		p, overlap := Spawn(1, ShapeO, g)
		assert.False(t, overlap)
		assert.Equal(t, Spawned, p.State())
		assert.ElementsMatch(t, []grid.Cell{{Plane: 2, Row: 1, Col: 1}, {Plane: 2, Row: 2, Col: 1}, {Plane: 2, Row: 1, Col: 2}, {Plane: 2, Row: 2, Col: 2}}, p.Cells())
	})

	t.Run("все фигуры помещаются в минимальную сетку", func(t *testing.T) {
		for _, s := range Shapes {
			g := newGrid()
			p, overlap := Spawn(1, s, g)
			assert.False(t, overlap, "фигура %s", s)
			for _, c := range p.Cells() {
				assert.True(t, g.InBounds(c), "фигура %s ячейка %s", s, c)
			}
		}
	})

	t.Run("занятая позиция сдвигается вверх", func(t *testing.T) {
		g := newGrid()
		put(g, grid.Cell{Plane: 2, Row: 1, Col: 1})
		p, overlap := Spawn(1, ShapeO, g)
		assert.True(t, overlap)
		for _, c := range p.Cells() {
			assert.Equal(t, 3, c.Plane, "фигура поднята над сеткой")
		}
	})

	t.Run("фигура сразу опирается на кубы", func(t *testing.T) {
		g := newGrid()
		put(g, grid.Cell{Plane: 1, Row: 1, Col: 1})
		p, overlap := Spawn(1, ShapeO, g)
		assert.False(t, overlap, "свободная позиция не перекрытие")
		assert.True(t, p.resting(g))
	})
}

func TestSettleFreezesRestingSpawn(t *testing.T) {
	g := newGrid()
	put(g, grid.Cell{Plane: 1, Row: 1, Col: 1})
	p, overlap := Spawn(1, ShapeO, g)
	require.False(t, overlap)

	c := NewController(p, g, &fakeSink{}, false)
	out := c.Settle()
	assert.True(t, out.Frozen)
	assert.Equal(t, Frozen, p.State())
	assert.Equal(t, 5, g.Len(), "кубы фигуры записаны в сетку")
	for _, cell := range p.Cells() {
		assert.True(t, g.IsOccupied(cell))
	}

	free := newGrid()
	p, _ = Spawn(2, ShapeO, free)
	out = NewController(p, free, &fakeSink{}, false).Settle()
	assert.False(t, out.Frozen, "висящая фигура не фиксируется")
	assert.Equal(t, Falling, p.State())
	assert.Zero(t, free.Len())
}

func TestTickDrop(t *testing.T) {
	g := newGrid()
	c, sink := controllerAt(g, ShapeSingle, vec.Vec3{X: 0, Y: 2, Z: 0}, false)

	out := c.Tick(0.5, 1.0, 0)
	assert.False(t, out.Frozen)
	assert.Equal(t, 2, c.Piece().Origin().Y, "интервал не достигнут")

	out = c.Tick(0.5, 1.0, 0)
	assert.False(t, out.Frozen)
	assert.Equal(t, 1, c.Piece().Origin().Y)
	assert.Equal(t, 1, sink.moves)

	out = c.Tick(1.0, 1.0, 0)
	require.True(t, out.Frozen, "достигнув дна, фигура замораживается")
	assert.Equal(t, Frozen, c.Piece().State())
	assert.True(t, g.IsOccupied(grid.Cell{Plane: 0, Row: 0, Col: 0}))

	out = c.Tick(1.0, 1.0, InputRowPos)
	assert.Equal(t, Outcome{}, out, "замороженная фигура не двигается")
}

func TestFreezeIffResting(t *testing.T) {
	g := newGrid()
	put(g, grid.Cell{Plane: 0, Row: 1, Col: 1}, grid.Cell{Plane: 0, Row: 2, Col: 2})

	inputs := []Input{InputRowNeg, InputColPos, InputRotateY, InputRowPos, 0, InputColNeg, InputRotateX}
	for _, shape := range Shapes {
		p, overlap := Spawn(ID(shape), shape, g)
		require.False(t, overlap)
		c := NewController(p, g, &fakeSink{}, false)

		for i := 0; i < 50 && p.State() == Falling; i++ {
			c.Tick(0.4, 1.0, inputs[i%len(inputs)])
			if p.State() == Falling {
				assert.False(t, p.resting(g), "падающая фигура %s не должна опираться", shape)
			}
		}
		require.Equal(t, Frozen, p.State(), "фигура %s должна замерзнуть", shape)
		g.ClearAll()
		put(g, grid.Cell{Plane: 0, Row: 1, Col: 1}, grid.Cell{Plane: 0, Row: 2, Col: 2})
	}
}

func TestHardDrop(t *testing.T) {
	g := newGrid()
	put(g, grid.Cell{Plane: 0, Row: 1, Col: 1})
	c, sink := controllerAt(g, ShapeSingle, vec.Vec3{X: 1, Y: 2, Z: 1}, false)

	out := c.Tick(0, never, InputDrop|InputRowPos)
	require.True(t, out.Frozen)
	assert.True(t, g.IsOccupied(grid.Cell{Plane: 1, Row: 1, Col: 1}), "куб лег на опору")
	assert.Equal(t, []feedback{{InputDrop, true}}, sink.feedback, "остальной ввод отброшен")
}

func TestHorizontalMoves(t *testing.T) {
	t.Run("граница строк", func(t *testing.T) {
		g := newGrid()
		c, sink := controllerAt(g, ShapeSingle, vec.Vec3{X: 0, Y: 2, Z: 1}, false)
		c.Tick(0, never, InputRowNeg)
		assert.Equal(t, 0, c.Piece().Origin().X)
		assert.Equal(t, []feedback{{InputRowNeg, false}}, sink.feedback)
	})

	t.Run("занятая ячейка", func(t *testing.T) {
		g := newGrid()
		put(g, grid.Cell{Plane: 2, Row: 1, Col: 2})
		c, _ := controllerAt(g, ShapeSingle, vec.Vec3{X: 1, Y: 2, Z: 1}, false)
		c.Tick(0, never, InputColPos)
		assert.Equal(t, 1, c.Piece().Origin().Z)
	})

	t.Run("приоритет: применяется первое допустимое", func(t *testing.T) {
		g := newGrid()
		c, sink := controllerAt(g, ShapeSingle, vec.Vec3{X: 0, Y: 2, Z: 1}, false)
		c.Tick(0, never, InputColPos|InputRowNeg|InputRowPos)
		assert.Equal(t, vec.Vec3{X: 1, Y: 2, Z: 1}, c.Piece().Origin())
		assert.Equal(t, []feedback{{InputRowNeg, false}, {InputRowPos, true}}, sink.feedback)
	})

	t.Run("сдвиг выше сетки не проверяет слой", func(t *testing.T) {
		g := newGrid()
		c, _ := controllerAt(g, ShapeSingle, vec.Vec3{X: 1, Y: 5, Z: 1}, false)
		c.Tick(0, never, InputColNeg)
		assert.Equal(t, 0, c.Piece().Origin().Z)
	})
}

func TestDebugUp(t *testing.T) {
	g := newGrid()
	c, sink := controllerAt(g, ShapeSingle, vec.Vec3{X: 1, Y: 1, Z: 1}, false)
	c.Tick(0, never, InputDebugUp)
	assert.Equal(t, 1, c.Piece().Origin().Y, "без режима отладки подъем игнорируется")
	assert.Empty(t, sink.feedback)

	c, _ = controllerAt(g, ShapeSingle, vec.Vec3{X: 1, Y: 1, Z: 1}, true)
	c.Tick(0, never, InputDebugUp)
	assert.Equal(t, 2, c.Piece().Origin().Y)
	c.Tick(0, never, InputDebugUp)
	assert.Equal(t, 2, c.Piece().Origin().Y, "верхняя граница")
}

func TestRotation(t *testing.T) {
	t.Run("откат, если второй шаг недопустим", func(t *testing.T) {
		g := newGrid()
		put(g, grid.Cell{Plane: 1, Row: 1, Col: 0})
		c, sink := controllerAt(g, ShapeI, vec.Vec3{X: 1, Y: 1, Z: 2}, false)
		before := c.Piece().Cells()

		// первый шаг на 45° занимает (1,0,3),(1,1,2),(1,2,1) - свободно;
		// второй кладет фигуру вдоль столбцов строки 1, где (1,1,0) занята
		c.Tick(0, never, InputRotateY)

		assert.Equal(t, before, c.Piece().Cells(), "фигура вернулась в исходное положение")
		assert.Equal(t, vec.Identity(), c.Piece().orient)
		assert.Equal(t, []feedback{{InputRotateY, false}}, sink.feedback)
		assert.Equal(t, Falling, c.Piece().State())
	})

	t.Run("поворот на 90° и полный оборот", func(t *testing.T) {
		g := grid.New(grid.Dims{Planes: 6, Rows: 6, Cols: 6}, 100)
		c, _ := controllerAt(g, ShapeT, vec.Vec3{X: 2, Y: 3, Z: 2}, false)
		before := c.Piece().Cells()

		c.Tick(0, never, InputRotateY)
		after := c.Piece().Cells()
		assert.NotEqual(t, before, after)
		assert.ElementsMatch(t, []grid.Cell{{Plane: 3, Row: 2, Col: 3}, {Plane: 3, Row: 2, Col: 2}, {Plane: 3, Row: 2, Col: 1}, {Plane: 3, Row: 3, Col: 2}}, after)

		for i := 0; i < 3; i++ {
			c.Tick(0, never, InputRotateY)
		}
		assert.Equal(t, before, c.Piece().Cells())
	})

	t.Run("поворот вокруг X смешивает слой и столбец", func(t *testing.T) {
		g := grid.New(grid.Dims{Planes: 6, Rows: 6, Cols: 6}, 100)
		c, _ := controllerAt(g, ShapeT, vec.Vec3{X: 2, Y: 3, Z: 2}, false)
		c.Tick(0, never, InputRotateX)
		assert.ElementsMatch(t, []grid.Cell{{Plane: 3, Row: 1, Col: 2}, {Plane: 3, Row: 2, Col: 2}, {Plane: 3, Row: 3, Col: 2}, {Plane: 2, Row: 2, Col: 2}}, c.Piece().Cells())
	})

	t.Run("одиночный куб не вращается", func(t *testing.T) {
		g := newGrid()
		c, sink := controllerAt(g, ShapeSingle, vec.Vec3{X: 1, Y: 2, Z: 1}, false)
		c.Tick(0, never, InputRotateX)
		assert.Equal(t, []feedback{{InputRotateX, false}}, sink.feedback)
	})

	t.Run("куб ниже дна недопустим", func(t *testing.T) {
		g := newGrid()
		c, _ := controllerAt(g, ShapeT, vec.Vec3{X: 1, Y: 0, Z: 1}, false)
		c.piece.state = Falling
		assert.False(t, c.rotate(vec.AxisX))
	})
}

func TestOverflowAboveTop(t *testing.T) {
	g := newGrid()
	put(g, grid.Cell{Plane: 1, Row: 1, Col: 1})
	c, _ := controllerAt(g, ShapeT, vec.Vec3{X: 1, Y: 2, Z: 1}, false)
	c.piece.orient = vec.Rotation(vec.AxisX, -90).Snap()

	out := c.Tick(1, 0.5, 0)
	assert.True(t, out.Overflow)
	assert.False(t, out.Frozen)
	assert.Equal(t, Removed, c.Piece().State())
	assert.Equal(t, 1, g.Len(), "выступающая фигура не записывается в сетку")
}

func TestInputString(t *testing.T) {
	assert.Equal(t, "none", Input(0).String())
	assert.Equal(t, "drop|col+", (InputDrop | InputColPos).String())
	in, ok := ParseInput("rotate_y")
	assert.True(t, ok)
	assert.Equal(t, InputRotateY, in)
}
