package piece

import (
	"strings"

	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/logging"
	"github.com/annel0/cubestack/internal/vec"
)

// Input - набор запрошенных за тик действий (битовая маска)
type Input uint16

const (
	InputDrop Input = 1 << iota
	InputDebugUp
	InputRowNeg
	InputRowPos
	InputColNeg
	InputColPos
	InputRotateX
	InputRotateY
)

// priority - порядок рассмотрения ввода внутри одного тика
var priority = [...]Input{
	InputDrop,
	InputDebugUp,
	InputRowNeg,
	InputRowPos,
	InputColNeg,
	InputColPos,
	InputRotateX,
	InputRotateY,
}

var inputNames = map[Input]string{
	InputDrop:    "drop",
	InputDebugUp: "debug_up",
	InputRowNeg:  "row-",
	InputRowPos:  "row+",
	InputColNeg:  "col-",
	InputColPos:  "col+",
	InputRotateX: "rotate_x",
	InputRotateY: "rotate_y",
}

// Has проверяет наличие действия в наборе
func (in Input) Has(x Input) bool { return in&x != 0 }

func (in Input) String() string {
	var parts []string
	for _, p := range priority {
		if in.Has(p) {
			parts = append(parts, inputNames[p])
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseInput разбирает одно действие по имени
func ParseInput(name string) (Input, bool) {
	for in, n := range inputNames {
		if n == name {
			return in, true
		}
	}
	return 0, false
}

// Freezer - сетка, в которую можно заморозить фигуру
type Freezer interface {
	Occupancy
	Freeze(cubes []grid.PlacedCube) grid.FreezeReport
}

// Sink получает изменения фигуры для репликации и обратной связи
type Sink interface {
	PieceMoved(p *Piece)
	Feedback(p *Piece, in Input, accepted bool)
}

// Outcome - результат тика контроллера
type Outcome struct {
	Frozen bool
	Report grid.FreezeReport
	// Overflow - фигура остановилась, выступая над верхним слоем
	Overflow bool
}

// Controller управляет одной падающей фигурой
type Controller struct {
	piece       *Piece
	grid        Freezer
	sink        Sink
	debug       bool
	accumulator float64
}

// NewController переводит фигуру в Falling
func NewController(p *Piece, g Freezer, sink Sink, debug bool) *Controller {
	p.state = Falling
	return &Controller{piece: p, grid: g, sink: sink, debug: debug}
}

// Piece возвращает управляемую фигуру
func (c *Controller) Piece() *Piece { return c.piece }

// Tick продвигает фигуру на dt секунд при текущем интервале падения
// и применяет не более одного действия из inputs.
func (c *Controller) Tick(dt, interval float64, inputs Input) Outcome {
	if c.piece.state != Falling {
		return Outcome{}
	}

	c.accumulator += dt
	if c.accumulator >= interval {
		c.accumulator = 0
		if c.piece.resting(c.grid) {
			return c.freeze()
		}
		c.piece.origin.Y--
		c.sink.PieceMoved(c.piece)
		if c.piece.resting(c.grid) {
			return c.freeze()
		}
	}

	for _, in := range priority {
		if !inputs.Has(in) {
			continue
		}
		if in == InputDebugUp && !c.debug {
			continue
		}
		if !c.apply(in) {
			c.sink.Feedback(c.piece, in, false)
			continue
		}
		c.sink.Feedback(c.piece, in, true)
		if c.piece.state == Falling && c.piece.resting(c.grid) {
			return c.freeze()
		}
		return Outcome{}
	}
	return Outcome{}
}

func (c *Controller) apply(in Input) bool {
	switch in {
	case InputDrop:
		c.hardDrop()
		return true
	case InputDebugUp:
		return c.moveUp()
	case InputRowNeg:
		return c.shift(vec.Vec3{X: -1})
	case InputRowPos:
		return c.shift(vec.Vec3{X: 1})
	case InputColNeg:
		return c.shift(vec.Vec3{Z: -1})
	case InputColPos:
		return c.shift(vec.Vec3{Z: 1})
	case InputRotateX:
		return c.rotate(vec.AxisX)
	case InputRotateY:
		return c.rotate(vec.AxisY)
	}
	return false
}

// hardDrop опускает фигуру до опоры; заморозка выполняется вызывающим
func (c *Controller) hardDrop() {
	moved := false
	for !c.piece.resting(c.grid) {
		c.piece.origin.Y--
		moved = true
	}
	if moved {
		c.sink.PieceMoved(c.piece)
	}
}

// moveUp - отладочный подъем; проверяется только верхняя граница
func (c *Controller) moveUp() bool {
	top := c.grid.Dims().Planes
	for _, cell := range c.piece.Cells() {
		if cell.Plane+1 >= top {
			return false
		}
	}
	c.piece.origin.Y++
	c.sink.PieceMoved(c.piece)
	return true
}

// shift - горизонтальный сдвиг; граница слоев не проверяется
func (c *Controller) shift(delta vec.Vec3) bool {
	dims := c.grid.Dims()
	target := c.piece.origin.Add(delta)
	for _, cell := range c.piece.cellsWith(target, c.piece.orient) {
		if !dims.ContainsColumn(cell) || blockedBy(c.grid, cell) {
			return false
		}
	}
	c.piece.origin = target
	c.sink.PieceMoved(c.piece)
	return true
}

// rotate поворачивает фигуру двумя шагами по 45°. Любой недопустимый шаг
// откатывает фигуру к исходной ориентации.
func (c *Controller) rotate(axis vec.Axis) bool {
	if !c.piece.shape.Rotatable() {
		return false
	}

	saved := c.piece.orient
	step := vec.Rotation(axis, 45)
	orient := saved
	for i := 0; i < 2; i++ {
		orient = step.Mul(orient)
		if !c.rotationLegal(orient) {
			c.piece.orient = saved
			logging.Trace("↩️ Поворот фигуры %d вокруг %s откатан на шаге %d", c.piece.id, axis, i+1)
			return false
		}
	}

	c.piece.orient = orient.Snap()
	c.sink.PieceMoved(c.piece)
	return true
}

// rotationLegal: строки/столбцы в пределах, ячейки свободны, ни один куб
// не ниже дна. Верхняя граница не проверяется.
func (c *Controller) rotationLegal(orient vec.Mat3) bool {
	dims := c.grid.Dims()
	for _, cell := range c.piece.cellsWith(c.piece.origin, orient) {
		if !dims.ContainsColumn(cell) || cell.Plane < 0 || blockedBy(c.grid, cell) {
			return false
		}
	}
	return true
}

// Settle замораживает фигуру, если она уже опирается на кубы или дно.
// Используется сразу после появления, до первого тика.
func (c *Controller) Settle() Outcome {
	if c.piece.state != Falling || !c.piece.resting(c.grid) {
		return Outcome{}
	}
	return c.freeze()
}

func (c *Controller) freeze() Outcome {
	top := c.grid.Dims().Planes
	for _, cell := range c.piece.Cells() {
		if cell.Plane >= top {
			c.piece.state = Removed
			logging.Warn("⚠️ Фигура %d остановилась выше сетки", c.piece.id)
			return Outcome{Overflow: true}
		}
	}

	report := c.grid.Freeze(c.piece.Cubes())
	c.piece.state = Frozen
	return Outcome{Frozen: true, Report: report}
}
