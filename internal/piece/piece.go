package piece

import (
	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/vec"
)

// State - жизненный цикл фигуры
type State uint8

const (
	Spawned State = iota
	Falling
	Frozen
	Removed
)

func (s State) String() string {
	switch s {
	case Spawned:
		return "Spawned"
	case Falling:
		return "Falling"
	case Frozen:
		return "Frozen"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// ID - идентификатор фигуры в пределах сессии
type ID uint64

// Occupancy - то, что фигуре нужно знать о сетке
type Occupancy interface {
	Dims() grid.Dims
	IsOccupied(c grid.Cell) bool
}

// Piece - набор кубов с общим жестким преобразованием
type Piece struct {
	id     ID
	shape  Shape
	state  State
	origin vec.Vec3
	orient vec.Mat3
}

// New создает фигуру в заданной позиции опорного куба
func New(id ID, shape Shape, origin vec.Vec3) *Piece {
	return &Piece{id: id, shape: shape, state: Spawned, origin: origin, orient: vec.Identity()}
}

func (p *Piece) ID() ID           { return p.id }
func (p *Piece) Shape() Shape     { return p.shape }
func (p *Piece) State() State     { return p.state }
func (p *Piece) Origin() vec.Vec3 { return p.origin }

// MarkRemoved переводит фигуру в Removed (конец матча или рестарт)
func (p *Piece) MarkRemoved() { p.state = Removed }

// Cells возвращает текущие ячейки кубов
func (p *Piece) Cells() []grid.Cell {
	return p.cellsWith(p.origin, p.orient)
}

func (p *Piece) cellsWith(origin vec.Vec3, orient vec.Mat3) []grid.Cell {
	offs := p.shape.def().offsets
	cells := make([]grid.Cell, len(offs))
	for i, o := range offs {
		cells[i] = grid.CellOf(origin.Add(orient.Apply(o).Round()))
	}
	return cells
}

// Cubes возвращает кубы фигуры с описанием для заморозки или репликации
func (p *Piece) Cubes() []grid.PlacedCube {
	desc := p.shape.Descriptor()
	cells := p.Cells()
	cubes := make([]grid.PlacedCube, len(cells))
	for i, c := range cells {
		cubes[i] = grid.PlacedCube{Cell: c, Descriptor: desc}
	}
	return cubes
}

// blockedBy сообщает, пересекается ли ячейка с замороженным кубом.
// Ячейки вне сетки считаются свободными, границы проверяются отдельно.
func blockedBy(g Occupancy, c grid.Cell) bool {
	if !g.Dims().Contains(c) {
		return false
	}
	return g.IsOccupied(c)
}

// resting - хотя бы один куб лежит на дне или на занятой ячейке
func (p *Piece) resting(g Occupancy) bool {
	for _, c := range p.Cells() {
		if c.Plane <= 0 {
			return true
		}
		if blockedBy(g, c.Below()) {
			return true
		}
	}
	return false
}

// Spawn создает фигуру в стартовой позиции. Если позиция занята или выходит
// за границы сетки, возвращается overlap=true: матч окончен. Занятая позиция
// дополнительно сдвигается вверх до свободного места, только для отображения.
// Фигура, которая свободна, но уже опирается на кубы, не считается
// перекрытием: ее фиксирует Controller.Settle.
func Spawn(id ID, shape Shape, g Occupancy) (p *Piece, overlap bool) {
	dims := g.Dims()
	p = New(id, shape, shape.spawnOrigin(dims))

	for _, c := range p.Cells() {
		if !dims.Contains(c) {
			overlap = true
		}
	}
	for p.collides(g) {
		overlap = true
		p.origin.Y++
	}
	return p, overlap
}

func (p *Piece) collides(g Occupancy) bool {
	for _, c := range p.Cells() {
		if blockedBy(g, c) {
			return true
		}
	}
	return false
}
