package grid

import (
	"errors"
	"fmt"
	"iter"

	"github.com/kamstrup/intmap"

	"github.com/annel0/cubestack/internal/logging"
)

var (
	ErrOutOfBounds = errors.New("ячейка вне сетки")
	ErrOccupied    = errors.New("ячейка уже занята")
	ErrMismatch    = errors.New("расхождение с авторитетным состоянием")
)

// Grid владеет ячейками, счетчиками слоев и реестром созданных кубов.
// Все мутации выполняются одним писателем - тиком хоста.
type Grid struct {
	dims          Dims
	scorePerPlane int

	cells    []*Cube
	counters []int
	registry *intmap.Map[CubeID, *Cube]
	nextID   CubeID

	observers []Observer
}

// New создает пустую сетку
func New(dims Dims, scorePerPlane int) *Grid {
	if dims.Planes <= 0 || dims.Rows <= 0 || dims.Cols <= 0 {
		panic(fmt.Sprintf("grid: некорректные размеры %+v", dims))
	}
	return &Grid{
		dims:          dims,
		scorePerPlane: scorePerPlane,
		cells:         make([]*Cube, dims.Planes*dims.Rows*dims.Cols),
		counters:      make([]int, dims.Planes),
		registry:      intmap.New[CubeID, *Cube](dims.Planes * dims.CubesPerPlane()),
		nextID:        1,
	}
}

// AddObserver регистрирует наблюдателя
func (g *Grid) AddObserver(o Observer) {
	g.observers = append(g.observers, o)
}

// Dims возвращает размеры сетки
func (g *Grid) Dims() Dims { return g.dims }

// ScorePerPlane возвращает стоимость одного слоя
func (g *Grid) ScorePerPlane() int { return g.scorePerPlane }

// InBounds проверяет границы ячейки
func (g *Grid) InBounds(c Cell) bool { return g.dims.Contains(c) }

// IsOccupied сообщает, занята ли ячейка. Запрос вне границ - ошибка вызывающего.
func (g *Grid) IsOccupied(c Cell) bool {
	g.mustContain(c)
	return g.cells[g.dims.index(c)] != nil
}

// LayerCount возвращает счетчик слоя
func (g *Grid) LayerCount(plane int) int { return g.counters[plane] }

// Len возвращает число кубов, принадлежащих сетке
func (g *Grid) Len() int { return g.registry.Len() }

// Cube возвращает куб по идентификатору
func (g *Grid) Cube(id CubeID) (Cube, bool) {
	c, ok := g.registry.Get(id)
	if !ok {
		return Cube{}, false
	}
	return *c, true
}

// Height возвращает число слоев от дна до верхнего занятого включительно
func (g *Grid) Height() int {
	for p := g.dims.Planes - 1; p >= 0; p-- {
		if g.counters[p] > 0 {
			return p + 1
		}
	}
	return 0
}

func (g *Grid) mustContain(c Cell) {
	if !g.dims.Contains(c) {
		panic(fmt.Sprintf("grid: ячейка %s вне сетки %dx%dx%d", c, g.dims.Planes, g.dims.Rows, g.dims.Cols))
	}
}

// Freeze записывает кубы фигуры в сетку и обрабатывает заполненные слои.
// Нарушение емкости слоя или запись в занятую ячейку - фатальная ошибка.
func (g *Grid) Freeze(cubes []PlacedCube) FreezeReport {
	report := FreezeReport{Frozen: make([]Cube, 0, len(cubes))}

	for _, pc := range cubes {
		g.mustContain(pc.Cell)
		idx := g.dims.index(pc.Cell)
		if g.cells[idx] != nil {
			panic(fmt.Sprintf("grid: заморозка в занятую ячейку %s", pc.Cell))
		}

		cube := &Cube{ID: g.nextID, Cell: pc.Cell, Descriptor: pc.Descriptor}
		g.nextID++
		g.cells[idx] = cube
		g.registry.Put(cube.ID, cube)
		g.increment(pc.Cell.Plane)

		report.Frozen = append(report.Frozen, *cube)
	}

	g.processFullLayers(&report)

	logging.Debug("🧊 Заморожено кубов: %d, очищено слоев: %d, очки: %d",
		len(report.Frozen), len(report.Cleared), report.Points)

	for _, o := range g.observers {
		o.OnFreeze(report)
	}
	return report
}

func (g *Grid) increment(plane int) {
	g.counters[plane]++
	if g.counters[plane] > g.dims.CubesPerPlane() {
		panic(fmt.Sprintf("grid: счетчик слоя %d превысил %d", plane, g.dims.CubesPerPlane()))
	}
}

// processFullLayers собирает все заполненные слои сверху вниз одной пачкой
// и очищает их от верхнего к нижнему, обрушая сетку после каждого.
func (g *Grid) processFullLayers(report *FreezeReport) {
	full := g.dims.CubesPerPlane()
	for p := g.dims.Planes - 1; p >= 0; p-- {
		if g.counters[p] == full {
			report.Cleared = append(report.Cleared, p)
		}
	}

	k := len(report.Cleared)
	if k == 0 {
		return
	}
	report.Points = g.scorePerPlane * k * k

	for _, p := range report.Cleared {
		step := ClearStep{Layer: p, Removed: g.destroyLayer(p)}
		step.Moves = g.collapseAbove(p)
		report.Steps = append(report.Steps, step)
		logging.Debug("💥 Слой %d очищен, сдвинуто кубов: %d", p, len(step.Moves))
	}
}

func (g *Grid) destroyLayer(p int) []Cube {
	removed := make([]Cube, 0, g.counters[p])
	for r := 0; r < g.dims.Rows; r++ {
		for c := 0; c < g.dims.Cols; c++ {
			idx := g.dims.index(Cell{Plane: p, Row: r, Col: c})
			cube := g.cells[idx]
			if cube == nil {
				continue
			}
			removed = append(removed, *cube)
			g.registry.Del(cube.ID)
			g.cells[idx] = nil
		}
	}
	g.counters[p] = 0
	return removed
}

// collapseAbove сдвигает все слои выше p на один вниз
func (g *Grid) collapseAbove(p int) []Move {
	var moves []Move
	for i := p + 1; i < g.dims.Planes; i++ {
		for r := 0; r < g.dims.Rows; r++ {
			for c := 0; c < g.dims.Cols; c++ {
				from := Cell{Plane: i, Row: r, Col: c}
				to := from.Below()
				src := g.dims.index(from)
				cube := g.cells[src]
				g.cells[g.dims.index(to)] = cube
				g.cells[src] = nil
				if cube != nil {
					cube.Cell = to
					moves = append(moves, Move{ID: cube.ID, From: from, To: to})
				}
			}
		}
		g.counters[i-1] = g.counters[i]
	}
	g.counters[g.dims.Planes-1] = 0
	return moves
}

// ClearAll опустошает сетку, освобождая каждый куб из реестра
func (g *Grid) ClearAll() int {
	removed := g.registry.Len()
	for i := range g.cells {
		g.cells[i] = nil
	}
	for i := range g.counters {
		g.counters[i] = 0
	}
	g.registry.Clear()

	for _, o := range g.observers {
		o.OnClearAll(removed)
	}
	return removed
}

// Snapshot перечисляет занятые ячейки в порядке слой, строка, столбец.
// Перечисление ленивое и может запускаться повторно.
func (g *Grid) Snapshot() iter.Seq[Cube] {
	return func(yield func(Cube) bool) {
		for _, cube := range g.cells {
			if cube == nil {
				continue
			}
			if !yield(*cube) {
				return
			}
		}
	}
}

// Restore заменяет содержимое сетки переданными кубами, сохраняя их
// идентификаторы. Используется на стороне реплики, поэтому ошибки входа
// возвращаются, а не считаются нарушением инварианта.
func (g *Grid) Restore(cubes iter.Seq[Cube]) error {
	for i := range g.cells {
		g.cells[i] = nil
	}
	for i := range g.counters {
		g.counters[i] = 0
	}
	g.registry.Clear()
	g.nextID = 1

	for c := range cubes {
		if err := g.Place(c); err != nil {
			return err
		}
	}
	return nil
}

// Place кладет куб с заданным идентификатором без обработки слоев
func (g *Grid) Place(c Cube) error {
	if !g.dims.Contains(c.Cell) {
		return fmt.Errorf("%w: %s", ErrOutOfBounds, c.Cell)
	}
	idx := g.dims.index(c.Cell)
	if g.cells[idx] != nil {
		return fmt.Errorf("%w: %s", ErrOccupied, c.Cell)
	}
	if _, dup := g.registry.Get(c.ID); dup {
		return fmt.Errorf("%w: куб %d уже есть", ErrMismatch, c.ID)
	}

	cube := c
	g.cells[idx] = &cube
	g.registry.Put(cube.ID, &cube)
	g.counters[c.Cell.Plane]++
	if cube.ID >= g.nextID {
		g.nextID = cube.ID + 1
	}
	return nil
}

// ApplyStep воспроизводит очистку слоя с обрушением и сверяет результат
// с шагом, полученным от хоста
func (g *Grid) ApplyStep(step ClearStep) error {
	if step.Layer < 0 || step.Layer >= g.dims.Planes {
		return fmt.Errorf("%w: слой %d", ErrOutOfBounds, step.Layer)
	}
	removed := g.destroyLayer(step.Layer)
	moves := g.collapseAbove(step.Layer)
	if len(removed) != len(step.Removed) || len(moves) != len(step.Moves) {
		return fmt.Errorf("%w: слой %d удалено %d/%d, сдвинуто %d/%d", ErrMismatch,
			step.Layer, len(removed), len(step.Removed), len(moves), len(step.Moves))
	}
	for i, m := range moves {
		if m != step.Moves[i] {
			return fmt.Errorf("%w: сдвиг %d: %+v != %+v", ErrMismatch, i, m, step.Moves[i])
		}
	}
	return nil
}
