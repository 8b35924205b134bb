package piece

import (
	"fmt"

	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/vec"
)

// Shape - одна из шести фиксированных фигур
type Shape uint8

const (
	ShapeL Shape = iota
	ShapeZ
	ShapeT
	ShapeI
	ShapeO
	ShapeSingle
)

// Shapes перечисляет все фигуры в порядке значений
var Shapes = []Shape{ShapeL, ShapeZ, ShapeT, ShapeI, ShapeO, ShapeSingle}

type shapeDef struct {
	name     string
	offsets  []vec.Vec3Float // относительно опорного куба: X - строка, Y - слой, Z - столбец
	color    grid.Color
	material string
}

// Фигуры лежат плашмя в плоскости строк и столбцов
var shapeDefs = [...]shapeDef{
	ShapeL: {
		name:     "L",
		offsets:  []vec.Vec3Float{{X: -1}, {}, {X: 1}, {X: 1, Z: 1}},
		color:    grid.Color{R: 255, G: 140, B: 0, A: 255},
		material: "Orange",
	},
	ShapeZ: {
		name:     "Z",
		offsets:  []vec.Vec3Float{{X: -1}, {}, {Z: 1}, {X: 1, Z: 1}},
		color:    grid.Color{R: 220, G: 30, B: 30, A: 255},
		material: "Red",
	},
	ShapeT: {
		name:     "T",
		offsets:  []vec.Vec3Float{{X: -1}, {}, {X: 1}, {Z: 1}},
		color:    grid.Color{R: 150, G: 40, B: 200, A: 255},
		material: "Purple",
	},
	ShapeI: {
		name:     "I",
		offsets:  []vec.Vec3Float{{X: -1}, {}, {X: 1}, {X: 2}},
		color:    grid.Color{R: 0, G: 200, B: 230, A: 255},
		material: "Cyan",
	},
	ShapeO: {
		name:     "O",
		offsets:  []vec.Vec3Float{{}, {X: 1}, {Z: 1}, {X: 1, Z: 1}},
		color:    grid.Color{R: 240, G: 220, B: 0, A: 255},
		material: "Yellow",
	},
	ShapeSingle: {
		name:     "Single",
		offsets:  []vec.Vec3Float{{}},
		color:    grid.Color{R: 40, G: 200, B: 60, A: 255},
		material: "Green",
	},
}

func (s Shape) def() shapeDef {
	if int(s) >= len(shapeDefs) {
		panic(fmt.Sprintf("piece: неизвестная фигура %d", s))
	}
	return shapeDefs[s]
}

func (s Shape) String() string {
	if int(s) >= len(shapeDefs) {
		return fmt.Sprintf("Shape(%d)", uint8(s))
	}
	return shapeDefs[s].name
}

// ParseShape находит фигуру по имени
func ParseShape(name string) (Shape, error) {
	for _, s := range Shapes {
		if shapeDefs[s].name == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("неизвестная фигура %q", name)
}

// Rotatable - одиночный куб не вращается
func (s Shape) Rotatable() bool { return s != ShapeSingle }

// Size возвращает число кубов фигуры
func (s Shape) Size() int { return len(s.def().offsets) }

// Descriptor возвращает визуальное описание кубов фигуры
func (s Shape) Descriptor() grid.Descriptor {
	d := s.def()
	return grid.UnitDescriptor(d.color, d.material)
}

// spawnOrigin размещает фигуру по центру строк и столбцов так,
// чтобы верхний куб оказался в слое P-1
func (s Shape) spawnOrigin(dims grid.Dims) vec.Vec3 {
	offs := s.def().offsets
	minX, maxX := offs[0].X, offs[0].X
	minZ, maxZ := offs[0].Z, offs[0].Z
	maxY := offs[0].Y
	for _, o := range offs[1:] {
		minX, maxX = min(minX, o.X), max(maxX, o.X)
		minZ, maxZ = min(minZ, o.Z), max(maxZ, o.Z)
		maxY = max(maxY, o.Y)
	}
	width := int(maxX-minX) + 1
	depth := int(maxZ-minZ) + 1
	return vec.Vec3{
		X: (dims.Rows-width)/2 - int(minX),
		Y: dims.Planes - 1 - int(maxY),
		Z: (dims.Cols-depth)/2 - int(minZ),
	}
}
