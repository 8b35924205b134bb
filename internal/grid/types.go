package grid

import (
	"fmt"

	"github.com/annel0/cubestack/internal/vec"
)

// Cell - координата ячейки сетки. Слой (Plane) растет снизу вверх.
type Cell struct {
	Plane int `json:"plane"`
	Row   int `json:"row"`
	Col   int `json:"col"`
}

// Below возвращает ячейку под текущей
func (c Cell) Below() Cell { return Cell{Plane: c.Plane - 1, Row: c.Row, Col: c.Col} }

// Vec возвращает мировую позицию ячейки: X - строка, Y - слой, Z - столбец
func (c Cell) Vec() vec.Vec3 { return vec.Vec3{X: c.Row, Y: c.Plane, Z: c.Col} }

// CellOf обратное преобразование к Vec
func CellOf(v vec.Vec3) Cell { return Cell{Plane: v.Y, Row: v.X, Col: v.Z} }

func (c Cell) String() string { return fmt.Sprintf("(%d,%d,%d)", c.Plane, c.Row, c.Col) }

// Dims - размеры сетки P×R×C
type Dims struct {
	Planes int `json:"planes"`
	Rows   int `json:"rows"`
	Cols   int `json:"cols"`
}

// CubesPerPlane - емкость слоя R*C
func (d Dims) CubesPerPlane() int { return d.Rows * d.Cols }

// Contains проверяет, что ячейка лежит внутри [0,P)×[0,R)×[0,C)
func (d Dims) Contains(c Cell) bool {
	return c.Plane >= 0 && c.Plane < d.Planes &&
		c.Row >= 0 && c.Row < d.Rows &&
		c.Col >= 0 && c.Col < d.Cols
}

// ContainsColumn проверяет только строку и столбец
func (d Dims) ContainsColumn(c Cell) bool {
	return c.Row >= 0 && c.Row < d.Rows && c.Col >= 0 && c.Col < d.Cols
}

func (d Dims) index(c Cell) int {
	return (c.Plane*d.Rows+c.Row)*d.Cols + c.Col
}

// Color - RGBA цвет куба
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// Descriptor - визуальное описание куба. Нужно только для репликации,
// логика симуляции его не читает.
type Descriptor struct {
	Color          Color         `json:"color"`
	Material       string        `json:"material,omitempty"`
	ColliderCenter vec.Vec3Float `json:"collider_center"`
	ColliderSize   vec.Vec3Float `json:"collider_size"`
	HasCollider    bool          `json:"has_collider"`
}

// UnitDescriptor возвращает описание единичного куба с коллайдером
func UnitDescriptor(color Color, material string) Descriptor {
	return Descriptor{
		Color:        color,
		Material:     material,
		ColliderSize: vec.Vec3Float{X: 1, Y: 1, Z: 1},
		HasCollider:  true,
	}
}

// CubeID - идентификатор куба, выданный сеткой
type CubeID uint64

// Cube - замороженный куб, принадлежащий сетке
type Cube struct {
	ID         CubeID     `json:"id"`
	Cell       Cell       `json:"cell"`
	Descriptor Descriptor `json:"descriptor"`
}

// PlacedCube - куб фигуры в момент заморозки
type PlacedCube struct {
	Cell       Cell       `json:"cell"`
	Descriptor Descriptor `json:"descriptor"`
}

// Move - смещение куба при каскадном обрушении
type Move struct {
	ID   CubeID `json:"id"`
	From Cell   `json:"from"`
	To   Cell   `json:"to"`
}

// ClearStep - очистка одного слоя и следующее за ней обрушение
type ClearStep struct {
	Layer   int    `json:"layer"`
	Removed []Cube `json:"removed"`
	Moves   []Move `json:"moves"`
}

// FreezeReport описывает результат одной заморозки
type FreezeReport struct {
	Frozen  []Cube      `json:"frozen"`
	Cleared []int       `json:"cleared"`
	Steps   []ClearStep `json:"steps"`
	Points  int         `json:"points"`
}

// Observer получает уведомления о мутациях сетки в порядке регистрации
type Observer interface {
	OnFreeze(report FreezeReport)
	OnClearAll(removed int)
}
