package vec

import "math"

// Axis задает ось поворота в мировых координатах
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	default:
		return "?"
	}
}

// Mat3 - матрица поворота 3x3 (строки по порядку)
type Mat3 [3][3]float64

// Identity возвращает единичную матрицу
func Identity() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Rotation строит матрицу поворота на угол degrees вокруг оси axis
func Rotation(axis Axis, degrees float64) Mat3 {
	rad := degrees * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	switch axis {
	case AxisX:
		return Mat3{{1, 0, 0}, {0, c, -s}, {0, s, c}}
	case AxisY:
		return Mat3{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
	default:
		return Mat3{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
	}
}

// Mul возвращает произведение m * o
func (m Mat3) Mul(o Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*o[0][j] + m[i][1]*o[1][j] + m[i][2]*o[2][j]
		}
	}
	return r
}

// Apply поворачивает вектор
func (m Mat3) Apply(v Vec3Float) Vec3Float {
	return Vec3Float{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Snap округляет элементы до целых. Применяется после поворотов на 90°,
// чтобы ошибка округления не накапливалась.
func (m Mat3) Snap() Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = math.Round(m[i][j])
		}
	}
	return r
}
