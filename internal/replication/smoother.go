package replication

import (
	"math"

	"github.com/annel0/cubestack/internal/vec"
)

// Smoother сглаживает положение на стороне реплики: значение плавно
// догоняет последнее авторитетное, не дожидаясь сети.
type Smoother struct {
	rate         float64
	snapDistance float64
	current      vec.Vec3Float
	target       vec.Vec3Float
	initialized  bool
}

// NewSmoother создает сглаживатель. rate - скорость сходимости (1/с),
// snapDistance - расстояние, при котором значение переносится мгновенно.
func NewSmoother(rate, snapDistance float64) *Smoother {
	return &Smoother{rate: rate, snapDistance: snapDistance}
}

// SetTarget задает новое авторитетное значение
func (s *Smoother) SetTarget(v vec.Vec3Float) {
	s.target = v
	if !s.initialized || (s.snapDistance > 0 && v.Sub(s.current).Length() > s.snapDistance) {
		s.current = v
		s.initialized = true
	}
}

// Step продвигает значение на dt секунд и возвращает его
func (s *Smoother) Step(dt float64) vec.Vec3Float {
	if dt <= 0 {
		return s.current
	}
	t := 1 - math.Exp(-s.rate*dt)
	s.current = s.current.Lerp(s.target, t)
	if s.current.Sub(s.target).Length() < 1e-4 {
		s.current = s.target
	}
	return s.current
}

// Position возвращает текущее сглаженное значение
func (s *Smoother) Position() vec.Vec3Float { return s.current }

// Settled - значение достигло цели
func (s *Smoother) Settled() bool { return s.current == s.target }
