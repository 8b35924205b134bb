package match

import (
	"math/rand/v2"

	"github.com/annel0/cubestack/internal/config"
	"github.com/annel0/cubestack/internal/piece"
	"github.com/annel0/cubestack/internal/protocol"
)

// State - состояние матча
type State = protocol.MatchState

const (
	Waiting  = protocol.StateWaiting
	Playing  = protocol.StatePlaying
	Paused   = protocol.StatePaused
	GameOver = protocol.StateGameOver
	Victory  = protocol.StateVictory
)

// Authority - от чьего имени выполняется запрос
type Authority uint8

const (
	Remote Authority = iota
	Host
)

// Settings - параметры матча, все времена в секундах
type Settings struct {
	StartTimeout  float64
	MinTimeout    float64
	TimeoutStep   float64
	TimeTrigger   float64
	ScoreTrigger  int
	TimeLimit     float64
	DebugMode     bool
	VictoryHeight float64
}

// SettingsFrom берет параметры матча из конфигурации
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		StartTimeout:  cfg.Timing.StartTimeout,
		MinTimeout:    cfg.Timing.MinTimeout,
		TimeoutStep:   cfg.Timing.TimeoutStep,
		TimeTrigger:   cfg.Timing.TimeTrigger,
		ScoreTrigger:  cfg.Timing.ScoreTrigger,
		TimeLimit:     cfg.Timing.TimeLimit,
		DebugMode:     cfg.Match.DebugMode,
		VictoryHeight: cfg.Match.VictoryHeight,
	}
}

// BestScore хранит рекорд вне ядра. Offer не должен блокировать.
type BestScore interface {
	Best() int
	Offer(score int)
}

// ShapeSource выбирает следующую фигуру
type ShapeSource interface {
	Next() piece.Shape
}

// RandomShapes - равновероятный выбор фигур с фиксируемым зерном
type RandomShapes struct {
	rng *rand.Rand
}

// NewRandomShapes создает источник; одинаковое зерно дает одинаковую последовательность
func NewRandomShapes(seed uint64) *RandomShapes {
	return &RandomShapes{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *RandomShapes) Next() piece.Shape {
	return piece.Shapes[r.rng.IntN(len(piece.Shapes))]
}

// SequenceShapes повторяет заданную последовательность по кругу
type SequenceShapes struct {
	shapes []piece.Shape
	pos    int
}

func NewSequenceShapes(shapes ...piece.Shape) *SequenceShapes {
	return &SequenceShapes{shapes: shapes}
}

func (s *SequenceShapes) Next() piece.Shape {
	sh := s.shapes[s.pos%len(s.shapes)]
	s.pos++
	return sh
}

// memoryBest - рекорд в памяти, если хранилище не подключено
type memoryBest struct{ best int }

func (b *memoryBest) Best() int { return b.best }
func (b *memoryBest) Offer(score int) {
	if score > b.best {
		b.best = score
	}
}
