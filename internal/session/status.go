package session

import (
	"slices"
	"time"

	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/piece"
	"github.com/annel0/cubestack/internal/protocol"
	"github.com/annel0/cubestack/internal/replication"
)

// PieceView - падающая фигура для чтения извне
type PieceView struct {
	ID    uint64      `json:"id"`
	Shape string      `json:"shape"`
	State string      `json:"state"`
	Cells []grid.Cell `json:"cells"`
}

// StatusView - неизменяемый снимок хоста после тика.
// Публикуется через atomic.Pointer, читается REST и метриками.
type StatusView struct {
	State              protocol.MatchState       `json:"state"`
	StateVersion       uint64                    `json:"state_version"`
	Score              int                       `json:"score"`
	Best               int                       `json:"best"`
	Elapsed            float64                   `json:"elapsed"`
	DropInterval       float64                   `json:"drop_interval"`
	PausedByDisconnect bool                      `json:"paused_by_disconnect"`
	Active             *PieceView                `json:"active,omitempty"`
	Next               string                    `json:"next,omitempty"`
	Participants       []replication.Participant `json:"participants"`
	Seq                uint64                    `json:"seq"`
	Tick               uint64                    `json:"tick"`
	Dims               grid.Dims                 `json:"dims"`
	Height             int                       `json:"height"`
	Cubes              []grid.Cube               `json:"cubes"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

func (s *Session) publish() {
	m := s.match
	view := &StatusView{
		State:              m.State(),
		StateVersion:       m.StateVersion(),
		Score:              m.Score(),
		Best:               m.Best(),
		Elapsed:            m.Elapsed(),
		DropInterval:       m.DropInterval(),
		PausedByDisconnect: m.PausedByDisconnect(),
		Participants:       s.coord.Participants(),
		Seq:                s.coord.Seq(),
		Tick:               s.ticks,
		Dims:               s.grid.Dims(),
		Height:             s.grid.Height(),
		Cubes:              slices.Collect(s.grid.Snapshot()),
		UpdatedAt:          time.Now(),
	}
	if p := m.Active(); p != nil && p.State() == piece.Falling {
		view.Active = &PieceView{
			ID:    uint64(p.ID()),
			Shape: p.Shape().String(),
			State: p.State().String(),
			Cells: p.Cells(),
		}
	}
	if p := m.Preview(); p != nil {
		view.Next = p.Shape().String()
	}
	s.status.Store(view)
}
