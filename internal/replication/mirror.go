package replication

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/piece"
	"github.com/annel0/cubestack/internal/protocol"
)

// ErrNeedResync - локальная реконструкция разошлась с хостом
var ErrNeedResync = errors.New("требуется полная синхронизация")

// PieceView - падающая фигура, как ее видит удаленный участник
type PieceView struct {
	ID    uint64
	Shape piece.Shape
	Cells []grid.Cell
	Next  piece.Shape
}

// Mirror восстанавливает состояние хоста на стороне удаленного участника.
// Сетка реплики принадлежит Mirror и меняется только событиями хоста.
type Mirror struct {
	grid *grid.Grid

	state        protocol.MatchState
	stateVersion uint64
	score        int
	best         int
	scoreVersion uint64
	elapsed      float64
	dropInterval float64
	timerVersion uint64

	piece    *PieceView
	lastSeq  uint64
	stale    bool
	feedback []protocol.Feedback
}

// NewMirror создает пустую реплику
func NewMirror(dims grid.Dims) *Mirror {
	return &Mirror{grid: grid.New(dims, 0)}
}

// Apply применяет событие хоста. ErrNeedResync означает, что реплику
// нужно перестроить из GridSnapshot; до этого изменения сетки игнорируются.
func (m *Mirror) Apply(ev *protocol.Event) error {
	if ev.Seq > m.lastSeq {
		m.lastSeq = ev.Seq
	}

	switch ev.Kind {
	case protocol.KindGridSnapshot:
		return m.applySnapshot(ev.GridSnapshot)
	case protocol.KindMatchSync:
		m.applySync(ev.MatchSync)
	case protocol.KindPieceSpawned:
		s := ev.PieceSpawned
		cells := make([]grid.Cell, len(s.Cubes))
		for i, c := range s.Cubes {
			cells[i] = c.Cell
		}
		m.piece = &PieceView{ID: s.PieceID, Shape: s.Shape, Cells: cells, Next: s.Next}
	case protocol.KindPieceMoved:
		if m.piece != nil && m.piece.ID == ev.PieceMoved.PieceID {
			m.piece.Cells = slices.Clone(ev.PieceMoved.Cells)
		}
	case protocol.KindPieceFrozen:
		m.piece = nil
		if m.stale {
			return ErrNeedResync
		}
		for _, c := range ev.PieceFrozen.Cubes {
			if err := m.grid.Place(c); err != nil {
				m.stale = true
				return fmt.Errorf("%w: %v", ErrNeedResync, err)
			}
		}
	case protocol.KindLayersCleared:
		if m.stale {
			return ErrNeedResync
		}
		for _, step := range ev.LayersCleared.Steps {
			if err := m.grid.ApplyStep(step); err != nil {
				m.stale = true
				return fmt.Errorf("%w: %v", ErrNeedResync, err)
			}
		}
	case protocol.KindScoreChanged:
		sc := ev.ScoreChanged
		if sc.Version > m.scoreVersion {
			m.score, m.best, m.scoreVersion = sc.Score, sc.Best, sc.Version
		}
	case protocol.KindStateChanged:
		st := ev.StateChanged
		if st.Version > m.stateVersion {
			m.state, m.stateVersion = st.New, st.Version
		}
	case protocol.KindTimerChanged:
		tc := ev.TimerChanged
		if tc.Version > m.timerVersion {
			m.elapsed, m.dropInterval, m.timerVersion = tc.Elapsed, tc.DropInterval, tc.Version
		}
	case protocol.KindFeedback:
		m.feedback = append(m.feedback, *ev.Feedback)
	default:
		return fmt.Errorf("неизвестное событие %d", ev.Kind)
	}
	return nil
}

func (m *Mirror) applySnapshot(s *protocol.GridSnapshot) error {
	if s.Dims != m.grid.Dims() && s.Dims.Planes > 0 {
		m.grid = grid.New(s.Dims, 0)
	}
	if err := m.grid.Restore(slices.Values(s.Cubes)); err != nil {
		m.stale = true
		return fmt.Errorf("%w: %v", ErrNeedResync, err)
	}
	m.stale = false
	return nil
}

func (m *Mirror) applySync(s *protocol.MatchSync) {
	m.state, m.stateVersion = s.State, s.StateVersion
	m.score, m.best, m.scoreVersion = s.Score, s.Best, s.ScoreVersion
	m.elapsed, m.dropInterval = s.Elapsed, s.DropInterval
	m.piece = nil
	if s.Piece != nil {
		cells := make([]grid.Cell, len(s.Piece.Cubes))
		for i, c := range s.Piece.Cubes {
			cells[i] = c.Cell
		}
		m.piece = &PieceView{ID: s.Piece.PieceID, Shape: s.Piece.Shape, Cells: cells, Next: s.Piece.Next}
	}
}

// Snapshot перечисляет кубы реплики
func (m *Mirror) Snapshot() iter.Seq[grid.Cube] { return m.grid.Snapshot() }

// Grid возвращает сетку реплики (только для чтения)
func (m *Mirror) Grid() *grid.Grid { return m.grid }

func (m *Mirror) State() protocol.MatchState { return m.state }
func (m *Mirror) Score() int                 { return m.score }
func (m *Mirror) Best() int                  { return m.best }
func (m *Mirror) Elapsed() float64           { return m.elapsed }
func (m *Mirror) DropInterval() float64      { return m.dropInterval }
func (m *Mirror) Piece() *PieceView          { return m.piece }
func (m *Mirror) LastSeq() uint64            { return m.lastSeq }
func (m *Mirror) Stale() bool                { return m.stale }

// MarkStale помечает реплику устаревшей до следующего снимка сетки
func (m *Mirror) MarkStale() { m.stale = true }

// Feedback возвращает накопленные сигналы и очищает их
func (m *Mirror) Feedback() []protocol.Feedback {
	out := m.feedback
	m.feedback = nil
	return out
}
