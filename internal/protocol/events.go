package protocol

import (
	"github.com/annel0/cubestack/internal/grid"
	"github.com/annel0/cubestack/internal/piece"
)

// Kind - тип события репликации
type Kind uint8

const (
	KindPieceSpawned Kind = iota + 1
	KindPieceMoved
	KindPieceFrozen
	KindLayersCleared
	KindScoreChanged
	KindStateChanged
	KindTimerChanged
	KindGridSnapshot
	KindMatchSync
	KindFeedback
)

var kindNames = map[Kind]string{
	KindPieceSpawned:  "piece.spawned",
	KindPieceMoved:    "piece.moved",
	KindPieceFrozen:   "piece.frozen",
	KindLayersCleared: "layers.cleared",
	KindScoreChanged:  "score.changed",
	KindStateChanged:  "state.changed",
	KindTimerChanged:  "timer.changed",
	KindGridSnapshot:  "grid.snapshot",
	KindMatchSync:     "match.sync",
	KindFeedback:      "feedback",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

type PieceSpawned struct {
	PieceID uint64            `json:"piece_id"`
	Shape   piece.Shape       `json:"shape"`
	Cubes   []grid.PlacedCube `json:"cubes"`
	Next    piece.Shape       `json:"next"`
}

type PieceMoved struct {
	PieceID uint64      `json:"piece_id"`
	Cells   []grid.Cell `json:"cells"`
}

type PieceFrozen struct {
	PieceID uint64      `json:"piece_id"`
	Cubes   []grid.Cube `json:"cubes"`
}

type LayersCleared struct {
	Layers []int            `json:"layers"`
	Steps  []grid.ClearStep `json:"steps"`
	Points int              `json:"points"`
}

type ScoreChanged struct {
	Score   int    `json:"score"`
	Best    int    `json:"best"`
	Version uint64 `json:"version"`
}

type StateChanged struct {
	Old     MatchState `json:"old"`
	New     MatchState `json:"new"`
	Version uint64     `json:"version"`
}

type TimerChanged struct {
	Elapsed      float64 `json:"elapsed"`
	DropInterval float64 `json:"drop_interval"`
	Version      uint64  `json:"version"`
}

type GridSnapshot struct {
	Dims  grid.Dims   `json:"dims"`
	Cubes []grid.Cube `json:"cubes"`
}

// MatchSync - полное состояние матча для (пере)подключившегося участника
type MatchSync struct {
	State        MatchState    `json:"state"`
	StateVersion uint64        `json:"state_version"`
	Score        int           `json:"score"`
	ScoreVersion uint64        `json:"score_version"`
	Best         int           `json:"best"`
	Elapsed      float64       `json:"elapsed"`
	DropInterval float64       `json:"drop_interval"`
	Piece        *PieceSpawned `json:"piece,omitempty"`
}

type Feedback struct {
	Intent   string `json:"intent"`
	Accepted bool   `json:"accepted"`
}

// Event - событие, рассылаемое хостом. Заполнено ровно одно поле
// полезной нагрузки, соответствующее Kind.
type Event struct {
	Seq    uint64        `json:"seq"`
	Kind   Kind          `json:"kind"`
	Target ParticipantID `json:"target,omitempty"`

	PieceSpawned  *PieceSpawned  `json:"piece_spawned,omitempty"`
	PieceMoved    *PieceMoved    `json:"piece_moved,omitempty"`
	PieceFrozen   *PieceFrozen   `json:"piece_frozen,omitempty"`
	LayersCleared *LayersCleared `json:"layers_cleared,omitempty"`
	ScoreChanged  *ScoreChanged  `json:"score_changed,omitempty"`
	StateChanged  *StateChanged  `json:"state_changed,omitempty"`
	TimerChanged  *TimerChanged  `json:"timer_changed,omitempty"`
	GridSnapshot  *GridSnapshot  `json:"grid_snapshot,omitempty"`
	MatchSync     *MatchSync     `json:"match_sync,omitempty"`
	Feedback      *Feedback      `json:"feedback,omitempty"`
}

// Addressed - событие адресовано одному участнику
func (e *Event) Addressed() bool { return e.Target != 0 }
