package protocol

import (
	"fmt"

	"github.com/annel0/cubestack/internal/piece"
	"github.com/annel0/cubestack/internal/vec"
)

// IntentKind - тип намерения участника
type IntentKind uint8

const (
	IntentMove IntentKind = iota + 1
	IntentRotate
	IntentDrop
	IntentDebugUp
	IntentVictory
	IntentPause
	IntentResume
	IntentRestart
)

var intentNames = map[IntentKind]string{
	IntentMove:    "move",
	IntentRotate:  "rotate",
	IntentDrop:    "drop",
	IntentDebugUp: "debug_up",
	IntentVictory: "victory",
	IntentPause:   "pause",
	IntentResume:  "resume",
	IntentRestart: "restart",
}

func (k IntentKind) String() string {
	if n, ok := intentNames[k]; ok {
		return n
	}
	return "unknown"
}

// ParseIntentKind находит тип намерения по имени
func ParseIntentKind(name string) (IntentKind, error) {
	for k, n := range intentNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("неизвестное намерение %q", name)
}

// Intent - запрос участника, который хост проверяет и применяет на своем тике
type Intent struct {
	Kind   IntentKind `json:"kind"`
	Axis   vec.Axis   `json:"axis,omitempty"`
	Sign   int        `json:"sign,omitempty"`
	Height float64    `json:"height,omitempty"`
}

// Move создает намерение сдвига вдоль оси X (строки) или Z (столбцы)
func Move(axis vec.Axis, sign int) Intent { return Intent{Kind: IntentMove, Axis: axis, Sign: sign} }

// Rotate создает намерение поворота вокруг оси X или Y
func Rotate(axis vec.Axis) Intent { return Intent{Kind: IntentRotate, Axis: axis} }

// Input переводит намерение управления фигурой в бит ввода.
// ok=false для намерений, не относящихся к фигуре, и для неверных осей.
func (i Intent) Input() (in piece.Input, ok bool) {
	switch i.Kind {
	case IntentDrop:
		return piece.InputDrop, true
	case IntentDebugUp:
		return piece.InputDebugUp, true
	case IntentMove:
		switch {
		case i.Axis == vec.AxisX && i.Sign < 0:
			return piece.InputRowNeg, true
		case i.Axis == vec.AxisX && i.Sign > 0:
			return piece.InputRowPos, true
		case i.Axis == vec.AxisZ && i.Sign < 0:
			return piece.InputColNeg, true
		case i.Axis == vec.AxisZ && i.Sign > 0:
			return piece.InputColPos, true
		}
	case IntentRotate:
		switch i.Axis {
		case vec.AxisX:
			return piece.InputRotateX, true
		case vec.AxisY:
			return piece.InputRotateY, true
		}
	}
	return 0, false
}

// Hello - первое сообщение клиента после подключения
type Hello struct {
	Token  string        `json:"token,omitempty"`
	Name   string        `json:"name"`
	Resume ParticipantID `json:"resume,omitempty"`
}

// Welcome - ответ хоста на Hello
type Welcome struct {
	Participant ParticipantID `json:"participant"`
	Role        Role          `json:"role"`
	Planes      int           `json:"planes"`
	Rows        int           `json:"rows"`
	Cols        int           `json:"cols"`
}
