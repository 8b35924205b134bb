package protocol

import "fmt"

// MatchState - состояние матча
type MatchState uint8

const (
	StateWaiting MatchState = iota
	StatePlaying
	StatePaused
	StateGameOver
	StateVictory
)

var stateNames = [...]string{
	StateWaiting:  "Waiting",
	StatePlaying:  "Playing",
	StatePaused:   "Paused",
	StateGameOver: "GameOver",
	StateVictory:  "Victory",
}

func (s MatchState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("MatchState(%d)", uint8(s))
}

// Terminal - матч окончен и может быть только перезапущен
func (s MatchState) Terminal() bool {
	return s == StateGameOver || s == StateVictory
}

func (s MatchState) MarshalText() ([]byte, error) {
	if int(s) >= len(stateNames) {
		return nil, fmt.Errorf("неизвестное состояние %d", uint8(s))
	}
	return []byte(stateNames[s]), nil
}

func (s *MatchState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = MatchState(i)
			return nil
		}
	}
	return fmt.Errorf("неизвестное состояние %q", text)
}

// ParticipantID - идентификатор участника сессии; 0 означает "все"
type ParticipantID uint32

// Role - роль участника
type Role uint8

const (
	RoleRemote Role = iota
	RoleHost
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "remote"
}

// ParseRole находит роль по имени
func ParseRole(name string) (Role, error) {
	switch name {
	case "host":
		return RoleHost, nil
	case "remote":
		return RoleRemote, nil
	}
	return 0, fmt.Errorf("неизвестная роль %q", name)
}
