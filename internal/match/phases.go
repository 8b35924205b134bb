package match

// Phase - обработчик состояния матча
type Phase interface {
	State() State
	Enter(m *Match)
	Update(m *Match, dt float64) Phase
	Exit(m *Match)
}

type waitingPhase struct{}

func (waitingPhase) State() State                  { return Waiting }
func (waitingPhase) Enter(*Match)                  {}
func (p waitingPhase) Update(*Match, float64) Phase { return p }
func (waitingPhase) Exit(*Match)                   {}

type playingPhase struct{}

func (playingPhase) State() State { return Playing }

func (playingPhase) Enter(m *Match) {
	if m.controller == nil {
		m.spawnNext()
	}
}

func (p playingPhase) Update(m *Match, dt float64) Phase {
	if m.spawnBlocked {
		return gameOverPhase{}
	}
	if m.advanceClock(dt) {
		m.logger.Info("⏰ Время матча истекло")
		return gameOverPhase{}
	}
	if m.controller == nil {
		return p
	}

	inputs := m.takeInputs()
	out := m.controller.Tick(dt, m.dropInterval, inputs)
	switch {
	case out.Overflow:
		return gameOverPhase{}
	case out.Frozen:
		m.controller = nil
		if !m.spawnNext() {
			return gameOverPhase{}
		}
	}
	return p
}

func (playingPhase) Exit(*Match) {}

type pausedPhase struct{}

func (pausedPhase) State() State { return Paused }
func (pausedPhase) Enter(m *Match) {
	m.takeInputs()
}
func (p pausedPhase) Update(m *Match, _ float64) Phase {
	m.takeInputs()
	return p
}
func (pausedPhase) Exit(*Match) {}

// terminal - общие действия для GameOver и Victory
func enterTerminal(m *Match) {
	m.takeInputs()
	if m.controller != nil {
		m.controller.Piece().MarkRemoved()
	}
	m.best.Offer(m.score.Get())
}

type gameOverPhase struct{}

func (gameOverPhase) State() State                  { return GameOver }
func (gameOverPhase) Enter(m *Match)                { enterTerminal(m) }
func (p gameOverPhase) Update(*Match, float64) Phase { return p }
func (gameOverPhase) Exit(*Match)                   {}

type victoryPhase struct{}

func (victoryPhase) State() State                  { return Victory }
func (victoryPhase) Enter(m *Match)                { enterTerminal(m) }
func (p victoryPhase) Update(*Match, float64) Phase { return p }
func (victoryPhase) Exit(*Match)                   {}
