package replication

import (
	"sort"

	"github.com/annel0/cubestack/internal/protocol"
)

// TaskID - идентификатор запланированной задачи
type TaskID uint64

type task struct {
	id        TaskID
	owner     protocol.ParticipantID
	due       float64
	fn        func()
	cancelled bool
	done      bool
}

// Scheduler - очередь отложенных задач, исполняемых на тике хоста.
// Задачи привязаны к участнику и отменяются при его отключении.
type Scheduler struct {
	now    float64
	nextID TaskID
	tasks  []*task
}

// NewScheduler создает пустую очередь
func NewScheduler() *Scheduler {
	return &Scheduler{nextID: 1}
}

// Schedule ставит fn на исполнение через delay секунд тикового времени
func (s *Scheduler) Schedule(owner protocol.ParticipantID, delay float64, fn func()) TaskID {
	t := &task{id: s.nextID, owner: owner, due: s.now + delay, fn: fn}
	s.nextID++
	s.tasks = append(s.tasks, t)
	return t.id
}

// Cancel снимает задачу
func (s *Scheduler) Cancel(id TaskID) bool {
	for i, t := range s.tasks {
		if t.id == id {
			t.cancelled = true
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// CancelOwner снимает все задачи участника
func (s *Scheduler) CancelOwner(owner protocol.ParticipantID) int {
	kept := s.tasks[:0]
	cancelled := 0
	for _, t := range s.tasks {
		if t.owner == owner {
			t.cancelled = true
			cancelled++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = kept
	return cancelled
}

// Pending возвращает число ожидающих задач
func (s *Scheduler) Pending() int { return len(s.tasks) }

// Advance продвигает время и исполняет наступившие задачи по сроку,
// при равных сроках - в порядке постановки. Задачи, поставленные
// во время исполнения, ждут следующего вызова; отмененные во время
// исполнения не запускаются.
func (s *Scheduler) Advance(dt float64) int {
	s.now += dt

	var due []*task
	for _, t := range s.tasks {
		if t.due <= s.now {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return 0
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].due < due[j].due })

	ran := 0
	for _, t := range due {
		if t.cancelled {
			continue
		}
		t.done = true
		t.fn()
		ran++
	}

	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.done && !t.cancelled {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = kept
	return ran
}
