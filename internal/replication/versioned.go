package replication

// Handler получает изменения версионированного поля
type Handler[T any] interface {
	Changed(old, new T, version uint64)
}

// HandlerFunc адаптирует функцию к Handler
type HandlerFunc[T any] func(old, new T, version uint64)

func (f HandlerFunc[T]) Changed(old, new T, version uint64) { f(old, new, version) }

// Versioned - реплицируемое поле. Каждое изменение увеличивает версию
// и синхронно уведомляет подписчиков в порядке подписки.
type Versioned[T comparable] struct {
	value    T
	version  uint64
	handlers []Handler[T]
}

// NewVersioned создает поле с начальным значением и версией 0
func NewVersioned[T comparable](initial T) *Versioned[T] {
	return &Versioned[T]{value: initial}
}

// Get возвращает текущее значение
func (v *Versioned[T]) Get() T { return v.value }

// Version возвращает текущую версию
func (v *Versioned[T]) Version() uint64 { return v.version }

// Subscribe добавляет обработчик
func (v *Versioned[T]) Subscribe(h Handler[T]) {
	v.handlers = append(v.handlers, h)
}

// Set меняет значение; одинаковое значение не считается изменением
func (v *Versioned[T]) Set(value T) bool {
	if value == v.value {
		return false
	}
	old := v.value
	v.value = value
	v.version++
	for _, h := range v.handlers {
		h.Changed(old, value, v.version)
	}
	return true
}
