package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из строки конфигурации
func ParseLevel(s string) (LogLevel, error) {
	switch s {
	case "trace", "TRACE":
		return TRACE, nil
	case "debug", "DEBUG":
		return DEBUG, nil
	case "", "info", "INFO":
		return INFO, nil
	case "warn", "WARN":
		return WARN, nil
	case "error", "ERROR":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("неизвестный уровень логирования %q", s)
}

// Options - параметры, общие для всех логгеров процесса
type Options struct {
	Dir          string
	ConsoleLevel LogLevel
	FileLevel    LogLevel
}

var (
	optionsMu  sync.RWMutex
	options    Options
	configured bool
)

// Configure задает каталог и уровни для логгеров, создаваемых после вызова.
// До вызова Configure логгеры ничего не пишут (удобно в тестах).
func Configure(opts Options) {
	optionsMu.Lock()
	defer optionsMu.Unlock()
	if opts.Dir == "" {
		opts.Dir = "logs"
	}
	options = opts
	configured = true
}

func currentOptions() (Options, bool) {
	optionsMu.RLock()
	defer optionsMu.RUnlock()
	return options, configured
}

// Logger представляет логгер одного компонента
type Logger struct {
	component       string
	consoleLogger   *log.Logger
	fileLogger      *log.Logger
	file            *os.File
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
}

// NewLogger создает логгер компонента с отдельным файлом в каталоге логов
func NewLogger(component string) (*Logger, error) {
	opts, ok := currentOptions()
	if !ok {
		return discardLogger(component), nil
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", opts.Dir, err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", component, timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	return &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		fileLogger:      log.New(file, "", log.LstdFlags),
		file:            file,
		minConsoleLevel: opts.ConsoleLevel,
		minFileLevel:    opts.FileLevel,
	}, nil
}

// NewConsoleLogger создает логгер, пишущий только в stdout
func NewConsoleLogger(component string, level LogLevel) *Logger {
	return &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		fileLogger:      log.New(io.Discard, "", 0),
		minConsoleLevel: level,
		minFileLevel:    ERROR + 1,
	}
}

func discardLogger(component string) *Logger {
	return &Logger{
		component:       component,
		consoleLogger:   log.New(io.Discard, "", 0),
		fileLogger:      log.New(io.Discard, "", 0),
		minConsoleLevel: ERROR + 1,
		minFileLevel:    ERROR + 1,
	}
}

// Close закрывает файл логгера
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Component возвращает имя компонента
func (l *Logger) Component() string { return l.component }

func (l *Logger) Trace(format string, args ...interface{}) { l.log(TRACE, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}
	if level < l.minFileLevel && level < l.minConsoleLevel {
		return
	}

	message := fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, fmt.Sprintf(format, args...))

	if level >= l.minFileLevel {
		l.fileLogger.Println(message)
	}
	if level >= l.minConsoleLevel {
		l.consoleLogger.Println(message)
	}
}

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}

// LogMessage логирует детали сетевого сообщения с hex дампом
func LogMessage(connID string, direction string, msgType interface{}, payload []byte) {
	Trace("=== %s MESSAGE %s ===", direction, connID)
	Trace("Type: %v, size: %d bytes", msgType, len(payload))
	if len(payload) > 0 {
		Trace("%s", HexDump(payload))
	}
}

// LogProtocolError логирует ошибки декодирования протокола
func LogProtocolError(connID string, err error, data []byte) {
	Error("Protocol error from %s: %v", connID, err)
	if len(data) > 0 {
		Debug("Raw data (%d bytes):\n%s", len(data), HexDump(data))
	}
}
