package logging

import "sync/atomic"

var defaultLogger atomic.Pointer[Logger]

// InitDefaultLogger создает логгер процесса, используемый функциями пакета
func InitDefaultLogger(component string) error {
	l, err := NewLogger(component)
	if err != nil {
		return err
	}
	if old := defaultLogger.Swap(l); old != nil {
		_ = old.Close()
	}
	return nil
}

// CloseDefaultLogger закрывает логгер процесса
func CloseDefaultLogger() {
	if l := defaultLogger.Swap(nil); l != nil {
		_ = l.Close()
	}
}

// Default возвращает логгер процесса или nil
func Default() *Logger {
	return defaultLogger.Load()
}

func Trace(format string, args ...interface{}) { defaultLogger.Load().log(TRACE, format, args...) }
func Debug(format string, args ...interface{}) { defaultLogger.Load().log(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { defaultLogger.Load().log(INFO, format, args...) }
func Warn(format string, args ...interface{})  { defaultLogger.Load().log(WARN, format, args...) }
func Error(format string, args ...interface{}) { defaultLogger.Load().log(ERROR, format, args...) }
