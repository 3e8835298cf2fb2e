package core

// Logger is implemented by the services/logger package.
// args may carry errors, maps of extras and a *LogPerson identifying the caller.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// LogPerson identifies who triggered a log entry (admin username or student name, and tenant).
type LogPerson struct {
	ID       string
	Username string
	SchoolID string
}

// NopLogger discards everything; used in tests.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}
