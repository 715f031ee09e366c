package logger

// Logger is the minimal structured logging interface the engine and bundle
// store depend on. Implementations accept alternating key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// TraceIDFunc generates a correlation ID for each decision record. It must
// be cheap and safe for concurrent calls.
type TraceIDFunc func() string

// Null discards everything. The zero value is ready to use.
type Null struct{}

func (Null) Debug(string, ...any) {}
func (Null) Info(string, ...any)  {}
func (Null) Warn(string, ...any)  {}
func (Null) Error(string, ...any) {}
