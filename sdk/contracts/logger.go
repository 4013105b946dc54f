package contracts

// LogLevel represents the severity level for logging.
type LogLevel int

const (
	// DebugLevel indicates messages useful for troubleshooting.
	DebugLevel LogLevel = iota - 1
	// InfoLevel indicates informational messages highlighting progress.
	InfoLevel
	// WarnLevel indicates potentially harmful situations that should be monitored.
	WarnLevel
	// ErrorLevel indicates serious issues that need attention.
	ErrorLevel
)

// Field is a single typed key/value pair attached to a log message.
type Field interface {
	Bool(key string, val bool) Field
	Int(key string, val int) Field
	Float64(key string, val float64) Field
	String(key string, val string) Field
	Error(key string, val error) Field
	Uint8(key string, val uint8) Field
}

// Logger provides leveled, structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	Field() Field

	SetLevel(level LogLevel)
}
