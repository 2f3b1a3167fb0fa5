package log

// Logger defines a standard interface for logging.
// This allows decoupling from specific logging libraries.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})

	// WithField returns a Logger that appends key=value to every entry.
	WithField(key string, value interface{}) Logger
	// WithFields is the multi-key form of WithField.
	WithFields(fields map[string]interface{}) Logger
}

// Component returns a child logger tagged with the component name.
func Component(l Logger, name string) Logger {
	return l.WithField("component", name)
}
