package log

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const diagnosticFilePerm = 0o600

var (
	Logger zerolog.Logger

	diagMu   sync.Mutex
	diagFile *os.File
)

func init() {
	// Configure zerolog with console writer for colored output
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}

	Logger = zerolog.New(output).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()

	// Set global logger
	log.Logger = Logger
}

// Info logs an info message.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Error logs an error message.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Warn logs a warning message.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Debug logs a debug message.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Fatal logs a fatal message and exits.
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// SetDebugMode switches the logger to debug level.
func SetDebugMode() {
	Logger = Logger.Level(zerolog.DebugLevel)
	log.Logger = Logger
}

// EnableDiagnosticFile mirrors warn-and-above events into a persistent log
// file so launch failures leave a trail that survives the process. The file
// is opened in append mode and kept open for the process lifetime.
func EnableDiagnosticFile(path string) error {
	diagMu.Lock()
	defer diagMu.Unlock()

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, diagnosticFilePerm)
	if err != nil {
		return err
	}

	if diagFile != nil {
		_ = diagFile.Close()
	}
	diagFile = file

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}
	fileWriter := &zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: file},
		Level:  zerolog.WarnLevel,
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(console, fileWriter)).
		Level(Logger.GetLevel()).
		With().
		Timestamp().
		Logger()
	log.Logger = Logger

	return nil
}

// CloseDiagnosticFile closes the diagnostic sink if one is open. Events
// logged afterwards go to the console only.
func CloseDiagnosticFile() error {
	diagMu.Lock()
	defer diagMu.Unlock()

	if diagFile == nil {
		return nil
	}
	err := diagFile.Close()
	diagFile = nil
	return err
}
