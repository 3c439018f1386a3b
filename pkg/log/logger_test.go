package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

// LoggerTestSuite tests the log package
type LoggerTestSuite struct {
	suite.Suite
	originalLogger zerolog.Logger
	testOutput     *bytes.Buffer
}

// SetupTest runs before each test
func (s *LoggerTestSuite) SetupTest() {
	// Save the original logger
	s.originalLogger = Logger

	// Create a test output buffer
	s.testOutput = &bytes.Buffer{}

	// Replace the global logger for testing
	Logger = zerolog.New(s.testOutput).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Logger()
}

// TearDownTest runs after each test
func (s *LoggerTestSuite) TearDownTest() {
	// Restore the original logger
	Logger = s.originalLogger
	_ = CloseDiagnosticFile()
}

// TestInfoLog tests the Info logging function
func (s *LoggerTestSuite) TestInfoLog() {
	testMessage := "test info message"

	Info().Msg(testMessage)

	output := s.testOutput.String()
	s.Contains(output, testMessage)
	s.Contains(output, "info")
}

// TestErrorLog tests the Error logging function
func (s *LoggerTestSuite) TestErrorLog() {
	testMessage := "test error message"

	Error().Msg(testMessage)

	output := s.testOutput.String()
	s.Contains(output, testMessage)
	s.Contains(output, "error")
}

// TestWarnLog tests the Warn logging function
func (s *LoggerTestSuite) TestWarnLog() {
	testMessage := "test warning message"

	Warn().Msg(testMessage)

	output := s.testOutput.String()
	s.Contains(output, testMessage)
	s.Contains(output, "warn")
}

// TestDebugLog tests the Debug logging function
func (s *LoggerTestSuite) TestDebugLog() {
	testMessage := "test debug message"

	Debug().Msg(testMessage)

	output := s.testOutput.String()
	s.Contains(output, testMessage)
	s.Contains(output, "debug")
}

// TestLogWithFields tests logging with additional fields
func (s *LoggerTestSuite) TestLogWithFields() {
	Info().Str("update_id", "abc-123").Msg("update loaded")

	output := s.testOutput.String()
	s.Contains(output, "update loaded")
	s.Contains(output, "update_id")
	s.Contains(output, "abc-123")
}

// TestSetDebugMode tests switching to debug level
func (s *LoggerTestSuite) TestSetDebugMode() {
	Logger = Logger.Level(zerolog.InfoLevel)
	Debug().Msg("before debug mode")
	s.NotContains(s.testOutput.String(), "before debug mode")

	SetDebugMode()
	Debug().Msg("after debug mode")
	s.Contains(s.testOutput.String(), "after debug mode")
}

// TestDiagnosticFile tests that warn-and-above events reach the
// diagnostic file while info stays on the console only
func (s *LoggerTestSuite) TestDiagnosticFile() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "error.log")

	s.Require().NoError(EnableDiagnosticFile(path))

	Info().Msg("informational event")
	Warn().Msg("diagnostic warn event")
	Error().Msg("diagnostic error event")

	s.Require().NoError(CloseDiagnosticFile())

	content, err := os.ReadFile(path)
	s.Require().NoError(err)
	s.Contains(string(content), "diagnostic warn event")
	s.Contains(string(content), "diagnostic error event")
	s.NotContains(string(content), "informational event")
}

// TestCloseDiagnosticFileIdempotent tests closing without an open file
func (s *LoggerTestSuite) TestCloseDiagnosticFileIdempotent() {
	s.NoError(CloseDiagnosticFile())
	s.NoError(CloseDiagnosticFile())
}

// TestSuite runs the logger test suite
func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
