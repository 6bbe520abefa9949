package util

import (
	"fmt"

	"github.com/pion/logging"
)

// Compile-time interface checks.
var (
	_ logging.LoggerFactory = PionLoggerFactory{}
	_ logging.LeveledLogger = pionLogger{}
)

// PionLoggerFactory routes pion's internal logging (ICE, DTLS, SCTP) through
// the pterm logger so that a single --debug flag controls everything.
// pion's info level is demoted to debug; it is too chatty for normal runs.
type PionLoggerFactory struct{}

func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l pionLogger) prefix(msg string) string {
	return fmt.Sprintf("pion/%s: %s", l.scope, msg)
}

func (l pionLogger) Trace(msg string) { LogTrace("%s", l.prefix(msg)) }
func (l pionLogger) Debug(msg string) { LogTrace("%s", l.prefix(msg)) }
func (l pionLogger) Info(msg string)  { LogDebug("%s", l.prefix(msg)) }
func (l pionLogger) Warn(msg string)  { LogWarning("%s", l.prefix(msg)) }
func (l pionLogger) Error(msg string) { LogError("%s", l.prefix(msg)) }

func (l pionLogger) Tracef(format string, args ...interface{}) { l.Trace(fmt.Sprintf(format, args...)) }
func (l pionLogger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l pionLogger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l pionLogger) Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func (l pionLogger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }
