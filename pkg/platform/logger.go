package platform

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// restyLogger routes resty's printf-style messages into zerolog. Resty
// warnings (such as Basic auth over plain HTTP) are only interesting when
// debugging, so they are logged at debug level.
type restyLogger struct {
	log zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.log.Trace().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// retryLogger implements retryablehttp.LeveledLogger.
type retryLogger struct {
	log zerolog.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}
