package whatsmeowgw

import (
	"fmt"

	"github.com/rs/zerolog"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// waLogger bridges whatsmeow's logger interface onto zerolog so protocol
// internals land in the same structured stream as the rest of the server.
type waLogger struct {
	log zerolog.Logger
}

func newWaLogger(log zerolog.Logger, module string) waLog.Logger {
	return &waLogger{log: log.With().Str("wa_module", module).Logger()}
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	l.log.Error().Msg(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	l.log.Trace().Msg(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{log: l.log.With().Str("wa_module", module).Logger()}
}
