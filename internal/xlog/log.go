// Package xlog backs the component-scoped logInfo/logWarn/logTrace calls
// that the pool's governor loop makes, with github.com/rs/zerolog.
//
// The calling convention (component id first, printf-style format second)
// mirrors dispatch.go's governor, which logs as
// logInfo(g.id, "Starting."), logWarn(g.id, "Error starting streamer: %v", err)
// and logTrace(0, g.id, "tryScaleUp delta = %d", delta). Keeping it means a
// fill/reap loop written the governor's way needs no call-site changes to
// gain real structured logging.
package xlog

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	base    zerolog.Logger
	baseMu  sync.RWMutex
	once    sync.Once
)

func root() zerolog.Logger {
	once.Do(func() {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).With().Timestamp().Logger()
	})
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// SetOutput replaces the underlying zerolog logger, e.g. to switch to JSON
// output or redirect to a file. Intended to be called once at process
// start-up, before any component loggers are constructed.
func SetOutput(l zerolog.Logger) {
	// Consume the one-time default setup so a later root() call does not
	// overwrite l with the console logger.
	once.Do(func() {})
	baseMu.Lock()
	defer baseMu.Unlock()
	base = l
}

// Logger is a component-scoped logger: every call carries the component's
// id (pool name, channel id, factory id) as a field, matching the teacher's
// convention of passing id as the call's first argument.
type Logger struct {
	component string
	l         zerolog.Logger
}

// For returns a Logger scoped to component, e.g. "pool", "channel", "factory".
func For(component string) Logger {
	return Logger{component: component, l: root().With().Str("component", component).Logger()}
}

func (g Logger) with(id string) zerolog.Logger {
	if id == "" {
		return g.l
	}
	return g.l.With().Str("id", id).Logger()
}

// Trace mirrors logTrace(level, id, format, args...). level is carried as a
// field rather than used to gate output; verbosity is controlled globally
// via zerolog.SetGlobalLevel.
func (g Logger) Trace(level int, id string, format string, args ...interface{}) {
	g.with(id).Trace().Int("level", level).Msg(fmt.Sprintf(format, args...))
}

// Info mirrors logInfo(id, format, args...).
func (g Logger) Info(id string, format string, args ...interface{}) {
	g.with(id).Info().Msg(fmt.Sprintf(format, args...))
}

// Warn mirrors logWarn(id, format, args...).
func (g Logger) Warn(id string, format string, args ...interface{}) {
	g.with(id).Warn().Msg(fmt.Sprintf(format, args...))
}

// Error logs a sticky connection/stream failure. The teacher's slice never
// needed this level since dispatch.go only deals with scaling decisions;
// the per-channel state machine does need it for onConnectionError.
func (g Logger) Error(id string, err error, format string, args ...interface{}) {
	g.with(id).Error().Err(err).Msg(fmt.Sprintf(format, args...))
}
