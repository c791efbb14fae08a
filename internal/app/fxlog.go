package app

import (
	"github.com/rs/zerolog"
	"go.uber.org/fx/fxevent"
)

// EventLogger routes fx lifecycle events through zerolog. Hook timings are
// debug; failures are errors.
type EventLogger struct {
	Log zerolog.Logger
}

func (l EventLogger) LogEvent(event fxevent.Event) {
	lg := l.Log.With().Str("component", "fx").Logger()
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		if e.Err != nil {
			lg.Error().Err(e.Err).Str("callee", e.FunctionName).Msg("start hook failed")
			return
		}
		lg.Debug().Str("callee", e.FunctionName).Dur("took", e.Runtime).Msg("start hook")
	case *fxevent.OnStopExecuted:
		if e.Err != nil {
			lg.Error().Err(e.Err).Str("callee", e.FunctionName).Msg("stop hook failed")
			return
		}
		lg.Debug().Str("callee", e.FunctionName).Dur("took", e.Runtime).Msg("stop hook")
	case *fxevent.Provided:
		if e.Err != nil {
			lg.Error().Err(e.Err).Str("constructor", e.ConstructorName).Msg("provide failed")
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			lg.Error().Err(e.Err).Str("function", e.FunctionName).Msg("invoke failed")
		}
	case *fxevent.Started:
		if e.Err != nil {
			lg.Error().Err(e.Err).Msg("start failed")
			return
		}
		lg.Info().Msg("started")
	case *fxevent.Stopped:
		if e.Err != nil {
			lg.Error().Err(e.Err).Msg("stop failed")
			return
		}
		lg.Info().Msg("stopped")
	case *fxevent.RollingBack:
		lg.Error().Err(e.StartErr).Msg("start failed, rolling back")
	}
}
