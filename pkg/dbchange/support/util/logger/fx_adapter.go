package logger

import (
	"strings"

	"go.uber.org/fx/fxevent"
)

// FxLoggerAdapter writes fx lifecycle events through the undertow logger.
// Graph construction is logged at DEBUG, lifecycle transitions at INFO.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter returns the adapter as an fxevent.Logger.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuted:
		hook("start", e.FunctionName, e.Runtime.String(), e.Err)
	case *fxevent.OnStopExecuted:
		hook("stop", e.FunctionName, e.Runtime.String(), e.Err)
	case *fxevent.Supplied:
		failed("supply", e.TypeName, e.Err)
	case *fxevent.Provided:
		if !failed("provide", e.ConstructorName, e.Err) {
			With("module", e.ModuleName).Debugf("fx: provided %s", strings.Join(e.OutputTypeNames, ", "))
		}
	case *fxevent.Decorated:
		if !failed("decorate", e.DecoratorName, e.Err) {
			With("module", e.ModuleName).Debugf("fx: decorated %s", strings.Join(e.OutputTypeNames, ", "))
		}
	case *fxevent.Invoked:
		failed("invoke", e.FunctionName, e.Err)
	case *fxevent.Stopping:
		Infof("fx: received %s, stopping", strings.ToUpper(e.Signal.String()))
	case *fxevent.Stopped:
		failed("stop", "application", e.Err)
	case *fxevent.RollingBack:
		Errorf("fx: start failed, rolling back: %v", e.StartErr)
	case *fxevent.RolledBack:
		failed("rollback", "application", e.Err)
	case *fxevent.Started:
		if !failed("start", "application", e.Err) {
			Infof("fx: application started")
		}
	case *fxevent.LoggerInitialized:
		failed("initialize logger", e.ConstructorName, e.Err)
	}
}

func hook(kind, fn, runtime string, err error) {
	l := With("hook", kind, "callee", trimFuncSuffix(fn))
	if err != nil {
		l.Errorf("fx: %s hook failed: %v", kind, err)
		return
	}
	l.Debugf("fx: %s hook done in %s", kind, runtime)
}

// failed logs err for the named fx step and reports whether there was one.
func failed(step, name string, err error) bool {
	if err == nil {
		return false
	}
	With("step", step).Errorf("fx: %s %s failed: %v", step, trimFuncSuffix(name), err)
	return true
}

// trimFuncSuffix drops the ".funcN" suffix fx reports for closures.
func trimFuncSuffix(name string) string {
	if idx := strings.LastIndex(name, ".func"); idx != -1 {
		return name[:idx]
	}
	return name
}
