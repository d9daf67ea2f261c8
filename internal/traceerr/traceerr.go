// Package traceerr logs and wraps errors in one call: a log line
// tagged with the caller's function and line, plus a plain error for
// the caller to propagate.
package traceerr

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

func location(skip int) (string, int) {
	pc, _, line, ok := runtime.Caller(skip)
	if !ok {
		return "?", line
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "?", line
	}
	return fn.Name(), line
}

// Errorf logs format/a at error level tagged with the caller's location
// and returns the same message as a plain error.
func Errorf(format string, a ...any) error {
	fn, line := location(2)
	msg := fmt.Sprintf(format, a...)
	logrus.WithField("at", fmt.Sprintf("%s:%d", fn, line)).Error(msg)
	return fmt.Errorf("%s", msg)
}

// Wrap logs err with a contextual prefix and returns err unmodified so
// callers can both log and propagate without duplicating the message.
func Wrap(err error, format string, a ...any) error {
	if err == nil {
		return nil
	}
	fn, line := location(2)
	msg := fmt.Sprintf(format, a...)
	logrus.WithField("at", fmt.Sprintf("%s:%d", fn, line)).WithError(err).Error(msg)
	return err
}
