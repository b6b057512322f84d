// Package resolvers turns images, web pages and PDF links into plain text.
// Every resolver reports a soft failure as an error and never panics past
// its Resolve method.
package resolvers

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrNoContent = errors.New("no content produced")
	ErrTooLarge  = errors.New("document exceeds size limit")
)

func recoverSoft(err *error, log *slog.Logger, kind, target string) {
	if p := recover(); p != nil {
		log.Error("resolver panicked", "kind", kind, "target", target, "panic", p)
		*err = fmt.Errorf("%s resolver panicked: %v", kind, p)
	}
}

func orDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
