package app

import (
	"io"

	"go.uber.org/zap"
)

// NewForTest builds an App that only owns closers.
func NewForTest(logger *zap.Logger, closers ...io.Closer) *App {
	return &App{Logger: logger, closers: closers}
}
