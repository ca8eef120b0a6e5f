// Package logging configures the structured logger shared across the
// executor's components. It follows the package-level logger pattern seen
// throughout the pack: one process-wide logiface.Logger, backed by
// stumpy's allocation-light JSON encoder, with the writer and level
// swappable at runtime via SetOutput and SetLevel.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type used throughout the executor.
type Logger = *logiface.Logger[*stumpy.Event]

var (
	mu            sync.RWMutex
	currentWriter io.Writer = os.Stderr
	currentLevel            = logiface.LevelInformational
	std                     = build()
)

func build() Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(currentWriter)),
		stumpy.L.WithLevel(currentLevel),
	)
}

// SetOutput redirects the package logger's writer.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	currentWriter = w
	std = build()
}

// SetLevel adjusts the minimum level the package logger emits.
func SetLevel(level logiface.Level) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
	std = build()
}

// L returns the current process-wide logger.
func L() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}
