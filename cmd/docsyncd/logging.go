package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/vango-dev/docsync/internal/config"
)

// newLogger builds the process logger from the log section.
func newLogger(c *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}

	var h slog.Handler
	if strings.EqualFold(c.Log.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", "docsyncd")
}
