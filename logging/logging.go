package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/Tutortoise/food-detection-service/models"
)

type Config struct {
	Debug  bool
	Format string
}

// New builds a slog logger writing to w (stderr when nil).
func New(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Debug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// LogTimings reports per-stage durations of one request at debug level.
func LogTimings(ctx context.Context, logger *slog.Logger, t *models.ProcessingTimings) {
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	logger.DebugContext(ctx, "processing times",
		slog.String("requestID", t.RequestID),
		slog.Duration("decode", t.ImageDecode),
		slog.Duration("letterbox", t.Letterbox),
		slog.Duration("preprocess", t.Preprocess),
		slog.Duration("inference", t.Inference),
		slog.Duration("postprocess", t.Postprocess),
		slog.Duration("annotate", t.Annotate),
		slog.Duration("encode", t.Encode),
		slog.Duration("total", t.Total),
	)
}
