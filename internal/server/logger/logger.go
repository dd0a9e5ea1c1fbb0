// Copyright 2025 the Conductor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	color "github.com/fatih/color"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tidemark-io/conductor/internal/server/config"
)

type Logger struct {
	Slogger *slog.Logger
	*sdklog.LoggerProvider
}

// Options is the configuration surface the logger needs; *config.Config
// satisfies it.
type Options interface {
	Writer() io.Writer
	ModeField() config.Mode
	LogLevel() slog.Level
	LogExporter() string
	LogEndpoint() string
	ServiceName() string
	GetVersion() string
}

func NewLogger(ctx context.Context, opts Options) (*Logger, error) {
	w := opts.Writer()
	if w == nil {
		return nil, fmt.Errorf("no log writer")
	}

	if opts.ModeField() == config.ModeDebug {
		handler := &DebugHandler{out: w, level: opts.LogLevel()}
		return &Logger{Slogger: slog.New(handler)}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(opts.ServiceName()),
			semconv.ServiceVersion(opts.GetVersion()),
		),
	)
	if err != nil {
		return nil, err
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.LogLevel()}),
	}

	var provider *sdklog.LoggerProvider
	if exporter, err := newExporter(ctx, opts); err != nil {
		return nil, err
	} else if exporter != nil {
		provider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
			sdklog.WithResource(res),
		)
		handlers = append(handlers, otelslog.NewHandler(
			opts.ServiceName(), otelslog.WithLoggerProvider(provider)))
	}

	return &Logger{
		Slogger:        slog.New(&MultiHandler{handlers}),
		LoggerProvider: provider,
	}, nil
}

// Shutdown flushes the OTLP pipeline when one is configured.
func (l *Logger) Shutdown(ctx context.Context) error {
	if l.LoggerProvider == nil {
		return nil
	}
	return l.LoggerProvider.Shutdown(ctx)
}

func newExporter(ctx context.Context, opts Options) (sdklog.Exporter, error) {
	switch strings.ToLower(opts.LogExporter()) {
	case "otlp-http":
		var httpOpts []otlploghttp.Option
		if ep := opts.LogEndpoint(); ep != "" {
			httpOpts = append(httpOpts, otlploghttp.WithEndpoint(ep))
		}
		return otlploghttp.New(ctx, httpOpts...)
	case "otlp-grpc":
		var grpcOpts []otlploggrpc.Option
		if ep := opts.LogEndpoint(); ep != "" {
			grpcOpts = append(grpcOpts, otlploggrpc.WithEndpoint(ep))
		}
		return otlploggrpc.New(ctx, grpcOpts...)
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown log exporter %q", opts.LogExporter())
	}
}

type (
	// DebugHandler prints colorized, human-oriented lines for local runs.
	DebugHandler struct {
		out   io.Writer
		level slog.Level
		attrs []slog.Attr
		mut   sync.Mutex
	}

	MultiHandler struct {
		handlers []slog.Handler
	}
)

var _ slog.Handler = (*DebugHandler)(nil)

// Handle implements slog.Handler
func (h *DebugHandler) Handle(_ context.Context, r slog.Record) error {
	h.mut.Lock()
	defer h.mut.Unlock()

	timeStr := color.New(color.FgHiBlack).Sprint(r.Time.Format("15:04:05"))
	level := levelColor(r.Level)
	attrs := append([]slog.Attr{}, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	logEntry := fmt.Sprintf("%s %s %s%s\n",
		timeStr,
		level,
		r.Message,
		formatAttributes(attrs),
	)

	_, err := h.out.Write([]byte(logEntry))
	return err
}

// WithAttrs implements slog.Handler
func (h *DebugHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &DebugHandler{
		out:   h.out,
		level: h.level,
		attrs: append(h.attrs, attrs...),
	}
}

// WithGroup implements slog.Handler
func (h *DebugHandler) WithGroup(name string) slog.Handler {
	return h
}

// Enabled implements slog.Handler
func (h *DebugHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Enabled implements slog.Handler
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler
func (m *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range m.handlers {
		// Best-effort handling: a failing handler must not silence the rest.
		if err := h.Handle(ctx, record); err != nil {
			fmt.Fprintf(os.Stderr, "slog handler error: %v\n", err)
		}
	}
	return nil
}

// WithAttrs implements slog.Handler
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: newHandlers}
}

// WithGroup implements slog.Handler
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: newHandlers}
}

// levelColor returns a colored string representation of the log level.
func levelColor(level slog.Level) string {
	var bg, fg color.Attribute
	switch level {
	case slog.LevelDebug:
		bg, fg = color.BgMagenta, color.FgWhite
	case slog.LevelInfo:
		bg, fg = color.BgBlue, color.FgWhite
	case slog.LevelWarn:
		bg, fg = color.BgYellow, color.FgBlack
	case slog.LevelError:
		bg, fg = color.BgRed, color.FgWhite
	default:
		bg, fg = color.BgWhite, color.FgBlack
	}

	return color.New(bg, fg, color.Bold).Sprint(" " + strings.ToUpper(level.String()) + " ")
}

// formatAttributes formats a slice of attributes as a space-separated string.
func formatAttributes(attrs []slog.Attr) string {
	if len(attrs) == 0 {
		return ""
	}

	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		key := color.New(color.FgCyan).Sprint(a.Key)
		parts = append(parts, fmt.Sprintf("%s=%v", key, a.Value))
	}
	return " " + strings.Join(parts, " ")
}
