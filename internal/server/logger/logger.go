// Copyright 2025 The Evergreen Dragon OS Authors
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
	"strings"
	"sync"
	"time"

	color "github.com/fatih/color"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/DealExMachina/evergreen-dragon-os/internal/server/types"
)

const (
	ExporterNone     = "none"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

type Logger struct {
	Slogger *slog.Logger
	*sdklog.LoggerProvider
}

// Options is the dependency-injected interface required by NewLogger.
type Options interface {
	ServiceName() string
	GetVersion() string
	ModeField() types.Mode
	Writers() []io.Writer
	LogLevel() slog.Level
	LogFormat() string
	OTELExporter() string
	OTELEndpoint() string
	ExtraFields() map[string]string
	TraceCorrelation() bool
}

func NewLogger(ctx context.Context, opts Options) (*Logger, error) {
	writers := opts.Writers()
	if len(writers) == 0 {
		return nil, fmt.Errorf("no log writer")
	}
	out := writers[0]
	if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}

	handlers := make([]slog.Handler, 0, 2)
	var loggerFactory *sdklog.LoggerProvider
	if opts.ModeField() == types.ModeDebug {
		handlers = append(handlers, NewDebugHandler(out, opts.LogLevel()))
	} else {
		exporter, err := newExporter(ctx, opts.OTELExporter(), opts.OTELEndpoint())
		if err != nil {
			return nil, err
		}
		if exporter != nil {
			res, err := resource.New(ctx,
				resource.WithFromEnv(),
				resource.WithTelemetrySDK(),
				resource.WithAttributes(
					semconv.ServiceName(opts.ServiceName()),
					semconv.ServiceVersion(opts.GetVersion()),
				),
			)
			if err != nil {
				return nil, fmt.Errorf("build log resource: %w", err)
			}
			loggerFactory = sdklog.NewLoggerProvider(
				sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
				sdklog.WithResource(res),
			)
			handlers = append(handlers, otelslog.NewHandler(opts.ServiceName(), otelslog.WithLoggerProvider(loggerFactory)))
		}
		handlers = append(handlers, consoleHandler(out, opts.LogFormat(), opts.LogLevel()))
	}

	var handler slog.Handler = &MultiHandler{handlers: handlers}
	if opts.TraceCorrelation() {
		handler = &TraceHandler{Handler: handler}
	}

	slogger := slog.New(handler)
	for k, v := range opts.ExtraFields() {
		slogger = slogger.With(k, v)
	}

	return &Logger{
		Slogger:        slogger,
		LoggerProvider: loggerFactory,
	}, nil
}

// Shutdown flushes pending OTLP records. It is a no-op in debug mode.
func (l *Logger) Shutdown(ctx context.Context) error {
	if l.LoggerProvider == nil {
		return nil
	}
	return l.LoggerProvider.Shutdown(ctx)
}

func newExporter(ctx context.Context, kind, endpoint string) (sdklog.Exporter, error) {
	switch kind {
	case "", ExporterNone:
		return nil, nil
	case ExporterOTLPHTTP:
		var opts []otlploghttp.Option
		if endpoint != "" {
			opts = append(opts, otlploghttp.WithEndpointURL(endpoint))
		}
		return otlploghttp.New(ctx, opts...)
	case ExporterOTLPGRPC:
		var opts []otlploggrpc.Option
		if endpoint != "" {
			opts = append(opts, otlploggrpc.WithEndpointURL(endpoint))
		}
		return otlploggrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown log exporter %q", kind)
	}
}

func consoleHandler(out io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

type (
	DebugHandler struct {
		out    io.Writer
		level  slog.Level
		attrs  []slog.Attr
		prefix string
		mut    *sync.Mutex
	}

	MultiHandler struct {
		handlers []slog.Handler
	}
)

var _ slog.Handler = (*DebugHandler)(nil)

func NewDebugHandler(out io.Writer, level slog.Level) *DebugHandler {
	return &DebugHandler{out: out, level: level, mut: &sync.Mutex{}}
}

// Handle implements slog.Handler
func (h *DebugHandler) Handle(_ context.Context, r slog.Record) error {
	timeStr := color.New(color.FgHiBlack).Sprint(r.Time.Format("15:04:05"))
	level := levelColor(r.Level)
	attrs := append([]slog.Attr{}, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.qualify(a))
		return true
	})
	logEntry := fmt.Sprintf("%s %s %s%s\n",
		timeStr,
		level,
		r.Message,
		formatAttributes(attrs),
	)

	h.mut.Lock()
	defer h.mut.Unlock()
	_, err := h.out.Write([]byte(logEntry))
	return err
}

// WithAttrs implements slog.Handler
func (h *DebugHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.qualify(a))
	}
	return &next
}

// WithGroup implements slog.Handler
func (h *DebugHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// Enabled implements slog.Handler
func (h *DebugHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *DebugHandler) qualify(a slog.Attr) slog.Attr {
	if h.prefix != "" {
		a.Key = h.prefix + a.Key
	}
	return a
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
	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("slog handlers: %v", errs)
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
	switch {
	case level < slog.LevelInfo:
		bg, fg = color.BgMagenta, color.FgWhite
	case level < slog.LevelWarn:
		bg, fg = color.BgBlue, color.FgWhite
	case level < slog.LevelError:
		bg, fg = color.BgYellow, color.FgBlack
	default:
		bg, fg = color.BgRed, color.FgWhite
	}

	return color.New(bg, fg, color.Bold).Sprint(" " + strings.ToUpper(level.String()) + " ")
}

// formatAttributes formats a slice of attributes as a space-separated string.
func formatAttributes(attrs []slog.Attr) string {
	if len(attrs) == 0 {
		return ""
	}

	parts := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		parts = append(parts, fmt.Sprintf("%s=%s", attr.Key, formatAttrValue(attr.Value)))
	}

	return " " + strings.Join(parts, " ")
}

// formatAttrValue formats a slog.Value based on its kind.
func formatAttrValue(v slog.Value) string {
	v = v.Resolve()

	switch v.Kind() {
	case slog.KindString:
		return fmt.Sprintf("%q", v.String())
	case slog.KindInt64:
		return fmt.Sprintf("%d", v.Int64())
	case slog.KindUint64:
		return fmt.Sprintf("%d", v.Uint64())
	case slog.KindFloat64:
		return fmt.Sprintf("%g", v.Float64())
	case slog.KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindGroup:
		return "{" + strings.TrimSpace(formatAttributes(v.Group())) + "}"
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return fmt.Sprintf("%q", err.Error())
		}
		return fmt.Sprintf("%v", v.Any())
	default:
		return fmt.Sprintf("%v", v)
	}
}
