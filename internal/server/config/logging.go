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


package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/DealExMachina/evergreen-dragon-os/internal/server/types"
)

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.Level(-8)

var logLevels = map[string]slog.Level{
	"trace": LevelTrace,
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

type LoggerConfig struct {
	Level          string `json:"level"         env:"LEVEL"         envDefault:"info"`      // trace|debug|info|warn|error
	Format         string `json:"format"        env:"FORMAT"        envDefault:"json"`      // json|text, ignored in debug mode
	Output         string `json:"output"        env:"OUTPUT"        envDefault:"stdout"`    // stdout, stderr or file:/path, comma-separated
	ExtraFieldsRaw string `json:"fields"        env:"FIELDS"`                               // fund=evergreen,region=eu-west-1
	OTELExporter   string `json:"otel_exporter" env:"OTEL_EXPORTER" envDefault:"otlp-http"` // none|otlp-http|otlp-grpc
	OTELEndpoint   string `json:"otel_endpoint" env:"OTEL_ENDPOINT"`
	Correlation    bool   `json:"correlation"   env:"CORRELATION"   envDefault:"true"` // trace_id/span_id on records

	mu    sync.Mutex
	files map[string]*os.File
}

func (lc *LoggerConfig) validate() error {
	if _, ok := logLevels[strings.ToLower(strings.TrimSpace(lc.Level))]; !ok && lc.Level != "" {
		return fmt.Errorf("unknown log level %q", lc.Level)
	}
	switch lc.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", lc.Format)
	}
	switch lc.OTELExporter {
	case "", "none", "otlp-http", "otlp-grpc":
	default:
		return fmt.Errorf("unknown log exporter %q", lc.OTELExporter)
	}
	for _, entry := range strings.Split(lc.Output, ",") {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "", entry == "stdout", entry == "stderr":
		case strings.HasPrefix(entry, "file:") && len(entry) > len("file:"):
		default:
			return fmt.Errorf("unknown log output %q", entry)
		}
	}
	return nil
}

// Writers opens every LOG_OUTPUT entry. A file that cannot be opened is
// skipped with a warning; stdout is used when nothing else is left.
func (c *Config) Writers() []io.Writer {
	var writers []io.Writer
	seen := map[string]bool{}
	for _, entry := range strings.Split(c.Logger.Output, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" || seen[entry] {
			continue
		}
		seen[entry] = true
		switch {
		case entry == "stdout":
			writers = append(writers, os.Stdout)
		case entry == "stderr":
			writers = append(writers, os.Stderr)
		case strings.HasPrefix(entry, "file:"):
			if f := c.Logger.open(strings.TrimPrefix(entry, "file:")); f != nil {
				writers = append(writers, f)
			}
		default:
			slog.Warn("unknown log output entry", "entry", entry)
		}
	}
	if len(writers) == 0 {
		return []io.Writer{os.Stdout}
	}
	return writers
}

func (lc *LoggerConfig) open(path string) *os.File {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if f, ok := lc.files[path]; ok {
		return f
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("cannot open log file", "path", path, "error", err)
		return nil
	}
	if lc.files == nil {
		lc.files = map[string]*os.File{}
	}
	lc.files[path] = f
	return f
}

// CloseLogFiles closes the files opened by Writers.
func (c *Config) CloseLogFiles() error {
	c.Logger.mu.Lock()
	defer c.Logger.mu.Unlock()
	var first error
	for path, f := range c.Logger.files {
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("close log file %s: %w", path, err)
		}
		delete(c.Logger.files, path)
	}
	return first
}

// ExtraFields parses LOG_FIELDS. Malformed pairs and empty keys are dropped.
func (c *Config) ExtraFields() map[string]string {
	res := make(map[string]string)
	for _, pair := range strings.Split(c.Logger.ExtraFieldsRaw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if k = strings.TrimSpace(k); ok && k != "" {
			res[k] = strings.TrimSpace(v)
		}
	}
	return res
}

func (c *Config) LogLevel() slog.Level {
	if lvl, ok := logLevels[strings.ToLower(strings.TrimSpace(c.Logger.Level))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

func (c *Config) LogFormat() string      { return c.Logger.Format }
func (c *Config) OTELExporter() string   { return c.Logger.OTELExporter }
func (c *Config) OTELEndpoint() string   { return c.Logger.OTELEndpoint }
func (c *Config) ModeField() types.Mode  { return c.Mode }
func (c *Config) TraceCorrelation() bool { return c.Logger.Correlation }
