/*
Copyright 2024 The Boink Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging builds the zap loggers of boink and carries them in contexts.
//
// The configuration is read from the environment:
//
//	BOINK_DEBUG=true        development config, console encoding and debug level
//	BOINK_LOG_LEVEL=warn    minimum level, one of debug|info|warn|error
//	BOINK_LOG_FORMAT=json   encoding, json or console
package logging

import (
	"context"
	"fmt"
	"os"
	"sync"

	zap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	sharedutil "github.com/bal-io/boink/pkg/shared/util"
)

const (
	EnvDebug     = "BOINK_DEBUG"
	EnvLogLevel  = "BOINK_LOG_LEVEL"
	EnvLogFormat = "BOINK_LOG_FORMAT"
)

// NewLogger returns the root logger of the process, named "boink".
// Invalid settings are reported on the returned logger and otherwise ignored.
func NewLogger() *zap.SugaredLogger {
	config, problems := loadConfig()
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	sugar := logger.Named("boink").Sugar()
	for _, p := range problems {
		sugar.Warnw("Ignoring logging setting", zap.Error(p))
	}
	return sugar
}

func loadConfig() (zap.Config, []error) {
	var problems []error
	debug, err := sharedutil.LookupEnvBool(EnvDebug, false)
	if err != nil {
		problems = append(problems, err)
	}
	config := zap.NewProductionConfig()
	if debug {
		config = zap.NewDevelopmentConfig()
	}
	config.OutputPaths = []string{"stdout"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		level, err := zapcore.ParseLevel(lvl)
		if err != nil {
			problems = append(problems, fmt.Errorf("invalid value for env variable %q, %w", EnvLogLevel, err))
		} else {
			config.Level = zap.NewAtomicLevelAt(level)
		}
	}
	switch format := os.Getenv(EnvLogFormat); format {
	case "":
	case "json", "console":
		config.Encoding = format
	default:
		problems = append(problems, fmt.Errorf("invalid value for env variable %q, value %q", EnvLogFormat, format))
	}
	return config, problems
}

type loggerKey struct{}

// fallback serves contexts without a logger, built once.
var fallback = sync.OnceValue(NewLogger)

// WithLogger returns a copy of parent context in which the
// value associated with logger key is the supplied logger.
func WithLogger(ctx context.Context, logger *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger in the context.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.SugaredLogger); ok {
		return logger
	}
	return fallback()
}

// With adds the key value pairs to the logger of the context, returning both.
func With(ctx context.Context, keysAndValues ...interface{}) (context.Context, *zap.SugaredLogger) {
	logger := FromContext(ctx).With(keysAndValues...)
	return WithLogger(ctx, logger), logger
}
