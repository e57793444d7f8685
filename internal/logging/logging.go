// Package logging provides a category-based wrapper around the LiveKit protocol logger.
// All logging must go through this package so SDK and worker output share one sink.
package logging

import (
	"fmt"
	"strings"

	"github.com/livekit/protocol/logger"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// Category constants for consistent logging categories.
const (
	CategoryApp      = "App"
	CategoryWorker   = "Worker"
	CategoryJob      = "Job"
	CategoryRoom     = "Room"
	CategoryPipeline = "Pipeline"
	CategoryMedia    = "Media"
	CategorySTT      = "STT"
	CategorySummary  = "Summary"
	CategoryControl  = "Control"
)

// Init initializes logging. level is one of debug, info, warn, error.
func Init(level string, json bool) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	logger.InitFromConfig(&logger.Config{
		JSON:  json,
		Level: level,
	}, "saubol")
	lksdk.SetLogger(logger.GetLogger().WithName("lksdk"))
}

func named(category string) logger.Logger {
	return logger.GetLogger().WithName(category).WithCallDepth(1)
}

// Debug logs a debug message.
func Debug(category, msg string, params ...interface{}) {
	named(category).Debugw(format(msg, params))
}

// Info logs an info message.
func Info(category, msg string, params ...interface{}) {
	named(category).Infow(format(msg, params))
}

// Success logs a success message.
func Success(category, msg string, params ...interface{}) {
	named(category).Infow(format(msg, params), "result", "success")
}

// Warning logs a warning message.
func Warning(category, msg string, params ...interface{}) {
	named(category).Warnw(format(msg, params), nil)
}

// Fail logs a failure message.
func Fail(category, msg string, params ...interface{}) {
	named(category).Errorw(format(msg, params), nil, "result", "fail")
}

// Error logs an error message.
func Error(category, msg string, params ...interface{}) {
	named(category).Errorw(format(msg, params), nil)
}

// Catastrophe logs a catastrophe message.
func Catastrophe(category, msg string, params ...interface{}) {
	named(category).Errorw(format(msg, params), nil, "severity", "catastrophe")
}

func format(msg string, params []interface{}) string {
	if len(params) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, params...)
}
