// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logger builds the report sink shared by every component.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level maps a debug verbosity onto a zap level.
func Level(verbosity int) zapcore.Level {
	switch {
	case verbosity <= 0:
		return zapcore.WarnLevel
	case verbosity < 3:
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

// New returns a console logger writing to w, teed into a rotating file when
// logFile is set.
func New(w io.Writer, verbosity int, logFile string) *zap.Logger {
	level := Level(verbosity)

	config := zap.NewDevelopmentEncoderConfig()
	config.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	config.EncodeCaller = nil
	config.CallerKey = ""

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(config), zapcore.AddSync(w), level),
	}
	if logFile != "" {
		file := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    1, // MB
			MaxBackups: 3,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(config), zapcore.AddSync(file), level))
	}

	return zap.New(zapcore.NewTee(cores...)).Named("gnssctl")
}

// Stderr is New writing to standard error.
func Stderr(verbosity int, logFile string) *zap.Logger {
	return New(os.Stderr, verbosity, logFile)
}
