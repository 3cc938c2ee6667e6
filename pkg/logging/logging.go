// Package logging 初始化全局 zerolog 日志
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup 设置全局日志级别和输出格式，返回配置好的 logger
// format 为 "json" 时输出 JSON，否则输出人类可读的控制台格式
// 无法解析的级别退回 info
func Setup(level, format string) zerolog.Logger {
	return SetupWriter(os.Stderr, level, format)
}

func SetupWriter(w io.Writer, level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := w
	if !strings.EqualFold(format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}
