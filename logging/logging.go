package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the service logger: nested formatter on stderr plus a rotating
// file in logDir. An empty logDir disables the file writer (used by tests).
func New(logDir string, debug bool) *logrus.Logger {
	logger := logrus.New()

	level := logrus.InfoLevel
	if debug {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&formatter.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
	})

	writers := []io.Writer{os.Stderr}
	if logDir != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(logDir, fmt.Sprintf("segmentation-%s.log", time.Now().Format("2006-01-02"))),
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}
	logger.SetOutput(io.MultiWriter(writers...))
	logger.SetReportCaller(true)

	return logger
}
