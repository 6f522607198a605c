package logging

import (
	"io"
	"os"

	"github.com/shotasten/union-board/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup adds a rotating log file next to stderr when cfg.File is set. The
// returned closer flushes and closes the file.
func Setup(cfg config.Log) io.Closer {
	if cfg.File == "" {
		return io.NopCloser(nil)
	}
	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotating))
	log.Infof("Logging to %s", cfg.File)
	return rotating
}
