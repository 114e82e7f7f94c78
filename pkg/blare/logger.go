package blare

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blarehq/blare/pkg/blare/util"
)

// Build types, stamped into the binary at link time.
const (
	BuildTypeNone    = ""
	BuildTypeDev     = "dev"
	BuildTypeRelease = "release"
)

// Release builds have no console, so they log here, relative to the working
// directory.
const (
	LogDirectory = "logs"
	LogFilename  = "blare-latest-run.log"
)

const (
	logTimeLayout = "2006-01-02 15:04:05.000"

	// wide enough for "blare.fanout.device.NN.session"
	logNameWidth = 30
)

// NewLogger builds the process logger for buildType.
//
// Release builds write info and above to LogFilename under LogDirectory.
// Every other build writes debug and above to stderr with colored levels.
// Both drop the caller and share the timestamp and name layout, so a release
// log reads the same as a dev console.
func NewLogger(buildType string) (*zap.SugaredLogger, error) {
	if buildType == BuildTypeRelease {
		if err := util.EnsureDirExists(LogDirectory); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	logger, err := loggerConfig(buildType, LogDirectory).Build()
	if err != nil {
		return nil, fmt.Errorf("create zap logger: %w", err)
	}

	return logger.Sugar(), nil
}

func loggerConfig(buildType, logDir string) zap.Config {
	var config zap.Config

	if buildType == BuildTypeRelease {
		config = zap.NewProductionConfig()
		config.Encoding = "console"
		config.OutputPaths = []string{filepath.Join(logDir, LogFilename)}
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.EncoderConfig.EncodeCaller = nil
	config.EncoderConfig.EncodeTime = encodeLogTime
	config.EncoderConfig.EncodeName = encodeLoggerName
	return config
}

func encodeLogTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format(logTimeLayout))
}

// encodeLoggerName pads names so messages from different devices line up.
func encodeLoggerName(name string, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(fmt.Sprintf("%-*s", logNameWidth, name))
}
