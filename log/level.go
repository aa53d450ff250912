package log

import (
	"fmt"
	"strings"

	"github.com/logrusorgru/aurora/v4"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// ParseLevel accepts the names used in the config file. An empty string
// means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "Debug"
	case LevelInfo:
		return "Info"
	case LevelWarn:
		return "Warn"
	case LevelError:
		return "Error"
	case LevelFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

func (l Level) ColorString() string {
	switch l {
	case LevelDebug:
		return aurora.Blue("Debug").String()
	case LevelInfo:
		return aurora.Green("Info").String()
	case LevelWarn:
		return aurora.Yellow("Warn").String()
	case LevelError:
		return aurora.Red("Error").String()
	case LevelFatal:
		return aurora.Magenta("Fatal").String()
	default:
		return "Unknown"
	}
}
