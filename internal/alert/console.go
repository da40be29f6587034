package alert

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// ConsoleSink writes alerts to the terminal with color.
type ConsoleSink struct {
	out io.Writer
}

// NewConsoleSink creates a new console alert sink writing to stdout.
func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{out: os.Stdout}
}

// Name returns the sink identifier.
func (s *ConsoleSink) Name() string { return "console" }

// Send writes an alert to the terminal with color-coded severity.
func (s *ConsoleSink) Send(_ context.Context, alert types.Alert) error {
	var prefix string
	switch alert.Level {
	case types.AlertLevelError:
		prefix = color.RedString("[ERROR]")
	case types.AlertLevelWarning:
		prefix = color.YellowString("[WARN]")
	default:
		prefix = color.CyanString("[INFO]")
	}

	var err error
	switch {
	case alert.RunID != "" && alert.Workflow != "":
		_, err = fmt.Fprintf(s.out, "%s [%s #%s] %s\n", prefix, alert.Workflow, alert.RunID, alert.Message)
	case alert.RunID != "":
		_, err = fmt.Fprintf(s.out, "%s [#%s] %s\n", prefix, alert.RunID, alert.Message)
	default:
		_, err = fmt.Fprintf(s.out, "%s %s\n", prefix, alert.Message)
	}
	return err
}
