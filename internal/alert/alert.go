// Package alert implements escalation dispatching to multiple sinks.
package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dwsmith1983/pipemedic/pkg/types"
)

// Sink is an alert destination.
type Sink interface {
	Send(ctx context.Context, alert types.Alert) error
	Name() string
}

// Dispatcher routes alerts to configured sinks.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher from alert configs.
func NewDispatcher(ctx context.Context, configs []types.AlertConfig, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger}
	for _, cfg := range configs {
		sink, err := newSink(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("creating %s sink: %w", cfg.Type, err)
		}
		d.sinks = append(d.sinks, sink)
	}
	return d, nil
}

// NewDispatcherWithSinks creates a dispatcher over pre-built sinks.
func NewDispatcherWithSinks(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Len reports how many sinks are configured.
func (d *Dispatcher) Len() int { return len(d.sinks) }

// Dispatch sends an alert to all configured sinks. A failing sink is logged
// and does not stop delivery to the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, alert types.Alert) {
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, alert); err != nil {
			d.logger.Error("alert delivery failed", "sink", sink.Name(), "runID", alert.RunID, "error", err)
		}
	}
}

// AlertFunc returns a function suitable for use as the engine's alert callback.
func (d *Dispatcher) AlertFunc() func(context.Context, types.Alert) {
	return d.Dispatch
}

func newSink(ctx context.Context, cfg types.AlertConfig) (Sink, error) {
	switch cfg.Type {
	case types.AlertConsole:
		return NewConsoleSink(), nil
	case types.AlertWebhook:
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook URL required")
		}
		return NewWebhookSink(cfg.URL), nil
	case types.AlertFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file path required")
		}
		return NewFileSink(cfg.Path)
	case types.AlertEventBridge:
		return NewEventBridgeSink(ctx, cfg.EventBus, cfg.Source, cfg.Region)
	case types.AlertSQS:
		if cfg.QueueURL == "" {
			return nil, fmt.Errorf("sqs queue URL required")
		}
		return NewSQSSink(ctx, cfg.QueueURL, cfg.Region)
	default:
		return nil, fmt.Errorf("unknown alert type %q", cfg.Type)
	}
}
