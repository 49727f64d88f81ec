// Package telemetry emits product analytics events about integration lifecycle changes.
package telemetry

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"go.uber.org/zap"
)

// Event names.
const (
	EventIntegrationConnected    = "integration_connected"
	EventIntegrationDisconnected = "integration_disconnected"
	EventTokenRefreshFailed      = "integration_refresh_failed"
	EventSetupCompleted          = "setup_completed"
)

// Event is one analytics event. Organizations are the distinct id so events from
// different users of the same org roll up together.
type Event struct {
	OrgID      uuid.UUID
	Name       string
	Properties map[string]any
}

// NewEvent creates an event for orgID.
func NewEvent(orgID uuid.UUID, name string, props map[string]any) Event {
	ev := Event{OrgID: orgID, Name: name, Properties: map[string]any{}}
	for k, v := range props {
		ev.Properties[k] = v
	}
	return ev
}

// Telemetry sends events. Send never blocks on the network.
type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

type posthogTelemetry struct {
	client posthog.Client
	logger *zap.Logger
}

// NewPostHog creates a PostHog-backed Telemetry.
func NewPostHog(apiKey, endpoint string, logger *zap.Logger) (Telemetry, error) {
	if apiKey == "" {
		return nil, errors.New("posthog api key is required")
	}
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	return &posthogTelemetry{client: client, logger: logger.Named("telemetry")}, nil
}

func (t *posthogTelemetry) Send(_ context.Context, event Event) error {
	capture := posthog.Capture{
		DistinctId: event.OrgID.String(),
		Event:      event.Name,
		Properties: posthog.Properties(event.Properties),
	}

	if err := capture.Validate(); err != nil {
		return err
	}

	return t.client.Enqueue(capture)
}

func (t *posthogTelemetry) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}

type noop struct{}

// NewNoop returns a Telemetry that drops every event.
func NewNoop() Telemetry {
	return noop{}
}

func (noop) Send(context.Context, Event) error { return nil }
func (noop) Close() error                      { return nil }

// SendBestEffort sends event and logs failures instead of returning them.
func SendBestEffort(ctx context.Context, t Telemetry, logger *zap.Logger, event Event) {
	if t == nil {
		return
	}
	if err := t.Send(ctx, event); err != nil {
		logger.Debug("Failed to send telemetry event",
			zap.String("event", event.Name),
			zap.Error(err))
	}
}

var (
	_ Telemetry = (*posthogTelemetry)(nil)
	_ Telemetry = noop{}
)
