package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/recoeval/reco-eval/internal/bus"
)

// EventSubscriber subscribes to evaluation events and updates metrics.
type EventSubscriber struct {
	metrics *Metrics
	bus     bus.Bus
}

// NewEventSubscriber creates a new event subscriber.
func NewEventSubscriber(metrics *Metrics, eventBus bus.Bus) *EventSubscriber {
	return &EventSubscriber{
		metrics: metrics,
		bus:     eventBus,
	}
}

// SubscribeToEvents subscribes to fold and split events.
func (es *EventSubscriber) SubscribeToEvents(ctx context.Context) error {
	handlers := map[string]bus.Handler{
		bus.TopicFoldCompleted:   es.handleFoldCompleted,
		bus.TopicFoldFailed:      es.handleFoldFailed,
		bus.TopicSplitDegenerate: es.handleSplitDegenerate,
	}
	for topic, h := range handlers {
		if err := es.bus.Subscribe(ctx, topic, h); err != nil {
			return err
		}
	}
	return nil
}

func (es *EventSubscriber) handleFoldCompleted(ctx context.Context, event bus.Event) error {
	var p bus.FoldPayload
	if err := bus.DecodePayload(event, &p); err != nil {
		return err
	}

	es.metrics.recordFold(time.Duration(p.DurationMs)*time.Millisecond, "")
	for key, acc := range p.TopK {
		k, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		es.metrics.RecordAccuracy(k, acc)
	}
	return nil
}

func (es *EventSubscriber) handleFoldFailed(ctx context.Context, event bus.Event) error {
	var p bus.FoldPayload
	if err := bus.DecodePayload(event, &p); err != nil {
		return err
	}

	code := p.Code
	if code == "" {
		code = "generic"
	}
	es.metrics.recordFold(time.Duration(p.DurationMs)*time.Millisecond, code)
	return nil
}

func (es *EventSubscriber) handleSplitDegenerate(ctx context.Context, event bus.Event) error {
	var p bus.DegeneratePayload
	if err := bus.DecodePayload(event, &p); err != nil {
		return err
	}
	es.metrics.RecordDegenerate(len(p.Labels))
	return nil
}
