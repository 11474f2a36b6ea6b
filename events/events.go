package events

import (
	"context"
	"slices"
	"sync"

	"github.com/thesimplekid/cashu-lsp/logger"
)

type Event struct {
	Event      string      `json:"event"`
	Properties interface{} `json:"properties,omitempty"`
}

type EventSubscriber interface {
	ConsumeEvent(ctx context.Context, event *Event)
}

type EventPublisher interface {
	RegisterSubscriber(subscriber EventSubscriber)
	RemoveSubscriber(subscriber EventSubscriber)
	Publish(event *Event)
	PublishSync(event *Event)
}

type eventPublisher struct {
	listeners       []EventSubscriber
	subscriberMutex sync.Mutex
}

func NewEventPublisher() *eventPublisher {
	return &eventPublisher{
		listeners: []EventSubscriber{},
	}
}

func (ep *eventPublisher) RegisterSubscriber(listener EventSubscriber) {
	ep.subscriberMutex.Lock()
	defer ep.subscriberMutex.Unlock()
	ep.listeners = append(ep.listeners, listener)
}

func (ep *eventPublisher) RemoveSubscriber(listenerToRemove EventSubscriber) {
	ep.subscriberMutex.Lock()
	defer ep.subscriberMutex.Unlock()

	for i, listener := range ep.listeners {
		if listener == listenerToRemove {
			ep.listeners = slices.Delete(ep.listeners, i, i+1)
			break
		}
	}
}

// Publish fans the event out to all subscribers, each on its own goroutine
func (ep *eventPublisher) Publish(event *Event) {
	ep.subscriberMutex.Lock()
	defer ep.subscriberMutex.Unlock()
	logger.Logger.Debug().Interface("event", event).Msg("Publishing event")
	for _, listener := range ep.listeners {
		go listener.ConsumeEvent(context.Background(), event)
	}
}

// PublishSync waits for all subscribers to consume the event before returning
func (ep *eventPublisher) PublishSync(event *Event) {
	ep.subscriberMutex.Lock()
	defer ep.subscriberMutex.Unlock()
	logger.Logger.Debug().Interface("event", event).Msg("Publishing event synchronously")
	wg := sync.WaitGroup{}
	for _, listener := range ep.listeners {
		wg.Add(1)
		go func(listener EventSubscriber) {
			defer wg.Done()
			listener.ConsumeEvent(context.Background(), event)
		}(listener)
	}
	wg.Wait()
}
