// Package event provides a synchronous pub-sub bus for engine progress.
//
// The engine publishes one event per state change of a run. Metrics, the run
// history and the CLI progress output subscribe to the bus instead of being
// called by the engine directly.
//
// # Event Types
//
//   - [RunStartedEvent], [RunFinishedEvent]: run boundaries
//   - [TurnStartedEvent], [TurnCompletedEvent]: one Player/Coach turn
//   - [CheckpointCreatedEvent], [RolledBackEvent]: workspace snapshots
//   - [StallDetectedEvent]: early termination of an unproductive loop
//
// # Thread Safety
//
// [Bus] is safe for concurrent use, so engines run by the wave runner can
// share one bus. Handlers run synchronously on the publishing goroutine and
// a panicking handler does not prevent delivery to the others.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//
//	bus.Subscribe(event.TypeTurnCompleted, func(e event.Event) {
//	    done := e.(event.TurnCompletedEvent)
//	    fmt.Printf("turn %d: %s\n", done.Turn, done.Decision)
//	})
//
//	bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("event %s at %v", e.EventType(), e.Timestamp())
//	})
package event
