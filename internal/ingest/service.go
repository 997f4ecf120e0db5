package ingest

import (
	"context"
	"sync"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"
)

// Store is the durable ingestion surface. Satisfied by *Repository.
type Store interface {
	RecordProcessed(ctx context.Context, key string, result ProcessingResult) error
	GetProcessed(ctx context.Context, key string) (ProcessingResult, error)
	DeleteProcessed(ctx context.Context, key string) error
	DeadLetter(ctx context.Context, ev SourceEvent, reason string) error
}

// Claimer claims idempotency keys. Satisfied by *Deduper.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// MessageSink receives inbound conversation messages before rule
// evaluation. Satisfied by the leads service.
type MessageSink interface {
	HandleInbound(ctx context.Context, ev SourceEvent) error
}

// Action executes one rule action against an event.
type Action func(ctx context.Context, ev SourceEvent, params map[string]any) error

// Service is the event orchestrator. One Ingest call is one bounded,
// synchronous processing chain: dedup, built-in message handling, rule
// evaluation, actions, cascades.
type Service struct {
	store    Store
	dedup    Claimer
	messages MessageSink
	eventBus events.Bus
	log      *logger.Logger
	maxDepth int

	mu      sync.RWMutex
	rules   *RuleSet
	actions map[string]Action
}

func NewService(store Store, dedup Claimer, rules *RuleSet, eventBus events.Bus, log *logger.Logger, maxDepth int) *Service {
	return &Service{
		store:    store,
		dedup:    dedup,
		rules:    rules,
		eventBus: eventBus,
		log:      log,
		maxDepth: maxDepth,
		actions:  make(map[string]Action),
	}
}

// SetMessageSink wires the built-in inbound message path. Separate from
// the constructor because the leads service is built after ingest.
func (s *Service) SetMessageSink(sink MessageSink) {
	s.messages = sink
}

// RegisterAction binds a rule action name to its implementation.
func (s *Service) RegisterAction(name string, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[name] = action
}

// ReplaceRules swaps the active rule set; used by the admin surface and
// at startup after loading the rule file and store.
func (s *Service) ReplaceRules(rules *RuleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}

// ActiveRules returns the rules currently in force.
func (s *Service) ActiveRules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules.Rules()
}

// EventTypeInboundMessage is handled by the conversation path before
// rules run.
const EventTypeInboundMessage = "message.inbound"

// Ingest processes one event exactly once per idempotency key. A
// duplicate key short-circuits to the recorded outcome without
// re-running any action.
func (s *Service) Ingest(ctx context.Context, ev SourceEvent) (ProcessingResult, error) {
	key := ev.Key()
	result := ProcessingResult{Key: key}

	if ev.Source == "" || ev.Type == "" {
		return s.deadLetter(ctx, ev, "missing source or type")
	}

	if ev.Depth > s.maxDepth {
		s.log.CascadeExceeded(key, ev.Depth)
		s.eventBus.Publish(ctx, events.CascadeExceeded{
			BaseEvent:      events.NewBaseEvent(),
			IdempotencyKey: key,
			Depth:          ev.Depth,
		})
		result.Status = StatusCascadeExceeded
		result.Reason = "cascade depth exceeded"
		return result, nil
	}

	claimed, err := s.dedup.Claim(ctx, key)
	if err != nil {
		return result, err
	}
	if !claimed {
		return s.priorOutcome(ctx, key)
	}

	// Redis restarts lose claims; the durable mirror still blocks
	// replays.
	if prior, err := s.store.GetProcessed(ctx, key); err == nil {
		return prior, nil
	}

	result.Status = StatusProcessed
	result.Actions = s.execute(ctx, ev)

	if err := s.store.RecordProcessed(ctx, key, result); err != nil {
		// Without the durable record the event must be retryable
		// wholesale, so the claim is handed back.
		if relErr := s.dedup.Release(ctx, key); relErr != nil {
			s.log.Error("ingest: failed to release claim", "key", key, "error", relErr)
		}
		return result, err
	}

	return result, nil
}

func (s *Service) priorOutcome(ctx context.Context, key string) (ProcessingResult, error) {
	// Both deliveries of a key report the same outcome.
	if prior, err := s.store.GetProcessed(ctx, key); err == nil {
		return prior, nil
	}
	// First ingest still in flight; report the duplicate as such.
	return ProcessingResult{Key: key, Status: StatusDuplicate}, nil
}

func (s *Service) deadLetter(ctx context.Context, ev SourceEvent, reason string) (ProcessingResult, error) {
	s.log.DeadLetter(ev.Key(), ev.Source, ev.Type, reason)
	if err := s.store.DeadLetter(ctx, ev, reason); err != nil {
		return ProcessingResult{}, err
	}
	s.eventBus.Publish(ctx, events.EventDeadLettered{
		BaseEvent:      events.NewBaseEvent(),
		IdempotencyKey: ev.Key(),
		Source:         ev.Source,
		Type:           ev.Type,
		Reason:         reason,
	})
	return ProcessingResult{Key: ev.Key(), Status: StatusDeadLettered, Reason: reason}, nil
}

// execute runs the built-in message path and every matched rule's
// actions. A failing action is recorded and never stops its siblings.
func (s *Service) execute(ctx context.Context, ev SourceEvent) []ActionOutcome {
	outcomes := make([]ActionOutcome, 0)

	if ev.Type == EventTypeInboundMessage && s.messages != nil {
		outcome := ActionOutcome{Rule: "built-in", Action: "conversation-advance"}
		if err := s.messages.HandleInbound(ctx, ev); err != nil {
			s.log.Error("ingest: inbound message handling failed", "key", ev.Key(), "error", err)
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}

	s.mu.RLock()
	matched := s.rules.Match(ev)
	s.mu.RUnlock()

	for _, rule := range matched {
		for _, spec := range rule.Actions {
			outcome := ActionOutcome{Rule: rule.Name, Action: spec.Name}

			s.mu.RLock()
			action, ok := s.actions[spec.Name]
			s.mu.RUnlock()
			if !ok {
				outcome.Error = "unknown action"
				s.log.Error("ingest: rule references unknown action", "rule", rule.Name, "action", spec.Name)
				outcomes = append(outcomes, outcome)
				continue
			}

			if err := action(ctx, ev, spec.Params); err != nil {
				outcome.Error = err.Error()
				s.log.Error("ingest: action failed",
					"rule", rule.Name,
					"action", spec.Name,
					"key", ev.Key(),
					"error", err)
			}
			outcomes = append(outcomes, outcome)
		}
	}

	return outcomes
}

// Replay clears a key's claim and durable mirror so a parked or
// repaired event can run again, then re-ingests it.
func (s *Service) Replay(ctx context.Context, ev SourceEvent) (ProcessingResult, error) {
	key := ev.Key()
	if err := s.store.DeleteProcessed(ctx, key); err != nil {
		return ProcessingResult{}, err
	}
	if err := s.dedup.Release(ctx, key); err != nil {
		return ProcessingResult{}, err
	}
	return s.Ingest(ctx, ev)
}

// Cascade re-enters ingestion with an internal event one level deeper.
// Used by the emit-event action; the depth bound in Ingest stops loops.
func (s *Service) Cascade(ctx context.Context, parent SourceEvent, eventType string, payload map[string]any) (ProcessingResult, error) {
	return s.Ingest(ctx, SourceEvent{
		Source:     "internal",
		Type:       eventType,
		ExternalID: parent.ExternalID,
		Payload:    payload,
		Timestamp:  parent.Timestamp,
		Depth:      parent.Depth + 1,
	})
}
