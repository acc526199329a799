package experiment

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// RandFunc draws a value uniform in [0, 100).
type RandFunc func() float64

// Selector assigns conversations to experiment arms. Assignment is sticky:
// the first call for a conversation draws and records, all later calls return
// the recorded arm.
type Selector struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment
	store       AssignmentStore
	randFn      RandFunc
	logger      *zap.Logger
}

// NewSelector creates a selector over the given experiments. randFn may be
// nil, in which case a seeded math/rand source is used.
func NewSelector(experiments []*Experiment, store AssignmentStore, randFn RandFunc, logger *zap.Logger) (*Selector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if randFn == nil {
		randFn = func() float64 { return rand.Float64() * 100 }
	}
	byName := make(map[string]*Experiment, len(experiments))
	for _, exp := range experiments {
		if err := exp.Validate(); err != nil {
			return nil, err
		}
		byName[exp.Name] = exp
	}
	return &Selector{
		experiments: byName,
		store:       store,
		randFn:      randFn,
		logger:      logger.With(zap.String("component", "variation_selector")),
	}, nil
}

// Names returns the configured experiment names, sorted.
func (s *Selector) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.experiments))
	for name := range s.experiments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Experiment returns a configured experiment by name.
func (s *Selector) Experiment(name string) (*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.experiments[name]
	if !ok {
		return nil, ErrExperimentNotFound
	}
	return exp, nil
}

// Assign returns the arm for a conversation, drawing and recording on first
// use. A recorded arm that no longer exists in configuration degrades to
// control rather than re-rolling, so restarts cannot flip live conversations
// onto a different prompt.
func (s *Selector) Assign(ctx context.Context, experimentName, conversationID string) (Variant, error) {
	exp, err := s.Experiment(experimentName)
	if err != nil {
		return Variant{}, err
	}

	if s.store != nil {
		name, err := s.store.Get(ctx, experimentName, conversationID)
		if err == nil && name != "" {
			if v, ok := exp.VariantByName(name); ok {
				return v, nil
			}
			s.logger.Warn("recorded variant missing from configuration, using control",
				zap.String("experiment", experimentName),
				zap.String("variant", name))
			return Control(), nil
		}
	}

	variant := s.draw(exp)

	if s.store != nil {
		recorded, err := s.store.Record(ctx, experimentName, conversationID, variant.Name)
		if err != nil {
			s.logger.Warn("failed to record assignment", zap.Error(err))
		} else if recorded != variant.Name {
			// A concurrent first turn won the record; honor its draw.
			if v, ok := exp.VariantByName(recorded); ok {
				return v, nil
			}
		}
	}

	s.logger.Debug("variant assigned",
		zap.String("experiment", experimentName),
		zap.String("conversation_id", conversationID),
		zap.String("variant", variant.Name))
	return variant, nil
}

// draw walks the cumulative weights with one uniform value in [0, 100).
// Values past the configured total land on control.
func (s *Selector) draw(exp *Experiment) Variant {
	r := s.randFn()
	var cumulative float64
	for _, v := range exp.Variants {
		cumulative += v.Weight
		if r < cumulative {
			return v
		}
	}
	return Control()
}
