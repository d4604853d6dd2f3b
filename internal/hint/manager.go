package hint

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/c0smic-Lab/hardware-google-pixel/internal/dispatch"
)

var ErrUnsupportedHint = errors.New("hint is not declared in the config")

// hintAction is one node request taken when a hint fires. The hint name
// doubles as the request owner, so re-issuing a hint replaces its own
// requests and ending it withdraws them.
type hintAction struct {
	node     string
	value    string
	duration time.Duration
}

// HintManager translates named power hints into node requests through the
// dispatcher. Hints and their actions are fixed at construction from config.
type HintManager interface {
	// DoHint fires every action of the hint with its configured duration.
	DoHint(hintName string) error
	// DoHintFor fires the hint but overrides the configured durations,
	// used when the caller supplies its own timeout.
	DoHintFor(hintName string, duration time.Duration) error
	// EndHint withdraws all requests previously filed by the hint.
	EndHint(hintName string) error
	IsHintSupported(hintName string) bool
	// Hints lists the supported hint names, sorted.
	Hints() []string
}

type hintManagerImpl struct {
	dispatcher dispatch.NodeDispatcher
	hints      map[string][]hintAction
	logger     logr.Logger
}

func NewHintManager(cfg *Config, dispatcher dispatch.NodeDispatcher, logger logr.Logger) (HintManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hints := map[string][]hintAction{}
	for _, action := range cfg.Actions {
		hints[action.PowerHint] = append(hints[action.PowerHint], hintAction{
			node:     action.Node,
			value:    action.Value,
			duration: time.Duration(action.DurationMs) * time.Millisecond,
		})
	}

	return &hintManagerImpl{
		dispatcher: dispatcher,
		hints:      hints,
		logger:     logger.WithName("HintManager"),
	}, nil
}

func (m *hintManagerImpl) DoHint(hintName string) error {
	return m.doHint(hintName, nil)
}

func (m *hintManagerImpl) DoHintFor(hintName string, duration time.Duration) error {
	return m.doHint(hintName, &duration)
}

func (m *hintManagerImpl) doHint(hintName string, override *time.Duration) error {
	actions, found := m.hints[hintName]
	if !found {
		return fmt.Errorf("%w: %q", ErrUnsupportedHint, hintName)
	}

	m.logger.V(5).Info("firing hint", "hint", hintName, "actions", len(actions))

	var errs error
	for _, action := range actions {
		duration := action.duration
		if override != nil {
			duration = *override
		}
		if err := m.dispatcher.Request(action.node, action.value, hintName, duration); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (m *hintManagerImpl) EndHint(hintName string) error {
	actions, found := m.hints[hintName]
	if !found {
		return fmt.Errorf("%w: %q", ErrUnsupportedHint, hintName)
	}

	m.logger.V(5).Info("ending hint", "hint", hintName)

	var errs error
	for _, action := range actions {
		if err := m.dispatcher.Cancel(action.node, hintName); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (m *hintManagerImpl) IsHintSupported(hintName string) bool {
	_, found := m.hints[hintName]
	return found
}

func (m *hintManagerImpl) Hints() []string {
	names := make([]string, 0, len(m.hints))
	for name := range m.hints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
