package hint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/c0smic-Lab/hardware-google-pixel/internal/arbiter"
	"github.com/c0smic-Lab/hardware-google-pixel/internal/sysfs"
)

var (
	ErrDuplicateNodeName = errors.New("node names must be unique")
	ErrActionUnknownNode = errors.New("action references an unknown node")
	ErrActionBadValue    = errors.New("action value is not one of the node's values")
	ErrMissingHintName   = errors.New("action power hint name must not be empty")
	ErrNoNodes           = errors.New("config declares no nodes")
)

// NodeEntry declares one control point. Values are ordered highest priority
// first; DefaultIndex selects the value applied when no request is active.
type NodeEntry struct {
	Name         string   `json:"name"`
	Path         string   `json:"path"`
	Values       []string `json:"values"`
	DefaultIndex int      `json:"default_index"`
	ResetOnInit  bool     `json:"reset_on_init"`
}

// ActionEntry binds a named power hint to a request on one node. A zero
// DurationMs makes the request permanent until the hint is ended.
type ActionEntry struct {
	PowerHint  string `json:"power_hint"`
	Node       string `json:"node"`
	Value      string `json:"value"`
	DurationMs int64  `json:"duration_ms"`
}

// Config is the static description of all nodes and hint actions, loaded
// once at startup.
type Config struct {
	Nodes   []NodeEntry   `json:"nodes"`
	Actions []ActionEntry `json:"actions"`
}

// ParseConfig reads, decodes and validates a config file.
func ParseConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-references between nodes and actions. Node-level
// invariants (index ranges, duplicate values) are rechecked at node
// construction; this catches everything expressible at the config level so
// a bad file is rejected before any goroutine starts.
func (c *Config) Validate() error {
	var errs error

	if len(c.Nodes) == 0 {
		errs = multierr.Append(errs, ErrNoNodes)
	}

	nodeValues := map[string]map[string]struct{}{}
	for _, node := range c.Nodes {
		if _, found := nodeValues[node.Name]; found {
			errs = multierr.Append(errs, fmt.Errorf("%w: %q", ErrDuplicateNodeName, node.Name))
			continue
		}
		values := map[string]struct{}{}
		for _, value := range node.Values {
			values[value] = struct{}{}
		}
		nodeValues[node.Name] = values
	}

	for _, action := range c.Actions {
		if action.PowerHint == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: action on node %q", ErrMissingHintName, action.Node))
		}
		values, found := nodeValues[action.Node]
		if !found {
			errs = multierr.Append(errs,
				fmt.Errorf("%w: %q in hint %q", ErrActionUnknownNode, action.Node, action.PowerHint))
			continue
		}
		if _, found := values[action.Value]; !found {
			errs = multierr.Append(errs,
				fmt.Errorf("%w: %q on node %q in hint %q", ErrActionBadValue, action.Value, action.Node, action.PowerHint))
		}
	}

	return errs
}

// BuildNodes constructs a file-backed node for every config entry.
func BuildNodes(cfg *Config, writer sysfs.Writer, logger logr.Logger) ([]arbiter.Node, error) {
	nodes := make([]arbiter.Node, 0, len(cfg.Nodes))
	for _, entry := range cfg.Nodes {
		node, err := arbiter.NewFileNode(arbiter.NodeConfig{
			Name:         entry.Name,
			Path:         entry.Path,
			Values:       entry.Values,
			DefaultIndex: entry.DefaultIndex,
			ResetOnInit:  entry.ResetOnInit,
		}, writer, logger)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
