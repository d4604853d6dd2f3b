package arbiter

import (
	"github.com/go-logr/logr"
)

// eventNodeImpl delegates the apply side effect to an injected callback,
// for control surfaces the caller drives itself (driver calls, channels).
type eventNodeImpl struct {
	nodeBase
}

// NewEventNode creates a node that invokes apply whenever the arbitrated
// value changes. The callback must not be nil and must handle its own
// failures.
func NewEventNode(cfg NodeConfig, apply ApplyFunc, logger logr.Logger) (Node, error) {
	if apply == nil {
		return nil, ErrNilApplyFunc
	}

	node := &eventNodeImpl{}
	if err := node.init(cfg, logger.WithName("EventNode")); err != nil {
		return nil, err
	}
	node.apply = apply
	return node, nil
}
