package arbiter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
)

var (
	ErrNoValues            = errors.New("node needs at least one value")
	ErrDefaultOutOfRange   = errors.New("default index out of range")
	ErrDuplicateValue      = errors.New("node values must be unique")
	ErrMissingName         = errors.New("node name must not be empty")
	ErrMissingControlPath  = errors.New("node control path must not be empty")
	ErrUnknownRequestValue = errors.New("no request group with this value")
	ErrNilApplyFunc        = errors.New("apply callback must not be nil")
	ErrNilWriter           = errors.New("control surface writer must not be nil")
)

// ApplyFunc writes an arbitrated value to a control surface. It is invoked
// only when the selected value changes (or a reapply is forced) and with the
// node lock released, so it may block. Failures are the implementation's to
// log and handle; the node never retries on its own.
type ApplyFunc func(name, path, value string)

// Node arbitrates competing, time-bounded requests for one control point.
// Evaluate must not be called concurrently for the same node; request
// submission and withdrawal may happen from arbitrary goroutines.
type Node interface {
	Name() string
	Path() string
	// AddRequest files a request from owner for the group labelled value,
	// expiring at expireAt (zero time for a permanent request). Returns true
	// when the request set changed in a way that can affect arbitration.
	AddRequest(value, owner string, expireAt time.Time) (bool, error)
	// RemoveRequest withdraws owner's requests from every group.
	RemoveRequest(owner string) bool
	// Evaluate selects the highest-priority active group (or the default when
	// none is active), applies its value if the selection changed, and returns
	// the absolute time at which the node must be re-evaluated. A zero return
	// means no re-evaluation is mandated by expiry alone.
	Evaluate(now time.Time) time.Time
	// Prune removes requests already expired at now. Purely a maintenance
	// pass; arbitration is correct without it.
	Prune(now time.Time) int
	Status() NodeStatus
}

// NodeConfig is the static construction-time description of a node.
// Values are ordered highest priority first.
type NodeConfig struct {
	Name         string
	Path         string
	Values       []string
	DefaultIndex int
	// ResetOnInit forces an apply on the first evaluation even when the
	// selected index matches the initial one, guaranteeing the control
	// surface reflects the default on startup.
	ResetOnInit bool
}

func validateNodeConfig(cfg NodeConfig) error {
	var errs error
	if cfg.Name == "" {
		errs = multierr.Append(errs, ErrMissingName)
	}
	if cfg.Path == "" {
		errs = multierr.Append(errs, ErrMissingControlPath)
	}
	if len(cfg.Values) == 0 {
		errs = multierr.Append(errs, ErrNoValues)
	} else if cfg.DefaultIndex < 0 || cfg.DefaultIndex >= len(cfg.Values) {
		errs = multierr.Append(errs,
			fmt.Errorf("%w: %d with %d values", ErrDefaultOutOfRange, cfg.DefaultIndex, len(cfg.Values)))
	}
	seen := map[string]struct{}{}
	for _, value := range cfg.Values {
		if _, found := seen[value]; found {
			errs = multierr.Append(errs, fmt.Errorf("%w: %q", ErrDuplicateValue, value))
		}
		seen[value] = struct{}{}
	}
	return errs
}

// nodeBase carries the arbitration state and algorithm shared by all node
// variants. Variants supply the apply mechanism.
type nodeBase struct {
	name         string
	path         string
	groups       []*RequestGroup
	defaultIndex int
	currentIndex int
	forceReapply bool
	apply        ApplyFunc
	logger       logr.Logger
	mutex        sync.Mutex
}

func (n *nodeBase) init(cfg NodeConfig, logger logr.Logger) error {
	if err := validateNodeConfig(cfg); err != nil {
		return fmt.Errorf("invalid config for node %q: %w", cfg.Name, err)
	}

	groups := make([]*RequestGroup, 0, len(cfg.Values))
	for _, value := range cfg.Values {
		groups = append(groups, NewRequestGroup(value))
	}

	n.name = cfg.Name
	n.path = cfg.Path
	n.groups = groups
	n.defaultIndex = cfg.DefaultIndex
	n.currentIndex = cfg.DefaultIndex
	n.forceReapply = cfg.ResetOnInit
	n.logger = logger.WithValues("node", cfg.Name)
	return nil
}

func (n *nodeBase) Name() string {
	return n.name
}

func (n *nodeBase) Path() string {
	return n.path
}

func (n *nodeBase) AddRequest(value, owner string, expireAt time.Time) (bool, error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	for _, group := range n.groups {
		if group.Value() == value {
			return group.Add(owner, expireAt), nil
		}
	}
	return false, fmt.Errorf("%w: %q on node %q", ErrUnknownRequestValue, value, n.name)
}

func (n *nodeBase) RemoveRequest(owner string) bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	removed := false
	for _, group := range n.groups {
		if group.Remove(owner) {
			removed = true
		}
	}
	return removed
}

// Evaluate scans groups in priority order and applies the winning value when
// the selection changed since the last evaluation. The apply callback runs
// with the lock released so concurrent submissions are never stalled by a
// slow control surface write.
func (n *nodeBase) Evaluate(now time.Time) time.Time {
	n.mutex.Lock()

	selected := n.defaultIndex
	var deadline time.Time
	for i, group := range n.groups {
		if group.IsActive(now) {
			selected = i
			if expiry, ok := group.NextExpiry(now); ok {
				deadline = expiry
			}
			break
		}
	}

	shouldApply := selected != n.currentIndex || n.forceReapply
	value := n.groups[selected].Value()
	n.currentIndex = selected
	n.forceReapply = false

	n.mutex.Unlock()

	if shouldApply {
		n.logger.V(5).Info("applying arbitrated value", "value", value, "index", selected)
		n.apply(n.name, n.path, value)
	}

	return deadline
}

func (n *nodeBase) Prune(now time.Time) int {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	removed := 0
	for _, group := range n.groups {
		removed += group.Prune(now)
	}
	return removed
}

func (n *nodeBase) Status() NodeStatus {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	groups := make([]GroupStatus, 0, len(n.groups))
	for rank, group := range n.groups {
		requests := group.Requests()
		requestStatuses := make([]RequestStatus, 0, len(requests))
		for _, request := range requests {
			requestStatuses = append(requestStatuses, RequestStatus{
				Owner:     request.Owner,
				Value:     request.Value,
				ExpiresAt: formatExpiry(request.ExpireAt),
			})
		}
		groups = append(groups, GroupStatus{
			Rank:     rank,
			Value:    group.Value(),
			Requests: requestStatuses,
		})
	}

	return NodeStatus{
		Name:         n.name,
		Path:         n.path,
		CurrentIndex: n.currentIndex,
		CurrentValue: n.groups[n.currentIndex].Value(),
		Groups:       groups,
	}
}
