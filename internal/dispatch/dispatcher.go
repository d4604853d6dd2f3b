package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/c0smic-Lab/hardware-google-pixel/internal/arbiter"
)

// Func definitions for unit testing
var (
	newNodeWorkerFunc   = newNodeWorker
	getCurrentTimestamp = time.Now
)

var ErrUnknownNode = errors.New("no node with this name")

// Recorder receives dispatcher activity counters. Implementations must be
// safe for concurrent use.
type Recorder interface {
	RequestSubmitted(node string)
	RequestCancelled(node string)
	Evaluated(node string)
}

type noopRecorder struct{}

func (noopRecorder) RequestSubmitted(string) {}
func (noopRecorder) RequestCancelled(string) {}
func (noopRecorder) Evaluated(string)       {}

// Options tunes dispatcher behavior.
type Options struct {
	// PruneInterval enables the periodic maintenance pass removing already
	// expired requests. Zero disables it; arbitration stays correct either
	// way, expired requests just linger in memory.
	PruneInterval time.Duration
	Metrics       Recorder
}

// NodeDispatcher owns a fixed set of nodes and keeps each one evaluated:
// immediately when a request is submitted or withdrawn, and again whenever a
// node's returned deadline is reached. Each node gets its own evaluation
// goroutine, so nodes never block each other and per-node evaluation stays
// serialized.
type NodeDispatcher interface {
	// Start blocks until ctx is cancelled, then stops all node workers.
	Start(ctx context.Context) error
	// Request files a time-bounded request and triggers an immediate
	// re-evaluation of the target node. A non-positive duration makes the
	// request permanent until cancelled.
	Request(nodeName, value, owner string, duration time.Duration) error
	// Cancel withdraws all of owner's requests on the named node.
	Cancel(nodeName, owner string) error
	// Status reports the diagnostic dump of every node, sorted by name.
	Status() []arbiter.NodeStatus
}

type nodeDispatcherImpl struct {
	workers sync.Map
	metrics Recorder
	logger  logr.Logger
}

func NewNodeDispatcher(nodes []arbiter.Node, opts Options, logger logr.Logger) NodeDispatcher {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}

	d := &nodeDispatcherImpl{
		metrics: metrics,
		logger:  logger.WithName("NodeDispatcher"),
	}

	for _, node := range nodes {
		d.workers.Store(node.Name(), newNodeWorkerFunc(node, opts.PruneInterval, metrics, logger))
	}

	return d
}

func (d *nodeDispatcherImpl) Start(ctx context.Context) error {
	<-ctx.Done()
	d.stop()
	return nil
}

func (d *nodeDispatcherImpl) stop() {
	d.logger.V(5).Info("stopping all node workers")

	for _, name := range d.nodeNames() {
		worker, found := d.workers.LoadAndDelete(name)
		if found {
			worker := worker.(nodeWorker)
			worker.Stop()
			d.logger.V(5).Info("node worker stopped", "node", name)
		}
	}

	d.logger.V(5).Info("all node workers stopped")
}

func (d *nodeDispatcherImpl) Request(nodeName, value, owner string, duration time.Duration) error {
	worker, found := d.getNodeWorker(nodeName)
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownNode, nodeName)
	}

	var expireAt time.Time
	if duration > 0 {
		expireAt = getCurrentTimestamp().Add(duration)
	}

	changed, err := worker.Node().AddRequest(value, owner, expireAt)
	if err != nil {
		return err
	}
	d.metrics.RequestSubmitted(nodeName)
	if changed {
		worker.Wake()
	}
	return nil
}

func (d *nodeDispatcherImpl) Cancel(nodeName, owner string) error {
	worker, found := d.getNodeWorker(nodeName)
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownNode, nodeName)
	}

	d.metrics.RequestCancelled(nodeName)
	if worker.Node().RemoveRequest(owner) {
		worker.Wake()
	}
	return nil
}

func (d *nodeDispatcherImpl) Status() []arbiter.NodeStatus {
	statuses := make([]arbiter.NodeStatus, 0)
	d.workers.Range(func(key, value any) bool {
		statuses = append(statuses, value.(nodeWorker).Node().Status())
		return true
	})

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

func (d *nodeDispatcherImpl) nodeNames() []string {
	names := make([]string, 0)
	d.workers.Range(func(key, value any) bool {
		names = append(names, key.(string))
		return true
	})

	return names
}

func (d *nodeDispatcherImpl) getNodeWorker(nodeName string) (nodeWorker, bool) {
	if value, found := d.workers.Load(nodeName); found {
		return value.(nodeWorker), true
	}

	return nil, false
}
