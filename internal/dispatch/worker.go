package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/c0smic-Lab/hardware-google-pixel/internal/arbiter"
)

var (
	testHookStopLoop func() bool
)

type nodeWorker interface {
	Node() arbiter.Node
	Wake()
	Stop()
}

type nodeWorkerImpl struct {
	node       arbiter.Node
	wake       chan struct{}
	cancelFunc func()
	waitGroup  sync.WaitGroup
	metrics    Recorder
	logger     logr.Logger
}

func newNodeWorker(
	node arbiter.Node,
	pruneInterval time.Duration,
	metrics Recorder,
	logger logr.Logger,
) nodeWorker {
	ctx, cancelFunc := context.WithCancel(context.Background())

	worker := &nodeWorkerImpl{
		node:       node,
		wake:       make(chan struct{}, 1),
		cancelFunc: cancelFunc,
		waitGroup:  sync.WaitGroup{},
		metrics:    metrics,
		logger:     logger.WithName("NodeWorker").WithValues("node", node.Name()),
	}

	worker.waitGroup.Add(1)

	go worker.runLoop(ctx, pruneInterval)

	return worker
}

func (w *nodeWorkerImpl) Node() arbiter.Node {
	return w.node
}

// Wake forces the next evaluation to happen immediately. Coalesces with a
// wakeup already pending.
func (w *nodeWorkerImpl) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *nodeWorkerImpl) Stop() {
	w.cancelFunc()
	w.waitGroup.Wait()
}

// runLoop evaluates the node, then sleeps until the node's returned deadline,
// an explicit wakeup, or the next prune tick. A zero deadline means the
// node's outcome cannot change without a new submission, so the worker blocks
// on the wake channel alone.
func (w *nodeWorkerImpl) runLoop(ctx context.Context, pruneInterval time.Duration) {
	defer w.waitGroup.Done()

	var pruneC <-chan time.Time
	if pruneInterval > 0 {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		pruneC = ticker.C
	}

	for {
		if testHookStopLoop != nil {
			if testHookStopLoop() {
				return
			}
		}

		deadline := w.node.Evaluate(getCurrentTimestamp())
		w.metrics.Evaluated(w.node.Name())

		var expiryC <-chan time.Time
		if !deadline.IsZero() {
			expiryC = time.After(time.Until(deadline))
		}

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-expiryC:
		case <-pruneC:
			if removed := w.node.Prune(getCurrentTimestamp()); removed > 0 {
				w.logger.V(5).Info("pruned expired requests", "count", removed)
			}
		}
	}
}
