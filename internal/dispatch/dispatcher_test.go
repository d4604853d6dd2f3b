package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/c0smic-Lab/hardware-google-pixel/internal/arbiter"
)

func testLogger() logr.Logger {
	return logr.Discard()
}

func createNewNodeDispatcher() *nodeDispatcherImpl {
	return &nodeDispatcherImpl{
		metrics: noopRecorder{},
		logger:  testLogger(),
	}
}

func TestNodeDispatcher_Start(t *testing.T) {
	dispatcher := createNewNodeDispatcher()
	w := &workerMock{}
	w.On("Stop").Return()
	dispatcher.workers.Store("cpu-min-freq", w)

	ctx, cancel := context.WithCancel(context.TODO())

	cancel()
	dispatcher.Start(ctx)

	w.AssertCalled(t, "Stop")
}

func TestNewNodeDispatcher(t *testing.T) {
	origNewNodeWorkerFunc := newNodeWorkerFunc
	t.Cleanup(func() {
		newNodeWorkerFunc = origNewNodeWorkerFunc
	})

	created := map[string]time.Duration{}
	newNodeWorkerFunc = func(
		node arbiter.Node,
		pruneInterval time.Duration,
		_ Recorder,
		_ logr.Logger,
	) nodeWorker {
		created[node.Name()] = pruneInterval
		return &workerMock{node: node}
	}

	nodeA := &nodeMock{}
	nodeA.On("Name").Return("node-a")
	nodeB := &nodeMock{}
	nodeB.On("Name").Return("node-b")

	NewNodeDispatcher(
		[]arbiter.Node{nodeA, nodeB},
		Options{PruneInterval: time.Minute},
		testLogger(),
	)

	assert.Equal(t, map[string]time.Duration{
		"node-a": time.Minute,
		"node-b": time.Minute,
	}, created)
}

func TestNodeDispatcher_Request(t *testing.T) {
	origGetCurrentTimestamp := getCurrentTimestamp
	t.Cleanup(func() {
		getCurrentTimestamp = origGetCurrentTimestamp
	})
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	getCurrentTimestamp = func() time.Time { return now }

	tCases := []struct {
		testCase       string
		duration       time.Duration
		expectedExpiry time.Time
		changed        bool
		expectWake     bool
	}{
		{
			testCase:       "Test Case 1 - Timed request wakes the worker",
			duration:       10 * time.Second,
			expectedExpiry: now.Add(10 * time.Second),
			changed:        true,
			expectWake:     true,
		},
		{
			testCase:       "Test Case 2 - Permanent request has zero expiry",
			duration:       0,
			expectedExpiry: time.Time{},
			changed:        true,
			expectWake:     true,
		},
		{
			testCase:       "Test Case 3 - No state change means no wakeup",
			duration:       10 * time.Second,
			expectedExpiry: now.Add(10 * time.Second),
			changed:        false,
			expectWake:     false,
		},
	}

	for _, tc := range tCases {
		t.Run(tc.testCase, func(t *testing.T) {
			node := &nodeMock{}
			node.On("AddRequest", "1512000", "owner-a", tc.expectedExpiry).Return(tc.changed, nil)

			w := &workerMock{node: node}
			if tc.expectWake {
				w.On("Wake").Return()
			}

			dispatcher := createNewNodeDispatcher()
			dispatcher.workers.Store("cpu-min-freq", w)

			err := dispatcher.Request("cpu-min-freq", "1512000", "owner-a", tc.duration)

			assert.NoError(t, err)
			node.AssertCalled(t, "AddRequest", "1512000", "owner-a", tc.expectedExpiry)
			if tc.expectWake {
				w.AssertCalled(t, "Wake")
			} else {
				w.AssertNotCalled(t, "Wake")
			}
		})
	}
}

func TestNodeDispatcher_RequestUnknownNode(t *testing.T) {
	dispatcher := createNewNodeDispatcher()

	err := dispatcher.Request("no-such-node", "1512000", "owner-a", time.Second)

	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestNodeDispatcher_RequestBadValue(t *testing.T) {
	node := &nodeMock{}
	node.On("AddRequest", mock.Anything, mock.Anything, mock.Anything).
		Return(false, arbiter.ErrUnknownRequestValue)

	w := &workerMock{node: node}
	dispatcher := createNewNodeDispatcher()
	dispatcher.workers.Store("cpu-min-freq", w)

	err := dispatcher.Request("cpu-min-freq", "9999999", "owner-a", time.Second)

	assert.ErrorIs(t, err, arbiter.ErrUnknownRequestValue)
	w.AssertNotCalled(t, "Wake")
}

func TestNodeDispatcher_Cancel(t *testing.T) {
	tCases := []struct {
		testCase   string
		removed    bool
		expectWake bool
	}{
		{
			testCase:   "Test Case 1 - Withdrawal wakes the worker",
			removed:    true,
			expectWake: true,
		},
		{
			testCase:   "Test Case 2 - Nothing to withdraw means no wakeup",
			removed:    false,
			expectWake: false,
		},
	}

	for _, tc := range tCases {
		t.Run(tc.testCase, func(t *testing.T) {
			node := &nodeMock{}
			node.On("RemoveRequest", "owner-a").Return(tc.removed)

			w := &workerMock{node: node}
			if tc.expectWake {
				w.On("Wake").Return()
			}

			dispatcher := createNewNodeDispatcher()
			dispatcher.workers.Store("cpu-min-freq", w)

			err := dispatcher.Cancel("cpu-min-freq", "owner-a")

			assert.NoError(t, err)
			if tc.expectWake {
				w.AssertCalled(t, "Wake")
			} else {
				w.AssertNotCalled(t, "Wake")
			}
		})
	}
}

func TestNodeDispatcher_CancelUnknownNode(t *testing.T) {
	dispatcher := createNewNodeDispatcher()

	err := dispatcher.Cancel("no-such-node", "owner-a")

	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestNodeDispatcher_Status(t *testing.T) {
	nodeB := &nodeMock{}
	nodeB.On("Status").Return(arbiter.NodeStatus{Name: "node-b"})
	nodeA := &nodeMock{}
	nodeA.On("Status").Return(arbiter.NodeStatus{Name: "node-a"})

	dispatcher := createNewNodeDispatcher()
	dispatcher.workers.Store("node-b", &workerMock{node: nodeB})
	dispatcher.workers.Store("node-a", &workerMock{node: nodeA})

	statuses := dispatcher.Status()

	assert.Equal(t, []arbiter.NodeStatus{
		{Name: "node-a"},
		{Name: "node-b"},
	}, statuses)
}

func TestNodeDispatcher_EndToEnd(t *testing.T) {
	applied := make(chan string, 16)
	node, err := arbiter.NewEventNode(arbiter.NodeConfig{
		Name:         "cpu-min-freq",
		Path:         "/sys/knob",
		Values:       []string{"1512000", "384000"},
		DefaultIndex: 1,
		ResetOnInit:  true,
	}, func(name, path, value string) {
		applied <- value
	}, testLogger())
	assert.NoError(t, err)

	dispatcher := NewNodeDispatcher([]arbiter.Node{node}, Options{}, testLogger())

	ctx, cancel := context.WithCancel(context.TODO())
	done := make(chan struct{})
	go func() {
		dispatcher.Start(ctx)
		close(done)
	}()

	// initial forced apply of the default
	assert.Equal(t, "384000", waitForApply(t, applied))

	// boost request applies immediately and falls back once it expires
	assert.NoError(t, dispatcher.Request("cpu-min-freq", "1512000", "owner-boost", 50*time.Millisecond))
	assert.Equal(t, "1512000", waitForApply(t, applied))
	assert.Equal(t, "384000", waitForApply(t, applied))

	cancel()
	<-done
}

func waitForApply(t *testing.T, applied chan string) string {
	t.Helper()
	select {
	case value := <-applied:
		return value
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an apply")
		return ""
	}
}
