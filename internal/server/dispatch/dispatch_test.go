// Copyright 2025 the Conductor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
	"github.com/tidemark-io/conductor/internal/server/errs"
	"github.com/tidemark-io/conductor/internal/server/saga"
)

// -- in-memory ports --

// memConn implements Conn over maps: CreateKey arbitrates exactly like the
// KV bucket (first writer wins, losers get ErrKeyExists).
type memConn struct {
	mu        sync.Mutex
	keys      map[string][]byte
	published []*nats.Msg
}

func newMemConn() *memConn {
	return &memConn{keys: make(map[string][]byte)}
}

func (c *memConn) CreateKey(_ context.Context, bucket, key string, value []byte) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := bucket + "/" + key
	if _, exists := c.keys[k]; exists {
		return 0, natsjs.ErrKeyExists
	}
	c.keys[k] = value
	return 1, nil
}

func (c *memConn) Set(_ context.Context, bucket, key string, value []byte) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[bucket+"/"+key] = value
	return 1, nil
}

func (c *memConn) PublishMsgJS(_ context.Context, msg *nats.Msg, _ ...natsjs.PublishOpt) (*natsjs.PubAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, msg)
	return &natsjs.PubAck{}, nil
}

func (c *memConn) taskCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

type memLog struct {
	mu     sync.Mutex
	events []api.ExecutionEvent
}

func (l *memLog) Append(_ context.Context, event api.ExecutionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// memStatuses returns a fixed status per execution id; absent ids report
// not-found like the status store does.
type memStatuses struct {
	mu      sync.Mutex
	records map[api.ExecutionID]api.ExecutionStatus
}

func newMemStatuses() *memStatuses {
	return &memStatuses{records: make(map[api.ExecutionID]api.ExecutionStatus)}
}

func (s *memStatuses) Get(_ context.Context, id api.ExecutionID) (api.ExecutionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.records[id]
	if !ok {
		return api.ExecutionStatus{}, errs.NotFound(id.String())
	}
	return st, nil
}

func (s *memStatuses) set(id api.ExecutionID, state api.ExecutionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = api.ExecutionStatus{ExecutionID: id.String(), State: state}
}

// -- scaffolding --

func testPlans(t *testing.T) *saga.PlanRegistry {
	t.Helper()
	plans := saga.NewPlanRegistry()
	require.NoError(t, plans.Register(saga.Plan{
		Operation: "create_tenant",
		Steps: []saga.Step{
			{Name: "s0", Adapter: "a0", Resource: "tenant", Action: "create"},
		},
	}))
	return plans
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *memConn, *memLog, *memStatuses) {
	t.Helper()
	conn := newMemConn()
	log := &memLog{}
	statuses := newMemStatuses()
	d := New(conn, &serde.JsonSerde{}, api.Names{}, log, testPlans(t), statuses,
		slog.New(slog.DiscardHandler))
	return d, conn, log, statuses
}

func testRequest(key string) api.OperationRequest {
	return api.OperationRequest{
		TenantID:       "acme",
		ActorID:        "alice",
		IdempotencyKey: key,
		Payload:        map[string]any{"name": "Acme Corp"},
	}
}

// -- tests --

func TestExecutionIDDeterministic(t *testing.T) {
	a := ExecutionIDFor("acme", "K1")
	b := ExecutionIDFor("acme", "K1")
	assert.Equal(t, a, b, "same (tenant, key) must converge on one id")

	// Different key or different tenant yields a different execution.
	assert.NotEqual(t, a, ExecutionIDFor("acme", "K2"))
	assert.NotEqual(t, a, ExecutionIDFor("globex", "K1"))
}

func TestExecutionIDTenantScoping(t *testing.T) {
	// The separator prevents ("ab", "c") and ("a", "bc") from colliding.
	assert.NotEqual(t, ExecutionIDFor("ab", "c"), ExecutionIDFor("a", "bc"))
}

func TestStartCreatesExecution(t *testing.T) {
	d, conn, log, _ := newTestDispatcher(t)

	id, created, err := d.Start(context.Background(), "create_tenant", testRequest("K1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ExecutionIDFor("acme", "K1"), id)
	assert.Equal(t, 1, conn.taskCount())

	require.Len(t, log.events, 1)
	started, ok := log.events[0].(*api.ExecutionStarted)
	require.True(t, ok)
	assert.Equal(t, "K1", started.IdempotencyKey)
	assert.Equal(t, 1, started.StepCount)
}

func TestStartSameKeyBindsOnce(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	first, created, err := d.Start(context.Background(), "create_tenant", testRequest("K1"))
	require.NoError(t, err)
	require.True(t, created)

	// The loser of the index create rejoins the same execution. No status
	// has been projected yet, so the writes are repeated (the stream's
	// message id dedupes the task); the id never changes.
	second, created, err := d.Start(context.Background(), "create_tenant", testRequest("K1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)
}

func TestStartDoesNotRepublishRunningExecution(t *testing.T) {
	d, conn, log, statuses := newTestDispatcher(t)

	id, _, err := d.Start(context.Background(), "create_tenant", testRequest("K1"))
	require.NoError(t, err)
	require.Equal(t, 1, conn.taskCount())

	// A worker owns the execution now. Resubmitting the key after the
	// stream's duplicate window must not enqueue a second task.
	statuses.set(id, api.StateRunning)

	again, created, err := d.Start(context.Background(), "create_tenant", testRequest("K1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, conn.taskCount())
	assert.Len(t, log.events, 1)
}

func TestStartTerminalExecutionReturnsExistingID(t *testing.T) {
	d, conn, _, statuses := newTestDispatcher(t)

	id, _, err := d.Start(context.Background(), "create_tenant", testRequest("K1"))
	require.NoError(t, err)
	statuses.set(id, api.StateCompleted)

	again, created, err := d.Start(context.Background(), "create_tenant", testRequest("K1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, conn.taskCount())
}

func TestStartRepairsCrashedDispatch(t *testing.T) {
	d, conn, log, _ := newTestDispatcher(t)

	// Simulate a dispatch that died right after winning the index create:
	// the key exists but nothing else does.
	id := ExecutionIDFor("acme", "K1")
	_, err := conn.CreateKey(context.Background(), d.indexBucket, api.IndexKey("acme", "K1"), []byte(id))
	require.NoError(t, err)

	again, created, err := d.Start(context.Background(), "create_tenant", testRequest("K1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, conn.taskCount(), "resubmission finishes the interrupted dispatch")
	assert.Len(t, log.events, 1)
}

func TestStartConcurrentSameKeyCreatesOne(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	const submitters = 8
	ids := make([]api.ExecutionID, submitters)
	flags := make([]bool, submitters)

	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, created, err := d.Start(context.Background(), "create_tenant", testRequest("K1"))
			assert.NoError(t, err)
			ids[i] = id
			flags[i] = created
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < submitters; i++ {
		assert.Equal(t, ids[0], ids[i], "every submitter sees the same execution id")
		if flags[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one submitter creates the execution")
}

func TestStartRejectsBadSubmissions(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	t.Run("missing idempotency key", func(t *testing.T) {
		_, _, err := d.Start(context.Background(), "create_tenant", api.OperationRequest{
			TenantID: "acme", ActorID: "alice",
		})
		assert.Equal(t, errs.CodeClassificationInvalid, errs.Code(err))
	})

	t.Run("unknown operation", func(t *testing.T) {
		_, _, err := d.Start(context.Background(), "delete_tenant", api.OperationRequest{
			TenantID: "acme", ActorID: "alice", IdempotencyKey: "K1",
		})
		assert.Equal(t, errs.CodeClassificationInvalid, errs.Code(err))
	})
}
