package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
)

type fakeWorkflowStore struct {
	mu        sync.Mutex
	workflows map[string]*models.Workflow
}

func newFakeWorkflowStore(wfs ...*models.Workflow) *fakeWorkflowStore {
	s := &fakeWorkflowStore{workflows: make(map[string]*models.Workflow)}
	for _, w := range wfs {
		s.workflows[w.ID] = w
	}
	return s
}

func (s *fakeWorkflowStore) GetByID(ctx context.Context, workflowID string) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "not found")
	}
	cp := *w
	return &cp, nil
}

func (s *fakeWorkflowStore) SetDeploymentStatus(ctx context.Context, workflowID string, to models.DeploymentStatus, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return apperr.New(apperr.NotFound, "not found")
	}
	w.DeploymentStatus = to
	return nil
}

type fakeIndexStore struct {
	mu      sync.Mutex
	entries map[string]*models.TriggerIndexEntry // keyed by triggerType+":"+indexKey
}

func newFakeIndexStore() *fakeIndexStore {
	return &fakeIndexStore{entries: make(map[string]*models.TriggerIndexEntry)}
}

func (s *fakeIndexStore) Upsert(ctx context.Context, e *models.TriggerIndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries[e.TriggerType+":"+e.IndexKey] = &cp
	return nil
}

func (s *fakeIndexStore) Lookup(ctx context.Context, triggerType, indexKey string) (*models.TriggerIndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[triggerType+":"+indexKey]
	if !ok || e.Status != models.IndexActive {
		return nil, apperr.New(apperr.NotFound, "no match")
	}
	cp := *e
	return &cp, nil
}

func (s *fakeIndexStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerIndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TriggerIndexEntry
	for _, e := range s.entries {
		if e.WorkflowID == workflowID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeIndexStore) SetStatus(ctx context.Context, workflowID string, status models.IndexStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.WorkflowID == workflowID {
			e.Status = status
		}
	}
	return nil
}

func (s *fakeIndexStore) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.WorkflowID == workflowID {
			delete(s.entries, k)
		}
	}
	return nil
}

func (s *fakeIndexStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type fakeCron struct {
	mu        sync.Mutex
	registered map[string]bool
}

func newFakeCron() *fakeCron { return &fakeCron{registered: make(map[string]bool)} }

func (f *fakeCron) Register(workflowID, nodeID, expr, timezone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[workflowID] = true
	return nil
}

func (f *fakeCron) Unregister(workflowID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, workflowID)
}

func twoTriggerWorkflow(id string) *models.Workflow {
	return &models.Workflow{
		ID:   id,
		Name: "demo",
		Nodes: []models.Node{
			{ID: "t1", Type: models.NodeTypeTrigger, Subtype: "WEBHOOK", Configurations: map[string]any{"path": "/a", "method": "POST"}},
			{ID: "t2", Type: models.NodeTypeTrigger, Subtype: "MANUAL"},
			{ID: "a1", Type: models.NodeTypeAction, Subtype: "HTTP_REQUEST"},
		},
		Connections: []models.Connection{
			{ID: "c1", FromNode: "t1", ToNode: "a1"},
		},
		Triggers: []string{"t1", "t2"},
	}
}

// TestDeployAtomicityOnSuccess checks invariant 1: on success, index row
// count equals TRIGGER node count and the workflow is DEPLOYED.
func TestDeployAtomicityOnSuccess(t *testing.T) {
	wf := twoTriggerWorkflow("wf1")
	workflows := newFakeWorkflowStore(wf)
	index := newFakeIndexStore()
	svc := New(workflows, index, nil, newFakeCron())

	result, err := svc.Deploy(context.Background(), "wf1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "DEPLOYED", result.Status)
	assert.Equal(t, 2, index.count())

	got, err := workflows.GetByID(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentDeployed, got.DeploymentStatus)
}

// TestDeployWebhookConflictLeavesNoEntries checks invariant 1's failure
// half: index rows are unchanged from before the call when Deploy fails.
func TestDeployWebhookConflictLeavesNoEntries(t *testing.T) {
	index := newFakeIndexStore()
	index.entries["WEBHOOK:webhook:/a:POST"] = &models.TriggerIndexEntry{
		WorkflowID: "other-wf", TriggerType: "WEBHOOK", IndexKey: "webhook:/a:POST", Status: models.IndexActive,
	}
	before := index.count()

	wf := twoTriggerWorkflow("wf1")
	workflows := newFakeWorkflowStore(wf)
	svc := New(workflows, index, nil, newFakeCron())

	_, err := svc.Deploy(context.Background(), "wf1", "alice")
	require.Error(t, err)
	assert.True(t, apperr.As(err, apperr.Conflict))
	assert.Equal(t, before, index.count())
}

func TestUndeployIsIdempotent(t *testing.T) {
	wf := twoTriggerWorkflow("wf1")
	workflows := newFakeWorkflowStore(wf)
	index := newFakeIndexStore()
	svc := New(workflows, index, nil, newFakeCron())

	require.NoError(t, svc.Undeploy(context.Background(), "wf1", "alice"))
	require.NoError(t, svc.Undeploy(context.Background(), "wf1", "alice"))

	got, _ := workflows.GetByID(context.Background(), "wf1")
	assert.Equal(t, models.DeploymentUndeployed, got.DeploymentStatus)
}

// TestWebhookUniqueness checks invariant 2: a second active WEBHOOK
// entry with the same index_key is rejected with CONFLICT.
func TestWebhookUniqueness(t *testing.T) {
	wf1 := twoTriggerWorkflow("wf1")
	wf2 := twoTriggerWorkflow("wf2") // same webhook path/method as wf1
	workflows := newFakeWorkflowStore(wf1, wf2)
	index := newFakeIndexStore()
	svc := New(workflows, index, nil, newFakeCron())

	_, err := svc.Deploy(context.Background(), "wf1", "alice")
	require.NoError(t, err)

	_, err = svc.Deploy(context.Background(), "wf2", "alice")
	require.Error(t, err)
	assert.True(t, apperr.As(err, apperr.Conflict))
}
