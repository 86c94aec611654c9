package decompose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentkit/runtime/internal/agent"
)

type fakeProvider struct {
	responses []string
	calls     int
}

func (f *fakeProvider) Name() string          { return "fake" }
func (f *fakeProvider) Models() []agent.Model { return nil }
func (f *fakeProvider) SupportsTools() bool   { return false }

func (f *fakeProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	resp := f.responses[f.calls]
	if f.calls < len(f.responses)-1 {
		f.calls++
	}
	ch := make(chan *agent.CompletionChunk, 1)
	ch <- &agent.CompletionChunk{Text: resp, Done: true}
	close(ch)
	return ch, nil
}

func TestDecompose_ValidPlan(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		`{"subtasks":[{"id":"read","description":"read files"},{"id":"write","description":"write output","depends_on":["read"]}]}`,
	}}
	d := New(provider, Config{})

	plan, err := d.Decompose(context.Background(), "do the thing")
	require.NoError(t, err)
	require.Len(t, plan.SubTasks, 2)
	require.Equal(t, []string{"read"}, plan.SubTasks[1].DependsOn)
}

func TestDecompose_RejectsCycleThenRepairs(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		`{"subtasks":[{"id":"a","description":"a","depends_on":["b"]},{"id":"b","description":"b","depends_on":["a"]}]}`,
		`{"subtasks":[{"id":"a","description":"a"},{"id":"b","description":"b","depends_on":["a"]}]}`,
	}}
	d := New(provider, Config{RepairRetries: 1})

	plan, err := d.Decompose(context.Background(), "goal")
	require.NoError(t, err)
	require.Len(t, plan.SubTasks, 2)
	require.Equal(t, 2, provider.calls+1)
}

func TestDecompose_DropsDanglingDependency(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		`{"subtasks":[{"id":"a","description":"a","depends_on":["ghost"]}]}`,
	}}
	d := New(provider, Config{})

	plan, err := d.Decompose(context.Background(), "goal")
	require.NoError(t, err)
	require.Empty(t, plan.SubTasks[0].DependsOn)
}

func TestDecompose_ClampsMaxSubtasks(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		`{"subtasks":[{"id":"a","description":"a"},{"id":"b","description":"b"},{"id":"c","description":"c"}]}`,
	}}
	d := New(provider, Config{MaxSubtasks: 2})

	plan, err := d.Decompose(context.Background(), "goal")
	require.NoError(t, err)
	require.Len(t, plan.SubTasks, 2)
}

func TestDecompose_FailsAfterExhaustingRetries(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		`not json at all`,
	}}
	d := New(provider, Config{RepairRetries: 0})

	_, err := d.Decompose(context.Background(), "goal")
	require.Error(t, err)
}
