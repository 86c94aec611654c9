package models

import "time"

// SubTaskStatus is the lifecycle state of a subtask within a TaskPlan.
type SubTaskStatus string

const (
	SubTaskPending   SubTaskStatus = "pending"
	SubTaskReady     SubTaskStatus = "ready"
	SubTaskRunning   SubTaskStatus = "running"
	SubTaskSucceeded SubTaskStatus = "succeeded"
	SubTaskFailed    SubTaskStatus = "failed"
	SubTaskSkipped   SubTaskStatus = "skipped"
)

// SubTask is one node in a TaskPlan's dependency graph.
type SubTask struct {
	ID          string        `json:"id" yaml:"id"`
	Description string        `json:"description" yaml:"description"`
	DependsOn   []string      `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Status      SubTaskStatus `json:"status" yaml:"status"`

	AgentID    string     `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	Result     string     `json:"result,omitempty" yaml:"result,omitempty"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// TaskPlan is a decomposed task: a DAG of SubTasks plus the bookkeeping an
// orchestrator needs to resume, reset, retry, or skip individual nodes.
type TaskPlan struct {
	ID        string    `json:"id" yaml:"id"`
	Goal      string    `json:"goal" yaml:"goal"`
	SubTasks  []SubTask `json:"subtasks" yaml:"subtasks"`
	MaxAgents int       `json:"max_agents" yaml:"max_agents"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// SubTaskByID returns the subtask with the given ID, or nil.
func (p *TaskPlan) SubTaskByID(id string) *SubTask {
	for i := range p.SubTasks {
		if p.SubTasks[i].ID == id {
			return &p.SubTasks[i]
		}
	}
	return nil
}

// Done reports whether every subtask has reached a terminal status.
func (p *TaskPlan) Done() bool {
	for _, st := range p.SubTasks {
		switch st.Status {
		case SubTaskSucceeded, SubTaskFailed, SubTaskSkipped:
			continue
		default:
			return false
		}
	}
	return true
}
