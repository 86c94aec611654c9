// Package decompose turns a single freeform goal into a validated,
// acyclic TaskPlan by asking an LLM for a structured JSON breakdown and
// checking the result against a fixed JSON Schema before accepting it.
package decompose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/agentkit/runtime/internal/agent"
	"github.com/agentkit/runtime/internal/schemavalidate"
	"github.com/agentkit/runtime/pkg/models"
)

// planSchema constrains the LLM's JSON output to a list of subtasks with
// id/description/depends_on fields.
const planSchema = `{
	"type": "object",
	"required": ["subtasks"],
	"properties": {
		"subtasks": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "description"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"description": {"type": "string", "minLength": 1},
					"depends_on": {
						"type": "array",
						"items": {"type": "string"}
					}
				}
			}
		}
	}
}`

// ErrCyclicPlan is returned when the decomposer's output forms a cycle in
// its depends_on graph.
var ErrCyclicPlan = errors.New("decompose: plan contains a dependency cycle")

// Config controls decomposition behavior.
type Config struct {
	// Model is the LLM model used to generate the plan.
	Model string

	// MaxSubtasks clamps the number of subtasks accepted from the LLM.
	// Default: 32.
	MaxSubtasks int

	// MaxAgents is copied into TaskPlan.MaxAgents as given; it is not
	// clamped, and the LLM reply carries no agent count. Default: 4.
	MaxAgents int

	// RepairRetries is how many times to re-prompt the LLM after an
	// invalid or cyclic plan before giving up. Default: 1.
	RepairRetries int

	// SystemPrompt overrides the default decomposition instructions.
	SystemPrompt string
}

func (c Config) withDefaults() Config {
	if c.MaxSubtasks <= 0 {
		c.MaxSubtasks = 32
	}
	if c.MaxAgents <= 0 {
		c.MaxAgents = 4
	}
	if c.RepairRetries <= 0 {
		c.RepairRetries = 1
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	return c
}

const defaultSystemPrompt = `You break a goal into an ordered set of independent subtasks for ` +
	`parallel worker agents. Respond with a single JSON object matching the ` +
	`required schema: {"subtasks":[{"id":"...","description":"...","depends_on":["..."]}]}. ` +
	`Use short, unique, kebab-case ids. Only list a dependency id that also ` +
	`appears as a subtask id. Do not include any text outside the JSON object.`

// Decomposer generates TaskPlans from freeform goals via an LLM provider.
type Decomposer struct {
	provider agent.LLMProvider
	config   Config
}

// New creates a Decomposer backed by the given provider.
func New(provider agent.LLMProvider, config Config) *Decomposer {
	return &Decomposer{provider: provider, config: config.withDefaults()}
}

// Decompose generates a validated TaskPlan for goal, retrying once (by
// default) with a repair prompt if the LLM's first attempt fails schema
// validation or contains a dependency cycle.
func (d *Decomposer) Decompose(ctx context.Context, goal string) (*models.TaskPlan, error) {
	var lastErr error
	prompt := goal

	for attempt := 0; attempt <= d.config.RepairRetries; attempt++ {
		raw, err := d.requestPlan(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("request plan: %w", err)
		}

		plan, err := d.parseAndValidate(raw)
		if err == nil {
			return plan, nil
		}
		lastErr = err
		prompt = fmt.Sprintf(
			"Goal: %s\n\nYour previous plan was rejected: %v\nReturn a corrected JSON plan that fixes this, following the schema exactly.",
			goal, err)
	}

	return nil, fmt.Errorf("decompose: plan invalid after %d attempt(s): %w", d.config.RepairRetries+1, lastErr)
}

func (d *Decomposer) requestPlan(ctx context.Context, prompt string) (json.RawMessage, error) {
	chunks, err := d.provider.Complete(ctx, &agent.CompletionRequest{
		Model:  d.config.Model,
		System: d.config.SystemPrompt,
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		text.WriteString(chunk.Text)
	}

	return json.RawMessage(extractJSONObject(text.String())), nil
}

// extractJSONObject trims any leading/trailing prose a model adds around
// the JSON object, taking the first '{' through the matching last '}'.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

type rawPlan struct {
	Subtasks []rawSubtask `json:"subtasks"`
}

type rawSubtask struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
}

func (d *Decomposer) parseAndValidate(raw json.RawMessage) (*models.TaskPlan, error) {
	if err := schemavalidate.ValidateJSON("decompose.plan.schema.json", []byte(planSchema), raw); err != nil {
		return nil, err
	}

	var parsed rawPlan
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	if len(parsed.Subtasks) > d.config.MaxSubtasks {
		parsed.Subtasks = parsed.Subtasks[:d.config.MaxSubtasks]
	}

	ids := make(map[string]bool, len(parsed.Subtasks))
	for _, st := range parsed.Subtasks {
		ids[normalizeID(st.ID)] = true
	}

	subtasks := make([]models.SubTask, 0, len(parsed.Subtasks))
	for _, st := range parsed.Subtasks {
		id := normalizeID(st.ID)
		var deps []string
		for _, dep := range st.DependsOn {
			dep = normalizeID(dep)
			if dep == id || !ids[dep] {
				continue // drop self-deps and dangling references rather than fail the whole plan
			}
			deps = append(deps, dep)
		}
		subtasks = append(subtasks, models.SubTask{
			ID:          id,
			Description: strings.TrimSpace(st.Description),
			DependsOn:   deps,
			Status:      models.SubTaskPending,
		})
	}

	if err := checkAcyclic(subtasks); err != nil {
		return nil, err
	}

	return &models.TaskPlan{
		ID:        uuid.NewString(),
		SubTasks:  subtasks,
		MaxAgents: d.config.MaxAgents,
	}, nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// checkAcyclic performs a depth-first search over the depends_on edges and
// rejects the plan if any cycle is found.
func checkAcyclic(subtasks []models.SubTask) error {
	byID := make(map[string][]string, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st.DependsOn
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(subtasks))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return ErrCyclicPlan
		}
		state[id] = visiting
		for _, dep := range byID[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, st := range subtasks {
		if err := visit(st.ID); err != nil {
			return err
		}
	}
	return nil
}
