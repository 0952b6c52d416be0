// Package agent provides the conversational side of the sync engine: the
// todo tools an LLM can invoke, their execution against the Task Store, and
// the aggregator that collapses a batch of tool results into change events.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"todosync/internal/store"
	"todosync/internal/todo"
)

// ResultStatus is the outcome of one tool invocation.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
)

// ToolResult is the structured outcome of one tool call within a
// conversational exchange. TodosAffected carries created or updated todos;
// TodosRemoved carries the ids of deleted ones.
type ToolResult struct {
	ToolCallID    string       `json:"tool_call_id"`
	Result        string       `json:"result"`
	Status        ResultStatus `json:"status"`
	TodosAffected []*todo.Todo `json:"todos_affected,omitempty"`
	TodosRemoved  []string     `json:"todos_removed,omitempty"`
}

// Tool names exposed to the model.
const (
	toolCreateTask   = "create_task"
	toolUpdateTask   = "update_task"
	toolCompleteTask = "complete_task"
	toolDeleteTask   = "delete_task"
	toolListTasks    = "list_tasks"
)

// todoTools returns the tool definitions for the message loop.
func todoTools() []anthropic.ToolUnionParam {
	taskProps := map[string]interface{}{
		"title":       map[string]interface{}{"type": "string", "description": "Task title"},
		"description": map[string]interface{}{"type": "string", "description": "Optional longer description"},
		"priority":    map[string]interface{}{"type": "string", "enum": []string{"low", "medium", "high"}},
		"due":         map[string]interface{}{"type": "string", "description": "Due date, natural language allowed (e.g. 'tomorrow at 5pm')"},
	}

	tools := []anthropic.ToolParam{
		{
			Name:        toolCreateTask,
			Description: anthropic.String("Create a new todo task for the user."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: taskProps,
				Required:   []string{"title"},
			},
		},
		{
			Name:        toolUpdateTask,
			Description: anthropic.String("Update fields of an existing task."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"id":          map[string]interface{}{"type": "string", "description": "Task id"},
					"title":       taskProps["title"],
					"description": taskProps["description"],
					"priority":    taskProps["priority"],
					"due":         taskProps["due"],
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        toolCompleteTask,
			Description: anthropic.String("Mark a task as completed or not completed."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"id":        map[string]interface{}{"type": "string", "description": "Task id"},
					"completed": map[string]interface{}{"type": "boolean"},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        toolDeleteTask,
			Description: anthropic.String("Delete a task permanently."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{
					"id": map[string]interface{}{"type": "string", "description": "Task id"},
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        toolListTasks,
			Description: anthropic.String("List all of the user's tasks."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]interface{}{},
			},
		},
	}

	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for i := range tools {
		out = append(out, anthropic.ToolUnionParam{OfTool: &tools[i]})
	}
	return out
}

// Executor runs tool calls against the Task Store.
type Executor struct {
	store     *store.Client
	dateRules *when.Parser
}

// NewExecutor creates a tool executor backed by the given store client.
func NewExecutor(storeClient *store.Client) *Executor {
	parser := when.New(nil)
	parser.Add(en.All...)
	parser.Add(common.All...)

	return &Executor{
		store:     storeClient,
		dateRules: parser,
	}
}

// createArgs covers create_task and update_task inputs.
type createArgs struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Due         string `json:"due"`
	Completed   *bool  `json:"completed"`
}

// Execute runs one named tool call and returns its structured result.
// Failures never propagate as errors: they become StatusError results so
// one bad call does not abort the exchange.
func (e *Executor) Execute(ctx context.Context, userID, callID, name string, input json.RawMessage) ToolResult {
	var args createArgs
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return errorResult(callID, fmt.Errorf("invalid tool arguments: %w", err))
		}
	}

	switch name {
	case toolCreateTask:
		return e.createTask(ctx, userID, callID, args)
	case toolUpdateTask:
		return e.updateTask(ctx, userID, callID, args)
	case toolCompleteTask:
		return e.completeTask(ctx, userID, callID, args)
	case toolDeleteTask:
		return e.deleteTask(ctx, userID, callID, args)
	case toolListTasks:
		return e.listTasks(ctx, userID, callID)
	default:
		return errorResult(callID, fmt.Errorf("unknown tool %q", name))
	}
}

func (e *Executor) createTask(ctx context.Context, userID, callID string, args createArgs) ToolResult {
	if args.Title == "" {
		return errorResult(callID, fmt.Errorf("title is required"))
	}

	t := todo.New(userID, args.Title)
	t.Description = args.Description
	if args.Priority != "" {
		t.Priority = todo.Priority(args.Priority)
	}
	if args.Due != "" {
		due, err := e.parseDue(args.Due)
		if err != nil {
			return errorResult(callID, err)
		}
		t.DueDate = due
	}

	created, err := e.store.Create(ctx, t)
	if err != nil {
		return errorResult(callID, err)
	}
	return ToolResult{
		ToolCallID:    callID,
		Result:        fmt.Sprintf("Created task %q (%s)", created.Title, created.ID),
		Status:        StatusSuccess,
		TodosAffected: []*todo.Todo{created},
	}
}

func (e *Executor) updateTask(ctx context.Context, userID, callID string, args createArgs) ToolResult {
	current, err := e.findTask(ctx, userID, args.ID)
	if err != nil {
		return errorResult(callID, err)
	}

	if args.Title != "" {
		current.Title = args.Title
	}
	if args.Description != "" {
		current.Description = args.Description
	}
	if args.Priority != "" {
		current.Priority = todo.Priority(args.Priority)
	}
	if args.Due != "" {
		due, err := e.parseDue(args.Due)
		if err != nil {
			return errorResult(callID, err)
		}
		current.DueDate = due
	}
	current.UpdatedAt = time.Now().UTC()

	updated, err := e.store.Update(ctx, current)
	if err != nil {
		return errorResult(callID, err)
	}
	return ToolResult{
		ToolCallID:    callID,
		Result:        fmt.Sprintf("Updated task %q (%s)", updated.Title, updated.ID),
		Status:        StatusSuccess,
		TodosAffected: []*todo.Todo{updated},
	}
}

func (e *Executor) completeTask(ctx context.Context, userID, callID string, args createArgs) ToolResult {
	current, err := e.findTask(ctx, userID, args.ID)
	if err != nil {
		return errorResult(callID, err)
	}

	completed := true
	if args.Completed != nil {
		completed = *args.Completed
	}
	current.Completed = completed
	current.UpdatedAt = time.Now().UTC()

	updated, err := e.store.Update(ctx, current)
	if err != nil {
		return errorResult(callID, err)
	}

	verb := "Completed"
	if !completed {
		verb = "Reopened"
	}
	return ToolResult{
		ToolCallID:    callID,
		Result:        fmt.Sprintf("%s task %q (%s)", verb, updated.Title, updated.ID),
		Status:        StatusSuccess,
		TodosAffected: []*todo.Todo{updated},
	}
}

func (e *Executor) deleteTask(ctx context.Context, userID, callID string, args createArgs) ToolResult {
	current, err := e.findTask(ctx, userID, args.ID)
	if err != nil {
		return errorResult(callID, err)
	}
	if err := e.store.Delete(ctx, userID, current.ID); err != nil {
		return errorResult(callID, err)
	}
	return ToolResult{
		ToolCallID:   callID,
		Result:       fmt.Sprintf("Deleted task %q (%s)", current.Title, current.ID),
		Status:       StatusSuccess,
		TodosRemoved: []string{current.ID},
	}
}

func (e *Executor) listTasks(ctx context.Context, userID, callID string) ToolResult {
	todos, err := e.store.List(ctx, userID)
	if err != nil {
		return errorResult(callID, err)
	}

	summary, err := json.Marshal(todos)
	if err != nil {
		return errorResult(callID, err)
	}
	return ToolResult{
		ToolCallID: callID,
		Result:     string(summary),
		Status:     StatusSuccess,
	}
}

// findTask resolves a task id against the store.
func (e *Executor) findTask(ctx context.Context, userID, id string) (*todo.Todo, error) {
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	todos, err := e.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, t := range todos {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("task %s not found", id)
}

// parseDue turns a natural-language due phrase into a timestamp.
func (e *Executor) parseDue(phrase string) (*time.Time, error) {
	if t, err := time.Parse(time.RFC3339, phrase); err == nil {
		return &t, nil
	}
	result, err := e.dateRules.Parse(phrase, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to parse due date %q: %w", phrase, err)
	}
	if result == nil {
		return nil, fmt.Errorf("could not understand due date %q", phrase)
	}
	return &result.Time, nil
}

func errorResult(callID string, err error) ToolResult {
	return ToolResult{
		ToolCallID: callID,
		Result:     err.Error(),
		Status:     StatusError,
	}
}
