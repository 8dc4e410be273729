package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
)

// TaskListName is the catalog name of the task list tool.
const TaskListName = "task_list"

// Task list actions.
const (
	TaskView   = "view_tasks"
	TaskCreate = "create_tasks"
	TaskUpdate = "update_tasks"
	TaskDelete = "delete_tasks"
	TaskClear  = "clear_all"
)

const defaultBoard = "default"

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskCancelled  = "cancelled"
)

type taskInput struct {
	ID          string `json:"id,omitempty" jsonschema_description:"Task id (required for update_tasks and delete_tasks)"`
	Title       string `json:"title,omitempty" jsonschema_description:"Task title (required for create_tasks)"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty" jsonschema:"enum=pending,enum=in_progress,enum=completed,enum=cancelled"`
	Priority    string `json:"priority,omitempty" jsonschema:"enum=low,enum=medium,enum=high,enum=urgent"`
	DueDate     string `json:"due_date,omitempty" jsonschema_description:"Due date (YYYY-MM-DD)"`
}

type taskListArgs struct {
	Action    string      `json:"action" jsonschema:"enum=view_tasks,enum=create_tasks,enum=update_tasks,enum=delete_tasks,enum=clear_all" jsonschema_description:"The action to perform on the task list"`
	SessionID string      `json:"session_id,omitempty" jsonschema_description:"Task board to operate on"`
	Section   string      `json:"section,omitempty" jsonschema_description:"Section name (required for create_tasks)"`
	Tasks     []taskInput `json:"tasks,omitempty" jsonschema_description:"Tasks to create, update or delete"`
}

// Task is one entry on a task board.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	DueDate     string    `json:"due_date,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskSection groups tasks under a heading.
type TaskSection struct {
	Name  string  `json:"name"`
	Tasks []*Task `json:"tasks"`
}

// TaskSummary counts tasks by status.
type TaskSummary struct {
	Total      int `json:"total_tasks"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
}

// TaskBoardView is the result of every task list action.
type TaskBoardView struct {
	SessionID string        `json:"session_id"`
	Sections  []TaskSection `json:"sections"`
	Summary   TaskSummary   `json:"summary"`
	Changed   []string      `json:"changed,omitempty"`
}

type taskBoard struct {
	sections []*TaskSection
}

func (b *taskBoard) section(name string, create bool) *TaskSection {
	for _, s := range b.sections {
		if s.Name == name {
			return s
		}
	}
	if !create {
		return nil
	}
	s := &TaskSection{Name: name, Tasks: []*Task{}}
	b.sections = append(b.sections, s)
	return s
}

func (b *taskBoard) find(id string) *Task {
	for _, s := range b.sections {
		for _, t := range s.Tasks {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

// TaskList manages per-session task boards in memory.
type TaskList struct {
	mu     sync.Mutex
	boards map[string]*taskBoard
	now    func() time.Time
	spec   model.ToolSpec
}

// NewTaskList creates the task_list tool.
func NewTaskList() *TaskList {
	return &TaskList{
		boards: make(map[string]*taskBoard),
		now:    time.Now,
		spec: newSpec[taskListArgs](TaskListName,
			"Track work as tasks grouped in sections. View, create, update, delete or clear tasks."),
	}
}

func (t *TaskList) Spec() model.ToolSpec { return t.spec }

// Idempotent reports true only for view_tasks.
func (t *TaskList) Idempotent(raw json.RawMessage) bool {
	var args struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return false
	}
	return args.Action == TaskView
}

func (t *TaskList) Execute(_ context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[taskListArgs](TaskListName, raw)
	if err != nil {
		return nil, agenterr.Invalid(TaskListName, "%v", err)
	}
	boardID := args.SessionID
	if boardID == "" {
		boardID = defaultBoard
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	board, ok := t.boards[boardID]
	if !ok {
		board = &taskBoard{}
		t.boards[boardID] = board
	}

	var changed []string
	switch args.Action {
	case TaskView:
	case TaskCreate:
		changed, err = t.create(board, args)
	case TaskUpdate:
		changed, err = t.update(board, args)
	case TaskDelete:
		changed, err = t.remove(board, args)
	case TaskClear:
		board.sections = nil
	default:
		err = agenterr.Invalid(TaskListName, "unknown action %q", args.Action)
	}
	if err != nil {
		return nil, err
	}

	view := snapshot(boardID, board)
	view.Changed = changed
	return view, nil
}

func (t *TaskList) create(board *taskBoard, args taskListArgs) ([]string, error) {
	section := strings.TrimSpace(args.Section)
	if section == "" {
		return nil, agenterr.Invalid(TaskListName, "section is required for create_tasks")
	}
	if len(args.Tasks) == 0 {
		return nil, agenterr.Invalid(TaskListName, "at least one task is required")
	}
	for i, in := range args.Tasks {
		if strings.TrimSpace(in.Title) == "" {
			return nil, agenterr.Invalid(TaskListName, "tasks[%d].title is required", i)
		}
	}

	s := board.section(section, true)
	ids := make([]string, 0, len(args.Tasks))
	for _, in := range args.Tasks {
		task := &Task{
			ID:          "task_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
			Title:       in.Title,
			Description: in.Description,
			Status:      orDefault(in.Status, TaskPending),
			Priority:    orDefault(in.Priority, "medium"),
			DueDate:     in.DueDate,
			CreatedAt:   t.now().UTC(),
		}
		s.Tasks = append(s.Tasks, task)
		ids = append(ids, task.ID)
	}
	return ids, nil
}

func (t *TaskList) update(board *taskBoard, args taskListArgs) ([]string, error) {
	if len(args.Tasks) == 0 {
		return nil, agenterr.Invalid(TaskListName, "at least one task is required")
	}
	for i, in := range args.Tasks {
		if in.ID == "" {
			return nil, agenterr.Invalid(TaskListName, "tasks[%d].id is required", i)
		}
		if board.find(in.ID) == nil {
			return nil, agenterr.Invalid(TaskListName, "task %s not found", in.ID)
		}
	}

	ids := make([]string, 0, len(args.Tasks))
	for _, in := range args.Tasks {
		task := board.find(in.ID)
		if in.Title != "" {
			task.Title = in.Title
		}
		if in.Description != "" {
			task.Description = in.Description
		}
		if in.Status != "" {
			task.Status = in.Status
		}
		if in.Priority != "" {
			task.Priority = in.Priority
		}
		if in.DueDate != "" {
			task.DueDate = in.DueDate
		}
		ids = append(ids, task.ID)
	}
	return ids, nil
}

func (t *TaskList) remove(board *taskBoard, args taskListArgs) ([]string, error) {
	if len(args.Tasks) == 0 {
		return nil, agenterr.Invalid(TaskListName, "at least one task is required")
	}
	drop := make(map[string]bool, len(args.Tasks))
	for i, in := range args.Tasks {
		if in.ID == "" {
			return nil, agenterr.Invalid(TaskListName, "tasks[%d].id is required", i)
		}
		drop[in.ID] = true
	}

	var ids []string
	sections := board.sections[:0]
	for _, s := range board.sections {
		kept := s.Tasks[:0]
		for _, task := range s.Tasks {
			if drop[task.ID] {
				ids = append(ids, task.ID)
				continue
			}
			kept = append(kept, task)
		}
		s.Tasks = kept
		if len(s.Tasks) > 0 {
			sections = append(sections, s)
		}
	}
	board.sections = sections
	return ids, nil
}

// snapshot deep-copies the board so callers never share task pointers.
func snapshot(id string, board *taskBoard) TaskBoardView {
	view := TaskBoardView{SessionID: id, Sections: make([]TaskSection, 0, len(board.sections))}
	for _, s := range board.sections {
		sec := TaskSection{Name: s.Name, Tasks: make([]*Task, 0, len(s.Tasks))}
		for _, task := range s.Tasks {
			cp := *task
			sec.Tasks = append(sec.Tasks, &cp)

			view.Summary.Total++
			switch task.Status {
			case TaskPending:
				view.Summary.Pending++
			case TaskInProgress:
				view.Summary.InProgress++
			case TaskCompleted:
				view.Summary.Completed++
			case TaskCancelled:
				view.Summary.Cancelled++
			}
		}
		view.Sections = append(view.Sections, sec)
	}
	return view
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
