package server

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/antigravity-dev/gravity/pkg/models"
)

type createTaskRequest struct {
	RepoID       string `json:"repo_id" binding:"required"`
	UserRequest  string `json:"user_request" binding:"required"`
	ParentTaskID string `json:"parent_task_id"`
}

type rejectTaskRequest struct {
	Feedback string `json:"feedback"`
}

// taskDetail is the single-task response: the task row plus its runs,
// verified file effects, and direct children.
type taskDetail struct {
	models.Task
	Runs     []models.AgentRun          `json:"runs"`
	Files    []models.VerifiedFileEvent `json:"files_verified"`
	Children []models.Task              `json:"children,omitempty"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "repo_id and user_request are required")
		return
	}

	repo, err := s.store.GetRepository(req.RepoID)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if repo == nil {
		errorJSON(c, http.StatusNotFound, "repository not found")
		return
	}

	depth := 0
	if req.ParentTaskID != "" {
		parent, err := s.store.GetTask(req.ParentTaskID)
		if err != nil {
			errorJSON(c, http.StatusInternalServerError, err.Error())
			return
		}
		if parent == nil {
			errorJSON(c, http.StatusNotFound, "parent task not found")
			return
		}
		if parent.RepoID != req.RepoID {
			errorJSON(c, http.StatusBadRequest, "parent task belongs to a different repository")
			return
		}
		depth = parent.Depth + 1
	}

	now := s.now()
	task := &models.Task{
		ID:          uuid.New().String(),
		ParentID:    req.ParentTaskID,
		RepoID:      req.RepoID,
		UserRequest: req.UserRequest,
		Status:      models.TaskStatusPending,
		Depth:       depth,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTask(task); err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}

	if s.sched != nil {
		s.sched.Enqueue(task.ID)
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleListTasks(c *gin.Context) {
	repoID := c.Query("repo_id")
	parentID := c.Query("parent_task_id")

	var (
		tasks []models.Task
		err   error
	)
	if parentID != "" {
		tasks, err = s.store.ListTasksByParent(parentID)
	} else {
		tasks, err = s.store.ListRootTasks()
	}
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}

	if repoID != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.RepoID == repoID {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, ok := s.lookupTask(c)
	if !ok {
		return
	}

	runs, err := s.store.ListRunsByTask(task.ID)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	files, err := s.store.ListVerifiedFileEvents(task.ID)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	children, err := s.store.ListTasksByParent(task.ID)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}

	if runs == nil {
		runs = []models.AgentRun{}
	}
	if files == nil {
		files = []models.VerifiedFileEvent{}
	}
	c.JSON(http.StatusOK, taskDetail{Task: *task, Runs: runs, Files: files, Children: children})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	task, ok := s.lookupTask(c)
	if !ok {
		return
	}

	// Stop live work before the rows disappear from under it.
	if !task.Status.Terminal() && s.sched != nil {
		if _, err := s.sched.Cancel(task.ID); err != nil {
			log.Printf("[server] task %s: cancel before delete: %v", task.ID, err)
		}
	}

	deleted, err := s.store.DeleteTaskCascade(task.ID)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if s.knowledge != nil {
		if err := s.knowledge.DeleteByTasks(deleted); err != nil {
			log.Printf("[server] task %s: delete knowledge notes: %v", task.ID, err)
		}
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleApproveTask(c *gin.Context) {
	task, ok := s.lookupTask(c)
	if !ok {
		return
	}

	applied, err := s.store.TransitionTask(task.ID, models.TaskStatusPlanReview, models.TaskStatusExecuting, s.now())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !applied {
		errorJSON(c, http.StatusConflict, "task is not awaiting plan review")
		return
	}

	s.publish(task.ID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusExecuting})
	if s.sched != nil {
		s.sched.Enqueue(task.ID)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRejectTask(c *gin.Context) {
	task, ok := s.lookupTask(c)
	if !ok {
		return
	}
	if task.Status != models.TaskStatusPlanReview {
		errorJSON(c, http.StatusConflict, "task is not awaiting plan review")
		return
	}

	var req rejectTaskRequest
	_ = c.ShouldBindJSON(&req)

	msg := "plan rejected"
	if req.Feedback != "" {
		msg = "plan rejected: " + req.Feedback
	}
	applied, err := s.store.FailTask(task.ID, models.ErrKindPlanRejected, msg, s.now())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !applied {
		errorJSON(c, http.StatusConflict, "task is not awaiting plan review")
		return
	}

	s.publish(task.ID, models.EventError, models.ErrorPayload{Kind: models.ErrKindPlanRejected, Message: msg})
	s.publish(task.ID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusFailed})
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePauseTask(c *gin.Context) {
	task, ok := s.lookupTask(c)
	if !ok {
		return
	}

	applied, err := s.store.PauseTask(task.ID, s.now())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !applied {
		errorJSON(c, http.StatusConflict, "task is terminal or already paused")
		return
	}

	s.publish(task.ID, models.EventStatus, models.StatusPayload{Status: models.TaskStatusPaused})
	c.Status(http.StatusNoContent)
}

func (s *Server) handleResumeTask(c *gin.Context) {
	task, ok := s.lookupTask(c)
	if !ok {
		return
	}

	applied, err := s.store.ResumeTask(task.ID, s.now())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !applied {
		errorJSON(c, http.StatusConflict, "task is not paused")
		return
	}

	resumed, err := s.store.GetTask(task.ID)
	if err == nil && resumed != nil {
		s.publish(task.ID, models.EventStatus, models.StatusPayload{Status: resumed.Status})
	}
	if s.sched != nil {
		s.sched.Enqueue(task.ID)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCancelTask(c *gin.Context) {
	task, ok := s.lookupTask(c)
	if !ok {
		return
	}
	if s.sched == nil {
		errorJSON(c, http.StatusServiceUnavailable, "scheduler unavailable")
		return
	}

	applied, err := s.sched.Cancel(task.ID)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !applied {
		errorJSON(c, http.StatusConflict, "task is already terminal")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListEvents(c *gin.Context) {
	task, ok := s.lookupTask(c)
	if !ok {
		return
	}

	afterSeq, ok := parseSeqQuery(c, "after_seq")
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errorJSON(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := s.store.ListEventsAfter(task.ID, afterSeq, limit)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	c.JSON(http.StatusOK, events)
}

// lookupTask resolves the :id path param, writing the error response on
// failure.
func (s *Server) lookupTask(c *gin.Context) (*models.Task, bool) {
	task, err := s.store.GetTask(c.Param("id"))
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if task == nil {
		errorJSON(c, http.StatusNotFound, "task not found")
		return nil, false
	}
	return task, true
}

func parseSeqQuery(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		errorJSON(c, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return seq, true
}
