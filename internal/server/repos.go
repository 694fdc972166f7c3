package server

import (
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/antigravity-dev/gravity/internal/repotree"
	"github.com/antigravity-dev/gravity/pkg/models"
)

type createRepoRequest struct {
	Name string `json:"name"`
	Path string `json:"path" binding:"required"`
}

func (s *Server) handleCreateRepo(c *gin.Context) {
	var req createRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "path is required")
		return
	}

	abs, err := filepath.Abs(req.Path)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		errorJSON(c, http.StatusBadRequest, "path is not a directory")
		return
	}

	existing, err := s.store.GetRepositoryByPath(abs)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if existing != nil {
		errorJSON(c, http.StatusConflict, "path already registered")
		return
	}

	name := req.Name
	if name == "" {
		name = filepath.Base(abs)
	}

	kind, testCmd := repotree.Scan(abs)
	now := s.now()
	repo := &models.Repository{
		ID:                 uuid.New().String(),
		Name:               name,
		Path:               abs,
		Kind:               kind,
		DefaultTestCommand: testCmd,
		CreatedAt:          now,
		ScannedAt:          &now,
	}
	if err := s.store.CreateRepository(repo); err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if s.watcher != nil {
		if err := s.watcher.Watch(repo.ID, repo.Path); err != nil {
			log.Printf("[server] repo %s: watch %s: %v", repo.ID, repo.Path, err)
		}
	}
	c.JSON(http.StatusCreated, repo)
}

func (s *Server) handleListRepos(c *gin.Context) {
	repos, err := s.store.ListRepositories()
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if repos == nil {
		repos = []models.Repository{}
	}
	c.JSON(http.StatusOK, repos)
}

func (s *Server) handleGetRepo(c *gin.Context) {
	repo, ok := s.lookupRepo(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, repo)
}

func (s *Server) handleDeleteRepo(c *gin.Context) {
	repo, ok := s.lookupRepo(c)
	if !ok {
		return
	}

	active, err := s.store.CountActiveTasksByRepo(repo.ID)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if active > 0 {
		errorJSON(c, http.StatusConflict, "repository has active tasks")
		return
	}

	if err := s.store.DeleteRepository(repo.ID); err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if s.watcher != nil {
		s.watcher.Unwatch(repo.ID)
	}
	if s.trees != nil {
		s.trees.Invalidate(repo.ID)
	}
	c.Status(http.StatusNoContent)
}

// handleScanRepo re-detects the repository's project type and default test
// command and stores the result on the repository row.
func (s *Server) handleScanRepo(c *gin.Context) {
	repo, ok := s.lookupRepo(c)
	if !ok {
		return
	}

	kind, testCmd := repotree.Scan(repo.Path)
	if err := s.store.UpdateRepositoryScan(repo.ID, kind, testCmd, s.now()); err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}

	updated, err := s.store.GetRepository(repo.ID)
	if err != nil || updated == nil {
		errorJSON(c, http.StatusInternalServerError, "repository vanished during scan")
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) lookupRepo(c *gin.Context) (*models.Repository, bool) {
	repo, err := s.store.GetRepository(c.Param("id"))
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if repo == nil {
		errorJSON(c, http.StatusNotFound, "repository not found")
		return nil, false
	}
	return repo, true
}
