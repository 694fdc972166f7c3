package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleFileTree serves the cached file tree of a registered repository.
func (s *Server) handleFileTree(c *gin.Context) {
	repoID := c.Query("repo_id")
	if repoID == "" {
		errorJSON(c, http.StatusBadRequest, "repo_id is required")
		return
	}
	if s.trees == nil {
		errorJSON(c, http.StatusServiceUnavailable, "file trees unavailable")
		return
	}

	repo, err := s.store.GetRepository(repoID)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if repo == nil {
		errorJSON(c, http.StatusNotFound, "repository not found")
		return
	}

	tree, err := s.trees.Tree(repo)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, tree)
}
