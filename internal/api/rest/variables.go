package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Simumatik/simumatik-driver-manager/internal/types"
	"github.com/Simumatik/simumatik-driver-manager/internal/vartable"
)

// GET /api/v1/variables/:id
func (s *Server) getVariable(c *gin.Context) {
	snap, err := s.mgr.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, vartable.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("VAR_404", "Variable not found", err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("VAR_500", "Failed to read variable", err.Error()))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// POST /api/v1/variables/:id
// The write is queued; delivery happens on the owning driver's next cycle.
func (s *Server) setVariable(c *gin.Context) {
	var req struct {
		Value any `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("VAR_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.mgr.Set(c.Param("id"), req.Value); err != nil {
		if errors.Is(err, vartable.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("VAR_404", "Variable not found", err.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("VAR_400", "Write rejected", err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Write queued",
	})
}

// PUT /api/v1/variables/:id
func (s *Server) declareVariable(c *gin.Context) {
	var req struct {
		Type string `json:"type" binding:"required"`
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("VAR_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.mgr.Declare(c.Param("id"), req.Type, req.Mode); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("VAR_400", "Declaration rejected", err.Error()))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Variable declared",
	})
}
