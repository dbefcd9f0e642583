package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Simumatik/simumatik-driver-manager/internal/types"
)

// GET /api/v1/status
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.Status())
}

// GET /api/v1/drivers
func (s *Server) listDrivers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"drivers": s.mgr.Drivers(),
	})
}

// GET /api/v1/drivers/:name
func (s *Server) getDriver(c *gin.Context) {
	detail, err := s.mgr.Driver(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("DRIVER_404", "Driver not found", err.Error()))
		return
	}
	c.JSON(http.StatusOK, detail)
}
