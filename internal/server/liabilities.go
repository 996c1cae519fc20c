package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type applyUsageRequest struct {
	Quantity *float64 `json:"quantity"`
}

type loadScenarioRequest struct {
	Name string `json:"name"`
}

func (s *Server) GetLiabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.liabilities.Snapshot()})
}

func (s *Server) ListCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"services":  s.liabilities.Catalog(),
			"scenarios": s.liabilities.Scenarios(),
		},
	})
}

func (s *Server) ExportLiabilities(c *gin.Context) {
	body, err := s.liabilities.ExportYAML()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="liabilities.yaml"`)
	c.Data(http.StatusOK, "application/yaml", body)
}

func (s *Server) ApplyUsage(c *gin.Context) {
	serviceID := strings.TrimSpace(c.Param("service"))
	if serviceID == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req applyUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Quantity == nil {
		AbortWithError(c, newValidationError("quantity", "required", "quantity is required"))
		return
	}

	if _, err := s.liabilities.Apply(c.Request.Context(), serviceID, *req.Quantity); err != nil {
		AbortWithError(c, err)
		return
	}
	s.repriceAgent(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"data": s.liabilities.Snapshot()})
}

func (s *Server) LoadScenario(c *gin.Context) {
	var req loadScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		AbortWithError(c, newValidationError("name", "required", "name is required"))
		return
	}

	if _, err := s.liabilities.LoadScenario(c.Request.Context(), name); err != nil {
		AbortWithError(c, err)
		return
	}
	s.repriceAgent(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"data": s.liabilities.Snapshot()})
}

func (s *Server) ResetLiabilities(c *gin.Context) {
	s.liabilities.Reset(c.Request.Context())
	s.repriceAgent(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"data": s.liabilities.Snapshot()})
}

// repriceAgent keeps routes from being executed at a total that no longer
// applies.
func (s *Server) repriceAgent(ctx context.Context) {
	if _, err := s.agent.Reprice(ctx); err != nil {
		s.log.Warn("reprice after liability change failed", zap.Error(err))
	}
}
