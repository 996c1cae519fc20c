package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListTransactions(c *gin.Context) {
	records := s.ledger.List(c.Request.Context())

	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil || (limit != nil && *limit <= 0) {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
		return
	}
	if limit != nil && *limit < len(records) {
		records = records[:*limit]
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) GetTransaction(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	record, ok := s.ledger.Get(c.Request.Context(), id)
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ClearTransactions(c *gin.Context) {
	if err := s.ledger.Clear(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
