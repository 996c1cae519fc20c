package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/chainstream/internal/payment/domain"
	paymentservice "github.com/smallbiznis/chainstream/internal/payment/service"
	routedomain "github.com/smallbiznis/chainstream/internal/route/domain"
	"go.uber.org/zap"
)

type setPayerRequest struct {
	Address  string               `json:"address"`
	Balances routedomain.Balances `json:"balances"`
}

type selectRouteRequest struct {
	RouteID string `json:"route_id"`
}

type agentResponse struct {
	paymentdomain.Snapshot
	SavingsUSD float64 `json:"savings_usd"`
}

func newAgentResponse(snapshot paymentdomain.Snapshot) agentResponse {
	resp := agentResponse{Snapshot: snapshot}
	if selected, ok := snapshot.SelectedRoute(); ok {
		resp.SavingsUSD = paymentservice.Savings(snapshot.Routes, selected)
	}
	return resp
}

func (s *Server) GetAgent(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": newAgentResponse(s.agent.Snapshot())})
}

// SetPayer connects or clears the payer and immediately re-evaluates the threshold.
func (s *Server) SetPayer(c *gin.Context) {
	var req setPayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	snapshot, err := s.agent.SetPayer(ctx, strings.TrimSpace(req.Address), req.Balances)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if snapshot.Payer != "" {
		evaluated, err := s.agent.Evaluate(ctx)
		if err != nil {
			s.log.Warn("evaluate after payer change failed", zap.Error(err))
		} else {
			snapshot = evaluated
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": newAgentResponse(snapshot)})
}

func (s *Server) FindRoutes(c *gin.Context) {
	snapshot, err := s.agent.FindRoutes(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newAgentResponse(snapshot)})
}

func (s *Server) SelectRoute(c *gin.Context) {
	var req selectRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	routeID := strings.TrimSpace(req.RouteID)
	if routeID == "" {
		AbortWithError(c, newValidationError("route_id", "required", "route_id is required"))
		return
	}

	snapshot, err := s.agent.SelectRoute(c.Request.Context(), routeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newAgentResponse(snapshot)})
}

// ExecutePayment answers with the pending record; the outcome arrives on /v1/events.
func (s *Server) ExecutePayment(c *gin.Context) {
	record, err := s.agent.ExecuteAsync(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": record})
}

func (s *Server) CancelPayment(c *gin.Context) {
	if err := s.agent.Cancel(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newAgentResponse(s.agent.Snapshot())})
}

func (s *Server) AbandonRoutes(c *gin.Context) {
	snapshot, err := s.agent.Abandon(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newAgentResponse(snapshot)})
}
