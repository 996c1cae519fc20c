package server

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	routedomain "github.com/smallbiznis/chainstream/internal/route/domain"
)

// QuoteRoutes compares routes for an arbitrary amount without touching the agent.
// Amount defaults to the currently accrued liabilities.
func (s *Server) QuoteRoutes(c *gin.Context) {
	amount, err := parseOptionalFloat(c.Query("amount"))
	if err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount must be a number"))
		return
	}
	req := routedomain.CompareRequest{}
	if amount != nil {
		req.Amount = *amount
	} else {
		req.Amount = s.liabilities.State().TotalCost
	}

	payer := strings.TrimSpace(c.Query("payer"))
	if payer != "" {
		if !common.IsHexAddress(payer) {
			AbortWithError(c, newValidationError("payer", "invalid_payer", "payer must be a hex address"))
			return
		}
		req.Payer = common.HexToAddress(payer).Hex()
	} else {
		req.Payer = s.agent.Snapshot().Payer
	}

	routes, err := s.routes.Compare(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"amount":           req.Amount,
			"settlement_chain": s.routes.SettlementChain(),
			"routes":           routes,
		},
	})
}
