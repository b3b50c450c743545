package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/makaronz/animatize/internal/core/domain"
	"github.com/makaronz/animatize/internal/core/ports"
	"github.com/makaronz/animatize/pkg/schema"
)

type GenerateHandler struct {
	orch ports.Orchestrator
}

func NewGenerateHandler(orch ports.Orchestrator) *GenerateHandler {
	return &GenerateHandler{orch: orch}
}

// Generate accepts a unified generation request and returns the unified
// response envelope. The HTTP status is derived from the envelope's error
// code; the body always carries the full envelope.
func (h *GenerateHandler) Generate(c *gin.Context) {
	var req schema.UnifiedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    domain.CodeInvalidRequest,
				"message": err.Error(),
			},
		})
		return
	}

	resp := h.orch.Handle(c.Request.Context(), &req)
	c.JSON(statusFor(resp), resp)
}

func statusFor(resp *schema.UnifiedResponse) int {
	if resp == nil {
		return http.StatusInternalServerError
	}
	if resp.Status == schema.StatusSuccess {
		return http.StatusOK
	}
	if resp.Error == nil {
		return http.StatusInternalServerError
	}
	switch domain.Code(resp.Error.Code) {
	case domain.CodeInvalidRequest, domain.CodeInvalidModel, domain.CodeUnsupportedVersion:
		return http.StatusBadRequest
	case domain.CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case domain.CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case domain.CodeContentPolicyViolation:
		return http.StatusUnprocessableEntity
	case domain.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeNetworkError, domain.CodeProviderError:
		return http.StatusBadGateway
	case domain.CodeNoProviderAvailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
