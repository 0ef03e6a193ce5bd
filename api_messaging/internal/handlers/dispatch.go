package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"frameworks/api_messaging/internal/dispatch"
)

// DispatchMessage handles POST /messages/dispatch. The billing result is
// returned on success and alongside the error otherwise.
func DispatchMessage(c *gin.Context) {
	var req dispatch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res, err := orchestrator.Dispatch(c.Request.Context(), req)
	if err != nil {
		// Keep a nil *Result out of the interface so "result" is omitted.
		if res != nil {
			respondError(c, err, res)
		} else {
			respondError(c, err, nil)
		}
		return
	}
	c.JSON(http.StatusOK, res)
}
