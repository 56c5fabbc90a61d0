package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/weallnet/weall/content"
	"github.com/weallnet/weall/dispute"
	"github.com/weallnet/weall/identity"
	"github.com/weallnet/weall/proposal"
	"github.com/weallnet/weall/rules"
	"github.com/weallnet/weall/treasury"
	"github.com/weallnet/weall/voting"
)

type actionRequest struct {
	Action string       `json:"action" binding:"required"`
	Params rules.Params `json:"params"`
}

func registerRoutes(r gin.IRouter, interp *rules.Interpreter) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	r.POST("/v1/actions", func(c *gin.Context) {
		var req actionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := interp.Apply(req.Action, req.Params)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": result})
	})
	r.GET("/v1/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, interp.Snapshot())
	})
	r.GET("/v1/events", func(c *gin.Context) {
		count, _ := strconv.Atoi(c.DefaultQuery("count", "0"))
		c.JSON(http.StatusOK, interp.Events(count))
	})
}

// statusFor maps the engine's typed failures onto HTTP statuses. Every
// failure is recoverable at this boundary; nothing here aborts the
// process.
func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrUnknownIdentity),
		errors.Is(err, proposal.ErrUnknownProposal),
		errors.Is(err, dispute.ErrUnknownDispute),
		errors.Is(err, content.ErrUnknownContent):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrDuplicateIdentity),
		errors.Is(err, treasury.ErrInsufficientFunds),
		errors.Is(err, proposal.ErrVotingClosed),
		errors.Is(err, proposal.ErrNotPassed),
		errors.Is(err, dispute.ErrJuryAlreadySelected),
		errors.Is(err, dispute.ErrNotAJuror),
		errors.Is(err, dispute.ErrDisputeClosed):
		return http.StatusConflict
	case errors.Is(err, treasury.ErrInvalidAmount),
		errors.Is(err, voting.ErrInvalidChoice),
		errors.Is(err, rules.ErrUnknownAction),
		errors.Is(err, rules.ErrRuleViolation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
