package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/handlers"
	"example.com/backstage/services/provenance/internal/auth"
)

// verify returns the batch and its full timeline. With ?audit=true every
// event hash is recomputed and a mismatch fails the request.
func (s *Server) verify(c *gin.Context) {
	ctx := c.Request.Context()
	batchID := c.Param("id")

	audit, _ := strconv.ParseBool(c.Query("audit"))
	if !audit {
		result, err := s.services.Verifier.Verify(ctx, batchID)
		if err != nil {
			WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	result, err := s.services.Verifier.Audit(ctx, batchID)
	if err != nil && result == nil {
		WriteError(c, err)
		return
	}
	if err != nil {
		var details interface{} = err.Error()
		var mismatch *domain.HashMismatchError
		if errors.As(err, &mismatch) {
			details = mismatch
		}
		c.AbortWithStatusJSON(ErrHashMismatch.StatusCode, gin.H{
			"message":      ErrHashMismatch.Message,
			"code":         ErrHashMismatch.Code,
			"details":      details,
			"verification": result,
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// scan decodes a QR payload into an event draft. Logging the draft needs
// an authenticated caller, who becomes loggedBy.
func (s *Server) scan(c *gin.Context) {
	var cmd handlers.ScanCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		WriteError(c, NewValidationError(err.Error()))
		return
	}

	ctx := c.Request.Context()
	if cmd.Log {
		principal, err := resolvePrincipal(c, s.cfg.Auth, s.services.Auth)
		if err != nil {
			WriteError(c, err)
			return
		}
		cmd.LoggedBy = principal.ID
		ctx = auth.WithPrincipal(ctx, principal)
	} else {
		cmd.LoggedBy = ""
	}

	result, err := s.services.Scans.HandleScan(ctx, cmd)
	if err != nil {
		WriteError(c, err)
		return
	}

	status := http.StatusOK
	if result.Event != nil {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}
