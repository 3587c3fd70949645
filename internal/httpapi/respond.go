package httpapi

import (
	"errors"
	"net/http"

	"linkboost-controlplane/pkg/errutil"
	"linkboost-controlplane/pkg/middleware"
	"linkboost-controlplane/services/payment"
	"linkboost-controlplane/services/submission"

	"github.com/gin-gonic/gin"
)

// fail hands err to the error middleware, which renders it.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func userID(c *gin.Context) string {
	return middleware.CurrentUser(c).UserID
}

// done answers a state-changing route. A request that lost a race or was
// already applied is a no-op rather than an error.
func done(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"result": "ok"})
	case submission.IsStateConflict(err), errors.Is(err, payment.ErrNotPending):
		c.JSON(http.StatusOK, gin.H{"result": "noop"})
	default:
		fail(c, err)
	}
}
