package middleware

import (
	"context"
	"strings"

	"linkboost-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Identity headers are set by the upstream auth gateway and trusted as-is.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type identityKey struct{}

type Principal struct {
	UserID string
	Role   string
}

// Identity requires X-User-ID and stores the caller on both the gin and the request context.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			_ = c.Error(errutil.Unauthorized("missing user identity", nil))
			c.Abort()
			return
		}

		p := Principal{
			UserID: userID,
			Role:   strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole))),
		}
		c.Set(HeaderUserID, p)
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, identityKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(identityKey{}).(Principal)
	return p, ok
}

// CurrentUser returns the caller set by Identity, or the zero Principal.
func CurrentUser(c *gin.Context) Principal {
	if v, ok := c.Get(HeaderUserID); ok {
		if p, ok := v.(Principal); ok {
			return p
		}
	}
	return Principal{}
}
