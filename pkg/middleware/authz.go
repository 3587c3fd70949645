package middleware

import (
	"linkboost-controlplane/pkg/config"
	"linkboost-controlplane/pkg/errutil"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// NewEnforcer builds the RBAC enforcer guarding admin routes. The configured
// admin role may call every /v1/admin endpoint.
func NewEnforcer(cfg *config.Config) (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	adminRole := cfg.AccessControl.AdminRole
	if adminRole == "" {
		adminRole = "admin"
	}
	if _, err := e.AddPolicy(adminRole, "/v1/admin/*", "*"); err != nil {
		return nil, err
	}

	return e, nil
}

// Authorize must run after Identity.
func Authorize(e *casbin.Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := CurrentUser(c)
		ok, err := e.Enforce(p.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			zap.L().Error("authorization check failed", zap.String("user_id", p.UserID), zap.Error(err))
			_ = c.Error(errutil.Internal("authorization check failed", err))
			c.Abort()
			return
		}
		if !ok {
			_ = c.Error(errutil.Forbidden("insufficient role", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
