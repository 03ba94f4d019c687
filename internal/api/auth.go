package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Role represents an authorization role.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTrainee Role = "trainee"
)

const roleKey = "drill.role"

// Credentials is one basic-auth user/password pair.
type Credentials struct {
	User string
	Pass string
}

func (c Credentials) set() bool {
	return c.User != "" && c.Pass != ""
}

// Auth checks basic-auth credentials. Authentication is enabled only when
// admin credentials are set; otherwise every caller is treated as admin.
type Auth struct {
	admin   Credentials
	trainee Credentials
}

// NewAuth creates an authenticator.
func NewAuth(admin, trainee Credentials) *Auth {
	return &Auth{admin: admin, trainee: trainee}
}

// Enabled returns true if authentication is configured.
func (a *Auth) Enabled() bool {
	return a != nil && a.admin.set()
}

// authenticate checks basic auth credentials and returns the role if valid.
// Returns empty string if credentials are invalid.
func (a *Auth) authenticate(r *http.Request) Role {
	if !a.Enabled() {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	if secureCompare(user, a.admin.User) && secureCompare(pass, a.admin.Pass) {
		return RoleAdmin
	}
	if a.trainee.set() && secureCompare(user, a.trainee.User) && secureCompare(pass, a.trainee.Pass) {
		return RoleTrainee
	}
	return ""
}

// secureCompare performs constant-time string comparison to prevent timing attacks.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Require aborts requests whose role is not one of allowed.
func (a *Auth) Require(allowed ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := a.authenticate(c.Request)
		if role == "" {
			c.Header("WWW-Authenticate", `Basic realm="drilld"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "unauthorized"))
			return
		}
		for _, r := range allowed {
			if role == r {
				c.Set(roleKey, role)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody("forbidden", "forbidden"))
	}
}

// RoleFrom returns the role set by Require.
func RoleFrom(c *gin.Context) Role {
	if v, ok := c.Get(roleKey); ok {
		if r, ok := v.(Role); ok {
			return r
		}
	}
	return ""
}
