// Package router wires handlers and guards onto echo routes.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/theatre-auth/internal/handler"
	"github.com/iliyamo/theatre-auth/internal/middleware"
	"github.com/iliyamo/theatre-auth/internal/model"
)

// Deps are the handlers and middleware the routes need.
type Deps struct {
	Auth    *handler.AuthHandler
	Signup  *handler.SignupHandler
	Users   *handler.UserHandler
	Roles   *handler.RoleHandler
	Health  *handler.Health
	Guard   middleware.Authenticator
	Service echo.MiddlewareFunc // ServiceAuth
	Limit   echo.MiddlewareFunc // NewTokenBucket
}

// RegisterRoutes exposes /healthz and the /api/v1 API.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", d.Health.Check)

	v1 := e.Group("/api/v1")
	registerAuth(v1, d)
	registerSignup(v1, d)
	registerUsers(v1, d)
	registerRoles(v1, d)
}

func registerAuth(v1 *echo.Group, d Deps) {
	g := v1.Group("/auth")
	g.POST("/login", d.Auth.Login)
	g.POST("/refresh", d.Auth.Refresh)
	g.DELETE("/logout", d.Auth.Logout)
	g.GET("/checkout", d.Auth.Checkout)

	g.GET("/oauth/:provider", d.Auth.OAuthRedirect)
	g.GET("/oauth/:provider/callback", d.Auth.OAuthCallback)
	g.POST("/oauth/unlink", d.Auth.OAuthUnlink, middleware.RequireToken(d.Guard))
}

func registerSignup(v1 *echo.Group, d Deps) {
	v1.POST("/signup", d.Signup.Register)
	v1.GET("/signup/confirm/:id", d.Signup.Confirm)
}

// The users API is rate limited and open to moderators and to allow-listed
// services.  Session history only needs a token; the handler checks that
// the caller is the user or a moderator.
func registerUsers(v1 *echo.Group, d Deps) {
	g := v1.Group("/users", d.Limit)
	g.POST("/reset-password", d.Users.RequestReset)
	g.POST("/reset-password/:token", d.Users.ConfirmReset)

	staff := []echo.MiddlewareFunc{d.Service, middleware.RequireAccess(d.Guard, model.LevelModerator, middleware.AllowServices())}
	g.GET("", d.Users.List, staff...)
	g.POST("/bulk", d.Users.Bulk, staff...)
	g.GET("/:id", d.Users.Get, staff...)
	g.GET("/:id/sessions", d.Users.ListSessions, middleware.RequireToken(d.Guard))
}

func registerRoles(v1 *echo.Group, d Deps) {
	admin := middleware.RequireAccess(d.Guard, model.LevelAdmin)

	roles := v1.Group("/roles", admin)
	roles.GET("", d.Roles.List)
	roles.POST("", d.Roles.Create)
	roles.GET("/:id", d.Roles.Get)
	roles.PATCH("/:id", d.Roles.Update)
	roles.DELETE("/:id", d.Roles.Delete)

	grants := v1.Group("/user-roles", admin)
	grants.POST("", d.Roles.Grant)
	grants.DELETE("", d.Roles.Revoke)
}
