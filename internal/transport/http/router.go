package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/avdonin/webmarket/internal/auth"
	"github.com/avdonin/webmarket/internal/handlers"
	mw "github.com/avdonin/webmarket/internal/middleware"
)

type Deps struct {
	AuthService  *auth.Service
	AuthHandler  *handlers.AuthHandler
	OrderHandler *handlers.OrderHandler
	Resolver     mw.Config
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	v1 := e.Group("/api/v1")

	v1.POST("/register", d.AuthHandler.Register)
	v1.POST("/login", d.AuthHandler.LoginJWT)
	v1.POST("/login/session", d.AuthHandler.LoginSession)
	v1.POST("/refresh", d.AuthHandler.Refresh)
	v1.POST("/logout", d.AuthHandler.Logout)

	resolved := v1.Group("", mw.ResolveIdentity(d.AuthService, d.Resolver))
	resolved.GET("/me", d.AuthHandler.Me)

	orders := v1.Group("/orders", mw.ResolveIdentity(d.AuthService, d.Resolver), mw.RequireAuthenticated)
	orders.POST("", d.OrderHandler.CreateOrder)
	orders.GET("", d.OrderHandler.ListOrders)

	products := v1.Group("/products")
	products.GET("", d.OrderHandler.ListProducts)
	products.GET("/:id", d.OrderHandler.GetProduct)

	// Machine-only surface: bearer token mandatory, no cookie fallback.
	admin := v1.Group("/admin", mw.RequireBearer(d.AuthService, true), mw.RequireRole("admin"))
	admin.POST("/products", d.OrderHandler.CreateProduct)
}
