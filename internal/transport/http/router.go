package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/admosplace/food_ordering/internal/handlers"
)

type Deps struct {
	MenuHandler     *handlers.MenuHandler
	CartHandler     *handlers.CartHandler
	CheckoutHandler *handlers.CheckoutHandler
	OrderHandler    *handlers.OrderHandler
	AdminHandler    *handlers.AdminHandler
	SearchHandler   *handlers.SearchHandler
	JWTSecret       []byte
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	v1 := e.Group("/api/v1")

	v1.GET("/search", d.SearchHandler.Search)

	menu := v1.Group("/menu")
	menu.GET("/items", d.MenuHandler.GetItems)
	menu.GET("/items/:id", d.MenuHandler.GetItem)
	menu.GET("/categories", d.MenuHandler.GetCategories)
	menu.GET("/settings", d.MenuHandler.GetSettings)

	cart := v1.Group("/cart")
	cart.GET("", d.CartHandler.GetCart)
	cart.POST("/items", d.CartHandler.AddItem)
	cart.PATCH("/items/:id", d.CartHandler.UpdateQuantity)
	cart.DELETE("/items/:id", d.CartHandler.RemoveItem)
	cart.DELETE("", d.CartHandler.ClearCart)
	cart.POST("/bags", d.CartHandler.CreateBag)
	cart.POST("/bags/:id/switch", d.CartHandler.SwitchBag)
	cart.DELETE("/bags/:id", d.CartHandler.DeleteBag)

	checkout := v1.Group("/checkout")
	checkout.POST("/delivery-fee", d.CheckoutHandler.DeliveryFee)
	checkout.POST("/quote", d.CheckoutHandler.Quote)
	checkout.POST("/initialize", d.CheckoutHandler.Initialize)

	payments := v1.Group("/payments")
	payments.GET("/callback", d.CheckoutHandler.Callback)
	payments.POST("/callback", d.CheckoutHandler.Callback)
	payments.POST("/webhook", d.CheckoutHandler.Webhook)
	payments.POST("/verify/:reference", d.CheckoutHandler.Verify)

	orders := v1.Group("/orders")
	orders.GET("", d.OrderHandler.History)
	orders.GET("/:id", d.OrderHandler.Track)

	admin := v1.Group("/admin", handlers.RequireAdmin(d.JWTSecret))
	admin.POST("/menu/items", d.MenuHandler.CreateItem)
	admin.PATCH("/menu/items/:id", d.MenuHandler.PatchItem)
	admin.DELETE("/menu/items/:id", d.MenuHandler.DeleteItem)
	admin.POST("/menu/items/:id/restock", d.MenuHandler.Restock)
	admin.POST("/menu/items/:id/out-of-stock", d.MenuHandler.MarkOutOfStock)
	admin.POST("/menu/categories", d.MenuHandler.CreateCategory)
	admin.PATCH("/settings", d.MenuHandler.UpdateSetting)

	admin.GET("/dashboard", d.AdminHandler.Stats)
	admin.GET("/dashboard/top-customers", d.AdminHandler.TopCustomers)
	admin.GET("/dashboard/recent-orders", d.AdminHandler.RecentOrders)
	admin.GET("/orders/:id", d.AdminHandler.GetOrder)
	admin.POST("/orders/:id/status", d.AdminHandler.AdvanceOrder)
	admin.GET("/notifications", d.AdminHandler.Notifications)
	admin.POST("/notifications/:id/seen", d.AdminHandler.MarkNotificationSeen)

	admin.GET("/consistency/audit", d.AdminHandler.AuditConsistency)
	admin.POST("/consistency/fix-payments", d.AdminHandler.FixPayments)
	admin.POST("/consistency/sweep-pending", d.AdminHandler.SweepPending)
}
