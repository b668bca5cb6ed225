package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/storefront-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса витрины.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.RequestID)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/logout", h.Logout)
		})
	})

	r.Route("/api/products", func(r chi.Router) {
		r.Get("/{productID}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/", h.CreateProduct)
		})
	})

	r.Route("/api/cart", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)

		r.Post("/items", h.AddCartItem)
		r.Put("/items/{itemID}", h.SetCartItemQuantity)
		r.Delete("/items/{itemID}", h.RemoveCartItem)
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/", h.Checkout)
		r.Get("/", h.GetAllOrders)
		r.Get("/user", h.GetOrders)

		r.Get("/{orderID}", h.GetOrder)
		r.Patch("/{orderID}/status", h.UpdateOrderStatus)
		r.Patch("/{orderID}/cancel", h.CancelOrder)
		r.Get("/{orderID}/log", h.GetOrderStatusLog)
	})

	r.Route("/api/refunds", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/", h.RequestRefund)
		r.Get("/{requestID}", h.GetRefundRequest)
		r.Put("/{requestID}/status", h.ResolveRefund)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
