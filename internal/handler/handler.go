// Package handler содержит HTTP-обработчики API сервиса витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-system/internal/middleware"
	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/service"
	"github.com/mmeshcher/storefront-system/internal/session"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	CreateProduct(ctx context.Context, actorID int64, name string, price float64, stockCount int64) (*model.Product, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	GetCart(ctx context.Context, userID int64) (*model.Cart, error)
	AddCartItem(ctx context.Context, userID, productID int64, quantity int, size, color string) (*model.CartItem, error)
	SetCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) (*model.CartItem, error)
	RemoveCartItem(ctx context.Context, userID, itemID int64) error
	ClearCart(ctx context.Context, userID int64) error
	Checkout(ctx context.Context, userID int64, address, payment, delivery string) (*model.Order, error)
	GetOrder(ctx context.Context, requesterID, orderID int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetAllOrders(ctx context.Context, actorID int64) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, actorID, orderID int64, target model.OrderStatus) (*model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID int64, reason string) (*model.Order, error)
	GetOrderStatusLog(ctx context.Context, requesterID, orderID int64) ([]model.StatusChange, error)
	RequestRefund(ctx context.Context, userID, orderID int64, refundType model.RefundType, orderItemID *int64, reason string) (*model.RefundRequest, error)
	GetRefundRequest(ctx context.Context, requesterID, requestID int64) (*model.RefundRequest, error)
	ResolveRefund(ctx context.Context, actorID, requestID int64, approve bool, notes string) (*model.RefundRequest, error)
}

// Sessions определяет контракт хранилища сессий, используемого обработчиками
// входа и выхода.
type Sessions interface {
	Save(ctx context.Context, userID int64, token string, ident session.Identity, ttl time.Duration) error
	Clear(ctx context.Context, userID int64) error
}

// Handler реализует HTTP-обработчики API сервиса витрины.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	sessions       Sessions
	sessionTTL     time.Duration
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, sessions Sessions, sessionTTL time.Duration) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		sessions:       sessions,
		sessionTTL:     sessionTTL,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("write response error", zap.Error(err))
	}
}

func urlParamInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request, userID int64, login string, role model.UserRole) {
	token, err := h.authMiddleware.IssueToken(userID)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	ident := session.Identity{Login: login, Role: string(role)}
	if err := h.sessions.Save(r.Context(), userID, token, ident, h.sessionTTL); err != nil {
		h.logger.Error("save session error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Authorization", "Bearer "+token)
	h.writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// Register обрабатывает регистрацию нового покупателя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.issueSession(w, r, userID, req.Login, model.RoleCustomer)
}

// Login выполняет аутентификацию пользователя и выдачу токена.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.issueSession(w, r, u.ID, u.Login, u.Role)
}

// Logout завершает сессию текущего пользователя, удаляя серверную пару
// токен/идентичность.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.sessions.Clear(r.Context(), userID); err != nil {
		h.logger.Error("logout error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type productRequest struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int64   `json:"stock"`
}

type productResponse struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int64   `json:"stock"`
}

func toProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:    p.ID,
		Name:  p.Name,
		Price: float64(p.PriceCents) / 100,
		Stock: p.Stock,
	}
}

// CreateProduct добавляет товар в каталог от имени администратора.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.CreateProduct(r.Context(), userID, req.Name, req.Price, req.Stock)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, service.ErrInvalidProduct):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("create product error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, toProductResponse(p))
}

// GetProduct возвращает товар каталога. Доступно без аутентификации.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := urlParamInt64(r, "productID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.GetProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("get product error", zap.Error(err), zap.Int64("productID", productID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toProductResponse(p))
}

type cartItemResponse struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Size      string  `json:"size,omitempty"`
	Color     string  `json:"color,omitempty"`
	Price     float64 `json:"price"`
	AddedAt   string  `json:"added_at"`
}

type cartResponse struct {
	Items    []cartItemResponse `json:"items"`
	Subtotal float64            `json:"subtotal"`
}

func toCartItemResponse(it *model.CartItem) cartItemResponse {
	return cartItemResponse{
		ID:        it.ID,
		ProductID: it.ProductID,
		Quantity:  it.Quantity,
		Size:      it.Size,
		Color:     it.Color,
		Price:     float64(it.PriceCents) / 100,
		AddedAt:   it.AddedAt.Format(time.RFC3339),
	}
}

// GetCart возвращает корзину текущего пользователя с промежуточным итогом.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	cart, err := h.service.GetCart(r.Context(), userID)
	if err != nil {
		h.logger.Error("get cart error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := cartResponse{
		Items:    make([]cartItemResponse, 0, len(cart.Items)),
		Subtotal: float64(cart.SubtotalCents) / 100,
	}
	for i := range cart.Items {
		resp.Items = append(resp.Items, toCartItemResponse(&cart.Items[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type addCartItemRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

// AddCartItem добавляет товар в корзину текущего пользователя.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req addCartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.AddCartItem(r.Context(), userID, req.ProductID, req.Quantity, req.Size, req.Color)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidQuantity):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrProductNotFound):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("add cart item error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toCartItemResponse(item))
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// SetCartItemQuantity устанавливает количество позиции корзины. Нулевое
// количество удаляет позицию.
func (h *Handler) SetCartItemQuantity(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	itemID, err := urlParamInt64(r, "itemID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.SetCartItemQuantity(r.Context(), userID, itemID, req.Quantity)
	if err != nil {
		if errors.Is(err, repository.ErrCartItemNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("set cart quantity error", zap.Error(err), zap.Int64("userID", userID), zap.Int64("itemID", itemID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if item == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, toCartItemResponse(item))
}

// RemoveCartItem удаляет позицию корзины. Операция идемпотентна.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	itemID, err := urlParamInt64(r, "itemID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveCartItem(r.Context(), userID, itemID); err != nil {
		h.logger.Error("remove cart item error", zap.Error(err), zap.Int64("userID", userID), zap.Int64("itemID", itemID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClearCart удаляет все позиции корзины текущего пользователя.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.ClearCart(r.Context(), userID); err != nil {
		h.logger.Error("clear cart error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type checkoutRequest struct {
	ShippingAddress   string `json:"shipping_address"`
	PaymentDescriptor string `json:"payment_descriptor"`
	DeliveryMethod    string `json:"delivery_method"`
}

type orderItemResponse struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Size      string  `json:"size,omitempty"`
	Color     string  `json:"color,omitempty"`
}

type orderResponse struct {
	ID                int64               `json:"id"`
	Items             []orderItemResponse `json:"items,omitempty"`
	Subtotal          float64             `json:"subtotal"`
	Shipping          float64             `json:"shipping"`
	Tax               float64             `json:"tax"`
	Total             float64             `json:"total"`
	Status            string              `json:"status"`
	ShippingAddress   string              `json:"shipping_address"`
	PaymentDescriptor string              `json:"payment_descriptor"`
	DeliveryMethod    string              `json:"delivery_method,omitempty"`
	CreatedAt         string              `json:"created_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:                o.ID,
		Subtotal:          float64(o.SubtotalCents) / 100,
		Shipping:          float64(o.ShippingCents) / 100,
		Tax:               float64(o.TaxCents) / 100,
		Total:             float64(o.TotalCents) / 100,
		Status:            string(o.Status),
		ShippingAddress:   o.ShippingAddress,
		PaymentDescriptor: o.PaymentDescriptor,
		DeliveryMethod:    o.DeliveryMethod,
		CreatedAt:         o.CreatedAt.Format(time.RFC3339),
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: float64(it.UnitPriceCents) / 100,
			Size:      it.Size,
			Color:     it.Color,
		})
	}
	return resp
}

// Checkout оформляет заказ из корзины текущего пользователя.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.Checkout(r.Context(), userID, req.ShippingAddress, req.PaymentDescriptor, req.DeliveryMethod)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAddress), errors.Is(err, service.ErrInvalidPayment):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrEmptyCart):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("checkout error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) writeOrderList(w http.ResponseWriter, orders []model.Order) {
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeOrderList(w, orders)
}

// GetAllOrders возвращает все заказы магазина от имени администратора.
func (h *Handler) GetAllOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetAllOrders(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrForbidden) {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		h.logger.Error("get all orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeOrderList(w, orders)
}

// GetOrder возвращает один заказ владельцу или администратору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID, err := urlParamInt64(r, "orderID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(r.Context(), userID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrForbidden):
			http.Error(w, err.Error(), http.StatusForbidden)
		default:
			h.logger.Error("get order error", zap.Error(err), zap.Int64("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в новый статус от имени администратора.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID, err := urlParamInt64(r, "orderID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.UpdateOrderStatus(r.Context(), userID, orderID, model.OrderStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, repository.ErrStatusConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("update order status error", zap.Error(err), zap.Int64("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder отменяет заказ от имени владельца.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID, err := urlParamInt64(r, "orderID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.CancelOrder(r.Context(), userID, orderID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrForbidden):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, repository.ErrStatusConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("cancel order error", zap.Error(err), zap.Int64("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type statusChangeResponse struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Actor int64  `json:"actor"`
	Note  string `json:"note,omitempty"`
	At    string `json:"at"`
}

// GetOrderStatusLog возвращает историю смен статуса заказа.
func (h *Handler) GetOrderStatusLog(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orderID, err := urlParamInt64(r, "orderID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	log, err := h.service.GetOrderStatusLog(r.Context(), userID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrForbidden):
			http.Error(w, err.Error(), http.StatusForbidden)
		default:
			h.logger.Error("get status log error", zap.Error(err), zap.Int64("orderID", orderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	resp := make([]statusChangeResponse, 0, len(log))
	for _, c := range log {
		resp = append(resp, statusChangeResponse{
			From:  string(c.From),
			To:    string(c.To),
			Actor: c.Actor,
			Note:  c.Note,
			At:    c.At.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type refundRequestBody struct {
	OrderID     int64  `json:"order_id"`
	Type        string `json:"type"`
	OrderItemID *int64 `json:"order_item_id,omitempty"`
	Reason      string `json:"reason"`
}

type refundResponse struct {
	ID          int64   `json:"id"`
	OrderID     int64   `json:"order_id"`
	OrderItemID *int64  `json:"order_item_id,omitempty"`
	Type        string  `json:"type"`
	Amount      float64 `json:"amount"`
	OrderTotal  float64 `json:"order_total"`
	Reason      string  `json:"reason"`
	Status      string  `json:"status"`
	AdminNotes  string  `json:"admin_notes,omitempty"`
	RequestedAt string  `json:"requested_at"`
	ResolvedAt  *string `json:"resolved_at,omitempty"`
}

func toRefundResponse(req *model.RefundRequest) refundResponse {
	resp := refundResponse{
		ID:          req.ID,
		OrderID:     req.OrderID,
		OrderItemID: req.OrderItemID,
		Type:        string(req.Type),
		Amount:      float64(req.AmountCents) / 100,
		OrderTotal:  float64(req.OrderTotalCents) / 100,
		Reason:      req.Reason,
		Status:      string(req.Status),
		AdminNotes:  req.AdminNotes,
		RequestedAt: req.RequestedAt.Format(time.RFC3339),
	}
	if req.ResolvedAt != nil {
		resolved := req.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &resolved
	}
	return resp
}

// RequestRefund создаёт запрос на возврат по доставленному заказу.
func (h *Handler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var body refundRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req, err := h.service.RequestRefund(r.Context(), userID, body.OrderID, model.RefundType(body.Type), body.OrderItemID, body.Reason)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRefundType):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrForbidden):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, service.ErrOrderNotDelivered):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, service.ErrItemNotInOrder):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			h.logger.Error("request refund error", zap.Error(err), zap.Int64("orderID", body.OrderID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, toRefundResponse(req))
}

// GetRefundRequest возвращает запрос на возврат владельцу заказа или администратору.
func (h *Handler) GetRefundRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	requestID, err := urlParamInt64(r, "requestID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req, err := h.service.GetRefundRequest(r.Context(), userID, requestID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRefundNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, service.ErrForbidden):
			http.Error(w, err.Error(), http.StatusForbidden)
		default:
			h.logger.Error("get refund error", zap.Error(err), zap.Int64("requestID", requestID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toRefundResponse(req))
}

type resolveRefundRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// ResolveRefund рассматривает запрос на возврат от имени администратора.
func (h *Handler) ResolveRefund(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	requestID, err := urlParamInt64(r, "requestID")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var body resolveRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var approve bool
	switch model.RefundStatus(body.Status) {
	case model.RefundStatusApproved:
		approve = true
	case model.RefundStatusRejected:
		approve = false
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req, err := h.service.ResolveRefund(r.Context(), userID, requestID, approve, body.Notes)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, repository.ErrRefundNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, repository.ErrRefundResolved), errors.Is(err, repository.ErrStatusConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("resolve refund error", zap.Error(err), zap.Int64("requestID", requestID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toRefundResponse(req))
}
