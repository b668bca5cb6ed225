// Package service реализует бизнес-логику сервиса витрины.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/session"
	"github.com/mmeshcher/storefront-system/internal/stock"
	"github.com/mmeshcher/storefront-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверном логине или пароле.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden возвращается при попытке операции без нужной роли или владения.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidQuantity возвращается при добавлении позиции с количеством меньше единицы.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrInvalidAddress возвращается при некорректном адресе доставки.
	ErrInvalidAddress = errors.New("invalid shipping address")
	// ErrInvalidPayment возвращается при пустом описании способа оплаты.
	ErrInvalidPayment = errors.New("payment descriptor is required")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса заказа.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrOrderNotDelivered возвращается при запросе возврата по недоставленному заказу.
	ErrOrderNotDelivered = errors.New("order is not delivered")
	// ErrInvalidRefundType возвращается при неизвестном типе возврата.
	ErrInvalidRefundType = errors.New("invalid refund type")
	// ErrItemNotInOrder возвращается, если позиция возврата не принадлежит заказу.
	ErrItemNotInOrder = errors.New("order item does not belong to the order")
	// ErrInvalidProduct возвращается при создании товара с некорректными данными.
	ErrInvalidProduct = errors.New("product name and positive price are required")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.UserRole) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	CreateProduct(ctx context.Context, name string, priceCents, stock int64) (*model.Product, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	GetProductsForStockRefresh(ctx context.Context, limit int) ([]int64, error)
	UpdateProductStock(ctx context.Context, id, stock int64) error
	GetCartItems(ctx context.Context, userID int64) ([]model.CartItem, error)
	UpsertCartItem(ctx context.Context, userID, productID int64, quantity int, size, color string) (*model.CartItem, error)
	UpdateCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) (*model.CartItem, error)
	DeleteCartItem(ctx context.Context, userID, itemID int64) error
	ClearCart(ctx context.Context, userID int64) error
	CreateOrderFromCart(ctx context.Context, userID int64, address, payment, delivery string, pricing model.Pricing) (*model.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetAllOrders(ctx context.Context) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to model.OrderStatus, actor int64, note string) error
	GetOrderStatusLog(ctx context.Context, orderID int64) ([]model.StatusChange, error)
	CreateRefundRequest(ctx context.Context, req *model.RefundRequest) (*model.RefundRequest, error)
	GetRefundRequest(ctx context.Context, id int64) (*model.RefundRequest, error)
	ResolveRefundRequest(ctx context.Context, id int64, approved bool, notes string, actor int64) (*model.RefundRequest, error)
}

// Identities возвращает кешированную при входе личность пользователя.
type Identities interface {
	Identity(ctx context.Context, userID int64) (*session.Identity, error)
}

// Service содержит бизнес-логику сервиса витрины.
type Service struct {
	repo        Repository
	stockClient *stock.Client
	sessions    Identities
	pricing     model.Pricing
}

// NewService создаёт новый сервис с указанным репозиторием, клиентом системы
// остатков, хранилищем сессий и параметрами расчёта стоимости.
func NewService(repo Repository, stockClient *stock.Client, sessions Identities, pricing model.Pricing) *Service {
	return &Service{
		repo:        repo,
		stockClient: stockClient,
		sessions:    sessions,
		pricing:     pricing,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового покупателя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	return s.repo.CreateUser(ctx, login, hashed, model.RoleCustomer)
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его учётную запись.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

func (s *Service) requireAdmin(ctx context.Context, userID int64) (*model.User, error) {
	// Роль берётся из кешированной при входе личности; база опрашивается
	// только при отсутствии сессии в кеше.
	if s.sessions != nil {
		if ident, err := s.sessions.Identity(ctx, userID); err == nil {
			if ident.Role != string(model.RoleAdmin) {
				return nil, ErrForbidden
			}
			return &model.User{ID: userID, Login: ident.Login, Role: model.RoleAdmin}, nil
		}
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Role != model.RoleAdmin {
		return nil, ErrForbidden
	}
	return u, nil
}

// CreateProduct добавляет товар в каталог. Доступно только администратору.
func (s *Service) CreateProduct(ctx context.Context, actorID int64, name string, price float64, stockCount int64) (*model.Product, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if name == "" || price <= 0 {
		return nil, ErrInvalidProduct
	}

	return s.repo.CreateProduct(ctx, name, int64(math.Round(price*100)), stockCount)
}

// GetProduct возвращает товар каталога.
func (s *Service) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// GetCart возвращает корзину пользователя. Промежуточный итог вычисляется
// при каждом чтении по актуальным ценам каталога.
func (s *Service) GetCart(ctx context.Context, userID int64) (*model.Cart, error) {
	items, err := s.repo.GetCartItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.Cart{
		Items:         items,
		SubtotalCents: model.CartSubtotal(items),
	}, nil
}

// AddCartItem добавляет товар в корзину пользователя. Совпадающие товар,
// размер и цвет объединяются в одну позицию с отсечкой количества.
func (s *Service) AddCartItem(ctx context.Context, userID, productID int64, quantity int, size, color string) (*model.CartItem, error) {
	if quantity < model.MinCartQuantity {
		return nil, ErrInvalidQuantity
	}

	return s.repo.UpsertCartItem(ctx, userID, productID, validation.ClampQuantity(quantity), size, color)
}

// SetCartItemQuantity устанавливает количество позиции корзины. Нулевое или
// отрицательное количество эквивалентно удалению позиции.
func (s *Service) SetCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) (*model.CartItem, error) {
	if quantity <= 0 {
		if err := s.repo.DeleteCartItem(ctx, userID, itemID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return s.repo.UpdateCartItemQuantity(ctx, userID, itemID, validation.ClampQuantity(quantity))
}

// RemoveCartItem удаляет позицию корзины. Операция идемпотентна.
func (s *Service) RemoveCartItem(ctx context.Context, userID, itemID int64) error {
	return s.repo.DeleteCartItem(ctx, userID, itemID)
}

// ClearCart удаляет все позиции корзины пользователя.
func (s *Service) ClearCart(ctx context.Context, userID int64) error {
	return s.repo.ClearCart(ctx, userID)
}

// Checkout превращает непустую корзину пользователя в заказ со статусом pending.
func (s *Service) Checkout(ctx context.Context, userID int64, address, payment, delivery string) (*model.Order, error) {
	if !validation.IsValidAddress(address) {
		return nil, ErrInvalidAddress
	}
	if payment == "" {
		return nil, ErrInvalidPayment
	}

	return s.repo.CreateOrderFromCart(ctx, userID, address, payment, delivery, s.pricing)
}

// GetOrder возвращает заказ. Покупатель видит только собственные заказы,
// администратор — любые.
func (s *Service) GetOrder(ctx context.Context, requesterID, orderID int64) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.UserID != requesterID {
		u, err := s.repo.GetUserByID(ctx, requesterID)
		if err != nil {
			return nil, err
		}
		if u.Role != model.RoleAdmin {
			return nil, ErrForbidden
		}
	}

	return order, nil
}

// GetOrdersByUser возвращает заказы пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// GetAllOrders возвращает все заказы. Доступно только администратору.
func (s *Service) GetAllOrders(ctx context.Context, actorID int64) ([]model.Order, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.repo.GetAllOrders(ctx)
}

// UpdateOrderStatus переводит заказ в указанный статус от имени администратора.
// Переход проверяется по таблице переходов жизненного цикла заказа.
func (s *Service) UpdateOrderStatus(ctx context.Context, actorID, orderID int64, target model.OrderStatus) (*model.Order, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}

	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !model.CanTransition(order.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
	}

	if err := s.repo.UpdateOrderStatus(ctx, orderID, order.Status, target, actorID, ""); err != nil {
		return nil, err
	}

	order.Status = target
	return order, nil
}

// CancelOrder отменяет заказ от имени владельца. Покупатель может отменить
// только заказ в статусе pending или processing.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID int64, reason string) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.UserID != userID {
		return nil, ErrForbidden
	}

	if !model.CanCustomerCancel(order.Status) {
		return nil, fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, order.Status)
	}

	if err := s.repo.UpdateOrderStatus(ctx, orderID, order.Status, model.OrderStatusCancelled, userID, reason); err != nil {
		return nil, err
	}

	order.Status = model.OrderStatusCancelled
	return order, nil
}

// GetOrderStatusLog возвращает историю смен статуса заказа. Покупатель видит
// только историю собственных заказов, администратор — любых.
func (s *Service) GetOrderStatusLog(ctx context.Context, requesterID, orderID int64) ([]model.StatusChange, error) {
	if _, err := s.GetOrder(ctx, requesterID, orderID); err != nil {
		return nil, err
	}
	return s.repo.GetOrderStatusLog(ctx, orderID)
}

// RequestRefund создаёт запрос на возврат от имени владельца доставленного заказа.
// Сумма возврата вычисляется из зафиксированных в заказе цен.
func (s *Service) RequestRefund(ctx context.Context, userID, orderID int64, refundType model.RefundType, orderItemID *int64, reason string) (*model.RefundRequest, error) {
	if !refundType.Valid() {
		return nil, ErrInvalidRefundType
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.UserID != userID {
		return nil, ErrForbidden
	}

	if order.Status != model.OrderStatusDelivered {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotDelivered, order.Status)
	}

	var item *model.OrderItem
	if refundType == model.RefundTypeProduct {
		if orderItemID == nil {
			return nil, fmt.Errorf("%w: order item is required for product refund", ErrInvalidRefundType)
		}
		for i := range order.Items {
			if order.Items[i].ID == *orderItemID {
				item = &order.Items[i]
				break
			}
		}
		if item == nil {
			return nil, ErrItemNotInOrder
		}
	}

	req := &model.RefundRequest{
		OrderID:         orderID,
		OrderItemID:     orderItemID,
		Type:            refundType,
		AmountCents:     model.RefundAmount(order, refundType, item),
		OrderTotalCents: order.TotalCents,
		Reason:          reason,
		Status:          model.RefundStatusPending,
	}

	return s.repo.CreateRefundRequest(ctx, req)
}

// GetRefundRequest возвращает запрос на возврат. Покупатель видит только
// запросы по собственным заказам, администратор — любые.
func (s *Service) GetRefundRequest(ctx context.Context, requesterID, requestID int64) (*model.RefundRequest, error) {
	req, err := s.repo.GetRefundRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if order.UserID != requesterID {
		u, err := s.repo.GetUserByID(ctx, requesterID)
		if err != nil {
			return nil, err
		}
		if u.Role != model.RoleAdmin {
			return nil, ErrForbidden
		}
	}

	return req, nil
}

// ResolveRefund рассматривает запрос на возврат от имени администратора.
func (s *Service) ResolveRefund(ctx context.Context, actorID, requestID int64, approve bool, notes string) (*model.RefundRequest, error) {
	if _, err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}

	return s.repo.ResolveRefundRequest(ctx, requestID, approve, notes, actorID)
}

// StartStockUpdates запускает фоновый процесс обновления остатков из внешней
// системы учёта. Остатки влияют только на отображение товаров.
func (s *Service) StartStockUpdates(ctx context.Context) {
	if s.stockClient == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refreshStockBatch(ctx)
			}
		}
	}()
}

func (s *Service) refreshStockBatch(ctx context.Context) {
	ids, err := s.repo.GetProductsForStockRefresh(ctx, 100)
	if err != nil {
		return
	}

	for _, id := range ids {
		res, statusCode, retryAfter, err := s.stockClient.GetProductStock(ctx, id)
		if err != nil {
			continue
		}

		if statusCode == 429 {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if res == nil {
			continue
		}

		_ = s.repo.UpdateProductStock(ctx, id, res.Stock)
	}
}
