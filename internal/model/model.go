// Package model содержит доменные сущности витрины магазина.
package model

import (
	"math"
	"time"
)

// UserRole описывает роль пользователя в системе.
type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleAdmin    UserRole = "admin"
)

// User представляет зарегистрированного пользователя магазина.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         UserRole
	CreatedAt    time.Time
}

// Product описывает товар каталога.
type Product struct {
	ID         int64
	Name       string
	PriceCents int64
	Stock      int64
	CreatedAt  time.Time
}

// Границы количества одной позиции корзины.
const (
	MinCartQuantity = 1
	MaxCartQuantity = 10
)

// CartItem описывает позицию корзины. Цена берётся из каталога на момент
// чтения корзины, а не на момент добавления позиции.
type CartItem struct {
	ID         int64
	ProductID  int64
	Quantity   int
	Size       string
	Color      string
	PriceCents int64
	AddedAt    time.Time
}

// Cart содержит позиции корзины пользователя и производный промежуточный итог.
type Cart struct {
	Items         []CartItem
	SubtotalCents int64
}

// CartSubtotal вычисляет промежуточный итог корзины.
func CartSubtotal(items []CartItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.PriceCents * int64(it.Quantity)
	}
	return sum
}

// OrderStatus описывает статус жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// orderTransitions задаёт допустимые переходы статусов. Администратор может
// переводить заказ между нетерминальными статусами в любом порядке, в том
// числе назад; из терминального статуса существует единственный выход
// delivered -> refunded.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusPending, OrderStatusProcessing, OrderStatusConfirmed, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  {OrderStatusRefunded},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// Valid сообщает, известен ли статус заказа.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal сообщает, является ли статус терминальным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanTransition проверяет переход статуса по таблице переходов.
func CanTransition(from, to OrderStatus) bool {
	for _, t := range orderTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CanCustomerCancel сообщает, может ли покупатель отменить заказ в данном статусе.
func CanCustomerCancel(s OrderStatus) bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// OrderItem описывает позицию заказа. Цена фиксируется в момент оформления
// и не меняется при последующих изменениях каталога.
type OrderItem struct {
	ID             int64
	OrderID        int64
	ProductID      int64
	Name           string
	Quantity       int
	UnitPriceCents int64
	Size           string
	Color          string
}

// OrderSubtotal вычисляет промежуточный итог заказа по его позициям.
func OrderSubtotal(items []OrderItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.UnitPriceCents * int64(it.Quantity)
	}
	return sum
}

// Order описывает заказ пользователя.
type Order struct {
	ID                int64
	UserID            int64
	Items             []OrderItem
	SubtotalCents     int64
	ShippingCents     int64
	TaxCents          int64
	TotalCents        int64
	Status            OrderStatus
	ShippingAddress   string
	PaymentDescriptor string
	DeliveryMethod    string
	CreatedAt         time.Time
}

// Pricing содержит параметры расчёта стоимости заказа.
type Pricing struct {
	ShippingFeeCents           int64
	FreeShippingThresholdCents int64
	TaxRate                    float64
}

// Shipping возвращает стоимость доставки: фиксированная ставка ниже порога,
// ноль при достижении порога бесплатной доставки.
func (p Pricing) Shipping(subtotalCents int64) int64 {
	if subtotalCents >= p.FreeShippingThresholdCents {
		return 0
	}
	return p.ShippingFeeCents
}

// Tax возвращает налог по фиксированной ставке от промежуточного итога.
func (p Pricing) Tax(subtotalCents int64) int64 {
	return int64(math.Round(float64(subtotalCents) * p.TaxRate))
}

// StatusChange описывает запись журнала переходов статуса заказа.
type StatusChange struct {
	OrderID int64
	From    OrderStatus
	To      OrderStatus
	Actor   int64
	Note    string
	At      time.Time
}

// RefundType описывает объём запроса на возврат: весь заказ или одна позиция.
type RefundType string

const (
	RefundTypeOrder   RefundType = "order"
	RefundTypeProduct RefundType = "product"
)

// Valid сообщает, известен ли тип возврата.
func (t RefundType) Valid() bool {
	return t == RefundTypeOrder || t == RefundTypeProduct
}

// RefundStatus описывает статус запроса на возврат.
type RefundStatus string

const (
	RefundStatusPending  RefundStatus = "pending"
	RefundStatusApproved RefundStatus = "approved"
	RefundStatusRejected RefundStatus = "rejected"
)

// RefundRequest описывает запрос покупателя на возврат средств.
type RefundRequest struct {
	ID              int64
	OrderID         int64
	OrderItemID     *int64
	Type            RefundType
	AmountCents     int64
	OrderTotalCents int64
	Reason          string
	Status          RefundStatus
	AdminNotes      string
	RequestedAt     time.Time
	ResolvedAt      *time.Time
}

// RefundAmount вычисляет сумму возврата: полная стоимость заказа для возврата
// заказа целиком либо стоимость одной позиции для точечного возврата.
func RefundAmount(order *Order, refundType RefundType, item *OrderItem) int64 {
	if refundType == RefundTypeProduct && item != nil {
		return item.UnitPriceCents * int64(item.Quantity)
	}
	return order.TotalCents
}
