package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/storefront-system/internal/model"
	"github.com/mmeshcher/storefront-system/internal/repository"
	"github.com/mmeshcher/storefront-system/internal/session"
)

type stubRepo struct {
	createUserID  int64
	createUserErr error

	getUser    *model.User
	getUserErr error

	userByID    *model.User
	userByIDErr error

	product           *model.Product
	productErr        error
	createdPriceCents int64

	cartItems    []model.CartItem
	cartItemsErr error

	upsertedItem   *model.CartItem
	upsertErr      error
	updatedItem    *model.CartItem
	updateErr      error
	deletedItemID  int64
	deleteCalled   bool
	clearCalled    bool

	checkoutOrder *model.Order
	checkoutErr   error

	order    *model.Order
	orderErr error

	orders    []model.Order
	ordersErr error

	statusUpdates []model.StatusChange
	statusErr     error

	refundRequest *model.RefundRequest
	refundErr     error

	resolvedRequest *model.RefundRequest
	resolveErr      error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.UserRole) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.userByID, s.userByIDErr
}

func (s *stubRepo) CreateProduct(ctx context.Context, name string, priceCents, stock int64) (*model.Product, error) {
	s.createdPriceCents = priceCents
	return s.product, s.productErr
}

func (s *stubRepo) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.product, s.productErr
}

func (s *stubRepo) GetProductsForStockRefresh(ctx context.Context, limit int) ([]int64, error) {
	return nil, nil
}

func (s *stubRepo) UpdateProductStock(ctx context.Context, id, stock int64) error {
	return nil
}

func (s *stubRepo) GetCartItems(ctx context.Context, userID int64) ([]model.CartItem, error) {
	return s.cartItems, s.cartItemsErr
}

func (s *stubRepo) UpsertCartItem(ctx context.Context, userID, productID int64, quantity int, size, color string) (*model.CartItem, error) {
	return s.upsertedItem, s.upsertErr
}

func (s *stubRepo) UpdateCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) (*model.CartItem, error) {
	return s.updatedItem, s.updateErr
}

func (s *stubRepo) DeleteCartItem(ctx context.Context, userID, itemID int64) error {
	s.deleteCalled = true
	s.deletedItemID = itemID
	return nil
}

func (s *stubRepo) ClearCart(ctx context.Context, userID int64) error {
	s.clearCalled = true
	return nil
}

func (s *stubRepo) CreateOrderFromCart(ctx context.Context, userID int64, address, payment, delivery string, pricing model.Pricing) (*model.Order, error) {
	return s.checkoutOrder, s.checkoutErr
}

func (s *stubRepo) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	return s.order, s.orderErr
}

func (s *stubRepo) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.orders, s.ordersErr
}

func (s *stubRepo) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	return s.orders, s.ordersErr
}

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, orderID int64, from, to model.OrderStatus, actor int64, note string) error {
	if s.statusErr != nil {
		return s.statusErr
	}
	s.statusUpdates = append(s.statusUpdates, model.StatusChange{OrderID: orderID, From: from, To: to, Actor: actor, Note: note})
	return nil
}

func (s *stubRepo) GetOrderStatusLog(ctx context.Context, orderID int64) ([]model.StatusChange, error) {
	return s.statusUpdates, nil
}

func (s *stubRepo) CreateRefundRequest(ctx context.Context, req *model.RefundRequest) (*model.RefundRequest, error) {
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	req.ID = 1
	req.RequestedAt = time.Now()
	return req, nil
}

func (s *stubRepo) GetRefundRequest(ctx context.Context, id int64) (*model.RefundRequest, error) {
	return s.refundRequest, s.refundErr
}

func (s *stubRepo) ResolveRefundRequest(ctx context.Context, id int64, approved bool, notes string, actor int64) (*model.RefundRequest, error) {
	return s.resolvedRequest, s.resolveErr
}

func testPricing() model.Pricing {
	return model.Pricing{
		ShippingFeeCents:           1000,
		FreeShippingThresholdCents: 10000,
		TaxRate:                    0.08,
	}
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	hashed := hashPassword("user", "correct")
	repo := &stubRepo{
		getUser: &model.User{
			ID:           1,
			Login:        "user",
			PasswordHash: hashed,
			Role:         model.RoleCustomer,
		},
	}

	svc := NewService(repo, nil, nil, testPricing())

	_, err := svc.AuthenticateUser(context.Background(), "user", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
	}
	svc := NewService(repo, nil, nil, testPricing())

	_, err := svc.RegisterUser(context.Background(), "login", "pass")
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestCreateProduct_RoundsPriceToCents(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: 1, Role: model.RoleAdmin},
		product:  &model.Product{ID: 1, Name: "shirt", PriceCents: 1999},
	}
	svc := NewService(repo, nil, nil, testPricing())

	if _, err := svc.CreateProduct(context.Background(), 1, "shirt", 19.99, 5); err != nil {
		t.Fatalf("CreateProduct error: %v", err)
	}
	if repo.createdPriceCents != 1999 {
		t.Fatalf("price 19.99 stored as %d cents, want 1999", repo.createdPriceCents)
	}
}

type stubIdentities struct {
	ident *session.Identity
	err   error

	calls int
}

func (s *stubIdentities) Identity(ctx context.Context, userID int64) (*session.Identity, error) {
	s.calls++
	return s.ident, s.err
}

func TestRequireAdmin_UsesCachedIdentity(t *testing.T) {
	repo := &stubRepo{
		userByIDErr: errors.New("database must not be queried on a cache hit"),
		product:     &model.Product{ID: 1, Name: "shirt", PriceCents: 1999},
	}
	sessions := &stubIdentities{
		ident: &session.Identity{Login: "admin", Role: string(model.RoleAdmin)},
	}
	svc := NewService(repo, nil, sessions, testPricing())

	if _, err := svc.CreateProduct(context.Background(), 1, "shirt", 19.99, 5); err != nil {
		t.Fatalf("CreateProduct error: %v", err)
	}
	if sessions.calls != 1 {
		t.Fatalf("identity cache calls = %d, want 1", sessions.calls)
	}
}

func TestRequireAdmin_CachedCustomerForbidden(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: 2, Role: model.RoleAdmin},
	}
	sessions := &stubIdentities{
		ident: &session.Identity{Login: "user", Role: string(model.RoleCustomer)},
	}
	svc := NewService(repo, nil, sessions, testPricing())

	_, err := svc.CreateProduct(context.Background(), 2, "shirt", 19.99, 5)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden from cached role, got %v", err)
	}
}

func TestRequireAdmin_FallsBackToRepository(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: 1, Role: model.RoleAdmin},
		product:  &model.Product{ID: 1, Name: "shirt", PriceCents: 1999},
	}
	sessions := &stubIdentities{
		err: errors.New("session not found"),
	}
	svc := NewService(repo, nil, sessions, testPricing())

	if _, err := svc.CreateProduct(context.Background(), 1, "shirt", 19.99, 5); err != nil {
		t.Fatalf("CreateProduct error: %v", err)
	}
}

func TestGetCart_ComputesSubtotal(t *testing.T) {
	repo := &stubRepo{
		cartItems: []model.CartItem{
			{ID: 1, PriceCents: 5000, Quantity: 2},
			{ID: 2, PriceCents: 2500, Quantity: 1},
		},
	}
	svc := NewService(repo, nil, nil, testPricing())

	cart, err := svc.GetCart(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetCart error: %v", err)
	}
	if cart.SubtotalCents != 12500 {
		t.Fatalf("subtotal = %d, want 12500", cart.SubtotalCents)
	}
}

func TestAddCartItem_RejectsZeroQuantity(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, testPricing())

	_, err := svc.AddCartItem(context.Background(), 1, 2, 0, "", "")
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestSetCartItemQuantity_ZeroRemovesItem(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, testPricing())

	item, err := svc.SetCartItemQuantity(context.Background(), 1, 7, 0)
	if err != nil {
		t.Fatalf("SetCartItemQuantity error: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item after removal, got %+v", item)
	}
	if !repo.deleteCalled || repo.deletedItemID != 7 {
		t.Fatalf("delete was not called for item 7")
	}
}

func TestCheckout_InvalidAddress(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, testPricing())

	_, err := svc.Checkout(context.Background(), 1, "  ", "card-1234", "standard")
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestCheckout_EmptyCartPropagated(t *testing.T) {
	repo := &stubRepo{
		checkoutErr: repository.ErrEmptyCart,
	}
	svc := NewService(repo, nil, nil, testPricing())

	_, err := svc.Checkout(context.Background(), 1, "1 Main St", "card-1234", "standard")
	if !errors.Is(err, repository.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestUpdateOrderStatus_RequiresAdmin(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: 2, Role: model.RoleCustomer},
	}
	svc := NewService(repo, nil, nil, testPricing())

	_, err := svc.UpdateOrderStatus(context.Background(), 2, 1, model.OrderStatusShipped)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestUpdateOrderStatus_InvalidTransition(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: 1, Role: model.RoleAdmin},
		order:    &model.Order{ID: 1, UserID: 3, Status: model.OrderStatusDelivered},
	}
	svc := NewService(repo, nil, nil, testPricing())

	_, err := svc.UpdateOrderStatus(context.Background(), 1, 1, model.OrderStatusCancelled)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateOrderStatus_AdminCancelsPending(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: 1, Role: model.RoleAdmin},
		order:    &model.Order{ID: 5, UserID: 3, Status: model.OrderStatusPending},
	}
	svc := NewService(repo, nil, nil, testPricing())

	order, err := svc.UpdateOrderStatus(context.Background(), 1, 5, model.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("UpdateOrderStatus error: %v", err)
	}
	if order.Status != model.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", order.Status)
	}
	if len(repo.statusUpdates) != 1 || repo.statusUpdates[0].To != model.OrderStatusCancelled {
		t.Fatalf("status update was not recorded: %+v", repo.statusUpdates)
	}
}

func TestCancelOrder_NotOwner(t *testing.T) {
	repo := &stubRepo{
		order: &model.Order{ID: 1, UserID: 3, Status: model.OrderStatusPending},
	}
	svc := NewService(repo, nil, nil, testPricing())

	_, err := svc.CancelOrder(context.Background(), 4, 1, "changed my mind")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestCancelOrder_DeliveredRejected(t *testing.T) {
	repo := &stubRepo{
		order: &model.Order{ID: 1, UserID: 3, Status: model.OrderStatusDelivered},
	}
	svc := NewService(repo, nil, nil, testPricing())

	_, err := svc.CancelOrder(context.Background(), 3, 1, "too late")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRequestRefund_OrderNotDelivered(t *testing.T) {
	repo := &stubRepo{
		order: &model.Order{ID: 1, UserID: 3, Status: model.OrderStatusCancelled},
	}
	svc := NewService(repo, nil, nil, testPricing())

	_, err := svc.RequestRefund(context.Background(), 3, 1, model.RefundTypeOrder, nil, "broken")
	if !errors.Is(err, ErrOrderNotDelivered) {
		t.Fatalf("expected ErrOrderNotDelivered, got %v", err)
	}
}

func TestRequestRefund_ProductAmountFromOrderItem(t *testing.T) {
	repo := &stubRepo{
		order: &model.Order{
			ID:         1,
			UserID:     3,
			Status:     model.OrderStatusDelivered,
			TotalCents: 10800,
			Items: []model.OrderItem{
				{ID: 11, UnitPriceCents: 7500, Quantity: 1},
			},
		},
	}
	svc := NewService(repo, nil, nil, testPricing())

	itemID := int64(11)
	req, err := svc.RequestRefund(context.Background(), 3, 1, model.RefundTypeProduct, &itemID, "wrong size")
	if err != nil {
		t.Fatalf("RequestRefund error: %v", err)
	}
	if req.AmountCents != 7500 {
		t.Fatalf("refund amount = %d, want 7500", req.AmountCents)
	}
	if req.Status != model.RefundStatusPending {
		t.Fatalf("refund status = %s, want pending", req.Status)
	}
}

func TestRequestRefund_ItemNotInOrder(t *testing.T) {
	repo := &stubRepo{
		order: &model.Order{
			ID:         1,
			UserID:     3,
			Status:     model.OrderStatusDelivered,
			TotalCents: 10800,
			Items: []model.OrderItem{
				{ID: 11, UnitPriceCents: 7500, Quantity: 1},
			},
		},
	}
	svc := NewService(repo, nil, nil, testPricing())

	itemID := int64(99)
	_, err := svc.RequestRefund(context.Background(), 3, 1, model.RefundTypeProduct, &itemID, "wrong size")
	if !errors.Is(err, ErrItemNotInOrder) {
		t.Fatalf("expected ErrItemNotInOrder, got %v", err)
	}
}

func TestRequestRefund_OrderAmountIsTotal(t *testing.T) {
	repo := &stubRepo{
		order: &model.Order{
			ID:         1,
			UserID:     3,
			Status:     model.OrderStatusDelivered,
			TotalCents: 10800,
		},
	}
	svc := NewService(repo, nil, nil, testPricing())

	req, err := svc.RequestRefund(context.Background(), 3, 1, model.RefundTypeOrder, nil, "damaged")
	if err != nil {
		t.Fatalf("RequestRefund error: %v", err)
	}
	if req.AmountCents != 10800 {
		t.Fatalf("refund amount = %d, want 10800", req.AmountCents)
	}
	if req.AmountCents > req.OrderTotalCents {
		t.Fatalf("refund amount %d must not exceed order total %d", req.AmountCents, req.OrderTotalCents)
	}
}

func TestResolveRefund_RequiresAdmin(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: 2, Role: model.RoleCustomer},
	}
	svc := NewService(repo, nil, nil, testPricing())

	_, err := svc.ResolveRefund(context.Background(), 2, 1, true, "ok")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestResolveRefund_AlreadyResolvedPropagated(t *testing.T) {
	repo := &stubRepo{
		userByID:   &model.User{ID: 1, Role: model.RoleAdmin},
		resolveErr: repository.ErrRefundResolved,
	}
	svc := NewService(repo, nil, nil, testPricing())

	_, err := svc.ResolveRefund(context.Background(), 1, 1, true, "ok")
	if !errors.Is(err, repository.ErrRefundResolved) {
		t.Fatalf("expected ErrRefundResolved, got %v", err)
	}
}

func TestStartStockUpdates_NoClient(t *testing.T) {
	svc := &Service{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	go func() {
		svc.StartStockUpdates(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("StartStockUpdates did not return without client")
	}
}
