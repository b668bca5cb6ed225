// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/storefront-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrCartItemNotFound возвращается, если позиция корзины не найдена у пользователя.
	ErrCartItemNotFound = errors.New("cart item not found")
	// ErrEmptyCart возвращается при попытке оформить заказ из пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict возвращается, если статус заказа изменился параллельно.
	ErrStatusConflict = errors.New("order status changed concurrently")
	// ErrRefundNotFound возвращается, если запрос на возврат не найден.
	ErrRefundNotFound = errors.New("refund request not found")
	// ErrRefundResolved возвращается при попытке повторно рассмотреть запрос на возврат.
	ErrRefundResolved = errors.New("refund request already resolved")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при ошибках сериализации, взаимоблокировках и
// сетевых сбоях. Прочие ошибки возвращаются сразу.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.UserRole) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.UserRole(role)

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.UserRole(role)

	return &u, nil
}

// CreateProduct добавляет товар в каталог.
func (r *PostgresRepository) CreateProduct(ctx context.Context, name string, priceCents, stock int64) (*model.Product, error) {
	p := &model.Product{
		Name:       name,
		PriceCents: priceCents,
		Stock:      stock,
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (name, price_cents, stock) VALUES ($1, $2, $3) RETURNING id, created_at`,
		name, priceCents, stock,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return p, nil
}

// GetProduct возвращает товар каталога по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, price_cents, stock, created_at FROM products WHERE id = $1`,
		id,
	)

	var p model.Product
	err := row.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// GetProductsForStockRefresh возвращает товары с самыми давними сведениями об остатках.
func (r *PostgresRepository) GetProductsForStockRefresh(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id
		 FROM products
		 ORDER BY stock_checked_at ASC NULLS FIRST
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select products for stock refresh: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan product id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// UpdateProductStock обновляет остаток товара и отметку времени проверки.
func (r *PostgresRepository) UpdateProductStock(ctx context.Context, id, stock int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE products SET stock = $2, stock_checked_at = now() WHERE id = $1`,
		id, stock,
	)
	if err != nil {
		return fmt.Errorf("update product stock: %w", err)
	}
	return nil
}

// GetCartItems возвращает позиции корзины пользователя с актуальными ценами каталога.
func (r *PostgresRepository) GetCartItems(ctx context.Context, userID int64) ([]model.CartItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ci.id, ci.product_id, ci.quantity, ci.size, ci.color, p.price_cents, ci.added_at
		 FROM cart_items ci
		 JOIN products p ON p.id = ci.product_id
		 WHERE ci.user_id = $1
		 ORDER BY ci.added_at, ci.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart items: %w", err)
	}
	defer rows.Close()

	var items []model.CartItem
	for rows.Next() {
		var it model.CartItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Quantity, &it.Size, &it.Color, &it.PriceCents, &it.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// UpsertCartItem добавляет позицию корзины. Одинаковые товар, размер и цвет
// объединяются: количество суммируется с отсечкой по верхней границе.
func (r *PostgresRepository) UpsertCartItem(ctx context.Context, userID, productID int64, quantity int, size, color string) (*model.CartItem, error) {
	row := r.pool.QueryRow(ctx,
		`WITH upserted AS (
		     INSERT INTO cart_items (user_id, product_id, quantity, size, color)
		     VALUES ($1, $2, $3, $4, $5)
		     ON CONFLICT (user_id, product_id, size, color)
		     DO UPDATE SET quantity = LEAST(cart_items.quantity + EXCLUDED.quantity, $6)
		     RETURNING id, product_id, quantity, size, color, added_at
		 )
		 SELECT u.id, u.product_id, u.quantity, u.size, u.color, u.added_at, p.price_cents
		 FROM upserted u
		 JOIN products p ON p.id = u.product_id`,
		userID, productID, quantity, size, color, model.MaxCartQuantity,
	)

	var it model.CartItem
	err := row.Scan(&it.ID, &it.ProductID, &it.Quantity, &it.Size, &it.Color, &it.AddedAt, &it.PriceCents)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
		}
		return nil, fmt.Errorf("upsert cart item: %w", err)
	}

	return &it, nil
}

// UpdateCartItemQuantity устанавливает количество позиции корзины пользователя.
func (r *PostgresRepository) UpdateCartItemQuantity(ctx context.Context, userID, itemID int64, quantity int) (*model.CartItem, error) {
	row := r.pool.QueryRow(ctx,
		`WITH updated AS (
		     UPDATE cart_items SET quantity = $3
		     WHERE id = $2 AND user_id = $1
		     RETURNING id, product_id, quantity, size, color, added_at
		 )
		 SELECT u.id, u.product_id, u.quantity, u.size, u.color, u.added_at, p.price_cents
		 FROM updated u
		 JOIN products p ON p.id = u.product_id`,
		userID, itemID, quantity,
	)

	var it model.CartItem
	err := row.Scan(&it.ID, &it.ProductID, &it.Quantity, &it.Size, &it.Color, &it.AddedAt, &it.PriceCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("update cart item: %w", err)
	}

	return &it, nil
}

// DeleteCartItem удаляет позицию корзины. Удаление несуществующей позиции не является ошибкой.
func (r *PostgresRepository) DeleteCartItem(ctx context.Context, userID, itemID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM cart_items WHERE id = $2 AND user_id = $1`,
		userID, itemID,
	)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return nil
}

// ClearCart удаляет все позиции корзины пользователя.
func (r *PostgresRepository) ClearCart(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM cart_items WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// CreateOrderFromCart атомарно превращает непустую корзину пользователя в заказ.
// Позиции корзины блокируются на время транзакции, поэтому из двух параллельных
// оформлений успешным будет только одно: второе увидит пустую корзину.
func (r *PostgresRepository) CreateOrderFromCart(ctx context.Context, userID int64, address, payment, delivery string, pricing model.Pricing) (*model.Order, error) {
	var order *model.Order

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx,
			`SELECT ci.product_id, ci.quantity, ci.size, ci.color, p.price_cents, p.name
			 FROM cart_items ci
			 JOIN products p ON p.id = ci.product_id
			 WHERE ci.user_id = $1
			 ORDER BY ci.added_at, ci.id
			 FOR UPDATE OF ci`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("select cart for checkout: %w", err)
		}

		var items []model.OrderItem
		for rows.Next() {
			var it model.OrderItem
			if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Size, &it.Color, &it.UnitPriceCents, &it.Name); err != nil {
				rows.Close()
				return fmt.Errorf("scan cart item: %w", err)
			}
			items = append(items, it)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(items) == 0 {
			return ErrEmptyCart
		}

		subtotal := model.OrderSubtotal(items)
		shipping := pricing.Shipping(subtotal)
		tax := pricing.Tax(subtotal)
		total := subtotal + shipping + tax

		o := &model.Order{
			UserID:            userID,
			SubtotalCents:     subtotal,
			ShippingCents:     shipping,
			TaxCents:          tax,
			TotalCents:        total,
			Status:            model.OrderStatusPending,
			ShippingAddress:   address,
			PaymentDescriptor: payment,
			DeliveryMethod:    delivery,
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO orders (user_id, subtotal_cents, shipping_cents, tax_cents, total_cents, status, shipping_address, payment_descriptor, delivery_method)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id, created_at`,
			userID, subtotal, shipping, tax, total, string(o.Status), address, payment, delivery,
		).Scan(&o.ID, &o.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i := range items {
			items[i].OrderID = o.ID
			err = tx.QueryRow(ctx,
				`INSERT INTO order_items (order_id, product_id, name, quantity, unit_price_cents, size, color)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 RETURNING id`,
				o.ID, items[i].ProductID, items[i].Name, items[i].Quantity, items[i].UnitPriceCents, items[i].Size, items[i].Color,
			).Scan(&items[i].ID)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		o.Items = items

		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear cart after checkout: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// GetOrder возвращает заказ с позициями по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, subtotal_cents, shipping_cents, tax_cents, total_cents, status, shipping_address, payment_descriptor, delivery_method, created_at
		 FROM orders
		 WHERE id = $1`,
		orderID,
	)

	var o model.Order
	var status string
	err := row.Scan(&o.ID, &o.UserID, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents, &status, &o.ShippingAddress, &o.PaymentDescriptor, &o.DeliveryMethod, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = model.OrderStatus(status)

	items, err := r.getOrderItems(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]

	return &o, nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, subtotal_cents, shipping_cents, tax_cents, total_cents, status, shipping_address, payment_descriptor, delivery_method, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	return r.collectOrders(ctx, rows)
}

// GetAllOrders возвращает все заказы, новые первыми.
func (r *PostgresRepository) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, subtotal_cents, shipping_cents, tax_cents, total_cents, status, shipping_address, payment_descriptor, delivery_method, created_at
		 FROM orders
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	return r.collectOrders(ctx, rows)
}

func (r *PostgresRepository) collectOrders(ctx context.Context, rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	var ids []int64
	for rows.Next() {
		var o model.Order
		var status string
		if err := rows.Scan(&o.ID, &o.UserID, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents, &status, &o.ShippingAddress, &o.PaymentDescriptor, &o.DeliveryMethod, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.getOrderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, nil
}

func (r *PostgresRepository) getOrderItems(ctx context.Context, orderIDs []int64) (map[int64][]model.OrderItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_id, name, quantity, unit_price_cents, size, color
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY id`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	res := make(map[int64][]model.OrderItem)
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.Quantity, &it.UnitPriceCents, &it.Size, &it.Color); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		res[it.OrderID] = append(res[it.OrderID], it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrderStatus меняет статус заказа, сверяя текущий статус, и пишет
// запись журнала переходов в той же транзакции.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID int64, from, to model.OrderStatus, actor int64, note string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $3 WHERE id = $1 AND status = $2`,
		orderID, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("select order status: %w", err)
		}
		return fmt.Errorf("%w: now %s", ErrStatusConflict, current)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO order_status_log (order_id, from_status, to_status, actor, note)
		 VALUES ($1, $2, $3, $4, $5)`,
		orderID, string(from), string(to), actor, note,
	)
	if err != nil {
		return fmt.Errorf("insert status log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetOrderStatusLog возвращает журнал переходов статуса заказа.
func (r *PostgresRepository) GetOrderStatusLog(ctx context.Context, orderID int64) ([]model.StatusChange, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id, from_status, to_status, actor, note, created_at
		 FROM order_status_log
		 WHERE order_id = $1
		 ORDER BY created_at, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select status log: %w", err)
	}
	defer rows.Close()

	var res []model.StatusChange
	for rows.Next() {
		var c model.StatusChange
		var from, to string
		if err := rows.Scan(&c.OrderID, &from, &to, &c.Actor, &c.Note, &c.At); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		c.From = model.OrderStatus(from)
		c.To = model.OrderStatus(to)
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateRefundRequest сохраняет новый запрос на возврат.
func (r *PostgresRepository) CreateRefundRequest(ctx context.Context, req *model.RefundRequest) (*model.RefundRequest, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO refund_requests (order_id, order_item_id, refund_type, amount_cents, order_total_cents, reason, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, requested_at`,
		req.OrderID, req.OrderItemID, string(req.Type), req.AmountCents, req.OrderTotalCents, req.Reason, string(req.Status),
	).Scan(&req.ID, &req.RequestedAt)
	if err != nil {
		return nil, fmt.Errorf("insert refund request: %w", err)
	}

	return req, nil
}

// GetRefundRequest возвращает запрос на возврат по идентификатору.
func (r *PostgresRepository) GetRefundRequest(ctx context.Context, id int64) (*model.RefundRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, order_id, order_item_id, refund_type, amount_cents, order_total_cents, reason, status, admin_notes, requested_at, resolved_at
		 FROM refund_requests
		 WHERE id = $1`,
		id,
	)

	req, err := scanRefundRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("get refund request: %w", err)
	}

	return req, nil
}

func scanRefundRequest(row pgx.Row) (*model.RefundRequest, error) {
	var req model.RefundRequest
	var refundType, status string
	err := row.Scan(&req.ID, &req.OrderID, &req.OrderItemID, &refundType, &req.AmountCents, &req.OrderTotalCents, &req.Reason, &status, &req.AdminNotes, &req.RequestedAt, &req.ResolvedAt)
	if err != nil {
		return nil, err
	}
	req.Type = model.RefundType(refundType)
	req.Status = model.RefundStatus(status)
	return &req, nil
}

// ResolveRefundRequest рассматривает запрос на возврат. Одобрение возврата
// заказа целиком переводит доставленный заказ в статус refunded в той же
// транзакции; точечный возврат статус заказа не меняет.
func (r *PostgresRepository) ResolveRefundRequest(ctx context.Context, id int64, approved bool, notes string, actor int64) (*model.RefundRequest, error) {
	var resolved *model.RefundRequest

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx,
			`SELECT id, order_id, order_item_id, refund_type, amount_cents, order_total_cents, reason, status, admin_notes, requested_at, resolved_at
			 FROM refund_requests
			 WHERE id = $1
			 FOR UPDATE`,
			id,
		)

		req, err := scanRefundRequest(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRefundNotFound
			}
			return fmt.Errorf("select refund request: %w", err)
		}

		if req.Status != model.RefundStatusPending {
			return fmt.Errorf("%w: %s", ErrRefundResolved, req.Status)
		}

		status := model.RefundStatusRejected
		if approved {
			status = model.RefundStatusApproved
		}

		var resolvedAt time.Time
		err = tx.QueryRow(ctx,
			`UPDATE refund_requests SET status = $2, admin_notes = $3, resolved_at = now()
			 WHERE id = $1
			 RETURNING resolved_at`,
			id, string(status), notes,
		).Scan(&resolvedAt)
		if err != nil {
			return fmt.Errorf("update refund request: %w", err)
		}

		if approved && req.Type == model.RefundTypeOrder {
			cmdTag, err := tx.Exec(ctx,
				`UPDATE orders SET status = $2 WHERE id = $1 AND status = $3`,
				req.OrderID, string(model.OrderStatusRefunded), string(model.OrderStatusDelivered),
			)
			if err != nil {
				return fmt.Errorf("update order status: %w", err)
			}
			if cmdTag.RowsAffected() == 0 {
				return fmt.Errorf("%w: order %d is not delivered", ErrStatusConflict, req.OrderID)
			}

			_, err = tx.Exec(ctx,
				`INSERT INTO order_status_log (order_id, from_status, to_status, actor, note)
				 VALUES ($1, $2, $3, $4, $5)`,
				req.OrderID, string(model.OrderStatusDelivered), string(model.OrderStatusRefunded), actor, "refund approved",
			)
			if err != nil {
				return fmt.Errorf("insert status log: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		req.Status = status
		req.AdminNotes = notes
		req.ResolvedAt = &resolvedAt
		resolved = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resolved, nil
}
