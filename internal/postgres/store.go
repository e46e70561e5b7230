package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

var (
	_ orders.Store = (*Store)(nil)
	_ orders.Tx    = (*pgTx)(nil)
)

func NewStore(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log.With().Str("component", "postgres").Logger()}
}

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

// InTx runs fn in a READ COMMITTED transaction. Row locks taken with
// FOR UPDATE and conditional updates provide the isolation the services need.
func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) FindRegister(ctx context.Context, id string) (*orders.Register, error) {
	var r orders.Register
	err := s.pool.QueryRow(ctx, `SELECT id, store_id, name, is_active FROM registers WHERE id=$1`, id).
		Scan(&r.ID, &r.StoreID, &r.Name, &r.IsActive)
	if err != nil {
		return nil, classify(err)
	}
	return &r, nil
}

func (s *Store) FindShift(ctx context.Context, id string) (*orders.Shift, error) {
	return getShift(ctx, s.pool, `WHERE id=$1`, id)
}

func (s *Store) FindCustomer(ctx context.Context, id string) (*orders.Customer, error) {
	var c orders.Customer
	err := s.pool.QueryRow(ctx, `SELECT id, store_id, name FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.StoreID, &c.Name)
	if err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

func (s *Store) GetStoreSettings(ctx context.Context, storeID string) (*orders.StoreSettings, error) {
	var st orders.StoreSettings
	err := s.pool.QueryRow(ctx, `SELECT id, tax_rate, service_rate, rounding_unit FROM stores WHERE id=$1`, storeID).
		Scan(&st.StoreID, &st.TaxRate, &st.ServiceRate, &st.RoundingUnit)
	if err != nil {
		return nil, classify(err)
	}
	return &st, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return getOrder(ctx, s.pool, `WHERE id=$1`, id)
}

func (s *Store) FindOrderByExternalID(ctx context.Context, storeID, externalID string) (*orders.Order, error) {
	return getOrder(ctx, s.pool, `WHERE store_id=$1 AND external_id=$2`, storeID, externalID)
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = orders.DefaultListLimit
	}
	var statuses []string
	for _, st := range f.Statuses {
		statuses = append(statuses, string(st))
	}
	list, err := selectOrders(ctx, s.pool,
		`WHERE store_id=$1 AND ($2::text[] IS NULL OR status = ANY($2)) ORDER BY placed_at ASC LIMIT $3`,
		f.StoreID, statuses, limit)
	if err != nil {
		return nil, err
	}
	out := make([]orders.Order, 0, len(list))
	for _, o := range list {
		out = append(out, *o)
	}
	return out, nil
}

func (s *Store) ListShifts(ctx context.Context, f orders.ShiftFilter) ([]orders.Shift, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 30
	}
	return selectShifts(ctx, s.pool, `WHERE store_id=$1 ORDER BY opened_at DESC LIMIT $2`, f.StoreID, limit)
}

func (s *Store) StockLevels(ctx context.Context, productIDs []string) ([]orders.StockLevel, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, stock FROM products WHERE id = ANY($1) ORDER BY id`, productIDs)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []orders.StockLevel
	for rows.Next() {
		var l orders.StockLevel
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Stock); err != nil {
			return nil, classify(err)
		}
		out = append(out, l)
	}
	return out, classify(rows.Err())
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) DecrementStock(ctx context.Context, storeID, productID string, qty int) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE products SET stock = stock - $3, updated_at = now()
		WHERE id = $1 AND store_id = $2 AND is_available AND stock >= $3`,
		productID, storeID, qty)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	b := &pgx.Batch{}
	b.Queue(`
		INSERT INTO orders(id, order_number, external_id, store_id, register_id, shift_id, cashier_id, customer_id, notes, status,
			subtotal, item_discount, order_discount, tax_amount, service_charge_amount, tip_amount, rounding_amount, total_amount,
			placed_at, ready_at, completed_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		o.ID, o.OrderNumber, nullString(o.ExternalID), o.StoreID, o.RegisterID, nullString(o.ShiftID), o.CashierID,
		nullString(o.CustomerID), o.Notes, o.Status,
		o.Subtotal, o.ItemDiscount, o.OrderDiscount, o.TaxAmount, o.ServiceChargeAmount, o.TipAmount, o.RoundingAmount, o.TotalAmount,
		o.PlacedAt, o.ReadyAt, o.CompletedAt, o.UpdatedAt)

	for i, it := range o.Items {
		b.Queue(`
			INSERT INTO order_items(id, order_id, position, product_id, product_name, unit_price, quantity, discount, line_total, note, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			it.ID, o.ID, i, nullString(it.ProductID), it.ProductName, it.UnitPrice, it.Quantity, it.Discount, it.LineTotal, it.Note, it.Status)
		for j, m := range it.Modifiers {
			b.Queue(`
				INSERT INTO order_item_modifiers(id, order_item_id, position, option_id, group_name, option_name, price_delta)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				m.ID, it.ID, j, m.OptionID, m.GroupName, m.OptionName, m.PriceDelta)
		}
	}
	for i, p := range o.Payments {
		b.Queue(`
			INSERT INTO payments(id, order_id, position, shift_id, method, amount, reference, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			p.ID, o.ID, i, nullString(p.ShiftID), p.Method, p.Amount, p.Reference, p.CreatedAt)
	}

	br := t.tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return classify(err)
		}
	}
	return classify(br.Close())
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	return getOrder(ctx, t.tx, `WHERE id=$1 FOR UPDATE`, id)
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, c orders.StatusChange) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $3,
			ready_at = COALESCE(ready_at, $4),
			completed_at = COALESCE(completed_at, $5),
			updated_at = $6
		WHERE id = $1 AND status = $2`,
		c.OrderID, c.From, c.To, c.ReadyAt, c.CompletedAt, c.At)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) UpdateItemStatus(ctx context.Context, orderID string, itemIDs []string, st orders.ItemStatus) (int, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if len(itemIDs) == 0 {
		tag, err = t.tx.Exec(ctx, `UPDATE order_items SET status=$2 WHERE order_id=$1`, orderID, st)
	} else {
		tag, err = t.tx.Exec(ctx, `UPDATE order_items SET status=$2 WHERE order_id=$1 AND id = ANY($3)`, orderID, st, itemIDs)
	}
	if err != nil {
		return 0, classify(err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) UpdatePaymentMethod(ctx context.Context, orderID string, m orders.PaymentMethod) (int, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE payments SET method=$2 WHERE order_id=$1`, orderID, m)
	if err != nil {
		return 0, classify(err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) InsertRefundVoid(ctx context.Context, rv *orders.RefundVoid) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO refund_voids(id, order_id, type, amount, reason, created_by_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rv.ID, rv.OrderID, rv.Type, rv.Amount, rv.Reason, rv.CreatedByID, rv.CreatedAt)
	return classify(err)
}

func (t *pgTx) InsertAuditLog(ctx context.Context, a *orders.AuditLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO audit_logs(id, store_id, user_id, order_id, action, entity, entity_id, message, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.StoreID, a.UserID, nullString(a.OrderID), a.Action, a.Entity, a.EntityID, a.Message, a.Metadata, a.CreatedAt)
	return classify(err)
}

func (t *pgTx) FindOpenShift(ctx context.Context, registerID string) (*orders.Shift, error) {
	return getShift(ctx, t.tx, `WHERE register_id=$1 AND status='OPEN' FOR UPDATE`, registerID)
}

func (t *pgTx) GetShiftForUpdate(ctx context.Context, id string) (*orders.Shift, error) {
	return getShift(ctx, t.tx, `WHERE id=$1 FOR UPDATE`, id)
}

func (t *pgTx) ListOpenShiftsByUser(ctx context.Context, userID string) ([]orders.Shift, error) {
	return selectShifts(ctx, t.tx, `WHERE user_id=$1 AND status='OPEN' ORDER BY opened_at FOR UPDATE`, userID)
}

func (t *pgTx) InsertShift(ctx context.Context, sh *orders.Shift) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO shifts(id, store_id, register_id, user_id, status, opening_cash, cash_in, cash_out,
			expected_cash, actual_cash, notes, opened_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		sh.ID, sh.StoreID, sh.RegisterID, sh.UserID, sh.Status, sh.OpeningCash, sh.CashIn, sh.CashOut,
		nullDecimal(sh.ExpectedCash), nullDecimal(sh.ActualCash), sh.Notes, sh.OpenedAt, sh.ClosedAt)
	return classify(err)
}

func (t *pgTx) UpdateShift(ctx context.Context, sh *orders.Shift) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE shifts SET status=$2, cash_in=$3, cash_out=$4, expected_cash=$5, actual_cash=$6, notes=$7, closed_at=$8
		WHERE id=$1`,
		sh.ID, sh.Status, sh.CashIn, sh.CashOut, nullDecimal(sh.ExpectedCash), nullDecimal(sh.ActualCash), sh.Notes, sh.ClosedAt)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertCashMovement(ctx context.Context, m *orders.CashMovement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cash_movements(id, shift_id, direction, amount, reason, user_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.ShiftID, m.Direction, m.Amount, m.Reason, m.UserID, m.CreatedAt)
	return classify(err)
}

func (t *pgTx) CashPaymentsTotal(ctx context.Context, shiftID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE shift_id=$1 AND method='CASH'`, shiftID).
		Scan(&total)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	return total, nil
}

// ---- orders ----

const orderColumns = `id, order_number, COALESCE(external_id, ''), store_id, register_id, COALESCE(shift_id, ''),
	cashier_id, COALESCE(customer_id, ''), notes, status,
	subtotal, item_discount, order_discount, tax_amount, service_charge_amount, tip_amount, rounding_amount, total_amount,
	placed_at, ready_at, completed_at, updated_at`

func getOrder(ctx context.Context, q querier, where string, args ...any) (*orders.Order, error) {
	list, err := selectOrders(ctx, q, where, args...)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, orders.ErrNotFound
	}
	return list[0], nil
}

func selectOrders(ctx context.Context, q querier, where string, args ...any) ([]*orders.Order, error) {
	rows, err := q.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var (
		out []*orders.Order
		ids []string
	)
	for rows.Next() {
		o := &orders.Order{Items: []orders.OrderItem{}, Payments: []orders.Payment{}}
		if err := rows.Scan(
			&o.ID, &o.OrderNumber, &o.ExternalID, &o.StoreID, &o.RegisterID, &o.ShiftID,
			&o.CashierID, &o.CustomerID, &o.Notes, &o.Status,
			&o.Subtotal, &o.ItemDiscount, &o.OrderDiscount, &o.TaxAmount, &o.ServiceChargeAmount, &o.TipAmount,
			&o.RoundingAmount, &o.TotalAmount,
			&o.PlacedAt, &o.ReadyAt, &o.CompletedAt, &o.UpdatedAt,
		); err != nil {
			return nil, classify(err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	rows.Close()

	if len(out) == 0 {
		return out, nil
	}
	if err := attachChildren(ctx, q, out, ids); err != nil {
		return nil, err
	}
	return out, nil
}

func attachChildren(ctx context.Context, q querier, list []*orders.Order, ids []string) error {
	byID := make(map[string]*orders.Order, len(list))
	for _, o := range list {
		byID[o.ID] = o
	}

	items, err := q.Query(ctx, `
		SELECT id, order_id, COALESCE(product_id, ''), product_name, unit_price, quantity, discount, line_total, note, status
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return classify(err)
	}
	var itemIDs []string
	for items.Next() {
		var it orders.OrderItem
		if err := items.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.UnitPrice, &it.Quantity,
			&it.Discount, &it.LineTotal, &it.Note, &it.Status); err != nil {
			items.Close()
			return classify(err)
		}
		it.Modifiers = []orders.OrderItemModifier{}
		o := byID[it.OrderID]
		o.Items = append(o.Items, it)
		itemIDs = append(itemIDs, it.ID)
	}
	items.Close()
	if err := items.Err(); err != nil {
		return classify(err)
	}

	if len(itemIDs) > 0 {
		if err := attachModifiers(ctx, q, list, itemIDs); err != nil {
			return err
		}
	}

	pays, err := q.Query(ctx, `
		SELECT id, order_id, COALESCE(shift_id, ''), method, amount, reference, created_at
		FROM payments WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return classify(err)
	}
	defer pays.Close()
	for pays.Next() {
		var p orders.Payment
		if err := pays.Scan(&p.ID, &p.OrderID, &p.ShiftID, &p.Method, &p.Amount, &p.Reference, &p.CreatedAt); err != nil {
			return classify(err)
		}
		o := byID[p.OrderID]
		o.Payments = append(o.Payments, p)
	}
	return classify(pays.Err())
}

func attachModifiers(ctx context.Context, q querier, list []*orders.Order, itemIDs []string) error {
	type slot struct {
		order *orders.Order
		idx   int
	}
	items := make(map[string]slot, len(itemIDs))
	for _, o := range list {
		for i := range o.Items {
			items[o.Items[i].ID] = slot{order: o, idx: i}
		}
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_item_id, option_id, group_name, option_name, price_delta
		FROM order_item_modifiers WHERE order_item_id = ANY($1) ORDER BY order_item_id, position`, itemIDs)
	if err != nil {
		return classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m      orders.OrderItemModifier
			itemID string
		)
		if err := rows.Scan(&m.ID, &itemID, &m.OptionID, &m.GroupName, &m.OptionName, &m.PriceDelta); err != nil {
			return classify(err)
		}
		s, ok := items[itemID]
		if !ok {
			return fmt.Errorf("modifier %s references unknown item %s", m.ID, itemID)
		}
		it := &s.order.Items[s.idx]
		it.Modifiers = append(it.Modifiers, m)
	}
	return classify(rows.Err())
}

// ---- shifts ----

const shiftColumns = `id, store_id, register_id, user_id, status, opening_cash, cash_in, cash_out,
	expected_cash, actual_cash, notes, opened_at, closed_at`

func getShift(ctx context.Context, q querier, where string, args ...any) (*orders.Shift, error) {
	list, err := selectShifts(ctx, q, where, args...)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, orders.ErrNotFound
	}
	return &list[0], nil
}

func selectShifts(ctx context.Context, q querier, where string, args ...any) ([]orders.Shift, error) {
	rows, err := q.Query(ctx, `SELECT `+shiftColumns+` FROM shifts `+where, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []orders.Shift
	for rows.Next() {
		var (
			sh               orders.Shift
			expected, actual decimal.NullDecimal
		)
		if err := rows.Scan(&sh.ID, &sh.StoreID, &sh.RegisterID, &sh.UserID, &sh.Status,
			&sh.OpeningCash, &sh.CashIn, &sh.CashOut, &expected, &actual, &sh.Notes, &sh.OpenedAt, &sh.ClosedAt); err != nil {
			return nil, classify(err)
		}
		if expected.Valid {
			sh.ExpectedCash = &expected.Decimal
		}
		if actual.Valid {
			sh.ActualCash = &actual.Decimal
		}
		out = append(out, sh)
	}
	return out, classify(rows.Err())
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
