package checkoutdb

import (
	"database/sql"
	"strings"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/database"
	"github.com/shopkit/checkout-go/notify"
)

// CheckoutDB persists sessions, settled orders, handed out tokens, quote
// states and notification outcomes.
type CheckoutDB struct {
	db *database.DB
}

func NewCheckoutDB(db *database.DB) (*CheckoutDB, error) {
	for _, table := range []string{sessionTable, orderTable, proofTable, quoteTable, notificationTable} {
		if _, err := db.Exec(table); err != nil {
			return nil, err
		}
	}
	return &CheckoutDB{db: db}, nil
}

func (c *CheckoutDB) InsertSession(s *Session) error {
	stmt, err := c.db.Stmt(queryInsertSession)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(s.Id, s.QuoteId, s.Invoice, s.Amount, s.BuyerPubkey, s.Status)
	return err
}

func (c *CheckoutDB) UpdateSessionStatus(id string, status SessionStatus, warning string) error {
	stmt, err := c.db.Stmt(queryUpdateSessionStatus)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(status, warning, id)
	return err
}

func (c *CheckoutDB) SetChangeToken(id string, token string) error {
	stmt, err := c.db.Stmt(querySetChangeToken)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(token, id)
	return err
}

func (c *CheckoutDB) GetSession(id string) (*Session, bool, error) {
	stmt, err := c.db.Stmt(queryGetSession)
	if err != nil {
		return nil, false, err
	}

	s := &Session{}
	if err := stmt.QueryRow(id).Scan(
		&s.Id,
		&s.QuoteId,
		&s.Invoice,
		&s.Amount,
		&s.BuyerPubkey,
		&s.Status,
		&s.ChangeToken,
		&s.Warning,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return s, true, nil
}

func (c *CheckoutDB) InsertOrder(o *Order) error {
	stmt, err := c.db.Stmt(queryInsertOrder)
	if err != nil {
		return err
	}
	_, err = stmt.Exec(
		o.OrderId,
		o.SessionId,
		o.SellerPubkey,
		o.TotalAmount,
		o.DonationAmount,
		o.SellerAmount,
		o.Channel,
		o.Reference,
		o.Unmelted,
		strings.Join(o.Warnings, "\n"),
	)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*Order, error) {
	o := &Order{}
	var warnings string
	if err := row.Scan(
		&o.OrderId,
		&o.SessionId,
		&o.SellerPubkey,
		&o.TotalAmount,
		&o.DonationAmount,
		&o.SellerAmount,
		&o.Channel,
		&o.Reference,
		&o.Unmelted,
		&warnings,
		&o.CreatedAt,
	); err != nil {
		return nil, err
	}
	if warnings != "" {
		o.Warnings = strings.Split(warnings, "\n")
	}
	return o, nil
}

func (c *CheckoutDB) GetOrder(orderId string) (*Order, bool, error) {
	stmt, err := c.db.Stmt(queryGetOrder)
	if err != nil {
		return nil, false, err
	}
	o, err := scanOrder(stmt.QueryRow(orderId))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return o, true, nil
}

func (c *CheckoutDB) GetOrdersBySession(sessionId string) ([]*Order, error) {
	stmt, err := c.db.Stmt(queryGetOrdersBySession)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(sessionId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (c *CheckoutDB) InsertProofRecord(r *ProofRecord) error {
	stmt, err := c.db.Stmt(queryInsertProof)
	if err != nil {
		return err
	}
	res, err := stmt.Exec(r.SessionId, r.OrderId, r.Kind, r.Amount, r.Token)
	if err != nil {
		return err
	}
	r.Id, err = res.LastInsertId()
	return err
}

func (c *CheckoutDB) GetProofHistory(sessionId string) ([]*ProofRecord, error) {
	stmt, err := c.db.Stmt(queryGetProofs)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(sessionId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ProofRecord
	for rows.Next() {
		r := &ProofRecord{}
		if err := rows.Scan(&r.Id, &r.SessionId, &r.OrderId, &r.Kind, &r.Amount, &r.Token, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordQuote stores q's state unless a later state is already stored.
func (c *CheckoutDB) RecordQuote(q *agreement.MintQuote) error {
	stmt, err := c.db.Stmt(queryUpsertQuote)
	if err != nil {
		return err
	}
	state := agreement.QuoteState("").Advance(q.State)
	_, err = stmt.Exec(q.Id, q.Request, q.Amount, state, state.Rank())
	return err
}

func (c *CheckoutDB) GetQuote(id string) (*QuoteRecord, bool, error) {
	stmt, err := c.db.Stmt(queryGetQuote)
	if err != nil {
		return nil, false, err
	}
	q := &QuoteRecord{}
	if err := stmt.QueryRow(id).Scan(&q.Id, &q.Request, &q.Amount, &q.State, &q.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return q, true, nil
}

func (c *CheckoutDB) RecordDelivery(orderId string, d *notify.Delivery) error {
	stmt, err := c.db.Stmt(queryInsertNotification)
	if err != nil {
		return err
	}
	errStr := ""
	if d.Err != nil {
		errStr = d.Err.Error()
	}
	_, err = stmt.Exec(orderId, d.Subject, d.Recipient, d.EventId, d.Attempts, errStr)
	return err
}

func (c *CheckoutDB) GetNotifications(orderId string) ([]*NotificationRecord, error) {
	stmt, err := c.db.Stmt(queryGetNotifications)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(orderId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*NotificationRecord
	for rows.Next() {
		r := &NotificationRecord{}
		if err := rows.Scan(&r.OrderId, &r.Subject, &r.Recipient, &r.EventId, &r.Attempts, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
