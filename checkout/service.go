// Package checkout runs a whole checkout: one mint quote for the cart,
// then settlement and notifications for every seller in it.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/elnosh/gonuts/cashu"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shopkit/checkout-go/agreement"
	"github.com/shopkit/checkout-go/checkoutdb"
	"github.com/shopkit/checkout-go/common"
	"github.com/shopkit/checkout-go/metrics"
	"github.com/shopkit/checkout-go/notify"
	"github.com/shopkit/checkout-go/proofledger"
	"github.com/shopkit/checkout-go/quote"
	"github.com/shopkit/checkout-go/settlement"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrSessionNotFound = errors.New("session not found")
	ErrCancelled       = errors.New("checkout cancelled")
	ErrSessionFinal    = errors.New("session already finished")
	ErrInProgress      = errors.New("session is already waiting for payment")
)

// Service ties quote polling, settlement, notification and persistence
// together.
type Service struct {
	quotes    *quote.Manager
	engine    *settlement.Engine
	sequencer *notify.Sequencer
	profiles  agreement.ProfileLookup
	db        *checkoutdb.CheckoutDB
	mintURL   string

	mu       sync.Mutex
	sessions map[string]*session

	// background completions started by Go
	ctx context.Context
	wg  sync.WaitGroup
}

// session is the in-memory side of a checkout that the database does not
// hold: the quote, the prepared orders and the polling cancel func.
type session struct {
	id        string
	quote     *agreement.MintQuote
	orders    []*agreement.OrderContext
	profiles  map[string]*agreement.SellerProfile
	cancel    context.CancelFunc
	cancelled bool
	outcome   *Outcome
	running   bool
}

func NewService(
	ctx context.Context,
	quotes *quote.Manager,
	engine *settlement.Engine,
	sequencer *notify.Sequencer,
	profiles agreement.ProfileLookup,
	db *checkoutdb.CheckoutDB,
	mintURL string,
) *Service {
	return &Service{
		quotes:    quotes,
		engine:    engine,
		sequencer: sequencer,
		profiles:  profiles,
		db:        db,
		mintURL:   mintURL,
		sessions:  make(map[string]*session),
		ctx:       ctx,
	}
}

// prepare validates the cart and builds one order per item.
func (s *Service) prepare(ctx context.Context, req *Request) ([]*agreement.OrderContext, map[string]*agreement.SellerProfile, error) {
	if len(req.Items) == 0 {
		return nil, nil, ErrEmptyCart
	}
	buyer, err := common.NormalizePubkey(req.BuyerPubkey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: buyer pubkey: %v", agreement.ErrInvalidOrder, err)
	}

	orders := make([]*agreement.OrderContext, 0, len(req.Items))
	profiles := make(map[string]*agreement.SellerProfile)
	for _, item := range req.Items {
		seller, err := common.NormalizePubkey(item.SellerPubkey)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: seller pubkey: %v", agreement.ErrInvalidOrder, err)
		}
		profile, ok := profiles[seller]
		if !ok {
			if profile, err = s.profiles.Profile(ctx, seller); err != nil {
				return nil, nil, fmt.Errorf("seller profile %s: %w", common.Shorten(seller, 6), err)
			}
			profiles[seller] = profile
		}
		order, err := settlement.NewOrder(agreement.OrderContext{
			OrderId:      uuid.New().String(),
			BuyerPubkey:  buyer,
			SellerPubkey: seller,
			TotalAmount:  item.Amount,
			Currency:     req.Currency,
			Shipping:     item.Shipping,
			Pickup:       item.Pickup,
			Product:      item.Product,
		}, profile)
		if err != nil {
			return nil, nil, err
		}
		orders = append(orders, order)
	}
	return orders, profiles, nil
}

// Start validates the cart, creates a mint quote for its total and opens a
// pending session. The buyer pays the returned session's invoice.
func (s *Service) Start(ctx context.Context, req *Request) (*checkoutdb.Session, error) {
	orders, profiles, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	var total uint64
	for _, o := range orders {
		total += o.TotalAmount
	}

	q, err := s.quotes.CreateQuote(ctx, total)
	if err != nil {
		return nil, err
	}

	sess := &checkoutdb.Session{
		Id:          uuid.New().String(),
		QuoteId:     q.Id,
		Invoice:     q.Request,
		Amount:      total,
		BuyerPubkey: orders[0].BuyerPubkey,
		Status:      checkoutdb.SessionPending,
	}
	if err := s.db.InsertSession(sess); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.Id] = &session{id: sess.Id, quote: q, orders: orders, profiles: profiles}
	s.mu.Unlock()

	logger.WithFields(logger.Fields{
		"session": sess.Id,
		"quote":   q.Id,
		"amount":  total,
		"orders":  len(orders),
	}).Info("checkout started")
	return sess, nil
}

// Run starts a checkout and completes it in one call.
func (s *Service) Run(ctx context.Context, req *Request) (*Outcome, error) {
	sess, err := s.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Complete(ctx, sess.Id)
}

// Go completes the session in the background. Wait blocks until every
// background completion has returned.
func (s *Service) Go(sessionId string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Complete(s.ctx, sessionId); err != nil {
			logger.WithField("session", sessionId).Warnf("checkout not completed: err=%v", err)
		}
	}()
}

func (s *Service) Wait() {
	s.wg.Wait()
}

// Complete waits for the session's invoice to be paid, settles every order
// and sends the notifications. Completing a settled session returns the
// first outcome. A cancelled session can be completed again.
func (s *Service) Complete(ctx context.Context, sessionId string) (*Outcome, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionId]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if sess.outcome != nil {
		out := sess.outcome
		s.mu.Unlock()
		return out, nil
	}
	if sess.running {
		s.mu.Unlock()
		return nil, ErrInProgress
	}
	pollCtx, cancel := context.WithCancel(ctx)
	sess.cancel, sess.cancelled, sess.running = cancel, false, true
	s.mu.Unlock()

	newLogger := logger.WithField("session", sessionId)
	if err := s.db.UpdateSessionStatus(sessionId, checkoutdb.SessionPending, ""); err != nil {
		newLogger.Errorf("failed to update session: err=%v", err)
	}

	paid, err := s.quotes.AwaitPayment(pollCtx, sess.quote)
	cancel()

	s.mu.Lock()
	sess.running = false
	cancelled := sess.cancelled
	s.mu.Unlock()

	if err != nil {
		status := checkoutdb.SessionFailed
		switch {
		case cancelled:
			status, err = checkoutdb.SessionCancelled, ErrCancelled
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = checkoutdb.SessionCancelled
		case errors.Is(err, quote.ErrQuoteTimeout):
			status = checkoutdb.SessionTimeout
		}
		if dbErr := s.db.UpdateSessionStatus(sessionId, status, err.Error()); dbErr != nil {
			newLogger.Errorf("failed to update session: err=%v", dbErr)
		}
		return nil, err
	}

	out := &Outcome{SessionId: sessionId}
	if paid.Warning != nil {
		// proofs went to an earlier run; there is nothing to split here
		out.Warnings = append(out.Warnings, paid.Warning)
		s.finish(sess, out, checkoutdb.SessionSettled, paid.Warning.Error())
		return out, nil
	}

	if err := s.db.UpdateSessionStatus(sessionId, checkoutdb.SessionPaid, ""); err != nil {
		newLogger.Errorf("failed to update session: err=%v", err)
	}

	settleErr := s.settle(ctx, sess, proofledger.NewRemaining(paid.Proofs), out)
	s.notifyAll(ctx, out)

	status, warning := checkoutdb.SessionSettled, ""
	if settleErr != nil {
		status, warning = checkoutdb.SessionFailed, settleErr.Error()
	}
	s.finish(sess, out, status, warning)
	return out, settleErr
}

// settle pays out the orders one after another from the same proofs.
// The first failure stops the rest; whatever is left goes back to the buyer.
func (s *Service) settle(ctx context.Context, sess *session, r proofledger.Remaining, out *Outcome) error {
	var settleErr error
	for _, order := range sess.orders {
		var res *settlement.Result
		var err error
		res, r, err = s.engine.Settle(ctx, order, sess.profiles[order.SellerPubkey], r)
		if err != nil {
			settleErr = fmt.Errorf("order %s: %w", order.OrderId, err)
			break
		}
		out.Orders = append(out.Orders, &OrderOutcome{Order: order, Result: res})
		out.Warnings = append(out.Warnings, res.Warnings...)
		s.storeOrder(sess.id, order, res)
	}

	if r.Amount() > 0 {
		if err := s.returnChange(sess.id, r.Proofs(), out); err != nil {
			logger.WithField("session", sess.id).Errorf("failed to encode buyer change: err=%v", err)
			if settleErr == nil {
				settleErr = err
			}
		}
	}
	return settleErr
}

func (s *Service) returnChange(sessionId string, proofs cashu.Proofs, out *Outcome) error {
	token, err := proofledger.Encode(s.mintURL, proofs)
	if err != nil {
		return err
	}
	out.ChangeToken, out.Change = token, proofledger.Sum(proofs)
	metrics.SettledSats.WithLabelValues("change").Add(float64(out.Change))

	if err := s.db.SetChangeToken(sessionId, token); err != nil {
		logger.WithField("session", sessionId).Errorf("failed to store change token: err=%v", err)
	}
	s.recordProof(&checkoutdb.ProofRecord{SessionId: sessionId, Kind: checkoutdb.ProofChange, Amount: out.Change, Token: token})
	return nil
}

func (s *Service) storeOrder(sessionId string, order *agreement.OrderContext, res *settlement.Result) {
	rec := &checkoutdb.Order{
		OrderId:        order.OrderId,
		SessionId:      sessionId,
		SellerPubkey:   order.SellerPubkey,
		TotalAmount:    order.TotalAmount,
		DonationAmount: order.DonationAmount,
		SellerAmount:   order.SellerAmount,
		Channel:        string(res.Channel),
		Reference:      res.Reference(),
		Unmelted:       res.Unmelted,
	}
	for _, w := range res.Warnings {
		rec.Warnings = append(rec.Warnings, w.Error())
	}
	if err := s.db.InsertOrder(rec); err != nil {
		logger.WithField("order", order.OrderId).Errorf("failed to store order: err=%v", err)
	}

	if res.SellerToken != "" {
		kind := checkoutdb.ProofSeller
		if res.Unmelted {
			kind = checkoutdb.ProofUnmelted
		}
		s.recordProof(&checkoutdb.ProofRecord{SessionId: sessionId, OrderId: order.OrderId, Kind: kind, Amount: res.SellerPaid, Token: res.SellerToken})
	}
	if res.ChangeToken != "" {
		s.recordProof(&checkoutdb.ProofRecord{SessionId: sessionId, OrderId: order.OrderId, Kind: checkoutdb.ProofFeeChange, Amount: res.ChangeAmount, Token: res.ChangeToken})
	}
	if res.DonationToken != "" {
		s.recordProof(&checkoutdb.ProofRecord{SessionId: sessionId, OrderId: order.OrderId, Kind: checkoutdb.ProofDonation, Amount: res.DonationAmount, Token: res.DonationToken})
	}
}

func (s *Service) recordProof(rec *checkoutdb.ProofRecord) {
	if err := s.db.InsertProofRecord(rec); err != nil {
		logger.WithFields(logger.Fields{"session": rec.SessionId, "kind": rec.Kind}).Errorf("failed to store proof record: err=%v", err)
	}
}

// notifyAll sends every settled order's messages, one goroutine per order.
func (s *Service) notifyAll(ctx context.Context, out *Outcome) {
	var g errgroup.Group
	for _, oo := range out.Orders {
		oo := oo
		g.Go(func() error {
			msgs, err := notify.BuildMessages(oo.Order, oo.Result)
			if err != nil {
				logger.WithField("order", oo.Order.OrderId).Errorf("dropped invalid messages: err=%v", err)
			}
			if len(msgs) == 0 {
				oo.Report = &notify.Report{OrderId: oo.Order.OrderId}
				return nil
			}
			oo.Report = s.sequencer.Send(ctx, oo.Order.OrderId, msgs)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) finish(sess *session, out *Outcome, status checkoutdb.SessionStatus, warning string) {
	s.mu.Lock()
	sess.outcome = out
	s.mu.Unlock()
	if err := s.db.UpdateSessionStatus(sess.id, status, warning); err != nil {
		logger.WithField("session", sess.id).Errorf("failed to update session: err=%v", err)
	}
	logger.WithFields(logger.Fields{
		"session":  sess.id,
		"status":   status,
		"orders":   len(out.Orders),
		"change":   out.Change,
		"warnings": len(out.Warnings),
	}).Info("checkout finished")
}

// Cancel stops waiting for the session's payment. The mint quote is left
// untouched so a late payment can still be claimed by completing again.
func (s *Service) Cancel(sessionId string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionId]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if sess.outcome != nil {
		s.mu.Unlock()
		return ErrSessionFinal
	}
	sess.cancelled = true
	if sess.cancel != nil {
		sess.cancel()
	}
	running := sess.running
	s.mu.Unlock()

	if !running {
		if err := s.db.UpdateSessionStatus(sessionId, checkoutdb.SessionCancelled, ErrCancelled.Error()); err != nil {
			return err
		}
	}
	logger.WithField("session", sessionId).Info("checkout cancelled")
	return nil
}

// Status returns the stored session and its settled orders.
func (s *Service) Status(sessionId string) (*checkoutdb.Session, []*checkoutdb.Order, error) {
	sess, ok, err := s.db.GetSession(sessionId)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	orders, err := s.db.GetOrdersBySession(sessionId)
	if err != nil {
		return nil, nil, err
	}
	return sess, orders, nil
}

// NotifyExternal sends the order messages for a cart paid outside the mint,
// by card (settlement.ChannelStripe) or a fiat provider.
func (s *Service) NotifyExternal(ctx context.Context, req *Request, channel settlement.Channel, ref string) (*Outcome, error) {
	if channel == settlement.ChannelEcash || channel == settlement.ChannelLightning {
		return nil, fmt.Errorf("%w: %s is not an external channel", agreement.ErrInvalidOrder, channel)
	}
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: missing payment reference", agreement.ErrInvalidOrder)
	}
	orders, _, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	var total uint64
	for _, o := range orders {
		total += o.TotalAmount
	}
	sess := &checkoutdb.Session{
		Id:          uuid.New().String(),
		Invoice:     ref,
		Amount:      total,
		BuyerPubkey: orders[0].BuyerPubkey,
		Status:      checkoutdb.SessionPaid,
	}
	if err := s.db.InsertSession(sess); err != nil {
		return nil, err
	}

	out := &Outcome{SessionId: sess.Id}
	for _, order := range orders {
		res := settlement.External(order, channel, ref)
		out.Orders = append(out.Orders, &OrderOutcome{Order: order, Result: res})
		s.storeOrder(sess.Id, order, res)
	}
	s.notifyAll(ctx, out)

	runtime := &session{id: sess.Id, orders: orders}
	s.mu.Lock()
	s.sessions[sess.Id] = runtime
	s.mu.Unlock()
	s.finish(runtime, out, checkoutdb.SessionSettled, "")
	return out, nil
}
