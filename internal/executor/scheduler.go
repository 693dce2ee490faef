// Package executor consumes order-insert events and drives each order
// through validation, risk checks, broker submission and settlement.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantops/vixroll/internal/broker"
	"github.com/quantops/vixroll/internal/event"
	"github.com/quantops/vixroll/internal/models"
	"github.com/quantops/vixroll/internal/notify"
	"github.com/quantops/vixroll/internal/retry"
	"github.com/quantops/vixroll/internal/risk"
	"github.com/quantops/vixroll/internal/store"
	"github.com/quantops/vixroll/internal/util"
)

// Config controls one scheduler instance.
type Config struct {
	// BrokerName filters incoming orders to the configured adapter.
	BrokerName string
	// BatchTimeout bounds the concurrent dispatch phase. Orders still in
	// flight when it elapses are reported and left PENDING; their eventual
	// settlement is safe because of the conditional update.
	BatchTimeout time.Duration
	// Retry is the policy for broker and store reads.
	Retry retry.Config
}

// DefaultConfig is the default scheduler configuration.
var DefaultConfig = Config{
	BrokerName:   broker.NameIG,
	BatchTimeout: 10 * time.Second,
	Retry:        retry.DefaultConfig,
}

// Scheduler runs the executor pipeline for one batch at a time.
type Scheduler struct {
	store    store.Interface
	broker   broker.Broker
	notifier notify.Notifier
	logger   *log.Logger
	cfg      Config
}

// NewScheduler creates a scheduler. All collaborators are required.
func NewScheduler(st store.Interface, b broker.Broker, n notify.Notifier, logger *log.Logger, cfg ...Config) *Scheduler {
	c := DefaultConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.BrokerName == "" {
		c.BrokerName = DefaultConfig.BrokerName
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultConfig.BatchTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "executor: ", log.LstdFlags)
	}
	if st == nil {
		panic("executor.NewScheduler: store must not be nil")
	}
	if b == nil {
		panic("executor.NewScheduler: broker must not be nil")
	}
	if n == nil {
		panic("executor.NewScheduler: notifier must not be nil")
	}
	return &Scheduler{store: st, broker: b, notifier: n, logger: logger, cfg: c}
}

// validOrder is an order joined to its security with the broker-facing
// expiry already resolved.
type validOrder struct {
	order         *models.Order
	security      *models.Security
	displayExpiry string
}

// HandleBatch runs the full pipeline for one change-event batch.
func (s *Scheduler) HandleBatch(ctx context.Context, batch *event.Batch) error {
	report := &notify.Report{}

	orders, invalid := s.extractOrders(batch)
	report.Invalid = append(report.Invalid, invalid...)
	if len(orders) == 0 {
		s.logger.Printf("No dispatchable orders in batch")
		return s.finish(ctx, nil, report)
	}

	session, err := retry.Do(ctx, s.cfg.Retry, s.logger, "broker login", func(ctx context.Context) (*broker.Session, error) {
		return s.broker.Login(ctx)
	})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("login failed: %v", err))
		_ = s.finish(ctx, nil, report)
		return fmt.Errorf("aborting batch: %w", err)
	}

	securities, err := retry.Do(ctx, s.cfg.Retry, s.logger, "securities query", func(ctx context.Context) ([]models.Security, error) {
		return s.store.GetSecurities(ctx, securityKeys(orders, s.cfg.BrokerName))
	})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("securities query failed: %v", err))
		_ = s.finish(ctx, session, report)
		return fmt.Errorf("aborting batch: %w", err)
	}

	valid := s.validate(orders, securities, report)
	if len(valid) == 0 {
		return s.finish(ctx, session, report)
	}

	// One positions snapshot per batch, shared read-only by the risk gate.
	positions, err := retry.Do(ctx, s.cfg.Retry, s.logger, "positions query", func(ctx context.Context) ([]broker.OpenPosition, error) {
		p, err := s.broker.GetPositions(ctx, session)
		return p, authGuard(err)
	})
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("positions query failed: %v", err))
		_ = s.finish(ctx, session, report)
		return fmt.Errorf("aborting batch: %w", err)
	}

	pass := s.applyRiskGate(valid, session.Balance, positions, report)
	if err := s.dispatchAll(ctx, session, pass, report); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("session expired mid-batch: %v", err))
		_ = s.finish(ctx, session, report)
		return fmt.Errorf("aborting batch: %w", err)
	}

	return s.finish(ctx, session, report)
}

// authGuard marks session-expiry errors permanent: the session cannot recover
// within a batch, so retrying the call only burns the backoff budget.
func authGuard(err error) error {
	if errors.Is(err, broker.ErrAuthExpired) {
		return retry.Permanent(err)
	}
	return err
}

// finish logs out and delivers the report. It never masks pipeline errors.
func (s *Scheduler) finish(ctx context.Context, session *broker.Session, report *notify.Report) error {
	if session != nil {
		if err := s.broker.Logout(ctx, session); err != nil {
			s.logger.Printf("Logout failed: %v", err)
		}
	}
	if err := s.notifier.Notify(ctx, "VIX order execution report", report); err != nil {
		s.logger.Printf("Notify failed: %v", err)
	}
	return nil
}

// extractOrders pulls the dispatchable orders from the batch: INSERT records,
// PENDING status, configured broker. Everything else is logged or reported.
func (s *Scheduler) extractOrders(batch *event.Batch) ([]*models.Order, []notify.OrderOutcome) {
	var orders []*models.Order
	var invalid []notify.OrderOutcome

	for _, record := range batch.Records {
		if record.EventName != event.EventInsert {
			s.logger.Printf("Ignoring %s event", record.EventName)
			continue
		}
		o, err := record.Order()
		if err != nil {
			s.logger.Printf("Skipping malformed order record: %v", err)
			continue
		}
		if o.Status != models.StatusPending {
			s.logger.Printf("Order %s arrived %s, nothing to execute", o.OrderID, o.Status)
			continue
		}
		if o.Broker != s.cfg.BrokerName {
			invalid = append(invalid, notify.OrderOutcome{
				Order:  *o,
				Result: "invalid",
				Detail: fmt.Sprintf("broker %q is not %s", o.Broker, s.cfg.BrokerName),
			})
			continue
		}
		orders = append(orders, o)
	}
	return orders, invalid
}

func securityKeys(orders []*models.Order, brokerName string) []store.SecurityKey {
	seen := map[store.SecurityKey]bool{}
	var keys []store.SecurityKey
	for _, o := range orders {
		k := store.SecurityKey{Symbol: o.Symbol, Broker: brokerName}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// validate inner-joins orders to trading-enabled securities and converts the
// maturity to the broker's display form. Failures go to the report without
// any store write.
func (s *Scheduler) validate(orders []*models.Order, securities []models.Security, report *notify.Report) []validOrder {
	bySymbol := map[string]*models.Security{}
	for i := range securities {
		bySymbol[securities[i].Symbol] = &securities[i]
	}

	var valid []validOrder
	for _, o := range orders {
		sec, ok := bySymbol[o.Symbol]
		if !ok {
			report.Invalid = append(report.Invalid, notify.OrderOutcome{
				Order: *o, Result: "invalid", Detail: "no security definition",
			})
			continue
		}
		if !sec.TradingEnabled {
			report.Invalid = append(report.Invalid, notify.OrderOutcome{
				Order: *o, Result: "invalid", Detail: "trading disabled",
			})
			continue
		}
		display, err := util.MaturityDisplay(o.Maturity)
		if err != nil {
			report.Invalid = append(report.Invalid, notify.OrderOutcome{
				Order: *o, Result: "invalid", Detail: err.Error(),
			})
			continue
		}
		valid = append(valid, validOrder{order: o, security: sec, displayExpiry: display})
	}
	return valid
}

// netFromPositions derives the signed open position for one order's market
// from the shared broker snapshot.
func netFromPositions(positions []broker.OpenPosition, sec *models.Security, displayExpiry string) int {
	net := 0
	for _, p := range positions {
		if p.Market.InstrumentName != sec.Description.Name ||
			p.Market.InstrumentType != sec.Description.MarketGroup ||
			p.Market.Expiry != displayExpiry {
			continue
		}
		size := int(p.Size)
		if p.Direction == models.SideSell {
			size = -size
		}
		net += size
	}
	return net
}

func (s *Scheduler) applyRiskGate(valid []validOrder, balance broker.Balance, positions []broker.OpenPosition, report *notify.Report) []validOrder {
	var pass []validOrder
	for _, vo := range valid {
		net := netFromPositions(positions, vo.security, vo.displayExpiry)
		decision := risk.Check(vo.order, balance, net, vo.security)
		if !decision.OK {
			s.logger.Printf("Order %s %s", vo.order.OrderID, decision)
			report.RiskRejected = append(report.RiskRejected, notify.OrderOutcome{
				Order: *vo.order, Result: "rejected", Detail: decision.String(),
			})
			continue
		}
		pass = append(pass, vo)
	}
	return pass
}

// dispatchAll submits the surviving orders concurrently and joins them under
// the batch deadline. Late finishers are abandoned, not cancelled: they keep
// the parent context and their eventual SettleOrder is made safe by the
// PENDING predicate. A session expiry in any dispatch is returned as a
// batch-fatal error.
func (s *Scheduler) dispatchAll(ctx context.Context, session *broker.Session, pass []validOrder, report *notify.Report) error {
	if len(pass) == 0 {
		return nil
	}

	results := make(chan notify.OrderOutcome, len(pass))
	var g errgroup.Group
	for _, vo := range pass {
		g.Go(func() error {
			oc, err := s.dispatch(ctx, session, vo)
			results <- oc
			return err
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	var fatal error
	select {
	case fatal = <-done:
	case <-time.After(s.cfg.BatchTimeout):
		s.logger.Printf("Batch deadline %s elapsed with dispatches in flight", s.cfg.BatchTimeout)
	}

	settled := map[string]bool{}
	for {
		select {
		case oc := <-results:
			settled[oc.Order.OrderID] = true
			report.Submitted = append(report.Submitted, oc)
			continue
		default:
		}
		break
	}
	for _, vo := range pass {
		if !settled[vo.order.OrderID] {
			report.InFlight = append(report.InFlight, notify.OrderOutcome{
				Order: *vo.order, Result: "in-flight", Detail: "not completed before batch deadline",
			})
		}
	}
	return fatal
}

// dispatch runs one order end to end: epic resolution, deal creation, fill
// lookup, settlement. A session expiry leaves the order PENDING and returns
// the sentinel so the batch aborts; every other failure settles terminally.
func (s *Scheduler) dispatch(ctx context.Context, session *broker.Session, vo validOrder) (notify.OrderOutcome, error) {
	o := vo.order

	markets, err := retry.Do(ctx, s.cfg.Retry, s.logger, "market search", func(ctx context.Context) ([]broker.Market, error) {
		m, err := s.broker.SearchMarkets(ctx, session, o.Symbol)
		return m, authGuard(err)
	})
	if errors.Is(err, broker.ErrAuthExpired) {
		return notify.OrderOutcome{Order: *o, Result: "error", Detail: "market search failed: session expired"}, err
	}
	if err != nil {
		return s.settleOutcome(ctx, o, models.StatusFailed, nil, fmt.Sprintf("market search failed: %v", err)), nil
	}

	var matches []broker.Market
	for _, m := range markets {
		if m.InstrumentName == vo.security.Description.Name &&
			m.InstrumentType == vo.security.Description.MarketGroup &&
			m.Expiry == vo.displayExpiry {
			matches = append(matches, m)
		}
	}
	if len(matches) != 1 {
		return s.settleOutcome(ctx, o, models.StatusFailed, nil,
			fmt.Sprintf("expected one market for %s %s, found %d", o.Symbol, vo.displayExpiry, len(matches))), nil
	}
	epic := matches[0].Epic

	deal, err := s.broker.CreatePosition(ctx, session, broker.PositionRequest{
		Epic:         epic,
		Direction:    o.Details.Side,
		Expiry:       vo.displayExpiry,
		OrderType:    o.Details.OrdType,
		Size:         o.Details.Size,
		TimeInForce:  broker.TimeInForceFOK,
		Currency:     session.Balance.Ccy,
		StopDistance: o.Details.StopDistance,
	})
	if errors.Is(err, broker.ErrAuthExpired) {
		return notify.OrderOutcome{Order: *o, Result: "error", Detail: "create position failed: session expired"}, err
	}
	if err != nil {
		// The deal may or may not exist at the broker; leave the order
		// PENDING for human triage.
		return notify.OrderOutcome{Order: *o, Result: "error", Detail: fmt.Sprintf("create position failed: %v", err)}, nil
	}
	if deal.ErrorCode != "" {
		return notify.OrderOutcome{Order: *o, Result: "error", Detail: fmt.Sprintf("deal rejected: %s", deal.ErrorCode)}, nil
	}

	positions, err := retry.Do(ctx, s.cfg.Retry, s.logger, "fill lookup", func(ctx context.Context) ([]broker.OpenPosition, error) {
		p, err := s.broker.GetPositions(ctx, session)
		return p, authGuard(err)
	})
	if errors.Is(err, broker.ErrAuthExpired) {
		// The deal was accepted; the fill is unknown, not absent.
		return notify.OrderOutcome{Order: *o, Result: "error",
			Detail: fmt.Sprintf("fill lookup for deal %s failed: session expired", deal.DealReference)}, err
	}
	if err != nil {
		return s.settleOutcome(ctx, o, models.StatusFailed, nil, fmt.Sprintf("fill lookup failed: %v", err)), nil
	}

	for _, p := range positions {
		if p.DealReference != deal.DealReference {
			continue
		}
		trade := &models.Trade{
			FillTime:   p.CreatedDateUTC,
			Side:       p.Direction,
			FilledSize: int(p.Size),
			Price:      p.Level,
			Broker:     models.BrokerRef{Name: s.cfg.BrokerName, RefType: "dealId", Ref: p.DealID},
		}
		status := models.StatusFilled
		if trade.FilledSize < o.Details.Size {
			status = models.StatusPartFilled
		}
		return s.settleOutcome(ctx, o, status, trade, fmt.Sprintf("deal %s at %s", deal.DealReference, p.Level)), nil
	}

	return s.settleOutcome(ctx, o, models.StatusFailed, nil,
		fmt.Sprintf("no open position matched deal %s", deal.DealReference)), nil
}

func (s *Scheduler) settleOutcome(ctx context.Context, o *models.Order, status models.OrderStatus, trade *models.Trade, detail string) notify.OrderOutcome {
	applied, err := s.store.SettleOrder(ctx, o.OrderID, o.TransactionTime, status, trade)
	switch {
	case err != nil:
		detail = fmt.Sprintf("%s; settlement failed: %v", detail, err)
	case !applied:
		detail = fmt.Sprintf("%s; already settled elsewhere", detail)
	}
	return notify.OrderOutcome{Order: *o, Result: string(status), Detail: detail}
}
