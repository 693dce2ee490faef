// Package strategy implements the VIX roll strategy: it watches end-of-day
// quotes for the VIX spot and the front-month future and trades the
// normalised basis between them.
package strategy

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"github.com/quantops/vixroll/internal/broker"
	"github.com/quantops/vixroll/internal/calendar"
	"github.com/quantops/vixroll/internal/event"
	"github.com/quantops/vixroll/internal/models"
	"github.com/quantops/vixroll/internal/retry"
	"github.com/quantops/vixroll/internal/risk"
	"github.com/quantops/vixroll/internal/store"
	"github.com/quantops/vixroll/internal/util"
)

// Root is the futures root symbol the strategy trades.
const Root = "VX"

// SpotSymbol is the spot index the roll is measured against.
const SpotSymbol = "VIX"

// Name tags every order the strategy emits.
const Name = "VIX_ROLL"

// Config holds the strategy parameters.
type Config struct {
	// StdSize is the size of every entry order.
	StdSize int
	// MaxRoll is the absolute roll threshold that triggers an entry.
	MaxRoll float64
	// StopDistance, when non-zero, attaches a stop to entry orders.
	StopDistance int
	// BackTest short-circuits execution: orders are written already FILLED
	// at the front future's close.
	BackTest bool
	// RollFileKey is the ledger object path for the idempotence guard.
	RollFileKey string
	// BrokerName is the broker orders are routed to.
	BrokerName string
	// Retry is the policy for store reads.
	Retry retry.Config
}

// Evaluator decides, once per (date, symbol), whether to open, hold or close
// the VIX roll position.
type Evaluator struct {
	store  store.Interface
	cfg    Config
	logger *log.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(st store.Interface, cfg Config, logger *log.Logger) *Evaluator {
	if logger == nil {
		logger = log.New(os.Stderr, "strategy: ", log.LstdFlags)
	}
	if cfg.BrokerName == "" {
		cfg.BrokerName = broker.NameIG
	}
	if cfg.MaxRoll <= 0 {
		cfg.MaxRoll = 0.10
	}
	if st == nil {
		panic("strategy.NewEvaluator: store must not be nil")
	}
	return &Evaluator{store: st, cfg: cfg, logger: logger}
}

// HandleBatch evaluates every inserted quote in the batch sequentially.
func (e *Evaluator) HandleBatch(ctx context.Context, batch *event.Batch) error {
	for _, record := range batch.Records {
		if record.EventName != event.EventInsert {
			e.logger.Printf("Ignoring %s event", record.EventName)
			continue
		}
		symbol, date, err := record.QuoteKey()
		if err != nil {
			e.logger.Printf("Skipping malformed quote record: %v", err)
			continue
		}
		e.logger.Printf("New quote received for %s on %s", symbol, date)
		if err := e.Evaluate(ctx, symbol, date); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs the decision state machine for one (symbol, date) quote.
func (e *Evaluator) Evaluate(ctx context.Context, symbol, date string) error {
	day, err := util.ParseDate(date)
	if err != nil {
		return err
	}
	front := calendar.FrontMonthSymbol(Root, day)
	if symbol != SpotSymbol && symbol != front {
		e.logger.Printf("Symbol %s is neither spot nor front future %s", symbol, front)
		return nil
	}

	vix, err := e.getQuote(ctx, SpotSymbol, date)
	if err != nil {
		return err
	}
	future, err := e.getQuote(ctx, front, date)
	if err != nil {
		return err
	}
	if vix == nil || future == nil {
		e.logger.Printf("Need both spot and future quotes for %s to run, waiting", date)
		return nil
	}

	expiry := calendar.ExpiryOnOrAfter(day)
	daysLeft := calendar.DaysUntil(day, expiry)
	if daysLeft <= 0 {
		e.logger.Printf("Expiry %s is not ahead of %s", util.FormatDate(expiry), date)
		return nil
	}

	basis := future.Close.Sub(vix.Close)
	roll := basis.Div(decimal.NewFromInt(int64(daysLeft))).Round(2)
	e.logger.Printf("Roll %s for %s with %d days to expiry %s",
		roll, front, daysLeft, util.FormatDate(expiry))

	line := fmt.Sprintf("%s,%s,%s,%s,%d,%s",
		date, front, future.Close, vix.Close, daysLeft, roll.StringFixed(2))
	ran, err := e.store.LedgerHas(e.cfg.RollFileKey, line)
	if err != nil {
		return err
	}
	if ran {
		e.logger.Printf("Already evaluated %s for %s, skipping", front, date)
		return nil
	}
	if err := e.store.LedgerAppend(e.cfg.RollFileKey, line); err != nil {
		return err
	}

	maturity := util.Maturity(expiry)
	orders, err := retry.Do(ctx, e.cfg.Retry, e.logger, "orders query", func(ctx context.Context) ([]models.Order, error) {
		return e.store.GetOrdersBySymbolBroker(ctx, Root, e.cfg.BrokerName)
	})
	if err != nil {
		return err
	}
	openPos := models.NetPosition(orders, maturity)

	// Flatten one day before expiry; on expiry day itself nothing happens.
	if openPos != 0 && daysLeft == 1 {
		side := models.SideSell
		if openPos < 0 {
			side = models.SideBuy
		}
		e.logger.Printf("Closing open position %d on %s before expiry %s",
			openPos, front, util.FormatDate(expiry))
		return e.emitOrder(ctx, side, abs(openPos), 0, models.ReasonClose, maturity, date, future.Close)
	}

	if daysLeft <= 1 {
		e.logger.Printf("No new entries with %d day(s) to expiry", daysLeft)
		return nil
	}

	if roll.Abs().LessThan(decimal.NewFromFloat(e.cfg.MaxRoll)) {
		e.logger.Printf("Roll %s below threshold %.2f, holding", roll, e.cfg.MaxRoll)
		return nil
	}

	side := models.SideSell
	if basis.IsNegative() {
		side = models.SideBuy
	}

	maxPos, err := e.maxPosition(ctx)
	if err != nil {
		return err
	}
	if !risk.WithinPositionLimit(side, e.cfg.StdSize, openPos, maxPos) {
		e.logger.Printf("Entry %s %d on position %d would breach max position %d, holding",
			side, e.cfg.StdSize, openPos, maxPos)
		return nil
	}

	e.logger.Printf("Entering %s %d on roll %s", side, e.cfg.StdSize, roll)
	return e.emitOrder(ctx, side, e.cfg.StdSize, e.cfg.StopDistance, models.ReasonOpen, maturity, date, future.Close)
}

func (e *Evaluator) getQuote(ctx context.Context, symbol, date string) (*models.Quote, error) {
	return retry.Do(ctx, e.cfg.Retry, e.logger, "quote query", func(ctx context.Context) (*models.Quote, error) {
		return e.store.GetQuote(ctx, symbol, date)
	})
}

func (e *Evaluator) maxPosition(ctx context.Context) (int, error) {
	securities, err := retry.Do(ctx, e.cfg.Retry, e.logger, "securities query", func(ctx context.Context) ([]models.Security, error) {
		return e.store.GetSecurities(ctx, []store.SecurityKey{{Symbol: Root, Broker: e.cfg.BrokerName}})
	})
	if err != nil {
		return 0, err
	}
	if len(securities) == 0 {
		return 0, fmt.Errorf("no security definition for %s/%s", Root, e.cfg.BrokerName)
	}
	return securities[0].Risk.MaxPosition, nil
}

func (e *Evaluator) emitOrder(ctx context.Context, side models.Side, size, stop int, reason models.Reason, maturity, date string, fillPrice decimal.Decimal) error {
	o := &models.Order{
		Symbol:      Root,
		Broker:      e.cfg.BrokerName,
		Maturity:    maturity,
		ProductType: "FUTURE",
		Details: models.OrderDetails{
			Side:         side,
			Size:         size,
			OrdType:      models.OrdTypeMarket,
			StopDistance: stop,
		},
		Strategy: models.StrategyTag{Name: Name, Reason: reason},
	}
	if e.cfg.BackTest {
		o.Status = models.StatusFilled
		o.Trade = &models.Trade{
			FillTime:   date,
			Side:       side,
			FilledSize: size,
			Price:      fillPrice,
			Broker:     models.BrokerRef{Name: "BACKTEST"},
		}
	}
	if err := e.store.CreateOrder(ctx, o); err != nil {
		return fmt.Errorf("emitting %s order: %w", reason, err)
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
