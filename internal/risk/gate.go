// Package risk implements the per-order pre-trade checks.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantops/vixroll/internal/broker"
	"github.com/quantops/vixroll/internal/models"
)

// Decision is the outcome of the gate for one order. Rejections are not
// retryable; the order is reported and never submitted.
type Decision struct {
	OK      bool
	Reasons []string
}

func (d Decision) String() string {
	if d.OK {
		return "accepted"
	}
	return fmt.Sprintf("rejected: %v", d.Reasons)
}

// WithinPositionLimit reports whether applying the order to the current net
// position keeps it within the security's MaxPosition. BUY grows the signed
// position; SELL shrinks it, bounded in absolute terms. Comparisons are
// inclusive on the allowed side.
func WithinPositionLimit(side models.Side, size, netPosition, maxPosition int) bool {
	switch side {
	case models.SideBuy:
		return netPosition+size <= maxPosition
	case models.SideSell:
		return abs(netPosition-size) <= maxPosition
	default:
		return false
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Check applies all pre-trade rules to one order: balance fraction, absolute
// size, resulting position bound, and the trading-enabled flag.
func Check(o *models.Order, balance broker.Balance, netPosition int, sec *models.Security) Decision {
	var reasons []string

	if !sec.TradingEnabled {
		reasons = append(reasons, fmt.Sprintf("trading disabled for %s/%s", sec.Symbol, sec.Broker))
	}

	size := o.Details.Size
	if balance.Amount.IsPositive() {
		fraction, _ := decimal.NewFromInt(int64(size)).Div(balance.Amount).Float64()
		if fraction > sec.Risk.RiskFactor {
			reasons = append(reasons, fmt.Sprintf(
				"size %d is %.4f of balance %s, above risk factor %.4f",
				size, fraction, balance.Amount, sec.Risk.RiskFactor))
		}
	} else {
		reasons = append(reasons, fmt.Sprintf("non-positive balance %s", balance.Amount))
	}

	if size > sec.Risk.MaxPosition {
		reasons = append(reasons, fmt.Sprintf(
			"size %d above max position %d", size, sec.Risk.MaxPosition))
	}

	if !WithinPositionLimit(o.Details.Side, size, netPosition, sec.Risk.MaxPosition) {
		reasons = append(reasons, fmt.Sprintf(
			"%s %d on net position %d breaches max position %d",
			o.Details.Side, size, netPosition, sec.Risk.MaxPosition))
	}

	return Decision{OK: len(reasons) == 0, Reasons: reasons}
}
