package agents

import (
	"context"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/metrics"
	"github.com/quantfabric/mycelium/internal/model"
	"github.com/quantfabric/mycelium/internal/state"
)

// KindRiskManager is the agent kind for the drawdown circuit breaker.
const KindRiskManager = "risk_manager"

// RiskManager watches trade confirmations and halts the whole system when
// portfolio drawdown from peak exceeds the configured limit. The halt is
// one-way within a run.
type RiskManager struct {
	Base

	initialValue float64
	currentValue float64
	peakValue    float64
	maxDrawdown  float64
	isHalted     bool
}

// RiskManagerConfig configures the circuit breaker.
type RiskManagerConfig struct {
	InitialPortfolioValue float64 // default 10000
	MaxDrawdown           float64 // fraction, default 0.05
}

// NewRiskManager creates the risk manager and subscribes it to trade
// confirmations.
func NewRiskManager(cfg RiskManagerConfig, b bus.Bus, st state.Store, conn exchange.Connector) (*RiskManager, error) {
	if cfg.InitialPortfolioValue <= 0 {
		cfg.InitialPortfolioValue = 10000
	}
	if cfg.MaxDrawdown <= 0 {
		cfg.MaxDrawdown = 0.05
	}

	r := &RiskManager{
		Base:         NewBase(KindRiskManager, b, st, conn),
		initialValue: cfg.InitialPortfolioValue,
		currentValue: cfg.InitialPortfolioValue,
		peakValue:    cfg.InitialPortfolioValue,
		maxDrawdown:  cfg.MaxDrawdown,
	}

	if err := r.subscribe(bus.TopicTradeConfirmations, func(msg *bus.Message) {
		var conf model.Confirmation
		if err := msg.Decode(&conf); err != nil {
			r.log.Warn().Err(err).Msg("Dropping malformed confirmation")
			return
		}
		r.HandleConfirmation(&conf)
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// Step is a no-op; the risk manager reacts to confirmations.
func (r *RiskManager) Step(context.Context) error { return nil }

// IsHalted reports whether the circuit breaker has tripped.
func (r *RiskManager) IsHalted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isHalted
}

// Drawdown returns the current drawdown fraction from peak.
func (r *RiskManager) Drawdown() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drawdownLocked()
}

func (r *RiskManager) drawdownLocked() float64 {
	if r.peakValue <= 0 {
		return 0
	}
	return (r.peakValue - r.currentValue) / r.peakValue
}

// HandleConfirmation applies one confirmation's realized P&L to the tracked
// portfolio value. Closed round-trips scale the current value by their net
// percentage; opens carry no realized P&L.
func (r *RiskManager) HandleConfirmation(conf *model.Confirmation) {
	r.mu.Lock()
	if conf.Closed {
		r.currentValue *= 1 + conf.PnLPct/100
	}
	if r.currentValue > r.peakValue {
		r.peakValue = r.currentValue
	}
	dd := r.drawdownLocked()
	trip := dd > r.maxDrawdown && !r.isHalted
	if trip {
		r.isHalted = true
	}
	r.mu.Unlock()

	if !trip {
		return
	}

	metrics.RiskHalted.Set(1)
	r.log.Warn().
		Float64("drawdown", dd).
		Float64("limit", r.maxDrawdown).
		Msg("Drawdown limit breached, halting trading")
	r.publish(bus.TopicSystemControl, &bus.ControlCommand{
		Command: bus.CommandHaltTrading,
		Reason:  "max drawdown exceeded",
		Source:  r.Name(),
	})
}
