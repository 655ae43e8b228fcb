// Package model defines the payload and storage schemas shared by the agent
// runtime: feature frames, trade ideas, policy records, and the durable rows.
package model

import (
	"time"

	"github.com/quantfabric/mycelium/internal/exchange"
)

// Feature keys every market frame carries once the producer has warmed up.
const (
	FeatureClose = "close"
	FeatureHigh  = "high"
	FeatureLow   = "low"
	FeatureRSI   = "RSI"
	FeatureATR   = "ATR"
	FeatureMOM   = "MOM"
)

// FeatureFrame is an enriched observation published by a data producer.
// Timestamp is seconds since the epoch.
type FeatureFrame struct {
	Source    string             `json:"source"`
	Timestamp float64            `json:"timestamp"`
	Target    string             `json:"target"`
	Features  map[string]float64 `json:"features"`
	Labels    map[string]string  `json:"labels,omitempty"`
}

// Time converts the epoch-seconds timestamp to a time.Time.
func (f *FeatureFrame) Time() time.Time {
	sec := int64(f.Timestamp)
	nsec := int64((f.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// TradeIdea is a proposed trade from a signal producer. Baseline ideas carry
// SignalType and IndicatorValue; mycelial ideas carry the swarm fields.
type TradeIdea struct {
	Source       string             `json:"source"`
	Pair         string             `json:"pair"`
	Direction    exchange.Direction `json:"direction"`
	OrderType    exchange.OrderType `json:"order_type"`
	Amount       float64            `json:"amount"`
	CurrentPrice float64            `json:"current_price"`
	Timestamp    time.Time          `json:"timestamp"`
	Confidence   float64            `json:"confidence"`

	// Baseline producer fields.
	SignalType     string  `json:"signal_type,omitempty"`
	IndicatorValue float64 `json:"indicator_value,omitempty"`

	// Mycelial producer fields.
	PredictionScore      float64 `json:"prediction_score,omitempty"`
	InterestingnessScore float64 `json:"interestingness_score,omitempty"`
	SimulatedPnL         float64 `json:"simulated_pnl,omitempty"`
	TotalPnL             float64 `json:"total_pnl,omitempty"`
	WinRate              float64 `json:"win_rate,omitempty"`
	TradeCount           int     `json:"trade_count,omitempty"`
	ProductFocus         string  `json:"product_focus,omitempty"`
}

// PolicyRecord is a pattern-learner's latest belief state, written to shared
// state under "policy:{agent-name}" and overwritten on every frame.
type PolicyRecord struct {
	PredictionScore     float64            `json:"prediction_score"`
	StrategyVector      [4]float64         `json:"strategy_vector"` // [rsi_thresh, atr_mult, mom, rsi_conf]
	ClosePrice          float64            `json:"close_price"`
	ParentID            *uint64            `json:"parent_id,omitempty"`
	Generation          int                `json:"generation"`
	BirthTimestamp      float64            `json:"birth_timestamp"`
	AgentID             uint64             `json:"agent_id"`
	ProductFocus        string             `json:"product_focus"`
	PatternAgeMinutes   float64            `json:"pattern_age_minutes"`
	PatternDecayFactor  float64            `json:"pattern_decay_factor"`
	PatternCurrentValue float64            `json:"pattern_current_value"`
	RawFeatures         map[string]float64 `json:"raw_features"`
}

// DecayFactor implements the policy decay invariant: patterns lose 0.5% of
// their value per minute of age, floored at zero.
func DecayFactor(ageMinutes float64) float64 {
	f := 1 - 0.005*ageMinutes
	if f < 0 {
		return 0
	}
	return f
}

// CurrentValue scores a decayed prediction on a 0-100 scale.
func CurrentValue(predictionScore, decayFactor float64) float64 {
	return predictionScore * decayFactor * 100
}

// Confirmation is published on trade-confirmations after an executed order.
type Confirmation struct {
	TradeID    string             `json:"trade_id"`
	Pair       string             `json:"pair"`
	Direction  exchange.Direction `json:"direction"`
	Amount     float64            `json:"amount"`
	Price      float64            `json:"price"`
	PnLPct     float64            `json:"pnl_pct"` // realized, net of costs; 0 on open
	Closed     bool               `json:"closed"`
	Timestamp  time.Time          `json:"timestamp"`
	SignalType string             `json:"signal_type,omitempty"`
}

// StreamPnL is the cumulative P&L state of one signal stream.
type StreamPnL struct {
	CumulativePct float64 `json:"cumulative_pct"`
	TradeCount    int     `json:"trade_count"`
	WinCount      int     `json:"win_count"`
}

// SynthesizedLogEntry is published on synthesized-trade-log when a collision
// executes; it carries all three P&L streams.
type SynthesizedLogEntry struct {
	Pair         string             `json:"pair"`
	Direction    exchange.Direction `json:"direction"`
	Price        float64            `json:"price"`
	Amount       float64            `json:"amount"`
	Timestamp    time.Time          `json:"timestamp"`
	BaselineIdea TradeIdea          `json:"baseline_idea"`
	MycelialIdea TradeIdea          `json:"mycelial_idea"`
	Baseline     StreamPnL          `json:"baseline"`
	Mycelial     StreamPnL          `json:"mycelial"`
	Synthesized  StreamPnL          `json:"synthesized"`
}

// BuildRequest asks the builder for a missing capability.
type BuildRequest struct {
	ToolNeeded string    `json:"tool_needed"`
	Reason     string    `json:"reason"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// Proposal is a prospector's case for deploying a new asset.
type Proposal struct {
	Pair       string         `json:"pair"`
	Team       string         `json:"team"`
	Agent      string         `json:"agent"`
	Score      int            `json:"score"`
	Confidence float64        `json:"confidence"` // score/8
	Breakdown  map[string]int `json:"breakdown"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Consensus is published when enough team members agree on a pair.
type Consensus struct {
	Pair      string    `json:"pair"`
	Team      string    `json:"team"`
	Votes     int       `json:"votes"`
	Timestamp time.Time `json:"timestamp"`
}

// HibernationNotice is published when a chronically losing pair is retired.
type HibernationNotice struct {
	Pair          string    `json:"pair"`
	Reason        string    `json:"reason"`
	FinalPnL      float64   `json:"final_pnl"`
	ProbationDays float64   `json:"probation_days"`
	Timestamp     time.Time `json:"timestamp"`
}

// ArchivedPattern is the durable row written for high-value decayed policies.
type ArchivedPattern struct {
	AgentID      uint64  `json:"agent_id"`
	Timestamp    float64 `json:"timestamp"`
	PatternValue float64 `json:"pattern_value"`
	RawFeatures  string  `json:"raw_features"` // serialized feature map
	AgeMinutes   float64 `json:"age_minutes"`
	DecayFactor  float64 `json:"decay_factor"`
}

// TradeRecord is the durable row written for every completed round-trip.
type TradeRecord struct {
	TradeID           string    `json:"trade_id"`
	Pair              string    `json:"pair"`
	StrategyType      string    `json:"strategy_type"`
	AgentID           uint64    `json:"agent_id"`
	PatternID         *int64    `json:"pattern_id,omitempty"`
	EntryTimestamp    time.Time `json:"entry_timestamp"`
	ExitTimestamp     time.Time `json:"exit_timestamp"`
	HoldSeconds       float64   `json:"hold_seconds"`
	EntryPrice        float64   `json:"entry_price"`
	ExitPrice         float64   `json:"exit_price"`
	PriceChangePct    float64   `json:"price_change_pct"`
	PnLPct            float64   `json:"pnl_pct"` // net of fees and slippage
	PnLAbsolute       float64   `json:"pnl_absolute"`
	Result            string    `json:"result"` // WIN or LOSS
	EntryRSI          float64   `json:"entry_rsi"`
	EntryATR          float64   `json:"entry_atr"`
	EntryMOM          float64   `json:"entry_mom"`
	SignalSource      string    `json:"signal_source"`
	PredictionScore   *float64  `json:"prediction_score,omitempty"`
	CrossMoatScore    float64   `json:"cross_moat_score"`
	CollisionDetected bool      `json:"collision_detected"`
	PositionSize      float64   `json:"position_size"`
	FeesPaid          float64   `json:"fees_paid"`
	SlippagePct       float64   `json:"slippage_pct"`
}
