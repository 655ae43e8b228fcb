package agents

import (
	"context"
	"math"
	"time"

	"github.com/quantfabric/mycelium/internal/bus"
	"github.com/quantfabric/mycelium/internal/exchange"
	"github.com/quantfabric/mycelium/internal/indicators"
	"github.com/quantfabric/mycelium/internal/model"
	"github.com/quantfabric/mycelium/internal/state"
)

// Moat identifies a non-price data domain fused with price signals.
type Moat string

const (
	MoatCode        Moat = "Code"
	MoatLogistics   Moat = "Logistics"
	MoatGovernment  Moat = "Government"
	MoatCorporation Moat = "Corporations"
)

// MoatFetch pulls one observation from an external source adapter.
type MoatFetch func(ctx context.Context) (map[string]float64, error)

// MoatProducer polls an auxiliary data adapter and publishes feature frames
// on the moat's channel. The latest observation is cached so transient
// adapter failures do not interrupt the downstream signal flow.
type MoatProducer struct {
	Base

	moat          Moat
	target        string
	topic         string
	fetch         MoatFetch
	fetchInterval time.Duration

	lastFetch time.Time
	cached    *model.FeatureFrame
}

// MoatProducerConfig configures a moat producer.
type MoatProducerConfig struct {
	Moat          Moat
	Target        string // e.g. language for code, region for logistics
	FetchInterval time.Duration
	Fetch         MoatFetch
}

// NewMoatProducer creates a producer for one moat target.
func NewMoatProducer(cfg MoatProducerConfig, b bus.Bus, st state.Store, conn exchange.Connector) *MoatProducer {
	var topic string
	switch cfg.Moat {
	case MoatCode:
		topic = bus.CodeDataTopic(cfg.Target)
	case MoatLogistics:
		topic = bus.LogisticsDataTopic(cfg.Target)
	case MoatGovernment:
		topic = bus.GovtDataTopic(cfg.Target)
	default:
		topic = bus.CorpDataTopic(cfg.Target)
	}

	return &MoatProducer{
		Base:          NewBase("moat_producer", b, st, conn),
		moat:          cfg.Moat,
		target:        cfg.Target,
		topic:         topic,
		fetch:         cfg.Fetch,
		fetchInterval: cfg.FetchInterval,
	}
}

// Step polls the adapter when the interval has elapsed, falling back to the
// cached frame on failure. The latest signal value is mirrored into shared
// state for the prospectors' cross-moat scoring.
func (p *MoatProducer) Step(ctx context.Context) error {
	now := time.Now()
	if p.fetchInterval > 0 && now.Sub(p.lastFetch) < p.fetchInterval {
		return nil
	}
	p.lastFetch = now

	features, err := p.fetch(ctx)
	if err != nil || features == nil {
		if p.cached != nil {
			p.publish(p.topic, p.cached)
		}
		if err != nil {
			p.log.Debug().Err(err).Msg("Moat fetch failed")
		}
		return nil
	}

	frame := &model.FeatureFrame{
		Source:    p.Name(),
		Timestamp: float64(now.UnixNano()) / 1e9,
		Target:    p.target,
		Features:  features,
		Labels:    map[string]string{"moat": string(p.moat)},
	}
	p.cached = frame
	p.publish(p.topic, frame)

	if v, ok := features["activity"]; ok {
		key := moatStateKey(p.moat)
		if err := p.state.Set(ctx, key, v); err != nil {
			p.log.Warn().Err(err).Str("key", key).Msg("Shared state write failed")
		}
	}
	return nil
}

// moatStateKey is where the latest moat activity value lives in shared state.
func moatStateKey(m Moat) string {
	switch m {
	case MoatCode:
		return "moat:code"
	case MoatLogistics:
		return "moat:logistics"
	case MoatGovernment:
		return "moat:government"
	default:
		return "moat:corporate"
	}
}

// CodeActivity is one observation of a code repository ecosystem.
type CodeActivity struct {
	Commits24h   float64
	Contributors float64
	OpenIssues   float64
}

// NoveltyScore rates how unusual the recent commit activity is, clipped to
// [0.5, 9.5].
func NoveltyScore(a CodeActivity) float64 {
	denom := math.Max(a.Contributors, 1)
	return indicators.Clip(a.Commits24h/denom*10, 0.5, 9.5)
}

// DependencyEntropy estimates ecosystem churn. Zero when any denominator is
// non-positive.
func DependencyEntropy(a CodeActivity) float64 {
	if a.OpenIssues <= 0 {
		return 0
	}
	return a.Contributors * math.Log(a.Commits24h+1) / math.Sqrt(a.OpenIssues)
}

// CodeMoatFetch adapts a code-activity source into a MoatFetch producing the
// fixed code-moat schema.
func CodeMoatFetch(source func(ctx context.Context) (CodeActivity, error)) MoatFetch {
	return func(ctx context.Context) (map[string]float64, error) {
		activity, err := source(ctx)
		if err != nil {
			return nil, err
		}
		novelty := NoveltyScore(activity)
		return map[string]float64{
			"commits_24h":        activity.Commits24h,
			"contributors":       activity.Contributors,
			"open_issues":        activity.OpenIssues,
			"novelty_score":      novelty,
			"dependency_entropy": DependencyEntropy(activity),
			"activity":           novelty,
		}, nil
	}
}
