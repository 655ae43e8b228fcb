package bus

// Reserved topics. Parameterized topics use the "prefix:param" convention and
// are built with the For helpers below; the bus itself treats all of these as
// opaque strings.
const (
	TopicSystemControl        = "system-control"
	TopicTradeOrders          = "trade-orders"
	TopicTradeConfirmations   = "trade-confirmations"
	TopicBaselineIdeas        = "baseline-trade-ideas"
	TopicMycelialIdeas        = "mycelial-trade-ideas"
	TopicSynthesizedLog       = "synthesized-trade-log"
	TopicBuildRequest         = "system-build-request"
	TopicProspectingConsensus = "prospecting-consensus"
	TopicValidationRequest    = "pattern-validation-request"
	TopicValidationResult     = "pattern-validation-result"
	TopicPatternNarrative     = "pattern-narrative"
	TopicHibernation          = "system-hibernation"
)

// Control commands carried on TopicSystemControl.
const (
	CommandHaltTrading       = "HALT_TRADING"
	CommandEmergencyShutdown = "EMERGENCY_SHUTDOWN"
	CommandForceShare        = "FORCE_SHARE"
)

// MarketDataTopic addresses the enriched market feature stream for a pair.
func MarketDataTopic(pair string) string { return "market-data:" + pair }

// CodeDataTopic addresses the code-moat stream for a language ecosystem.
func CodeDataTopic(language string) string { return "code-data:" + language }

// LogisticsDataTopic addresses the logistics-moat stream for a region.
func LogisticsDataTopic(region string) string { return "logistics-data:" + region }

// GovtDataTopic addresses the government-policy-moat stream for a region.
func GovtDataTopic(region string) string { return "govt-data:" + region }

// CorpDataTopic addresses the corporate-moat stream for a sector.
func CorpDataTopic(sector string) string { return "corp-data:" + sector }

// ProspectingProposalsTopic addresses a prospecting team's proposal channel.
func ProspectingProposalsTopic(team string) string { return "prospecting-proposals:" + team }

// ControlCommand is the payload carried on TopicSystemControl.
type ControlCommand struct {
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
	Source  string `json:"source,omitempty"`
	Group   string `json:"group,omitempty"`
}
