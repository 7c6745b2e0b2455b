package events

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventPriceTick            Event = "price_tick"
	EventOrderUpdate          Event = "order_update"
	EventStrategySignal       Event = "strategy_signal"
	EventRiskAlert            Event = "risk_alert"
	EventPositionChange       Event = "position_change"
	EventOrderSubmitted       Event = "order.submitted"
	EventOrderAccepted        Event = "order.accepted"
	EventOrderRejected        Event = "order.rejected"
	EventOrderFilled          Event = "order.filled"
	EventOrderPartiallyFilled Event = "order.partially_filled"

	// Bot supervisor / cycle scheduler lifecycle
	EventBotStarted    Event = "bot.started"
	EventBotStopped    Event = "bot.stopped"
	EventBotCrashed    Event = "bot.crashed"
	EventCycleStarted  Event = "cycle.started"
	EventCycleFinished Event = "cycle.finished"
	EventCycleFailed   Event = "cycle.failed"

	// Pipeline runtime
	EventNodeStarted   Event = "pipeline.node_started"
	EventNodeFinished  Event = "pipeline.node_finished"
	EventNodeFailed    Event = "pipeline.node_failed"
	EventCheckpointHit Event = "pipeline.checkpoint_hit"

	// Debate engine
	EventDebateRoleDone Event = "debate.role_done"
	EventDebateVerdict  Event = "debate.verdict"

	// Market ingestion
	EventSubscriptionChanged Event = "market.subscription_changed"
)
