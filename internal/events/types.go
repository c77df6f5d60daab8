package events

// Event enumerates high-level topics inside the engine.
type Event string

const (
	EventStrategySignal   Event = "strategy.signal"
	EventDealCreated      Event = "deal.created"
	EventDealStateChanged Event = "deal.state_changed"
	EventDealClosed       Event = "deal.closed"
	EventOrderSubmitted   Event = "order.submitted"
	EventOrderRejected    Event = "order.rejected"
	EventOrderFilled      Event = "order.filled"
	EventOrderCanceled    Event = "order.canceled"
	EventTrailingMoved    Event = "risk.trailing_moved"
	EventProtectionGap    Event = "risk.protection_gap"
	EventKillSwitch       Event = "system.kill_switch"
	EventOrphanOrder      Event = "reconcile.orphan_order"
)
