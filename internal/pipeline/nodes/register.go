// Package nodes implements the stock pipeline plugins: coins_pick,
// market_state, quant_filter, debate, risk_monitor, execution.
package nodes

import "langtrader-core/internal/pipeline"

// RegisterAll binds every built-in plugin into reg. Kept as an explicit
// call from main wiring rather than package-level init(), per spec §9's
// design note against process-wide globals.
func RegisterAll(reg *pipeline.Registry) {
	reg.Register(coinsPickMeta, newCoinsPick)
	reg.Register(marketStateMeta, newMarketState)
	reg.Register(quantFilterMeta, newQuantFilter)
	reg.Register(debateMeta, newDebateNode)
	reg.Register(riskMonitorMeta, newRiskMonitor)
	reg.Register(executionMeta, newExecutionNode)
}
