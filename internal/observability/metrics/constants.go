package metrics

// Label values shared by the collectors
const (
	ResultPass  = "pass"
	ResultBlock = "block"

	GateConfidence = "confidence"
	GateCooldown   = "cooldown"

	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDropped = "dropped"
	StatusTimeout = "timeout"
)
