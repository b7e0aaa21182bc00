package loop

// State names one phase of the polling cycle. Transitions are linear within
// a cycle; cancellation moves any state directly to StateShuttingDown.
type State string

const (
	StateIdle             State = "IDLE"
	StateFetchingData     State = "FETCHING_DATA"
	StateComputingSignal  State = "COMPUTING_SIGNAL"
	StateCheckingPosition State = "CHECKING_POSITION"
	StateExecuting        State = "EXECUTING"
	StateLogging          State = "LOGGING"
	StateSleeping         State = "SLEEPING"
	StateShuttingDown     State = "SHUTTING_DOWN"
)

// Outcome classifies how a cycle ended, for logs, metrics, and publishers.
type Outcome string

const (
	OutcomeNoData           Outcome = "no_data"
	OutcomeShortHistory     Outcome = "short_history"
	OutcomeBadSeries        Outcome = "bad_series"
	OutcomeNoSignal         Outcome = "no_signal"
	OutcomePositionOpen     Outcome = "position_open"
	OutcomeNotTradable      Outcome = "not_tradable"
	OutcomeQuoteUnavailable Outcome = "quote_unavailable"
	OutcomeSizingFailed     Outcome = "sizing_failed"
	OutcomeOrderRejected    Outcome = "order_rejected"
	OutcomeSubmitFailed     Outcome = "submit_failed"
	OutcomeOrderPlaced      Outcome = "order_placed"
)
