package conversation

// Step tags form a fixed enumeration. The persisted current_step column
// holds exactly one of these, or SQL NULL for an idle user. Legacy or
// unknown tags found at load time are treated as idle and overwritten on
// the next transition.
const (
	// StateIdle is the in-memory resting state; it is persisted as NULL,
	// never as a tag.
	StateIdle = "idle"

	// StepAskQuery awaits the free-text asset symbol for an oracle decree.
	StepAskQuery = "ask_oracle_query"
)

// fsm event names.
const (
	eventBegin   = "begin"
	eventResolve = "resolve"
)

// knownStep reports whether a persisted tag belongs to the enumeration.
func knownStep(tag string) bool {
	return tag == StepAskQuery
}
