// Package explain builds the deterministic, versioned explain payloads
// produced for every scan outcome.
package explain

// SchemaVersion of the explain payload.
const SchemaVersion = 1

// Statuses of a scan outcome.
const (
	StatusOK   = "OK"
	StatusNone = "NONE"
)

// Closed reason code set. Every scan outcome and governance block carries
// exactly one of these.
const (
	ReasonOK                   = "OK"
	ReasonDataGap              = "DATA_GAP"
	ReasonNoM5                 = "NO_M5"
	ReasonRegimeBlocked        = "REGIME_BLOCKED"
	ReasonNoDetectorsForRegime = "NO_DETECTORS_FOR_REGIME"
	ReasonNoHits               = "NO_HITS"
	ReasonConflictScore        = "CONFLICT_SCORE"
	ReasonScoreBelowMin        = "SCORE_BELOW_MIN"
	ReasonRRBelowMin           = "RR_BELOW_MIN"
	ReasonSetupBuildFailed     = "SETUP_BUILD_FAILED"
	ReasonPrimitiveError       = "PRIMITIVE_ERROR"
	ReasonCooldownActive       = "COOLDOWN_ACTIVE"
	ReasonDailyLimitReached    = "DAILY_LIMIT_REACHED"
	ReasonConflictDirection    = "CONFLICT_DIRECTION"
	ReasonNoStrategy           = "NO_STRATEGY_CONFIGURED"
	ReasonProfileInvalid       = "PROFILE_INVALID"
)

var knownReasons = map[string]struct{}{
	ReasonOK: {}, ReasonDataGap: {}, ReasonNoM5: {}, ReasonRegimeBlocked: {},
	ReasonNoDetectorsForRegime: {}, ReasonNoHits: {}, ReasonConflictScore: {},
	ReasonScoreBelowMin: {}, ReasonRRBelowMin: {}, ReasonSetupBuildFailed: {},
	ReasonPrimitiveError: {}, ReasonCooldownActive: {}, ReasonDailyLimitReached: {},
	ReasonConflictDirection: {}, ReasonNoStrategy: {}, ReasonProfileInvalid: {},
}

// KnownReason reports whether code belongs to the closed set.
func KnownReason(code string) bool {
	_, ok := knownReasons[code]
	return ok
}
