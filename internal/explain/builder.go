package explain

import "fmt"

// Payload is the versioned explain record for one (symbol, strategy) scan
// outcome. Field set and order are stable; map values are sorted at
// serialization time by the callers that persist them.
type Payload struct {
	SchemaVersion int            `json:"schema_version"`
	Symbol        string         `json:"symbol"`
	TF            string         `json:"tf"`
	ScanID        string         `json:"scan_id"`
	StrategyID    string         `json:"strategy_id"`
	Status        string         `json:"status"`
	Reason        string         `json:"reason"`
	Summary       string         `json:"summary"`
	Details       map[string]any `json:"details"`
	Evidence      map[string]any `json:"evidence"`
}

// BuildPairOK constructs the explain payload for an accepted setup.
func BuildPairOK(symbol, tf, scanID, strategyID string, score, rr float64, evidence map[string]any, details map[string]any) Payload {
	if details == nil {
		details = map[string]any{}
	}
	if evidence == nil {
		evidence = map[string]any{}
	}
	details["score"] = score
	details["rr"] = rr
	return Payload{
		SchemaVersion: SchemaVersion,
		Symbol:        symbol,
		TF:            tf,
		ScanID:        scanID,
		StrategyID:    strategyID,
		Status:        StatusOK,
		Reason:        ReasonOK,
		Summary:       fmt.Sprintf("%s %s: setup accepted (score=%.2f rr=%.2f)", symbol, strategyID, score, rr),
		Details:       details,
		Evidence:      evidence,
	}
}

// BuildPairNone constructs the explain payload for a NONE outcome. Unknown
// reason codes are coerced to PRIMITIVE_ERROR so the closed set holds.
func BuildPairNone(symbol, tf, scanID, strategyID, reason string, details map[string]any, evidence map[string]any) Payload {
	if !KnownReason(reason) || reason == ReasonOK {
		details = map[string]any{"original_reason": reason}
		reason = ReasonPrimitiveError
	}
	if details == nil {
		details = map[string]any{}
	}
	if evidence == nil {
		evidence = map[string]any{}
	}
	return Payload{
		SchemaVersion: SchemaVersion,
		Symbol:        symbol,
		TF:            tf,
		ScanID:        scanID,
		StrategyID:    strategyID,
		Status:        StatusNone,
		Reason:        reason,
		Summary:       fmt.Sprintf("%s %s: no setup (%s)", symbol, strategyID, reason),
		Details:       details,
		Evidence:      evidence,
	}
}
