// Package signals defines the persisted signal records and their
// append-only JSONL history.
package signals

import (
	"time"

	"github.com/quantive/signalscan/internal/explain"
	"github.com/quantive/signalscan/internal/scan"
)

// Signal is the internal (legacy v1) audit record for an accepted setup.
type Signal struct {
	SignalID    string          `json:"signal_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UserID      string          `json:"user_id"`
	Symbol      string          `json:"symbol"`
	TF          string          `json:"tf"`
	Direction   string          `json:"direction"`
	Entry       float64         `json:"entry"`
	SL          float64         `json:"sl"`
	TP          float64         `json:"tp"`
	RR          float64         `json:"rr"`
	Score       float64         `json:"score"`
	StrategyID  string          `json:"strategy_id"`
	ScanID      string          `json:"scan_id"`
	Reasons     []string        `json:"reasons"`
	Explain     explain.Payload `json:"explain"`
	Annotations map[string]any  `json:"annotations,omitempty"`
	Drawings    []Drawing       `json:"drawings,omitempty"`
}

// PublicSignal is the stable UI projection. Evidence keys are always
// present; missing numeric values serialize as explicit nulls.
type PublicSignal struct {
	SignalID      string         `json:"signal_id"`
	CreatedAt     time.Time      `json:"created_at"`
	UserID        string         `json:"user_id"`
	Symbol        string         `json:"symbol"`
	TF            string         `json:"tf"`
	Status        string         `json:"status"`
	Direction     string         `json:"direction,omitempty"`
	StrategyID    string         `json:"strategy_id"`
	ScanID        string         `json:"scan_id"`
	Score         float64        `json:"score"`
	Evidence      PublicEvidence `json:"evidence"`
	ChartDrawings []Drawing      `json:"chart_drawings"`
}

// PublicEvidence carries the NA-safe evidence keys of the public contract.
type PublicEvidence struct {
	Entry     *float64   `json:"entry"`
	SL        *float64   `json:"sl"`
	TP        *float64   `json:"tp"`
	RR        *float64   `json:"rr"`
	EntryZone []*float64 `json:"entry_zone"`
}

// Drawing is one deterministic chart object (line or box) with a stable
// object id derived from the signal id.
type Drawing struct {
	ObjectID string  `json:"object_id"`
	Kind     string  `json:"kind"` // "line" or "box"
	Label    string  `json:"label"`
	Price    float64 `json:"price,omitempty"`
	PriceLow float64 `json:"price_low,omitempty"`
	PriceTop float64 `json:"price_top,omitempty"`
}

// NewSignal builds the legacy record from an accepted candidate.
func NewSignal(signalID, scanID, userID string, c *scan.Candidate, exp explain.Payload, createdAt time.Time) Signal {
	return Signal{
		SignalID:   signalID,
		CreatedAt:  createdAt.UTC(),
		UserID:     userID,
		Symbol:     c.Setup.Symbol,
		TF:         string(c.Strategy.EntryTF),
		Direction:  string(c.Setup.Direction),
		Entry:      c.Setup.Entry,
		SL:         c.Setup.SL,
		TP:         c.Setup.TP,
		RR:         c.Setup.RR,
		Score:      c.Score,
		StrategyID: c.Strategy.StrategyID,
		ScanID:     scanID,
		Reasons:    hitNames(c),
		Explain:    exp,
		Drawings:   buildDrawings(signalID, &c.Setup),
	}
}

// Public projects the legacy record onto the public contract.
func (s Signal) Public() PublicSignal {
	entry, sl, tp, rr := s.Entry, s.SL, s.TP, s.RR
	pub := PublicSignal{
		SignalID:   s.SignalID,
		CreatedAt:  s.CreatedAt,
		UserID:     s.UserID,
		Symbol:     s.Symbol,
		TF:         s.TF,
		Status:     explain.StatusOK,
		Direction:  s.Direction,
		StrategyID: s.StrategyID,
		ScanID:     s.ScanID,
		Score:      s.Score,
		Evidence: PublicEvidence{
			Entry: &entry,
			SL:    &sl,
			TP:    &tp,
			RR:    &rr,
		},
		ChartDrawings: s.Drawings,
	}
	for _, d := range s.Drawings {
		if d.Kind == "box" {
			lo, hi := d.PriceLow, d.PriceTop
			pub.Evidence.EntryZone = []*float64{&lo, &hi}
		}
	}
	if pub.Evidence.EntryZone == nil {
		pub.Evidence.EntryZone = []*float64{nil, nil}
	}
	return pub
}

func buildDrawings(signalID string, setup *scan.Setup) []Drawing {
	return []Drawing{
		{ObjectID: signalID + ":entry_line", Kind: "line", Label: "entry", Price: setup.Entry},
		{ObjectID: signalID + ":sl_line", Kind: "line", Label: "stop", Price: setup.SL},
		{ObjectID: signalID + ":tp_line", Kind: "line", Label: "target", Price: setup.TP},
		{ObjectID: signalID + ":entry_zone_box", Kind: "box", Label: "entry zone",
			PriceLow: setup.EntryZoneLow, PriceTop: setup.EntryZoneHigh},
	}
}

func hitNames(c *scan.Candidate) []string {
	out := make([]string, 0, len(c.Hits))
	for _, h := range c.Hits {
		out = append(out, h.Name)
	}
	return out
}
