// Package detect defines the detector plugin contract and the canonical
// name -> detector registry. Detectors are pure over their context: no I/O,
// no clock, no shared state.
package detect

import (
	"fmt"
	"sort"

	"github.com/quantive/signalscan/internal/market"
)

// Side of a detector hit.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Hit is a detector's positive finding.
type Hit struct {
	Name     string             `json:"name"`
	Side     Side               `json:"side"`
	Strength float64            `json:"strength"` // [0,1]
	Evidence map[string]float64 `json:"evidence,omitempty"`
}

// Context is the window a detector examines. Candle slices are read-only.
type Context struct {
	Symbol       string
	EntryCandles []market.Candle
	TrendCandles []market.Candle
	Regime       string
	Params       map[string]float64
}

// Param returns a merged parameter with a fallback default.
func (c *Context) Param(key string, def float64) float64 {
	if v, ok := c.Params[key]; ok {
		return v
	}
	return def
}

// Detector is the plugin contract: given a context, optionally return a
// hit with side, strength and evidence.
type Detector interface {
	Name() string
	Family() string
	Doc() string
	ParamsSchema() map[string]string
	Detect(ctx Context) (Hit, bool)
}

// Registry is the canonical name -> detector map. Registration happens
// once at composition time; reads afterwards are lock-free.
type Registry struct {
	byName map[string]Detector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Detector{}}
}

// Register adds a detector under its canonical name. Duplicate names are a
// programming error.
func (r *Registry) Register(d Detector) error {
	name := d.Name()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("detector %q already registered", name)
	}
	r.byName[name] = d
	return nil
}

// Get returns the detector registered under name.
func (r *Registry) Get(name string) (Detector, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns the registered canonical names sorted ascending.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered detectors.
func (r *Registry) Len() int { return len(r.byName) }

// Doc describes one detector for the API surface.
type Doc struct {
	Name         string            `json:"name"`
	Family       string            `json:"family"`
	Doc          string            `json:"doc,omitempty"`
	ParamsSchema map[string]string `json:"params_schema,omitempty"`
}

// Docs returns detector documentation sorted by name. Docs text is
// included only when includeDocs is set.
func (r *Registry) Docs(includeDocs bool) []Doc {
	out := make([]Doc, 0, len(r.byName))
	for _, name := range r.Names() {
		d := r.byName[name]
		doc := Doc{Name: d.Name(), Family: d.Family()}
		if includeDocs {
			doc.Doc = d.Doc()
			doc.ParamsSchema = d.ParamsSchema()
		}
		out = append(out, doc)
	}
	return out
}

// Builtin returns a registry preloaded with the builtin detector set.
func Builtin() *Registry {
	r := NewRegistry()
	for _, d := range []Detector{
		&TrendFollow{},
		&EMAPullback{},
		&RangeBounce{},
		&Breakout{},
		&MomentumShift{},
		&VolumeSpike{},
	} {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}
