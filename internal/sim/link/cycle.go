package link

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"linkgate.ai/internal/sim/sched"
)

type Config struct {
	// TypeName selects the linkable object type. Empty disables collection.
	TypeName string
	// OneWayPrefix marks directional labels. Empty disables link
	// establishment entirely; invalid links are still broken.
	OneWayPrefix string
	// Wait is the pause between passes. Zero starts the next pass at once.
	Wait time.Duration
	// LogInterval rate-limits the per-pass info log.
	LogInterval time.Duration
}

type PassStats struct {
	Pass       uint64        `json:"pass"`
	Steps      int           `json:"steps"`
	Candidates int           `json:"candidates"`
	Unlinked   int           `json:"unlinked"`
	Linked     int           `json:"linked"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
}

type PassReport struct {
	Stats   PassStats `json:"stats"`
	Changes []Change  `json:"changes,omitempty"`
}

type Observer interface {
	ObservePass(r PassReport)
}

type ObserverFunc func(r PassReport)

func (f ObserverFunc) ObservePass(r PassReport) { f(r) }

type phase int

const (
	phaseScan phase = iota
	phaseResolve
)

// Cycle is the pairing loop as an explicit state machine: bounded scan steps
// until the pass is complete, then one resolve step (Phase A, then Phase B,
// over the same candidates) followed by the configured wait.
type Cycle struct {
	src    Source
	res    *Resolver
	filter TypeFilter
	cfg    Config
	log    zerolog.Logger

	phase   phase
	cur     Cursor
	steps   int
	started time.Time
	pass    uint64
	lastLog time.Time
	last    PassReport

	observers []Observer
}

func NewCycle(src Source, store Mutator, cfg Config, rnd *rand.Rand, log zerolog.Logger) *Cycle {
	return &Cycle{
		src:    src,
		res:    NewResolver(store, cfg.OneWayPrefix, rnd, log),
		filter: NewTypeFilter(cfg.TypeName),
		cfg:    cfg,
		log:    log,
	}
}

func (c *Cycle) Observe(o Observer) {
	if o != nil {
		c.observers = append(c.observers, o)
	}
}

func (c *Cycle) Pass() uint64 { return c.pass }

// ResumeFrom continues pass numbering after pass. It must be called before
// the cycle is stepped.
func (c *Cycle) ResumeFrom(pass uint64) {
	if pass > c.pass {
		c.pass = pass
	}
}

// Step implements sched.Task.
func (c *Cycle) Step(now time.Time) sched.Result {
	if c.phase == phaseResolve {
		c.resolve(now)
		return sched.Result{Wait: c.cfg.Wait}
	}
	if c.steps == 0 {
		c.started = now
	}
	c.steps++
	if Scan(c.src, c.filter, &c.cur) {
		c.phase = phaseResolve
	}
	return sched.Result{}
}

// RunPass drives the cycle until the current pass completes and returns its
// report.
func (c *Cycle) RunPass(now time.Time) PassReport {
	start := c.pass
	for c.pass == start {
		c.Step(now)
	}
	return c.last
}

func (c *Cycle) resolve(now time.Time) {
	cands := c.cur.Matches
	unlinked := c.res.BreakInvalid(cands)
	var linked []Change
	if c.cfg.OneWayPrefix != "" {
		linked = c.res.Establish(cands)
	}

	c.pass++
	report := PassReport{
		Stats: PassStats{
			Pass:       c.pass,
			Steps:      c.steps,
			Candidates: len(cands),
			Unlinked:   len(unlinked),
			Linked:     len(linked),
			Started:    c.started,
			Duration:   now.Sub(c.started),
		},
		Changes: append(unlinked, linked...),
	}
	c.last = report
	c.cur.Reset()
	c.steps = 0
	c.phase = phaseScan

	for _, o := range c.observers {
		o.ObservePass(report)
	}

	ev := c.log.Debug()
	if len(report.Changes) > 0 || now.Sub(c.lastLog) >= c.cfg.LogInterval {
		ev = c.log.Info()
		c.lastLog = now
	}
	ev.Uint64("pass", report.Stats.Pass).
		Int("steps", report.Stats.Steps).
		Int("candidates", report.Stats.Candidates).
		Int("unlinked", report.Stats.Unlinked).
		Int("linked", report.Stats.Linked).
		Msg("pairing pass complete")
}
