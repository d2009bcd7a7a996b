package confirm

import (
	"time"
)

// State is the outcome of a confirmation run.
type State int

const (
	Pending State = iota
	Success
	Failed
	Inconclusive
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Inconclusive:
		return "inconclusive"
	default:
		return "unknown"
	}
}

// Probe names the source of a conclusive observation.
type Probe string

const (
	ProbeNone    Probe = ""
	ProbeStatus  Probe = "signature-status"
	ProbeRecord  Probe = "transaction-record"
	ProbeConfirm Probe = "confirm"
)

// Verdict is the result of Verify.
type Verdict struct {
	State State
	// Attempts is the number of probe rounds performed.
	Attempts int
	// Probe is the probe that reached the verdict, empty when inconclusive.
	Probe Probe
	// Slot where the transaction landed, when known.
	Slot uint64
	// TxErr is the on-chain execution error of a failed transaction.
	TxErr interface{}
	// Exhausted is set when every attempt was inconclusive.
	Exhausted bool
}

// Accepted reports whether the caller should treat the transaction as landed.
// An exhausted inconclusive run counts as accepted: the transaction was
// broadcast without error and nothing contradicted it.
func (v Verdict) Accepted() bool {
	return v.State == Success || (v.State == Inconclusive && v.Exhausted)
}

// Confirmed reports a verified success.
func (v Verdict) Confirmed() bool {
	return v.State == Success
}

// Terminal reports whether no further verification will happen.
func (v Verdict) Terminal() bool {
	return v.State == Success || v.State == Failed || (v.State == Inconclusive && v.Exhausted)
}

// Observation describes one probe round.
type Observation struct {
	Attempt int
	State   State
	Probe   Probe
}

// Config bounds a confirmation run.
type Config struct {
	Attempts     int
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// DefaultConfig is six rounds, 1.5s apart, with a 5s limit per probe.
func DefaultConfig() Config {
	return Config{
		Attempts:     6,
		Interval:     1500 * time.Millisecond,
		ProbeTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Attempts <= 0 {
		c.Attempts = def.Attempts
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
	return c
}
