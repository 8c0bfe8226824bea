// Package numerator provides domain contracts for document auto-numbering.
package numerator

import (
	"fmt"
	"time"
)

// Strategy defines the numbering generation strategy.
type Strategy int

const (
	// StrategyStrict uses UPDATE ... RETURNING for every number.
	// Guarantees sequential numbers without gaps.
	StrategyStrict Strategy = iota

	// StrategyCached allocates ranges of numbers in memory.
	// May produce gaps if the application restarts.
	StrategyCached
)

// Options configuration for number generation.
type Options struct {
	Strategy Strategy
	// RangeSize is the number of IDs to allocate at once in Cached strategy.
	// Default is 50.
	RangeSize int64
}

// DefaultOptions returns standard options (Strict).
func DefaultOptions() *Options {
	return &Options{
		Strategy: StrategyStrict,
	}
}

// Reset periods.
const (
	ResetDay   = "day"
	ResetMonth = "month"
	ResetYear  = "year"
	ResetNever = "never"
)

// Config holds numbering configuration.
type Config struct {
	// Prefix added to all numbers (e.g., "BOQ", "CUS")
	Prefix string

	// PadWidth is the minimum number width (default 4)
	PadWidth int

	// ResetPeriod: "day", "month", "year", "never".
	// The period stamp is embedded in the number.
	ResetPeriod string
}

// DefaultConfig returns daily numbering: PREFIX-YYYYMMDD-NNNN.
func DefaultConfig(prefix string) Config {
	return Config{
		Prefix:      prefix,
		PadWidth:    4,
		ResetPeriod: ResetDay,
	}
}

// Stamp returns the period part of the number, empty for ResetNever.
func (c Config) Stamp(period time.Time) string {
	switch c.ResetPeriod {
	case ResetDay:
		return period.Format("20060102")
	case ResetMonth:
		return period.Format("200601")
	case ResetYear:
		return period.Format("2006")
	default:
		return ""
	}
}

// Key returns the sequence key for the given period.
func (c Config) Key(period time.Time) string {
	if stamp := c.Stamp(period); stamp != "" {
		return c.Prefix + "_" + stamp
	}
	return c.Prefix
}

// Format creates the final number string.
func (c Config) Format(period time.Time, num int64) string {
	padWidth := c.PadWidth
	if padWidth == 0 {
		padWidth = 4
	}
	if stamp := c.Stamp(period); stamp != "" {
		return fmt.Sprintf("%s-%s-%0*d", c.Prefix, stamp, padWidth, num)
	}
	return fmt.Sprintf("%s-%0*d", c.Prefix, padWidth, num)
}
