package gc

// Collection thresholds, in live object counts.
const (
	DefaultInitialThreshold = 64
	DefaultGrowthFactor     = 2
	DefaultMinThreshold     = 32
)

// Config tunes when the heap collects.
type Config struct {
	// InitialThreshold is the live count that triggers the first collection,
	// and the floor the threshold never drops below.
	InitialThreshold int

	// GrowthFactor multiplies the surviving live count to produce the next
	// threshold.
	GrowthFactor int

	// MinThreshold resets the threshold to InitialThreshold when fewer than
	// this many objects survive a collection.
	MinThreshold int

	// MaxObjects caps the live count. Zero means unbounded. Allocating past
	// the cap after a full collection panics with ErrHeapExhausted.
	MaxObjects int
}

// DefaultConfig returns the stock collection policy.
func DefaultConfig() Config {
	return Config{
		InitialThreshold: DefaultInitialThreshold,
		GrowthFactor:     DefaultGrowthFactor,
		MinThreshold:     DefaultMinThreshold,
	}
}

func (c Config) normalized() Config {
	if c.InitialThreshold <= 0 {
		c.InitialThreshold = DefaultInitialThreshold
	}
	if c.GrowthFactor <= 1 {
		c.GrowthFactor = DefaultGrowthFactor
	}
	if c.MinThreshold < 0 {
		c.MinThreshold = DefaultMinThreshold
	}
	return c
}

// nextThreshold applies the growth policy to the number of survivors.
func (c Config) nextThreshold(live int) int {
	if live < c.MinThreshold {
		return c.InitialThreshold
	}
	return max(c.InitialThreshold, live*c.GrowthFactor)
}
