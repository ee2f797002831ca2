package masstree

// Config holds the tunables for a Table. Grounded on the teacher's
// NodeConfig/DefaultNodeConfig idiom (pkg/cowbtree/node.go) and on
// hnsw.Config/DefaultConfig (pkg/hnsw/config.go): a DefaultConfig value
// the caller overrides field-by-field, no config file or flag parsing
// involved since the table is an embedded library, not a service.
type Config struct {
	// MaxKeyLen bounds the byte length of any key passed to Put/Get/
	// Remove. 0 means unbounded.
	MaxKeyLen int

	// ReclaimBatch caps how many deferred callbacks one Table.Reclaim call
	// runs (it is passed to EpochManager.TryReclaimBatch); 0 or less means
	// no cap.
	ReclaimBatch int

	// StringBagCapacity is the initial size, in bytes, of a new leaf's
	// in-leaf suffix bag before it overflows to the heap.
	StringBagCapacity int

	// PinWorkers records whether a host's worker goroutines are to be
	// pinned to single CPUs through ThreadContext.PinToCPU
	// (pkg/masstree/affinity_linux.go). This package has no worker pool of
	// its own and does not read the field.
	PinWorkers bool
}

// DefaultConfig returns the tunables used when the caller does not
// override them.
func DefaultConfig() Config {
	return Config{
		MaxKeyLen:         0,
		ReclaimBatch:      256,
		StringBagCapacity: leafBagCapacity,
		PinWorkers:        false,
	}
}

// Option mutates a Config; NewTable applies Options over DefaultConfig()
// in order.
type Option func(*Config)

func WithMaxKeyLen(n int) Option { return func(c *Config) { c.MaxKeyLen = n } }

func WithReclaimBatch(n int) Option { return func(c *Config) { c.ReclaimBatch = n } }

func WithStringBagCapacity(n int) Option { return func(c *Config) { c.StringBagCapacity = n } }

func WithPinWorkers(pin bool) Option { return func(c *Config) { c.PinWorkers = pin } }
