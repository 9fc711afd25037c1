package store

import "go.uber.org/zap"

// FlushMode controls durability of an explicit flush.
type FlushMode int

const (
	// FlushSync waits for the pages to reach disk.
	FlushSync FlushMode = iota

	// FlushAsync schedules writeback without waiting. The header commit that
	// concludes a flush is always synchronous; only the data sync is deferred.
	FlushAsync
)

// KeyFunc extracts an orderable key from a stored skip-list element. The
// returned key must be an int64, float64, or []byte. Key functions are
// registered by name in Options.Comparators; a skip-list type persists the
// name of the function it was defined with, so the same registration must be
// supplied when the file is reopened.
type KeyFunc func(v Value) (any, error)

// Options configures Open. The zero value is usable for reopening an
// existing file without journaling.
type Options struct {
	// FileSize is the requested file size in bytes when creating a new file.
	// It is rounded up to the page size; the two header slots are added on
	// top. Must be positive for creation; ignored (and conventionally zero)
	// when reopening.
	FileSize int64

	// RegistryCapacity is the requested capacity of the string registry when
	// creating a new file.
	//
	// Default: 64
	RegistryCapacity uint64

	// Journal enables the redo log: every mutation of mapped bytes is
	// recorded in a checksummed transaction before it is applied, and a
	// reopen replays the committed tail.
	Journal bool

	// JournalPath overrides the redo-log location.
	//
	// Default: <path>.redo
	JournalPath string

	// JournalSize is the redo-log file size when one is created. Appends past
	// it fail the current operation with ErrFull; the log is rotated at every
	// header commit.
	//
	// Default: 4 MiB
	JournalSize int64

	// Populate registers the user schema on a freshly created file. It is not
	// invoked on reopen; the schema is reconstructed from the persisted type
	// list instead. Creation requires the populated schema to define a
	// structure named "Root".
	Populate func(*SchemaBuilder) error

	// Comparators supplies named key functions for skip lists. Every
	// comparator name persisted in the file must be present here on reopen.
	Comparators map[string]KeyFunc

	// Logger receives lifecycle and recovery events.
	//
	// Default: zap.NewNop()
	Logger *zap.Logger
}

const (
	defaultRegistryCapacity = 64
	defaultJournalSize      = 4 << 20
)

// DefaultOptions returns an Options with all defaults filled in.
func DefaultOptions() Options {
	var o Options
	o.applyDefaults()
	return o
}

func (o *Options) applyDefaults() {
	if o.RegistryCapacity == 0 {
		o.RegistryCapacity = defaultRegistryCapacity
	}
	if o.JournalSize == 0 {
		o.JournalSize = defaultJournalSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
