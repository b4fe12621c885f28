package fdtable

// File is an open-file capability that can be stored in a Table.
//
// Implementations must make IncRef and DecRef safe for concurrent use.
// DecRef destroys the underlying resource when the last reference is gone;
// that is the implementation's business, not the table's.
type File interface {
	// IncRef takes an additional reference. It never fails.
	IncRef()
	// DecRef drops a reference.
	DecRef()
}

// TryRef is implemented by files that can refuse a new reference once
// their count has reached zero. Get uses it to avoid resurrecting a file
// that a concurrent Release has just dropped.
type TryRef interface {
	TryIncRef() bool
}

// entry is the immutable slot payload. Slots hold *entry so a lookup can
// load a File with a single atomic pointer read.
type entry struct {
	file File
}
