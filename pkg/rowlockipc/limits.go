package rowlockipc

// Hardcoded implementation limits.
//
// These exist to keep capacity arithmetic away from overflow boundaries
// and to give Init sane defaults when the caller doesn't have an opinion.
// Violations are configuration errors and return ErrInvalidOptions.
const (
	// minCapacity is the smallest usable lock table size: one slot to
	// hold an element plus the one slot invariant 5 always reserves
	// empty.
	minCapacity = 2

	// maxCapacity bounds slot count so that capacity*slotSize stays far
	// below the range of a 64-bit int. It does not keep that product
	// within a 32-bit int.
	maxCapacity = uint64(1) << 32

	// defaultRowCapacity is used when Options.RowCapacity is 0.
	defaultRowCapacity = uint64(4096)

	// defaultTableCapacity is used when Options.TableCapacity is 0. Table
	// locks are far less numerous than row locks in any real workload.
	defaultTableCapacity = uint64(256)
)
