package partition

import "errors"

// Sentinel errors for partition stores.
var (
	ErrSealed           = errors.New("partition store sealed")
	ErrNotSealed        = errors.New("partition store not sealed")
	ErrUnknownPartition = errors.New("unknown partition")
	ErrCorruptSpill     = errors.New("corrupt spill file")
)
