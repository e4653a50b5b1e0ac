// Package source implements the three BaselineSource variants (rpc, geyser,
// jito-grpc) plus the shred-tier source glue that ties the receiver, parser,
// FEC assembler, and entry decoder into one DecodedTx stream (spec.md §4.5).
package source

import (
	"shredlead/types"
)

// TxSource is the common output contract every source variant implements:
// emit a stream of DecodedTx to the matcher (spec.md §4.5).
type TxSource interface {
	Id() types.SourceId
	Out() <-chan types.DecodedTx
	Run()
	Close() error
}
