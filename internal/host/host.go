// Package host models the execution environment the issuer core runs inside:
// accounts, the cross-module dispatch capability, and rent economics. The
// core depends only on the Invoker interface; Ledger is the in-memory host
// used by the simulator and the tests.
package host

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Account is one ledger account as seen by a single invocation.
type Account struct {
	Key      solana.PublicKey
	Lamports uint64
	Data     []byte
	Owner    solana.PublicKey
	Signer   bool
	Writable bool
}

// Meta is one entry of an invoked instruction's ordered account list, with
// the privileges the callee sees.
type Meta struct {
	Account  *Account
	Signer   bool
	Writable bool
}

// Instruction is a call into another module's entrypoint.
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []Meta
	Data      []byte
}

// Invoker is the dispatch capability handed to the core. signerSeeds carries
// zero or more derived-authority seed groups; the host grants signer status
// to any account whose address derives from them under the calling program.
type Invoker interface {
	Invoke(ctx context.Context, ix *Instruction, signerSeeds [][][]byte) error
	MinimumBalance(space uint64) uint64
}
