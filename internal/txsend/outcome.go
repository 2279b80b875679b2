package txsend

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type Status int

const (
	StatusSuccess Status = iota
	// StatusPending means the transaction was broadcast but did not confirm
	// within the wait windows. It is a terminal, non-error state: the
	// transaction may still mine after the caller has moved on. Resume with
	// Broadcaster.CheckStatus(hash).
	StatusPending
	StatusFailed
)

type FailReason int

const (
	ReasonNetwork FailReason = iota
	ReasonNonceConflict
	ReasonUnderpriced
	ReasonInsufficientFunds
	ReasonReverted
)

func (r FailReason) String() string {
	switch r {
	case ReasonNonceConflict:
		return "nonce conflict"
	case ReasonUnderpriced:
		return "replacement underpriced"
	case ReasonInsufficientFunds:
		return "insufficient funds"
	case ReasonReverted:
		return "reverted"
	default:
		return "network error"
	}
}

// Outcome is the single result type of the submission path. Errors never
// cross this boundary raw: retries are exhausted internally and the last
// diagnostic lands in Message.
type Outcome struct {
	Status      Status
	Hash        common.Hash
	BlockNumber uint64
	Reason      FailReason
	Message     string
}

func (o Outcome) String() string {
	switch o.Status {
	case StatusSuccess:
		return fmt.Sprintf("success: %s (block %d)", o.Hash.Hex(), o.BlockNumber)
	case StatusPending:
		return fmt.Sprintf("pending: %s", o.Hash.Hex())
	default:
		return fmt.Sprintf("failed (%s): %s", o.Reason, o.Message)
	}
}

func successOutcome(hash common.Hash, block uint64) Outcome {
	return Outcome{Status: StatusSuccess, Hash: hash, BlockNumber: block}
}

func pendingOutcome(hash common.Hash) Outcome {
	return Outcome{Status: StatusPending, Hash: hash}
}

func failedOutcome(reason FailReason, format string, args ...any) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Fail builds a Failed outcome. For collaborators that surface their own
// pre-flight failures through the same result type.
func Fail(reason FailReason, format string, args ...any) Outcome {
	return failedOutcome(reason, format, args...)
}
