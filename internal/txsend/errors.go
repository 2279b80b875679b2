package txsend

import "strings"

// Kind classifies a raw transport error from eth_sendRawTransaction into the
// closed set the retry state machine branches on. Node implementations only
// agree on the message text, so this is substring matching by necessity.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAlreadyKnown is a false negative: the transaction is in the
	// mempool already, so the submission actually succeeded.
	KindAlreadyKnown
	KindUnderpriced
	KindNonceTooLow
	KindInsufficientFunds
)

func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already known"), strings.Contains(msg, "known transaction"):
		return KindAlreadyKnown
	case strings.Contains(msg, "replacement transaction underpriced"), strings.Contains(msg, "transaction underpriced"):
		return KindUnderpriced
	case strings.Contains(msg, "nonce too low"):
		return KindNonceTooLow
	case strings.Contains(msg, "insufficient funds"):
		return KindInsufficientFunds
	default:
		return KindUnknown
	}
}
