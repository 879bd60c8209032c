// Package classify turns raw frames received on the node's websocket into typed messages.
package classify

import (
	"fmt"
	"strings"

	"github.com/manifest-network/eventstream/internal/models"
)

// Kind tags a classified message.
type Kind int

const (
	KindUnknown Kind = iota
	KindEmpty
	KindNewBlock
	KindNewBlockHeader
	KindError
	KindPanic
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindNewBlock:
		return "new_block"
	case KindNewBlockHeader:
		return "new_block_header"
	case KindError:
		return "error"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// RPCError is an error reported by the node, either as an ABCI response code or a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Log     string `json:"log,omitempty"`
	Message string `json:"message,omitempty"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rpc error code %d", e.Code)
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Log != "" {
		fmt.Fprintf(&b, ": %s", e.Log)
	}
	if e.Data != "" {
		fmt.Fprintf(&b, " (%s)", e.Data)
	}
	return b.String()
}

// IsPanic reports whether the node recovered from a panic while serving the request.
// Tendermint marks those with "panic" in the log, message or data of the error.
func (e *RPCError) IsPanic() bool {
	for _, s := range []string{e.Log, e.Message, e.Data} {
		if strings.Contains(strings.ToLower(s), "panic") {
			return true
		}
	}
	return false
}

// Message is the result of classifying one raw payload.
// Exactly one of Block, Header or Err is set for the NewBlock, NewBlockHeader and Error/Panic kinds.
type Message struct {
	Kind   Kind
	Block  *models.Block
	Header *models.BlockHeader
	Err    *RPCError
	Raw    []byte
}

// Height returns the height announced by a NewBlock or NewBlockHeader message, 0 otherwise.
func (m Message) Height() uint64 {
	switch {
	case m.Block != nil:
		return uint64(m.Block.Header.Height)
	case m.Header != nil:
		return uint64(m.Header.Height)
	}
	return 0
}

// DecodeError is returned when a payload is malformed, or when a decoder recognised
// a payload but could not decode its body. It is scoped to a single message.
type DecodeError struct {
	Decoder string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decoder: %v", e.Decoder, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
