package classify

import (
	"sort"
)

// Decoder attempts to interpret a raw payload.
// Decode returns (nil, nil) when the payload is not one it handles.
type Decoder interface {
	Name() string
	Priority() int
	Decode(raw []byte) (*Message, error)
}

// Chain tries its decoders in ascending priority order; the first claim wins.
type Chain struct {
	decoders []Decoder
}

// NewChain builds a chain from the given decoders. Decoders with equal priority keep their argument order.
func NewChain(decoders ...Decoder) *Chain {
	sorted := make([]Decoder, len(decoders))
	copy(sorted, decoders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Chain{decoders: sorted}
}

// DefaultChain returns the chain used for the node's websocket: errors and panics first,
// then new blocks, new block headers and subscription acknowledgements.
func DefaultChain() *Chain {
	return NewChain(
		ErrorDecoder{},
		NewBlockDecoder{},
		NewBlockHeaderDecoder{},
		EmptyDecoder{},
	)
}

// Decoders returns the decoders in the order they are tried.
func (c *Chain) Decoders() []Decoder {
	out := make([]Decoder, len(c.decoders))
	copy(out, c.decoders)
	return out
}

// Classify runs raw through the chain. A decoder failure stops the chain and is returned
// as a *DecodeError alongside an Unknown message.
func (c *Chain) Classify(raw []byte) (Message, error) {
	for _, d := range c.decoders {
		msg, err := d.Decode(raw)
		if err != nil {
			return Message{Kind: KindUnknown, Raw: raw}, &DecodeError{Decoder: d.Name(), Err: err}
		}
		if msg != nil {
			msg.Raw = raw
			return *msg, nil
		}
	}
	return Message{Kind: KindUnknown, Raw: raw}, nil
}
