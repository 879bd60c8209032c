package models

import "time"

// BlockEvent is a block-level event flattened with its block coordinates.
type BlockEvent struct {
	BlockHeight uint64           `json:"block_height"`
	BlockTime   time.Time        `json:"block_time"`
	EventType   string           `json:"event_type"`
	Attributes  []EventAttribute `json:"attributes"`
}

// TxEvent is a transaction event flattened with its block and transaction coordinates.
type TxEvent struct {
	BlockHeight uint64           `json:"block_height"`
	BlockTime   time.Time        `json:"block_time"`
	TxHash      string           `json:"tx_hash"`
	EventType   string           `json:"event_type"`
	Attributes  []EventAttribute `json:"attributes"`
	Fee         uint64           `json:"fee"`
	Denom       string           `json:"denom"`
}

// TxError represents an errored transaction that still collected a fee.
type TxError struct {
	BlockHeight uint64    `json:"block_height"`
	BlockTime   time.Time `json:"block_time"`
	Code        uint32    `json:"code"`
	Info        string    `json:"info"`
	TxHash      string    `json:"tx_hash"`
	Fee         uint64    `json:"fee"`
	Denom       string    `json:"denom"`
}

// StreamBlock is the full-block stream item: the block with its events and tx outcomes.
type StreamBlock struct {
	Block       Block        `json:"block"`
	BlockEvents []BlockEvent `json:"block_events"`
	TxEvents    []TxEvent    `json:"tx_events"`
	TxErrors    []TxError    `json:"tx_errors"`
	BlockResult []TxResult   `json:"block_result,omitempty"`
	Historical  bool         `json:"historical"`
}

func (b *StreamBlock) GetHeight() uint64 { return uint64(b.Block.Header.Height) }

func (b *StreamBlock) Kind() string { return KindBlock }
