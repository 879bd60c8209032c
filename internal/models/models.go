package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Record is anything the pipeline can hand to an output handler.
type Record interface {
	// GetHeight returns the chain height the record belongs to.
	GetHeight() uint64
	// Kind names the record type ("block" or "header").
	Kind() string
}

const (
	KindBlock  = "block"
	KindHeader = "header"
)

// Int64 is an integer that Tendermint encodes as a JSON string.
// Both quoted and bare numbers are accepted when decoding; it encodes as a bare number.
type Int64 int64

func (i *Int64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.WithMessage(err, "error parsing integer")
	}
	*i = Int64(v)
	return nil
}

// Height is a block height, string encoded on the wire.
type Height uint64

func (h *Height) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*h = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return errors.WithMessage(err, "error parsing height")
	}
	*h = Height(v)
	return nil
}

// BlockID identifies a block by hash.
type BlockID struct {
	Hash string `json:"hash"`
}

// BlockHeader represents a Tendermint block header. It is the header-only stream item.
type BlockHeader struct {
	ChainID            string    `json:"chain_id"`
	Height             Height    `json:"height"`
	Time               time.Time `json:"time"`
	LastBlockID        BlockID   `json:"last_block_id"`
	LastCommitHash     string    `json:"last_commit_hash,omitempty"`
	DataHash           string    `json:"data_hash,omitempty"`
	ValidatorsHash     string    `json:"validators_hash,omitempty"`
	NextValidatorsHash string    `json:"next_validators_hash,omitempty"`
	ConsensusHash      string    `json:"consensus_hash,omitempty"`
	AppHash            string    `json:"app_hash,omitempty"`
	LastResultsHash    string    `json:"last_results_hash,omitempty"`
	EvidenceHash       string    `json:"evidence_hash,omitempty"`
	ProposerAddress    string    `json:"proposer_address"`
}

func (h *BlockHeader) GetHeight() uint64 { return uint64(h.Height) }

func (h *BlockHeader) Kind() string { return KindHeader }

// BlockData holds the base64 encoded transactions of a block.
type BlockData struct {
	Txs []string `json:"txs"`
}

// Block represents a blockchain block.
type Block struct {
	Header BlockHeader `json:"header"`
	Data   BlockData   `json:"data"`
}

// BlockMeta is the per-block summary returned by the paginated blockchain endpoint.
type BlockMeta struct {
	BlockID   BlockID     `json:"block_id"`
	BlockSize Int64       `json:"block_size"`
	Header    BlockHeader `json:"header"`
	NumTxs    Int64       `json:"num_txs"`
}

// EventAttribute is a key/value pair attached to an ABCI event.
type EventAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Index bool   `json:"index,omitempty"`
}

// Event is an ABCI event.
type Event struct {
	Type       string           `json:"type"`
	Attributes []EventAttribute `json:"attributes"`
}

// TxResult is the execution result of a single transaction.
type TxResult struct {
	Code      uint32  `json:"code"`
	Data      string  `json:"data,omitempty"`
	Log       string  `json:"log"`
	Info      string  `json:"info"`
	GasWanted Int64   `json:"gas_wanted"`
	GasUsed   Int64   `json:"gas_used"`
	Events    []Event `json:"events"`
	Codespace string  `json:"codespace"`
}

// BlockResults represents the results of block finalization.
// Older nodes report begin/end block events, newer ones finalize_block_events.
type BlockResults struct {
	Height              Height     `json:"height"`
	TxsResults          []TxResult `json:"txs_results"`
	BeginBlockEvents    []Event    `json:"begin_block_events"`
	EndBlockEvents      []Event    `json:"end_block_events"`
	FinalizeBlockEvents []Event    `json:"finalize_block_events"`
}
