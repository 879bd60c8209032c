// Package extractor turns node data into stream records and drives the merge that delivers them
// to the configured outputs.
package extractor

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/manifest-network/eventstream/internal/models"
)

const (
	txEventType = "tx"
	feeKey      = "fee"
)

// coinPattern matches the first coin of a fee such as "500umfx" or "1000ibc/27394F,20umfx".
var coinPattern = regexp.MustCompile(`^(\d+)([a-zA-Z][a-zA-Z0-9/:._-]*)`)

// Fetcher is the part of the node RPC the pipeline reads from.
type Fetcher interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	BlocksMeta(ctx context.Context, minHeight, maxHeight uint64) ([]models.BlockMeta, error)
	Block(ctx context.Context, height uint64) (*models.Block, error)
	BlockResults(ctx context.Context, height uint64) (*models.BlockResults, error)
}

// Filter keeps only the listed event types. An empty list keeps everything.
type Filter struct {
	BlockEvents []string
	TxEvents    []string
}

func keep(types []string, eventType string) bool {
	return len(types) == 0 || slices.Contains(types, eventType)
}

// AssembleBlock combines a block with its execution results.
func AssembleBlock(block *models.Block, results *models.BlockResults, filter Filter, historical bool) (*models.StreamBlock, error) {
	header := block.Header
	height := uint64(header.Height)
	if len(results.TxsResults) != len(block.Data.Txs) {
		return nil, fmt.Errorf("block %d has %d transactions but %d results", height, len(block.Data.Txs), len(results.TxsResults))
	}

	sb := &models.StreamBlock{
		Block:       *block,
		BlockResult: results.TxsResults,
		Historical:  historical,
	}

	for _, events := range [][]models.Event{results.BeginBlockEvents, results.EndBlockEvents, results.FinalizeBlockEvents} {
		for _, e := range events {
			if !keep(filter.BlockEvents, e.Type) {
				continue
			}
			sb.BlockEvents = append(sb.BlockEvents, models.BlockEvent{
				BlockHeight: height,
				BlockTime:   header.Time,
				EventType:   e.Type,
				Attributes:  e.Attributes,
			})
		}
	}

	for i, tx := range block.Data.Txs {
		hash, err := TxHash(tx)
		if err != nil {
			return nil, fmt.Errorf("block %d tx %d: %w", height, i, err)
		}
		result := results.TxsResults[i]
		fee, denom := txFee(result.Events)

		for _, e := range result.Events {
			if !keep(filter.TxEvents, e.Type) {
				continue
			}
			sb.TxEvents = append(sb.TxEvents, models.TxEvent{
				BlockHeight: height,
				BlockTime:   header.Time,
				TxHash:      hash,
				EventType:   e.Type,
				Attributes:  e.Attributes,
				Fee:         fee,
				Denom:       denom,
			})
		}

		if result.Code != 0 {
			sb.TxErrors = append(sb.TxErrors, txError(height, header.Time, hash, result, fee, denom))
		}
	}
	return sb, nil
}

func txError(height uint64, at time.Time, hash string, result models.TxResult, fee uint64, denom string) models.TxError {
	return models.TxError{
		BlockHeight: height,
		BlockTime:   at,
		Code:        result.Code,
		Info:        cmp.Or(result.Info, result.Log),
		TxHash:      hash,
		Fee:         fee,
		Denom:       denom,
	}
}

// TxHash returns the upper-case hex sha256 of a base64 encoded transaction, the hash Tendermint indexes txs by.
func TxHash(tx string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(tx)
	if err != nil {
		return "", fmt.Errorf("failed to decode transaction: %w", err)
	}
	sum := sha256.Sum256(raw)
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// txFee reads the fee of a transaction from the fee attribute of its tx event.
// Nodes before Tendermint 0.35 base64 encode attribute keys and values.
func txFee(events []models.Event) (uint64, string) {
	for _, e := range events {
		if e.Type != txEventType {
			continue
		}
		for _, attr := range e.Attributes {
			key, value := attr.Key, attr.Value
			if key != feeKey {
				decoded, err := base64.StdEncoding.DecodeString(key)
				if err != nil || string(decoded) != feeKey {
					continue
				}
				if v, err := base64.StdEncoding.DecodeString(value); err == nil {
					value = string(v)
				}
			}
			return parseFee(value)
		}
	}
	return 0, ""
}

func parseFee(s string) (uint64, string) {
	m := coinPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, ""
	}
	amount, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, ""
	}
	return amount, m[2]
}
