package output

import (
	"time"

	"github.com/manifest-network/eventstream/internal/models"
)

var blockTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testBlock(height uint64) *models.StreamBlock {
	return &models.StreamBlock{
		Block: models.Block{
			Header: models.BlockHeader{
				ChainID:     "manifest-1",
				Height:      models.Height(height),
				Time:        blockTime,
				LastBlockID: models.BlockID{Hash: "FFEE"},
			},
			Data: models.BlockData{Txs: []string{"dHgx"}},
		},
		BlockEvents: []models.BlockEvent{{
			BlockHeight: height,
			BlockTime:   blockTime,
			EventType:   "mint",
			Attributes:  []models.EventAttribute{{Key: "YW1vdW50", Value: "MTA="}},
		}},
		TxEvents: []models.TxEvent{{
			BlockHeight: height,
			BlockTime:   blockTime,
			TxHash:      "ABC",
			EventType:   "transfer",
			Attributes:  []models.EventAttribute{{Key: "recipient", Value: "manifest1xyz"}},
			Fee:         500,
			Denom:       "umfx",
		}},
		TxErrors: []models.TxError{{
			BlockHeight: height,
			BlockTime:   blockTime,
			Code:        5,
			Info:        "out of gas",
			TxHash:      "ABC",
			Fee:         500,
			Denom:       "umfx",
		}},
		Historical: true,
	}
}

func testHeader(height uint64) *models.BlockHeader {
	return &models.BlockHeader{
		ChainID:         "manifest-1",
		Height:          models.Height(height),
		Time:            blockTime,
		ProposerAddress: "PROPOSER",
	}
}
