package extractor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/manifest-network/eventstream/internal/client"
	"github.com/manifest-network/eventstream/internal/models"
	"github.com/manifest-network/eventstream/internal/stream"
)

var genesis = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

const (
	testTx     = "dHgx"
	testTxHash = "709B55BD3DA0F5A838125BD0EE20C5BFDD7CABA173912D4281CAE816B79A201B"
)

// fakeChain serves blocks up to tip and reports current as the chain height.
type fakeChain struct {
	mu       sync.Mutex
	current  uint64
	tip      uint64
	empty    map[uint64]bool
	missing  map[uint64]bool
	fail     error
	delay    time.Duration
	metas    [][2]uint64
	inFlight int
	peak     int
}

func (c *fakeChain) CurrentHeight(context.Context) (uint64, error) {
	return c.current, nil
}

// BlocksMeta returns the metas newest first, like Tendermint.
func (c *fakeChain) BlocksMeta(_ context.Context, minHeight, maxHeight uint64) ([]models.BlockMeta, error) {
	c.mu.Lock()
	c.metas = append(c.metas, [2]uint64{minHeight, maxHeight})
	c.mu.Unlock()

	var metas []models.BlockMeta
	for h := min(maxHeight, c.tip); h >= minHeight && h > 0; h-- {
		numTxs := models.Int64(1)
		if c.empty[h] {
			numTxs = 0
		}
		metas = append(metas, models.BlockMeta{Header: header(h), NumTxs: numTxs})
	}
	return metas, nil
}

func (c *fakeChain) Block(ctx context.Context, height uint64) (*models.Block, error) {
	c.mu.Lock()
	c.inFlight++
	c.peak = max(c.peak, c.inFlight)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.fail != nil {
		return nil, c.fail
	}
	if height > c.tip || c.missing[height] {
		return nil, fmt.Errorf("%w: height %d", client.ErrNotFound, height)
	}
	block := &models.Block{Header: header(height)}
	if !c.empty[height] {
		block.Data.Txs = []string{testTx}
	}
	return block, nil
}

func (c *fakeChain) BlockResults(_ context.Context, height uint64) (*models.BlockResults, error) {
	results := &models.BlockResults{
		Height:              models.Height(height),
		FinalizeBlockEvents: []models.Event{{Type: "mint", Attributes: []models.EventAttribute{{Key: "amount", Value: "10"}}}},
	}
	if !c.empty[height] {
		results.TxsResults = []models.TxResult{{
			Events: []models.Event{
				{Type: "tx", Attributes: []models.EventAttribute{{Key: "fee", Value: "500umfx"}}},
				{Type: "transfer", Attributes: []models.EventAttribute{{Key: "amount", Value: "7umfx"}}},
			},
		}}
	}
	return results, nil
}

func (c *fakeChain) metaCalls() [][2]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][2]uint64(nil), c.metas...)
}

func header(height uint64) models.BlockHeader {
	return models.BlockHeader{
		ChainID: "test-1",
		Height:  models.Height(height),
		Time:    genesis.Add(time.Duration(height) * 6 * time.Second),
	}
}

func newBlockPayload(height uint64) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":0,"result":{"query":"tm.event='NewBlock'","data":{"type":"tendermint/event/NewBlock","value":{"block":{"header":{"chain_id":"test-1","height":"%d"},"data":{"txs":["%s"]}}}}}}`, height, testTx))
}

func newBlockHeaderPayload(height uint64) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":0,"result":{"query":"tm.event='NewBlockHeader'","data":{"type":"tendermint/event/NewBlockHeader","value":{"header":{"chain_id":"test-1","height":"%d"}}}}}`, height))
}

// fakeSubscriber pushes the scripted payloads once subscribed, then stays connected.
type fakeSubscriber struct {
	mu       sync.Mutex
	events   chan stream.Event
	payloads [][]byte
	queries  []string
	closed   bool
}

func newFakeSubscriber(payloads ...[]byte) *fakeSubscriber {
	return &fakeSubscriber{events: make(chan stream.Event, len(payloads)+1), payloads: payloads}
}

func (s *fakeSubscriber) Connect(context.Context) error {
	s.events <- stream.Event{Type: stream.EventConnected}
	return nil
}

func (s *fakeSubscriber) Subscribe(_ context.Context, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	for _, p := range s.payloads {
		s.events <- stream.Event{Type: stream.EventMessage, Payload: p}
	}
	return nil
}

func (s *fakeSubscriber) Events() <-chan stream.Event { return s.events }

func (s *fakeSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscriber) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// memoryOutput records what it is given.
type memoryOutput struct {
	mu      sync.Mutex
	records []models.Record
	err     error
}

func (o *memoryOutput) Write(_ context.Context, r models.Record) error {
	if o.err != nil {
		return o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, r)
	return nil
}

func (o *memoryOutput) Close() error { return nil }

func (o *memoryOutput) heights() []uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]uint64, 0, len(o.records))
	for _, r := range o.records {
		out = append(out, r.GetHeight())
	}
	return out
}

type resumableOutput struct {
	memoryOutput
	latest map[string]uint64
}

func (o *resumableOutput) LatestHeight(_ context.Context, kind string) (uint64, error) {
	return o.latest[kind], nil
}
