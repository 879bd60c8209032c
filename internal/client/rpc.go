// Package client holds the transports used to talk to a Tendermint node: JSON-RPC over HTTP,
// the websocket event subscription and gRPC with server reflection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/manifest-network/eventstream/internal/classify"
	"github.com/manifest-network/eventstream/internal/models"
)

// ErrNotFound is returned when the node has no data for the requested height, either because
// it is above the chain head or because it was pruned.
var ErrNotFound = errors.New("height not found")

// notFoundMarkers are the error texts Tendermint uses for heights it cannot serve.
var notFoundMarkers = []string{
	"must be less than or equal to the current blockchain height",
	"is not available, lowest height is",
	"could not find results for height",
	"could not find block",
}

type RPCConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries uint
	// RequestsPerSecond limits outgoing requests. Zero disables the limit.
	RequestsPerSecond float64
	// CacheSize is the number of blocks and block results kept in memory. Zero disables the cache.
	CacheSize int
}

// RPCClient calls the Tendermint JSON-RPC endpoints over HTTP.
type RPCClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	blocks  *lru.Cache[uint64, *models.Block]
	results *lru.Cache[uint64, *models.BlockResults]
}

func NewRPCClient(cfg RPCConfig) (*RPCClient, error) {
	c := &RPCClient{}

	c.http = resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(int(cfg.MaxRetries)).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			switch r.StatusCode() {
			case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				return true
			}
			return false
		})

	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
		c.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return c.limiter.Wait(r.Context())
		})
	}

	if cfg.CacheSize > 0 {
		var err error
		if c.blocks, err = lru.New[uint64, *models.Block](cfg.CacheSize); err != nil {
			return nil, fmt.Errorf("failed to create block cache: %w", err)
		}
		if c.results, err = lru.New[uint64, *models.BlockResults](cfg.CacheSize); err != nil {
			return nil, fmt.Errorf("failed to create block results cache: %w", err)
		}
	}
	return c, nil
}

type rpcResponse struct {
	Result json.RawMessage    `json:"result"`
	Error  *classify.RPCError `json:"error"`
}

// call performs a GET on path and decodes the JSON-RPC result into out.
func (c *RPCClient) call(ctx context.Context, path string, params map[string]string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}

	var env rpcResponse
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		if resp.IsError() {
			return fmt.Errorf("failed to call %s: unexpected status %s", path, resp.Status())
		}
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if env.Error != nil {
		if isNotFound(env.Error) {
			return fmt.Errorf("%w: %w", ErrNotFound, env.Error)
		}
		return fmt.Errorf("%s failed: %w", path, env.Error)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to call %s: unexpected status %s", path, resp.Status())
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return fmt.Errorf("%s returned an empty result", path)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s result: %w", path, err)
	}
	return nil
}

func isNotFound(e *classify.RPCError) bool {
	text := e.Message + " " + e.Data + " " + e.Log
	for _, marker := range notFoundMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// CurrentHeight returns the last committed height reported by abci_info.
func (c *RPCClient) CurrentHeight(ctx context.Context) (uint64, error) {
	var res struct {
		Response struct {
			LastBlockHeight models.Height `json:"last_block_height"`
		} `json:"response"`
	}
	if err := c.call(ctx, "/abci_info", nil, &res); err != nil {
		return 0, fmt.Errorf("failed to get current height: %w", err)
	}
	return uint64(res.Response.LastBlockHeight), nil
}

// BlocksMeta returns the block metas of [min, max], highest first. The node returns at most 20 per call.
func (c *RPCClient) BlocksMeta(ctx context.Context, minHeight, maxHeight uint64) ([]models.BlockMeta, error) {
	var res struct {
		LastHeight models.Height      `json:"last_height"`
		BlockMetas []models.BlockMeta `json:"block_metas"`
	}
	params := map[string]string{
		"minHeight": strconv.FormatUint(minHeight, 10),
		"maxHeight": strconv.FormatUint(maxHeight, 10),
	}
	if err := c.call(ctx, "/blockchain", params, &res); err != nil {
		return nil, fmt.Errorf("failed to get block metas [%d, %d]: %w", minHeight, maxHeight, err)
	}
	return res.BlockMetas, nil
}

// Block returns the block at height.
func (c *RPCClient) Block(ctx context.Context, height uint64) (*models.Block, error) {
	if c.blocks != nil {
		if b, ok := c.blocks.Get(height); ok {
			return b, nil
		}
	}

	var res struct {
		Block *models.Block `json:"block"`
	}
	if err := c.call(ctx, "/block", heightParam(height), &res); err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", height, err)
	}
	if res.Block == nil {
		return nil, fmt.Errorf("failed to get block %d: %w", height, ErrNotFound)
	}

	if c.blocks != nil {
		c.blocks.Add(height, res.Block)
	}
	return res.Block, nil
}

// BlockResults returns the execution results of the block at height.
func (c *RPCClient) BlockResults(ctx context.Context, height uint64) (*models.BlockResults, error) {
	if c.results != nil {
		if r, ok := c.results.Get(height); ok {
			return r, nil
		}
	}

	var res models.BlockResults
	if err := c.call(ctx, "/block_results", heightParam(height), &res); err != nil {
		return nil, fmt.Errorf("failed to get block results %d: %w", height, err)
	}

	if c.results != nil {
		c.results.Add(height, &res)
	}
	slog.Debug("Fetched block results", "height", height, "txs", len(res.TxsResults))
	return &res, nil
}

func heightParam(height uint64) map[string]string {
	return map[string]string{"height": strconv.FormatUint(height, 10)}
}
