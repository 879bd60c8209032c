// Package utils reads node state over gRPC through server reflection.
package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/manifest-network/eventstream/internal/client"
)

const (
	statusMethod           = "cosmos.base.node.v1beta1.Service.Status"
	getBlockByHeightMethod = "cosmos.base.tendermint.v1beta1.Service.GetBlockByHeight"
)

// lowestHeightPattern matches pruned node errors such as
// "height 1 is not available, lowest height is 28566001".
var lowestHeightPattern = regexp.MustCompile(`lowest height is (\d+)`)

// LatestHeight returns the node's latest committed height from the Status endpoint.
func LatestHeight(gRPCClient *client.GRPCClient, maxRetries uint) (uint64, error) {
	return ExtractGRPCField(gRPCClient, statusMethod, maxRetries, "height", parseHeight)
}

func parseHeight(s string) (uint64, error) {
	height, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.WithMessage(err, "error parsing height")
	}
	return height, nil
}

// EarliestHeight returns the lowest height the node still serves: 1 on archive nodes,
// the height reported in the pruning error otherwise.
func EarliestHeight(gRPCClient *client.GRPCClient, maxRetries uint) (uint64, error) {
	params := []byte(`{"height":"1"}`)
	_, err := GetGRPCResponse(gRPCClient, getBlockByHeightMethod, 1, params)
	if err == nil {
		return 1, nil
	}
	if lowest, ok := lowestHeightFromError(err); ok {
		return lowest, nil
	}

	// The first failure may have been transient.
	_, err = GetGRPCResponse(gRPCClient, getBlockByHeightMethod, maxRetries, params)
	if err == nil {
		return 1, nil
	}
	if lowest, ok := lowestHeightFromError(err); ok {
		return lowest, nil
	}
	return 0, fmt.Errorf("failed to determine earliest height: %w", err)
}

func lowestHeightFromError(err error) (uint64, bool) {
	matches := lowestHeightPattern.FindStringSubmatch(strings.ToLower(err.Error()))
	if len(matches) < 2 {
		return 0, false
	}
	height, perr := strconv.ParseUint(matches[1], 10, 64)
	if perr != nil || height == 0 {
		return 0, false
	}
	return height, true
}
