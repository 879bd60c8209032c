package main

import (
	_ "github.com/manifest-network/eventstream/internal/alpnfix" // Disable ALPN enforcement for nodes whose gRPC endpoint doesn't negotiate it

	"github.com/manifest-network/eventstream/cmd/eventstream"
)

func main() {
	eventstream.Execute()
}
