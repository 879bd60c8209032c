// Package alpnfix turns off grpc-go's ALPN check, which rejects the TLS endpoints of many
// public Cosmos nodes. It must be imported before the gRPC client is created:
//
//	_ "github.com/manifest-network/eventstream/internal/alpnfix"
package alpnfix

import "os"

// EnvVar is the grpc-go switch for ALPN enforcement.
const EnvVar = "GRPC_ENFORCE_ALPN_ENABLED"

func init() {
	if _, set := os.LookupEnv(EnvVar); !set {
		os.Setenv(EnvVar, "false")
	}
}
