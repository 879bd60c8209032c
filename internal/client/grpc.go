package client

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const maxRecvMsgSize = 64 << 20

// GRPCClient is a gRPC connection to a Cosmos node with a reflection based method resolver.
type GRPCClient struct {
	Conn     *grpc.ClientConn
	Ctx      context.Context
	Resolver *Resolver
}

// NewGRPCClient connects to address. Plaintext is used when insecure is set, TLS otherwise.
func NewGRPCClient(ctx context.Context, address string, insecureConn bool, opts ...grpc.DialOption) (*GRPCClient, error) {
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if insecureConn {
		creds = insecure.NewCredentials()
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize)),
	}, opts...)

	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return &GRPCClient{
		Conn:     conn,
		Ctx:      ctx,
		Resolver: NewResolver(conn),
	}, nil
}

func (c *GRPCClient) Close() error {
	return c.Conn.Close()
}
