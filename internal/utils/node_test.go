package utils

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/manifest-network/eventstream/internal/client"
)

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func service(pkg, method, input, output string) *descriptorpb.ServiceDescriptorProto {
	return &descriptorpb.ServiceDescriptorProto{
		Name: proto.String("Service"),
		Method: []*descriptorpb.MethodDescriptorProto{{
			Name:       proto.String(method),
			InputType:  proto.String("." + pkg + "." + input),
			OutputType: proto.String("." + pkg + "." + output),
		}},
	}
}

// testFiles describes a trimmed down node status service and block service.
// StatusResponse carries a nested sdk_block.header so field paths can be exercised.
func testFiles(t *testing.T) *protoregistry.Files {
	t.Helper()

	const nodePkg = "cosmos.base.node.v1beta1"
	tags := field("tags", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING, "")
	tags.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	nodeFile := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("cosmos/base/node/v1beta1/query.proto"),
		Package: proto.String(nodePkg),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("Header",
				field("chain_id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
				field("height", 2, descriptorpb.FieldDescriptorProto_TYPE_INT64, ""),
			),
			message("Block",
				field("header", 1, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, "."+nodePkg+".Header"),
			),
			message("StatusRequest"),
			message("StatusResponse",
				field("earliest_store_height", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT64, ""),
				field("height", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT64, ""),
				field("sdk_block", 3, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, "."+nodePkg+".Block"),
				tags,
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{service(nodePkg, "Status", "StatusRequest", "StatusResponse")},
	}

	const tmPkg = "cosmos.base.tendermint.v1beta1"
	tmFile := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("cosmos/base/tendermint/v1beta1/query.proto"),
		Package: proto.String(tmPkg),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("GetBlockByHeightRequest", field("height", 1, descriptorpb.FieldDescriptorProto_TYPE_INT64, "")),
			message("GetBlockByHeightResponse", field("block_id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING, "")),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{service(tmPkg, "GetBlockByHeight", "GetBlockByHeightRequest", "GetBlockByHeightResponse")},
	}

	files, err := protodesc.NewFiles(&descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{nodeFile, tmFile}})
	require.NoError(t, err)
	return files
}

func lookupMessage(t *testing.T, files *protoregistry.Files, name string) protoreflect.MessageDescriptor {
	t.Helper()
	d, err := files.FindDescriptorByName(protoreflect.FullName(name))
	require.NoError(t, err)
	return d.(protoreflect.MessageDescriptor)
}

// statusResponse builds a StatusResponse at height with sdk_block.header filled in.
func statusResponse(t *testing.T, files *protoregistry.Files, height uint64) *dynamicpb.Message {
	t.Helper()
	return newStatusResponse(lookupMessage(t, files, "cosmos.base.node.v1beta1.StatusResponse"), height)
}

func newStatusResponse(respDesc protoreflect.MessageDescriptor, height uint64) *dynamicpb.Message {
	resp := dynamicpb.NewMessage(respDesc)
	resp.Set(respDesc.Fields().ByName("height"), protoreflect.ValueOfUint64(height))

	blockField := respDesc.Fields().ByName("sdk_block")
	block := dynamicpb.NewMessage(blockField.Message())
	headerField := blockField.Message().Fields().ByName("header")
	header := dynamicpb.NewMessage(headerField.Message())
	header.Set(headerField.Message().Fields().ByName("chain_id"), protoreflect.ValueOfString("manifest-1"))
	header.Set(headerField.Message().Fields().ByName("height"), protoreflect.ValueOfInt64(int64(height)))
	block.Set(headerField, protoreflect.ValueOfMessage(header))
	resp.Set(blockField, protoreflect.ValueOfMessage(block))
	return resp
}

// testNode serves the two test services. lowest is the earliest served height, 0 for an archive node.
type testNode struct {
	height      uint64
	lowest      uint64
	unavailable int32
	statusCalls atomic.Int32

	mu           sync.Mutex
	blockHeights []int64
}

func (n *testNode) BlockHeights() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.blockHeights...)
}

func (n *testNode) statusHandler(t *testing.T, files *protoregistry.Files) grpc.MethodHandler {
	reqDesc := lookupMessage(t, files, "cosmos.base.node.v1beta1.StatusRequest")
	respDesc := lookupMessage(t, files, "cosmos.base.node.v1beta1.StatusResponse")
	return func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		if err := dec(dynamicpb.NewMessage(reqDesc)); err != nil {
			return nil, err
		}
		if n.statusCalls.Add(1) <= n.unavailable {
			return nil, status.Error(codes.Unavailable, "node is syncing")
		}
		return newStatusResponse(respDesc, n.height), nil
	}
}

func (n *testNode) blockHandler(t *testing.T, files *protoregistry.Files) grpc.MethodHandler {
	reqDesc := lookupMessage(t, files, "cosmos.base.tendermint.v1beta1.GetBlockByHeightRequest")
	respDesc := lookupMessage(t, files, "cosmos.base.tendermint.v1beta1.GetBlockByHeightResponse")
	return func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		req := dynamicpb.NewMessage(reqDesc)
		if err := dec(req); err != nil {
			return nil, err
		}
		height := req.Get(reqDesc.Fields().ByName("height")).Int()
		n.mu.Lock()
		n.blockHeights = append(n.blockHeights, height)
		n.mu.Unlock()
		if n.lowest > 0 && uint64(height) < n.lowest {
			return nil, status.Errorf(codes.InvalidArgument, "height %d is not available, lowest height is %d", height, n.lowest)
		}
		return dynamicpb.NewMessage(respDesc), nil
	}
}

func startTestNode(t *testing.T, node *testNode) *client.GRPCClient {
	t.Helper()
	files := testFiles(t)

	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "cosmos.base.node.v1beta1.Service",
		HandlerType: (*any)(nil),
		Methods:     []grpc.MethodDesc{{MethodName: "Status", Handler: node.statusHandler(t, files)}},
		Metadata:    "cosmos/base/node/v1beta1/query.proto",
	}, node)
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "cosmos.base.tendermint.v1beta1.Service",
		HandlerType: (*any)(nil),
		Methods:     []grpc.MethodDesc{{MethodName: "GetBlockByHeight", Handler: node.blockHandler(t, files)}},
		Metadata:    "cosmos/base/tendermint/v1beta1/query.proto",
	}, node)
	rpb.RegisterServerReflectionServer(srv, reflection.NewServer(reflection.ServerOptions{
		Services:           srv,
		DescriptorResolver: files,
	}))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := client.NewGRPCClient(context.Background(), "passthrough:///bufnet", true,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}
