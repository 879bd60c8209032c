package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Resolver finds method descriptors through the gRPC server reflection service and caches
// every file it has downloaded.
type Resolver struct {
	client rpb.ServerReflectionClient

	mu     sync.Mutex
	protos map[string]*descriptorpb.FileDescriptorProto
	files  *protoregistry.Files
}

func NewResolver(conn grpc.ClientConnInterface) *Resolver {
	return &Resolver{
		client: rpb.NewServerReflectionClient(conn),
		protos: make(map[string]*descriptorpb.FileDescriptorProto),
		files:  new(protoregistry.Files),
	}
}

// FindMethod resolves service.Method to its descriptor.
func (r *Resolver) FindMethod(ctx context.Context, service, method string) (protoreflect.MethodDescriptor, error) {
	desc, err := r.findDescriptor(ctx, service)
	if err != nil {
		return nil, err
	}
	sd, ok := desc.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("%s is not a service", service)
	}
	md := sd.Methods().ByName(protoreflect.Name(method))
	if md == nil {
		return nil, fmt.Errorf("method %s not found in service %s", method, service)
	}
	return md, nil
}

func (r *Resolver) findDescriptor(ctx context.Context, symbol string) (protoreflect.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := protoreflect.FullName(symbol)
	if desc, err := r.files.FindDescriptorByName(name); err == nil {
		return desc, nil
	}

	stream, err := r.client.ServerReflectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open reflection stream: %w", err)
	}
	defer func() {
		if err := stream.CloseSend(); err != nil {
			slog.Debug("Failed to close reflection stream", "error", err)
		}
	}()

	queue, err := r.fetch(stream, &rpb.ServerReflectionRequest{
		MessageRequest: &rpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: symbol},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", symbol, err)
	}

	for len(queue) > 0 {
		fd := queue[0]
		queue = queue[1:]
		if _, seen := r.protos[fd.GetName()]; seen {
			continue
		}
		r.protos[fd.GetName()] = fd
		for _, dep := range fd.GetDependency() {
			if _, seen := r.protos[dep]; seen {
				continue
			}
			more, err := r.fetch(stream, &rpb.ServerReflectionRequest{
				MessageRequest: &rpb.ServerReflectionRequest_FileByFilename{FileByFilename: dep},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to resolve dependency %s: %w", dep, err)
			}
			queue = append(queue, more...)
		}
	}

	set := &descriptorpb.FileDescriptorSet{}
	for _, fd := range r.protos {
		set.File = append(set.File, fd)
	}
	files, err := protodesc.FileOptions{AllowUnresolvable: true}.NewFiles(set)
	if err != nil {
		return nil, fmt.Errorf("failed to build descriptors: %w", err)
	}
	r.files = files

	desc, err := files.FindDescriptorByName(name)
	if err != nil {
		return nil, fmt.Errorf("symbol %s not found: %w", symbol, err)
	}
	return desc, nil
}

func (r *Resolver) fetch(stream rpb.ServerReflection_ServerReflectionInfoClient, req *rpb.ServerReflectionRequest) ([]*descriptorpb.FileDescriptorProto, error) {
	if err := stream.Send(req); err != nil {
		return nil, err
	}
	resp, err := stream.Recv()
	if err != nil {
		return nil, err
	}
	if e := resp.GetErrorResponse(); e != nil {
		return nil, fmt.Errorf("reflection error %d: %s", e.GetErrorCode(), e.GetErrorMessage())
	}

	raw := resp.GetFileDescriptorResponse().GetFileDescriptorProto()
	out := make([]*descriptorpb.FileDescriptorProto, 0, len(raw))
	for _, b := range raw {
		fd := &descriptorpb.FileDescriptorProto{}
		if err := proto.Unmarshal(b, fd); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file descriptor: %w", err)
		}
		out = append(out, fd)
	}
	return out, nil
}
