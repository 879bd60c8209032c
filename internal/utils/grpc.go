package utils

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/manifest-network/eventstream/internal/client"
)

const retryBaseDelay = 500 * time.Millisecond

// ParseMethodFullName splits "pkg.Service.Method" into "pkg.Service" and "Method".
func ParseMethodFullName(methodFullName string) (string, string, error) {
	if methodFullName == "" {
		return "", "", fmt.Errorf("method full name is empty")
	}
	idx := strings.LastIndex(methodFullName, ".")
	if idx == -1 {
		return "", "", fmt.Errorf("invalid method full name %q: no dot found", methodFullName)
	}
	service, method := methodFullName[:idx], methodFullName[idx+1:]
	if service == "" || method == "" {
		return "", "", fmt.Errorf("invalid method full name format: %q", methodFullName)
	}
	return service, method, nil
}

// invoke calls methodFullName with jsonParams as its input, retrying transient failures.
func invoke(gRPCClient *client.GRPCClient, methodFullName string, maxRetries uint, jsonParams []byte) (*dynamicpb.Message, error) {
	ctx := gRPCClient.Ctx
	service, method, err := ParseMethodFullName(methodFullName)
	if err != nil {
		return nil, err
	}
	md, err := gRPCClient.Resolver.FindMethod(ctx, service, method)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve method %s: %w", methodFullName, err)
	}

	input := dynamicpb.NewMessage(md.Input())
	if len(jsonParams) > 0 {
		if err := protojson.Unmarshal(jsonParams, input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input for %s: %w", methodFullName, err)
		}
	}

	backoff := retry.NewExponential(retryBaseDelay)
	backoff = retry.WithMaxRetries(uint64(max(maxRetries, 1)-1), backoff)

	fullMethod := fmt.Sprintf("/%s/%s", service, method)
	var output *dynamicpb.Message
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		output = dynamicpb.NewMessage(md.Output())
		if err := gRPCClient.Conn.Invoke(ctx, fullMethod, input, output); err != nil {
			if retryable(err) {
				slog.Debug("Retrying gRPC call", "method", methodFullName, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", methodFullName, err)
	}
	return output, nil
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.Unimplemented, codes.PermissionDenied,
		codes.Unauthenticated, codes.Canceled, codes.FailedPrecondition, codes.OutOfRange:
		return false
	}
	return true
}

// GetGRPCResponse calls methodFullName and returns its response as JSON.
func GetGRPCResponse(gRPCClient *client.GRPCClient, methodFullName string, maxRetries uint, jsonParams []byte) ([]byte, error) {
	output, err := invoke(gRPCClient, methodFullName, maxRetries, jsonParams)
	if err != nil {
		return nil, err
	}
	b, err := protojson.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response of %s: %w", methodFullName, err)
	}
	return b, nil
}

// ExtractGRPCField calls a parameterless method and parses the field at fieldPath, a dot separated path, of its response.
func ExtractGRPCField[T any](gRPCClient *client.GRPCClient, methodFullName string, maxRetries uint, fieldPath string, parse func(string) (T, error)) (T, error) {
	var zero T
	output, err := invoke(gRPCClient, methodFullName, maxRetries, nil)
	if err != nil {
		return zero, err
	}
	val, err := getNestedField(output, fieldPath)
	if err != nil {
		return zero, fmt.Errorf("failed to read %s from %s: %w", fieldPath, methodFullName, err)
	}
	return parse(val.String())
}

func getNestedField(msg protoreflect.Message, path string) (protoreflect.Value, error) {
	parts := strings.Split(path, ".")
	current := msg
	for i, part := range parts {
		fd := current.Descriptor().Fields().ByName(protoreflect.Name(part))
		if fd == nil {
			return protoreflect.Value{}, fmt.Errorf("field '%s' not found in %s", part, current.Descriptor().FullName())
		}
		val := current.Get(fd)
		if i == len(parts)-1 {
			return val, nil
		}
		if fd.Kind() != protoreflect.MessageKind || fd.IsList() || fd.IsMap() {
			return protoreflect.Value{}, fmt.Errorf("field '%s' is not a message", part)
		}
		current = val.Message()
	}
	return protoreflect.Value{}, fmt.Errorf("empty field path")
}
