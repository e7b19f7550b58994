// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shelf Contributors

package extsdk

import (
	"context"
	"errors"
	"fmt"
	"math"

	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrUnknownOperation is returned by Call for operations the extension does
// not export.
var ErrUnknownOperation = errors.New("unknown operation")

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "shelf.extension.v1.Extension"

const (
	methodActivate     = "/" + ServiceName + "/Activate"
	methodPostActivate = "/" + ServiceName + "/PostActivate"
	methodOperations   = "/" + ServiceName + "/Operations"
	methodCall         = "/" + ServiceName + "/Call"
)

// GRPCPlugin implements go-plugin's Plugin interface for gRPC.
type GRPCPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	// Impl is used by the extension process (not used by the shell).
	Impl Extension
}

// GRPCServer registers the extension service (called by the extension process).
func (p *GRPCPlugin) GRPCServer(_ *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("extsdk: extension is nil")
	}
	s.RegisterService(&serviceDesc, &server{impl: p.Impl})
	return nil
}

// GRPCClient returns an Extension backed by the connection (called by the shell).
func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *hashiplug.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return NewClient(c), nil
}

// extensionServer is the handler type of serviceDesc.
type extensionServer interface {
	activate(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
	postActivate(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error)
	operations(ctx context.Context, in *emptypb.Empty) (*structpb.ListValue, error)
	call(ctx context.Context, in *structpb.Struct) (*structpb.Value, error)
}

// The service is described by hand; its messages are the well-known
// Struct, ListValue, Value and Empty types.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*extensionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Activate", Handler: unaryHandler(methodActivate, extensionServer.activate)},
		{MethodName: "PostActivate", Handler: unaryHandler(methodPostActivate, extensionServer.postActivate)},
		{MethodName: "Operations", Handler: unaryHandler(methodOperations, extensionServer.operations)},
		{MethodName: "Call", Handler: unaryHandler(methodCall, extensionServer.call)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shelf/extension/v1/extension.proto",
}

func unaryHandler[Req any, Resp any, PReq interface{ *Req }](
	method string,
	fn func(extensionServer, context.Context, PReq) (Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			resp, err := fn(srv.(extensionServer), ctx, req.(PReq))
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: method}, handler)
	}
}

// server adapts Extension to the gRPC service.
type server struct {
	impl Extension
}

func (s *server) activate(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.impl.Activate(ctx, infoFromStruct(in)); err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return &emptypb.Empty{}, nil
}

func (s *server) postActivate(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.impl.PostActivate(ctx, infoFromStruct(in)); err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return &emptypb.Empty{}, nil
}

func (s *server) operations(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	names, err := s.impl.Operations(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	list := &structpb.ListValue{Values: make([]*structpb.Value, len(names))}
	for i, n := range names {
		list.Values[i] = structpb.NewStringValue(n)
	}
	return list, nil
}

func (s *server) call(ctx context.Context, in *structpb.Struct) (*structpb.Value, error) {
	op := in.GetFields()["op"].GetStringValue()
	var args []any
	if list := in.GetFields()["args"].GetListValue(); list != nil {
		args = make([]any, len(list.GetValues()))
		for i, v := range list.GetValues() {
			args[i] = FromValue(v)
		}
	}

	result, err := s.impl.Call(ctx, op, args)
	if err != nil {
		if errors.Is(err, ErrUnknownOperation) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Unknown, err.Error())
	}
	v, err := structpb.NewValue(result)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "operation %q returned unsupported value: %v", op, err)
	}
	return v, nil
}

// Client is the shell-side Extension speaking to an extension process.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient creates a client over conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Activate implements Extension.
func (c *Client) Activate(ctx context.Context, info Info) error {
	return c.conn.Invoke(ctx, methodActivate, infoToStruct(info), &emptypb.Empty{})
}

// PostActivate implements Extension.
func (c *Client) PostActivate(ctx context.Context, info Info) error {
	return c.conn.Invoke(ctx, methodPostActivate, infoToStruct(info), &emptypb.Empty{})
}

// Operations implements Extension.
func (c *Client) Operations(ctx context.Context) ([]string, error) {
	out := &structpb.ListValue{}
	if err := c.conn.Invoke(ctx, methodOperations, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		names = append(names, v.GetStringValue())
	}
	return names, nil
}

// Call implements Extension. A NotFound status maps back to
// ErrUnknownOperation.
func (c *Client) Call(ctx context.Context, op string, args []any) (any, error) {
	list, err := structpb.NewList(args)
	if err != nil {
		return nil, fmt.Errorf("arguments of %q: %w", op, err)
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		"op":   structpb.NewStringValue(op),
		"args": structpb.NewListValue(list),
	}}
	out := &structpb.Value{}
	if err := c.conn.Invoke(ctx, methodCall, in, out); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
		}
		return nil, err
	}
	return FromValue(out), nil
}

func infoToStruct(info Info) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":      structpb.NewStringValue(info.ID),
		"version": structpb.NewStringValue(info.Version),
		"title":   structpb.NewStringValue(info.Title),
	}}
}

func infoFromStruct(s *structpb.Struct) Info {
	f := s.GetFields()
	return Info{
		ID:      f["id"].GetStringValue(),
		Version: f["version"].GetStringValue(),
		Title:   f["title"].GetStringValue(),
	}
}

// FromValue converts a protobuf Value to plain Go data, turning integral
// numbers into int.
func FromValue(v *structpb.Value) any {
	return normalize(v.AsInterface())
}

func normalize(v any) any {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && val >= math.MinInt64 && val < math.MaxInt64 {
			return int(val)
		}
		return val
	case []any:
		for i := range val {
			val[i] = normalize(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = normalize(val[k])
		}
		return val
	default:
		return val
	}
}
