package router

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"aolcore/internal/registry"
)

// Invoker performs one RPC attempt against a concrete instance. The router
// handles selection, retry and breaker bookkeeping around it.
type Invoker interface {
	Invoke(ctx context.Context, inst *registry.ServiceInstance, method string, payload []byte, md map[string]string) ([]byte, error)
}

// rawCodec passes request and response payloads through as opaque bytes, the
// way a proxy forwards frames it does not interpret.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec: unexpected message type %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: unexpected message type %T", v)
	}
	*b = data
	return nil
}

func (rawCodec) Name() string { return "raw-bytes" }

// grpcInvoker forwards calls over pooled connections.
type grpcInvoker struct {
	pool *ChannelPool
}

func (g *grpcInvoker) Invoke(ctx context.Context, inst *registry.ServiceInstance, method string, payload []byte, md map[string]string) ([]byte, error) {
	conn, err := g.pool.Get(inst.Address())
	if err != nil {
		return nil, err
	}

	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, metadata.New(md))
	}

	var reply []byte
	err = conn.Invoke(ctx, fullMethod(inst.Name, method), &payload, &reply, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return nil, fmt.Errorf("call to %s failed: %w", inst.Address(), err)
	}
	return reply, nil
}

// fullMethod builds the wire method name /<service>/<method> unless the
// caller already supplied one.
func fullMethod(serviceName, method string) string {
	if strings.HasPrefix(method, "/") {
		return method
	}
	return "/" + serviceName + "/" + method
}
