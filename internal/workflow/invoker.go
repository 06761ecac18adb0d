package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aolcore/internal/router"
)

// RouterInvoker dispatches node calls through the mesh router, so workflow
// steps get the same load balancing, retry and circuit breaking as direct
// service calls.
type RouterInvoker struct {
	router *router.Router
	source string
}

// NewRouterInvoker wraps the router. Source names the caller on emitted
// routing events.
func NewRouterInvoker(r *router.Router, source string) *RouterInvoker {
	return &RouterInvoker{router: r, source: source}
}

// InvokeService marshals the input to JSON, routes it, and unmarshals the
// response payload. Non-JSON response payloads come back as raw strings.
func (ri *RouterInvoker) InvokeService(ctx context.Context, serviceName, method string, input interface{}, timeout time.Duration) (interface{}, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encoding input for %s: %w", serviceName, err)
	}

	resp := ri.router.Route(ctx, router.Request{
		Source:   ri.source,
		Target:   serviceName,
		Method:   method,
		Payload:  payload,
		Deadline: time.Now().Add(timeout),
	})
	if !resp.Success {
		return nil, errors.New(resp.Error)
	}
	if len(resp.Payload) == 0 {
		return nil, nil
	}

	var out interface{}
	if err := json.Unmarshal(resp.Payload, &out); err != nil {
		return string(resp.Payload), nil
	}
	return out, nil
}
