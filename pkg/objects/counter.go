// Package objects holds the built-in object handlers registered with
// pkg/runtime at process startup. counter and calculator exist to exercise
// the end-to-end cluster scenarios (LWW convergence, explicit routing,
// load-based routing) the object model is built around.
package objects

import (
	"fmt"
	"strconv"

	"github.com/stationrt/station/pkg/runtime"
)

func init() {
	runtime.Register("counter", func() runtime.Object { return &Counter{} })
}

const counterKey = "value"

// Counter is a minimal stateful object: GET reads the current value, POST
// increments it by an optional "by" field (default 1). Every write goes
// through the shared state primitive, so incrementing the same counter from
// two stations converges under last-write-wins rather than summing.
type Counter struct{}

func (c *Counter) SourceText() string {
	return counterSource
}

func (c *Counter) Metadata() runtime.Metadata {
	return runtime.Metadata{
		Name:        "counter",
		Version:     "1.0",
		Description: "a replicated counter demonstrating last-write-wins state convergence",
		Methods:     []string{"GET", "POST", "DELETE"},
	}
}

func (c *Counter) Get(ctx *runtime.Context, req *runtime.Request) (any, error) {
	value, err := ctx.State.Get(counterKey, "0")
	if err != nil {
		return nil, err
	}
	n, _ := strconv.Atoi(value)
	return map[string]any{"value": n}, nil
}

func (c *Counter) Post(ctx *runtime.Context, req *runtime.Request) (any, error) {
	by := 1
	if raw, ok := req.Body["by"]; ok {
		switch v := raw.(type) {
		case float64:
			by = int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				by = n
			}
		}
	}

	current, err := ctx.State.Get(counterKey, "0")
	if err != nil {
		return nil, err
	}
	n, _ := strconv.Atoi(current)
	n += by
	if err := ctx.State.Set(counterKey, strconv.Itoa(n)); err != nil {
		return nil, err
	}
	ctx.Logger.Info("incremented", map[string]string{"by": strconv.Itoa(by), "value": strconv.Itoa(n)})
	return map[string]any{"value": n}, nil
}

func (c *Counter) Delete(ctx *runtime.Context, req *runtime.Request) (any, error) {
	if err := ctx.State.Delete(counterKey); err != nil {
		return nil, err
	}
	return map[string]any{"value": 0}, nil
}

func (c *Counter) SelfTests() map[string]func(ctx *runtime.Context) error {
	return map[string]func(ctx *runtime.Context) error{
		"test_increment_by_default": func(ctx *runtime.Context) error {
			before, _ := ctx.State.Get(counterKey, "0")
			n, _ := strconv.Atoi(before)
			if _, err := c.Post(ctx, &runtime.Request{Body: map[string]any{}}); err != nil {
				return err
			}
			after, _ := ctx.State.Get(counterKey, "0")
			got, _ := strconv.Atoi(after)
			if got != n+1 {
				return fmt.Errorf("expected %d, got %d", n+1, got)
			}
			return nil
		},
	}
}

const counterSource = `Counter: GET returns {"value": N}; POST increments by body["by"] (default 1); DELETE resets to 0.`
