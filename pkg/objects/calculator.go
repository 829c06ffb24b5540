package objects

import (
	"fmt"

	"github.com/stationrt/station/pkg/runtime"
)

func init() {
	runtime.Register("calculator", func() runtime.Object { return &Calculator{} })
}

// Calculator is a stateless object demonstrating a GET/POST handler that
// does not touch state at all; every computation is written to its own log
// at DEBUG.
type Calculator struct{}

func (c *Calculator) SourceText() string {
	return calculatorSource
}

func (c *Calculator) Metadata() runtime.Metadata {
	return runtime.Metadata{
		Name:        "calculator",
		Version:     "1.0",
		Description: "stateless arithmetic over a and b, with an operation query parameter",
		Methods:     []string{"GET", "POST"},
	}
}

func (c *Calculator) Get(ctx *runtime.Context, req *runtime.Request) (any, error) {
	a, b := floatArg(req.Query, "a"), floatArg(req.Query, "b")
	op := req.Query["op"]
	if op == "" {
		op = "add"
	}
	return c.compute(ctx, op, a, b)
}

func (c *Calculator) Post(ctx *runtime.Context, req *runtime.Request) (any, error) {
	a, b := floatBody(req.Body, "a"), floatBody(req.Body, "b")
	op, _ := req.Body["op"].(string)
	if op == "" {
		op = "add"
	}
	return c.compute(ctx, op, a, b)
}

func (c *Calculator) compute(ctx *runtime.Context, op string, a, b float64) (any, error) {
	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		result = a / b
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	ctx.Logger.Debug("computed", map[string]string{"op": op})
	return map[string]any{"result": result, "op": op, "a": a, "b": b}, nil
}

func floatArg(q map[string]string, key string) float64 {
	var f float64
	fmt.Sscanf(q[key], "%f", &f)
	return f
}

func floatBody(body map[string]any, key string) float64 {
	switch v := body[key].(type) {
	case float64:
		return v
	case string:
		var f float64
		fmt.Sscanf(v, "%f", &f)
		return f
	}
	return 0
}

const calculatorSource = `Calculator: GET/POST with a, b and op (add|subtract|multiply|divide) returns {"result": N}.`
