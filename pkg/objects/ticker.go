package objects

import (
	"fmt"
	"strconv"
	"time"

	"github.com/stationrt/station/pkg/runtime"
)

func init() {
	runtime.Register("ticker", func() runtime.Object { return &Ticker{} })
}

const tickerInterval = 2.0

// Ticker demonstrates scheduled execution: Start schedules its own "tick"
// method to run every tickerInterval seconds via the injected
// Context.Schedule capability, Stop cancels it, and GET reports the
// accumulated count. tick is never reached over HTTP — only the in-process
// scheduler invokes it, by name, through MethodHandler.
type Ticker struct{}

func (t *Ticker) SourceText() string {
	return tickerSource
}

func (t *Ticker) Metadata() runtime.Metadata {
	return runtime.Metadata{
		Name:        "ticker",
		Version:     "1.0",
		Description: "ticks every few seconds once started, demonstrating scheduled execution",
		Methods:     []string{"GET", "start", "stop"},
	}
}

func (t *Ticker) Get(ctx *runtime.Context, req *runtime.Request) (any, error) {
	ticks, _ := ctx.State.Get("ticks", "0")
	running, _ := ctx.State.Get("running", "false")
	lastTick, _ := ctx.State.Get("last_tick", "")
	n, _ := strconv.Atoi(ticks)
	return map[string]any{
		"ticks":     n,
		"running":   running == "true",
		"last_tick": lastTick,
	}, nil
}

func (t *Ticker) Start(ctx *runtime.Context, req *runtime.Request) (any, error) {
	if err := ctx.State.Set("ticks", "0"); err != nil {
		return nil, err
	}
	if err := ctx.State.Set("running", "true"); err != nil {
		return nil, err
	}
	ctx.Schedule("tick", tickerInterval)
	ctx.Logger.Info("ticker started", map[string]string{"interval_s": strconv.FormatFloat(tickerInterval, 'f', -1, 64)})
	return map[string]any{"status": "ok", "interval_s": tickerInterval}, nil
}

func (t *Ticker) Stop(ctx *runtime.Context, req *runtime.Request) (any, error) {
	ctx.Unschedule("tick")
	if err := ctx.State.Set("running", "false"); err != nil {
		return nil, err
	}
	ctx.Logger.Warning("ticker stopped", nil)
	return map[string]any{"status": "ok"}, nil
}

// InvokeMethod implements runtime.MethodHandler for "tick", the only
// scheduler-invoked method this object declares.
func (t *Ticker) InvokeMethod(ctx *runtime.Context, method string, req *runtime.Request) (any, error) {
	if method != "tick" {
		return nil, runtime.ErrMethodNotSupported
	}
	current, _ := ctx.State.Get("ticks", "0")
	n, _ := strconv.Atoi(current)
	n++
	if err := ctx.State.Set("ticks", strconv.Itoa(n)); err != nil {
		return nil, err
	}
	if err := ctx.State.Set("last_tick", strconv.FormatInt(time.Now().Unix(), 10)); err != nil {
		return nil, err
	}
	ctx.Logger.Info("tick", map[string]string{"ticks": strconv.Itoa(n)})
	return map[string]any{"ticks": n}, nil
}

func (t *Ticker) SelfTests() map[string]func(ctx *runtime.Context) error {
	return map[string]func(ctx *runtime.Context) error{
		"test_tick_increments": func(ctx *runtime.Context) error {
			before, _ := ctx.State.Get("ticks", "0")
			n, _ := strconv.Atoi(before)
			if _, err := t.InvokeMethod(ctx, "tick", &runtime.Request{}); err != nil {
				return err
			}
			after, _ := ctx.State.Get("ticks", "0")
			got, _ := strconv.Atoi(after)
			if got != n+1 {
				return fmt.Errorf("expected %d ticks, got %d", n+1, got)
			}
			return nil
		},
	}
}

const tickerSource = `Ticker: start schedules tick() every 2s; GET reports ticks/running/last_tick; stop cancels the schedule.`
