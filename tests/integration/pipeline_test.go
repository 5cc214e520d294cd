package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/rivulet/bridge"
	"github.com/coachpo/rivulet/config"
	"github.com/coachpo/rivulet/pool"
	"github.com/coachpo/rivulet/queue"
	"github.com/coachpo/rivulet/rpc"
	"github.com/coachpo/rivulet/seq"
)

type reading struct {
	Sensor string  `json:"sensor"`
	Value  float64 `json:"value"`
}

// The full path: a push source feeds a bounded bridge, operators shape the
// stream, and each surviving element is scored by an rpc call on the pool.
func TestPushSourceThroughOperatorsToPool(t *testing.T) {
	cfg := config.Apply(config.Default(),
		config.WithQueue(32, queue.Suspend),
		config.WithPool(1, 4),
		config.WithRPCTimeout(5*time.Second),
	)
	require.NoError(t, cfg.Validate())

	p, err := pool.New(pool.Options{
		MinWorkers:  cfg.Pool.MinWorkers,
		MaxWorkers:  cfg.Pool.MaxWorkers,
		IdleTimeout: cfg.Pool.IdleTimeout,
		DrainGrace:  cfg.Pool.DrainGrace,
	})
	require.NoError(t, err)
	defer p.Close(context.Background())

	client, err := rpc.NewClient(p, rpc.API{
		"score": func(r reading) float64 { return r.Value * 10 },
	}, rpc.Options{Timeout: cfg.RPC.Timeout})
	require.NoError(t, err)
	defer client.Close()

	feed := make(chan reading)
	src := bridge.NewChanSource(feed)
	events, err := bridge.From(context.Background(), src, bridge.ChanEvent, bridge.Options{
		Capacity: cfg.Queue.Capacity,
		Policy:   queue.Suspend,
	})
	require.NoError(t, err)

	typed := seq.Map(events, func(v any) (reading, error) {
		return v.(reading), nil
	})
	calibrated := seq.Filter(typed, func(r reading) (bool, error) {
		return r.Value >= 0, nil
	})
	scored := seq.Map(calibrated, func(r reading) (float64, error) {
		v, callErr := client.Call(context.Background(), "score", r)
		if callErr != nil {
			return 0, callErr
		}
		return v.(float64), nil
	})

	go func() {
		inputs := []reading{
			{Sensor: "a", Value: 1.5},
			{Sensor: "a", Value: -3},
			{Sensor: "b", Value: 2},
			{Sensor: "b", Value: -1},
			{Sensor: "c", Value: 4.25},
		}
		for _, r := range inputs {
			feed <- r
		}
		close(feed)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got, err := seq.Collect(ctx, scored)
	require.NoError(t, err)
	require.Equal(t, []float64{15, 20, 42.5}, got)
}

// Two independent sources merge into one stream whose batches are fanned out
// to pool tasks; order within each source must survive the merge.
func TestMergedSourcesBatchOntoPool(t *testing.T) {
	p, err := pool.New(pool.Options{MinWorkers: 1, MaxWorkers: 2})
	require.NoError(t, err)
	defer p.Close(context.Background())

	left := make(chan int)
	right := make(chan int)
	leftSeq, err := bridge.From(context.Background(), bridge.NewChanSource(left), bridge.ChanEvent, bridge.Options{})
	require.NoError(t, err)
	rightSeq, err := bridge.From(context.Background(), bridge.NewChanSource(right), bridge.ChanEvent, bridge.Options{})
	require.NoError(t, err)

	merged := seq.Merge(leftSeq, rightSeq)
	batches := seq.Buffer(merged, 4)

	go func() {
		for i := 1; i <= 6; i++ {
			left <- i
		}
		close(left)
	}()
	go func() {
		for i := 101; i <= 106; i++ {
			right <- i
		}
		close(right)
	}()

	sums := seq.Map(batches, func(batch []any) (int, error) {
		f, submitErr := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
			total := 0
			for _, v := range batch {
				total += v.(int)
			}
			return total, nil
		})
		if submitErr != nil {
			return 0, submitErr
		}
		v, awaitErr := f.Await(context.Background())
		if awaitErr != nil {
			return 0, awaitErr
		}
		return v.(int), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got, err := seq.Collect(ctx, sums)
	require.NoError(t, err)

	total := 0
	for _, s := range got {
		total += s
	}
	require.Equal(t, 1+2+3+4+5+6+101+102+103+104+105+106, total)
	require.Len(t, got, 3)
}

// A script module serves as the pipeline's handler end to end.
func TestScriptedHandlerInPipeline(t *testing.T) {
	api, err := rpc.ScriptModule("stats", `
exports.clamp = function (v, lo, hi) {
    return Math.min(Math.max(v, lo), hi);
};
`)
	require.NoError(t, err)

	p, err := pool.New(pool.Options{MinWorkers: 1, MaxWorkers: 2})
	require.NoError(t, err)
	defer p.Close(context.Background())

	client, err := rpc.NewClient(p, api, rpc.Options{})
	require.NoError(t, err)
	defer client.Close()

	input := seq.FromSlice(-5.0, 0.5, 3.0, 99.0)
	clamped := seq.Map(input, func(v float64) (float64, error) {
		out, callErr := client.Call(context.Background(), "stats.clamp", v, 0.0, 10.0)
		if callErr != nil {
			return 0, callErr
		}
		switch n := out.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		default:
			return 0, nil
		}
	})

	got, err := seq.Collect(context.Background(), clamped)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0.5, 3, 10}, got)
}
