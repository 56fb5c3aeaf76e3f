package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/coral/object"
	"github.com/chazu/coral/pkg/fault"
	"github.com/chazu/coral/pkg/lock"
	"github.com/chazu/coral/pkg/treemap"
	"github.com/chazu/coral/pkg/treeset"
)

type stressOptions struct {
	Workers int
	Ops     int
	Keys    int
}

var (
	stressOpts    = stressOptions{Workers: 8, Ops: 10000, Keys: 256}
	reportPath    string
	metricsListen string
	metricsHold   time.Duration
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Hammer one runtime from many goroutines and report its counters",
	Args:  cobra.NoArgs,
	RunE:  runStressCommand,
}

func init() {
	f := stressCmd.Flags()
	f.IntVar(&stressOpts.Workers, "workers", stressOpts.Workers, "concurrent workers")
	f.IntVar(&stressOpts.Ops, "ops", stressOpts.Ops, "operations per worker")
	f.IntVar(&stressOpts.Keys, "keys", stressOpts.Keys, "distinct tree map keys")
	f.StringVar(&reportPath, "report", "", "write a CBOR run report to this file")
	f.StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	f.DurationVar(&metricsHold, "metrics-hold", 0, "keep serving metrics this long after the run")
}

func runStressCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	listen := metricsListen
	if listen == "" && cfg.Metrics.Enabled {
		listen = cfg.Metrics.Listen
	}
	var reg *prometheus.Registry
	if listen != "" {
		reg = prometheus.NewRegistry()
	}

	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	rt, err := object.New(cfg.RuntimeOptions(registerer))
	if err != nil {
		return err
	}

	if reg != nil {
		srv, addr, err := serveMetrics(listen, reg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "metrics on http://%s/metrics\n", addr)
		defer func() {
			if metricsHold > 0 {
				time.Sleep(metricsHold)
			}
			shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdown)
		}()
	}

	report, err := runStress(ctx, rt, stressOpts, cfg.LockBackoff())
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), report)

	if reportPath != "" {
		if err := WriteReport(reportPath, report); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", reportPath)
	}
	return nil
}

// serveMetrics starts a Prometheus endpoint for reg on addr and returns the
// bound address.
func serveMetrics(addr string, reg *prometheus.Registry) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("coral: listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %s", err)
		}
	}()
	return srv, ln.Addr(), nil
}

// runStress runs opts.Workers goroutines against rt. Each operation retains
// and releases a shared object, allocates and autoreleases a fresh object
// inside its own frame, and mutates a tree map under a lock.Mutex.
func runStress(ctx context.Context, rt *object.Runtime, opts stressOptions, b *lock.Backoff) (*Report, error) {
	if opts.Workers <= 0 || opts.Ops < 0 || opts.Keys <= 0 {
		return nil, fmt.Errorf("coral: stress %+v: %w", opts, fault.ErrInvalidArgument)
	}
	cell, err := cellClass(rt)
	if err != nil {
		return nil, err
	}
	shared, err := rt.New(cell, 8)
	if err != nil {
		return nil, err
	}
	m, err := treemap.New[int, int64](cmp.Compare[int], treeset.NoLimit)
	if err != nil {
		return nil, err
	}
	var mu lock.Mutex
	var drained atomic.Int64

	log.Infof("stress: %d workers x %d ops on runtime %s", opts.Workers, opts.Ops, rt.ID())
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Workers; w++ {
		g.Go(func() (err error) {
			defer func() {
				n, derr := rt.Drain()
				drained.Add(int64(n))
				if err == nil {
					err = derr
				}
			}()
			for j := 0; j < opts.Ops; j++ {
				if j%64 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if err := rt.Retain(shared); err != nil {
					return err
				}
				if err := churn(rt, cell); err != nil {
					return err
				}
				if err := rt.Release(shared); err != nil {
					return err
				}

				if err := mu.Lock(); err != nil {
					return err
				}
				err := mutate(m, (w*opts.Ops+j)%opts.Keys, j)
				if uerr := mu.Unlock(); err == nil {
					err = uerr
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	if err := rt.Release(shared); err != nil {
		return nil, err
	}
	n, err := rt.Drain()
	if err != nil {
		return nil, err
	}
	drained.Add(int64(n))
	if err := mu.Destroy(b); err != nil {
		return nil, err
	}

	var sum int64
	for v := range m.Values() {
		sum += v
	}
	return &Report{
		RuntimeID: rt.ID().String(),
		Workers:   opts.Workers,
		Ops:       opts.Ops,
		ElapsedNs: elapsed.Nanoseconds(),
		MapCount:  m.Count(),
		MapSum:    sum,
		Drained:   int(drained.Load()),
		Stats:     rt.Stats(),
	}, nil
}

func churn(rt *object.Runtime, cell *object.Class) error {
	frame, err := rt.Pool().Start()
	if err != nil {
		return err
	}
	o, err := rt.New(cell, 16)
	if err != nil {
		return errors.Join(err, frame.End())
	}
	rt.Untrack(o)
	if err := rt.Autorelease(o); err != nil {
		return errors.Join(err, rt.Release(o), frame.End())
	}
	// The frame now holds the only reference.
	if err := rt.Release(o); err != nil {
		return errors.Join(err, frame.End())
	}
	return frame.End()
}

// mutate deletes key on every fourth operation and otherwise inserts it or
// bumps its value.
func mutate(m *treemap.Map[int, int64], key, j int) error {
	if j%4 == 3 {
		if err := m.Delete(key); err != nil && !errors.Is(err, fault.ErrNotFound) {
			return err
		}
		return nil
	}
	err := m.Insert(key, 1)
	if !errors.Is(err, fault.ErrAlreadyExists) {
		return err
	}
	v, err := m.Get(key)
	if err != nil {
		return err
	}
	return m.Set(key, v+1)
}

func printReport(out io.Writer, r *Report) {
	fmt.Fprintf(out, "runtime %s: %d workers x %d ops in %s\n",
		r.RuntimeID, r.Workers, r.Ops, time.Duration(r.ElapsedNs))
	fmt.Fprintf(out, "  initialized %d, destroyed %d, live %d, dispatched %d\n",
		r.Stats.Initialized, r.Stats.Destroyed, r.Stats.Live, r.Stats.Dispatched)
	fmt.Fprintf(out, "  autoreleased %d, drains %d, drained %d\n",
		r.Stats.Autoreleased, r.Stats.Drains, r.Drained)
	fmt.Fprintf(out, "  tree map: %d keys, value sum %d\n", r.MapCount, r.MapSum)
}
