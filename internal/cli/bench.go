// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// DefaultPercentiles are the quantiles reported by bench.
var DefaultPercentiles = []float64{0.01, 0.1, 0.25, 0.5, 0.75, 0.9, 0.99, 0.999, 1.0}

// BenchOptions holds flags for the bench command.
type BenchOptions struct {
	*RootOptions
	Addr     string
	Clients  int
	Requests int
	Size     int
	Timeout  time.Duration
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BenchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure round-trip latency against an echo server",
		Long: `Open a number of concurrent clients against an echo server, send
fixed-size requests and report round-trip latency percentiles.

Example:
  hipiol serve --mode echo &
  hipiol bench --addr 127.0.0.1:12345 --clients 64 --requests 1000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := RunBench(cmd.Context(), opts)
			if err != nil {
				return err
			}
			res.Print(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:12345", "server address")
	cmd.Flags().IntVar(&opts.Clients, "clients", 16, "concurrent clients")
	cmd.Flags().IntVar(&opts.Requests, "requests", 1000, "requests per client")
	cmd.Flags().IntVar(&opts.Size, "size", 64, "request size in bytes")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "per-request timeout")

	return cmd
}

// BenchResult aggregates the latencies of one run.
type BenchResult struct {
	Latencies []time.Duration
	Elapsed   time.Duration
	Bytes     int64
}

// RunBench runs opts.Clients echo clients in parallel. The first client
// error cancels the others.
func RunBench(ctx context.Context, opts *BenchOptions) (*BenchResult, error) {
	if opts.Clients <= 0 || opts.Requests <= 0 || opts.Size <= 0 {
		return nil, fmt.Errorf("clients, requests and size must be positive")
	}

	var (
		mu  sync.Mutex
		res = &BenchResult{Latencies: make([]time.Duration, 0, opts.Clients*opts.Requests)}
	)
	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for i := 0; i < opts.Clients; i++ {
		g.Go(func() error {
			lat, err := benchClient(ctx, opts)
			mu.Lock()
			res.Latencies = append(res.Latencies, lat...)
			res.Bytes += int64(len(lat) * opts.Size * 2)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, err
	}
	return res, nil
}

func benchClient(ctx context.Context, opts *BenchOptions) ([]time.Duration, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.Addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := make([]byte, opts.Size)
	for i := range req {
		req[i] = byte(i)
	}
	resp := make([]byte, opts.Size)
	lat := make([]time.Duration, 0, opts.Requests)
	for i := 0; i < opts.Requests; i++ {
		t0 := time.Now()
		if err := conn.SetDeadline(t0.Add(opts.Timeout)); err != nil {
			return lat, err
		}
		if _, err := conn.Write(req); err != nil {
			return lat, fmt.Errorf("request %d: %w", i, err)
		}
		if _, err := io.ReadFull(conn, resp); err != nil {
			return lat, fmt.Errorf("response %d: %w", i, err)
		}
		lat = append(lat, time.Since(t0))
	}
	return lat, nil
}

// Percentile returns the q-quantile of sorted using the nearest-rank method.
func Percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

// Print writes a percentile table.
func (r *BenchResult) Print(w io.Writer) {
	sorted := slices.Clone(r.Latencies)
	slices.Sort(sorted)
	fmt.Fprintf(w, "requests: %d  elapsed: %s", len(sorted), r.Elapsed.Round(time.Millisecond))
	if secs := r.Elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(w, "  rate: %.0f req/s  throughput: %.2f MB/s",
			float64(len(sorted))/secs, float64(r.Bytes)/secs/1e6)
	}
	fmt.Fprintln(w)
	for _, q := range DefaultPercentiles {
		fmt.Fprintf(w, "  p%-6.4g %s\n", q*100, Percentile(sorted, q))
	}
}
