// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hipiol/control"
	"github.com/momentics/hipiol/facade"
	"github.com/momentics/hipiol/pool"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port        int
	Mode        string // "echo" | "stream"
	MaxClients  int
	Timeout     time.Duration
	Blocks      int
	BlockSize   int
	EngineCPU   int
	StatsPeriod time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demo server",
		Long: `Run a demo server on the hipiol engine.

In echo mode every received block is sent back to its client. In stream mode
each client receives a fixed sequence of constant blocks, one after another,
and is disconnected after the last one.

Example:
  hipiol serve --port 12345
  hipiol serve --mode stream --blocks 100 --block-size 1000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 12345, "TCP port to listen on")
	cmd.Flags().StringVar(&opts.Mode, "mode", "echo", "server behaviour (echo|stream)")
	cmd.Flags().IntVar(&opts.MaxClients, "max-clients", control.DefaultMaxClientCount, "maximum concurrent clients")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "receive timeout, 0 waits forever")
	cmd.Flags().IntVar(&opts.Blocks, "blocks", 100, "stream mode: blocks sent per client")
	cmd.Flags().IntVar(&opts.BlockSize, "block-size", 1000, "stream mode: size of each block")
	cmd.Flags().IntVar(&opts.EngineCPU, "cpu", -1, "pin the engine loop to this CPU")
	cmd.Flags().DurationVar(&opts.StatsPeriod, "stats", 10*time.Second, "stats log period, 0 disables")

	return cmd
}

// streamState is the per-client tag in stream mode.
type streamState struct {
	next int
}

func newServePool(opts *ServeOptions) (*facade.Pool, error) {
	cfg := control.NewConfig()
	for _, err := range []error{
		cfg.SetLogger(opts.Logger()),
		cfg.SetMaxClientCount(opts.MaxClients),
		cfg.SetEngineCPU(opts.EngineCPU),
	} {
		if err != nil {
			return nil, err
		}
	}
	p := facade.New(cfg)

	switch opts.Mode {
	case "echo":
		err := p.SetClientHandlers(
			func(c *facade.Controller) {
				if err := c.AllowReceive(opts.Timeout); err != nil {
					c.Disconnect()
				}
			},
			func(*facade.Controller) {},
		)
		if err != nil {
			return nil, err
		}
		err = p.SetDataHandlers(
			func(c *facade.Controller, b *pool.Block) {
				if b == nil {
					return
				}
				if err := c.SendRange(b, 0, c.ReceivedBytes()); err != nil {
					c.Disconnect()
				}
			},
			func(*facade.Controller) {},
		)
		return p, err

	case "stream":
		data := make([]*pool.Block, 0, opts.Blocks)
		for i := 0; i < opts.Blocks; i++ {
			b, err := p.CreateConstantBlock(make([]byte, opts.BlockSize))
			if err != nil {
				return nil, fmt.Errorf("stream block %d: %w", i, err)
			}
			data = append(data, b)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("stream mode needs at least one block")
		}
		sendNext := func(c *facade.Controller) {
			st, ok := c.Tag().(*streamState)
			if !ok {
				return
			}
			if st.next >= len(data) {
				c.Disconnect()
				return
			}
			b := data[st.next]
			st.next++
			if err := c.Send(b); err != nil {
				c.Disconnect()
			}
		}
		err := p.SetClientHandlers(
			func(c *facade.Controller) {
				c.SetTag(&streamState{})
				// receiving detects peers that go away early
				_ = c.AllowReceive(opts.Timeout)
				sendNext(c)
			},
			func(*facade.Controller) {},
		)
		if err != nil {
			return nil, err
		}
		err = p.SetDataHandlers(
			func(c *facade.Controller, b *pool.Block) {
				if b == nil {
					c.Disconnect()
				}
			},
			sendNext,
		)
		return p, err

	default:
		return nil, fmt.Errorf("invalid mode %q: must be echo or stream", opts.Mode)
	}
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	p, err := newServePool(opts)
	if err != nil {
		return err
	}
	if err := p.StartListening(opts.Port); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}
	logger := p.Config().Logger()
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s (%s mode)\n", p.Addr(), opts.Mode)

	var tick <-chan time.Time
	if opts.StatsPeriod > 0 {
		ticker := time.NewTicker(opts.StatsPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return p.Close()
		case <-tick:
			st := p.Stats()
			logger.Info("stats",
				"active", st.ActiveClients,
				"accepted", st.Accepted,
				"in", st.InboundTraffic,
				"out", st.OutboundTraffic,
				"pending", st.PendingEvents,
			)
		}
	}
}
