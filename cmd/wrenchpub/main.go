package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeusync/forcebridge/internal/core/wrench"
	"github.com/zeusync/forcebridge/sdk/go/client"
)

func main() {
	cfg := client.DefaultConfig()
	var (
		force, torque string
		rate          float64
		count         int
	)

	rootCmd := &cobra.Command{
		Use:   "wrenchpub",
		Short: "Publish wrench commands to a forcebridge server",
		Example: `  wrenchpub --channel /demo/push --force 0,0,20
  wrenchpub --channel push --torque 0,0,1 --rate 50 --count 0`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseVec(force)
			if err != nil {
				return fmt.Errorf("--force: %w", err)
			}
			tq, err := parseVec(torque)
			if err != nil {
				return fmt.Errorf("--torque: %w", err)
			}
			w := wrench.New(f[0], f[1], f[2], tq[0], tq[1], tq[2])

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := client.Dial(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			return publish(ctx, c, w, rate, count)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.ServerURL, "url", cfg.ServerURL, "ingress URL")
	flags.StringVar(&cfg.Channel, "channel", cfg.Channel, "channel to publish on")
	flags.StringVar(&force, "force", "0,0,0", "force x,y,z in the body frame")
	flags.StringVar(&torque, "torque", "0,0,0", "torque x,y,z in the body frame")
	flags.Float64Var(&rate, "rate", 10, "messages per second when count is not 1")
	flags.IntVar(&count, "count", 1, "number of messages, 0 to publish until interrupted")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func publish(ctx context.Context, c *client.Client, w wrench.Wrench, rate float64, count int) error {
	if count == 1 {
		return c.Send(w)
	}
	if rate <= 0 {
		return fmt.Errorf("--rate must be positive, got %g", rate)
	}

	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()
	for sent := 0; count == 0 || sent < count; sent++ {
		if err := c.Send(w); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func parseVec(s string) ([3]float64, error) {
	var v [3]float64
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z, got %q", s)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return v, err
		}
		v[i] = f
	}
	return v, nil
}
