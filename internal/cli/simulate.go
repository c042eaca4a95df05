package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Throttle/internal/clock"
	"github.com/SmitUplenchwar2687/Throttle/internal/limiter"
	"github.com/SmitUplenchwar2687/Throttle/internal/logging"
)

func newSimulateCmd(root *rootOptions) *cobra.Command {
	var (
		policyName  string
		limit       int
		window      time.Duration
		requests    int
		keys        []string
		fastForward time.Duration
		outputJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a policy against a virtual clock",
		Long: `Sends batches of requests through a policy using a virtual clock, so
window resets can be observed without waiting.

A first batch is sent at the start; with --fast-forward the clock is advanced
and a second batch is sent.`,
		Example: `  throttle simulate --policy settings --requests 12
  throttle simulate --limit 3 --window 1m --requests 5 --fast-forward 61s
  throttle simulate --policy username_claim --keys alice,bob --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			registry, err := cfg.Registry()
			if err != nil {
				return err
			}

			var p limiter.Policy
			if cmd.Flags().Changed("limit") || cmd.Flags().Changed("window") {
				p = limiter.Policy{Name: "simulate", Limit: limit, Window: window}
				if err := p.Validate(); err != nil {
					return err
				}
			} else {
				var ok bool
				if p, ok = registry.Lookup(policyName); !ok {
					return fmt.Errorf("%w: %q (known: %v)", limiter.ErrUnknownPolicy, policyName, registry.Names())
				}
			}
			if requests <= 0 {
				return fmt.Errorf("requests must be positive, got %d", requests)
			}
			if len(keys) == 0 {
				keys = []string{"test-user"}
			}

			vc := clock.NewVirtualClock(time.Now().UTC().Truncate(time.Second))
			lim, err := limiter.New(limiter.Options{Clock: vc, Logger: logging.Discard()})
			if err != nil {
				return err
			}
			defer lim.Close()

			result := runSimulation(cmd.Context(), vc, lim, p, keys, requests, fastForward)

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printSimulation(out, &result)
			return nil
		},
	}

	cmd.Flags().StringVar(&policyName, "policy", limiter.PolicyBattery, "registered policy to simulate")
	cmd.Flags().IntVar(&limit, "limit", 10, "ad-hoc policy limit (overrides --policy)")
	cmd.Flags().DurationVar(&window, "window", time.Minute, "ad-hoc policy window (overrides --policy)")
	cmd.Flags().IntVar(&requests, "requests", 15, "requests per key in each batch")
	cmd.Flags().StringSliceVar(&keys, "keys", nil, "comma-separated identifiers")
	cmd.Flags().DurationVar(&fastForward, "fast-forward", 0, "virtual time to advance between batches")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")

	return cmd
}

// SimulationResult captures the full output of a simulation.
type SimulationResult struct {
	Policy      string             `json:"policy"`
	Limit       int                `json:"limit"`
	Window      string             `json:"window"`
	FastForward string             `json:"fast_forward,omitempty"`
	Batches     []BatchResult      `json:"batches"`
	Summary     map[string]Summary `json:"summary"`
}

// BatchResult captures one batch of requests.
type BatchResult struct {
	Label     string           `json:"label"`
	Time      string           `json:"time"`
	Decisions []DecisionRecord `json:"decisions"`
}

type DecisionRecord struct {
	Key      string           `json:"key"`
	Decision limiter.Decision `json:"decision"`
}

// Summary aggregates decisions per key.
type Summary struct {
	TotalRequests int `json:"total_requests"`
	Allowed       int `json:"allowed"`
	Denied        int `json:"denied"`
}

func runSimulation(ctx context.Context, vc *clock.VirtualClock, lim *limiter.Limiter, p limiter.Policy, keys []string, requests int, fastForward time.Duration) SimulationResult {
	result := SimulationResult{
		Policy:  p.Name,
		Limit:   p.Limit,
		Window:  p.Window.String(),
		Summary: make(map[string]Summary),
	}

	batch := func(label string) BatchResult {
		b := BatchResult{Label: label, Time: vc.Now().Format(time.RFC3339)}
		for i := 0; i < requests; i++ {
			for _, key := range keys {
				d := lim.Allow(ctx, key, p)
				b.Decisions = append(b.Decisions, DecisionRecord{Key: key, Decision: d})

				s := result.Summary[key]
				s.TotalRequests++
				if d.Allowed {
					s.Allowed++
				} else {
					s.Denied++
				}
				result.Summary[key] = s
			}
		}
		return b
	}

	result.Batches = append(result.Batches, batch("Initial requests"))
	if fastForward > 0 {
		vc.Advance(fastForward)
		result.FastForward = fastForward.String()
		result.Batches = append(result.Batches, batch(fmt.Sprintf("After fast-forward %s", fastForward)))
	}
	return result
}

func printSimulation(w io.Writer, r *SimulationResult) {
	fmt.Fprintf(w, "=== %s: %d per %s ===\n\n", r.Policy, r.Limit, r.Window)

	for _, b := range r.Batches {
		fmt.Fprintf(w, "--- %s (at %s) ---\n", b.Label, b.Time)
		for i, dr := range b.Decisions {
			status := "ALLOW"
			if !dr.Decision.Allowed {
				status = "DENY "
			}
			fmt.Fprintf(w, "  #%03d [%s] key=%s remaining=%d/%d reset=%s\n",
				i+1, status, dr.Key, dr.Decision.Remaining, dr.Decision.Limit,
				dr.Decision.ResetTime().UTC().Format(time.RFC3339))
		}
		fmt.Fprintln(w)
	}

	keys := make([]string, 0, len(r.Summary))
	for k := range r.Summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, "--- Summary ---")
	for _, k := range keys {
		s := r.Summary[k]
		fmt.Fprintf(w, "  %s: %d total, %d allowed, %d denied\n", k, s.TotalRequests, s.Allowed, s.Denied)
	}
	if r.FastForward != "" {
		fmt.Fprintf(w, "\nFast-forwarded %s of virtual time\n", r.FastForward)
	}
}
