package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goHook "github.com/MrEthical07/goHook"
	"github.com/MrEthical07/goHook/hooks"
	"github.com/MrEthical07/goHook/nonce"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	var (
		tokens      = flag.Int("tokens", 50000, "number of nonce tokens to issue and verify")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per hook phase (dispatch + apply)")
		callbacks   = flag.Int("callbacks", 8, "callbacks subscribed per channel")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		memory      = flag.Bool("memory", false, "use the in-memory nonce store instead of redis")
		configPath  = flag.String("config", "", "optional YAML config file")
	)
	flag.Parse()

	if *tokens <= 0 || *concurrency <= 0 || *ops <= 0 || *callbacks <= 0 {
		fmt.Fprintln(os.Stderr, "tokens, concurrency, ops, and callbacks must be > 0")
		os.Exit(2)
	}

	cfg, err := goHook.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	// the load test verifies from a single client
	cfg.Security.EnableVerifyThrottle = false
	cfg.Metrics.EnableLatencyHistograms = true

	builder := goHook.New().WithConfig(cfg)

	if !*memory {
		client, cleanup, err := connectRedis(*redisAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		builder = builder.WithRedis(client)
	} else {
		fmt.Println("using in-memory nonce store")
	}

	engine, err := builder.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()

	issueStats, values := runIssuePhase(ctx, engine, *tokens, *concurrency)
	verifyStats := runVerifyPhase(ctx, engine, values, *concurrency)
	replayStats := runVerifyPhase(ctx, engine, values, *concurrency)

	if err := subscribeCallbacks(engine, *callbacks); err != nil {
		fmt.Fprintf(os.Stderr, "subscribe: %v\n", err)
		os.Exit(1)
	}
	dispatchStats := runHookPhase(*ops, *concurrency, func() error {
		return engine.Do(ctx, "loadtest_action", 1)
	})
	applyStats := runHookPhase(*ops, *concurrency, func() error {
		v, err := engine.Apply(ctx, "loadtest_filter", 0)
		if err != nil {
			return err
		}
		if v.(int) != *callbacks {
			return errors.New("unexpected filter result")
		}
		return nil
	})

	fmt.Println("---- results ----")
	printStats("issue", issueStats)
	printStats("verify", verifyStats)
	printStats("replay", replayStats)
	printStats("dispatch", dispatchStats)
	printStats("apply", applyStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("valid=%d replay=%d not_found=%d backend_errors=%d\n",
		snap.Counters[goHook.MetricNonceValid],
		snap.Counters[goHook.MetricNonceReplay],
		snap.Counters[goHook.MetricNonceNotFound],
		snap.Counters[goHook.MetricNonceBackendError],
	)
}

func connectRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{mr.Addr()},
		})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: strings.Split(addr, ","),
	})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

func subscribeCallbacks(engine *goHook.Engine, n int) error {
	var sink atomic.Int64
	for i := 0; i < n; i++ {
		if _, err := engine.Hooks().SubscribeAction("loadtest_action", func(_ context.Context, args ...any) error {
			sink.Add(int64(args[0].(int)))
			return nil
		}, hooks.WithPriority(i%3)); err != nil {
			return err
		}
		if _, err := engine.Hooks().SubscribeFilter("loadtest_filter", func(_ context.Context, v any, _ ...any) (any, error) {
			return v.(int) + 1, nil
		}, hooks.WithPriority(i%3)); err != nil {
			return err
		}
	}
	return nil
}

func runIssuePhase(ctx context.Context, engine *goHook.Engine, n, concurrency int) (phaseStats, []string) {
	values := make([]string, n)
	st := runWorkers(n, concurrency, func(i int) error {
		tok, err := engine.IssueNonce(ctx, purposeFor(i))
		if err != nil {
			return err
		}
		values[i] = tok.Value
		return nil
	})
	return st, values
}

func runVerifyPhase(ctx context.Context, engine *goHook.Engine, values []string, concurrency int) phaseStats {
	return runWorkers(len(values), concurrency, func(i int) error {
		res, err := engine.VerifyNonce(ctx, values[i], purposeFor(i))
		if err != nil {
			return err
		}
		if res != nonce.Valid {
			return errors.New(res.String())
		}
		return nil
	})
}

func runHookPhase(ops, concurrency int, op func() error) phaseStats {
	return runWorkers(ops, concurrency, func(int) error { return op() })
}

func purposeFor(i int) string {
	return fmt.Sprintf("loadtest_%d", i%64)
}

// runWorkers calls op for every index in [0, n) across concurrency workers.
func runWorkers(n, concurrency int, op func(i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, n)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, n/concurrency+1)
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					break
				}
				t0 := time.Now()
				err := op(i)
				local = append(local, time.Since(t0))
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
