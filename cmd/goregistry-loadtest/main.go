package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goRegistry "github.com/MrEthical07/goRegistry"
	"github.com/MrEthical07/goRegistry/ticket"
	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	var (
		tickets     = flag.Int("tickets", 100000, "number of granting tickets to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (get + add)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		bucket      = flag.String("bucket", "loadtest", "store bucket")
	)
	flag.Parse()

	if *tickets <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "tickets, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}

	cfg := goRegistry.DefaultConfig()
	cfg.Store.Endpoints = []string{addr}
	cfg.Store.Bucket = *bucket
	cfg.Store.RetryInterval = 100 * time.Millisecond

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	reg, err := goRegistry.New().WithConfig(cfg).WithLogger(logrus.NewEntry(logger)).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := reg.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start failed: %v\n", err)
		os.Exit(1)
	}
	if err := reg.Wait(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "store not ready: %v\n", err)
		os.Exit(1)
	}
	cancel()

	store := reg.Tickets()
	bg := context.Background()

	ids := make([]string, *tickets)
	fmt.Printf("seeding %d granting tickets...\n", *tickets)
	startSeed := time.Now()
	for i := 0; i < *tickets; i++ {
		t := ticket.New(ticket.GrantingTicket, []byte(fmt.Sprintf("user-%d", i)))
		outcome, err := store.Add(bg, t)
		if err != nil || outcome != ticket.OutcomeSucceeded {
			fmt.Fprintf(os.Stderr, "add failed: %v %v\n", outcome, err)
			os.Exit(1)
		}
		ids[i] = t.ID
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	getStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, _ int) bool {
		_, found, err := store.Get(bg, ids[r.Intn(len(ids))])
		return err == nil && found
	})
	addStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, _ int) bool {
		st := ticket.New(ticket.ServiceTicket, nil)
		st.GrantingTicketID = ids[r.Intn(len(ids))]
		outcome, err := store.Add(bg, st)
		return err == nil && outcome == ticket.OutcomeSucceeded
	})

	sessions, _ := store.SessionCount(bg)
	serviceTickets, _ := store.ServiceTicketCount(bg)

	fmt.Println("---- results ----")
	printStats("get", getStats)
	printStats("add", addStats)
	fmt.Printf("counts: sessions=%d service_tickets=%d\n", sessions, serviceTickets)
}

// runPhase runs op ops times across concurrency workers. op reports success.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) bool) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				ok := op(r, i)
				d := time.Since(t0)
				if !ok {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
