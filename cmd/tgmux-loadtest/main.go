package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	tgmux "github.com/tgmux/tgmux"
	"github.com/tgmux/tgmux/mtproto"
	"github.com/tgmux/tgmux/session"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase (validate + execute)")
		poolSize    = flag.Int("pool", 32, "maximum pooled connections")
		latency     = flag.Duration("latency", 0, "simulated per-call network latency")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *poolSize <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, ops, and pool must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	key := randomKey()

	cfg := tgmux.DefaultConfig()
	cfg.Crypto.EncryptionKey = key
	cfg.Pool.MinSize = 0
	cfg.Pool.MaxSize = *poolSize
	cfg.Pool.AcquireTimeout = 30 * time.Second
	cfg.Pool.MaintenanceInterval = 0
	cfg.Session.TTL = 24 * time.Hour
	cfg.Session.RedisPrefix = *prefix
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	gateway, err := tgmux.New().
		WithConfig(cfg).
		WithRedis(client).
		WithClientFactory(simFactory(*latency)).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build gateway: %v\n", err)
		os.Exit(1)
	}

	// Seed through the store directly; the auth flow would serialize every
	// sign-in through the pool.
	codec, err := session.NewCodec(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build codec: %v\n", err)
		os.Exit(1)
	}
	store := session.NewStore(client, codec, *prefix)

	sids := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		sid := fmt.Sprintf("sid-%d", i)
		sids[i] = sid
		if err := store.Save(ctx, buildRecord(sid, i)); err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		result := gateway.ValidateSession(ctx, sids[r.Intn(len(sids))])
		return result.Err
	})
	executeStats := runPhase(*ops, *concurrency, func(r *mrand.Rand) error {
		return gateway.ExecuteWithSession(ctx, sids[r.Intn(len(sids))], tgmux.ExecOptions{},
			func(ctx context.Context, client mtproto.Client) error {
				_, err := client.CurrentUser(ctx)
				return err
			})
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("execute", executeStats)

	stats := gateway.PoolStats()
	fmt.Printf("pool: size=%d created=%d acquires=%d timeouts=%d connect_errors=%d\n",
		stats.Size, stats.Created, stats.Acquires, stats.Timeouts, stats.ConnectErrors)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown failed: %v\n", err)
	}
}

func runPhase(ops, concurrency int, call func(r *mrand.Rand) error) phaseStats {
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
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := call(r)
				d := time.Since(t0)
				if err != nil {
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

func buildRecord(sid string, i int) *session.Record {
	now := time.Now().UTC()
	dc := 1 + i%5
	return &session.Record{
		ID:            sid,
		UserID:        strconv.Itoa(100000 + i),
		PhoneNumber:   fmt.Sprintf("+1555%07d", i),
		AuthSecret:    fmt.Sprintf("cred:%d", 100000+i),
		DCID:          dc,
		ServerAddress: fmt.Sprintf("149.154.167.%d", 50+dc),
		Port:          443,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(24 * time.Hour),
		IsActive:      true,
	}
}

func randomKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
		os.Exit(1)
	}
	return key
}

var dialSeq atomic.Int64

// simFactory dials simulated network clients. Each call on a simulated
// client sleeps for the configured latency so pool queueing behaves like a
// remote network.
func simFactory(latency time.Duration) mtproto.Factory {
	return func(ctx context.Context) (mtproto.Client, error) {
		dc := 1 + int(dialSeq.Add(1))%5
		return &simClient{latency: latency, dc: dc}, nil
	}
}

type simClient struct {
	latency    time.Duration
	dc         int
	credential string
}

func (c *simClient) pause(ctx context.Context) error {
	if c.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(c.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *simClient) Connect(ctx context.Context) error { return c.pause(ctx) }
func (c *simClient) Disconnect() error                 { return nil }
func (c *simClient) Ping(ctx context.Context) error    { return c.pause(ctx) }

func (c *simClient) SendVerificationCode(ctx context.Context, phone string) (*mtproto.SentCode, error) {
	if err := c.pause(ctx); err != nil {
		return nil, err
	}
	return &mtproto.SentCode{CodeHash: "sim", Timeout: 60, DeliveryMethod: "app"}, nil
}

func (c *simClient) SignIn(ctx context.Context, phone, codeHash, code string) (*mtproto.Authorization, error) {
	if err := c.pause(ctx); err != nil {
		return nil, err
	}
	id := accountIDForPhone(phone)
	c.credential = fmt.Sprintf("cred:%d", id)
	return &mtproto.Authorization{
		User:       mtproto.User{ID: id, Phone: phone},
		Credential: c.credential,
	}, nil
}

func (c *simClient) CheckPassword(ctx context.Context, password string) (*mtproto.Authorization, error) {
	return nil, mtproto.ErrNotAuthorized
}

func (c *simClient) CurrentUser(ctx context.Context) (*mtproto.User, error) {
	if err := c.pause(ctx); err != nil {
		return nil, err
	}
	raw, ok := strings.CutPrefix(c.credential, "cred:")
	if !ok {
		return nil, mtproto.ErrNotAuthorized
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, mtproto.ErrNotAuthorized
	}
	return &mtproto.User{ID: id}, nil
}

func (c *simClient) ExportCredential() (string, error) {
	if c.credential == "" {
		return "", mtproto.ErrNotAuthorized
	}
	return c.credential, nil
}

func (c *simClient) ImportCredential(credential string) error {
	c.credential = credential
	return nil
}

func (c *simClient) DCInfo() mtproto.DC {
	return mtproto.DC{ID: c.dc, Address: fmt.Sprintf("149.154.167.%d", 50+c.dc), Port: 443}
}

// accountIDForPhone folds the digits of a phone number into a stable
// simulated account ID.
func accountIDForPhone(phone string) int64 {
	var id int64 = 1
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			id = id*10 + int64(r-'0')
			id %= 1 << 40
		}
	}
	return id
}
