package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/sethvargo/go-envconfig"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	adledgerv1 "github.com/kkkkikiki/adledger/internal/api/adledgerv1"
	"github.com/kkkkikiki/adledger/internal/auth"
)

// Config is read from LOAD_* environment variables
type Config struct {
	BaseURL         string        `env:"BASE_URL,default=http://localhost:8080"`
	JWTSecret       string        `env:"JWT_SECRET,default=adledger-development-secret"`
	Issuer          string        `env:"ISSUER"`
	Workers         int           `env:"WORKERS,default=50"`
	RPS             int           `env:"RPS,default=700"`
	Duration        time.Duration `env:"DURATION,default=30s"`
	Timeout         time.Duration `env:"TIMEOUT,default=30s"`
	Tag             string        `env:"TAG,default=loadtest"`
	SPM             string        `env:"SPM,default=1.00"`
	Budget          string        `env:"BUDGET,default=50.00"`
	Viewers         int           `env:"VIEWERS,default=100000"`
	MaxViewsPerUser int64         `env:"MAX_VIEWS_PER_USER,default=1"`
}

// LoadResult gathers aggregated metrics for the run. Counters are atomic;
// LatencySum and P95Latency are in nanoseconds.
type LoadResult struct {
	TotalRequests int64
	SuccessCount  int64
	NotFoundCount int64
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64
}

func main() {
	ctx := context.Background()

	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper("LOAD_", envconfig.OsLookuper()),
	}); err != nil {
		fail("invalid configuration: %v", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 4,
		MaxIdleConnsPerHost: cfg.Workers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
	client := adledgerv1.NewLedgerServiceClient(httpClient, cfg.BaseURL)

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.Issuer)
	if err != nil {
		fail("failed to create token signer: %v", err)
	}
	token, err := verifier.Sign(uuid.New(), time.Hour)
	if err != nil {
		fail("failed to sign token: %v", err)
	}

	order, err := seedOrder(client, cfg, token)
	if err != nil {
		fail("failed to seed order: %v", err)
	}
	fmt.Printf("seeded order %d: %d views at %s per mille\n", order.ID, order.TotalViews, order.SPM)

	fmt.Println("==========================================")
	fmt.Println("adledger search load test")
	fmt.Println("==========================================")
	fmt.Printf("target   : %s\n", cfg.BaseURL)
	fmt.Printf("tag      : %s\n", cfg.Tag)
	fmt.Printf("rps      : %d\n", cfg.RPS)
	fmt.Printf("workers  : %d\n", cfg.Workers)
	fmt.Printf("duration : %v\n", cfg.Duration)
	fmt.Println("==========================================")

	burst := cfg.RPS / cfg.Workers
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), burst)

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var result LoadResult
	var wg sync.WaitGroup

	latencyChan := make(chan time.Duration, 4096)
	p95Done := make(chan struct{})
	go func() {
		trackP95(latencyChan, &result)
		close(p95Done)
	}()

	start := time.Now()
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Wait(runCtx); err != nil {
					return
				}
				viewer := "viewer-" + strconv.Itoa(rand.IntN(cfg.Viewers))
				doSearch(client, cfg, viewer, &result, latencyChan)
			}
		}()
	}

	<-runCtx.Done()
	wg.Wait()
	close(latencyChan)
	<-p95Done
	totalDur := time.Since(start)

	report(result, totalDur)

	fmt.Println("==========================================")
	fmt.Println("consistency check")
	fmt.Println("==========================================")
	if err := verifyConsistency(client, cfg, token, order.ID, result.SuccessCount); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
	fmt.Println("==========================================")
}

// seedOrder deposits the budget and opens an order on the load test tag
func seedOrder(client *adledgerv1.LedgerServiceClient, cfg Config, token string) (adledgerv1.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	budget, err := decimal.NewFromString(cfg.Budget)
	if err != nil {
		return adledgerv1.Order{}, fmt.Errorf("invalid budget: %w", err)
	}
	spm, err := decimal.NewFromString(cfg.SPM)
	if err != nil {
		return adledgerv1.Order{}, fmt.Errorf("invalid spm: %w", err)
	}

	if _, err := client.Deposit(ctx, authed(&adledgerv1.AmountRequest{Amount: budget}, token)); err != nil {
		return adledgerv1.Order{}, fmt.Errorf("deposit: %w", err)
	}
	channelID := "load-" + uuid.NewString()[:8]
	res, err := client.CreateOrder(ctx, authed(&adledgerv1.CreateOrderRequest{
		ChannelID:       channelID,
		ChannelName:     "Load test " + channelID,
		SPM:             spm,
		Budget:          budget,
		MaxViewsPerUser: cfg.MaxViewsPerUser,
		Tags:            []string{cfg.Tag},
	}, token))
	if err != nil {
		return adledgerv1.Order{}, fmt.Errorf("create order: %w", err)
	}
	return res.Msg.Order, nil
}

// doSearch performs a single Search RPC and collects metrics
func doSearch(client *adledgerv1.LedgerServiceClient, cfg Config, viewer string, result *LoadResult, latencyChan chan<- time.Duration) {
	// Independent context so in-flight calls finish when the run ends
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	atomic.AddInt64(&result.TotalRequests, 1)
	start := time.Now()
	_, err := client.Search(ctx, connect.NewRequest(&adledgerv1.SearchRequest{Tag: cfg.Tag, ViewerID: viewer}))
	latency := time.Since(start)

	switch {
	case err == nil:
		atomic.AddInt64(&result.SuccessCount, 1)
		atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
		select {
		case latencyChan <- latency:
		default:
		}
	case connect.CodeOf(err) == connect.CodeNotFound:
		atomic.AddInt64(&result.NotFoundCount, 1)
	default:
		atomic.AddInt64(&result.ErrorCount, 1)
	}
}

// trackP95 maintains a best-effort rolling P95 over a sampled reservoir
func trackP95(latencies <-chan time.Duration, result *LoadResult) {
	const size = 1000
	buf := make([]int64, 0, size)
	seen := 0

	for lat := range latencies {
		seen++
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else if idx := rand.IntN(seen); idx < size {
			buf[idx] = lat.Nanoseconds()
		}

		if len(buf) >= 100 && seen%100 == 0 {
			sorted := slices.Clone(buf)
			slices.Sort(sorted)
			idx := int(float64(len(sorted)) * 0.95)
			if idx >= len(sorted) {
				idx = len(sorted) - 1
			}
			atomic.StoreInt64(&result.P95Latency, sorted[idx])
		}
	}
}

func report(result LoadResult, totalDur time.Duration) {
	fmt.Println("==========================================")
	fmt.Println("results")
	fmt.Println("==========================================")
	fmt.Printf("elapsed        : %.2fs\n", totalDur.Seconds())
	fmt.Printf("requests       : %d\n", result.TotalRequests)
	fmt.Printf("served         : %d\n", result.SuccessCount)
	fmt.Printf("not found      : %d\n", result.NotFoundCount)
	fmt.Printf("errors         : %d\n", result.ErrorCount)

	var avgLatency time.Duration
	if result.SuccessCount > 0 {
		avgLatency = time.Duration(result.LatencySum / result.SuccessCount)
	}
	var successRate float64
	if result.TotalRequests > 0 {
		successRate = float64(result.SuccessCount) / float64(result.TotalRequests) * 100
	}

	fmt.Printf("served rps     : %.2f\n", float64(result.SuccessCount)/totalDur.Seconds())
	fmt.Printf("served rate    : %.2f%%\n", successRate)
	fmt.Printf("avg latency    : %v\n", avgLatency)
	fmt.Printf("p95 latency    : %v\n", time.Duration(atomic.LoadInt64(&result.P95Latency)))
}

// verifyConsistency checks the order counters against the client's tally,
// then cancels the order and checks the refund
func verifyConsistency(client *adledgerv1.LedgerServiceClient, cfg Config, token string, orderID, served int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	res, err := client.GetOrder(ctx, authed(&adledgerv1.GetOrderRequest{OrderID: orderID}, token))
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	order := res.Msg.Order

	fmt.Printf("order          : %d (%s)\n", order.ID, order.State)
	fmt.Printf("total views    : %d\n", order.TotalViews)
	fmt.Printf("shown (store)  : %d\n", order.ShownViews)
	fmt.Printf("shown (client) : %d\n", served)
	fmt.Printf("remaining      : %d\n", order.RemainingViews)

	if order.ShownViews != served {
		return fmt.Errorf("shown views mismatch: store=%d client=%d diff=%d", order.ShownViews, served, order.ShownViews-served)
	}
	if order.ShownViews > order.TotalViews {
		return fmt.Errorf("over-serving: shown=%d > total=%d", order.ShownViews, order.TotalViews)
	}
	if order.ShownViews+order.RemainingViews != order.TotalViews {
		return fmt.Errorf("counter drift: shown=%d + remaining=%d != total=%d", order.ShownViews, order.RemainingViews, order.TotalViews)
	}

	if order.Completed {
		return nil
	}
	cancelled, err := client.CancelOrder(ctx, authed(&adledgerv1.CancelOrderRequest{OrderID: orderID}, token))
	if err != nil {
		var cerr *connect.Error
		if errors.As(err, &cerr) && cerr.Code() == connect.CodeFailedPrecondition {
			return nil
		}
		return fmt.Errorf("cancel order: %w", err)
	}
	if !cancelled.Msg.RefundAmount.Equal(order.RefundPreview) {
		return fmt.Errorf("refund mismatch: paid=%s preview=%s", cancelled.Msg.RefundAmount, order.RefundPreview)
	}
	fmt.Printf("refund         : %s\n", cancelled.Msg.RefundAmount)
	return nil
}

func authed[T any](msg *T, token string) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+token)
	return req
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
