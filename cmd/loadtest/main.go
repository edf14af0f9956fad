package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

const (
	headerAPIKey   = "X-API-Key"
	headerTenantID = "X-Tenant-ID"
	defaultPrice   = "499.00"
	defaultQty     = 1
	codeTransport  = "TRANSPORT_ERROR"
)

type loadMode string

const (
	modeSync          loadMode = "sync"
	modeSyncReplay    loadMode = "sync-replay"
	modeCreatePay     loadMode = "create-pay"
	modeCreateDeliver loadMode = "create-deliver"
)

type config struct {
	baseURL     string
	apiKey      string
	tenantID    string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	price       decimal.Decimal
	itemName    string
	customerTag string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type endpointReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time                 `json:"started_at"`
	DurationSeconds   float64                   `json:"duration_seconds"`
	TotalScenarios    int64                     `json:"total_scenarios"`
	SuccessScenarios  int64                     `json:"success_scenarios"`
	FailedScenarios   int64                     `json:"failed_scenarios"`
	ErrorRate         float64                   `json:"error_rate"`
	RPS               float64                   `json:"rps"`
	ScenarioLatencyMs latencySummary            `json:"scenario_latency_ms"`
	Endpoints         map[string]endpointReport `json:"endpoints"`
}

type endpointStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu        sync.Mutex
	endpoints map[string]*endpointStats
}

func newCollector() *collector {
	return &collector{endpoints: make(map[string]*endpointStats)}
}

// record учитывает один вызов. code: HTTP-статус или codeTransport.
func (c *collector) record(endpoint string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.endpoints[endpoint]
	if !exists {
		stats = &endpointStats{codes: make(map[string]int64)}
		c.endpoints[endpoint] = stats
	}
	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *endpointStats) report() endpointReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return endpointReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) snapshot(name string) (endpointReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.endpoints[name]
	if !ok {
		return endpointReport{}, false
	}
	return stats.report(), true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Endpoints:       make(map[string]endpointReport, len(c.endpoints)),
	}
	if scenario := c.endpoints["scenario"]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	for name, stats := range c.endpoints {
		result.Endpoints[name] = stats.report()
	}
	return result
}

func parseConfig(fs *flag.FlagSet, args []string, getenv func(string) string) (config, error) {
	var (
		cfg           config
		modeValue     string
		priceValue    string
		timeoutValue  string
		durationValue string
	)

	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "orderflow HTTP API base URL")
	fs.StringVar(&cfg.apiKey, "api-key", "", "storefront API key for sync modes (fallback: ORDERFLOW_LOADTEST_API_KEY)")
	fs.StringVar(&cfg.tenantID, "tenant", "", "tenant id for lifecycle modes (fallback: ORDERFLOW_LOADTEST_TENANT)")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	fs.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeSync), "load mode: sync | sync-replay | create-pay | create-deliver")
	fs.StringVar(&priceValue, "price", defaultPrice, "item price")
	fs.StringVar(&cfg.itemName, "item", "Load item", "item name")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer name prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.price = price

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if cfg.apiKey == "" {
		cfg.apiKey = strings.TrimSpace(getenv("ORDERFLOW_LOADTEST_API_KEY"))
	}
	if cfg.tenantID == "" {
		cfg.tenantID = strings.TrimSpace(getenv("ORDERFLOW_LOADTEST_TENANT"))
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case !cfg.price.IsPositive():
		return cfg, errors.New("price must be > 0")
	case strings.TrimSpace(cfg.itemName) == "":
		return cfg, errors.New("item is required")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	case cfg.mode.storefront() && cfg.apiKey == "":
		return cfg, errors.New("api-key is required for sync modes")
	case !cfg.mode.storefront() && cfg.tenantID == "":
		return cfg, errors.New("tenant is required for lifecycle modes")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeSync, modeSyncReplay, modeCreatePay, modeCreateDeliver:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func (m loadMode) storefront() bool {
	return m == modeSync || m == modeSyncReplay
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.concurrency
	api := &apiClient{
		baseURL: cfg.baseURL,
		http:    &http.Client{Transport: transport},
		timeout: cfg.timeout,
		apiKey:  cfg.apiKey,
		tenant:  cfg.tenantID,
	}

	result := runLoad(api, cfg)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func runLoad(api *apiClient, cfg config) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := runScenario(api, cfg, id, runID, col); err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// apiClient: тонкий клиент HTTP API с учётом вызовов в collector.
type apiClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	apiKey  string
	tenant  string
}

type apiError struct {
	endpoint string
	status   int
	body     string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.endpoint, e.status, e.body)
}

// orderEnvelope покрывает оба формата: ответ витрине ({success, orderId}) и конверт с data.
type orderEnvelope struct {
	Success    bool   `json:"success"`
	OrderID    string `json:"orderId"`
	InternalID string `json:"internalId"`
	Data       struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
		Version int64  `json:"version"`
	} `json:"data"`
}

// call отправляет JSON и ожидает один из статусов want.
func (a *apiClient) call(col *collector, endpoint, path string, body any, storefront bool, want ...int) (orderEnvelope, int, error) {
	var envelope orderEnvelope

	raw, err := json.Marshal(body)
	if err != nil {
		return envelope, 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return envelope, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if storefront {
		req.Header.Set(headerAPIKey, a.apiKey)
	} else {
		req.Header.Set(headerTenantID, a.tenant)
	}

	start := time.Now()
	resp, err := a.http.Do(req)
	if err != nil {
		col.record(endpoint, time.Since(start), codeTransport, false)
		return envelope, 0, err
	}
	defer resp.Body.Close()
	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	ok := readErr == nil && containsStatus(want, resp.StatusCode)
	col.record(endpoint, time.Since(start), strconv.Itoa(resp.StatusCode), ok)
	if readErr != nil {
		return envelope, resp.StatusCode, readErr
	}
	if !ok {
		return envelope, resp.StatusCode, &apiError{endpoint: endpoint, status: resp.StatusCode, body: strings.TrimSpace(string(payload))}
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return envelope, resp.StatusCode, fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return envelope, resp.StatusCode, nil
}

func containsStatus(want []int, status int) bool {
	for _, w := range want {
		if w == status {
			return true
		}
	}
	return false
}

type customerBody struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type itemBody struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type syncBody struct {
	ExternalOrderID string       `json:"externalOrderId"`
	Source          string       `json:"source"`
	Customer        customerBody `json:"customer"`
	Items           []itemBody   `json:"items"`
	IdempotencyKey  string       `json:"idempotencyKey"`
}

type createBody struct {
	Customer customerBody `json:"customer"`
	Items    []itemBody   `json:"items"`
	Source   string       `json:"source"`
}

func runScenario(api *apiClient, cfg config, index int, runID string, col *collector) (err error) {
	start := time.Now()
	defer func() {
		col.record("scenario", time.Since(start), scenarioCode(err), err == nil)
	}()

	customer := customerBody{
		Name:  fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index),
		Phone: fmt.Sprintf("+9190%08d", index%100000000),
	}
	items := []itemBody{{Name: cfg.itemName, Quantity: defaultQty, Price: cfg.price}}

	if cfg.mode.storefront() {
		body := syncBody{
			ExternalOrderID: fmt.Sprintf("lt-%s-%d", runID, index),
			Source:          "loadtest",
			Customer:        customer,
			Items:           items,
			IdempotencyKey:  fmt.Sprintf("lt-sync-%s-%d", runID, index),
		}
		first, _, err := api.call(col, "SyncOrder", "/api/v1/orders/sync", body, true, http.StatusCreated)
		if err != nil {
			return err
		}
		if cfg.mode == modeSync {
			return nil
		}
		replay, _, err := api.call(col, "SyncOrderReplay", "/api/v1/orders/sync", body, true, http.StatusOK)
		if err != nil {
			return err
		}
		if first.OrderID == "" || first.InternalID == "" {
			return errors.New("sync response is missing orderId or internalId")
		}
		if replay.OrderID != first.OrderID {
			return fmt.Errorf("replay returned order %s, want %s", replay.OrderID, first.OrderID)
		}
		return nil
	}

	created, _, err := api.call(col, "CreateOrder", "/api/v1/orders",
		createBody{Customer: customer, Items: items, Source: "loadtest"}, false, http.StatusCreated)
	if err != nil {
		return err
	}
	orderID := created.Data.OrderID
	if orderID == "" {
		return errors.New("create response returned empty order id")
	}

	paymentRef := map[string]string{"paymentRef": fmt.Sprintf("lt-pay-%s-%d", runID, index)}
	if _, _, err := api.call(col, "RecordPayment", "/api/v1/orders/"+orderID+"/payment", paymentRef, false, http.StatusOK); err != nil {
		return err
	}
	if cfg.mode == modeCreatePay {
		return nil
	}

	dispatch := map[string]any{"courier": "loadtest", "trackingNumber": fmt.Sprintf("LT%s%d", runID, index)}
	if _, _, err := api.call(col, "Dispatch", "/api/v1/orders/"+orderID+"/dispatch", dispatch, false, http.StatusOK); err != nil {
		return err
	}
	_, _, err = api.call(col, "Deliver", "/api/v1/orders/"+orderID+"/deliver", struct{}{}, false, http.StatusOK)
	return err
}

func scenarioCode(err error) string {
	if err == nil {
		return "OK"
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return strconv.Itoa(apiErr.status)
	}
	return codeTransport
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаёт оператор флагом -output.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min, result.ScenarioLatencyMs.Avg, result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95, result.ScenarioLatencyMs.P99, result.ScenarioLatencyMs.Max)

	names := make([]string, 0, len(result.Endpoints))
	for name := range result.Endpoints {
		if name != "scenario" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Endpoints[name]
		_, _ = fmt.Fprintf(out, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile: линейная интерполяция между соседними рангами.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
