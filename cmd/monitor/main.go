// Command monitor is the ambient entrypoint wiring every engine
// component into one process: it loads configuration, exposes
// health (/healthz) and metrics (/metrics) over HTTP (spec.md's explicitly out-of-scope
// policy/report CRUD surface lives elsewhere — this is ops-only), and
// starts either a file analysis or a live monitoring session from its
// flags, following the teacher's cmd/hlsd wiring shape (chi router,
// bracketed-tag logging, env-first configuration).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/vision-compliance/internal/compliance"
	"github.com/technosupport/vision-compliance/internal/dispatch"
	"github.com/technosupport/vision-compliance/internal/engineconfig"
	"github.com/technosupport/vision-compliance/internal/metrics"
	"github.com/technosupport/vision-compliance/internal/policystore"
	"github.com/technosupport/vision-compliance/internal/progressbus"
	"github.com/technosupport/vision-compliance/internal/providerclient"
	"github.com/technosupport/vision-compliance/internal/ratelimit"
	"github.com/technosupport/vision-compliance/internal/session"
)

func main() {
	configPath := flag.String("config", getEnv("ENGINE_CONFIG", ""), "path to engine config YAML")
	policyDir := flag.String("policy-dir", getEnv("POLICY_DIR", "./policies"), "directory of named policy JSON documents")
	httpAddr := flag.String("http-addr", getEnv("HTTP_ADDR", ":8090"), "health/metrics listen address")

	liveURI := flag.String("live", "", "device index or RTSP/HTTP URL to monitor live")
	filePath := flag.String("file", "", "bounded video file to analyze once and exit")
	policyName := flag.String("policy", "", "name of a policy loaded from -policy-dir")
	windowSeconds := flag.Float64("window-seconds", 0, "override window_duration for a live session")
	flag.Parse()

	cfg, err := engineconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("[MONITOR] config load failed: %v", err)
	}

	collector := metrics.New()

	policies := policystore.New(*policyDir)
	if err := policies.LoadAll(); err != nil {
		log.Printf("[MONITOR] initial policy load failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	policies.Watch(ctx)

	providerTimeout := time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 20)) * time.Second
	provider := providerclient.New(getEnv("PROVIDER_TOKEN", ""), getEnv("DESCRIBE_URL", ""), getEnv("EVALUATE_URL", ""), getEnv("TRANSCRIBE_URL", ""), providerTimeout)
	deps := session.Dependencies{
		VLM:       provider,
		Evaluator: provider,
		OutputDir: getEnv("KEYFRAME_OUTPUT_DIR", ""),
		Metrics:   collector,
	}
	if getEnv("TRANSCRIBE_URL", "") != "" {
		deps.Transcriber = provider
	}
	deps.Limiter = buildLimiter(cfg, collector)
	if mirror := buildMirror(); mirror != nil {
		deps.Mirror = mirror
	}

	mgr := session.NewManager(cfg, deps)

	go serveHTTP(*httpAddr, collector)

	switch {
	case *filePath != "":
		runFileDemo(mgr, policies, *filePath, *policyName)
	case *liveURI != "":
		runLiveDemo(ctx, mgr, policies, *liveURI, *policyName, *windowSeconds)
	default:
		log.Printf("[MONITOR] no -file or -live given; serving health/metrics only on %s", *httpAddr)
		waitForSignal()
	}
}

func runFileDemo(mgr *session.Manager, policies *policystore.Store, path, policyName string) {
	policy := resolvePolicy(policies, policyName)
	sess, err := mgr.StartFileAnalysis(path, policy)
	if err != nil {
		log.Fatalf("[MONITOR] file analysis failed to start: %v", err)
	}
	for ev := range sess.Events() {
		printEvent(ev)
	}
}

func runLiveDemo(ctx context.Context, mgr *session.Manager, policies *policystore.Store, uri, policyName string, windowSeconds float64) {
	policy := resolvePolicy(policies, policyName)
	sess, err := mgr.StartLiveMonitoring(uri, policy, windowSeconds)
	if err != nil {
		log.Fatalf("[MONITOR] live monitoring failed to start: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Printf("[MONITOR] stop signal received, stopping session %s", sess.ID)
		sess.Stop()
	}()

	for ev := range sess.Events() {
		printEvent(ev)
	}
}

func resolvePolicy(policies *policystore.Store, name string) compliance.Policy {
	if name == "" {
		return compliance.Policy{}
	}
	p, ok := policies.Get(name)
	if !ok {
		log.Printf("[MONITOR] policy %q not found, starting with an empty policy", name)
		return compliance.Policy{}
	}
	return p
}

func printEvent(ev progressbus.Event) {
	if ev.Kind == progressbus.EventWindowReport && ev.Report != nil {
		data, _ := json.Marshal(ev.Report)
		fmt.Println(string(data))
		return
	}
	log.Printf("[MONITOR] session %s: %s", ev.SessionID, ev.Kind)
}

func serveHTTP(addr string, collector *metrics.Collector) {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", collector.Handler())

	log.Printf("[MONITOR] health/metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Printf("[MONITOR] http server stopped: %v", err)
	}
}

func buildLimiter(cfg engineconfig.EngineConfig, collector *metrics.Collector) dispatch.RateLimiter {
	if addr := getEnv("REDIS_ADDR", ""); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		limiter := ratelimit.NewRedisLimiter(client, "vce:ratelimit", cfg.RateLimitPerMinute, cfg.RateLimitPerHour)
		limiter.SetMetrics(collector)
		return limiter
	}
	limiter := ratelimit.New(cfg.RateLimitPerMinute, cfg.RateLimitPerHour)
	limiter.SetMetrics(collector)
	return limiter
}

func buildMirror() *progressbus.Mirror {
	url := getEnv("NATS_URL", "")
	if url == "" {
		return nil
	}
	conn, err := nats.Connect(url)
	if err != nil {
		log.Printf("[MONITOR] NATS connect failed (%v), progress mirror disabled", err)
		return nil
	}
	return progressbus.NewMirror(conn, getEnv("NATS_PROGRESS_SUBJECT", "vce.progress"), 3)
}

func waitForSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
