// Command tollgate runs the planning and execution engine end to end against
// the bundled demo tool service. It generates a plan for the given query,
// prices it against the catalog, settles the invoice with an auto-paying demo
// wallet, executes the plan, and prints the execution report as JSON. The
// demo tool service and a Prometheus metrics endpoint are served for the
// lifetime of the process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/tollgate"
	"github.com/ZanzyTHEbar/tollgate/internal/adapters"
	"github.com/ZanzyTHEbar/tollgate/internal/cache"
	"github.com/ZanzyTHEbar/tollgate/internal/catalog"
	"github.com/ZanzyTHEbar/tollgate/internal/composer"
	"github.com/ZanzyTHEbar/tollgate/internal/config"
	"github.com/ZanzyTHEbar/tollgate/internal/eventbus"
	"github.com/ZanzyTHEbar/tollgate/internal/invoker"
	"github.com/ZanzyTHEbar/tollgate/internal/metrics"
	"github.com/ZanzyTHEbar/tollgate/internal/paygate"
	"github.com/ZanzyTHEbar/tollgate/internal/planner"
	"github.com/ZanzyTHEbar/tollgate/internal/toolsvc"
)

// demoPlanResponse is the scripted oracle reply used by the demo binary. It
// exercises the three argument forms the composer resolves: literals, a
// pending reference to an earlier step's output, and an expression.
const demoPlanResponse = "Here is a plan for the requested calculation.\n" +
	"```json\n" +
	`{
  "intent": "sum the inputs, apply the adjustment, then publish the doubled result",
  "steps": [
    {"mcp": "calc", "tool": "add-list", "params": {"values": [2, 3]}, "reason": "sum the inputs", "dependsOn": []},
    {"mcp": "calc", "tool": "subtract", "params": {"a": {"source": {"taskId": "0", "field": "0"}, "type": "number"}, "b": 1.5}, "reason": "apply the adjustment", "dependsOn": [0]},
    {"mcp": "util", "tool": "echo", "params": {"note": {"expression": "$1 * 2"}}, "reason": "publish the doubled result", "dependsOn": [1]}
  ],
  "reasoning": "three dependent arithmetic steps cover the request"
}` + "\n```\nTotal comes to $0.05."

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	query := flag.String("query", "sum 2 and 3, subtract 1.5, then double the result", "query to plan and execute (empty skips the demo run)")
	serve := flag.Bool("serve", false, "keep serving the tool service and metrics endpoint after the demo run")
	flag.Parse()

	if err := run(*configPath, *query, *serve); err != nil {
		log.Fatalf("main: exited with error: %v", err)
	}
	log.Printf("main: shutdown complete")
}

func run(configPath, query string, serve bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Oracle.PromptDir != "" {
		log.Printf("main: ignoring oracle prompt_dir %q (demo binary uses the static oracle)", cfg.Oracle.PromptDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bind the tool service listener before the engine starts so the demo
	// run cannot race the server goroutine.
	toolListener, err := net.Listen("tcp", cfg.ToolSvc.Addr)
	if err != nil {
		return fmt.Errorf("binding tool service listener on %s: %w", cfg.ToolSvc.Addr, err)
	}
	endpoint := endpointFor(toolListener.Addr().String())

	cat, err := buildCatalog(cfg, endpoint)
	if err != nil {
		return err
	}
	log.Printf("main: catalog loaded (tools: %d, endpoint: %s)", cat.Len(), endpoint)

	planCache, stopCache, err := buildCache(cfg)
	if err != nil {
		return err
	}
	defer stopCache()

	bus := eventbus.NewChannelEventBus(
		eventbus.WithBufferSize(cfg.Bus.BufferSize),
		eventbus.WithWorkerCount(cfg.Bus.Workers),
	)
	defer bus.Close()

	collector, err := metrics.NewCollector(bus)
	if err != nil {
		return fmt.Errorf("initializing metrics collector: %w", err)
	}
	defer collector.Close()

	consoleSub, err := consoleEvents(bus)
	if err != nil {
		return fmt.Errorf("subscribing console event logger: %w", err)
	}
	defer bus.Unsubscribe(consoleSub)

	remote := invoker.New(
		invoker.WithMaxAttempts(cfg.Invoker.MaxAttempts),
		invoker.WithInitialBackoff(config.Duration(cfg.Invoker.InitialBackoff, 200*time.Millisecond)),
		invoker.WithHTTPClient(&http.Client{Timeout: config.Duration(cfg.Invoker.RequestTimeout, 30*time.Second)}),
	)
	executor := composer.New(remote, cat,
		composer.WithMaxParallel(cfg.Engine.MaxParallel),
		composer.WithStepTimeout(config.Duration(cfg.Engine.StepTimeout, 5*time.Minute)),
		composer.WithEventBus(bus),
	)

	oracle := &adapters.StaticOracle{Response: demoPlanResponse}
	engine, err := tollgate.New(
		tollgate.WithEventBus(bus),
		tollgate.WithGenerator(planner.NewGenerator(oracle, cat, planCache)),
		tollgate.WithValidator(planner.NewValidator(cat)),
		tollgate.WithCoster(planner.NewCoster(cat)),
		tollgate.WithExecutor(executor),
		tollgate.WithGateFactory(paygate.Factory(
			paygate.WithWindow(config.Duration(cfg.Engine.PaymentWindow, 10*time.Minute)),
		)),
		tollgate.WithPaymentFunc(demoWallet),
		tollgate.WithSummarizer(&adapters.PlainSummarizer{}),
		tollgate.WithConfig(tollgate.Config{
			MaxSteps:            cfg.Engine.MaxSteps,
			EnableEventBus:      true,
			EventBusBufferSize:  cfg.Bus.BufferSize,
			EventBusWorkerCount: cfg.Bus.Workers,
			EnableSummary:       true,
		}),
	)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	toolServer := &http.Server{Handler: toolsvcHandler(cat)}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", collector.Handler())
	metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("toolsvc: serving demo tools (addr: %s)", toolListener.Addr())
		if err := toolServer.Serve(toolListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("tool service failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Printf("metrics: serving Prometheus endpoint (addr: %s)", cfg.Metrics.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := toolServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: tool service shutdown failed (error: %v)", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: metrics server shutdown failed (error: %v)", err)
		}
		return nil
	})

	if query != "" {
		g.Go(func() error {
			err := runDemo(gctx, engine, query)
			if !serve {
				stop()
			}
			return err
		})
	} else {
		log.Printf("main: no query given, serving until interrupted")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runDemo executes one query through the full pipeline and prints the report.
func runDemo(ctx context.Context, engine *tollgate.Engine, query string) error {
	log.Printf("main: processing query (query: %q)", query)
	report, err := engine.Process(ctx, query)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		return fmt.Errorf("demo execution failed: %w", err)
	}
	return nil
}

func printReport(report *tollgate.ExecutionReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("main: marshaling report failed (error: %v)", err)
		return
	}
	fmt.Println(string(data))
}

// demoWallet settles every invoice at face value. A real deployment replaces
// this with a callback that debits an account or waits for an operator.
func demoWallet(ctx context.Context, plan *tollgate.Plan) (tollgate.PaymentProof, error) {
	log.Printf("wallet: settling invoice (amount: %s, steps: %d)", plan.TotalCost, len(plan.Steps))
	return tollgate.PaymentProof{
		TransactionReference: "demo-" + uuid.NewString(),
		Amount:               plan.TotalCost,
		Payer:                "demo-wallet",
	}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg, err := config.Parse(nil)
		if err != nil {
			return nil, err
		}
		log.Printf("main: no config file given, using defaults")
		return cfg, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	log.Printf("main: loaded config (path: %s)", path)
	return cfg, nil
}

// buildCatalog loads the tool catalog from the configured path, or registers
// the bundled demo tools against the local tool service when no path is set.
func buildCatalog(cfg *config.Config, endpoint string) (*catalog.Catalog, error) {
	if cfg.Catalog.Path != "" {
		return catalog.Load(cfg.Catalog.Path)
	}

	cat := catalog.New()
	for _, tool := range []tollgate.Tool{
		{Service: "calc", Name: "add-list", Endpoint: endpoint, Price: decimal.RequireFromString("0.01"), Description: "sum a list of numbers"},
		{Service: "calc", Name: "multiply-list", Endpoint: endpoint, Price: decimal.RequireFromString("0.01"), Description: "multiply a list of numbers"},
		{Service: "calc", Name: "subtract", Endpoint: endpoint, Price: decimal.RequireFromString("0.02"), Description: "subtract b from a"},
		{Service: "util", Name: "echo", Endpoint: endpoint, Price: decimal.RequireFromString("0.02"), Description: "echo the given params"},
		{Service: "search", Name: "web-search", Endpoint: endpoint, Price: decimal.RequireFromString("0.05"), Description: "search the web for a query"},
	} {
		if err := cat.Register(tool); err != nil {
			return nil, fmt.Errorf("registering demo tool %s::%s: %w", tool.Service, tool.Name, err)
		}
	}
	return cat, nil
}

// buildCache constructs the plan cache selected by the configuration and
// returns it with its teardown function.
func buildCache(cfg *config.Config) (tollgate.Cache, func(), error) {
	ttl := config.Duration(cfg.Cache.TTL, time.Hour)
	switch cfg.Cache.Backend {
	case "file":
		c := cache.NewFilePersistentCache(ttl, filepath.Join(cfg.Cache.Dir, "plans.json"), &cache.StdLogger{})
		return c, c.Stop, nil
	case "redis":
		c, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   "tollgate",
		}, ttl, &cache.StdLogger{})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting plan cache: %w", err)
		}
		return c, func() { c.Close() }, nil
	default:
		c := cache.NewInMemoryCache(ttl)
		return c, c.Stop, nil
	}
}

// toolsvcHandler builds the demo tool service. The catalog is consulted only
// to log which registered tools the local service actually backs.
func toolsvcHandler(cat *catalog.Catalog) http.Handler {
	service := toolsvc.Demo()
	served := 0
	for _, tool := range cat.Tools() {
		if _, ok := service.Lookup(tool.Name); ok {
			served++
		}
	}
	log.Printf("toolsvc: %d of %d catalog tools are served locally", served, cat.Len())
	return service
}

// consoleEvents mirrors the demo-relevant lifecycle events onto the log, so a
// reader can watch the gate and the steps progress without scraping metrics.
func consoleEvents(bus eventbus.EventBus) (string, error) {
	return bus.Subscribe([]eventbus.EventType{
		eventbus.EventPlanCosted,
		eventbus.EventPaymentRequested,
		eventbus.EventPaymentAccepted,
		eventbus.EventStepExecutionSuccess,
		eventbus.EventStepExecutionFailure,
		eventbus.EventExecutionSuccess,
		eventbus.EventExecutionFailure,
	}, func(ctx context.Context, event eventbus.Event) error {
		log.Printf("event: %s (payload: %v)", event.Type(), event.Payload())
		return nil
	})
}

func endpointFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
