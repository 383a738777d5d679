package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/broker"
	"tradegate/internal/config"
	"tradegate/internal/domain"
	"tradegate/internal/event"
	"tradegate/internal/manager"
	"tradegate/internal/risk"
	"tradegate/internal/rules"
	"tradegate/internal/store"
	"tradegate/internal/util"
)

func main() {
	demo := flag.Bool("demo", false, "run one simulated order through the pipeline and exit")
	flag.Parse()

	cfgPath := "config/tradegate.yaml"
	if p := os.Getenv("TRADEGATE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("failed to load config: %v", err)
		}
		// No config file: run on built-in defaults.
		cfg = &config.Config{}
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	tables, err := cfg.RuleTables()
	if err != nil {
		log.Fatalf("invalid rule configuration: %v", err)
	}
	limits, err := cfg.RiskLimits()
	if err != nil {
		log.Fatalf("invalid risk configuration: %v", err)
	}
	slippage, err := cfg.SlippageRates()
	if err != nil {
		log.Fatalf("invalid simulator configuration: %v", err)
	}

	bus := event.NewBus(logger)
	engine, err := rules.NewEngine(tables, bus, logger)
	if err != nil {
		log.Fatalf("failed to build rules engine: %v", err)
	}
	controller := risk.NewController(limits, engine.TableFor(domain.ClassEquity).Sessions, logger)
	mgr := manager.NewManager(engine, controller, bus, logger)

	if cfg.Storage.SQLitePath != "" {
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open order database: %v", err)
		}
		defer db.Close()

		var fills store.FillStore
		if cfg.Storage.AuditDir != "" {
			fills = store.NewParquetAudit(cfg.Storage.AuditDir)
		}
		store.NewRecorder(db, db, fills, mgr, logger).Attach(bus)
	}

	if *demo {
		if err := runDemo(mgr, engine, slippage, logger); err != nil {
			log.Fatalf("demo failed: %v", err)
		}
		return
	}

	fmt.Println("tradegate ready; run with -demo to exercise the pipeline")
}

// runDemo drives a single order through validation, adjustment, risk checks,
// submission, and a simulated fill.
func runDemo(mgr *manager.Manager, engine *rules.Engine, slippage map[domain.SecurityClass]decimal.Decimal, logger *slog.Logger) error {
	sim := broker.NewSimulatorBroker(engine, slippage, nil)

	sec := domain.SecurityInfo{
		Symbol:   "600519",
		Class:    domain.ClassEquity,
		Exchange: "SSE",
		IsActive: true,
	}
	prevClose := decimal.RequireFromString("1700.00")
	ctx := rules.Context{
		CurrentTime:   time.Date(2026, 8, 31, 10, 0, 0, 0, time.Local),
		PreviousClose: prevClose,
		HasPrevClose:  true,
	}

	// Deliberately awkward order: odd lot, off-tick price.
	price := decimal.RequireFromString("1712.345")
	order := mgr.Create(manager.OrderSpec{
		Symbol:     sec.Symbol,
		Side:       domain.SideBuy,
		Kind:       domain.KindLimit,
		Quantity:   137,
		LimitPrice: &price,
	})

	result, err := mgr.Validate(order.ID, sec, ctx)
	if err != nil {
		return err
	}
	if !result.Valid() {
		logger.Info("validation failed, adjusting", "errors", result.Errors)
		if _, err := mgr.Adjust(order.ID, sec, ctx); err != nil {
			return err
		}
		if result, err = mgr.Validate(order.ID, sec, ctx); err != nil {
			return err
		}
		if !result.Valid() {
			return fmt.Errorf("order still invalid after adjustment: %v", result.Errors)
		}
	}

	portfolio := decimal.RequireFromString("10000000")
	cash := decimal.RequireFromString("5000000")
	passed, reason, err := mgr.CheckRisk(order.ID, portfolio, nil, cash)
	if err != nil {
		return err
	}
	if !passed {
		return fmt.Errorf("risk check failed: %s", reason)
	}

	if ok, err := mgr.Submit(order.ID); err != nil || !ok {
		return fmt.Errorf("submit failed: %v", err)
	}

	current, err := mgr.Order(order.ID)
	if err != nil {
		return err
	}
	exec, err := sim.Execute(context.Background(), current, sec, prevClose)
	if err != nil {
		return err
	}
	if _, err := mgr.Execute(order.ID, exec); err != nil {
		return err
	}

	final, err := mgr.Order(order.ID)
	if err != nil {
		return err
	}
	stats := mgr.Stats()
	fmt.Printf("demo order %s: status=%s filled=%d avg=%s commission=%s\n",
		final.ID, final.Status, final.FilledQuantity,
		final.AvgFillPrice.String(), exec.Commission.String())
	fmt.Printf("stats: total=%d filled=%d fill_rate=%.2f\n",
		stats.TotalOrders, stats.FilledOrders, stats.FillRate)
	return nil
}
