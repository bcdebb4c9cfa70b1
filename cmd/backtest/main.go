// Package main is the entry point for the factorsim backtest driver.
// It loads configuration, assembles the simulation components, replays the
// price history through the strategy and prints the resulting performance
// statistics. All business logic lives in internal/; this layer only wires
// and reports.
package main

import (
	"os"
	"time"

	"factorsim/internal/config"
	"factorsim/internal/modules/backtest"
	"factorsim/internal/modules/decisions"
	"factorsim/internal/modules/execution"
	"factorsim/internal/modules/factors"
	"factorsim/internal/modules/margin"
	"factorsim/internal/modules/marketdata"
	"factorsim/internal/modules/optimization"
	"factorsim/internal/modules/portfolio"
	"factorsim/internal/modules/strategy"
	"factorsim/internal/modules/tax"
	"factorsim/internal/modules/universe"
	"factorsim/pkg/logger"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	log := logger.New(logger.Config{
		Level:  getEnv("FACTORSIM_LOG_LEVEL", "info"),
		Pretty: true,
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	pricesPath := os.Getenv("FACTORSIM_PRICES")
	if pricesPath == "" {
		log.Fatal().Msg("FACTORSIM_PRICES must point to a CSV price file")
	}
	market, err := marketdata.LoadPricesCSV(pricesPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load price data")
	}

	// Persist the loaded series into the local SQLite cache when configured,
	// so repeated runs can skip the CSV parse.
	if dbPath := os.Getenv("FACTORSIM_DB"); dbPath != "" {
		cache, err := marketdata.NewPriceCache(dbPath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open price cache")
		}
		defer cache.Close()
		for _, ticker := range market.AllTickers() {
			dates, closes, _ := market.Series(ticker)
			if err := cache.SaveSeries(ticker, dates, closes); err != nil {
				log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to cache price series")
			}
		}
	}

	start, err := time.Parse("2006-01-02", cfg.Start)
	if err != nil {
		log.Fatal().Err(err).Str("start", cfg.Start).Msg("Invalid start date")
	}
	dates := market.Dates()
	if len(dates) == 0 {
		log.Fatal().Msg("Price file contains no trading dates")
	}
	end := dates[len(dates)-1]

	ffClient := marketdata.NewFamaFrenchClient(log)
	factorReturns, err := ffClient.FetchFactorReturns(start.AddDate(0, 0, -cfg.LookbackDays), end)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch factor returns")
	}

	model := factors.NewModel(factorReturns, log)
	catalog := universe.NewCatalog(nil)
	selector := universe.NewSelector(cfg.MinR2).
		WithAllowedTickers(catalog.Filter(cfg.Regions, cfg.CapTiers, cfg.MinADV))

	p := portfolio.New(cfg.InitialCash)
	executor := execution.New(market, log)
	taxEngine := tax.NewEngine(cfg.Tax)

	var harvester *tax.HarvestingEngine
	if cfg.Tax.HarvestEnabled {
		harvester = tax.NewHarvestingEngine(cfg.Tax, taxEngine, executor, log)
	}

	var marginCfg *config.MarginConfig
	var costModel *margin.CostModel
	decisionEngine := decisions.NewEngine(taxEngine, cfg.TradingCost)
	if cfg.Margin.Enabled {
		marginCfg = &cfg.Margin
		costModel = margin.NewCostModel()
		decisionEngine = decisions.NewEngineWithMargin(taxEngine, cfg.TradingCost, marginCfg, costModel)
	}

	strat := strategy.New(
		strategy.Config{
			TargetWeights:      cfg.TargetWeights,
			LookbackDays:       cfg.LookbackDays,
			RebalanceFrequency: cfg.RebalanceFrequency,
		},
		strategy.Deps{
			Portfolio: p,
			Market:    market,
			Estimator: model,
			Selector:  selector,
			Executor:  executor,
			Decisions: decisionEngine,
			Optimizer: optimization.NewReplicationOptimizer(log),
			Harvester: harvester,
			MarginCfg: marginCfg,
			CostModel: costModel,
		},
		log,
	)

	engine := backtest.NewEngine(strat, market, log)
	result := engine.Run(dates, start, end)
	metrics := backtest.ComputeMetrics(result, nil, 0)

	log.Info().
		Float64("final_equity", result.FinalValue()).
		Float64("total_return", metrics.TotalReturn).
		Float64("annualized_return", metrics.AnnualizedReturn).
		Float64("sharpe", metrics.Sharpe).
		Float64("sortino", metrics.Sortino).
		Float64("max_drawdown", metrics.MaxDrawdown).
		Int("drawdown_days", metrics.DrawdownDays).
		Float64("monthly_turnover", metrics.MonthlyTurnover).
		Float64("interest_paid", result.InterestPaid).
		Int("trades", len(result.Trades)).
		Msg("Backtest finished")
}
