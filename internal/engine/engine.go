// Package engine implements the Control Loop (SPEC_FULL §4.8): a
// single-threaded, cooperative tick loop that fetches venue state,
// reconciles positions and pending orders, evaluates and scores pairs,
// and emits at most one Open action and any number of Close actions per
// tick. Ticks are serialized — there is no concurrent tick execution and
// no goroutine-per-pair fan-out, a deliberate departure from a
// goroutine-per-market architecture: §5's ordering guarantees (Close
// before Open, reconciliation before decision, leg A before leg B) only
// hold if one tick is one logical, uninterrupted unit.
package engine

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shigeo-nakamura/pairtrade/internal/bars"
	"github.com/shigeo-nakamura/pairtrade/internal/config"
	"github.com/shigeo-nakamura/pairtrade/internal/coordinator"
	"github.com/shigeo-nakamura/pairtrade/internal/decision"
	"github.com/shigeo-nakamura/pairtrade/internal/equity"
	"github.com/shigeo-nakamura/pairtrade/internal/evaluator"
	"github.com/shigeo-nakamura/pairtrade/internal/exchange"
	"github.com/shigeo-nakamura/pairtrade/internal/history"
	"github.com/shigeo-nakamura/pairtrade/internal/notify"
	"github.com/shigeo-nakamura/pairtrade/internal/pairstate"
	"github.com/shigeo-nakamura/pairtrade/internal/persist"
	"github.com/shigeo-nakamura/pairtrade/internal/reconciler"
	"github.com/shigeo-nakamura/pairtrade/internal/snapshot"
	"github.com/shigeo-nakamura/pairtrade/internal/stats"
	"github.com/shigeo-nakamura/pairtrade/pkg/types"
)

const snapshotWarnInterval = 300 * time.Second

// Engine owns every subsystem and drives the tick loop.
type Engine struct {
	cfg    config.Config
	conn   exchange.Connector
	coord  *coordinator.Coordinator
	recon  *reconciler.Reconciler
	eq     *equity.Refresher
	hist   *history.Store
	notifier notify.Notifier
	logger *slog.Logger

	statusWriter *snapshot.Writer
	baseline     *persist.EquityBaseline
	pnlLog       *persist.JSONLinesLog

	specs   []types.PairSpec
	symbols []types.Symbol
	pairs   map[string]*pairstate.State
	builders map[types.Symbol]*bars.Builder

	minOrders    map[types.Symbol]decimal.Decimal
	minTicks     map[types.Symbol]decimal.Decimal
	sizeDecimals map[types.Symbol]*int32

	lastSnapshotWarn map[types.Symbol]time.Time
}

// New wires every subsystem for cfg against conn.
func New(cfg config.Config, conn exchange.Connector, logger *slog.Logger) *Engine {
	logger = logger.With("component", "engine")

	specs := cfg.Pairs()
	pairs := make(map[string]*pairstate.State, len(specs))
	for _, spec := range specs {
		st := pairstate.New(spec, cfg.Stats.MetricsWindow)
		st.ZEntry = cfg.Stats.EntryZBase
		pairs[spec.Key()] = st
	}

	minHistLen := int(cfg.Stats.LookbackHoursLong * 3600 / float64(cfg.Operation.TradingPeriodSecs))
	if minHistLen < cfg.Stats.MetricsWindow {
		minHistLen = cfg.Stats.MetricsWindow
	}
	minTs := time.Now().Unix() - int64(minHistLen)*cfg.Operation.TradingPeriodSecs
	histStore, err := history.Open(filepath.Join(cfg.Store.DataDir, "history.json"), minHistLen, minTs)
	if err != nil {
		logger.Error("open history store, starting empty", "error", err)
		histStore, _ = history.Open(filepath.Join(cfg.Store.DataDir, "history.json.fresh"), minHistLen, minTs)
	}

	coordParams := coordinator.Params{
		RiskPctPerTrade:            cfg.Risk.RiskPctPerTrade,
		MaxLeverage:                cfg.Risk.MaxLeverage,
		SlippageBps:                cfg.Execution.SlippageBps,
		FeeBps:                     cfg.Execution.FeeBps,
		VenueName:                  cfg.Venue.Name,
		PostOnlyEnabled:            cfg.Execution.PostOnlyEnabled,
		PostOnlyAttemptsEntry:      3,
		PostOnlyAttemptsExit:       3,
		PostOnlyRetryDelay:         200 * time.Millisecond,
		PostOnlyWallClockCap:       1500 * time.Millisecond,
		EntryPartialFillMaxRetries: cfg.Execution.EntryPartialFillMaxRetries,
		MaxExitRetries:             3,
		RollbackWait:               5 * time.Second,
	}

	return &Engine{
		cfg:    cfg,
		conn:   conn,
		coord:  coordinator.New(conn, coordParams, logger),
		recon:  reconciler.New(conn, int64(cfg.Execution.OrderTimeout.Seconds()), logger),
		eq:     equity.New(conn, 300*time.Second, decimal.NewFromFloat(cfg.Risk.EquityFallback)),
		hist:   histStore,
		notifier: notify.NewLogNotifier(logger, 50),
		logger: logger,

		statusWriter: snapshot.New(filepath.Join(cfg.Store.DataDir, "status.json"), cfg.Operation.IntervalSecs),
		baseline:     persist.NewEquityBaseline(filepath.Join(cfg.Store.DataDir, "equity_baseline.json")),
		pnlLog:       persist.NewJSONLinesLog(cfg.Store.DataDir, "pnl", cfg.Store.PnlRetainDays),

		specs:   specs,
		symbols: cfg.Symbols(),
		pairs:   pairs,
		builders: make(map[types.Symbol]*bars.Builder),

		minOrders:    make(map[types.Symbol]decimal.Decimal),
		minTicks:     make(map[types.Symbol]decimal.Decimal),
		sizeDecimals: make(map[types.Symbol]*int32),

		lastSnapshotWarn: make(map[types.Symbol]time.Time),
	}
}

// Run drives the tick loop until ctx is cancelled. On a live (non
// dry-run, non observe-only, non-backtest) start it force-closes any
// stray positions first (SPEC_FULL §4.7).
func (e *Engine) Run(ctx context.Context) error {
	if !e.cfg.DryRun && !e.cfg.ObserveOnly && !e.cfg.Backtest {
		e.startupForceClose(ctx)
	}

	interval := time.Duration(e.cfg.Operation.IntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Tick(ctx, time.Now()); err != nil {
				e.logger.Error("tick failed", "error", err)
			}
		}
	}
}

// RunBacktest drives the tick loop from a ReplayConnector's recorded
// series instead of a wall-clock ticker: each tick's logical time is the
// earliest current timestamp across the traded symbols, and the loop
// ends once every symbol's series is exhausted.
func (e *Engine) RunBacktest(ctx context.Context, replay *exchange.ReplayConnector) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var earliest int64
		have := false
		for _, sym := range e.symbols {
			ts, ok := replay.CurrentTs(sym)
			if !ok {
				continue
			}
			if !have || ts < earliest {
				earliest = ts
				have = true
			}
		}
		if !have {
			return nil
		}

		if err := e.Tick(ctx, time.Unix(earliest, 0)); err != nil {
			e.logger.Error("backtest tick failed", "error", err)
		}

		if !replay.AdvanceAll(e.symbols) {
			return nil
		}
	}
}

// startupForceClose implements SPEC_FULL §4.7.
func (e *Engine) startupForceClose(ctx context.Context) {
	if err := e.conn.CancelAllOrders(ctx); err != nil {
		e.logger.Warn("startup cancel_all_orders failed", "error", err)
	}

	attempts := e.cfg.Operation.StartupForceCloseAttempts
	for attempt := 0; attempt < attempts; attempt++ {
		positions, ready, err := e.recon.FetchPositions(ctx, e.symbols, e.minOrders)
		if err != nil {
			e.logger.Warn("startup force-close: fetch positions failed", "error", err)
		} else if ready && len(positions) == 0 {
			return
		} else if ready {
			for sym := range positions {
				if err := e.conn.ClosePositions(ctx, sym); err != nil {
					e.logger.Warn("startup force-close: close_all_positions failed", "symbol", sym, "error", err)
				}
			}
		}
		time.Sleep(e.cfg.Operation.StartupForceCloseWait)
	}

	positions, ready, err := e.recon.FetchPositions(ctx, e.symbols, e.minOrders)
	if err == nil && ready && len(positions) > 0 {
		e.notifier.Notify(notify.Alert{
			Severity: "critical",
			Summary:  "startup force-close did not converge",
			Fields:   map[string]any{"remaining_positions": len(positions)},
		})
	}
}

// Tick runs the nine-step sequence from SPEC_FULL §4.8.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	// 1. Upcoming maintenance.
	maintenance, err := e.conn.UpcomingMaintenance(ctx)
	if err != nil {
		e.logger.Warn("check upcoming maintenance failed", "error", err)
	}

	// 2. Equity refresh (TTL-gated).
	eq, err := e.eq.Equity(ctx, now)
	if err != nil {
		e.logger.Warn("refresh equity failed, using last-known value", "error", err)
	}

	// 3. Per-symbol ticker fetch.
	snapshots := e.fetchSnapshots(ctx, now)

	// 4. Position reconciliation.
	positions, positionsReady, err := e.recon.FetchPositions(ctx, e.symbols, e.minOrders)
	if err != nil {
		e.logger.Warn("fetch positions failed", "error", err)
		positionsReady = false
	}
	for _, state := range e.pairs {
		if err := e.recon.Reconcile(ctx, state, positions, positionsReady, now, e.minOrders, e.sizeDecimals); err != nil {
			e.logger.Warn("reconcile pair failed", "pair", state.Spec.Key(), "error", err)
		}
	}

	// 5. Bar-build & history append (close only).
	closed := e.buildBars(snapshots, now)
	if err := e.hist.Save(); err != nil {
		e.logger.Warn("save history failed", "error", err)
	}

	volMedian := e.volMedian()

	var closes []closeAction
	var candidates []decision.Candidate

	// 6. Per-pair reconcile-pending, spread/z, (re)evaluation, decision.
	for _, spec := range e.specs {
		state := e.pairs[spec.Key()]
		snapA, okA := snapshots[spec.Base]
		snapB, okB := snapshots[spec.Quote]
		if !okA || !okB {
			continue
		}

		e.reconcilePending(ctx, state, true, now, snapshots)
		e.reconcilePending(ctx, state, false, now, snapshots)

		if !closed[spec.Base] || !closed[spec.Quote] {
			continue
		}

		e.maybeEvaluate(state, now)
		if state.Beta == 0 {
			continue
		}

		logA := math.Log(snapA.Price.InexactFloat64())
		logB := math.Log(snapB.Price.InexactFloat64())
		decision.UpdateSpread(state, logA, logB, state.Beta, e.cfg.Operation.TradingPeriodSecs)
		z := decision.ZScore(state.SpreadHistory(), state.LastSpread)
		_, std := stats.MeanStd(state.SpreadHistory())

		if state.Position != nil {
			pnl := positionPnL(state.Position, snapA.Price, snapB.Price)
			reason, trigger := decision.ExitReason(decision.ExitInput{
				Now: now, EnteredAt: state.Position.EnteredAt, ForceCloseSecs: e.cfg.Operation.ForceCloseSecs,
				Z: z, StopLossZ: e.cfg.Stats.StopLossZ, ExitZ: e.cfg.Stats.ExitZ,
				RiskPctPerTrade: e.cfg.Risk.RiskPctPerTrade, MaxLossRMult: e.cfg.Risk.MaxLossRMult,
				Equity: eq, PnL: pnl, HalfLifeHours: state.HalfLifeHours, Std: std,
				FeeBps: e.cfg.Execution.FeeBps, SlippageBps: e.cfg.Execution.SlippageBps,
				EligibleNow: state.Eligible,
			})
			if trigger {
				closes = append(closes, closeAction{spec: spec, reason: reason})
			}
			continue
		}

		if state.HasActive() {
			continue
		}

		entryVol := stats.TailStd(state.SpreadHistory(), e.cfg.Stats.EntryVolWindow)
		zEntry := decision.DynamicEntryZ(entryVol, volMedian, e.cfg.Stats.EntryZBase, e.cfg.Stats.EntryZMin, e.cfg.Stats.EntryZMax)
		state.ZEntry = zEntry

		enter, direction := decision.ShouldEnter(decision.EntryInput{
			HasActivePosition: state.HasActive(), Eligible: state.Eligible, Z: z, Std: std,
			SpreadHistoryLen: len(state.SpreadHistory()), MetricsWindow: e.cfg.Stats.MetricsWindow,
			LastExitAt: state.LastExitAt, Now: now, CooldownSecs: e.cfg.Operation.CooldownSecs,
			ZEntry: zEntry, FeeBps: e.cfg.Execution.FeeBps, SlippageBps: e.cfg.Execution.SlippageBps,
			StopLossZ: e.cfg.Stats.StopLossZ,
			FundingBase: snapA.FundingRate.InexactFloat64(), FundingQuote: snapB.FundingRate.InexactFloat64(),
			NetFundingMinPerHour: e.cfg.Risk.NetFundingMinPerHour,
			SymbolsBusy:          false, // resolved at arbitration time via busySymbols
			UpcomingMaintenance:  maintenance,
		})
		if enter {
			liquidity := math.Min(snapA.BidSize.InexactFloat64(), snapA.AskSize.InexactFloat64()) +
				math.Min(snapB.BidSize.InexactFloat64(), snapB.AskSize.InexactFloat64())
			candidates = append(candidates, decision.Candidate{
				Spec: spec, Direction: direction, Score: state.Score,
				NetFundingPerHour: decision.NetFundingPerHour(z, snapA.FundingRate.InexactFloat64(), snapB.FundingRate.InexactFloat64()),
				Liquidity: liquidity, AbsZ: math.Abs(z),
			})
		}
	}

	// 7. Process Close actions.
	for _, ca := range closes {
		e.executeClose(ctx, ca, now)
	}

	// 8. Arbitrate and emit at most one Open action.
	if !maintenance {
		busy := e.busySymbols()
		if winner, ok := decision.Arbitrate(candidates, e.cfg.Risk.MaxActivePairs, busy); ok {
			e.executeOpen(ctx, winner, eq, snapshots, now)
		}
	}

	// 9. Write status snapshot if due.
	if e.statusWriter.Due(now) {
		e.writeStatus(now, eq)
	}

	return nil
}

func (e *Engine) fetchSnapshots(ctx context.Context, now time.Time) map[types.Symbol]types.SymbolSnapshot {
	out := make(map[types.Symbol]types.SymbolSnapshot, len(e.symbols))
	for _, sym := range e.symbols {
		snap, err := e.conn.Ticker(ctx, sym)
		if err != nil {
			if last, ok := e.lastSnapshotWarn[sym]; !ok || now.Sub(last) >= snapshotWarnInterval {
				e.lastSnapshotWarn[sym] = now
				e.logger.Warn("ticker fetch failed", "symbol", sym, "error", err)
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		out[sym] = snap
		if snap.MinOrder.Valid {
			e.minOrders[sym] = snap.MinOrder.Decimal
		}
		if snap.MinTick.Valid {
			e.minTicks[sym] = snap.MinTick.Decimal
		}
		if snap.SizeDecimals != nil {
			e.sizeDecimals[sym] = snap.SizeDecimals
		}
		time.Sleep(50 * time.Millisecond)
	}
	return out
}

// buildBars feeds each symbol's snapshot into its bar builder and
// reports which symbols closed a bar this tick, so callers can gate
// bar-cadence work (spread push, z-score, decisions) on both legs of a
// pair having rolled a bar together.
func (e *Engine) buildBars(snapshots map[types.Symbol]types.SymbolSnapshot, now time.Time) map[types.Symbol]bool {
	closed := make(map[types.Symbol]bool, len(snapshots))
	for sym, snap := range snapshots {
		builder, ok := e.builders[sym]
		if !ok {
			builder = bars.New(e.cfg.Operation.TradingPeriodSecs)
			e.builders[sym] = builder
		}
		closeEv, emitted := builder.Add(now.Unix(), snap.Price)
		if !emitted {
			continue
		}
		closed[sym] = true
		logPrice := math.Log(closeEv.Price.InexactFloat64())
		e.hist.Append(sym, types.PriceSample{LogPrice: logPrice, Ts: closeEv.Ts})
	}
	return closed
}

// maybeEvaluate re-runs the pair evaluator when state has never been
// evaluated or SPEC_FULL §4.3's re-evaluation triggers fire.
func (e *Engine) maybeEvaluate(state *pairstate.State, now time.Time) {
	due := state.LastEvaluated.IsZero()
	if !due {
		secsSince := now.Sub(state.LastEvaluated).Seconds()
		_, fullStd := stats.MeanStd(state.SpreadHistory())
		currentStd := stats.TailStd(state.SpreadHistory(), e.cfg.Stats.EntryVolWindow)
		due = evaluator.ReevalTriggered(secsSince, e.cfg.Stats.ReevalInterval.Seconds(),
			decision.ZScore(state.SpreadHistory(), state.LastSpread), state.ZEntry, e.cfg.Stats.ReevalJumpZMult,
			state.VelocitySigmaPerMin, e.cfg.Stats.VelMax, currentStd, fullStd, e.cfg.Stats.VolSpikeMult)
	}
	if !due {
		return
	}

	histA := e.hist.Samples(state.Spec.Base)
	histB := e.hist.Samples(state.Spec.Quote)
	result, ok := evaluator.Evaluate(histA, histB, evaluator.Params{
		LookbackHoursLong: e.cfg.Stats.LookbackHoursLong, LookbackHoursShort: e.cfg.Stats.LookbackHoursShort,
		WarmStartMode: evaluator.WarmStartMode(e.cfg.Stats.WarmStartMode), WarmStartMinBars: e.cfg.Stats.WarmStartMinBars,
		TradingPeriodSecs: e.cfg.Operation.TradingPeriodSecs, HalfLifeMaxHours: e.cfg.Stats.HalfLifeMaxHours,
		AdfPThreshold: e.cfg.Stats.AdfPThreshold,
	})
	if !ok {
		return
	}

	state.BetaShort = result.BetaShort
	state.BetaLong = result.BetaLong
	state.Beta = result.BetaEff
	state.HalfLifeHours = result.HalfLifeHours
	state.AdfPValue = result.AdfP
	state.Eligible = result.Eligible
	state.Score = result.Score
	state.LastEvaluated = now
}

func (e *Engine) volMedian() float64 {
	vols := make([]float64, 0, len(e.pairs))
	for _, state := range e.pairs {
		if len(state.SpreadHistory()) < e.cfg.Stats.EntryVolWindow {
			continue
		}
		vols = append(vols, stats.TailStd(state.SpreadHistory(), e.cfg.Stats.EntryVolWindow))
	}
	if len(vols) == 0 {
		return 0
	}
	sort.Float64s(vols)
	mid := len(vols) / 2
	if len(vols)%2 == 1 {
		return vols[mid]
	}
	return (vols[mid-1] + vols[mid]) / 2
}

func (e *Engine) busySymbols() map[types.Symbol]bool {
	busy := make(map[types.Symbol]bool)
	for _, state := range e.pairs {
		if !state.HasActive() {
			continue
		}
		for _, sym := range state.ActiveSymbols() {
			busy[sym] = true
		}
	}
	return busy
}

// positionPnL computes unrealized PnL for an open spread position: each
// leg's signed size times its price move, summed in quote terms. This is
// an engine-level bookkeeping convention (no wire format governs it) —
// see DESIGN.md open-question log.
func positionPnL(pos *types.Position, priceA, priceB decimal.Decimal) decimal.Decimal {
	signA, signB := 1, -1
	if pos.Direction != types.LongSpread {
		signA, signB = -1, 1
	}
	var pnl decimal.Decimal
	if pos.EntryPriceA.Valid && pos.EntrySizeA.Valid {
		moveA := priceA.Sub(pos.EntryPriceA.Decimal).Mul(decimal.NewFromInt(int64(signA)))
		pnl = pnl.Add(pos.EntrySizeA.Decimal.Mul(moveA))
	}
	if pos.EntryPriceB.Valid && pos.EntrySizeB.Valid {
		moveB := priceB.Sub(pos.EntryPriceB.Decimal).Mul(decimal.NewFromInt(int64(signB)))
		pnl = pnl.Add(pos.EntrySizeB.Decimal.Mul(moveB))
	}
	return pnl
}

func directionToSides(direction types.Direction) (base, quote types.OrderSide) {
	if direction == types.LongSpread {
		return types.SideBuy, types.SideSell
	}
	return types.SideSell, types.SideBuy
}

type closeAction struct {
	spec   types.PairSpec
	reason string
}

func (e *Engine) executeClose(ctx context.Context, ca closeAction, now time.Time) {
	state := e.pairs[ca.spec.Key()]
	pos := state.Position
	if pos == nil {
		return
	}

	sideA, sideB := directionToSides(pos.Direction)
	sideA, sideB = sideA.Opposite(), sideB.Opposite()
	sizeA, sizeB := decimal.Zero, decimal.Zero
	if pos.EntrySizeA.Valid {
		sizeA = pos.EntrySizeA.Decimal
	}
	if pos.EntrySizeB.Valid {
		sizeB = pos.EntrySizeB.Decimal
	}

	legA := coordinator.LegSpec{Symbol: ca.spec.Base, Side: sideA, Size: sizeA, ReduceOnly: true, SpreadTag: "exit"}
	legB := coordinator.LegSpec{Symbol: ca.spec.Quote, Side: sideB, Size: sizeB, ReduceOnly: true, SpreadTag: "exit"}

	pending, err := e.coord.PlacePairOrders(ctx, legA, legB, false, nil, nil)
	if err != nil {
		e.logger.Warn("place exit orders failed", "pair", ca.spec.Key(), "reason", ca.reason, "error", err)
	}
	if pending != nil {
		pending.Direction = pos.Direction
		pending.ExitReason = ca.reason
		state.PendingExit = pending
		state.Position = nil
	}

	e.appendPnLRecord(ca.spec, ca.reason, now)
}

func (e *Engine) executeOpen(ctx context.Context, cand decision.Candidate, eq decimal.Decimal, snapshots map[types.Symbol]types.SymbolSnapshot, now time.Time) {
	state := e.pairs[cand.Spec.Key()]
	snapA, okA := snapshots[cand.Spec.Base]
	snapB, okB := snapshots[cand.Spec.Quote]
	if !okA || !okB {
		return
	}

	notional := coordinator.LegNotional(eq, e.cfg.Risk.RiskPctPerTrade, e.cfg.Risk.MaxLeverage)
	qtyA, qtyB := coordinator.LegSizes(notional, snapA.Price, snapB.Price, state.Beta)

	stepA := coordinator.SizeStep(e.minOrders[cand.Spec.Base], e.sizeDecimals[cand.Spec.Base])
	stepB := coordinator.SizeStep(e.minOrders[cand.Spec.Quote], e.sizeDecimals[cand.Spec.Quote])
	quantA := coordinator.QuantizeSizeDown(qtyA, stepA, e.minOrders[cand.Spec.Base])
	quantB := coordinator.QuantizeSizeDown(qtyB, stepB, e.minOrders[cand.Spec.Quote])
	if quantA.IsZero() || quantB.IsZero() {
		e.logger.Warn("entry sizing rounded to zero, skipping", "pair", cand.Spec.Key())
		return
	}

	sideA, sideB := directionToSides(cand.Direction)
	useTop := coordinator.UseTopOfBook(e.cfg.Execution.SlippageBps, e.cfg.Execution.PostOnlyEnabled)
	roundUpA := coordinator.RoundUpForSide(sideA)
	roundUpB := coordinator.RoundUpForSide(sideB)

	priceA := e.referencePrice(ctx, cand.Spec.Base, sideA, snapA.Price, useTop)
	priceA = coordinator.ApplySlippage(priceA, sideA, e.cfg.Execution.SlippageBps)
	priceA = coordinator.QuantizePrice(priceA, e.minTicks[cand.Spec.Base], roundUpA)

	priceB := e.referencePrice(ctx, cand.Spec.Quote, sideB, snapB.Price, useTop)
	priceB = coordinator.ApplySlippage(priceB, sideB, e.cfg.Execution.SlippageBps)
	priceB = coordinator.QuantizePrice(priceB, e.minTicks[cand.Spec.Quote], roundUpB)

	legA := coordinator.LegSpec{Symbol: cand.Spec.Base, Side: sideA, Size: quantA, LimitPrice: decimal.NewNullDecimal(priceA), SpreadTag: "entry"}
	legB := coordinator.LegSpec{Symbol: cand.Spec.Quote, Side: sideB, Size: quantB, LimitPrice: decimal.NewNullDecimal(priceB), SpreadTag: "entry"}

	refreshA := func(ctx context.Context) (decimal.NullDecimal, error) {
		p := e.referencePrice(ctx, cand.Spec.Base, sideA, snapA.Price, true)
		p = coordinator.ApplySlippage(p, sideA, e.cfg.Execution.SlippageBps)
		return decimal.NewNullDecimal(coordinator.QuantizePrice(p, e.minTicks[cand.Spec.Base], roundUpA)), nil
	}
	refreshB := func(ctx context.Context) (decimal.NullDecimal, error) {
		p := e.referencePrice(ctx, cand.Spec.Quote, sideB, snapB.Price, true)
		p = coordinator.ApplySlippage(p, sideB, e.cfg.Execution.SlippageBps)
		return decimal.NewNullDecimal(coordinator.QuantizePrice(p, e.minTicks[cand.Spec.Quote], roundUpB)), nil
	}

	pending, err := e.coord.PlacePairOrders(ctx, legA, legB, true, refreshA, refreshB)
	if err != nil {
		e.logger.Warn("place entry orders failed", "pair", cand.Spec.Key(), "error", err)
	}
	if pending != nil {
		pending.Direction = cand.Direction
		state.PendingEntry = pending
	}
}

func (e *Engine) referencePrice(ctx context.Context, symbol types.Symbol, side types.OrderSide, last decimal.Decimal, useTop bool) decimal.Decimal {
	if !useTop {
		return last
	}
	book, err := e.conn.OrderBook(ctx, symbol)
	if err != nil {
		return last
	}
	return coordinator.ReferencePrice(side, last, book, true)
}

func (e *Engine) reconcilePending(ctx context.Context, state *pairstate.State, isEntry bool, now time.Time, snapshots map[types.Symbol]types.SymbolSnapshot) {
	var pending *types.PendingOrders
	if isEntry {
		pending = state.PendingEntry
	} else {
		pending = state.PendingExit
	}
	if pending == nil {
		return
	}

	if err := e.coord.RefreshFills(ctx, pending); err != nil {
		e.logger.Warn("refresh fills failed", "pair", state.Spec.Key(), "error", err)
		return
	}

	if pending.AllFilled() {
		if isEntry {
			e.promoteEntry(state, pending, now)
		} else {
			state.PendingExit = nil
			exitAt := now
			state.LastExitAt = &exitAt
		}
		return
	}

	if pending.AnyFilled() {
		if err := e.coord.CancelRemaining(ctx, pending); err != nil {
			e.logger.Warn("cancel remaining residual legs failed", "pair", state.Spec.Key(), "error", err)
			return
		}
		steps := e.sizeStepsFor(state.Spec)
		limits := e.refreshedLimitsFor(state.Spec, pending.Direction, isEntry, snapshots)
		next, err := e.coord.Reissue(ctx, pending, isEntry, steps, limits)
		if err != nil {
			e.logger.Warn("reissue residual legs failed", "pair", state.Spec.Key(), "error", err)
			return
		}
		if isEntry {
			state.PendingEntry = next
		} else {
			state.PendingExit = next
		}
		return
	}

	elapsed := now.Sub(pending.PlacedAt)
	if elapsed < e.cfg.Execution.OrderTimeout {
		return
	}

	flattened, err := e.coord.HandleTimeout(ctx, pending, isEntry)
	if err != nil {
		e.logger.Warn("handle pending timeout failed", "pair", state.Spec.Key(), "error", err)
		return
	}
	if flattened {
		if isEntry {
			state.PendingEntry = nil
			state.Position = nil
		} else {
			state.PendingExit = nil
			exitAt := now
			state.LastExitAt = &exitAt
		}
	}
}

func (e *Engine) promoteEntry(state *pairstate.State, pending *types.PendingOrders, now time.Time) {
	var legA, legB types.PendingLeg
	for _, leg := range pending.Legs {
		if leg.Symbol == state.Spec.Base {
			legA = leg
		} else if leg.Symbol == state.Spec.Quote {
			legB = leg
		}
	}
	state.Position = &types.Position{
		Direction:   pending.Direction,
		EnteredAt:   now,
		EntryPriceA: decimal.NewNullDecimal(legA.PlacedPrice),
		EntryPriceB: decimal.NewNullDecimal(legB.PlacedPrice),
		EntrySizeA:  decimal.NewNullDecimal(legA.FilledSize),
		EntrySizeB:  decimal.NewNullDecimal(legB.FilledSize),
	}
	state.PendingEntry = nil
}

func (e *Engine) sizeStepsFor(spec types.PairSpec) map[types.Symbol]decimal.Decimal {
	return map[types.Symbol]decimal.Decimal{
		spec.Base:  coordinator.SizeStep(e.minOrders[spec.Base], e.sizeDecimals[spec.Base]),
		spec.Quote: coordinator.SizeStep(e.minOrders[spec.Quote], e.sizeDecimals[spec.Quote]),
	}
}

func (e *Engine) refreshedLimitsFor(spec types.PairSpec, direction types.Direction, isEntry bool, snapshots map[types.Symbol]types.SymbolSnapshot) map[types.Symbol]decimal.NullDecimal {
	limits := make(map[types.Symbol]decimal.NullDecimal, 2)
	if !isEntry {
		return limits // exits always reissue as MARKET
	}
	sideA, sideB := directionToSides(direction)
	if snapA, ok := snapshots[spec.Base]; ok {
		p := coordinator.ApplySlippage(snapA.Price, sideA, e.cfg.Execution.SlippageBps)
		limits[spec.Base] = decimal.NewNullDecimal(coordinator.QuantizePrice(p, e.minTicks[spec.Base], coordinator.RoundUpForSide(sideA)))
	}
	if snapB, ok := snapshots[spec.Quote]; ok {
		p := coordinator.ApplySlippage(snapB.Price, sideB, e.cfg.Execution.SlippageBps)
		limits[spec.Quote] = decimal.NewNullDecimal(coordinator.QuantizePrice(p, e.minTicks[spec.Quote], coordinator.RoundUpForSide(sideB)))
	}
	return limits
}

func (e *Engine) appendPnLRecord(spec types.PairSpec, reason string, now time.Time) {
	record := map[string]any{"pair": spec.Key(), "reason": reason, "ts": now.Unix()}
	if err := e.pnlLog.Append(now, record); err != nil {
		e.logger.Warn("append pnl record failed", "error", err)
	}
	if err := e.pnlLog.Rotate(now); err != nil {
		e.logger.Warn("rotate pnl log failed", "error", err)
	}
}

func (e *Engine) writeStatus(now time.Time, eq decimal.Decimal) {
	baseline, err := e.baseline.RolloverIfNeeded(now, eq)
	if err != nil {
		e.logger.Warn("equity baseline rollover failed", "error", err)
		baseline = eq
	}
	dayPnL := eq.Sub(baseline)

	views := make([]snapshot.PositionView, 0, len(e.pairs))
	active := 0
	for _, state := range e.pairs {
		if state.Position == nil {
			continue
		}
		active++
		views = append(views, snapshot.PositionView{
			Pair: state.Spec.Key(), Direction: state.Position.Direction, EnteredAt: state.Position.EnteredAt,
		})
	}

	status := snapshot.Status{
		Ts: now, AgentID: e.cfg.AgentID, Venue: e.cfg.Venue.Name,
		DryRun: e.cfg.DryRun, Backtest: e.cfg.Backtest,
		PairCount: len(e.specs), ActiveCount: active,
		Positions: views, TotalPnL: dayPnL, DayPnL: dayPnL,
	}
	if err := e.statusWriter.Write(status, now); err != nil {
		e.logger.Warn("write status snapshot failed", "error", err)
	}
}
