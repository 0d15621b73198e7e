package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"statarbitrage/internal/lifecycle"
	"statarbitrage/internal/models"
	"statarbitrage/internal/portfolio"
	"statarbitrage/internal/screening"
	"statarbitrage/pkg/utils"
)

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "error"})
}

// ============ Моки зависимостей планировщика ============

type fakeSettings struct {
	settings models.Settings
	err      error
}

func (f *fakeSettings) Get(_ context.Context) (models.Settings, error) {
	return f.settings, f.err
}

type fakePairs struct {
	created     []*models.Pair
	createErr   map[string]error
	byStatus    map[string][]*models.Pair
	counts      map[string]int
	active      []string
	stalePurged int64
}

func (f *fakePairs) Create(_ context.Context, pair *models.Pair) error {
	if err := f.createErr[pair.PairName]; err != nil {
		return err
	}
	f.created = append(f.created, pair)
	return nil
}

func (f *fakePairs) GetByStatus(_ context.Context, status string) ([]*models.Pair, error) {
	return f.byStatus[status], nil
}

func (f *fakePairs) CountByStatus(_ context.Context, status string) (int, error) {
	return f.counts[status], nil
}

func (f *fakePairs) ActiveTickers(_ context.Context) ([]string, error) {
	return f.active, nil
}

func (f *fakePairs) DeleteStaleSelected(_ context.Context, _ time.Duration) (int64, error) {
	return f.stalePurged, nil
}

type fakeScreener struct {
	lastReq screening.Request
	result  *screening.Result
	err     error
	calls   int
}

func (f *fakeScreener) Screen(_ context.Context, req screening.Request) (*screening.Result, error) {
	f.calls++
	f.lastReq = req
	return f.result, f.err
}

type fakeEngine struct {
	promoted   []string
	promoteErr map[string]error
	updated    []string
	updateErr  map[string]error
	refreshed  []string
	refreshErr map[string]error
	closeAs    map[string]string // пара -> причина выхода, выставляемая при обновлении
}

func (f *fakeEngine) Promote(_ context.Context, pair *models.Pair, _ models.Settings) error {
	if err := f.promoteErr[pair.PairName]; err != nil {
		return err
	}
	f.promoted = append(f.promoted, pair.PairName)
	return nil
}

func (f *fakeEngine) RefreshObserved(_ context.Context, pair *models.Pair, _ models.Settings) error {
	if err := f.refreshErr[pair.PairName]; err != nil {
		return err
	}
	f.refreshed = append(f.refreshed, pair.PairName)
	return nil
}

func (f *fakeEngine) UpdateTrade(_ context.Context, pair *models.Pair, _ models.Settings) error {
	if err := f.updateErr[pair.PairName]; err != nil {
		return err
	}
	f.updated = append(f.updated, pair.PairName)
	if reason, ok := f.closeAs[pair.PairName]; ok {
		pair.Status = models.PairStatusClosed
		pair.ExitReason = reason
	}
	return nil
}

type fakeTrading struct {
	priceCalls   int
	priceErr     error
	portfolio    models.Portfolio
	portfolioErr error
}

func (f *fakeTrading) UpdatePositionPrices(_ context.Context) error {
	f.priceCalls++
	return f.priceErr
}

func (f *fakeTrading) Portfolio(_ context.Context) (models.Portfolio, error) {
	return f.portfolio, f.portfolioErr
}

type fakeSnapshots struct {
	saved []models.Portfolio
}

func (f *fakeSnapshots) SaveSnapshot(_ context.Context, p models.Portfolio) error {
	f.saved = append(f.saved, p)
	return nil
}

type fixture struct {
	scheduler *Scheduler
	settings  *fakeSettings
	pairs     *fakePairs
	screener  *fakeScreener
	engine    *fakeEngine
	trading   *fakeTrading
	snapshots *fakeSnapshots
}

func newFixture() *fixture {
	f := &fixture{
		settings: &fakeSettings{settings: models.DefaultSettings()},
		pairs: &fakePairs{
			createErr: map[string]error{},
			byStatus:  map[string][]*models.Pair{},
			counts:    map[string]int{},
		},
		screener: &fakeScreener{},
		engine: &fakeEngine{
			promoteErr: map[string]error{},
			updateErr:  map[string]error{},
			refreshErr: map[string]error{},
			closeAs:    map[string]string{},
		},
		trading: &fakeTrading{
			portfolio: models.Portfolio{TotalBalance: decimal.NewFromInt(1000)},
		},
		snapshots: &fakeSnapshots{},
	}
	f.scheduler = New(DefaultConfig(), f.settings, f.pairs, f.screener,
		f.engine, f.trading, f.snapshots, testLogger())
	return f
}

func candidate(long, short string, score float64) models.CandidateSnapshot {
	return models.CandidateSnapshot{
		LongTicker:   long,
		ShortTicker:  short,
		LatestZScore: 2.5,
		Score:        score,
		History:      []models.ZScorePoint{{ZScore: 2.5}},
	}
}

// ============ Невозвратность тиков ============

func TestTick_SkipsWhenPreviousRunning(t *testing.T) {
	f := newFixture()
	f.scheduler.updateRunning.Store(true)

	calls := 0
	f.scheduler.tick(context.Background(), kindUpdate, &f.scheduler.updateRunning,
		func(context.Context) error { calls++; return nil })

	if calls != 0 {
		t.Error("цикл запустился поверх идущего")
	}
	if !f.scheduler.updateRunning.Load() {
		t.Error("чужой флаг сброшен")
	}
}

func TestTick_RunsAndReleasesFlag(t *testing.T) {
	f := newFixture()

	calls := 0
	f.scheduler.tick(context.Background(), kindUpdate, &f.scheduler.updateRunning,
		func(context.Context) error { calls++; return nil })

	if calls != 1 {
		t.Errorf("цикл вызван %d раз", calls)
	}
	if f.scheduler.updateRunning.Load() {
		t.Error("флаг не снят после завершения")
	}
}

func TestTick_ReleasesFlagOnError(t *testing.T) {
	f := newFixture()

	f.scheduler.tick(context.Background(), kindUpdate, &f.scheduler.updateRunning,
		func(context.Context) error { return errors.New("boom") })

	if f.scheduler.updateRunning.Load() {
		t.Error("флаг не снят после ошибки цикла")
	}
}

// ============ Update цикл ============

func TestUpdateCycle_SettingsErrorAborts(t *testing.T) {
	f := newFixture()
	f.settings.err = errors.New("db down")

	if err := f.scheduler.UpdateCycle(context.Background()); err == nil {
		t.Fatal("цикл должен прерываться без настроек")
	}
	if f.trading.priceCalls != 0 {
		t.Error("цены не должны обновляться без настроек")
	}
}

func TestUpdateCycle_PerPairIsolation(t *testing.T) {
	f := newFixture()
	f.pairs.byStatus[models.PairStatusTrading] = []*models.Pair{
		{PairName: "AAA/BBB", Status: models.PairStatusTrading},
		{PairName: "CCC/DDD", Status: models.PairStatusTrading},
		{PairName: "EEE/FFF", Status: models.PairStatusTrading},
	}
	f.engine.updateErr["CCC/DDD"] = errors.New("stats timeout")

	if err := f.scheduler.UpdateCycle(context.Background()); err != nil {
		t.Fatalf("ошибка одной пары не должна ронять цикл: %v", err)
	}
	if len(f.engine.updated) != 2 {
		t.Errorf("обновлено пар: %d, ожидалось 2", len(f.engine.updated))
	}
}

func TestUpdateCycle_PriceFailureNotFatal(t *testing.T) {
	f := newFixture()
	f.trading.priceErr = errors.New("feed down")
	f.pairs.byStatus[models.PairStatusTrading] = []*models.Pair{
		{PairName: "AAA/BBB", Status: models.PairStatusTrading},
	}

	if err := f.scheduler.UpdateCycle(context.Background()); err != nil {
		t.Fatalf("недоступность цен не должна прерывать обход: %v", err)
	}
	if len(f.engine.updated) != 1 {
		t.Error("пара не обновлена")
	}
}

func TestUpdateCycle_RefreshesObserved(t *testing.T) {
	f := newFixture()
	f.pairs.byStatus[models.PairStatusObserved] = []*models.Pair{
		{PairName: "AAA/BBB", Status: models.PairStatusObserved},
		{PairName: "CCC/DDD", Status: models.PairStatusObserved},
	}
	f.engine.refreshErr["AAA/BBB"] = errors.New("stats timeout")

	if err := f.scheduler.UpdateCycle(context.Background()); err != nil {
		t.Fatalf("ошибка переоценки не должна ронять цикл: %v", err)
	}
	if len(f.engine.refreshed) != 1 || f.engine.refreshed[0] != "CCC/DDD" {
		t.Errorf("refreshed = %v, ожидалась CCC/DDD", f.engine.refreshed)
	}
}

// ============ Maintain цикл ============

func TestMaintainCycle_AutoTradingDisabled(t *testing.T) {
	f := newFixture()
	f.settings.settings.AutoTradingEnabled = false

	if err := f.scheduler.MaintainCycle(context.Background()); err != nil {
		t.Fatalf("MaintainCycle: %v", err)
	}
	if f.screener.calls != 0 {
		t.Error("скрининг не должен запускаться при выключенной автоторговле")
	}
	// снимок портфеля пишется даже при выключенной торговле
	if len(f.snapshots.saved) != 1 {
		t.Errorf("снимков сохранено: %d, ожидался 1", len(f.snapshots.saved))
	}
}

func TestMaintainCycle_NoMissingPairs(t *testing.T) {
	f := newFixture()
	f.settings.settings.AutoTradingEnabled = true
	f.settings.settings.UsePairs = 3
	f.pairs.counts[models.PairStatusTrading] = 3

	if err := f.scheduler.MaintainCycle(context.Background()); err != nil {
		t.Fatalf("MaintainCycle: %v", err)
	}
	if f.screener.calls != 0 {
		t.Error("комплект полон, скрининг не нужен")
	}
	if len(f.snapshots.saved) != 1 {
		t.Error("снимок портфеля не сохранен")
	}
}

func TestMaintainCycle_FillsMissingPairs(t *testing.T) {
	f := newFixture()
	f.settings.settings.AutoTradingEnabled = true
	f.settings.settings.UsePairs = 5
	f.pairs.counts[models.PairStatusTrading] = 3
	f.pairs.active = []string{"AAA", "BBB"}

	stats := models.NewFilterStats()
	stats.Pass()
	stats.Pass()
	f.screener.result = &screening.Result{
		Candidates: []models.CandidateSnapshot{
			candidate("CCC", "DDD", 80),
			candidate("EEE", "FFF", 70),
		},
		Stats: stats,
	}

	if err := f.scheduler.MaintainCycle(context.Background()); err != nil {
		t.Fatalf("MaintainCycle: %v", err)
	}

	if f.screener.lastReq.Limit != 2 {
		t.Errorf("limit = %d, ожидалось missing=2", f.screener.lastReq.Limit)
	}
	if len(f.screener.lastReq.ExcludeTickers) != 2 {
		t.Errorf("exclude = %v, ожидались активные тикеры", f.screener.lastReq.ExcludeTickers)
	}
	if len(f.pairs.created) != 2 {
		t.Errorf("создано пар: %d, ожидалось 2", len(f.pairs.created))
	}
	if len(f.engine.promoted) != 2 {
		t.Errorf("промоутнуто пар: %d, ожидалось 2", len(f.engine.promoted))
	}
	if len(f.snapshots.saved) != 1 {
		t.Error("снимок портфеля не сохранен")
	}
}

func TestMaintainCycle_StaleCandidateTolerated(t *testing.T) {
	f := newFixture()
	f.settings.settings.AutoTradingEnabled = true
	f.settings.settings.UsePairs = 2
	f.pairs.counts[models.PairStatusTrading] = 0

	f.screener.result = &screening.Result{
		Candidates: []models.CandidateSnapshot{
			candidate("AAA", "BBB", 90),
			candidate("CCC", "DDD", 80),
		},
		Stats: models.NewFilterStats(),
	}
	f.engine.promoteErr["AAA/BBB"] = lifecycle.ErrCandidateStale

	if err := f.scheduler.MaintainCycle(context.Background()); err != nil {
		t.Fatalf("протухший кандидат не должен ронять цикл: %v", err)
	}
	if len(f.engine.promoted) != 1 || f.engine.promoted[0] != "CCC/DDD" {
		t.Errorf("promoted = %v, ожидалась только CCC/DDD", f.engine.promoted)
	}
}

func TestMaintainCycle_PromotesPersistedSelected(t *testing.T) {
	// кандидаты, вернувшиеся из наблюдения, идут в дело раньше скрининга
	f := newFixture()
	f.settings.settings.AutoTradingEnabled = true
	f.settings.settings.UsePairs = 2
	f.pairs.counts[models.PairStatusTrading] = 1
	f.pairs.byStatus[models.PairStatusSelected] = []*models.Pair{
		{PairName: "AAA/BBB", Status: models.PairStatusSelected},
	}

	if err := f.scheduler.MaintainCycle(context.Background()); err != nil {
		t.Fatalf("MaintainCycle: %v", err)
	}
	if len(f.engine.promoted) != 1 || f.engine.promoted[0] != "AAA/BBB" {
		t.Errorf("promoted = %v, ожидалась AAA/BBB", f.engine.promoted)
	}
	if f.screener.calls != 0 {
		t.Error("комплект добран из БД, скрининг не нужен")
	}
	if len(f.snapshots.saved) != 1 {
		t.Error("снимок портфеля не сохранен")
	}
}

func TestMaintainCycle_InsufficientBalanceTolerated(t *testing.T) {
	// нехватка маржи увела пару под наблюдение - цикл идет дальше
	f := newFixture()
	f.settings.settings.AutoTradingEnabled = true
	f.settings.settings.UsePairs = 2
	f.pairs.counts[models.PairStatusTrading] = 0

	f.screener.result = &screening.Result{
		Candidates: []models.CandidateSnapshot{
			candidate("AAA", "BBB", 90),
			candidate("CCC", "DDD", 80),
		},
		Stats: models.NewFilterStats(),
	}
	f.engine.promoteErr["AAA/BBB"] = portfolio.ErrInsufficientBalance

	if err := f.scheduler.MaintainCycle(context.Background()); err != nil {
		t.Fatalf("нехватка маржи не должна ронять цикл: %v", err)
	}
	if len(f.engine.promoted) != 1 || f.engine.promoted[0] != "CCC/DDD" {
		t.Errorf("promoted = %v, ожидалась только CCC/DDD", f.engine.promoted)
	}
}

func TestMaintainCycle_CreateFailureSkipsPromote(t *testing.T) {
	f := newFixture()
	f.settings.settings.AutoTradingEnabled = true
	f.settings.settings.UsePairs = 1
	f.pairs.counts[models.PairStatusTrading] = 0

	f.screener.result = &screening.Result{
		Candidates: []models.CandidateSnapshot{candidate("AAA", "BBB", 90)},
		Stats:      models.NewFilterStats(),
	}
	f.pairs.createErr["AAA/BBB"] = errors.New("duplicate")

	if err := f.scheduler.MaintainCycle(context.Background()); err != nil {
		t.Fatalf("MaintainCycle: %v", err)
	}
	if len(f.engine.promoted) != 0 {
		t.Error("несохраненная пара не должна промоутиться")
	}
}

func TestMaintainCycle_ScreenerErrorAborts(t *testing.T) {
	f := newFixture()
	f.settings.settings.AutoTradingEnabled = true
	f.settings.settings.UsePairs = 2
	f.screener.err = errors.New("stats engine down")

	if err := f.scheduler.MaintainCycle(context.Background()); err == nil {
		t.Fatal("ошибка скрининга должна прерывать maintain")
	}
}

func TestWaitForUpdate_ProceedsWhenIdle(t *testing.T) {
	f := newFixture()

	start := time.Now()
	if err := f.scheduler.waitForUpdate(context.Background()); err != nil {
		t.Fatalf("waitForUpdate: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("ожидание при свободном update-цикле")
	}
}

func TestWaitForUpdate_WaitsForCompletion(t *testing.T) {
	f := newFixture()
	f.scheduler.updateRunning.Store(true)

	go func() {
		time.Sleep(700 * time.Millisecond)
		f.scheduler.updateRunning.Store(false)
	}()

	if err := f.scheduler.waitForUpdate(context.Background()); err != nil {
		t.Fatalf("waitForUpdate: %v", err)
	}
}

func TestConfigValidate_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.validate()
	if cfg.UpdateInterval != time.Minute {
		t.Errorf("UpdateInterval = %v", cfg.UpdateInterval)
	}
	if cfg.MaintainInterval != 5*time.Minute {
		t.Errorf("MaintainInterval = %v", cfg.MaintainInterval)
	}
	if cfg.MaintainWait != 60*time.Second {
		t.Errorf("MaintainWait = %v", cfg.MaintainWait)
	}
}
