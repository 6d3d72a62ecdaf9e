package run

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/gomidaco/internal/config"
	"github.com/cwbudde/gomidaco/internal/coord"
	"github.com/cwbudde/gomidaco/internal/history"
	"github.com/cwbudde/gomidaco/internal/opt"
	"github.com/cwbudde/gomidaco/internal/problem"
	"github.com/cwbudde/gomidaco/internal/store"
)

type evaluation struct {
	X, Obj, Con []float64
}

// scriptSolver requests a fixed sequence of points, like a deterministic
// solver resumed with the same seed.
type scriptSolver struct {
	points [][]float64

	mu   sync.Mutex
	req  opt.Request
	seen []evaluation
}

func (s *scriptSolver) Solve(ctx context.Context, req opt.Request, eval opt.Callback) (opt.Result, error) {
	s.mu.Lock()
	s.req = req
	s.seen = nil
	s.mu.Unlock()

	var res opt.Result
	for _, x := range s.points {
		obj, con, err := eval(ctx, x)
		if err != nil {
			res.Status = opt.StatusStopped
			return res, err
		}
		s.mu.Lock()
		s.seen = append(s.seen, evaluation{X: x, Obj: obj, Con: con})
		s.mu.Unlock()
		res.Evals++
		res.X, res.Obj, res.Con = x, obj, con
	}
	res.Status = opt.StatusFeasible
	return res, nil
}

func points(n int) [][]float64 {
	pts := make([][]float64, n)
	for i := range pts {
		pts[i] = []float64{float64(i) - 1, 0.5 * float64(i)}
	}
	return pts
}

// counted wraps fn and counts its calls.
func counted(fn problem.ObjectiveFunc, calls *int) problem.ObjectiveFunc {
	var mu sync.Mutex
	return func(p problem.Point, args ...any) ([]float64, []float64, bool) {
		mu.Lock()
		*calls++
		mu.Unlock()
		return fn(p, args...)
	}
}

// quadratic fails for negative x0, so histories contain failed records.
func quadratic(p problem.Point, _ ...any) ([]float64, []float64, bool) {
	x0, x1 := p.X[0], p.X[1]
	return []float64{x0*x0 + x1*x1}, []float64{x0 - x1}, x0 < 0
}

func testProblem(t *testing.T, fn problem.ObjectiveFunc) *problem.Problem {
	t.Helper()
	p := problem.New("quad", fn)
	require.NoError(t, p.AddVar("x0", problem.Continuous, -5, 5, 1))
	require.NoError(t, p.AddVar("x1", problem.Continuous, -5, 5, 1))
	require.NoError(t, p.AddObj("f", 0))
	require.NoError(t, p.AddCon("g", problem.Inequality, 0))
	return p
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.RunConfig {
	c := config.Default()
	c.Print = -1
	c.Seed = 7
	return c
}

func readHistory(t *testing.T, path string) ([]history.EvaluationRecord, int64) {
	t.Helper()
	s, err := history.Open(path, history.ModeRead)
	require.NoError(t, err)
	defer s.Close()
	recs, err := s.Records()
	require.NoError(t, err)
	seed, err := s.Seed()
	require.NoError(t, err)
	return recs, seed
}

// writeRun runs the script once with a fresh history at path.
func writeRun(t *testing.T, path string, pts [][]float64) []history.EvaluationRecord {
	t.Helper()
	r := &Runner{Solver: &scriptSolver{points: pts}}
	_, err := r.Run(context.Background(), testProblem(t, quadratic), Options{
		Config: testConfig(),
		Store:  HistoryAt(path),
	})
	require.NoError(t, err)
	recs, _ := readHistory(t, path)
	require.Len(t, recs, len(pts))
	return recs
}

func TestResolveHistoryMode(t *testing.T) {
	tests := []struct {
		name      string
		store     HistoryOption
		hot       HistoryOption
		want      HistoryMode
		temp      bool
		logTarget string
	}{
		{"nothing", NoHistory(), NoHistory(), Disabled{}, false, ""},
		{"hot start without store", NoHistory(), HistoryAt("h"), Disabled{}, false, ""},
		{"store default", DefaultHistory(), NoHistory(), WriteOnly{Path: "MIDACO"}, false, "MIDACO"},
		{"store path", HistoryAt("a"), NoHistory(), WriteOnly{Path: "a"}, false, "a"},
		{"store path, hot path", HistoryAt("a"), HistoryAt("b"), ReadWrite{Source: "b", Dest: "a"}, false, "a"},
		{"same path", HistoryAt("a"), HistoryAt("a"), ReadWrite{Source: "a", Dest: "a"}, true, "a_tmp"},
		{"store path, hot flag", HistoryAt("a"), DefaultHistory(), ReadWrite{Source: "a", Dest: "a"}, true, "a_tmp"},
		{"store flag, hot path", DefaultHistory(), HistoryAt("b"), ReadWrite{Source: "b", Dest: "MIDACO"}, false, "MIDACO"},
		{"store flag, hot default name", DefaultHistory(), HistoryAt("MIDACO"), ReadWrite{Source: "MIDACO", Dest: "MIDACO"}, true, "MIDACO_tmp"},
		{"both flags", DefaultHistory(), DefaultHistory(), ReadWrite{Source: "MIDACO", Dest: "MIDACO"}, true, "MIDACO_tmp"},
		{"aliased path", HistoryAt("runs/a"), HistoryAt("runs/./a"), ReadWrite{Source: "runs/a", Dest: "runs/a"}, true, "runs/a_tmp"},
		{"aliased parent", HistoryAt("runs/a"), HistoryAt("runs/x/../a"), ReadWrite{Source: "runs/a", Dest: "runs/a"}, true, "runs/a_tmp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveHistoryMode(tt.store, tt.hot, "MIDACO")
			assert.Equal(t, tt.want, got)
			if rw, ok := got.(ReadWrite); ok {
				assert.Equal(t, tt.temp, rw.Temp())
			}
			assert.Equal(t, tt.logTarget, logPath(got))
		})
	}
}

func TestProxyGroupsPoint(t *testing.T) {
	var got problem.Grouped
	fn := func(p problem.Point, _ ...any) ([]float64, []float64, bool) {
		got = p.Groups
		return []float64{0}, nil, false
	}
	prob := problem.New("grouped", fn)
	require.NoError(t, prob.AddVarGroup("A", 2, problem.Continuous, 0, 5, 0))
	require.NoError(t, prob.AddVar("B", problem.Continuous, 0, 5, 0))
	require.NoError(t, prob.AddObj("f", 0))

	r := &Runner{Solver: &scriptSolver{points: [][]float64{{1, 2, 3}}}}
	_, err := r.Run(context.Background(), prob, Options{Config: testConfig()})
	require.NoError(t, err)

	assert.Equal(t, problem.Grouped{"A": []float64{1, 2}, "B": 3.0}, got)
}

func TestProxyPassesArgs(t *testing.T) {
	var got []any
	fn := func(p problem.Point, args ...any) ([]float64, []float64, bool) {
		got = args
		assert.Nil(t, p.Groups, "ungrouped problems get a flat point")
		return []float64{0}, []float64{0}, false
	}

	r := &Runner{Solver: &scriptSolver{points: points(1)}}
	_, err := r.Run(context.Background(), testProblem(t, fn), Options{Config: testConfig(), Args: []any{"scale", 2}})
	require.NoError(t, err)
	assert.Equal(t, []any{"scale", 2}, got)
}

func TestProxyFailureSentinel(t *testing.T) {
	fn := func(problem.Point, ...any) ([]float64, []float64, bool) {
		return []float64{3.5}, []float64{-2}, true
	}
	path := filepath.Join(t.TempDir(), "hist")
	solver := &scriptSolver{points: points(2)}
	r := &Runner{Solver: solver}

	_, err := r.Run(context.Background(), testProblem(t, fn), Options{Config: testConfig(), Store: HistoryAt(path)})
	require.NoError(t, err)

	for _, ev := range solver.seen {
		assert.Equal(t, []float64{Sentinel}, ev.Obj)
		assert.Equal(t, []float64{Sentinel}, ev.Con)
	}
	recs, _ := readHistory(t, path)
	for _, rec := range recs {
		assert.True(t, rec.Fail)
		assert.Equal(t, []float64{Sentinel}, rec.Obj)
		assert.Equal(t, []float64{Sentinel}, rec.Con)
	}
}

func TestProxyShapeMismatch(t *testing.T) {
	fn := func(problem.Point, ...any) ([]float64, []float64, bool) {
		return []float64{1, 2}, []float64{0}, false
	}
	r := &Runner{Solver: &scriptSolver{points: points(1)}}
	_, err := r.Run(context.Background(), testProblem(t, fn), Options{Config: testConfig()})

	var serr *ShapeError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "objective", serr.What)
}

func TestProxyComplexObjective(t *testing.T) {
	fn := problem.Real(func(p problem.Point, _ ...any) ([]complex128, []complex128, bool) {
		return []complex128{complex(p.X[0], 1e-20)}, []complex128{complex(p.X[1], -3)}, false
	})
	solver := &scriptSolver{points: [][]float64{{2, 4}}}
	r := &Runner{Solver: solver}

	_, err := r.Run(context.Background(), testProblem(t, fn), Options{Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, solver.seen[0].Obj)
	assert.Equal(t, []float64{4}, solver.seen[0].Con)
}

func TestReplayReproducesHistory(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "first"), filepath.Join(dir, "second")
	pts := points(4)
	want := writeRun(t, src, pts)

	calls := 0
	solver := &scriptSolver{points: pts}
	r := &Runner{Solver: solver}
	sol, err := r.Run(context.Background(), testProblem(t, counted(quadratic, &calls)), Options{
		Config:   testConfig(),
		Store:    HistoryAt(dst),
		HotStart: HistoryAt(src),
	})
	require.NoError(t, err)

	assert.Zero(t, calls, "no live evaluation while the history lasts")
	assert.Equal(t, len(pts), sol.Replayed)
	require.Len(t, solver.seen, len(want))
	for i, rec := range want {
		assert.Equal(t, rec.Obj, solver.seen[i].Obj, "obj %d", i)
		assert.Equal(t, rec.Con, solver.seen[i].Con, "con %d", i)
	}

	got, _ := readHistory(t, dst)
	assert.Equal(t, want, got)
	assert.True(t, history.Exists(src), "a distinct source is left alone")
}

func TestReplayThenLive(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "first"), filepath.Join(dir, "second")
	want := writeRun(t, src, points(2))

	var liveX [][]float64
	fn := func(p problem.Point, args ...any) ([]float64, []float64, bool) {
		liveX = append(liveX, p.X)
		return quadratic(p, args...)
	}
	pts := points(5)
	r := &Runner{Solver: &scriptSolver{points: pts}}
	sol, err := r.Run(context.Background(), testProblem(t, fn), Options{
		Config:   testConfig(),
		Store:    HistoryAt(dst),
		HotStart: HistoryAt(src),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, sol.Replayed)
	assert.Equal(t, pts[2:], liveX, "every call after the end of history is live")

	got, _ := readHistory(t, dst)
	require.Len(t, got, 5)
	assert.Equal(t, want, got[:2])
}

func TestReplayStateIsMonotonic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeRun(t, src, points(1))

	prob := testProblem(t, quadratic)
	rc := newRunContext(coord.Solo(), prob, ReadWrite{Source: src, Dest: filepath.Join(dir, "dst")}, nil, testLogger())
	rc.RunID = "monotonic"
	require.NoError(t, rc.open(prob.Name, nil))
	defer rc.Close()

	proxy := NewProxy(rc, quadratic)
	var states []ReplayState
	for _, x := range points(4) {
		_, _, err := proxy.Evaluate(context.Background(), x)
		require.NoError(t, err)
		states = append(states, rc.Replay())
	}

	assert.Equal(t, []ReplayState{
		{Active: true},
		{Active: false, Exhausted: true},
		{Active: false, Exhausted: true},
		{Active: false, Exhausted: true},
	}, states)
}

func TestSamePathHotStartSwaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hist")
	old := writeRun(t, path, points(3))
	_, oldSeed := readHistory(t, path)

	cfg := testConfig()
	cfg.Seed = 99
	r := &Runner{Solver: &scriptSolver{points: points(5)}}
	sol, err := r.Run(context.Background(), testProblem(t, quadratic), Options{
		Config:   cfg,
		Store:    HistoryAt(path),
		HotStart: HistoryAt(path),
	})
	require.NoError(t, err)
	assert.Equal(t, oldSeed, sol.Seed, "hot start reuses the recorded seed")
	assert.Equal(t, path, sol.HistoryPath)

	got, seed := readHistory(t, path)
	assert.Equal(t, oldSeed, seed)
	require.Len(t, got, 5)
	assert.Equal(t, old, got[:3])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "_tmp")
	}
}

func TestAliasedHotStartSwaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hist")
	old := writeRun(t, path, points(3))

	wd, err := os.Getwd()
	require.NoError(t, err)
	rel, err := filepath.Rel(wd, path)
	require.NoError(t, err)

	for _, alias := range []string{dir + "/./hist", rel} {
		r := &Runner{Solver: &scriptSolver{points: points(5)}}
		_, err := r.Run(context.Background(), testProblem(t, quadratic), Options{
			Config:   testConfig(),
			Store:    HistoryAt(path),
			HotStart: HistoryAt(alias),
		})
		require.NoError(t, err, alias)

		got, _ := readHistory(t, path)
		require.Len(t, got, 5, alias)
		assert.Equal(t, old, got[:3], alias)
		assert.False(t, history.Exists(history.TempPath(path)), alias)
	}
}

func TestStorageErrorAborts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hist")
	writeRun(t, path, points(3))

	info, err := os.Stat(history.DataPath(path))
	require.NoError(t, err)
	require.NoError(t, os.Truncate(history.DataPath(path), info.Size()-8))

	calls := 0
	r := &Runner{Solver: &scriptSolver{points: points(3)}}
	_, err = r.Run(context.Background(), testProblem(t, counted(quadratic, &calls)), Options{
		Config:   testConfig(),
		Store:    HistoryAt(path),
		HotStart: DefaultHistory(),
	})
	require.ErrorIs(t, err, history.ErrStorage)
	assert.Zero(t, calls, "a corrupt history never falls back to live evaluation")
	assert.False(t, history.Exists(history.TempPath(path)), "no temporary pair is left behind")
	assert.FileExists(t, history.CuePath(path), "the source pair is not touched")
}

func TestStorageErrorAbortsAllWorkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := &Runner{Solver: &scriptSolver{points: points(3)}}
	_, err := RunLocal(ctx, r, 3, testProblem(t, quadratic), Options{
		Config:   testConfig(),
		Store:    HistoryAt(path),
		HotStart: HistoryAt(path),
	})
	require.ErrorIs(t, err, history.ErrStorage)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	var abort *AbortError
	assert.ErrorAs(t, err, &abort, "workers learn the cause from the coordinator")
}

func TestTwoWorkersAgree(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	writeRun(t, src, points(3))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	comms := coord.NewLocalGroup(2)
	solvers := []*scriptSolver{{points: points(6)}, {points: points(6)}}
	solutions := make([]*store.Solution, 2)
	calls := make([]int, 2)
	probs := []*problem.Problem{
		testProblem(t, counted(quadratic, &calls[0])),
		testProblem(t, counted(quadratic, &calls[1])),
	}

	var wg sync.WaitGroup
	for rank := range comms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := &Runner{Solver: solvers[rank], Logger: testLogger()}
			sol, err := r.Run(ctx, probs[rank], Options{
				Config:   testConfig(),
				Store:    HistoryAt(dst),
				HotStart: HistoryAt(src),
				Comm:     comms[rank],
			})
			assert.NoError(t, err, "rank %d", rank)
			solutions[rank] = sol
		}()
	}
	wg.Wait()

	require.NotNil(t, solutions[0])
	require.NotNil(t, solutions[1])
	assert.Equal(t, solvers[0].seen, solvers[1].seen, "identical results at every call index")
	assert.Equal(t, 3, solutions[0].Replayed)
	assert.Equal(t, solutions[0].Replayed, solutions[1].Replayed, "identical replay decisions")
	assert.Equal(t, []int{3, 3}, calls, "both workers evaluate live after the history")
	assert.Equal(t, solutions[0].RunID, solutions[1].RunID)
	assert.Equal(t, solutions[0].Seed, solutions[1].Seed)

	assert.Zero(t, solvers[1].req.MaxTime, "only the coordinator enforces the time budget")
	got, _ := readHistory(t, dst)
	assert.Len(t, got, 6, "only the coordinator logs")
}

func TestCoordinatorStopsWorkers(t *testing.T) {
	// The coordinator's solver stops early, as it would on its time budget.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	comms := coord.NewLocalGroup(2)
	solvers := []*scriptSolver{{points: points(2)}, {points: points(5)}}
	errs := make([]error, 2)
	prob := testProblem(t, quadratic)

	var wg sync.WaitGroup
	for rank := range comms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := &Runner{Solver: solvers[rank], Logger: testLogger()}
			_, errs[rank] = r.Run(ctx, prob, Options{Config: testConfig(), Comm: comms[rank]})
		}()
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Len(t, solvers[1].seen, 2)
}

func TestRunLocal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "hist")
	calls := 0
	r := &Runner{Solver: &scriptSolver{points: points(4)}}
	sol, err := RunLocal(ctx, r, 3, testProblem(t, counted(quadratic, &calls)), Options{
		Config: testConfig(),
		Store:  HistoryAt(path),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, sol.Evals)
	assert.Equal(t, 12, calls, "every worker evaluates live")

	got, _ := readHistory(t, path)
	assert.Len(t, got, 4)
}

func TestSeedSelection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist")

	cfg := testConfig()
	cfg.Seed = 1234
	r := &Runner{Solver: &scriptSolver{points: points(1)}}
	sol, err := r.Run(context.Background(), testProblem(t, quadratic), Options{Config: cfg, Store: HistoryAt(path)})
	require.NoError(t, err)
	assert.Equal(t, int64(1234), sol.Seed)
	_, seed := readHistory(t, path)
	assert.Equal(t, int64(1234), seed, "the seed is logged")

	cfg.Seed = -1
	fixed := time.Unix(1700000000, 0)
	r = &Runner{Solver: &scriptSolver{points: points(1)}, now: func() time.Time { return fixed }}
	sol, err = r.Run(context.Background(), testProblem(t, quadratic), Options{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, fixed.Unix(), sol.Seed)
}

func TestRunMetrics(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "src"), filepath.Join(dir, "dst")
	writeRun(t, src, points(2))

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := &Runner{Solver: &scriptSolver{points: points(5)}, Metrics: m}
	_, err := r.Run(context.Background(), testProblem(t, quadratic), Options{
		Config:   testConfig(),
		Store:    HistoryAt(dst),
		HotStart: HistoryAt(src),
	})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.evaluations.WithLabelValues(sourceReplay)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.evaluations.WithLabelValues(sourceLive)))
	// points(5) has x0 = -1 at index 0 only
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.replayActive))
}

func TestRunOutputFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "RUN.out")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0644))

	cfg := testConfig()
	cfg.Print = 0
	cfg.File = out
	var screen strings.Builder
	r := &Runner{Solver: &scriptSolver{points: points(1)}, Stdout: &screen}
	_, err := r.Run(context.Background(), testProblem(t, quadratic), Options{Config: cfg})
	require.NoError(t, err)
	assert.NoFileExists(t, out, "IPRINT 0 removes a stale output file")

	cfg.Print = 1
	solver := &printingSolver{}
	r = &Runner{Solver: solver}
	_, err = r.Run(context.Background(), testProblem(t, quadratic), Options{Config: cfg})
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "solver output\n", string(data))
}

func TestRunScreenUnit(t *testing.T) {
	tests := []struct {
		unit       int
		wantStdout string
		wantStderr string
	}{
		{config.StdoutUnit, "solver output\n", ""},
		{config.StderrUnit, "", "solver output\n"},
	}

	for _, tt := range tests {
		cfg := testConfig()
		cfg.Print = 0
		cfg.Unit = tt.unit
		cfg.File = filepath.Join(t.TempDir(), "RUN.out")

		var stdout, stderr strings.Builder
		r := &Runner{Solver: &printingSolver{}, Stdout: &stdout, Stderr: &stderr}
		_, err := r.Run(context.Background(), testProblem(t, quadratic), Options{Config: cfg})
		require.NoError(t, err)
		assert.Equal(t, tt.wantStdout, stdout.String(), "IOUT=%d stdout", tt.unit)
		assert.Equal(t, tt.wantStderr, stderr.String(), "IOUT=%d stderr", tt.unit)
		assert.NoFileExists(t, cfg.File)
	}
}

type printingSolver struct{}

func (printingSolver) Solve(ctx context.Context, req opt.Request, eval opt.Callback) (opt.Result, error) {
	if req.Out != nil {
		req.Out.Write([]byte("solver output\n"))
	}
	obj, con, err := eval(ctx, req.X0)
	return opt.Result{Evals: 1, X: req.X0, Obj: obj, Con: con}, err
}

func TestRunSavesSolution(t *testing.T) {
	fs, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)

	r := &Runner{Solver: &scriptSolver{points: [][]float64{{3, 0}, {1, 1}, {2, 2}}}, Solutions: fs}
	sol, err := r.Run(context.Background(), testProblem(t, quadratic), Options{Config: testConfig()})
	require.NoError(t, err)

	loaded, err := fs.LoadSolution(sol.RunID)
	require.NoError(t, err)
	assert.Equal(t, "quad", loaded.Problem)
	assert.Equal(t, 3, loaded.Evals)
	assert.Equal(t, []string{"x0", "x1"}, []string{loaded.Variables[0].Name, loaded.Variables[1].Name})
	assert.Equal(t, 8.0, loaded.Objectives[0].Value)

	entries, err := fs.LoadTrace(sol.RunID)
	require.NoError(t, err)
	require.Len(t, entries, 2, "one entry per improvement")
	assert.Equal(t, 1, entries[0].Eval)
	assert.Equal(t, 9.0, entries[0].Cost)
	assert.Equal(t, 2, entries[1].Eval)
	assert.Equal(t, 2.0, entries[1].Cost)
	assert.Equal(t, []float64{1, 1}, entries[1].Params)
}
