package metrics

import (
	"math/rand"
	"sync"
	"testing"
	"time"
)

func request(scenario, rampUp string, status int, d time.Duration) RequestResult {
	return RequestResult{
		Method:   "GET",
		URL:      "http://example.test/",
		Status:   status,
		Duration: d,
		Tags:     Tags{TagScenario: scenario, TagRampUp: rampUp},
	}
}

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	if engine == nil {
		t.Fatal("NewEngine() returned nil")
	}
	defer engine.Stop()

	snapshot := engine.Snapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("Initial TotalRequests = %d, want 0", snapshot.TotalRequests)
	}
	if _, ok := engine.Query(HTTPReqDuration, nil); ok {
		t.Error("Query() on empty engine returned ok=true")
	}
}

func TestEngine_AddRequest(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.AddRequest(request("a", "false", 200, 10*time.Millisecond))
	engine.AddRequest(request("a", "false", 200, 20*time.Millisecond))
	engine.AddRequest(request("a", "false", 500, 30*time.Millisecond))

	reqs, ok := engine.Query(HTTPReqs, nil)
	if !ok {
		t.Fatal("http_reqs missing")
	}
	if reqs.Sum != 3 {
		t.Errorf("http_reqs sum = %v, want 3", reqs.Sum)
	}

	failed, _ := engine.Query(HTTPReqFailed, nil)
	if got := failed.Rate(); got < 0.333 || got > 0.334 {
		t.Errorf("http_req_failed rate = %v, want 1/3", got)
	}

	dur, _ := engine.Query(HTTPReqDuration, nil)
	if dur.Avg() != 20 {
		t.Errorf("avg = %v, want 20", dur.Avg())
	}
	if dur.Min != 10 || dur.Max != 30 {
		t.Errorf("min/max = %v/%v, want 10/30", dur.Min, dur.Max)
	}

	snap := engine.Snapshot()
	if snap.TotalRequests != 3 || snap.FailedRequests != 1 {
		t.Errorf("snapshot = %d/%d, want 3/1", snap.TotalRequests, snap.FailedRequests)
	}
}

func TestEngine_NetworkErrorIsFailure(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	r := request("a", "false", 0, time.Second)
	r.Error = "context deadline exceeded"
	engine.AddRequest(r)

	failed, ok := engine.Query(HTTPReqFailed, nil)
	if !ok || failed.Rate() != 1 {
		t.Errorf("rate = %v, want 1", failed.Rate())
	}
}

func TestEngine_SelectorFiltersStreams(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	for i := 0; i < 10; i++ {
		engine.AddRequest(request("rampUp", "true", 500, 900*time.Millisecond))
	}
	for i := 0; i < 10; i++ {
		engine.AddRequest(request("instantLoad", "false", 200, 100*time.Millisecond))
	}

	steady, ok := engine.Query(HTTPReqFailed, Tags{TagRampUp: "false"})
	if !ok {
		t.Fatal("no steady-state samples")
	}
	if steady.Rate() != 0 {
		t.Errorf("steady-state failure rate = %v, want 0", steady.Rate())
	}

	all, _ := engine.Query(HTTPReqFailed, nil)
	if all.Rate() != 0.5 {
		t.Errorf("overall failure rate = %v, want 0.5", all.Rate())
	}

	dur, _ := engine.Query(HTTPReqDuration, Tags{TagRampUp: "false"})
	if dur.Max > 100.1 {
		t.Errorf("steady-state max = %v, ramp-up samples leaked in", dur.Max)
	}

	if _, ok := engine.Query(HTTPReqDuration, Tags{TagScenario: "missing"}); ok {
		t.Error("unmatched selector returned ok=true")
	}
}

func TestSummary_PercentilesMonotonic(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		d := time.Duration(rng.ExpFloat64()*50*float64(time.Millisecond)) + time.Microsecond
		engine.AddRequest(request("a", "false", 200, d))
	}

	s, _ := engine.Query(HTTPReqDuration, nil)
	p90, p95, med := s.Percentile(90), s.Percentile(95), s.Med()

	if !(s.Max >= p95 && p95 >= p90 && p90 >= med && med >= s.Min) {
		t.Errorf("non-monotonic: min=%v med=%v p90=%v p95=%v max=%v", s.Min, med, p90, p95, s.Max)
	}
}

func TestSummary_SingleSampleClamped(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.AddRequest(request("a", "false", 200, 1234567*time.Nanosecond))

	s, _ := engine.Query(HTTPReqDuration, nil)
	if s.Percentile(99) > s.Max {
		t.Errorf("p(99) = %v exceeds max %v", s.Percentile(99), s.Max)
	}
	if s.Med() < s.Min {
		t.Errorf("med = %v below min %v", s.Med(), s.Min)
	}
}

func TestEngine_ReplayIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := make([]RequestResult, 1000)
	for i := range samples {
		status := 200
		if rng.Intn(10) == 0 {
			status = 503
		}
		samples[i] = request("a", "false", status, time.Duration(rng.Intn(500)+1)*time.Millisecond)
	}

	summarize := func() map[string]float64 {
		engine := NewEngine()
		defer engine.Stop()
		for _, s := range samples {
			engine.AddRequest(s)
		}
		dur, _ := engine.Query(HTTPReqDuration, nil)
		out := dur.TrendSummary("avg", "min", "med", "max", "p(90)", "p(95)", "p(99.9)", "count")
		failed, _ := engine.Query(HTTPReqFailed, nil)
		out["rate"] = failed.Rate()
		return out
	}

	first, second := summarize(), summarize()
	for k, v := range first {
		if second[k] != v {
			t.Errorf("%s: %v != %v", k, v, second[k])
		}
	}
}

func TestEngine_MergeIsOrderIndependent(t *testing.T) {
	a := NewEngine()
	defer a.Stop()
	b := NewEngine()
	defer b.Stop()

	x := request("x", "false", 200, 15*time.Millisecond)
	y := request("y", "false", 200, 250*time.Millisecond)
	for i := 0; i < 50; i++ {
		a.AddRequest(x)
		b.AddRequest(y)
	}
	for i := 0; i < 50; i++ {
		a.AddRequest(y)
		b.AddRequest(x)
	}

	sa, _ := a.Query(HTTPReqDuration, Tags{TagRampUp: "false"})
	sb, _ := b.Query(HTTPReqDuration, Tags{TagRampUp: "false"})
	for _, stat := range DefaultTrendStats {
		va, _ := sa.Stat(stat)
		vb, _ := sb.Stat(stat)
		if va != vb {
			t.Errorf("%s: %v != %v", stat, va, vb)
		}
	}
}

func TestEngine_ConcurrentIngestion(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				engine.AddRequest(request("a", "false", 200, time.Millisecond))
				engine.AddCheck("ok", i%2 == 0, Tags{TagScenario: "a"})
			}
		}(g)
	}
	wg.Wait()

	reqs, _ := engine.Query(HTTPReqs, nil)
	if reqs.Sum != 10000 {
		t.Errorf("http_reqs = %v, want 10000", reqs.Sum)
	}
	checks, _ := engine.Query(Checks, Tags{TagCheck: "ok"})
	if checks.Passes != 5000 || checks.Fails != 5000 {
		t.Errorf("checks = %d/%d, want 5000/5000", checks.Passes, checks.Fails)
	}
}

func TestEngine_GroupBy(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	tags := Tags{TagScenario: "a"}
	engine.AddCheck("status is 200", true, tags)
	engine.AddCheck("status is 200", false, tags)
	engine.AddCheck("has token", true, tags)

	groups := engine.GroupBy(Checks, TagCheck, nil)
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if g := groups["status is 200"]; g.Passes != 1 || g.Fails != 1 {
		t.Errorf("status is 200 = %d/%d, want 1/1", g.Passes, g.Fails)
	}
}

func TestEngine_ActiveVUsAndWindows(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	t0 := time.Now()
	engine.OpenWindow("rampUp", Tags{TagScenario: "rampUp", TagRampUp: "true"}, t0)
	engine.SetActiveVUs("rampUp", 40)
	engine.CloseWindow("rampUp", t0.Add(5*time.Second))

	engine.OpenWindow("instantLoad", Tags{TagScenario: "instantLoad", TagRampUp: "false"}, t0.Add(5*time.Second))
	engine.SetActiveVUs("rampUp", 0)
	engine.SetActiveVUs("instantLoad", 45)
	engine.CloseWindow("instantLoad", t0.Add(65*time.Second))

	if engine.PeakVUs() != 45 {
		t.Errorf("PeakVUs = %d, want 45", engine.PeakVUs())
	}

	steady := engine.Windows(Tags{TagRampUp: "false"})
	if len(steady) != 1 {
		t.Fatalf("len(steady windows) = %d, want 1", len(steady))
	}
	if steady[0].Duration() != 60*time.Second {
		t.Errorf("window duration = %v, want 60s", steady[0].Duration())
	}
	if steady[0].PeakVUs != 45 {
		t.Errorf("window peak = %d, want 45", steady[0].PeakVUs)
	}
}

func TestEngine_OpenWindowSplitsOnTagChange(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	t0 := time.Now()
	engine.OpenWindow("s", Tags{TagScenario: "s", TagRampUp: "true"}, t0)
	engine.OpenWindow("s", Tags{TagScenario: "s", TagRampUp: "true"}, t0.Add(time.Second))
	engine.OpenWindow("s", Tags{TagScenario: "s", TagRampUp: "false"}, t0.Add(2*time.Second))
	engine.CloseWindow("s", t0.Add(3*time.Second))

	w := engine.Windows(nil)
	if len(w) != 2 {
		t.Fatalf("len(windows) = %d, want 2", len(w))
	}
	if w[0].Duration() != 2*time.Second || w[1].Duration() != time.Second {
		t.Errorf("durations = %v, %v", w[0].Duration(), w[1].Duration())
	}
}

func TestBucketStore_Ring(t *testing.T) {
	store := newBucketStore(3)
	now := time.Now()
	for i := 0; i < 5; i++ {
		store.record(i%2 == 0)
		store.emit(now.Add(time.Duration(i+1)*time.Second), i, i < 2)
	}

	buckets := store.all()
	if len(buckets) != 3 {
		t.Fatalf("len = %d, want 3", len(buckets))
	}
	for i := 1; i < len(buckets); i++ {
		if !buckets[i].Timestamp.After(buckets[i-1].Timestamp) {
			t.Error("buckets not in chronological order")
		}
	}
	if buckets[2].TotalRequests != 5 {
		t.Errorf("TotalRequests = %d, want 5", buckets[2].TotalRequests)
	}

	rps, n := store.steadyStateRPS()
	if n != 3 || rps != 1 {
		t.Errorf("steadyStateRPS = %v over %d buckets, want 1 over 3", rps, n)
	}
}

func TestValidStat(t *testing.T) {
	tests := []struct {
		kind Kind
		stat string
		want bool
	}{
		{KindTrend, "p(95)", true},
		{KindTrend, "p(99.9)", true},
		{KindTrend, "med", true},
		{KindTrend, "rate", false},
		{KindRate, "rate", true},
		{KindRate, "avg", false},
		{KindCounter, "count", true},
		{KindCounter, "rate", true},
		{KindGauge, "value", true},
	}
	for _, tt := range tests {
		if got := ValidStat(tt.kind, tt.stat); got != tt.want {
			t.Errorf("ValidStat(%v, %q) = %v, want %v", tt.kind, tt.stat, got, tt.want)
		}
	}
}
