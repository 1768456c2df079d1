package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/histree-io/histree/pkg/client"
)

// RunScenario drives the scenario's agents against a live daemon at apiURL
// and returns the collected stats with invariants evaluated.
func RunScenario(s Scenario, apiURL string) SimulationResult {
	if s.Seed == 0 {
		s.Seed = time.Now().UnixNano()
	}
	if len(s.Files) == 0 {
		s.Files = []string{"default"}
	}

	slog.Info("running scenario", "name", s.Name, "seed", s.Seed, "duration", s.Duration)

	ctx, cancel := context.WithTimeout(context.Background(), s.Duration)
	defer cancel()

	res := SimulationResult{
		ScenarioName: s.Name,
		Duration:     s.Duration,
		AgentStats:   make(map[string]*AgentStats),
	}

	// Initialize Stats Map
	var statsMutex sync.Mutex
	getAgentStats := func(name string) *AgentStats {
		statsMutex.Lock()
		defer statsMutex.Unlock()
		if _, ok := res.AgentStats[name]; !ok {
			res.AgentStats[name] = &AgentStats{}
		}
		return res.AgentStats[name]
	}

	cli := client.NewClient(apiURL)

	// Start Agents
	var wg sync.WaitGroup
	for agentIdx, agentCfg := range s.Agents {
		for i := 0; i < agentCfg.Count; i++ {
			wg.Add(1)
			agentID := fmt.Sprintf("%s-%d", agentCfg.Name, i)
			agentSeed := s.Seed + int64(agentIdx*1000) + int64(i)
			fileID := agentCfg.FileID
			if fileID == "" {
				fileID = s.Files[(agentIdx+i)%len(s.Files)]
			}
			stats := getAgentStats(agentCfg.Name) // Group stats by agent config name

			go func(cfg AgentConfig, aID, fID string, seed int64, st *AgentStats) {
				defer wg.Done()
				runAgent(ctx, cli, aID, fID, cfg, seed, &res, st)
			}(agentCfg, agentID, fileID, agentSeed, stats)
		}
	}

	wg.Wait()

	drainRemaining(cli, s.Files, &res, getAgentStats("drain"))

	// Evaluate Invariants
	evaluateInvariants(&res, s.Invariants)

	// Determine overall success
	res.Success = true
	for _, inv := range res.Invariants {
		if !inv.Passed {
			res.Success = false
			break
		}
	}

	return res
}

func runAgent(ctx context.Context, cli *client.Client, agentID, fileID string, cfg AgentConfig, seed int64, global *SimulationResult, stats *AgentStats) {
	rng := rand.New(rand.NewSource(seed))

	// track records one completed action; returns false if it errored.
	track := func(err error) bool {
		if err != nil && ctx.Err() != nil {
			// The scenario clock expired mid-request. Not a failure of
			// the system under test, so it counts toward nothing.
			return false
		}
		atomic.AddUint64(&global.TotalRequests, 1)
		atomic.AddUint64(&stats.Requests, 1)
		if err != nil {
			atomic.AddUint64(&global.TotalErrors, 1)
			atomic.AddUint64(&stats.Errors, 1)
			return false
		}
		return true
	}

	var action func()
	switch cfg.Role {
	case RoleNavigator:
		action = func() {
			g, err := cli.Graph(ctx, fileID)
			if !track(err) {
				return
			}
			ids := make([]string, 0, len(g.Nodes))
			for id := range g.Nodes {
				ids = append(ids, id)
			}
			if len(ids) == 0 {
				return
			}
			sort.Strings(ids) // deterministic pick under a fixed seed
			target := ids[rng.Intn(len(ids))]
			_, err = cli.Navigate(ctx, fileID, g.CurrentNodeID, target)
			if !track(err) {
				return
			}
			atomic.AddUint64(&global.TotalNavigated, 1)
			atomic.AddUint64(&stats.Navigated, 1)
		}
	case RoleEditor:
		action = func() {
			changes, err := cli.Changes(ctx, fileID)
			if !track(err) {
				return
			}
			if len(changes) == 0 {
				return
			}
			ids := make([]string, len(changes))
			for i, ch := range changes {
				ids[i] = ch.NodeID
			}
			_, err = cli.Ack(ctx, fileID, ids)
			if !track(err) {
				return
			}
			atomic.AddUint64(&global.TotalApplied, uint64(len(changes)))
			atomic.AddUint64(&stats.Applied, uint64(len(changes)))
			atomic.AddUint64(&global.TotalAcked, uint64(len(changes)))
			atomic.AddUint64(&stats.Acked, uint64(len(changes)))
		}
	case RoleAuthor:
		fallthrough
	default:
		// Authors chain creates off their own last node, so a navigator
		// moving the shared pointer makes them fork branches organically.
		parent := ""
		seq := 0
		action = func() {
			if parent == "" {
				g, err := cli.Graph(ctx, fileID)
				if !track(err) {
					return
				}
				parent = g.CurrentNodeID
			}
			seq++
			delta := json.RawMessage(fmt.Sprintf(`{"op":"insert","author":%q,"seq":%d,"len":%d}`, agentID, seq, rng.Intn(80)+1))
			nodeID, err := cli.CreateNode(ctx, fileID, parent, delta)
			if !track(err) {
				parent = "" // re-fetch the pointer next round
				return
			}
			parent = nodeID
			atomic.AddUint64(&global.TotalCreated, 1)
			atomic.AddUint64(&stats.Created, 1)
		}
	}

	// Behavior Loop
	switch cfg.Behavior {
	case BehaviorGreedy:
		for {
			select {
			case <-ctx.Done():
				return
			default:
				action()
			}
		}
	case BehaviorPoisson:
		lambda := float64(cfg.Rate)
		if lambda <= 0 {
			lambda = 1
		}
		for {
			select {
			case <-ctx.Done():
				return
			default:
				interval := -math.Log(rng.Float64()) / lambda
				time.Sleep(time.Duration(interval * float64(time.Second)))
				action()
			}
		}
	case BehaviorBursty:
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for k := 0; k < cfg.Burst; k++ {
					action()
				}
			}
		}
	case BehaviorPeriodic:
		fallthrough
	default:
		rate := cfg.Rate
		if rate <= 0 {
			rate = 1
		}
		interval := time.Second / time.Duration(rate)
		if interval == 0 {
			interval = time.Millisecond * 10
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if cfg.Jitter > 0 {
					time.Sleep(time.Duration(rng.Int63n(int64(cfg.Jitter))))
				}
				action()
			}
		}
	}
}

// drainRemaining gives outstanding change queues a bounded sweep after the
// agents stop: poll, acknowledge, repeat until each file reports empty.
// PendingRemaining is measured after the sweep, so a "pending_remaining == 0"
// invariant asserts that delivery and acknowledgement can reach empty, not
// that the clock happened to run out at a quiet moment. The sweep runs in
// several passes because a request aborted at the scenario deadline can
// still land server-side while the first pass is underway.
func drainRemaining(cli *client.Client, files []string, res *SimulationResult, st *AgentStats) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var remaining uint64
	for pass := 0; pass < 5; pass++ {
		for _, fileID := range files {
			for {
				changes, err := cli.Changes(ctx, fileID)
				atomic.AddUint64(&res.TotalRequests, 1)
				atomic.AddUint64(&st.Requests, 1)
				if err != nil {
					atomic.AddUint64(&res.TotalErrors, 1)
					atomic.AddUint64(&st.Errors, 1)
					break
				}
				if len(changes) == 0 {
					break
				}
				ids := make([]string, len(changes))
				for i, ch := range changes {
					ids[i] = ch.NodeID
				}
				left, err := cli.Ack(ctx, fileID, ids)
				atomic.AddUint64(&res.TotalRequests, 1)
				atomic.AddUint64(&st.Requests, 1)
				if err != nil {
					atomic.AddUint64(&res.TotalErrors, 1)
					atomic.AddUint64(&st.Errors, 1)
					break
				}
				atomic.AddUint64(&res.TotalApplied, uint64(len(changes)))
				atomic.AddUint64(&st.Applied, uint64(len(changes)))
				atomic.AddUint64(&res.TotalAcked, uint64(len(changes)))
				atomic.AddUint64(&st.Acked, uint64(len(changes)))
				if left == 0 {
					break
				}
			}
		}

		remaining = 0
		for _, fileID := range files {
			changes, err := cli.Changes(ctx, fileID)
			if err != nil {
				continue
			}
			remaining += uint64(len(changes))
		}
		if remaining == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	atomic.StoreUint64(&res.PendingRemaining, remaining)
}

func evaluateInvariants(res *SimulationResult, invariants []Invariant) {
	for _, inv := range invariants {
		var actual float64
		var passed bool

		// Determine the stats snapshot based on scope
		var stats *AgentStats
		if inv.Scope == "global" || inv.Scope == "" {
			stats = &AgentStats{
				Requests:  atomic.LoadUint64(&res.TotalRequests),
				Created:   atomic.LoadUint64(&res.TotalCreated),
				Navigated: atomic.LoadUint64(&res.TotalNavigated),
				Applied:   atomic.LoadUint64(&res.TotalApplied),
				Acked:     atomic.LoadUint64(&res.TotalAcked),
				Errors:    atomic.LoadUint64(&res.TotalErrors),
			}
		} else {
			if s, ok := res.AgentStats[inv.Scope]; ok {
				// Read the atomic values out of the pointers in the map
				stats = &AgentStats{
					Requests:  atomic.LoadUint64(&s.Requests),
					Created:   atomic.LoadUint64(&s.Created),
					Navigated: atomic.LoadUint64(&s.Navigated),
					Applied:   atomic.LoadUint64(&s.Applied),
					Acked:     atomic.LoadUint64(&s.Acked),
					Errors:    atomic.LoadUint64(&s.Errors),
				}
			} else {
				// Agent not found
				res.Invariants = append(res.Invariants, InvariantResult{
					Metric: inv.Metric, Scope: inv.Scope, Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value), Actual: "N/A", Passed: false,
				})
				continue
			}
		}

		switch inv.Metric {
		case "nodes_created":
			actual = float64(stats.Created)
		case "navigations":
			actual = float64(stats.Navigated)
		case "acked":
			actual = float64(stats.Acked)
		case "pending_remaining":
			actual = float64(atomic.LoadUint64(&res.PendingRemaining))
		case "error_rate":
			if stats.Requests > 0 {
				actual = float64(stats.Errors) / float64(stats.Requests)
			}
		default:
			actual = 0
		}

		switch inv.Condition {
		case ">":
			passed = actual > inv.Value
		case ">=":
			passed = actual >= inv.Value
		case "<":
			passed = actual < inv.Value
		case "<=":
			passed = actual <= inv.Value
		case "==":
			passed = math.Abs(actual-inv.Value) < 0.0001
		}

		res.Invariants = append(res.Invariants, InvariantResult{
			Metric:   inv.Metric,
			Scope:    inv.Scope,
			Expected: fmt.Sprintf("%s %.2f", inv.Condition, inv.Value),
			Actual:   fmt.Sprintf("%.4f", actual),
			Passed:   passed,
		})
	}
}
