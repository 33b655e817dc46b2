package analysis

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/graph"
	"github.com/rawblock/fundflow-engine/internal/metrics"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Topology Analyzer
//
// Structural reporting over a bounded scope: an ego subgraph (radius
// hops around one wallet) or the whole graph for an overview. The
// pipeline:
//
//   1. Collect the scope wallets (undirected BFS from the wallet, or
//      every known wallet), capped to keep centrality tractable
//   2. Project the directed edges inside the scope onto an undirected
//      weighted adjacency
//   3. Compute degree, betweenness (Brandes), closeness, eigenvector
//      (power iteration) and PageRank
//   4. Partition the undirected projection by modularity local moving
//   5. Flag bridge wallets (betweenness above mean + 1·stddev) and
//      weakly-connected components disjoint from the queried wallet
//   6. Score partition stability against the previous snapshot of the
//      same scope via the Adjusted Rand Index
//
// The analyzer never mutates the graph; its only state is the
// partition memo behind the stability score.
//
// References:
//   - Brandes, "A Faster Algorithm for Betweenness Centrality" (2001)
//   - Page et al., "The PageRank Citation Ranking" (1999)
//   - Blondel et al., "Fast Unfolding of Communities in Large
//     Networks" (2008)
//   - Hubert & Arabie, "Comparing Partitions" (1985)

// maxTopologyWallets caps the scope; BFS order keeps the wallets
// closest to the query when an ego graph is trimmed.
const maxTopologyWallets = 500

// TopologyAnalyzer builds structural reports and remembers the last
// partition per scope for stability scoring.
type TopologyAnalyzer struct {
	store *graph.Store

	mu   sync.Mutex
	prev map[string]map[string]int // Scope key → wallet → community label
}

func NewTopologyAnalyzer(store *graph.Store) *TopologyAnalyzer {
	return &TopologyAnalyzer{store: store, prev: make(map[string]map[string]int)}
}

// Build computes the topology for one wallet's neighborhood, or for
// the whole graph when wallet is empty. An unknown wallet yields an
// empty report, not an error.
func (ta *TopologyAnalyzer) Build(wallet string, radius int) models.Topology {
	started := time.Now()
	if radius < 1 {
		radius = 1
	}
	wallet = graph.Normalize(wallet)

	topo := models.Topology{
		Wallet:       wallet,
		Radius:       radius,
		GraphVersion: ta.store.Version(),
		ComputedAt:   started.UTC(),
	}

	var scope []string
	if wallet == "" {
		scope = ta.store.Wallets()
		sort.Strings(scope)
		if len(scope) > maxTopologyWallets {
			log.Warn().Int("wallets", len(scope)).Int("cap", maxTopologyWallets).
				Msg("overview topology truncated")
			scope = scope[:maxTopologyWallets]
		}
	} else {
		if !ta.store.HasWallet(wallet) {
			return topo
		}
		scope = ta.egoWallets(wallet, radius)
	}

	sub := ta.project(scope)
	topo.WalletCount = len(sub.wallets)
	topo.EdgeCount = sub.directedEdges

	betw := brandesBetweenness(sub)
	closen := closenessCentrality(sub)
	eigen := eigenvectorCentrality(sub)
	pr := pageRank(sub)

	topo.Centrality = make([]models.WalletCentrality, len(sub.wallets))
	for i, w := range sub.wallets {
		topo.Centrality[i] = models.WalletCentrality{
			Wallet:      w,
			InDegree:    len(sub.in[i]),
			OutDegree:   len(sub.out[i]),
			Betweenness: betw[i],
			Closeness:   closen[i],
			Eigenvector: eigen[i],
			PageRank:    pr[i],
		}
	}
	sort.Slice(topo.Centrality, func(i, j int) bool {
		if topo.Centrality[i].PageRank != topo.Centrality[j].PageRank {
			return topo.Centrality[i].PageRank > topo.Centrality[j].PageRank
		}
		return topo.Centrality[i].Wallet < topo.Centrality[j].Wallet
	})

	labels := modularityCommunities(sub)
	topo.Communities = groupCommunities(sub, labels)
	topo.Bridges = bridgeWallets(sub, betw)
	topo.IsolatedClusters = ta.isolatedClusters(wallet)

	partition := make(map[string]int, len(sub.wallets))
	for i, w := range sub.wallets {
		partition[w] = labels[i]
	}
	scopeKey := wallet + "|" + strconv.Itoa(radius)
	ta.mu.Lock()
	previous := ta.prev[scopeKey]
	topo.PartitionStability = metrics.AdjustedRandIndex(previous, partition)
	ta.prev[scopeKey] = partition
	ta.mu.Unlock()

	if previous != nil {
		log.Debug().Str("wallet", wallet).Int("radius", radius).
			Float64("stability", topo.PartitionStability).
			Float64("driftBits", metrics.VariationOfInformation(previous, partition)).
			Msg("partition compared to previous snapshot")
	}

	log.Debug().Str("wallet", wallet).Int("radius", radius).
		Int("wallets", topo.WalletCount).Int("edges", topo.EdgeCount).
		Dur("elapsed", time.Since(started)).Msg("topology built")
	return topo
}

// egoWallets walks the undirected neighborhood out to radius hops.
func (ta *TopologyAnalyzer) egoWallets(wallet string, radius int) []string {
	visited := map[string]bool{wallet: true}
	order := []string{wallet}
	frontier := []string{wallet}

	for hop := 0; hop < radius && len(frontier) > 0; hop++ {
		var next []string
		for _, w := range frontier {
			neighbors := ta.store.Neighbors(w)
			sort.Strings(neighbors)
			for _, n := range neighbors {
				if visited[n] {
					continue
				}
				visited[n] = true
				order = append(order, n)
				next = append(next, n)
				if len(order) >= maxTopologyWallets {
					log.Warn().Str("wallet", wallet).Int("cap", maxTopologyWallets).
						Msg("ego topology truncated")
					return order
				}
			}
		}
		frontier = next
	}
	return order
}

// subgraph is the index-mapped scope the algorithms run on. und holds
// the undirected projection with per-neighbor summed edge weight.
type subgraph struct {
	wallets       []string
	index         map[string]int
	out           [][]int
	in            [][]int
	und           [][]int
	undW          [][]float64
	directedEdges int
}

// project maps the scope onto adjacency indices, dropping edges that
// leave the scope.
func (ta *TopologyAnalyzer) project(scope []string) *subgraph {
	sub := &subgraph{
		wallets: scope,
		index:   make(map[string]int, len(scope)),
	}
	for i, w := range scope {
		sub.index[w] = i
	}
	n := len(scope)
	sub.out = make([][]int, n)
	sub.in = make([][]int, n)
	sub.und = make([][]int, n)
	sub.undW = make([][]float64, n)

	undSeen := make([]map[int]int, n) // Neighbor → position in und[i]
	for i := range undSeen {
		undSeen[i] = make(map[int]int)
	}
	addUnd := func(a, b int, weight float64) {
		if pos, ok := undSeen[a][b]; ok {
			sub.undW[a][pos] += weight
			return
		}
		undSeen[a][b] = len(sub.und[a])
		sub.und[a] = append(sub.und[a], b)
		sub.undW[a] = append(sub.undW[a], weight)
	}

	for i, w := range scope {
		for _, e := range ta.store.OutEdges(w) {
			j, ok := sub.index[e.Target]
			if !ok {
				continue
			}
			sub.out[i] = append(sub.out[i], j)
			sub.in[j] = append(sub.in[j], i)
			sub.directedEdges++
			addUnd(i, j, e.TotalAmount)
			addUnd(j, i, e.TotalAmount)
		}
	}
	return sub
}

// brandesBetweenness accumulates shortest-path dependencies over the
// undirected projection. Scores are normalized to [0,1].
func brandesBetweenness(sub *subgraph) []float64 {
	n := len(sub.wallets)
	cb := make([]float64, n)
	if n < 3 {
		return cb
	}

	for s := 0; s < n; s++ {
		stack := make([]int, 0, n)
		preds := make([][]int, n)
		sigma := make([]float64, n)
		sigma[s] = 1
		dist := make([]int, n)
		for i := range dist {
			dist[i] = -1
		}
		dist[s] = 0

		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range sub.und[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		delta := make([]float64, n)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}

	// Each unordered pair contributes twice on an undirected graph;
	// dividing by (n-1)(n-2) folds that in with the normalization.
	norm := float64((n - 1) * (n - 2))
	for i := range cb {
		cb[i] /= norm
	}
	return cb
}

// closenessCentrality uses the reachable-set form so disconnected
// scopes stay comparable.
func closenessCentrality(sub *subgraph) []float64 {
	n := len(sub.wallets)
	scores := make([]float64, n)
	if n < 2 {
		return scores
	}

	for s := 0; s < n; s++ {
		dist := make([]int, n)
		for i := range dist {
			dist[i] = -1
		}
		dist[s] = 0
		queue := []int{s}
		reachable, sum := 0, 0
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			for _, w := range sub.und[v] {
				if dist[w] >= 0 {
					continue
				}
				dist[w] = dist[v] + 1
				reachable++
				sum += dist[w]
				queue = append(queue, w)
			}
		}
		if sum > 0 {
			r := float64(reachable)
			scores[s] = r / float64(sum) * r / float64(n-1)
		}
	}
	return scores
}

// eigenvectorCentrality runs power iteration on the undirected
// adjacency; the vector is L2-normalized.
func eigenvectorCentrality(sub *subgraph) []float64 {
	n := len(sub.wallets)
	x := make([]float64, n)
	if n == 0 {
		return x
	}
	for i := range x {
		x[i] = 1 / math.Sqrt(float64(n))
	}

	next := make([]float64, n)
	for iter := 0; iter < 100; iter++ {
		for i := range next {
			next[i] = 0
		}
		for v := range sub.und {
			for _, w := range sub.und[v] {
				next[w] += x[v]
			}
		}
		norm := 0.0
		for _, v := range next {
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			return x
		}
		diff := 0.0
		for i := range next {
			next[i] /= norm
			diff += math.Abs(next[i] - x[i])
		}
		x, next = next, x
		if diff < 1e-6 {
			break
		}
	}
	return x
}

// pageRank runs the classic damped iteration over the directed scope,
// spreading dangling mass uniformly.
func pageRank(sub *subgraph) []float64 {
	n := len(sub.wallets)
	pr := make([]float64, n)
	if n == 0 {
		return pr
	}
	const damping = 0.85
	for i := range pr {
		pr[i] = 1 / float64(n)
	}

	next := make([]float64, n)
	for iter := 0; iter < 100; iter++ {
		dangling := 0.0
		for v := range pr {
			if len(sub.out[v]) == 0 {
				dangling += pr[v]
			}
		}
		base := (1-damping)/float64(n) + damping*dangling/float64(n)
		for i := range next {
			next[i] = base
		}
		for v := range sub.out {
			if len(sub.out[v]) == 0 {
				continue
			}
			share := damping * pr[v] / float64(len(sub.out[v]))
			for _, w := range sub.out[v] {
				next[w] += share
			}
		}
		diff := 0.0
		for i := range next {
			diff += math.Abs(next[i] - pr[i])
		}
		pr, next = next, pr
		if diff < 1e-9 {
			break
		}
	}
	return pr
}

// modularityCommunities partitions the weighted undirected projection
// by local moving: each wallet migrates to the neighboring community
// with the best modularity gain until a full pass moves nothing.
// Wallets are visited in index order, so the result is deterministic.
func modularityCommunities(sub *subgraph) []int {
	n := len(sub.wallets)
	labels := make([]int, n)
	degree := make([]float64, n)
	total := 0.0
	for i := range labels {
		labels[i] = i
		for _, w := range sub.undW[i] {
			degree[i] += w
		}
		total += degree[i]
	}
	if total == 0 {
		return labels
	}

	communityDegree := make(map[int]float64, n)
	for i := range labels {
		communityDegree[i] = degree[i]
	}

	for pass := 0; pass < 50; pass++ {
		moved := false
		for v := 0; v < n; v++ {
			current := labels[v]
			communityDegree[current] -= degree[v]

			// Weight from v into each neighboring community.
			linkTo := map[int]float64{current: 0}
			for k, w := range sub.und[v] {
				linkTo[labels[w]] += sub.undW[v][k]
			}

			best, bestGain := current, linkTo[current]-degree[v]*communityDegree[current]/total
			candidates := make([]int, 0, len(linkTo))
			for c := range linkTo {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)
			for _, c := range candidates {
				gain := linkTo[c] - degree[v]*communityDegree[c]/total
				if gain > bestGain+1e-12 {
					best, bestGain = c, gain
				}
			}

			labels[v] = best
			communityDegree[best] += degree[v]
			if best != current {
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	// Compact labels to 0..k-1 in first-seen order.
	compact := make(map[int]int)
	for i, l := range labels {
		if _, ok := compact[l]; !ok {
			compact[l] = len(compact)
		}
		labels[i] = compact[l]
	}
	return labels
}

// groupCommunities materializes label assignments, largest first.
func groupCommunities(sub *subgraph, labels []int) []models.Community {
	members := make(map[int][]string)
	for i, l := range labels {
		members[l] = append(members[l], sub.wallets[i])
	}
	out := make([]models.Community, 0, len(members))
	for l, ws := range members {
		sort.Strings(ws)
		out = append(out, models.Community{ID: l, Wallets: ws})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Wallets) != len(out[j].Wallets) {
			return len(out[i].Wallets) > len(out[j].Wallets)
		}
		return out[i].Wallets[0] < out[j].Wallets[0]
	})
	for i := range out {
		out[i].ID = i
	}
	return out
}

// bridgeWallets flags wallets whose betweenness exceeds mean + 1·stddev.
func bridgeWallets(sub *subgraph, betw []float64) []string {
	if len(betw) < 3 {
		return nil
	}
	mean := 0.0
	for _, b := range betw {
		mean += b
	}
	mean /= float64(len(betw))
	variance := 0.0
	for _, b := range betw {
		d := b - mean
		variance += d * d
	}
	variance /= float64(len(betw))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return nil
	}

	threshold := mean + stddev
	var bridges []string
	for i, b := range betw {
		if b > threshold {
			bridges = append(bridges, sub.wallets[i])
		}
	}
	sort.Strings(bridges)
	return bridges
}

// maxIsolatedClusters bounds the report payload on fragmented graphs.
const maxIsolatedClusters = 25

// isolatedClusters reports weakly-connected components of the whole
// graph that the queried wallet cannot reach. For an overview request
// every component beyond the largest counts as isolated.
func (ta *TopologyAnalyzer) isolatedClusters(wallet string) [][]string {
	all := ta.store.Wallets()
	sort.Strings(all)

	visited := make(map[string]bool, len(all))
	var components [][]string
	for _, seed := range all {
		if visited[seed] {
			continue
		}
		component := []string{seed}
		visited[seed] = true
		queue := []string{seed}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			for _, n := range ta.store.Neighbors(v) {
				if !visited[n] {
					visited[n] = true
					component = append(component, n)
					queue = append(queue, n)
				}
			}
		}
		sort.Strings(component)
		components = append(components, component)
	}

	var isolated [][]string
	if wallet != "" {
		for _, c := range components {
			if !containsWallet(c, wallet) {
				isolated = append(isolated, c)
			}
		}
	} else {
		largest := -1
		for i, c := range components {
			if largest < 0 || len(c) > len(components[largest]) {
				largest = i
			}
		}
		for i, c := range components {
			if i != largest {
				isolated = append(isolated, c)
			}
		}
	}

	sort.Slice(isolated, func(i, j int) bool {
		if len(isolated[i]) != len(isolated[j]) {
			return len(isolated[i]) > len(isolated[j])
		}
		return isolated[i][0] < isolated[j][0]
	})
	if len(isolated) > maxIsolatedClusters {
		isolated = isolated[:maxIsolatedClusters]
	}
	return isolated
}

func containsWallet(sorted []string, wallet string) bool {
	i := sort.SearchStrings(sorted, wallet)
	return i < len(sorted) && sorted[i] == wallet
}
