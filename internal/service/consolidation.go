package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/scoring"
	"go.uber.org/zap"
)

// Clustering constants.
const (
	clusterMergeDistance = 0.3
	temporalBonusMax     = 0.1
	temporalBonusWindow  = time.Hour
	conversationBonus    = 0.1

	linkMaxClusterSize  = 3
	summarizeAvgImp     = 0.4
	keepAndSummarizeImp = 0.7

	// Members that already went through consolidation are excluded from the
	// next sample, which keeps the engine idempotent.
	tagConsolidated = "consolidated"

	byteBudgetTriggerRatio = 0.8

	// A pass runs on schedule even when no size trigger fires.
	scheduledRunInterval = 24 * time.Hour
)

// Consolidation strategies.
type Strategy string

const (
	StrategySkip             Strategy = "skip"
	StrategyLink             Strategy = "link"
	StrategySummarize        Strategy = "summarize"
	StrategyKeepAndSummarize Strategy = "keep_and_summarize"
)

// ConsolidationResult summarizes one consolidation pass.
type ConsolidationResult struct {
	Sampled   int `json:"sampled"`
	Clusters  int `json:"clusters"`
	Linked    int `json:"linked"`
	Summaries int `json:"summaries"`
	Deleted   int `json:"deleted"`
}

// ConsolidationEngine clusters similar warm records and compresses each
// cluster with a per-cluster strategy.
type ConsolidationEngine struct {
	tiers      Tiers
	locks      *lockTable
	summarizer domain.Summarizer
	logger     *zap.Logger

	recordThreshold int
	maxCandidates   int
	byteBudget      int64

	mu      sync.Mutex
	lastRun time.Time
}

func NewConsolidationEngine(tiers Tiers, locks *lockTable, sum domain.Summarizer, recordThreshold, maxCandidates int, byteBudget int64, logger *zap.Logger) *ConsolidationEngine {
	if maxCandidates <= 0 {
		maxCandidates = 5000
	}
	return &ConsolidationEngine{
		tiers:           tiers,
		locks:           locks,
		summarizer:      sum,
		logger:          logger,
		recordThreshold: recordThreshold,
		maxCandidates:   maxCandidates,
		byteBudget:      byteBudget,
	}
}

// ShouldRun reports whether a trigger condition holds: total record count
// over the threshold, or hot+warm resident bytes past 80% of budget.
func (c *ConsolidationEngine) ShouldRun(ctx context.Context) bool {
	total := 0
	for _, tier := range domain.AllTiers() {
		n, err := c.tiers.Backend(tier).Count(ctx)
		if err != nil {
			continue
		}
		total += n
	}
	if c.recordThreshold > 0 && total > c.recordThreshold {
		return true
	}

	if c.byteBudget > 0 {
		var bytes int64
		for _, tier := range []domain.Tier{domain.TierHot, domain.TierWarm} {
			records, err := c.tiers.Backend(tier).ListByFilter(ctx, domain.Filter{})
			if err != nil {
				continue
			}
			for i := range records {
				bytes += recordBytes(&records[i])
			}
		}
		if float64(bytes) > byteBudgetTriggerRatio*float64(c.byteBudget) {
			return true
		}
	}
	return false
}

// ScheduledRunDue reports whether the daily pass has come around since the
// last run. The first call anchors the schedule instead of firing.
func (c *ConsolidationEngine) ScheduledRunDue(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRun.IsZero() {
		c.lastRun = now
		return false
	}
	return now.Sub(c.lastRun) >= scheduledRunInterval
}

func recordBytes(r *domain.Record) int64 {
	return int64(len(r.Content) + 4*len(r.Embedding))
}

// Run samples warm candidates, clusters them, and applies strategies.
func (c *ConsolidationEngine) Run(ctx context.Context, now time.Time) *ConsolidationResult {
	c.mu.Lock()
	c.lastRun = now
	c.mu.Unlock()

	res := &ConsolidationResult{}

	candidates, err := c.tiers.Warm.ListByFilter(ctx, domain.Filter{Limit: c.maxCandidates})
	if err != nil {
		c.logger.Warn("consolidation sample failed", zap.Error(err))
		return res
	}

	var pool []*domain.Record
	for i := range candidates {
		r := &candidates[i]
		if len(r.Embedding) == 0 || r.HasTag(tagConsolidated) {
			continue
		}
		pool = append(pool, r)
	}
	res.Sampled = len(pool)
	if len(pool) < 2 {
		return res
	}

	clusters := singleLinkage(pool, clusterMergeDistance)
	for _, cluster := range clusters {
		if ctx.Err() != nil {
			return res
		}
		if len(cluster) == 1 {
			continue
		}
		res.Clusters++

		switch chooseStrategy(cluster) {
		case StrategyLink:
			c.linkCluster(ctx, cluster, res)
		case StrategySummarize:
			c.summarizeCluster(ctx, cluster, now, false, res)
		case StrategyKeepAndSummarize:
			c.summarizeCluster(ctx, cluster, now, true, res)
		}
	}

	c.logger.Info("consolidation complete",
		zap.Int("sampled", res.Sampled),
		zap.Int("clusters", res.Clusters),
		zap.Int("linked", res.Linked),
		zap.Int("summaries", res.Summaries),
		zap.Int("deleted", res.Deleted))
	return res
}

// distance between two members: embedding distance minus closeness bonuses.
func clusterDistance(a, b *domain.Record) float64 {
	d := 1 - scoring.Cosine(a.Embedding, b.Embedding)

	dt := a.CreatedAt.Sub(b.CreatedAt)
	if dt < 0 {
		dt = -dt
	}
	if dt < temporalBonusWindow {
		d -= temporalBonusMax * (1 - float64(dt)/float64(temporalBonusWindow))
	}

	if at, ok := a.ConversationTag(); ok {
		if bt, ok := b.ConversationTag(); ok && at == bt {
			d -= conversationBonus
		}
	}
	return d
}

// singleLinkage merges members transitively whenever any pair sits within
// maxDist of each other.
func singleLinkage(pool []*domain.Record, maxDist float64) [][]*domain.Record {
	parent := make([]int, len(pool))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			if clusterDistance(pool[i], pool[j]) <= maxDist {
				parent[find(i)] = find(j)
			}
		}
	}

	groups := make(map[int][]*domain.Record)
	for i, r := range pool {
		root := find(i)
		groups[root] = append(groups[root], r)
	}

	out := make([][]*domain.Record, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].CreatedAt.Before(g[j].CreatedAt) })
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0].ID < out[j][0].ID })
	return out
}

func chooseStrategy(cluster []*domain.Record) Strategy {
	if len(cluster) <= 1 {
		return StrategySkip
	}

	var sum float64
	high, low := false, false
	for _, r := range cluster {
		sum += r.Importance
		if r.Importance >= keepAndSummarizeImp {
			high = true
		} else {
			low = true
		}
	}
	avg := sum / float64(len(cluster))

	// Low-value clusters compress regardless of size; mixed clusters keep
	// their high-value members and compress the rest.
	if high && low {
		return StrategyKeepAndSummarize
	}
	if avg < summarizeAvgImp {
		return StrategySummarize
	}
	if len(cluster) <= linkMaxClusterSize {
		return StrategyLink
	}
	return StrategySummarize
}

// linkCluster records mutual links between members.
func (c *ConsolidationEngine) linkCluster(ctx context.Context, cluster []*domain.Record, res *ConsolidationResult) {
	for _, r := range cluster {
		unlock := c.locks.Lock(r.ID)
		for _, other := range cluster {
			if other.ID != r.ID {
				r.AddLink(other.ID)
			}
		}
		r.AddTag(tagConsolidated)
		if err := c.tiers.Backend(r.Tier).Put(ctx, r); err != nil {
			c.logger.Warn("link write failed", zap.String("id", r.ID), zap.Error(err))
		} else {
			res.Linked++
		}
		unlock()
	}
}

// summarizeCluster compresses cluster members into one summary record. With
// keep set, members at or above the high-importance bar survive and link to
// the summary; everything compressed is deleted.
func (c *ConsolidationEngine) summarizeCluster(ctx context.Context, cluster []*domain.Record, now time.Time, keep bool, res *ConsolidationResult) {
	var kept, members []*domain.Record
	if keep {
		for _, r := range cluster {
			if r.Importance >= keepAndSummarizeImp {
				kept = append(kept, r)
			} else {
				members = append(members, r)
			}
		}
	} else {
		members = cluster
	}
	if len(members) == 0 {
		return
	}

	// Members arrive chronologically sorted, so ordered sequences summarize
	// as a narrative.
	contents := make([]string, 0, len(members))
	ordered := true
	for _, r := range members {
		contents = append(contents, r.Content)
		if !r.HasTag(domain.TagOrdering) {
			ordered = false
		}
	}
	if ordered {
		for i := range contents {
			contents[i] = fmt.Sprintf("Step %d: %s", i+1, contents[i])
		}
	}

	summaryContent, err := c.summarizer.Summarize(ctx, contents)
	if err != nil {
		c.logger.Warn("summarize failed", zap.Error(err))
		return
	}

	summary := &domain.Record{
		ID:          domain.NewID(now),
		Content:     summaryContent,
		Type:        domain.MemoryTypeSemantic,
		CreatedAt:   now,
		LastDecayed: now,
		Strength:    1.0,
		State:       domain.StateActive,
		Tier:        domain.TierWarm,
	}

	var embeddings [][]float32
	tagSet := make(map[string]struct{})
	for _, r := range members {
		embeddings = append(embeddings, r.Embedding)
		for _, t := range r.Tags {
			tagSet[t] = struct{}{}
		}
		if r.Importance > summary.Importance {
			summary.Importance = r.Importance
		}
		summary.AddLink(r.ID)
	}
	for t := range tagSet {
		summary.AddTag(t)
	}
	sort.Strings(summary.Tags)
	summary.AddTag(tagConsolidated)
	summary.Embedding = scoring.MeanNormalized(embeddings)
	for _, r := range kept {
		summary.AddLink(r.ID)
	}

	if err := c.tiers.Warm.Put(ctx, summary); err != nil {
		c.logger.Warn("summary write failed", zap.Error(err))
		return
	}
	res.Summaries++

	for _, r := range kept {
		unlock := c.locks.Lock(r.ID)
		r.AddLink(summary.ID)
		r.AddTag(tagConsolidated)
		if err := c.tiers.Backend(r.Tier).Put(ctx, r); err != nil {
			c.logger.Warn("member update failed", zap.String("id", r.ID), zap.Error(err))
		}
		unlock()
	}

	for _, r := range members {
		unlock := c.locks.Lock(r.ID)
		if err := c.tiers.Backend(r.Tier).Delete(ctx, r.ID); err != nil {
			c.logger.Warn("member delete failed", zap.String("id", r.ID), zap.Error(err))
		} else {
			res.Deleted++
		}
		unlock()
	}
}
