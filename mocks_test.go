package serenpair

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// mockStore is an in-memory Store for tests: a map-plus-mutex mock with
// no database, just enough bookkeeping to exercise the pipeline stages'
// logic.
type mockStore struct {
	mu sync.Mutex

	rawNotes     map[string]*RawNote
	thoughtUnits map[int64]*ThoughtUnit
	nextUnitID   int64
	distances    []ThoughtPairDistance
	candidates   map[int64]*PairCandidate
	nextCandID   int64
	pairs        map[[2]int64]*ThoughtPair
	essays       []*Essay
	dist         *DistributionCache
	jobs         map[string]*ImportJob
	progress     map[string]*MiningProgress
}

func newMockStore() *mockStore {
	return &mockStore{
		rawNotes:     make(map[string]*RawNote),
		thoughtUnits: make(map[int64]*ThoughtUnit),
		candidates:   make(map[int64]*PairCandidate),
		pairs:        make(map[[2]int64]*ThoughtPair),
		jobs:         make(map[string]*ImportJob),
		progress:     make(map[string]*MiningProgress),
	}
}

func (m *mockStore) UpsertRawNote(ctx context.Context, note *RawNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *note
	cp.IsDeleted = false
	m.rawNotes[note.ExternalID] = &cp
	return nil
}

func (m *mockStore) SoftDeleteRawNote(ctx context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.rawNotes[externalID]; ok {
		n.IsDeleted = true
	}
	return nil
}

func (m *mockStore) GetRawNote(ctx context.Context, externalID string) (*RawNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rawNotes[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

func (m *mockStore) ListActiveRawNotes(ctx context.Context, offset, limit int) ([]*RawNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*RawNote
	for _, n := range m.rawNotes {
		if !n.IsDeleted {
			all = append(all, n)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *mockStore) InsertThoughtUnits(ctx context.Context, units []*ThoughtUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range units {
		m.nextUnitID++
		u.ID = m.nextUnitID
		m.thoughtUnits[u.ID] = u
	}
	return nil
}

func (m *mockStore) GetThoughtUnits(ctx context.Context, ids []int64) (map[int64]*ThoughtUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*ThoughtUnit, len(ids))
	for _, id := range ids {
		if u, ok := m.thoughtUnits[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (m *mockStore) CountThoughtUnits(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.thoughtUnits), nil
}

func (m *mockStore) ListThoughtUnitIDsAfter(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id := range m.thoughtUnits {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *mockStore) InsertDistances(ctx context.Context, rows []ThoughtPairDistance) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.distances = append(m.distances, rows...)
	return len(rows), nil
}

func (m *mockStore) QueryDistanceBand(ctx context.Context, minSim, maxSim float64, offset, limit int) ([]ThoughtPairDistance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ThoughtPairDistance
	for _, d := range m.distances {
		if d.Similarity >= minSim && d.Similarity <= maxSim {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockStore) DistanceStatistics(ctx context.Context) (DistanceStats, error) {
	return DistanceStats{Count: int64(len(m.distances))}, nil
}

func (m *mockStore) InsertCandidates(ctx context.Context, rows []PairCandidate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.nextCandID++
		r.ID = m.nextCandID
		m.candidates[r.ID] = &r
	}
	return len(rows), nil
}

func (m *mockStore) ListPendingCandidates(ctx context.Context, minSim, maxSim float64, maxCandidates int) ([]PairCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PairCandidate
	for _, c := range m.candidates {
		if c.LLMStatus == LLMStatusPending {
			out = append(out, *c)
		}
		if len(out) >= maxCandidates {
			break
		}
	}
	return out, nil
}

func (m *mockStore) UpdateCandidateScore(ctx context.Context, id int64, score int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return ErrNotFound
	}
	c.LLMStatus = LLMStatusCompleted
	c.LLMScore = &score
	c.ConnectionReason = &reason
	return nil
}

func (m *mockStore) MarkCandidateFailed(ctx context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return ErrNotFound
	}
	c.LLMStatus = LLMStatusFailed
	c.EvaluationError = &reason
	return nil
}

func (m *mockStore) MoveToThoughtPairs(ctx context.Context, candidateIDs []int64, minScore int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	migrated := 0
	for _, id := range candidateIDs {
		c, ok := m.candidates[id]
		if !ok || c.LLMScore == nil || *c.LLMScore < minScore {
			continue
		}
		key := [2]int64{c.AID, c.BID}
		m.pairs[key] = &ThoughtPair{
			AID: c.AID, BID: c.BID, Similarity: c.Similarity,
			ClaudeScore: *c.LLMScore, QualityTier: QualityTier(*c.LLMScore),
			CreatedAt: time.Now(),
		}
		migrated++
	}
	return migrated, nil
}

func (m *mockStore) ListThoughtPairsByTier(ctx context.Context, tier string, limit int) ([]ThoughtPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ThoughtPair
	for _, p := range m.pairs {
		if p.QualityTier == tier && !p.IsUsedInEssay {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockStore) MarkPairUsedInEssay(ctx context.Context, aID, bID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pairs[[2]int64{aID, bID}]; ok {
		p.IsUsedInEssay = true
	}
	return nil
}

func (m *mockStore) InsertEssay(ctx context.Context, essay *Essay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	essay.ID = int64(len(m.essays) + 1)
	m.essays = append(m.essays, essay)
	return nil
}

func (m *mockStore) GetDistributionCache(ctx context.Context) (*DistributionCache, error) {
	return m.dist, nil
}

func (m *mockStore) SetDistributionCache(ctx context.Context, cache *DistributionCache) error {
	m.dist = cache
	return nil
}

func (m *mockStore) CreateImportJob(ctx context.Context, job *ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = fmt.Sprintf("job-%d", len(m.jobs)+1)
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockStore) UpdateImportJob(ctx context.Context, job *ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockStore) IncrementJobProgress(ctx context.Context, jobID string, imported, skipped, deleted int, failedPage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.Imported += imported
	j.Skipped += skipped
	j.Deleted += deleted
	if failedPage != "" {
		j.FailedPages = append(j.FailedPages, failedPage)
	}
	return nil
}

func (m *mockStore) GetImportJob(ctx context.Context, id string) (*ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

func (m *mockStore) GetMiningProgress(ctx context.Context, id string) (*MiningProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockStore) SaveMiningProgress(ctx context.Context, progress *MiningProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[progress.ID] = progress
	return nil
}

func (m *mockStore) GetChangedPages(ctx context.Context, pages []PageStamp) (ChangedPages, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result ChangedPages
	seen := make(map[string]struct{}, len(pages))
	for _, p := range pages {
		seen[p.ExternalID] = struct{}{}
		existing, ok := m.rawNotes[p.ExternalID]
		switch {
		case !ok || existing.IsDeleted:
			result.NewIDs = append(result.NewIDs, p.ExternalID)
		case !existing.ExternalEdited.Equal(p.ExternalEdited):
			result.UpdatedIDs = append(result.UpdatedIDs, p.ExternalID)
		default:
			result.UnchangedCount++
		}
	}
	for id, n := range m.rawNotes {
		if n.IsDeleted {
			continue
		}
		if _, ok := seen[id]; !ok {
			result.DeletedIDs = append(result.DeletedIDs, id)
		}
	}
	return result, nil
}

func (m *mockStore) FindSimilarPairsTopK(ctx context.Context, minSim, maxSim float64, k, limit int) ([]PairCandidate, error) {
	return nil, nil
}

func (m *mockStore) BuildDistanceTableBatch(ctx context.Context, offset, size int) (int, error) {
	return 0, nil
}

func (m *mockStore) UpdateDistanceTableIncremental(ctx context.Context, newIDs []int64) (int, error) {
	return 0, nil
}

func (m *mockStore) MineCandidatePairs(ctx context.Context, params MiningParams) (MiningResult, error) {
	return MiningResult{}, ErrStoredProcUnavailable
}

func (m *mockStore) CalculateDistributionFromDistanceTable(ctx context.Context) (*DistributionCache, error) {
	return &DistributionCache{ID: 1, Percentiles: Percentiles{0: 0, 100: 1}, CalculatedAt: time.Now()}, nil
}

func (m *mockStore) CalculateSimilarityDistribution(ctx context.Context) (*DistributionCache, error) {
	return m.CalculateDistributionFromDistanceTable(ctx)
}

var _ Store = (*mockStore)(nil)

// mockChatProvider returns a canned response regardless of the prompt,
// optionally failing the first N calls to exercise retry paths.
type mockChatProvider struct {
	responses []string
	calls     int
	failFirst int
}

func (p *mockChatProvider) Chat(ctx context.Context, messages []ChatMessage, temperature float32) (*ChatResponse, error) {
	p.calls++
	if p.calls <= p.failFirst {
		return nil, ErrTransientNetwork
	}
	idx := p.calls - p.failFirst - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return &ChatResponse{Text: p.responses[idx]}, nil
}

func (p *mockChatProvider) Name() string { return "mock" }

var _ ChatProvider = (*mockChatProvider)(nil)

// mockEmbedder returns a fixed-length zero vector, enough to exercise
// callers that only care about dimensionality and storage round-trips.
type mockEmbedder struct{ dims int }

func (e *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, e.dims), nil
}

func (e *mockEmbedder) Dimensions() int { return e.dims }

var _ Embedder = (*mockEmbedder)(nil)

// mockNoteSource serves a fixed page/block set, for Ingester tests.
type mockNoteSource struct {
	mode  string
	pages []PageMeta
	blocks map[string][]Block
}

func (s *mockNoteSource) ListPages(ctx context.Context) ([]PageMeta, error) {
	return s.pages, nil
}

func (s *mockNoteSource) FetchBlocks(ctx context.Context, pageID string) ([]Block, error) {
	return s.blocks[pageID], nil
}

func (s *mockNoteSource) Mode() string { return s.mode }

var _ NoteSource = (*mockNoteSource)(nil)
