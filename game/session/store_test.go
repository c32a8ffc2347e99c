package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/questbot/game"
)

type fakeProgress struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]*game.PlayersQuest
	applied int
	loads   int
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{nextID: 1, rows: map[int64]*game.PlayersQuest{}}
}

func (f *fakeProgress) add(pq game.PlayersQuest) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	pq.ID = f.nextID
	f.nextID++
	f.rows[pq.ID] = &pq
	return pq.ID
}

func (f *fakeProgress) sorted(match func(*game.PlayersQuest) bool) []game.PlayersQuest {
	var out []game.PlayersQuest
	for _, pq := range f.rows {
		if match(pq) {
			out = append(out, *pq)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].DateStarted.Before(out[j-1].DateStarted); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (f *fakeProgress) ActiveOf(_ context.Context, playerID int64) ([]game.PlayersQuest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.sorted(func(pq *game.PlayersQuest) bool {
		return pq.PlayerID == playerID && pq.IsActive
	}), nil
}

func (f *fakeProgress) ByPlayerQuest(_ context.Context, playerID, questID int64) ([]game.PlayersQuest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.sorted(func(pq *game.PlayersQuest) bool {
		return pq.PlayerID == playerID && pq.QuestID == questID
	}), nil
}

func (f *fakeProgress) ByPlayer(_ context.Context, playerID int64) ([]game.PlayersQuest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(pq *game.PlayersQuest) bool { return pq.PlayerID == playerID }), nil
}

func (f *fakeProgress) Create(_ context.Context, pq *game.PlayersQuest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pq.IsActive {
		for _, other := range f.rows {
			if other.PlayerID == pq.PlayerID {
				other.IsActive = false
			}
		}
	}
	pq.ID = f.nextID
	f.nextID++
	clone := *pq
	f.rows[pq.ID] = &clone
	return nil
}

func (f *fakeProgress) SetActive(_ context.Context, playerID, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.rows[id]
	if !ok {
		return game.ErrNotFound
	}
	for _, other := range f.rows {
		if other.PlayerID == playerID && other.ID != id {
			other.IsActive = false
		}
	}
	target.IsActive = true
	return nil
}

func (f *fakeProgress) Deactivate(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pq, ok := f.rows[id]; ok {
		pq.IsActive = false
	}
	return nil
}

func (f *fakeProgress) Delete(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.rows, id)
	}
	return nil
}

func (f *fakeProgress) Apply(_ context.Context, u game.ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pq, ok := f.rows[u.ID]
	if !ok {
		return game.ErrNotFound
	}
	f.applied++
	if u.SetStep {
		pq.CurrentStepID = u.CurrentStepID
	}
	pq.AddChanges(u.AddChanges)
	if u.IncAttempts {
		pq.AttemptsNum++
	}
	if u.SetComplete {
		pq.IsComplete = true
	}
	return nil
}

func (f *fakeProgress) Reset(_ context.Context, id int64, firstStepID int64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pq, ok := f.rows[id]
	if !ok {
		return game.ErrNotFound
	}
	pq.CurrentStepID = &firstStepID
	pq.Changes = nil
	pq.IsComplete = false
	return nil
}

type fakeContent struct {
	firstSteps map[int64]game.Step
}

func (f *fakeContent) QuestByID(context.Context, int64) (*game.Quest, error) {
	return nil, game.ErrNotFound
}
func (f *fakeContent) QuestByName(context.Context, string) (*game.Quest, error) {
	return nil, game.ErrNotFound
}
func (f *fakeContent) Quests(context.Context) ([]game.Quest, error) { return nil, nil }
func (f *fakeContent) StepByID(context.Context, int64) (*game.Step, error) {
	return nil, game.ErrNotFound
}
func (f *fakeContent) FirstStep(_ context.Context, questID int64) (*game.Step, error) {
	step, ok := f.firstSteps[questID]
	if !ok {
		return nil, game.ErrNotFound
	}
	return &step, nil
}
func (f *fakeContent) OptionsOf(context.Context, int64) ([]game.Option, error) { return nil, nil }
func (f *fakeContent) OptionByText(context.Context, int64, string) (*game.Option, error) {
	return nil, game.ErrNotFound
}
func (f *fakeContent) ChangesOf(context.Context, int64) ([]int64, error) { return nil, nil }

func newTestStore(t *testing.T, progress *fakeProgress) *Store {
	t.Helper()
	content := &fakeContent{firstSteps: map[int64]game.Step{
		7: {ID: 70, QuestID: 7, IsFirst: true},
	}}
	store, err := NewStore(progress, content, Options{CacheSize: 16, CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestActiveQuestReconcilesDuplicates(t *testing.T) {
	progress := newFakeProgress()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	earliest := progress.add(game.PlayersQuest{PlayerID: 1, QuestID: 7, IsActive: true, DateStarted: base})
	progress.add(game.PlayersQuest{PlayerID: 1, QuestID: 8, IsActive: true, DateStarted: base.Add(time.Hour)})

	store := newTestStore(t, progress)
	pq, err := store.ActiveQuest(context.Background(), 1)
	if err != nil {
		t.Fatalf("ActiveQuest: %v", err)
	}
	if pq.ID != earliest {
		t.Fatalf("kept record %d, want earliest %d", pq.ID, earliest)
	}

	rows, _ := progress.ActiveOf(context.Background(), 1)
	if len(rows) != 1 {
		t.Fatalf("after reconcile %d active rows, want 1", len(rows))
	}
}

func TestQuestByPKDeletesDuplicates(t *testing.T) {
	progress := newFakeProgress()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	canonical := progress.add(game.PlayersQuest{PlayerID: 1, QuestID: 7, DateStarted: base})
	dup := progress.add(game.PlayersQuest{PlayerID: 1, QuestID: 7, DateStarted: base.Add(time.Minute)})

	store := newTestStore(t, progress)
	pq, err := store.QuestByPK(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("QuestByPK: %v", err)
	}
	if pq.ID != canonical {
		t.Fatalf("kept record %d, want canonical %d", pq.ID, canonical)
	}
	progress.mu.Lock()
	_, dupAlive := progress.rows[dup]
	progress.mu.Unlock()
	if dupAlive {
		t.Fatal("duplicate row survived reconciliation")
	}
}

func TestActiveQuestCachesAndInvalidates(t *testing.T) {
	progress := newFakeProgress()
	progress.add(game.PlayersQuest{PlayerID: 1, QuestID: 7, IsActive: true})

	store := newTestStore(t, progress)
	ctx := context.Background()

	pq, err := store.ActiveQuest(ctx, 1)
	if err != nil {
		t.Fatalf("ActiveQuest: %v", err)
	}
	if _, err := store.ActiveQuest(ctx, 1); err != nil {
		t.Fatalf("ActiveQuest cached: %v", err)
	}
	if progress.loads != 1 {
		t.Fatalf("loads = %d, want 1 (second read cached)", progress.loads)
	}

	if err := store.Apply(ctx, pq, game.ProgressUpdate{AddChanges: []int64{5}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	refreshed, err := store.ActiveQuest(ctx, 1)
	if err != nil {
		t.Fatalf("ActiveQuest after write: %v", err)
	}
	if progress.loads != 2 {
		t.Fatalf("loads = %d, want 2 (write invalidated cache)", progress.loads)
	}
	if !refreshed.HasChange(5) {
		t.Fatal("applied change missing after reload")
	}
}

func TestActiveQuestNotFound(t *testing.T) {
	store := newTestStore(t, newFakeProgress())
	if _, err := store.ActiveQuest(context.Background(), 42); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreatePlayerQuestDefaultsFirstStep(t *testing.T) {
	progress := newFakeProgress()
	store := newTestStore(t, progress)

	pq, err := store.CreatePlayerQuest(context.Background(), 1, 7, true)
	if err != nil {
		t.Fatalf("CreatePlayerQuest: %v", err)
	}
	if pq.CurrentStepID == nil || *pq.CurrentStepID != 70 {
		t.Fatalf("current step = %v, want 70", pq.CurrentStepID)
	}
	if !pq.IsActive {
		t.Fatal("created record is not active")
	}
}

func TestConcurrentSetActiveKeepsSingleActive(t *testing.T) {
	progress := newFakeProgress()
	var ids []int64
	for q := int64(1); q <= 4; q++ {
		ids = append(ids, progress.add(game.PlayersQuest{PlayerID: 1, QuestID: q}))
	}
	store := newTestStore(t, progress)

	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				pq := &game.PlayersQuest{ID: id, PlayerID: 1}
				if err := store.SetActive(context.Background(), pq); err != nil {
					t.Errorf("SetActive(%d): %v", id, err)
				}
			}(id)
		}
	}
	wg.Wait()

	rows, _ := progress.ActiveOf(context.Background(), 1)
	if len(rows) != 1 {
		t.Fatalf("%d active rows after concurrent activation, want 1", len(rows))
	}
}
