package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m3rciful/questbot/game"
	"github.com/m3rciful/questbot/game/access"
)

// memContent is an in-memory quest graph.
type memContent struct {
	quests  map[int64]game.Quest
	steps   map[int64]game.Step
	options map[int64][]game.Option // stepID -> options
	changes map[int64][]int64       // optionID -> toggled option ids
}

func (m *memContent) QuestByID(_ context.Context, id int64) (*game.Quest, error) {
	q, ok := m.quests[id]
	if !ok {
		return nil, game.ErrNotFound
	}
	return &q, nil
}

func (m *memContent) QuestByName(_ context.Context, name string) (*game.Quest, error) {
	for _, q := range m.quests {
		if q.Name == name {
			q := q
			return &q, nil
		}
	}
	return nil, game.ErrNotFound
}

func (m *memContent) Quests(context.Context) ([]game.Quest, error) {
	var out []game.Quest
	for _, q := range m.quests {
		out = append(out, q)
	}
	return out, nil
}

func (m *memContent) StepByID(_ context.Context, id int64) (*game.Step, error) {
	s, ok := m.steps[id]
	if !ok {
		return nil, game.ErrNotFound
	}
	return &s, nil
}

func (m *memContent) FirstStep(_ context.Context, questID int64) (*game.Step, error) {
	for _, s := range m.steps {
		if s.QuestID == questID && s.IsFirst {
			s := s
			return &s, nil
		}
	}
	return nil, game.ErrNotFound
}

func (m *memContent) OptionsOf(_ context.Context, stepID int64) ([]game.Option, error) {
	return m.options[stepID], nil
}

func (m *memContent) OptionByText(_ context.Context, stepID int64, text string) (*game.Option, error) {
	for _, o := range m.options[stepID] {
		if o.Text == text {
			o := o
			return &o, nil
		}
	}
	return nil, game.ErrNotFound
}

func (m *memContent) ChangesOf(_ context.Context, optionID int64) ([]int64, error) {
	return m.changes[optionID], nil
}

// memSessions is an in-memory session store that records completions.
type memSessions struct {
	content     *memContent
	nextID      int64
	records     map[int64]*game.PlayersQuest
	completions []game.QuestCompleted
}

func newMemSessions(content *memContent) *memSessions {
	return &memSessions{content: content, nextID: 1, records: map[int64]*game.PlayersQuest{}}
}

func (m *memSessions) ActiveQuest(_ context.Context, playerID int64) (*game.PlayersQuest, error) {
	for _, pq := range m.records {
		if pq.PlayerID == playerID && pq.IsActive {
			return pq, nil
		}
	}
	return nil, game.ErrNotFound
}

func (m *memSessions) QuestByPK(_ context.Context, playerID, questID int64) (*game.PlayersQuest, error) {
	for _, pq := range m.records {
		if pq.PlayerID == playerID && pq.QuestID == questID {
			return pq, nil
		}
	}
	return nil, game.ErrNotFound
}

func (m *memSessions) CreatePlayerQuest(ctx context.Context, playerID, questID int64, active bool) (*game.PlayersQuest, error) {
	first, err := m.content.FirstStep(ctx, questID)
	if err != nil {
		return nil, err
	}
	if active {
		for _, other := range m.records {
			if other.PlayerID == playerID {
				other.IsActive = false
			}
		}
	}
	stepID := first.ID
	pq := &game.PlayersQuest{
		ID:            m.nextID,
		PlayerID:      playerID,
		QuestID:       questID,
		CurrentStepID: &stepID,
		IsActive:      active,
	}
	m.nextID++
	m.records[pq.ID] = pq
	return pq, nil
}

func (m *memSessions) SetActive(_ context.Context, pq *game.PlayersQuest) error {
	for _, other := range m.records {
		if other.PlayerID == pq.PlayerID && other.ID != pq.ID {
			other.IsActive = false
		}
	}
	pq.IsActive = true
	return nil
}

func (m *memSessions) Apply(_ context.Context, pq *game.PlayersQuest, u game.ProgressUpdate) error {
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
	if u.Completion != nil {
		m.completions = append(m.completions, *u.Completion)
	}
	return nil
}

func (m *memSessions) Reset(ctx context.Context, pq *game.PlayersQuest, _ bool) error {
	first, err := m.content.FirstStep(ctx, pq.QuestID)
	if err != nil {
		return err
	}
	stepID := first.ID
	pq.CurrentStepID = &stepID
	pq.Changes = nil
	pq.IsComplete = false
	return nil
}

type memGrants struct {
	granted map[[2]int64]bool
}

func (m *memGrants) HasGrant(_ context.Context, questID, playerID int64) (bool, error) {
	return m.granted[[2]int64{questID, playerID}], nil
}

type memGate struct {
	calls int
}

func (m *memGate) PurchaseLink(_ context.Context, player *game.Player, questID, price int64) (string, error) {
	m.calls++
	return "https://pay.example/checkout", nil
}

// twoBranchContent builds the smallest decisive quest: first step A with a
// losing option "left" and a winning option "right".
func twoBranchContent() *memContent {
	return &memContent{
		quests: map[int64]game.Quest{
			7: {ID: 7, Name: "Manor", Price: 0, MaxAttempts: 1, IsActive: true},
		},
		steps: map[int64]game.Step{
			70: {ID: 70, QuestID: 7, Description: "You are at the gate", IsFirst: true},
		},
		options: map[int64][]game.Option{
			70: {
				{ID: 701, QuestID: 7, Text: "left"},
				{ID: 702, QuestID: 7, Text: "right", IsWinning: true},
			},
		},
		changes: map[int64][]int64{},
	}
}

func newTestEngine(content *memContent, grants *memGrants) (*Engine, *memSessions, *memGate) {
	if grants == nil {
		grants = &memGrants{granted: map[[2]int64]bool{}}
	}
	sessions := newMemSessions(content)
	gate := &memGate{}
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	eng := New(content, sessions, access.NewChecker(grants), gate, clock)
	return eng, sessions, gate
}

func TestWinPath(t *testing.T) {
	content := twoBranchContent()
	eng, sessions, _ := newTestEngine(content, nil)
	ctx := context.Background()
	player := &game.Player{ID: 1, TelegramID: 100}
	quest := content.quests[7]

	pq, err := eng.EnterQuest(ctx, player, &quest)
	if err != nil {
		t.Fatalf("EnterQuest: %v", err)
	}
	if pq.CurrentStepID == nil || *pq.CurrentStepID != 70 {
		t.Fatalf("current step = %v, want 70", pq.CurrentStepID)
	}
	if pq.AttemptsNum != 0 {
		t.Fatalf("attempts = %d, want 0", pq.AttemptsNum)
	}

	res, err := eng.Submit(ctx, player, "right")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != OutcomeWon {
		t.Fatalf("outcome = %v, want won", res.Outcome)
	}
	if !pq.IsComplete || pq.AttemptsNum != 1 {
		t.Fatalf("record after win: complete=%v attempts=%d", pq.IsComplete, pq.AttemptsNum)
	}
	if len(sessions.completions) != 1 {
		t.Fatalf("completions = %d, want 1", len(sessions.completions))
	}
	if sessions.completions[0].IsInAwardingTime {
		t.Fatal("completion flagged as awarding without a window")
	}

	// Post-completion input is ignored: no new records, no state change.
	if _, err := eng.Submit(ctx, player, "left"); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("post-completion submit err = %v, want ErrNotFound", err)
	}
	if len(sessions.completions) != 1 {
		t.Fatalf("completions after ignored submit = %d, want 1", len(sessions.completions))
	}
}

func TestLossPath(t *testing.T) {
	content := twoBranchContent()
	eng, sessions, _ := newTestEngine(content, nil)
	ctx := context.Background()
	player := &game.Player{ID: 1}
	quest := content.quests[7]

	pq, err := eng.EnterQuest(ctx, player, &quest)
	if err != nil {
		t.Fatalf("EnterQuest: %v", err)
	}
	res, err := eng.Submit(ctx, player, "left")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != OutcomeLost {
		t.Fatalf("outcome = %v, want lost", res.Outcome)
	}
	if pq.CurrentStepID != nil {
		t.Fatalf("current step = %v, want nil after terminal branch", pq.CurrentStepID)
	}
	if len(sessions.completions) != 0 {
		t.Fatal("loss produced a completion record")
	}
}

func TestUnrecognizedTextLeavesStateUntouched(t *testing.T) {
	content := twoBranchContent()
	eng, _, _ := newTestEngine(content, nil)
	ctx := context.Background()
	player := &game.Player{ID: 1}
	quest := content.quests[7]

	pq, _ := eng.EnterQuest(ctx, player, &quest)
	res, err := eng.Submit(ctx, player, "up")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != OutcomeUnrecognized {
		t.Fatalf("outcome = %v, want unrecognized", res.Outcome)
	}
	if pq.AttemptsNum != 0 || pq.IsComplete || *pq.CurrentStepID != 70 {
		t.Fatal("unrecognized input mutated the record")
	}
}

func TestHiddenOptionRejected(t *testing.T) {
	content := twoBranchContent()
	content.options[70] = append(content.options[70],
		game.Option{ID: 703, QuestID: 7, Text: "secret", IsHidden: true, IsWinning: true})
	eng, sessions, _ := newTestEngine(content, nil)
	ctx := context.Background()
	player := &game.Player{ID: 1}
	quest := content.quests[7]

	pq, _ := eng.EnterQuest(ctx, player, &quest)
	res, err := eng.Submit(ctx, player, "secret")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != OutcomeUnrecognized {
		t.Fatalf("outcome = %v, want unrecognized for hidden option", res.Outcome)
	}
	if len(sessions.completions) != 0 {
		t.Fatal("hidden winning option produced a completion")
	}

	// Once toggled into the changes set the same option becomes selectable.
	pq.AddChanges([]int64{703})
	res, err = eng.Submit(ctx, player, "secret")
	if err != nil {
		t.Fatalf("Submit toggled: %v", err)
	}
	if res.Outcome != OutcomeWon {
		t.Fatalf("outcome = %v, want won after toggle", res.Outcome)
	}
}

func TestToggleRevealsHiddenSibling(t *testing.T) {
	content := &memContent{
		quests: map[int64]game.Quest{7: {ID: 7, IsActive: true}},
		steps: map[int64]game.Step{
			70: {ID: 70, QuestID: 7, IsFirst: true},
			71: {ID: 71, QuestID: 7},
		},
		options: map[int64][]game.Option{
			70: {{ID: 701, QuestID: 7, Text: "open the door", NextStepID: ptr[int64](71)}},
			71: {
				{ID: 711, QuestID: 7, Text: "take the lamp"},
				{ID: 712, QuestID: 7, Text: "take the key", IsHidden: true},
			},
		},
		changes: map[int64][]int64{701: {712}},
	}
	eng, _, _ := newTestEngine(content, nil)
	ctx := context.Background()
	player := &game.Player{ID: 1}
	quest := content.quests[7]

	pq, _ := eng.EnterQuest(ctx, player, &quest)
	res, err := eng.Submit(ctx, player, "open the door")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Outcome != OutcomeNext || res.NextStep == nil || res.NextStep.ID != 71 {
		t.Fatalf("result = %+v, want next step 71", res)
	}
	if !pq.HasChange(712) {
		t.Fatal("toggle not accumulated in changes set")
	}

	opts, _ := content.OptionsOf(ctx, 71)
	var visible []int64
	for _, o := range opts {
		if !o.HiddenFor(pq.HasChange) {
			visible = append(visible, o.ID)
		}
	}
	if len(visible) != 2 {
		t.Fatalf("visible options = %v, want both after toggle", visible)
	}

	// Re-applying the same option must not re-toggle the hidden flag.
	if err := eng.sessions.Reset(ctx, pq, false); err != nil {
		t.Fatalf("reset for replay: %v", err)
	}
	pq.AddChanges([]int64{712})
	if _, err := eng.Submit(ctx, player, "open the door"); err != nil {
		t.Fatalf("replay submit: %v", err)
	}
	count := 0
	for _, id := range pq.Changes {
		if id == 712 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("change 712 present %d times, want 1", count)
	}
}

func TestRestartAndSecondWin(t *testing.T) {
	content := twoBranchContent()
	q := content.quests[7]
	q.MaxAttempts = 2
	content.quests[7] = q

	eng, sessions, _ := newTestEngine(content, nil)
	ctx := context.Background()
	player := &game.Player{ID: 1}

	if _, err := eng.EnterQuest(ctx, player, &q); err != nil {
		t.Fatalf("EnterQuest: %v", err)
	}
	if _, err := eng.Submit(ctx, player, "right"); err != nil {
		t.Fatalf("first win: %v", err)
	}

	pq, err := eng.Restart(ctx, player, &q)
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if pq.IsComplete || pq.CurrentStepID == nil || *pq.CurrentStepID != 70 {
		t.Fatalf("record after restart: %+v", pq)
	}

	if _, err := eng.Submit(ctx, player, "right"); err != nil {
		t.Fatalf("second win: %v", err)
	}
	if len(sessions.completions) != 2 {
		t.Fatalf("completions = %d, want 2 after restart and re-win", len(sessions.completions))
	}

	// Limit reached now; a third run is denied.
	if _, err := eng.Restart(ctx, player, &q); !errors.Is(err, game.ErrAttemptsExceeded) {
		t.Fatalf("third restart err = %v, want ErrAttemptsExceeded", err)
	}
}

func TestRestartBlockedWhenAttemptsExceeded(t *testing.T) {
	content := twoBranchContent()
	eng, _, _ := newTestEngine(content, nil)
	ctx := context.Background()
	player := &game.Player{ID: 1}
	quest := content.quests[7]

	if _, err := eng.EnterQuest(ctx, player, &quest); err != nil {
		t.Fatalf("EnterQuest: %v", err)
	}
	if _, err := eng.Submit(ctx, player, "left"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := eng.Restart(ctx, player, &quest); !errors.Is(err, game.ErrAttemptsExceeded) {
		t.Fatalf("restart err = %v, want ErrAttemptsExceeded", err)
	}

	// Staff bypass the limit.
	staff := &game.Player{ID: 2, IsStaff: true}
	if _, err := eng.EnterQuest(ctx, staff, &quest); err != nil {
		t.Fatalf("staff EnterQuest: %v", err)
	}
	if _, err := eng.Submit(ctx, staff, "left"); err != nil {
		t.Fatalf("staff Submit: %v", err)
	}
	if _, err := eng.Restart(ctx, staff, &quest); err != nil {
		t.Fatalf("staff restart: %v", err)
	}
}

// A zero max_attempts (the schema default) imposes no limit.
func TestZeroMaxAttemptsIsUnlimited(t *testing.T) {
	content := twoBranchContent()
	q := content.quests[7]
	q.MaxAttempts = 0
	content.quests[7] = q

	eng, _, _ := newTestEngine(content, nil)
	ctx := context.Background()
	player := &game.Player{ID: 1}

	if _, err := eng.EnterQuest(ctx, player, &q); err != nil {
		t.Fatalf("EnterQuest: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := eng.Submit(ctx, player, "left"); err != nil {
			t.Fatalf("loss %d: %v", i+1, err)
		}
		if _, err := eng.Restart(ctx, player, &q); err != nil {
			t.Fatalf("restart %d: %v", i+1, err)
		}
	}
	if eng.IsAttemptsExceeded(player, &q, &game.PlayersQuest{AttemptsNum: 99}) {
		t.Fatal("zero limit must never report exceeded")
	}
}

func TestPermissionAndPaymentGates(t *testing.T) {
	content := twoBranchContent()
	paidQuest := game.Quest{ID: 8, Name: "Vault", Price: 50000, MaxAttempts: 1, IsActive: true}
	content.quests[8] = paidQuest
	content.steps[80] = game.Step{ID: 80, QuestID: 8, IsFirst: true}
	inactive := game.Quest{ID: 9, Name: "Closed", IsActive: false}
	content.quests[9] = inactive

	grants := &memGrants{granted: map[[2]int64]bool{}}
	eng, _, gate := newTestEngine(content, grants)
	ctx := context.Background()
	player := &game.Player{ID: 1, TelegramID: 100}

	if _, err := eng.EnterQuest(ctx, player, &inactive); !errors.Is(err, game.ErrPermissionDenied) {
		t.Fatalf("inactive quest err = %v, want ErrPermissionDenied", err)
	}
	if _, err := eng.EnterQuest(ctx, player, &paidQuest); !errors.Is(err, game.ErrNotPaid) {
		t.Fatalf("unpaid quest err = %v, want ErrNotPaid", err)
	}

	url, err := eng.PurchaseLink(ctx, player, &paidQuest, 1)
	if err != nil {
		t.Fatalf("PurchaseLink: %v", err)
	}
	if url == "" || gate.calls != 1 {
		t.Fatalf("purchase link = %q, gate calls = %d", url, gate.calls)
	}

	// A grant settles both the permission and the payment checks.
	grants.granted[[2]int64{8, 1}] = true
	if _, err := eng.EnterQuest(ctx, player, &paidQuest); err != nil {
		t.Fatalf("granted EnterQuest: %v", err)
	}
}

func TestIsPaidFreeQuestIgnoresAttempts(t *testing.T) {
	content := twoBranchContent()
	eng, _, _ := newTestEngine(content, nil)
	quest := content.quests[7]
	player := &game.Player{ID: 1}

	paid, err := eng.IsPaid(context.Background(), player, &quest)
	if err != nil {
		t.Fatalf("IsPaid: %v", err)
	}
	if !paid {
		t.Fatal("free quest reported unpaid")
	}
}

func TestEnterQuestSwitchesActive(t *testing.T) {
	content := twoBranchContent()
	second := game.Quest{ID: 8, Name: "Cellar", IsActive: true}
	content.quests[8] = second
	content.steps[80] = game.Step{ID: 80, QuestID: 8, IsFirst: true}

	eng, sessions, _ := newTestEngine(content, nil)
	ctx := context.Background()
	player := &game.Player{ID: 1}
	first := content.quests[7]

	a, err := eng.EnterQuest(ctx, player, &first)
	if err != nil {
		t.Fatalf("enter first: %v", err)
	}
	b, err := eng.EnterQuest(ctx, player, &second)
	if err != nil {
		t.Fatalf("enter second: %v", err)
	}
	if a.IsActive || !b.IsActive {
		t.Fatalf("active flags after switch: first=%v second=%v", a.IsActive, b.IsActive)
	}

	// Returning to the first quest resumes the same record.
	again, err := eng.EnterQuest(ctx, player, &first)
	if err != nil {
		t.Fatalf("re-enter first: %v", err)
	}
	if again.ID != a.ID || !again.IsActive || b.IsActive {
		t.Fatalf("resume state: again=%d active=%v second=%v", again.ID, again.IsActive, b.IsActive)
	}

	active, err := sessions.ActiveQuest(ctx, player.ID)
	if err != nil {
		t.Fatalf("ActiveQuest: %v", err)
	}
	if active.ID != a.ID {
		t.Fatalf("active record = %d, want %d", active.ID, a.ID)
	}
}

func ptr[T any](v T) *T { return &v }
