package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/fact-memory/internal/factlog"
	"github.com/rcliao/fact-memory/internal/model"
	"github.com/rcliao/fact-memory/internal/policy"
	"github.com/rcliao/fact-memory/internal/store"
	"github.com/rcliao/fact-memory/internal/testutil"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type fixture struct {
	svc *Service
	log *factlog.Log
	idx *store.SQLiteStore
	emb *testutil.WordEmbedder
	dir string
}

type fixtureOpt func(*policy.Config, *bool)

func withLimits(profile, working, total int) fixtureOpt {
	return func(c *policy.Config, _ *bool) {
		c.MaxProfileFacts, c.MaxWorkingFacts, c.MaxFactsPerUser = profile, working, total
	}
}

func withoutIndex() fixtureOpt {
	return func(_ *policy.Config, index *bool) { *index = false }
}

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()
	cfg := policy.Default()
	useIndex := true
	for _, o := range opts {
		o(&cfg, &useIndex)
	}
	pol, err := policy.New(cfg, policy.DefaultKeywords())
	require.NoError(t, err)

	f := &fixture{dir: t.TempDir(), emb: testutil.NewWordEmbedder()}
	f.log = factlog.New(f.dir, factlog.WithClock(clock))
	svcOpts := []Option{WithPolicy(pol), WithClock(clock)}
	if useIndex {
		f.idx, err = store.NewSQLiteStore(filepath.Join(f.dir, "memory.sqlite"),
			store.WithEmbedder(f.emb), store.WithClock(clock))
		require.NoError(t, err)
		t.Cleanup(func() { f.idx.Close() })
		svcOpts = append(svcOpts, WithIndex(f.idx))
	}
	f.svc = New(f.log, svcOpts...)
	return f
}

func (f *fixture) save(t *testing.T, user, text string, meta *policy.Meta) SaveResult {
	t.Helper()
	res, err := f.svc.SaveFact(context.Background(), user, text, meta)
	require.NoError(t, err)
	return res
}

func (f *fixture) mustSave(t *testing.T, user, text string, meta *policy.Meta) string {
	t.Helper()
	res := f.save(t, user, text, meta)
	require.True(t, res.OK(), "save %q rejected: %s", text, res.Reason)
	return res.FactID
}

func (f *fixture) chunkCount(t *testing.T, user, factID string) int {
	t.Helper()
	chunks, err := f.idx.ChunksByFact(context.Background(), user, factID)
	require.NoError(t, err)
	return len(chunks)
}

func TestLooksLikeID(t *testing.T) {
	assert.True(t, LooksLikeID("pf_1a2b3c4d"))
	assert.True(t, LooksLikeID(model.NewFactID(model.FactWorking)))
	assert.False(t, LooksLikeID("pf-1a2b"))
	assert.False(t, LooksLikeID("what is my name"))
	assert.False(t, LooksLikeID("PF_abc"))
}

func TestSaveFact_Classification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	profile := f.save(t, "u1", "Меня зовут Иван, я живу в Москве", nil)
	require.True(t, profile.OK())
	assert.Equal(t, model.FactProfile, profile.Type)
	assert.True(t, strings.HasPrefix(profile.FactID, "pf_"))

	working := f.save(t, "u1", "Сейчас делаем миграцию базы", nil)
	require.True(t, working.OK())
	assert.Equal(t, model.FactWorking, working.Type)

	archive := f.save(t, "u1", "случайный факт без ключевых слов, но длиннее двенадцати символов", nil)
	require.True(t, archive.OK())
	assert.Equal(t, model.FactArchive, archive.Type)

	got, ok, err := f.log.FindByID("u1", profile.FactID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.ImportanceHigh, got.Importance)
	assert.Empty(t, got.ExpiresAt)

	got, _, _ = f.log.FindByID("u1", working.FactID)
	assert.Equal(t, "2026-03-24", got.ExpiresAt)

	got, _, _ = f.log.FindByID("u1", archive.FactID)
	assert.Equal(t, model.ImportanceLow, got.Importance)

	meta, err := f.log.ReadMeta("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.ProfileCount)
	assert.Equal(t, 1, meta.WorkingCount)
	assert.Equal(t, 1, meta.ArchiveCount)
	assert.Equal(t, model.MetaVersion, meta.Version)

	assert.Equal(t, 1, f.chunkCount(t, "u1", profile.FactID))
	facts, err := f.svc.ReadAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, facts, 3)
}

func TestSaveFact_PolicyRejections(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		text string
		want model.Reason
	}{
		{"too short", model.ReasonLength},
		{strings.Repeat("long text ", 30), model.ReasonLength},
		{"Is the meeting moved to Friday?", model.ReasonQuestion},
		{"my key is sk-abcdefghijklmnopqrstuvwxyz123", model.ReasonSecret},
	}
	for _, tt := range tests {
		res := f.save(t, "u1", tt.text, nil)
		assert.Equal(t, tt.want, res.Reason, tt.text)
	}

	_, err := os.Stat(f.log.UserDir("u1"))
	assert.True(t, os.IsNotExist(err), "rejections never touch storage")
}

func TestSaveFact_TextualDuplicate(t *testing.T) {
	f := newFixture(t, withoutIndex())

	f.mustSave(t, "u1", "Alice works at the bakery downtown", nil)
	assert.Equal(t, model.ReasonDuplicate, f.save(t, "u1", "ALICE WORKS AT THE BAKERY", nil).Reason)
	assert.Equal(t, model.ReasonDuplicate, f.save(t, "u1", "Alice works at the bakery downtown since 2019", nil).Reason)
	assert.True(t, f.save(t, "u2", "Alice works at the bakery downtown", nil).OK(), "dedup is per user")
}

func TestSaveFact_SemanticDuplicate(t *testing.T) {
	f := newFixture(t)

	f.mustSave(t, "u1", "green tea every single morning for me", nil)
	res := f.save(t, "u1", "for me every single morning green tea", nil)
	assert.Equal(t, model.ReasonSemanticDuplicate, res.Reason)

	f.emb.SetFailing(true)
	res = f.save(t, "u1", "for me every single morning green tea", nil)
	assert.True(t, res.OK(), "search failure must not block the save")

	facts, err := f.log.ReadAll("u1", model.FactArchive)
	require.NoError(t, err)
	assert.Len(t, facts, 2)
	assert.Equal(t, 0, f.chunkCount(t, "u1", res.FactID), "fact stays in the log only")
}

func TestSaveFact_TierLimits(t *testing.T) {
	f := newFixture(t, withoutIndex(), withLimits(2, 1, 500))
	profile := &policy.Meta{Type: model.FactProfile}
	working := &policy.Meta{Type: model.FactWorking}

	f.mustSave(t, "u1", "Favourite colour is deep ocean blue", profile)
	f.mustSave(t, "u1", "Owns a small golden retriever puppy", profile)
	assert.Equal(t, model.ReasonLimit, f.save(t, "u1", "Prefers trains over long haul flights", profile).Reason)

	f.mustSave(t, "u1", "Drafting the quarterly budget report", working)
	assert.Equal(t, model.ReasonLimit, f.save(t, "u1", "Reviewing pull requests for billing", working).Reason)

	f.mustSave(t, "u1", "Visited Porto in the summer of 2019", nil)
}

func TestSaveFact_EvictsArchiveUnderPressure(t *testing.T) {
	f := newFixture(t, withLimits(50, 50, 4))
	ctx := context.Background()

	low1 := f.mustSave(t, "u1", "Lunch on Monday was mushroom risotto", &policy.Meta{Type: model.FactArchive, Importance: model.ImportanceLow})
	normal := f.mustSave(t, "u1", "The printer on floor two jams often", &policy.Meta{Type: model.FactArchive, Importance: model.ImportanceNormal})
	low2 := f.mustSave(t, "u1", "Parking permit renews every January", &policy.Meta{Type: model.FactArchive, Importance: model.ImportanceLow})
	wk := f.mustSave(t, "u1", "Migrating the wiki to a new host", &policy.Meta{Type: model.FactWorking})

	pf1 := f.mustSave(t, "u1", "Speaks Portuguese and Spanish fluently", &policy.Meta{Type: model.FactProfile})
	_, ok, _ := f.log.FindByID("u1", low1)
	assert.False(t, ok, "oldest low archive fact goes first")
	assert.Equal(t, 0, f.chunkCount(t, "u1", low1))

	f.mustSave(t, "u1", "Allergic to peanuts and shellfish", &policy.Meta{Type: model.FactProfile})
	_, ok, _ = f.log.FindByID("u1", low2)
	assert.False(t, ok)
	_, ok, _ = f.log.FindByID("u1", normal)
	assert.True(t, ok, "normal outlives low")

	f.mustSave(t, "u1", "Birthday falls on the ninth of May", &policy.Meta{Type: model.FactProfile})
	_, ok, _ = f.log.FindByID("u1", normal)
	assert.False(t, ok)

	res := f.save(t, "u1", "Grew up near the Douro river valley", &policy.Meta{Type: model.FactProfile})
	assert.Equal(t, model.ReasonLimit, res.Reason, "profile and working facts are never evicted")

	for _, id := range []string{wk, pf1} {
		_, ok, err := f.log.FindByID("u1", id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}
	facts, err := f.svc.ReadAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, facts, 4)
}

func TestReadAll_HidesExpiredWorking(t *testing.T) {
	f := newFixture(t, withoutIndex())
	ctx := context.Background()

	expired := f.mustSave(t, "u1", "Sprint demo preparation for March", &policy.Meta{Type: model.FactWorking, ExpiresAt: "2026-03-01"})
	live := f.mustSave(t, "u1", "Sprint retro notes for the team", &policy.Meta{Type: model.FactWorking, ExpiresAt: "2026-03-10"})

	facts, err := f.svc.ReadAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, live, facts[0].ID)

	raw, err := f.log.ReadAll("u1", model.FactWorking)
	require.NoError(t, err)
	assert.Len(t, raw, 2, "expired fact stays until cleanup")

	_, ok, err := f.log.FindByID("u1", expired)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestForgetFact_ByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mustSave(t, "u1", "The spare key hides under the blue flowerpot", nil)
	other := f.mustSave(t, "u1", "Band rehearsal happens on Thursday nights", nil)

	res, err := f.svc.ForgetFact(ctx, "u1", id)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, id, res.FactID)

	_, ok, err := f.log.FindByID("u1", id)
	require.NoError(t, err)
	assert.False(t, ok)

	hits, err := f.svc.Search(ctx, "u1", "spare key blue flowerpot", SearchOptions{TopK: 10})
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, id, h.FactID)
	}
	assert.Equal(t, 1, f.chunkCount(t, "u1", other))

	meta, err := f.log.ReadMeta("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Total())

	res, err = f.svc.ForgetFact(ctx, "u1", id)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonNotFound, res.Reason)
}

func TestForgetFact_ByQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mustSave(t, "u1", "Dentist appointment moved to the clinic on Elm street", nil)
	f.mustSave(t, "u1", "Cousin Maria visits every December", nil)

	res, err := f.svc.ForgetFact(ctx, "u1", "dentist appointment elm street")
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, id, res.FactID)

	res, err = f.svc.ForgetFact(ctx, "nobody", "dentist appointment elm street")
	require.NoError(t, err)
	assert.Equal(t, model.ReasonNotFound, res.Reason)
}

func TestForgetFact_OrphanChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.idx.IngestFact(ctx, store.IngestParams{
		UserID: "u1", FactID: "ar_ghost01", Text: "ghost fact about the attic lamp",
	}))

	res, err := f.svc.ForgetFact(ctx, "u1", "attic lamp")
	require.NoError(t, err)
	assert.Equal(t, model.ReasonNotFound, res.Reason)
	assert.Equal(t, 0, f.chunkCount(t, "u1", "ar_ghost01"))
}

func TestUpdateFact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mustSave(t, "u1", "Standup is at nine in room Vega", &policy.Meta{Type: model.FactWorking})
	before, _, err := f.log.FindByID("u1", id)
	require.NoError(t, err)

	newText := "Standup moved to ten thirty in room Orion"
	res, err := f.svc.UpdateFact(ctx, "u1", id, "  "+newText+" ")
	require.NoError(t, err)
	require.True(t, res.OK())

	after, ok, err := f.log.FindByID("u1", id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newText, after.Text)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.Type, after.Type)
	assert.Equal(t, before.Importance, after.Importance)
	assert.Equal(t, before.ExpiresAt, after.ExpiresAt)

	chunks, err := f.idx.ChunksByFact(ctx, "u1", id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, newText, chunks[0].Text)

	score := func(query string) float64 {
		hits, err := f.svc.Search(ctx, "u1", query, SearchOptions{TopK: 5})
		require.NoError(t, err)
		for _, h := range hits {
			if h.FactID == id {
				return h.Score
			}
		}
		return 0
	}
	assert.Greater(t, score(newText), score("Standup is at nine in room Vega"))
}

func TestSaveFact_TagLikeTextAndLineBreaks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tagged := "Меня зовут Иван, ник в чате [t:archive] навсегда"
	res := f.save(t, "u1", tagged, nil)
	require.True(t, res.OK(), res.Reason)
	require.Equal(t, model.FactProfile, res.Type)

	got, ok, err := f.log.FindByID("u1", res.FactID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.FactProfile, got.Type)
	assert.Equal(t, tagged, got.Text)

	multi := f.mustSave(t, "u1", "Работаю инженером\nв банке   на Арбате", &policy.Meta{Type: model.FactArchive})
	got, ok, err = f.log.FindByID("u1", multi)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Работаю инженером в банке на Арбате", got.Text)

	meta, err := f.log.ReadMeta("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.ProfileCount)
	assert.Equal(t, 1, meta.ArchiveCount)

	injected := "[id:" + res.FactID + "] a different note about the weekend trip"
	upd, err := f.svc.UpdateFact(ctx, "u1", multi, injected)
	require.NoError(t, err)
	require.True(t, upd.OK(), upd.Reason)

	got, ok, err = f.log.FindByID("u1", multi)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, injected, got.Text)
	got, ok, err = f.log.FindByID("u1", res.FactID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tagged, got.Text)
}

func TestUpdateFact_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mustSave(t, "u1", "Library books are due next Tuesday", nil)

	res, err := f.svc.UpdateFact(ctx, "u1", id, "short")
	require.NoError(t, err)
	assert.Equal(t, model.ReasonLength, res.Reason)

	res, err = f.svc.UpdateFact(ctx, "u1", "ar_missing1", "Library books are due next Wednesday")
	require.NoError(t, err)
	assert.Equal(t, model.ReasonNotFound, res.Reason)

	got, _, _ := f.log.FindByID("u1", id)
	assert.Equal(t, "Library books are due next Tuesday", got.Text)
}

func TestReadText(t *testing.T) {
	f := newFixture(t, withoutIndex())
	ctx := context.Background()

	text, err := f.svc.ReadText(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "No saved memories.", text)

	f.mustSave(t, "u1", "Archive note about the old garden shed", nil)
	f.mustSave(t, "u1", "Prefers window seats on planes", &policy.Meta{Type: model.FactProfile})

	text, err = f.svc.ReadText(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "- Prefers window seats on planes\n- Archive note about the old garden shed", text)
}

func TestReadCompat(t *testing.T) {
	f := newFixture(t, withoutIndex())
	ctx := context.Background()

	_, ok, err := f.svc.ReadCompat(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	f.mustSave(t, "u1", "Archive only fact is not part of compat", nil)
	_, ok, err = f.svc.ReadCompat(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	words := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel", "india", "juliet",
		"kilo", "lima", "mike", "november", "oscar", "papa", "quebec", "romeo", "sierra", "tango"}
	for _, w := range words {
		f.mustSave(t, "u1", "Profile detail "+w+" "+strings.Repeat(w[:1], 180), &policy.Meta{Type: model.FactProfile})
	}

	text, ok, err := f.svc.ReadCompat(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(text, "\n... (memory truncated)"))
	assert.Equal(t, CompatLimit+len("\n... (memory truncated)"), len([]rune(text)))
	assert.NotContains(t, text, "Archive only")
}

func TestPromptBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pf := f.mustSave(t, "u1", "Name is Dana and works as a pilot", &policy.Meta{Type: model.FactProfile})
	f.mustSave(t, "u1", "Likes jazz records from the sixties", &policy.Meta{Type: model.FactProfile, Importance: model.ImportanceNormal})
	f.mustSave(t, "u1", "Preparing the cockpit checklist update", &policy.Meta{Type: model.FactWorking})
	f.mustSave(t, "u1", "Old hangar in Faro was repainted", nil)

	blocks, err := f.svc.PromptBlocks(ctx, "u1", "what job does Dana have as a pilot")
	require.NoError(t, err)

	assert.Equal(t, "[PROFILE MEMORY]\n- Name is Dana and works as a pilot", blocks.Profile)
	assert.Equal(t, "[WORKING MEMORY]\n- Preparing the cockpit checklist update", blocks.Working)
	require.True(t, strings.HasPrefix(blocks.Relevant, "[RELEVANT MEMORY FOR THIS TURN]\n- (id="+pf+") "))

	rendered := blocks.String()
	assert.Contains(t, rendered, "[PROFILE MEMORY]")
	assert.Contains(t, rendered, "\n\n[WORKING MEMORY]")

	f.emb.SetFailing(true)
	blocks, err = f.svc.PromptBlocks(ctx, "u1", "pilot")
	require.NoError(t, err)
	assert.Empty(t, blocks.Relevant)
	assert.NotEmpty(t, blocks.Profile)
}

func TestPromptBlocks_Budget(t *testing.T) {
	lines := []string{"- " + strings.Repeat("a", 300), "- " + strings.Repeat("b", 300), "- " + strings.Repeat("c", 300)}
	got := block("[H]", lines, 800)
	assert.Equal(t, 2, strings.Count(got, "\n- "))
	assert.Empty(t, block("[H]", nil, 800))
	assert.Empty(t, block("[H]", []string{strings.Repeat("x", 900)}, 800))
}

func TestExport(t *testing.T) {
	f := newFixture(t, withoutIndex())
	ctx := context.Background()

	f.mustSave(t, "u1", "Expired plan for the old sprint", &policy.Meta{Type: model.FactWorking, ExpiresAt: "2026-01-01"})
	f.mustSave(t, "u1", "Keeps bees on the rooftop garden", nil)

	exp, err := f.svc.Export(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", exp.UserID)
	assert.Len(t, exp.Facts, 2, "export includes expired working facts")
	assert.Equal(t, 2, exp.Meta.Total())
}
