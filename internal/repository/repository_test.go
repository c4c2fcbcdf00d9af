package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/akulagin/invest-card-service/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, path string, activityMax int) *Repository {
	t.Helper()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	repo, err := NewRepository(path, activityMax, log)
	require.NoError(t, err)
	return repo
}

func testCard(id, investorID, number string) *models.Card {
	now := time.Now().UTC()
	return &models.Card{
		ID:         id,
		InvestorID: investorID,
		Number:     number,
		IssueDate:  now,
		ExpiryDate: now.AddDate(3, 0, 0),
		Status:     models.StatusActive,
		Tier:       models.TierStandard,
		UpdatedAt:  now,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.json")

	repo := newTestRepo(t, path, 100)
	card := testCard("card-1", "inv-1", "4000001234567899")
	require.NoError(t, repo.SaveCard(card))
	require.NoError(t, repo.AppendActivity(&models.Activity{
		ID:         "act-1",
		CardID:     "card-1",
		InvestorID: "inv-1",
		Action:     models.ActionCreate,
		Timestamp:  time.Now().UTC(),
	}))

	reloaded := newTestRepo(t, path, 100)
	got, err := reloaded.CardByID("card-1")
	require.NoError(t, err)
	assert.Equal(t, card.Number, got.Number)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Len(t, reloaded.ActivitiesByCard("card-1"), 1)
}

func TestLoadRejectsUnknownSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version":99}`), 0o600))

	_, err := NewRepository(path, 100, logrus.New())
	assert.ErrorContains(t, err, "schema version")
}

func TestSaveCardMonotonicUpdatedAt(t *testing.T) {
	repo := newTestRepo(t, "", 100)

	card := testCard("card-1", "inv-1", "4000001234567899")
	card.UpdatedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveCard(card))

	stale := *card
	stale.UpdatedAt = card.UpdatedAt.Add(-time.Hour)
	require.NoError(t, repo.SaveCard(&stale))

	got, err := repo.CardByID("card-1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(card.UpdatedAt),
		"stored UpdatedAt %s must advance past %s", got.UpdatedAt, card.UpdatedAt)
}

func TestTombstoneExcludedFromActiveQueries(t *testing.T) {
	repo := newTestRepo(t, "", 100)

	card := testCard("card-1", "inv-1", "4000001234567899")
	require.NoError(t, repo.SaveCard(card))

	deleted := *card
	deleted.Status = models.StatusDeleted
	deleted.UpdatedAt = card.UpdatedAt.Add(time.Second)
	require.NoError(t, repo.SaveCard(&deleted))

	_, err := repo.ActiveCardByInvestor("inv-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = repo.CardByNumber(card.Number)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.False(t, repo.NumberExists(card.Number))
	assert.Empty(t, repo.CardsByInvestor("inv-1"))

	// The tombstone stays addressable by id for merge continuity.
	got, err := repo.CardByID("card-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, got.Status)
}

func TestActivityRetentionTrim(t *testing.T) {
	repo := newTestRepo(t, "", 5)

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		require.NoError(t, repo.AppendActivity(&models.Activity{
			ID:        fmt.Sprintf("act-%02d", i),
			CardID:    "card-1",
			Action:    models.ActionView,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent := repo.RecentActivities(0)
	require.Len(t, recent, 5)
	// Oldest entries were dropped; the newest survives at the front.
	assert.Equal(t, "act-07", recent[0].ID)
	assert.Equal(t, "act-03", recent[4].ID)
}

func TestRecentActivitiesLimit(t *testing.T) {
	repo := newTestRepo(t, "", 100)
	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		require.NoError(t, repo.AppendActivity(&models.Activity{
			ID:        fmt.Sprintf("act-%d", i),
			CardID:    "card-1",
			Action:    models.ActionView,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}
	assert.Len(t, repo.RecentActivities(2), 2)
}

func TestAppendActivityRejectsDuplicateID(t *testing.T) {
	repo := newTestRepo(t, "", 100)
	activity := &models.Activity{ID: "act-1", CardID: "card-1", Action: models.ActionView, Timestamp: time.Now()}
	require.NoError(t, repo.AppendActivity(activity))
	assert.Error(t, repo.AppendActivity(activity))
}

func TestMergeCollections(t *testing.T) {
	repo := newTestRepo(t, "", 100)
	require.NoError(t, repo.SaveCard(testCard("card-1", "inv-1", "4000001234567899")))

	mergedCards, mergedActivities, err := repo.MergeCollections(
		func(cards map[string]models.Card, activities map[string]models.Activity) (map[string]models.Card, map[string]models.Activity) {
			// The merge sees the committed local state.
			require.Contains(t, cards, "card-1")
			require.Empty(t, activities)

			cards["card-2"] = *testCard("card-2", "inv-2", "5105101234567898")
			return cards, map[string]models.Activity{
				"act-1": {ID: "act-1", CardID: "card-2", Action: models.ActionCreate, Timestamp: time.Now()},
			}
		})
	require.NoError(t, err)
	assert.Len(t, mergedCards, 2)
	assert.Len(t, mergedActivities, 1)

	got, err := repo.CardByID("card-2")
	require.NoError(t, err)
	assert.Equal(t, "inv-2", got.InvestorID)
	assert.Len(t, repo.RecentActivities(0), 1)
}

func TestSaveCardRejectsNumberInUse(t *testing.T) {
	repo := newTestRepo(t, "", 100)
	require.NoError(t, repo.SaveCard(testCard("card-1", "inv-1", "4000001234567899")))

	// The same number on a different card id never lands.
	assert.Error(t, repo.SaveCard(testCard("card-2", "inv-2", "4000001234567899")))
	_, err := repo.CardByID("card-2")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Updating the holder itself is fine, and a tombstone releases the
	// number for reissue.
	deleted := testCard("card-1", "inv-1", "4000001234567899")
	deleted.Status = models.StatusDeleted
	require.NoError(t, repo.SaveCard(deleted))
	require.NoError(t, repo.SaveCard(testCard("card-2", "inv-2", "4000001234567899")))
}

func TestInvestorUniqueEmail(t *testing.T) {
	repo := newTestRepo(t, "", 100)
	require.NoError(t, repo.CreateInvestor(&models.Investor{ID: "inv-1", Email: "a@b.c", Name: "A"}))
	assert.Error(t, repo.CreateInvestor(&models.Investor{ID: "inv-2", Email: "a@b.c", Name: "B"}))

	got, err := repo.InvestorByEmail("a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", got.ID)
}
