package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/akulagin/invest-card-service/internal/models"
	"github.com/akulagin/invest-card-service/internal/remote"
	"github.com/akulagin/invest-card-service/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mergeCard(id string, status models.CardStatus, updatedAt time.Time) models.Card {
	return models.Card{
		ID:         id,
		InvestorID: "inv-" + id,
		Number:     "4000001234567899",
		Status:     status,
		UpdatedAt:  updatedAt,
	}
}

func TestMergeCards(t *testing.T) {
	t1 := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	tests := []struct {
		name       string
		local      map[string]models.Card
		remote     map[string]models.Card
		wantStatus map[string]models.CardStatus
	}{
		{
			name:       "newer remote wins",
			local:      map[string]models.Card{"c1": mergeCard("c1", models.StatusActive, t1)},
			remote:     map[string]models.Card{"c1": mergeCard("c1", models.StatusSuspended, t2)},
			wantStatus: map[string]models.CardStatus{"c1": models.StatusSuspended},
		},
		{
			name:       "newer local survives older remote",
			local:      map[string]models.Card{"c1": mergeCard("c1", models.StatusSuspended, t2)},
			remote:     map[string]models.Card{"c1": mergeCard("c1", models.StatusActive, t1)},
			wantStatus: map[string]models.CardStatus{"c1": models.StatusSuspended},
		},
		{
			name:       "tie prefers local",
			local:      map[string]models.Card{"c1": mergeCard("c1", models.StatusSuspended, t1)},
			remote:     map[string]models.Card{"c1": mergeCard("c1", models.StatusActive, t1)},
			wantStatus: map[string]models.CardStatus{"c1": models.StatusSuspended},
		},
		{
			name:       "remote only record inserted",
			local:      map[string]models.Card{},
			remote:     map[string]models.Card{"c2": mergeCard("c2", models.StatusActive, t1)},
			wantStatus: map[string]models.CardStatus{"c2": models.StatusActive},
		},
		{
			name:       "local only record kept",
			local:      map[string]models.Card{"c3": mergeCard("c3", models.StatusActive, t1)},
			remote:     map[string]models.Card{},
			wantStatus: map[string]models.CardStatus{"c3": models.StatusActive},
		},
		{
			name: "deleted tombstone wins when newer",
			local: map[string]models.Card{
				"c4": mergeCard("c4", models.StatusActive, t1),
			},
			remote: map[string]models.Card{
				"c4": mergeCard("c4", models.StatusDeleted, t2),
			},
			wantStatus: map[string]models.CardStatus{"c4": models.StatusDeleted},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := MergeCards(tt.local, tt.remote)
			require.Len(t, merged, len(tt.wantStatus))
			for id, want := range tt.wantStatus {
				assert.Equal(t, want, merged[id].Status, "card %s", id)
			}
		})
	}
}

func TestMergeActivitiesUnion(t *testing.T) {
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	local := map[string]models.Activity{
		"a1": {ID: "a1", Action: models.ActionCreate, Details: "local", Timestamp: base},
		"a2": {ID: "a2", Action: models.ActionSuspend, Timestamp: base.Add(time.Minute)},
	}
	remoteActs := map[string]models.Activity{
		// Same id with different details: activities are immutable, local copy stays.
		"a1": {ID: "a1", Action: models.ActionCreate, Details: "remote", Timestamp: base},
		"a3": {ID: "a3", Action: models.ActionRenew, Timestamp: base.Add(2 * time.Minute)},
	}

	merged := MergeActivities(local, remoteActs, 0)
	require.Len(t, merged, 3)
	assert.Equal(t, "local", merged["a1"].Details)
}

func TestMergeActivitiesTrim(t *testing.T) {
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	local := map[string]models.Activity{}
	remoteActs := map[string]models.Activity{}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("a%d", i)
		a := models.Activity{ID: id, Action: models.ActionView, Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if i%2 == 0 {
			local[id] = a
		} else {
			remoteActs[id] = a
		}
	}

	merged := MergeActivities(local, remoteActs, 4)
	require.Len(t, merged, 4)
	_, oldestKept := merged["a2"]
	assert.True(t, oldestKept)
	_, dropped := merged["a0"]
	assert.False(t, dropped, "oldest entries must be trimmed first")
	_, dropped = merged["a1"]
	assert.False(t, dropped)
}

func newSyncTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	repo, err := repository.NewRepository("", 100, logrus.New())
	require.NoError(t, err)
	return repo
}

func putRemoteCard(t *testing.T, store remote.Store, card models.Card) {
	t.Helper()
	doc, err := json.Marshal(card)
	require.NoError(t, err)
	existing, err := store.GetAll(context.Background(), remote.CollectionCards)
	require.NoError(t, err)
	existing[card.ID] = doc
	require.NoError(t, store.PutAll(context.Background(), remote.CollectionCards, existing))
}

func TestSyncMergesAndPushes(t *testing.T) {
	repo := newSyncTestRepo(t)
	store := remote.NewMemory()

	t1 := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	// Local: card suspended recently. Remote: stale active copy plus a
	// card this process has never seen.
	localCard := mergeCard("c1", models.StatusSuspended, t1.Add(time.Hour))
	require.NoError(t, repo.SaveCard(&localCard))
	putRemoteCard(t, store, mergeCard("c1", models.StatusActive, t1))
	putRemoteCard(t, store, mergeCard("c2", models.StatusActive, t1))

	s := NewSynchronizer(repo, store, 5*time.Second, 100, logrus.New())
	require.NoError(t, s.Sync(context.Background()))

	// Local suspension survived the merge; the unseen card arrived.
	got, err := repo.CardByID("c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, got.Status)
	got, err = repo.CardByID("c2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)

	// The merged result was pushed back whole.
	pushed, err := store.GetAll(context.Background(), remote.CollectionCards)
	require.NoError(t, err)
	require.Len(t, pushed, 2)
	var pushedCard models.Card
	require.NoError(t, json.Unmarshal(pushed["c1"], &pushedCard))
	assert.Equal(t, models.StatusSuspended, pushedCard.Status)

	// A change notification was published.
	select {
	case <-s.Changed():
	default:
		t.Fatal("expected a change notification after sync")
	}
}

type failingStore struct{}

func (failingStore) GetAll(context.Context, string) (map[string]json.RawMessage, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) PutAll(context.Context, string, map[string]json.RawMessage) error {
	return errors.New("connection refused")
}

func TestSyncTransportFailureLeavesLocalUntouched(t *testing.T) {
	repo := newSyncTestRepo(t)
	card := mergeCard("c1", models.StatusActive, time.Now().UTC())
	require.NoError(t, repo.SaveCard(&card))

	s := NewSynchronizer(repo, failingStore{}, time.Second, 100, logrus.New())
	err := s.Sync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransportFailure)

	got, err := repo.CardByID("c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)

	select {
	case <-s.Changed():
		t.Fatal("no change notification expected after a failed sync")
	default:
	}
}

func TestSyncKeepsWritesLandingDuringMerge(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	repo, err := repository.NewRepository("", 0, log)
	require.NoError(t, err)
	s := NewSynchronizer(repo, remote.NewMemory(), 5*time.Second, 0, log)

	const writes = 1000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < writes; i++ {
			card := mergeCard("c1", models.StatusActive, time.Now().UTC())
			if i%2 == 1 {
				card.Status = models.StatusSuspended
			}
			if err := repo.SaveCard(&card); err != nil {
				t.Errorf("save card: %v", err)
				return
			}
			if err := repo.AppendActivity(&models.Activity{
				ID:        fmt.Sprintf("act-%04d", i),
				CardID:    "c1",
				Action:    models.ActionUpdate,
				Timestamp: time.Now().UTC(),
			}); err != nil {
				t.Errorf("append activity: %v", err)
				return
			}
		}
	}()

	// Sync continuously while the writer runs, then once more after it
	// finishes so the final state went through a full merge round.
	for synced := false; !synced; {
		select {
		case <-done:
			synced = true
		default:
		}
		require.NoError(t, s.Sync(context.Background()))
	}

	activities := repo.ActivitiesSnapshot()
	for i := 0; i < writes; i++ {
		id := fmt.Sprintf("act-%04d", i)
		_, ok := activities[id]
		require.Truef(t, ok, "activity %s was committed and must survive the merge", id)
	}
	cards := repo.CardsSnapshot()
	require.Contains(t, cards, "c1")
	assert.Equal(t, models.StatusSuspended, cards["c1"].Status, "last committed transition must survive the merge")
}

type pushFailingStore struct {
	*remote.Memory
}

func (pushFailingStore) PutAll(context.Context, string, map[string]json.RawMessage) error {
	return errors.New("connection reset")
}

func TestSyncPushFailureStillAppliesAndAnnouncesMerge(t *testing.T) {
	repo := newSyncTestRepo(t)
	seed := remote.NewMemory()
	putRemoteCard(t, seed, mergeCard("c1", models.StatusActive, time.Now().UTC()))

	s := NewSynchronizer(repo, pushFailingStore{seed}, time.Second, 100, logrus.New())
	err := s.Sync(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransportFailure)

	// The local merge went through and was announced; only the push is
	// left for the next round.
	got, err := repo.CardByID("c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
	select {
	case <-s.Changed():
	default:
		t.Fatal("expected a change notification once the merge applied")
	}
}

func TestSyncRejectsMalformedRemoteRecord(t *testing.T) {
	repo := newSyncTestRepo(t)
	store := remote.NewMemory()
	require.NoError(t, store.PutAll(context.Background(), remote.CollectionCards,
		map[string]json.RawMessage{"bad": json.RawMessage(`{"updated_at":"not-a-time"`)}))

	s := NewSynchronizer(repo, store, time.Second, 100, logrus.New())
	err := s.Sync(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrTransportFailure)
}
