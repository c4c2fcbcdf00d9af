// Package syncer reconciles the local card and activity collections
// with a shared remote store that may have been mutated independently,
// for example from another device. Cards merge per record by
// last-writer-wins on UpdatedAt; activities merge as an id-keyed set
// union. The merge is deliberately coarse and whole-record: the
// expected workload is a single writer per card at a time, not
// concurrent field-level editing.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/akulagin/invest-card-service/internal/models"
	"github.com/akulagin/invest-card-service/internal/remote"
	"github.com/akulagin/invest-card-service/internal/repository"
	"github.com/sirupsen/logrus"
)

// Synchronizer merges the local repository with a remote store.
type Synchronizer struct {
	repo        *repository.Repository
	remote      remote.Store
	log         *logrus.Logger
	timeout     time.Duration
	activityMax int

	mu      sync.Mutex
	changed chan struct{}
}

// NewSynchronizer wires a synchronizer. timeout bounds one full sync
// round including the network calls; activityMax is the retention cap
// applied after the activity union.
func NewSynchronizer(repo *repository.Repository, store remote.Store, timeout time.Duration, activityMax int, log *logrus.Logger) *Synchronizer {
	return &Synchronizer{
		repo:        repo,
		remote:      store,
		log:         log,
		timeout:     timeout,
		activityMax: activityMax,
		changed:     make(chan struct{}, 1),
	}
}

// Changed returns a channel that receives a notification after every
// sync that applied a merge. Consumers poll it instead of being handed
// vendor callbacks; a slow consumer only collapses notifications, it
// never blocks the synchronizer.
func (s *Synchronizer) Changed() <-chan struct{} {
	return s.changed
}

// Sync runs one merge round: fetch both remote collections, merge into
// the local state under the repository's collection lock, then push the
// merged result back whole. A transport failure before the merge leaves
// local state untouched. The change notification follows the local
// merge, not the push: a push failure is healed by the next round,
// since the push is a full overwrite, but the local collections already
// changed.
func (s *Synchronizer) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	remoteCards, err := s.fetchCards(ctx)
	if err != nil {
		return err
	}
	remoteActivities, err := s.fetchActivities(ctx)
	if err != nil {
		return err
	}

	// The merge runs inside the repository lock so that no lifecycle
	// write can land between reading the local state and the merged
	// collections becoming visible.
	mergedCards, mergedActivities, err := s.repo.MergeCollections(
		func(localCards map[string]models.Card, localActivities map[string]models.Activity) (map[string]models.Card, map[string]models.Activity) {
			return MergeCards(localCards, remoteCards),
				MergeActivities(localActivities, remoteActivities, s.activityMax)
		})
	if err != nil {
		return fmt.Errorf("failed to apply merge: %w", err)
	}

	select {
	case s.changed <- struct{}{}:
	default:
	}
	s.log.WithFields(logrus.Fields{
		"cards":      len(mergedCards),
		"activities": len(mergedActivities),
	}).Info("Merge applied")

	return s.push(ctx, mergedCards, mergedActivities)
}

func (s *Synchronizer) fetchCards(ctx context.Context) (map[string]models.Card, error) {
	raw, err := s.remote.GetAll(ctx, remote.CollectionCards)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch cards: %v", models.ErrTransportFailure, err)
	}
	cards := make(map[string]models.Card, len(raw))
	for id, doc := range raw {
		var card models.Card
		if err := json.Unmarshal(doc, &card); err != nil {
			return nil, fmt.Errorf("malformed remote card %s: %w", id, err)
		}
		cards[id] = card
	}
	return cards, nil
}

func (s *Synchronizer) fetchActivities(ctx context.Context) (map[string]models.Activity, error) {
	raw, err := s.remote.GetAll(ctx, remote.CollectionActivities)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch activities: %v", models.ErrTransportFailure, err)
	}
	activities := make(map[string]models.Activity, len(raw))
	for id, doc := range raw {
		var activity models.Activity
		if err := json.Unmarshal(doc, &activity); err != nil {
			return nil, fmt.Errorf("malformed remote activity %s: %w", id, err)
		}
		activities[id] = activity
	}
	return activities, nil
}

func (s *Synchronizer) push(ctx context.Context, cards map[string]models.Card, activities map[string]models.Activity) error {
	cardDocs := make(map[string]json.RawMessage, len(cards))
	for id, card := range cards {
		doc, err := json.Marshal(card)
		if err != nil {
			return fmt.Errorf("failed to encode card %s: %w", id, err)
		}
		cardDocs[id] = doc
	}
	activityDocs := make(map[string]json.RawMessage, len(activities))
	for id, activity := range activities {
		doc, err := json.Marshal(activity)
		if err != nil {
			return fmt.Errorf("failed to encode activity %s: %w", id, err)
		}
		activityDocs[id] = doc
	}

	if err := s.remote.PutAll(ctx, remote.CollectionCards, cardDocs); err != nil {
		return fmt.Errorf("%w: push cards: %v", models.ErrTransportFailure, err)
	}
	if err := s.remote.PutAll(ctx, remote.CollectionActivities, activityDocs); err != nil {
		return fmt.Errorf("%w: push activities: %v", models.ErrTransportFailure, err)
	}
	return nil
}

// MergeCards reconciles two card collections per record: the record
// with the strictly greater UpdatedAt wins; on a tie the local record
// is kept, since local is the state most recently observed by this
// process. Remote-only records are inserted, local-only records are
// kept for the subsequent push.
func MergeCards(local, remoteCards map[string]models.Card) map[string]models.Card {
	merged := make(map[string]models.Card, len(local)+len(remoteCards))
	for id, card := range local {
		merged[id] = card
	}
	for id, remoteCard := range remoteCards {
		localCard, ok := merged[id]
		if !ok || remoteCard.UpdatedAt.After(localCard.UpdatedAt) {
			merged[id] = remoteCard
		}
	}
	return merged
}

// MergeActivities takes the set union of two activity collections keyed
// by id. An activity, once created, is immutable, so no overwrite is
// possible; the union is trimmed oldest-first to the retention cap.
func MergeActivities(local, remoteActivities map[string]models.Activity, max int) map[string]models.Activity {
	merged := make(map[string]models.Activity, len(local)+len(remoteActivities))
	for id, activity := range local {
		merged[id] = activity
	}
	for id, activity := range remoteActivities {
		if _, ok := merged[id]; !ok {
			merged[id] = activity
		}
	}
	trimOldest(merged, max)
	return merged
}

func trimOldest(activities map[string]models.Activity, max int) {
	if max <= 0 || len(activities) <= max {
		return
	}
	type entry struct {
		id string
		at time.Time
	}
	ordered := make([]entry, 0, len(activities))
	for id, a := range activities {
		ordered = append(ordered, entry{id: id, at: a.Timestamp})
	}
	for len(activities) > max {
		oldest := 0
		for i := 1; i < len(ordered); i++ {
			if ordered[i].at.Before(ordered[oldest].at) ||
				(ordered[i].at.Equal(ordered[oldest].at) && ordered[i].id < ordered[oldest].id) {
				oldest = i
			}
		}
		delete(activities, ordered[oldest].id)
		ordered[oldest] = ordered[len(ordered)-1]
		ordered = ordered[:len(ordered)-1]
	}
}
