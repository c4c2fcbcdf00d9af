// Package repository owns the local, offline-first copy of the card and
// activity collections. All lifecycle writes and merge results go
// through it; state is persisted as a versioned JSON snapshot so the
// service keeps working with no remote store reachable.
package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/akulagin/invest-card-service/internal/models"
	"github.com/sirupsen/logrus"
)

// schemaVersion tags the snapshot layout. Loading rejects snapshots
// written by an unknown layout instead of guessing at field shapes.
const schemaVersion = 1

// snapshot is the on-disk layout of the local store.
type snapshot struct {
	SchemaVersion int                        `json:"schema_version"`
	Cards         map[string]models.Card     `json:"cards"`
	Activities    map[string]models.Activity `json:"activities"`
	Investors     map[string]models.Investor `json:"investors"`
}

// Repository provides local storage operations for cards, activities
// and investors.
type Repository struct {
	log         *logrus.Logger
	path        string
	activityMax int

	mu         sync.RWMutex
	cards      map[string]*models.Card
	activities map[string]*models.Activity
	investors  map[string]*models.Investor
	cardLocks  map[string]*sync.Mutex
}

// NewRepository initializes a repository backed by the snapshot file at
// path. An empty path keeps the store purely in memory. An existing
// snapshot is loaded; a snapshot with an unknown schema version is an
// error.
func NewRepository(path string, activityMax int, log *logrus.Logger) (*Repository, error) {
	r := &Repository{
		log:         log,
		path:        path,
		activityMax: activityMax,
		cards:       make(map[string]*models.Card),
		activities:  make(map[string]*models.Activity),
		investors:   make(map[string]*models.Investor),
		cardLocks:   make(map[string]*sync.Mutex),
	}
	if path != "" {
		if err := r.load(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Repository) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snap.SchemaVersion != schemaVersion {
		return fmt.Errorf("unsupported snapshot schema version %d, want %d", snap.SchemaVersion, schemaVersion)
	}

	for id, card := range snap.Cards {
		c := card
		r.cards[id] = &c
	}
	for id, activity := range snap.Activities {
		a := activity
		r.activities[id] = &a
	}
	for id, investor := range snap.Investors {
		inv := investor
		r.investors[id] = &inv
	}
	return nil
}

// persistLocked writes the snapshot to a temp file and renames it into
// place. Callers must hold mu.
func (r *Repository) persistLocked() error {
	if r.path == "" {
		return nil
	}

	snap := snapshot{
		SchemaVersion: schemaVersion,
		Cards:         make(map[string]models.Card, len(r.cards)),
		Activities:    make(map[string]models.Activity, len(r.activities)),
		Investors:     make(map[string]models.Investor, len(r.investors)),
	}
	for id, card := range r.cards {
		snap.Cards[id] = *card
	}
	for id, activity := range r.activities {
		snap.Activities[id] = *activity
	}
	for id, investor := range r.investors {
		snap.Investors[id] = *investor
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(r.path), "."+filepath.Base(r.path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Lock serializes writers on one key so that two concurrent
// transitions on the same card cannot interleave. Lifecycle operations
// lock the card id; creation locks the investor id. The returned
// function releases the lock. Lock entries are kept for the process
// lifetime: the key space is bounded by the card and investor ids seen,
// and releasing an entry while another goroutine holds it would let two
// writers into the same critical section.
func (r *Repository) Lock(key string) func() {
	r.mu.Lock()
	lock, ok := r.cardLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.cardLocks[key] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// SaveCard upserts a card. UpdatedAt is kept strictly monotonic per
// card id: a write that would regress the stored timestamp is advanced
// past it. A number held by a different non-deleted card is rejected,
// closing the window between the generator's collision check and the
// write landing.
func (r *Repository) SaveCard(card *models.Card) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, other := range r.cards {
		if id != card.ID && other.Status != models.StatusDeleted && other.Number == card.Number {
			return fmt.Errorf("card number %s already assigned to card %s", card.MaskedNumber(), id)
		}
	}

	if existing, ok := r.cards[card.ID]; ok && !card.UpdatedAt.After(existing.UpdatedAt) {
		card.UpdatedAt = existing.UpdatedAt.Add(time.Millisecond)
	}

	stored := *card
	r.cards[card.ID] = &stored
	return r.persistLocked()
}

// CardByID returns the card with the given id, including tombstones.
// Callers decide how to treat deleted cards.
func (r *Repository) CardByID(id string) (*models.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	card, ok := r.cards[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *card
	return &c, nil
}

// CardByNumber resolves a card by its full number among non-deleted cards.
func (r *Repository) CardByNumber(number string) (*models.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, card := range r.cards {
		if card.Status != models.StatusDeleted && card.Number == number {
			c := *card
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

// ActiveCardByInvestor returns the investor's current non-deleted card,
// if any. At most one exists per investor.
func (r *Repository) ActiveCardByInvestor(investorID string) (*models.Card, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, card := range r.cards {
		if card.Status != models.StatusDeleted && card.InvestorID == investorID {
			c := *card
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

// NumberExists reports whether number is already assigned to a
// non-deleted card. Used by the collision re-draw on generation.
func (r *Repository) NumberExists(number string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, card := range r.cards {
		if card.Status != models.StatusDeleted && card.Number == number {
			return true
		}
	}
	return false
}

// CardsByInvestor returns all non-deleted cards for an investor, newest first.
func (r *Repository) CardsByInvestor(investorID string) []models.Card {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var cards []models.Card
	for _, card := range r.cards {
		if card.Status != models.StatusDeleted && card.InvestorID == investorID {
			cards = append(cards, *card)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].IssueDate.After(cards[j].IssueDate) })
	return cards
}

// AppendActivity appends an activity record and trims the log oldest-first
// once the retention cap is exceeded. Existing ids are never overwritten.
func (r *Repository) AppendActivity(activity *models.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.activities[activity.ID]; ok {
		return fmt.Errorf("activity %s already recorded", activity.ID)
	}
	stored := *activity
	r.activities[activity.ID] = &stored
	r.trimActivitiesLocked()
	return r.persistLocked()
}

func (r *Repository) trimActivitiesLocked() {
	if r.activityMax <= 0 || len(r.activities) <= r.activityMax {
		return
	}

	ordered := make([]*models.Activity, 0, len(r.activities))
	for _, a := range r.activities {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, a := range ordered[:len(ordered)-r.activityMax] {
		delete(r.activities, a.ID)
	}
}

// ActivitiesByCard returns the activity log for one card, newest first.
func (r *Repository) ActivitiesByCard(cardID string) []models.Activity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var activities []models.Activity
	for _, a := range r.activities {
		if a.CardID == cardID {
			activities = append(activities, *a)
		}
	}
	sortNewestFirst(activities)
	return activities
}

// RecentActivities returns the n most recent activities across all cards.
func (r *Repository) RecentActivities(n int) []models.Activity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	activities := make([]models.Activity, 0, len(r.activities))
	for _, a := range r.activities {
		activities = append(activities, *a)
	}
	sortNewestFirst(activities)
	if n > 0 && len(activities) > n {
		activities = activities[:n]
	}
	return activities
}

func sortNewestFirst(activities []models.Activity) {
	sort.Slice(activities, func(i, j int) bool {
		if !activities[i].Timestamp.Equal(activities[j].Timestamp) {
			return activities[i].Timestamp.After(activities[j].Timestamp)
		}
		return activities[i].ID > activities[j].ID
	})
}

// CardsSnapshot returns a copy of the full card collection, tombstones
// included, keyed by id.
func (r *Repository) CardsSnapshot() map[string]models.Card {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.Card, len(r.cards))
	for id, card := range r.cards {
		out[id] = *card
	}
	return out
}

// ActivitiesSnapshot returns a copy of the full activity collection keyed by id.
func (r *Repository) ActivitiesSnapshot() map[string]models.Activity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]models.Activity, len(r.activities))
	for id, a := range r.activities {
		out[id] = *a
	}
	return out
}

// MergeCollections runs merge with exclusive access to the card and
// activity collections and swaps in its result. No SaveCard or
// AppendActivity can land between merge reading the local state and the
// merged collections becoming visible, so a concurrent write is either
// part of the merge input or ordered after it, never silently dropped.
// The merged copies are returned for the caller to push. On persistence
// failure the previous state is restored, so readers never observe a
// partial merge.
func (r *Repository) MergeCollections(merge func(cards map[string]models.Card, activities map[string]models.Activity) (map[string]models.Card, map[string]models.Activity)) (map[string]models.Card, map[string]models.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	localCards := make(map[string]models.Card, len(r.cards))
	for id, card := range r.cards {
		localCards[id] = *card
	}
	localActivities := make(map[string]models.Activity, len(r.activities))
	for id, activity := range r.activities {
		localActivities[id] = *activity
	}

	mergedCards, mergedActivities := merge(localCards, localActivities)

	prevCards, prevActivities := r.cards, r.activities

	nextCards := make(map[string]*models.Card, len(mergedCards))
	for id, card := range mergedCards {
		c := card
		nextCards[id] = &c
	}
	nextActivities := make(map[string]*models.Activity, len(mergedActivities))
	for id, activity := range mergedActivities {
		a := activity
		nextActivities[id] = &a
	}

	r.cards = nextCards
	r.activities = nextActivities
	if err := r.persistLocked(); err != nil {
		r.cards = prevCards
		r.activities = prevActivities
		return nil, nil, err
	}
	return mergedCards, mergedActivities, nil
}

// CreateInvestor stores a new investor. Email must be unique.
func (r *Repository) CreateInvestor(investor *models.Investor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.investors {
		if existing.Email == investor.Email {
			return fmt.Errorf("investor with email %s already exists", investor.Email)
		}
	}
	stored := *investor
	r.investors[investor.ID] = &stored
	return r.persistLocked()
}

// InvestorByEmail retrieves an investor by email.
func (r *Repository) InvestorByEmail(email string) (*models.Investor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, investor := range r.investors {
		if investor.Email == email {
			inv := *investor
			return &inv, nil
		}
	}
	return nil, fmt.Errorf("investor not found")
}

// InvestorByID retrieves an investor by id.
func (r *Repository) InvestorByID(id string) (*models.Investor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	investor, ok := r.investors[id]
	if !ok {
		return nil, fmt.Errorf("investor not found")
	}
	inv := *investor
	return &inv, nil
}
