// Package service implements the card lifecycle state machine and the
// operations the presentation layer consumes. Every state-changing
// operation advances the card's UpdatedAt and appends one activity
// record.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/akulagin/invest-card-service/internal/accrual"
	"github.com/akulagin/invest-card-service/internal/cardnum"
	"github.com/akulagin/invest-card-service/internal/config"
	"github.com/akulagin/invest-card-service/internal/models"
	"github.com/akulagin/invest-card-service/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// collisionAttempts bounds the number re-draws when a generated card
// number is already taken.
const collisionAttempts = 10

// RateProvider supplies the default monthly rate percent for contracts
// that carry none of their own.
type RateProvider interface {
	MonthlyRate(ctx context.Context) decimal.Decimal
}

// Mailer delivers card notices. Implementations must never be handed
// the security code or PIN.
type Mailer interface {
	SendCardShared(to, investorName, maskedNumber string, expiry time.Time, tier models.CardTier) error
	SendRenewalNotice(to, investorName, maskedNumber string, expiry time.Time) error
}

// Service handles business logic
type Service struct {
	repo   *repository.Repository
	log    *logrus.Logger
	config *config.Config
	rates  RateProvider
	mailer Mailer
}

// NewService initializes a new service. rates and mailer may be nil;
// the configured default rate is used and notices are skipped.
func NewService(repo *repository.Repository, log *logrus.Logger, cfg *config.Config, rates RateProvider, mailer Mailer) *Service {
	return &Service{repo: repo, log: log, config: cfg, rates: rates, mailer: mailer}
}

// CreateCardOptions controls card creation.
type CreateCardOptions struct {
	Tier          models.CardTier
	ValidityYears int
	WithPIN       bool
}

// CreateCard issues a card for the investor. Creation is idempotent per
// investor: if a non-deleted card already exists it is returned instead
// of a duplicate. Generated numbers are re-drawn on collision up to a
// bounded number of attempts.
func (s *Service) CreateCard(ctx context.Context, investorID string, opts CreateCardOptions) (*models.Card, error) {
	unlock := s.repo.Lock(investorID)
	defer unlock()

	if existing, err := s.repo.ActiveCardByInvestor(investorID); err == nil {
		return existing, nil
	}

	number, err := s.drawNumber()
	if err != nil {
		return nil, err
	}
	code, err := cardnum.GenerateSecurityCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate security code: %w", err)
	}

	years := opts.ValidityYears
	if years <= 0 {
		years = s.config.ValidityYears
	}
	tier := opts.Tier
	if tier == "" {
		tier = models.TierStandard
	}

	now := time.Now().UTC()
	card := &models.Card{
		ID:             uuid.NewString(),
		InvestorID:     investorID,
		Number:         number,
		SecurityCode:   code,
		IssueDate:      now,
		ExpiryDate:     now.AddDate(years, 0, 0),
		Status:         models.StatusActive,
		Tier:           tier,
		UpdatedAt:      now,
		TotalPrincipal: decimal.Zero,
		TotalAccrued:   decimal.Zero,
		TotalPaid:      decimal.Zero,
		TotalDue:       decimal.Zero,
	}
	if opts.WithPIN {
		pin, err := cardnum.GeneratePIN()
		if err != nil {
			return nil, fmt.Errorf("failed to generate PIN: %w", err)
		}
		card.PIN = pin
	}

	if err := s.repo.SaveCard(card); err != nil {
		return nil, fmt.Errorf("failed to store card: %w", err)
	}
	if err := s.record(models.ActionCreate, card, fmt.Sprintf("card %s issued", card.MaskedNumber())); err != nil {
		return nil, err
	}

	s.log.Infof("Card created for investor %s: %s", investorID, card.MaskedNumber())
	return card, nil
}

// drawNumber generates a checksum-valid card number that is not in use
// by any non-deleted card.
func (s *Service) drawNumber() (string, error) {
	for attempt := 0; attempt < collisionAttempts; attempt++ {
		number, err := cardnum.Generate(s.config.CardPrefix)
		if err != nil {
			return "", fmt.Errorf("failed to generate card number: %w", err)
		}
		if !cardnum.Validate(number) {
			return "", fmt.Errorf("%w: generated number failed self-check", models.ErrInvalidNumber)
		}
		if !s.repo.NumberExists(number) {
			return number, nil
		}
	}
	return "", models.ErrCollisionRetryExhausted
}

// SuspendCard moves an active card to suspended. A no-op if the card is
// already suspended.
func (s *Service) SuspendCard(ctx context.Context, cardID string) (*models.Card, error) {
	unlock := s.repo.Lock(cardID)
	defer unlock()

	card, err := s.usableCard(cardID)
	if err != nil {
		return nil, err
	}
	if card.Status == models.StatusSuspended {
		return card, nil
	}

	card.Status = models.StatusSuspended
	card.UpdatedAt = time.Now().UTC()
	if err := s.repo.SaveCard(card); err != nil {
		return nil, fmt.Errorf("failed to suspend card: %w", err)
	}
	if err := s.record(models.ActionSuspend, card, "card suspended"); err != nil {
		return nil, err
	}

	s.log.Infof("Card %s suspended", card.ID)
	return card, nil
}

// ActivateCard moves a suspended card back to active. Activation does
// not clear an expired date: an activated but expired card stays
// blocked by the expiry predicate until renewed.
func (s *Service) ActivateCard(ctx context.Context, cardID string) (*models.Card, error) {
	unlock := s.repo.Lock(cardID)
	defer unlock()

	card, err := s.usableCard(cardID)
	if err != nil {
		return nil, err
	}
	if card.Status == models.StatusActive {
		return card, nil
	}

	card.Status = models.StatusActive
	card.UpdatedAt = time.Now().UTC()
	if err := s.repo.SaveCard(card); err != nil {
		return nil, fmt.Errorf("failed to activate card: %w", err)
	}
	if err := s.record(models.ActionActivate, card, "card activated"); err != nil {
		return nil, err
	}

	s.log.Infof("Card %s activated", card.ID)
	return card, nil
}

// RenewCard extends the card's expiry, regenerates its security code
// and forces it active regardless of prior state. Renewal is the
// universal make-usable-again operation.
func (s *Service) RenewCard(ctx context.Context, cardID string, validityYears int) (*models.Card, error) {
	unlock := s.repo.Lock(cardID)
	defer unlock()

	card, err := s.usableCard(cardID)
	if err != nil {
		return nil, err
	}

	years := validityYears
	if years <= 0 {
		years = s.config.ValidityYears
	}
	code, err := cardnum.GenerateSecurityCode()
	if err != nil {
		return nil, fmt.Errorf("failed to regenerate security code: %w", err)
	}

	now := time.Now().UTC()
	card.ExpiryDate = now.AddDate(years, 0, 0)
	card.SecurityCode = code
	card.Status = models.StatusActive
	card.UpdatedAt = now
	if err := s.repo.SaveCard(card); err != nil {
		return nil, fmt.Errorf("failed to renew card: %w", err)
	}
	if err := s.record(models.ActionRenew, card, fmt.Sprintf("card renewed for %d years", years)); err != nil {
		return nil, err
	}

	if s.mailer != nil {
		if investor, err := s.repo.InvestorByID(card.InvestorID); err == nil {
			if err := s.mailer.SendRenewalNotice(investor.Email, investor.Name, card.MaskedNumber(), card.ExpiryDate); err != nil {
				s.log.Warnf("Failed to send renewal notice for card %s: %v", card.ID, err)
			}
		}
	}

	s.log.Infof("Card %s renewed until %s", card.ID, card.ExpiryDate.Format("2006-01-02"))
	return card, nil
}

// DeleteCard tombstones the card. The record stays in the collection
// for merge continuity but is excluded from all active-card queries.
// There is no undelete.
func (s *Service) DeleteCard(ctx context.Context, cardID string) error {
	unlock := s.repo.Lock(cardID)
	defer unlock()

	card, err := s.repo.CardByID(cardID)
	if err != nil {
		return err
	}
	if card.Status == models.StatusDeleted {
		return models.ErrAlreadyDeleted
	}

	card.Status = models.StatusDeleted
	card.UpdatedAt = time.Now().UTC()
	if err := s.repo.SaveCard(card); err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	if err := s.record(models.ActionDelete, card, "card deleted"); err != nil {
		return err
	}

	s.log.Infof("Card %s deleted", card.ID)
	return nil
}

// CardByID returns a non-deleted card by id.
func (s *Service) CardByID(ctx context.Context, cardID string) (*models.Card, error) {
	return s.usableCard(cardID)
}

// CardByNumber validates a presented number and resolves it to a card.
// Used by scanning and manual-entry surfaces; validation happens before
// any lookup is attempted.
func (s *Service) CardByNumber(ctx context.Context, number string) (*models.Card, error) {
	if !cardnum.Validate(number) {
		return nil, models.ErrInvalidNumber
	}
	card, err := s.repo.CardByNumber(number)
	if err != nil {
		return nil, err
	}
	if err := s.record(models.ActionScan, card, "card resolved by number"); err != nil {
		return nil, err
	}
	return card, nil
}

// CardsByInvestor lists an investor's non-deleted cards.
func (s *Service) CardsByInvestor(ctx context.Context, investorID string) []models.Card {
	return s.repo.CardsByInvestor(investorID)
}

// ShareCard sends a masked card summary to the given address and logs a
// share activity. Delivery failure is logged but does not fail the
// operation; the share itself is the recorded fact.
func (s *Service) ShareCard(ctx context.Context, cardID, recipient string) error {
	card, err := s.usableCard(cardID)
	if err != nil {
		return err
	}

	if s.mailer != nil {
		investorName := ""
		if investor, err := s.repo.InvestorByID(card.InvestorID); err == nil {
			investorName = investor.Name
		}
		if err := s.mailer.SendCardShared(recipient, investorName, card.MaskedNumber(), card.ExpiryDate, card.Tier); err != nil {
			s.log.Warnf("Failed to send share notice for card %s: %v", card.ID, err)
		}
	}

	return s.record(models.ActionShare, card, fmt.Sprintf("card %s shared with %s", card.MaskedNumber(), recipient))
}

// RefreshFinancials recomputes the card's denormalized financial fields
// from the investor's contracts and ledger operations. Status is never
// changed by a refresh.
func (s *Service) RefreshFinancials(ctx context.Context, cardID string, contracts []models.Contract, operations []models.Operation) (*models.Card, error) {
	unlock := s.repo.Lock(cardID)
	defer unlock()

	card, err := s.usableCard(cardID)
	if err != nil {
		return nil, err
	}

	summary := accrual.InvestorFinancials(s.withDefaultRate(ctx, contracts), operations, time.Now().UTC())
	card.TotalPrincipal = summary.TotalPrincipal
	card.TotalAccrued = summary.TotalAccrued
	card.TotalPaid = summary.TotalPaid
	card.TotalDue = summary.TotalDue
	card.RecentOperations = recentOperations(operations)
	card.UpdatedAt = time.Now().UTC()

	if err := s.repo.SaveCard(card); err != nil {
		return nil, fmt.Errorf("failed to refresh card financials: %w", err)
	}
	if err := s.record(models.ActionUpdate, card, "financial summary refreshed"); err != nil {
		return nil, err
	}
	return card, nil
}

// InvestorSummary aggregates balances for an investor as of now. The
// aggregate is always recomputed; accrual is a function of the current
// time and must not be served from a stale cache.
func (s *Service) InvestorSummary(ctx context.Context, contracts []models.Contract, operations []models.Operation) models.FinancialSummary {
	return accrual.InvestorFinancials(s.withDefaultRate(ctx, contracts), operations, time.Now().UTC())
}

// withDefaultRate fills the default monthly rate into contracts that
// carry none of their own.
func (s *Service) withDefaultRate(ctx context.Context, contracts []models.Contract) []models.Contract {
	var fallback decimal.Decimal
	if s.rates != nil {
		fallback = s.rates.MonthlyRate(ctx)
	} else if rate, err := decimal.NewFromString(s.config.MonthlyRate); err == nil {
		fallback = rate
	}

	out := make([]models.Contract, len(contracts))
	copy(out, contracts)
	for i := range out {
		if out[i].MonthlyRate.IsZero() {
			out[i].MonthlyRate = fallback
		}
	}
	return out
}

func recentOperations(operations []models.Operation) []models.Operation {
	ops := make([]models.Operation, len(operations))
	copy(ops, operations)
	sort.Slice(ops, func(i, j int) bool { return ops[i].Date.After(ops[j].Date) })
	if len(ops) > models.RecentOperationsMax {
		ops = ops[:models.RecentOperationsMax]
	}
	return ops
}

// ActivitiesByCard returns the activity log for a card, newest first.
func (s *Service) ActivitiesByCard(ctx context.Context, cardID string) []models.Activity {
	return s.repo.ActivitiesByCard(cardID)
}

// RecentActivities returns the n most recent activities across cards.
func (s *Service) RecentActivities(ctx context.Context, n int) []models.Activity {
	return s.repo.RecentActivities(n)
}

// usableCard fetches a card and maps tombstones to ErrNotFound.
func (s *Service) usableCard(cardID string) (*models.Card, error) {
	card, err := s.repo.CardByID(cardID)
	if err != nil {
		return nil, err
	}
	if card.Status == models.StatusDeleted {
		return nil, models.ErrNotFound
	}
	return card, nil
}

// record appends one activity for a state-changing operation. Details
// never include the security code or PIN.
func (s *Service) record(action models.ActivityAction, card *models.Card, details string) error {
	activity := &models.Activity{
		ID:         uuid.NewString(),
		CardID:     card.ID,
		InvestorID: card.InvestorID,
		Action:     action,
		Timestamp:  time.Now().UTC(),
		Details:    details,
	}
	if err := s.repo.AppendActivity(activity); err != nil {
		return fmt.Errorf("failed to record %s activity: %w", action, err)
	}
	return nil
}

// Register creates a new investor with a hashed password.
func (s *Service) Register(name, email, password string) (*models.Investor, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	investor := &models.Investor{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hashedPassword),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateInvestor(investor); err != nil {
		return nil, err
	}

	s.log.Infof("Investor registered: %s", investor.Email)
	return investor, nil
}

// Login authenticates an investor and returns a JWT token.
func (s *Service) Login(email, password string) (string, error) {
	investor, err := s.repo.InvestorByEmail(email)
	if err != nil {
		return "", errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(investor.PasswordHash), []byte(password)); err != nil {
		return "", errors.New("invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   investor.ID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("Investor logged in: %s", investor.Email)
	return tokenString, nil
}
