package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/akulagin/invest-card-service/internal/middleware"
	"github.com/akulagin/invest-card-service/internal/models"
	"github.com/akulagin/invest-card-service/internal/service"
	"github.com/akulagin/invest-card-service/internal/syncer"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler exposes the card service over HTTP. It is a thin adapter:
// all state changes go through the service's lifecycle operations.
type Handler struct {
	svc  *service.Service
	sync *syncer.Synchronizer
	log  *logrus.Logger
}

// NewHandler initializes a new handler.
func NewHandler(svc *service.Service, sync *syncer.Synchronizer, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, sync: sync, log: log}
}

// cardView is the read-only snapshot handed to the presentation layer.
// Amounts are rounded to two decimal places here and nowhere earlier.
type cardView struct {
	ID               string             `json:"id"`
	Number           string             `json:"number"`
	MaskedNumber     string             `json:"masked_number"`
	SecurityCode     string             `json:"security_code,omitempty"`
	PIN              string             `json:"pin,omitempty"`
	Status           models.CardStatus  `json:"status"`
	Expired          bool               `json:"expired"`
	IssueDate        string             `json:"issue_date"`
	ExpiryDate       string             `json:"expiry_date"`
	Tier             models.CardTier    `json:"tier"`
	TotalPrincipal   string             `json:"total_principal"`
	TotalAccrued     string             `json:"total_accrued"`
	TotalPaid        string             `json:"total_paid"`
	TotalDue         string             `json:"total_due"`
	RecentOperations []models.Operation `json:"recent_operations,omitempty"`
}

// withSecrets controls whether the one-time fields (security code, PIN)
// are included; they are shown only in create and renew responses.
func newCardView(card *models.Card, withSecrets bool) cardView {
	view := cardView{
		ID:               card.ID,
		Number:           card.Number,
		MaskedNumber:     card.MaskedNumber(),
		Status:           card.Status,
		Expired:          card.IsExpired(nowUTC()),
		IssueDate:        card.IssueDate.Format("2006-01-02"),
		ExpiryDate:       card.ExpiryDate.Format("2006-01-02"),
		Tier:             card.Tier,
		TotalPrincipal:   card.TotalPrincipal.StringFixed(2),
		TotalAccrued:     card.TotalAccrued.StringFixed(2),
		TotalPaid:        card.TotalPaid.StringFixed(2),
		TotalDue:         card.TotalDue.StringFixed(2),
		RecentOperations: card.RecentOperations,
	}
	if withSecrets {
		view.SecurityCode = card.SecurityCode
		view.PIN = card.PIN
	}
	return view
}

func nowUTC() time.Time { return time.Now().UTC() }

// Register handles investor registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "email and password are required", http.StatusBadRequest)
		return
	}

	investor, err := h.svc.Register(req.Name, req.Email, req.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{
		"id":    investor.ID,
		"name":  investor.Name,
		"email": investor.Email,
	})
}

// Login handles investor authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.svc.Login(req.Email, req.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// CreateCard issues a card for the authenticated investor.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	investorID, ok := middleware.InvestorID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Tier          models.CardTier `json:"tier"`
		ValidityYears int             `json:"validity_years"`
		WithPIN       bool            `json:"with_pin"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	card, err := h.svc.CreateCard(r.Context(), investorID, service.CreateCardOptions{
		Tier:          req.Tier,
		ValidityYears: req.ValidityYears,
		WithPIN:       req.WithPIN,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, newCardView(card, true))
}

// ListCards returns the authenticated investor's cards.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	investorID, ok := middleware.InvestorID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	cards := h.svc.CardsByInvestor(r.Context(), investorID)
	views := make([]cardView, 0, len(cards))
	for i := range cards {
		views = append(views, newCardView(&cards[i], false))
	}
	h.respondJSON(w, http.StatusOK, views)
}

// GetCard returns one of the investor's cards.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, newCardView(card, false))
}

// SuspendCard suspends a card.
func (h *Handler) SuspendCard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ownedCard(w, r); !ok {
		return
	}
	card, err := h.svc.SuspendCard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, newCardView(card, false))
}

// ActivateCard reactivates a suspended card.
func (h *Handler) ActivateCard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ownedCard(w, r); !ok {
		return
	}
	card, err := h.svc.ActivateCard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, newCardView(card, false))
}

// RenewCard extends a card's validity.
func (h *Handler) RenewCard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ownedCard(w, r); !ok {
		return
	}

	var req struct {
		ValidityYears int `json:"validity_years"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	card, err := h.svc.RenewCard(r.Context(), mux.Vars(r)["id"], req.ValidityYears)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, newCardView(card, true))
}

// DeleteCard tombstones a card.
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ownedCard(w, r); !ok {
		return
	}
	if err := h.svc.DeleteCard(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShareCard sends a masked card summary to a recipient.
func (h *Handler) ShareCard(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ownedCard(w, r); !ok {
		return
	}

	var req struct {
		Recipient string `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Recipient == "" {
		http.Error(w, "recipient is required", http.StatusBadRequest)
		return
	}

	if err := h.svc.ShareCard(r.Context(), mux.Vars(r)["id"], req.Recipient); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LookupCard resolves a presented card number, as used by scanning and
// manual-entry surfaces. The number is checksum-validated before any
// lookup happens.
func (h *Handler) LookupCard(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	card, err := h.svc.CardByNumber(r.Context(), number)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, newCardView(card, false))
}

// CardActivities returns the activity log for a card, newest first.
func (h *Handler) CardActivities(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, h.svc.ActivitiesByCard(r.Context(), card.ID))
}

// RecentActivities returns the most recent activities across all cards.
func (h *Handler) RecentActivities(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	h.respondJSON(w, http.StatusOK, h.svc.RecentActivities(r.Context(), n))
}

// ledgerRequest carries contracts and operations from the external
// ledger for financial evaluation.
type ledgerRequest struct {
	Contracts  []models.Contract  `json:"contracts"`
	Operations []models.Operation `json:"operations"`
}

// InvestorSummary computes the financial aggregate for the posted
// ledger data as of now.
func (h *Handler) InvestorSummary(w http.ResponseWriter, r *http.Request) {
	var req ledgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	summary := h.svc.InvestorSummary(r.Context(), req.Contracts, req.Operations)
	h.respondJSON(w, http.StatusOK, map[string]string{
		"total_principal": summary.TotalPrincipal.StringFixed(2),
		"total_accrued":   summary.TotalAccrued.StringFixed(2),
		"total_paid":      summary.TotalPaid.StringFixed(2),
		"total_due":       summary.TotalDue.StringFixed(2),
	})
}

// RefreshFinancials recomputes a card's denormalized financial fields
// from the posted ledger data.
func (h *Handler) RefreshFinancials(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ownedCard(w, r); !ok {
		return
	}

	var req ledgerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	card, err := h.svc.RefreshFinancials(r.Context(), mux.Vars(r)["id"], req.Contracts, req.Operations)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, newCardView(card, false))
}

// SyncNow triggers a synchronization round outside the schedule.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	if err := h.sync.Sync(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedCard loads the card from the path and verifies it belongs to the
// authenticated investor. A foreign card reads as not found.
func (h *Handler) ownedCard(w http.ResponseWriter, r *http.Request) (*models.Card, bool) {
	investorID, ok := middleware.InvestorID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	card, err := h.svc.CardByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	if card.InvestorID != investorID {
		http.Error(w, models.ErrNotFound.Error(), http.StatusNotFound)
		return nil, false
	}
	return card, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrAlreadyDeleted):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, models.ErrInvalidNumber):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrCollisionRetryExhausted):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, models.ErrTransportFailure):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		h.log.Errorf("Internal error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorf("Failed to encode response: %v", err)
	}
}
