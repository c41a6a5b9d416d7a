package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/carebridge-au/carebridge/services/wallet-service/internal/storage"
)

type submitClaimRequest struct {
	ParticipantID string `json:"participant_id,omitempty"` // provider/admin only
	BookingID     string `json:"booking_id"`
	AmountCents   int64  `json:"amount_cents"`
	Note          string `json:"note,omitempty"`
}

// SubmitClaim records a claim against a completed booking. Providers may
// submit on a participant's behalf; the decision itself is a separate admin
// step.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req submitClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ParticipantID = strings.TrimSpace(req.ParticipantID)
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Note = strings.TrimSpace(req.Note)
	if req.BookingID == "" {
		http.Error(w, "booking_id is required", http.StatusBadRequest)
		return
	}
	if req.AmountCents <= 0 {
		http.Error(w, "amount_cents must be positive", http.StatusBadRequest)
		return
	}

	role := strings.TrimSpace(r.Header.Get("X-Role"))
	providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id"))

	participantID := ""
	switch {
	case role == "provider" && providerID != "":
		if req.ParticipantID == "" {
			http.Error(w, "participant_id is required for provider claims", http.StatusBadRequest)
			return
		}
		participantID = req.ParticipantID
	default:
		var ok bool
		participantID, ok = participantFromRequest(r, req.ParticipantID)
		if !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}
	if participantID == "" {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := h.repo.CreateClaim(ctx, tx, storage.Claim{
		ParticipantID: participantID,
		ProviderID:    providerID,
		BookingID:     req.BookingID,
		AmountCents:   req.AmountCents,
		Note:          req.Note,
	})
	if err != nil {
		http.Error(w, "failed to create claim", http.StatusInternalServerError)
		return
	}

	if err := h.recordAudit(ctx, tx, r, "wallet.claim.submitted", "", participantID, map[string]any{
		"claim_id":     id,
		"booking_id":   req.BookingID,
		"amount_cents": req.AmountCents,
		"provider_id":  providerID,
	}); err != nil {
		http.Error(w, "failed to record audit event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     id,
		"status": "submitted",
	})
}

func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	role := strings.TrimSpace(r.Header.Get("X-Role"))
	providerID := strings.TrimSpace(r.Header.Get("X-Provider-Id"))

	if role == "provider" && providerID != "" {
		claims, err := h.repo.ListClaimsByProvider(r.Context(), providerID, 50)
		if err != nil {
			http.Error(w, "failed to list claims", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, claimsResponse(claims))
		return
	}

	participantID, ok := participantFromRequest(r, r.URL.Query().Get("participant_id"))
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if participantID == "" {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	claims, err := h.repo.ListClaimsByParticipant(r.Context(), participantID, 50)
	if err != nil {
		http.Error(w, "failed to list claims", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, claimsResponse(claims))
}

func claimsResponse(claims []storage.Claim) []map[string]any {
	out := make([]map[string]any, 0, len(claims))
	for _, c := range claims {
		entry := map[string]any{
			"id":             c.ID,
			"participant_id": c.ParticipantID,
			"provider_id":    c.ProviderID,
			"booking_id":     c.BookingID,
			"amount_cents":   c.AmountCents,
			"status":         c.Status,
			"note":           c.Note,
			"created_at":     c.CreatedAt.UTC().Format(time.RFC3339),
		}
		if c.DecidedAt != nil {
			entry["decided_at"] = c.DecidedAt.UTC().Format(time.RFC3339)
			entry["decide_reason"] = c.DecideReason
		}
		out = append(out, entry)
	}
	return out
}

type decideClaimRequest struct {
	ClaimID  string `json:"claim_id"`
	Decision string `json:"decision"` // approve | reject
	Reason   string `json:"reason,omitempty"`
}

// DecideClaim approves or rejects a submitted claim. Approval debits the
// participant's wallet in the same transaction, keeping the ledger and the
// claim state consistent.
func (h *Handler) DecideClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(r.Header.Get("X-Role")) != "admin" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req decideClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ClaimID = strings.TrimSpace(req.ClaimID)
	req.Decision = strings.TrimSpace(strings.ToLower(req.Decision))
	req.Reason = strings.TrimSpace(req.Reason)
	if req.ClaimID == "" {
		http.Error(w, "claim_id is required", http.StatusBadRequest)
		return
	}
	if req.Decision != "approve" && req.Decision != "reject" {
		http.Error(w, "invalid decision", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	claim, err := h.repo.GetClaimForUpdate(ctx, tx, req.ClaimID)
	if err != nil {
		http.Error(w, "claim not found", http.StatusNotFound)
		return
	}

	status := "approved"
	if req.Decision == "reject" {
		status = "rejected"
	}

	// Replaying the same decision is a no-op; a conflicting one is an error.
	if claim.Status != "submitted" {
		if claim.Status == status {
			writeJSON(w, http.StatusOK, map[string]any{"id": claim.ID, "status": claim.Status})
			return
		}
		http.Error(w, "claim already decided", http.StatusConflict)
		return
	}

	now := time.Now().UTC()
	decidedBy := strings.TrimSpace(r.Header.Get("X-User-Id"))

	if status == "approved" {
		if err := h.repo.DebitWallet(ctx, tx, claim.ParticipantID, claim.AmountCents, "claim", claim.ID); err != nil {
			if errors.Is(err, storage.ErrInsufficientFunds) {
				http.Error(w, "insufficient wallet funds", http.StatusPaymentRequired)
				return
			}
			http.Error(w, "failed to debit wallet", http.StatusInternalServerError)
			return
		}
	}

	if err := h.repo.DecideClaim(ctx, tx, claim.ID, status, decidedBy, req.Reason, now); err != nil {
		http.Error(w, "failed to decide claim", http.StatusInternalServerError)
		return
	}

	if err := h.recordAudit(ctx, tx, r, "wallet.claim."+status, "", claim.ParticipantID, map[string]any{
		"claim_id":     claim.ID,
		"booking_id":   claim.BookingID,
		"amount_cents": claim.AmountCents,
		"reason":       req.Reason,
	}); err != nil {
		http.Error(w, "failed to record audit event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": claim.ID, "status": status})
}
