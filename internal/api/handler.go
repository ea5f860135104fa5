package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/glasspoint/nags/internal/distributor"
	"github.com/glasspoint/nags/internal/escalation"
	"github.com/glasspoint/nags/internal/glass"
	"github.com/glasspoint/nags/internal/pipeline"
	"github.com/glasspoint/nags/internal/secret"
	"github.com/glasspoint/nags/internal/storage"
	"github.com/glasspoint/nags/internal/vin"
)

const maxRequestBodySize = 1 << 20 // 1MB

// LookupResolver abstracts the resolution pipeline for the API layer.
type LookupResolver interface {
	Lookup(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error)
}

type Deps struct {
	Store     *storage.Store
	Resolver  LookupResolver
	Encryptor secret.Encryptor
	Token     string
}

// LookupRequest is the body of POST /lookup.
type LookupRequest struct {
	VIN           string   `json:"vin"`
	Positions     []string `json:"positions"`
	TransactionID string   `json:"transaction_id"`
	CustomerName  string   `json:"customer_name"`
	CustomerPhone string   `json:"customer_phone"`
	Urgency       string   `json:"urgency"`
}

// CredentialRequest is the body of POST /credentials. Password arrives in
// plaintext over the authenticated channel and is stored encrypted.
type CredentialRequest struct {
	Distributor string `json:"distributor"`
	LoginURL    string `json:"login_url"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

// CredentialView is a credential with the password elided.
type CredentialView struct {
	Distributor string `json:"distributor"`
	LoginURL    string `json:"login_url"`
	Username    string `json:"username"`
	Active      bool   `json:"active"`
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/lookup", handleLookup(deps))
		r.Get("/lookups", handleRecentLookups(deps))
		r.Get("/escalations", handleListEscalations(deps))
		r.Get("/escalations/{id}", handleGetEscalation(deps))
		r.Get("/credentials", handleListCredentials(deps))
		r.Post("/credentials", handleSaveCredential(deps))
		r.Patch("/credentials/{distributor}", handleSetCredentialActive(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleLookup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req LookupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.VIN == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "vin is required")
			return
		}
		if len(req.Positions) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one position is required")
			return
		}

		positions := make([]glass.Position, 0, len(req.Positions))
		for _, raw := range req.Positions {
			pos, err := glass.ParsePosition(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			positions = append(positions, pos)
		}

		urgency := escalation.Urgency(req.Urgency)
		if req.Urgency != "" && !urgency.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid urgency %q", req.Urgency)
			return
		}

		out, err := deps.Resolver.Lookup(r.Context(), pipeline.Request{
			VIN:           req.VIN,
			Positions:     positions,
			TransactionID: req.TransactionID,
			CustomerName:  req.CustomerName,
			CustomerPhone: req.CustomerPhone,
			Urgency:       urgency,
		})
		if err != nil {
			switch {
			case errors.Is(err, vin.ErrNotFound):
				httpError(w, http.StatusNotFound, "not_found", "vehicle identity not found for vin")
			case errors.Is(err, vin.ErrMalformed):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			default:
				httpError(w, http.StatusBadGateway, "api_error", "lookup failed: %v", err)
			}
			return
		}

		saveLookupAudit(deps.Store, req.VIN, len(positions), out)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// saveLookupAudit records the lookup outcome. Audit failures never fail the
// request.
func saveLookupAudit(store *storage.Store, rawVIN string, requested int, out pipeline.Outcome) {
	if store == nil {
		return
	}
	vinValue := out.Vehicle.VIN
	if vinValue == "" {
		vinValue = rawVIN
	}
	_ = store.SaveLookup(storage.LookupRecord{
		ID:         uuid.New().String(),
		VIN:        vinValue,
		Success:    out.Success,
		Requested:  requested,
		Resolved:   len(out.Parts),
		Escalated:  len(out.EscalationIDs),
		Cached:     out.Cached,
		DurationMs: out.TotalDurationMs,
		CreatedAt:  time.Now().UTC(),
	})
}

func handleRecentLookups(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		records, err := deps.Store.GetRecentLookups(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list lookups: %v", err)
			return
		}
		if records == nil {
			records = []storage.LookupRecord{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func handleListEscalations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		limit := parseIntParam(r, "limit", 50, 200)

		records, err := deps.Store.ListEscalations(status, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list escalations: %v", err)
			return
		}
		if records == nil {
			records = []escalation.Record{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func handleGetEscalation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rec, err := deps.Store.GetEscalation(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "escalation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get escalation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleListCredentials(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, err := deps.Store.ListCredentials(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list credentials: %v", err)
			return
		}

		views := make([]CredentialView, len(creds))
		for i, c := range creds {
			views[i] = CredentialView{
				Distributor: c.Distributor,
				LoginURL:    c.LoginURL,
				Username:    c.Username,
				Active:      c.Active,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleSaveCredential(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CredentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Distributor == "" || req.Username == "" || req.Password == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "distributor, username and password are required")
			return
		}
		if _, ok := distributor.DefaultRegistry()[req.Distributor]; !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown distributor %q", req.Distributor)
			return
		}

		encrypted, err := deps.Encryptor.Encrypt(req.Password)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to encrypt password: %v", err)
			return
		}

		cred := distributor.Credential{
			Distributor:       req.Distributor,
			LoginURL:          req.LoginURL,
			Username:          req.Username,
			EncryptedPassword: encrypted,
			Active:            true,
		}
		if err := deps.Store.UpsertCredential(cred); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save credential: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"distributor": req.Distributor,
			"status":      "saved",
		})
	}
}

func handleSetCredentialActive(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "distributor")

		var req struct {
			Active *bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Active == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "active is required")
			return
		}

		err := deps.Store.SetCredentialActive(name, *req.Active)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no credential for distributor %q", name)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update credential: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"distributor": name,
			"status":      "updated",
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
