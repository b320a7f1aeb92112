// Package httpapi exposes the orchestrator's services over REST. Mutating
// ledger endpoints resolve the authenticated caller to a custodial signer;
// privileged endpoints additionally require the admin role.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/vaulted-markets/orchestrator/internal/app"
	"github.com/vaulted-markets/orchestrator/internal/app/metrics"
	"github.com/vaulted-markets/orchestrator/internal/app/services/listings"
	"github.com/vaulted-markets/orchestrator/internal/domain/escrow"
	"github.com/vaulted-markets/orchestrator/internal/domain/metadata"
	"github.com/vaulted-markets/orchestrator/internal/domain/pool"
	"github.com/vaulted-markets/orchestrator/internal/domain/request"
	"github.com/vaulted-markets/orchestrator/internal/ledger"
	"github.com/vaulted-markets/orchestrator/internal/storage"
	"github.com/vaulted-markets/orchestrator/internal/trade"
)

const (
	defaultRateLimit = 50
	defaultRateBurst = 100
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the core REST API, wrapped with
// authentication and metrics collection.
func NewHandler(application *app.Application, authSecret []byte) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/listings", h.createListing).Methods(http.MethodPost)
	r.HandleFunc("/listings", h.listListings).Methods(http.MethodGet)
	r.HandleFunc("/listings/{seed}", h.getListing).Methods(http.MethodGet)
	r.HandleFunc("/listings/{seed}", h.cancelListing).Methods(http.MethodDelete)
	r.HandleFunc("/listings/{seed}/purchase", h.purchaseListing).Methods(http.MethodPost)
	r.HandleFunc("/listings/{seed}/confirm-delivery", requireRole("admin", h.confirmDelivery)).Methods(http.MethodPost)

	r.HandleFunc("/pools", h.createPool).Methods(http.MethodPost)
	r.HandleFunc("/pools", h.listPools).Methods(http.MethodGet)
	r.HandleFunc("/pools/{id}", h.getPool).Methods(http.MethodGet)
	r.HandleFunc("/pools/{id}/purchase", h.purchasePool).Methods(http.MethodPost)
	r.HandleFunc("/pools/{id}/funding-events", requireRole("admin", h.poolFundingEvent)).Methods(http.MethodPost)
	r.HandleFunc("/pools/{id}/token-events", requireRole("admin", h.poolTokenEvent)).Methods(http.MethodPost)

	r.HandleFunc("/quotes", h.quote).Methods(http.MethodPost)
	r.HandleFunc("/trades", h.executeTrade).Methods(http.MethodPost)

	r.HandleFunc("/assets/{assetID}", h.canonicalView).Methods(http.MethodGet)

	r.HandleFunc("/requests/mint", h.submitMintRequest).Methods(http.MethodPost)
	r.HandleFunc("/requests/mint", h.listMintRequests).Methods(http.MethodGet)
	r.HandleFunc("/requests/mint/{id}/approve", requireRole("admin", h.approveMintRequest)).Methods(http.MethodPost)
	r.HandleFunc("/requests/mint/{id}/reject", requireRole("admin", h.rejectMintRequest)).Methods(http.MethodPost)
	r.HandleFunc("/requests/delist", h.submitDelistRequest).Methods(http.MethodPost)
	r.HandleFunc("/requests/delist", h.listDelistRequests).Methods(http.MethodGet)
	r.HandleFunc("/requests/delist/{id}/approve", requireRole("admin", h.approveDelistRequest)).Methods(http.MethodPost)
	r.HandleFunc("/requests/delist/{id}/reject", requireRole("admin", h.rejectDelistRequest)).Methods(http.MethodPost)

	r.HandleFunc("/admins", requireRole("admin", h.addAdmin)).Methods(http.MethodPost)
	r.HandleFunc("/admins/{account}", requireRole("admin", h.removeAdmin)).Methods(http.MethodDelete)
	r.HandleFunc("/transfers", requireRole("admin", h.restrictedTransfer)).Methods(http.MethodPost)

	limiter := NewRateLimiter(defaultRateLimit, defaultRateBurst, nil)
	auth := NewAuthMiddleware(authSecret, []string{"/healthz", "/metrics"}, nil)
	return metrics.InstrumentHandler(auth.Handler(limiter.Handler(r)))
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Listings ---

func (h *handler) createListing(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AssetMint         string          `json:"asset_mint"`
		SettlementMint    string          `json:"settlement_mint"`
		InitializerAmount uint64          `json:"initializer_amount"`
		TakerAmount       uint64          `json:"taker_amount"`
		Price             uint64          `json:"price"`
		FeeRecipient      string          `json:"fee_recipient"`
		Document          metadata.Record `json:"document"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	seller, err := h.signer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	assetMint, err := ledger.AddressFromBase58(payload.AssetMint)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("asset_mint: %w", err))
		return
	}
	settlementMint, err := ledger.AddressFromBase58(payload.SettlementMint)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("settlement_mint: %w", err))
		return
	}
	var feeRecipient ledger.Address
	if payload.FeeRecipient != "" {
		feeRecipient, err = ledger.AddressFromBase58(payload.FeeRecipient)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("fee_recipient: %w", err))
			return
		}
	}

	rec, err := h.app.Listings.List(r.Context(), seller, listings.ListInput{
		AssetMint:         assetMint,
		SettlementMint:    settlementMint,
		InitializerAmount: payload.InitializerAmount,
		TakerAmount:       payload.TakerAmount,
		Price:             payload.Price,
		FeeRecipient:      feeRecipient,
		Document:          payload.Document,
	})
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *handler) listListings(w http.ResponseWriter, r *http.Request) {
	recs, err := h.app.Listings.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) getListing(w http.ResponseWriter, r *http.Request) {
	seed, err := seedVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Listings.Get(r.Context(), seed)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) purchaseListing(w http.ResponseWriter, r *http.Request) {
	seed, err := seedVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	buyer, err := h.signer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	rec, err := h.app.Listings.Purchase(r.Context(), buyer, seed)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	seed, err := seedVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	admin, err := h.signer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	rec, err := h.app.Listings.ConfirmDelivery(r.Context(), admin, seed)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) cancelListing(w http.ResponseWriter, r *http.Request) {
	seed, err := seedVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	seller, err := h.signer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	rec, err := h.app.Listings.Cancel(r.Context(), seller, seed)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Pools ---

func (h *handler) createPool(w http.ResponseWriter, r *http.Request) {
	var rec pool.Record
	if err := decodeJSON(r.Body, &rec); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Pools.Create(r.Context(), rec)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listPools(w http.ResponseWriter, r *http.Request) {
	recs, err := h.app.Pools.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) getPool(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Pools.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) purchasePool(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Shares uint64 `json:"shares"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Pools.Purchase(r.Context(), mux.Vars(r)["id"], payload.Shares)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) poolFundingEvent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Event string `json:"event"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Pools.ApplyFundingEvent(r.Context(), mux.Vars(r)["id"], pool.FundingEvent(payload.Event))
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) poolTokenEvent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Event     string `json:"event"`
		TokenMint string `json:"token_mint,omitempty"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.app.Pools.ApplyTokenEvent(r.Context(), mux.Vars(r)["id"], pool.TokenEvent(payload.Event), payload.TokenMint)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Trading ---

func (h *handler) quote(w http.ResponseWriter, r *http.Request) {
	var req trade.QuoteRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q, err := h.app.Trade.Quote(r.Context(), req)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *handler) executeTrade(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Quote             trade.Quote `json:"quote"`
		AcceptPriceImpact bool        `json:"accept_price_impact"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	signer, err := h.signer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	sig, err := h.app.Trade.Execute(r.Context(), payload.Quote, signer, trade.ExecuteOptions{
		AcceptPriceImpact: payload.AcceptPriceImpact,
	})
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": sig})
}

// --- Reconciliation ---

func (h *handler) canonicalView(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Reconciler.Reconcile(r.Context(), mux.Vars(r)["assetID"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- Vendor requests ---

func (h *handler) submitMintRequest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AssetID    string `json:"asset_id"`
		ContentRef string `json:"content_ref"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vendor, err := h.signer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	req, err := h.app.Requests.SubmitMint(r.Context(), vendor.PublicKey().String(), payload.AssetID, payload.ContentRef)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *handler) listMintRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.app.Requests.ListMint(r.Context(), request.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *handler) approveMintRequest(w http.ResponseWriter, r *http.Request) {
	admin, err := h.signer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	req, err := h.app.Requests.ApproveMint(r.Context(), admin, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) rejectMintRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.RejectMint(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) submitDelistRequest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AssetID string `json:"asset_id"`
		Seed    uint64 `json:"seed"`
		Reason  string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vendor, err := h.signer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	req, err := h.app.Requests.SubmitDelist(r.Context(), vendor.PublicKey().String(), payload.AssetID, payload.Seed, payload.Reason)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *handler) listDelistRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.app.Requests.ListDelist(r.Context(), request.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *handler) approveDelistRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.ApproveDelist(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) rejectDelistRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.RejectDelist(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- Admin registry ---

func (h *handler) addAdmin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Account string `json:"account"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := ledger.AddressFromBase58(payload.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("account: %w", err))
		return
	}
	actor, err := h.signer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	sig, err := h.app.Registry.AddAdmin(r.Context(), actor, account)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": sig})
}

func (h *handler) restrictedTransfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		From      string `json:"from"`
		To        string `json:"to"`
		AssetMint string `json:"asset_mint"`
		Amount    uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := ledger.AddressFromBase58(payload.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("from: %w", err))
		return
	}
	to, err := ledger.AddressFromBase58(payload.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("to: %w", err))
		return
	}
	assetMint, err := ledger.AddressFromBase58(payload.AssetMint)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("asset_mint: %w", err))
		return
	}
	actor, err := h.signer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	sig, err := h.app.Registry.RestrictedTransfer(r.Context(), actor, from, to, assetMint, payload.Amount)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": sig})
}

func (h *handler) removeAdmin(w http.ResponseWriter, r *http.Request) {
	account, err := ledger.AddressFromBase58(mux.Vars(r)["account"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("account: %w", err))
		return
	}
	actor, err := h.signer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	sig, err := h.app.Registry.RemoveAdmin(r.Context(), actor, account)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": sig})
}

// --- Helpers ---

func (h *handler) signer(r *http.Request) (ledger.Signer, error) {
	identity := Identity(r.Context())
	if identity == "" {
		return nil, ledger.ErrNotConnected
	}
	return h.app.Keys.Signer(identity)
}

func seedVar(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["seed"]
	seed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || seed == 0 {
		return 0, fmt.Errorf("invalid seed %q", raw)
	}
	return seed, nil
}

// errStatus maps service errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrConfirmationTimeout):
		// Ambiguous outcome: report pending, not failure.
		return http.StatusAccepted
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, escrow.ErrInvalidTransition),
		errors.Is(err, pool.ErrInvalidTransition),
		errors.Is(err, pool.ErrShareBounds),
		errors.Is(err, pool.ErrPoolTerminal),
		errors.Is(err, pool.ErrTradingLocked),
		errors.Is(err, trade.ErrStaleQuote),
		errors.Is(err, trade.ErrSlippageExceeded):
		return http.StatusConflict
	case errors.Is(err, trade.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
