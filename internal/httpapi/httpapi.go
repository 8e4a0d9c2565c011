// Package httpapi exposes the terminal's local HTTP surface: login, the
// working cart, battery trade-ins, checkout, the offline sync queue, and the
// refund/warranty session workflow. It is served on the shop LAN for the
// till UI; it is not the transaction system of record.
package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"altarath/pos/internal/cart"
	"altarath/pos/internal/catalog"
	"altarath/pos/internal/checkout"
	"altarath/pos/internal/domain"
	"altarath/pos/internal/refund"
	"altarath/pos/internal/stockgate"
	"altarath/pos/internal/store"
	"altarath/pos/internal/tradein"
	"altarath/pos/internal/txservice"
)

type API struct {
	auth          *AuthManager
	repo          store.Repository
	cart          *cart.Session
	ledger        *tradein.Ledger
	orchestrator  *checkout.Orchestrator
	syncer        *checkout.Syncer
	lookup        catalog.Lookup
	refundCfg     refund.Config
	allowedOrigin string
	loginLimiter  *attemptLimiter
	staffLimiter  *attemptLimiter
	csrfSecret    []byte
	log           *logrus.Entry

	// One refund or warranty session per terminal at a time.
	sessionMu sync.Mutex
	session   *refund.Session
}

func New(auth *AuthManager, repo store.Repository, cartSess *cart.Session, ledger *tradein.Ledger,
	orchestrator *checkout.Orchestrator, syncer *checkout.Syncer, lookup catalog.Lookup,
	refundCfg refund.Config, allowedOrigin string, log *logrus.Entry) *API {

	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		auth:          auth,
		repo:          repo,
		cart:          cartSess,
		ledger:        ledger,
		orchestrator:  orchestrator,
		syncer:        syncer,
		lookup:        lookup,
		refundCfg:     refundCfg,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		staffLimiter:  newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
		log:           log,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

// generateCSRFToken returns a token valid for the current hour bucket.
func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/cart", a.requireAuth(a.handleCart, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/lines", a.requireAuth(a.handleCartLines, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/lines/", a.requireAuth(a.handleCartLineActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/discount", a.requireAuth(a.handleDiscount, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/trade-ins", a.requireAuth(a.handleTradeIns, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/trade-ins/", a.requireAuth(a.handleTradeInActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/stock-check", a.requireAuth(a.handleStockCheck, "cashier", "admin"))
	mux.HandleFunc("/api/v1/trade-in/prices", a.requireAuth(a.handleTradeInPrices, "cashier", "admin"))
	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sync/status", a.requireAuth(a.handleSyncStatus, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sync/run", a.requireAuth(a.handleSyncRun, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sync/purge", a.requireAuth(a.handleSyncPurge, "admin"))
	mux.HandleFunc("/api/v1/staff", a.requireAuth(a.handleStaff, "cashier", "admin"))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, "admin"))

	mux.HandleFunc("/api/v1/refund-session", a.requireAuth(a.handleRefundSession, "cashier", "admin"))
	mux.HandleFunc("/api/v1/refund-session/search", a.requireAuth(a.handleRefundSearch, "cashier", "admin"))
	mux.HandleFunc("/api/v1/refund-session/selection", a.requireAuth(a.handleRefundSelection, "cashier", "admin"))
	mux.HandleFunc("/api/v1/refund-session/confirm", a.requireAuth(a.handleRefundConfirm, "cashier", "admin"))
	mux.HandleFunc("/api/v1/refund-session/authorization", a.requireAuth(a.handleRefundAuthorization, "cashier", "admin"))
	mux.HandleFunc("/api/v1/refund-session/authorize", a.requireAuth(a.handleRefundAuthorize, "cashier", "admin"))
	mux.HandleFunc("/api/v1/refund-session/acknowledge", a.requireAuth(a.handleRefundAcknowledge, "cashier", "admin"))

	return a.withMiddleware(mux)
}

type actorContextKey struct{}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func actorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(withActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths that are exempt from CSRF validation.
// Login is excluded because it is called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) cartView() domain.CartView {
	return domain.CartView{
		Lines:    a.cart.Lines(),
		Discount: a.cart.Discount(),
		TradeIns: a.ledger.Entries(),
		Totals:   a.cart.Totals(a.ledger.Total()),
	}
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"cart": a.cartView()})
	case http.MethodDelete:
		a.cart.Reset()
		a.ledger.Reset()
		writeJSON(w, http.StatusOK, map[string]any{"cart": a.cartView()})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartLines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.AddLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Product.ID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("product id required"))
		return
	}
	if !req.Product.Category.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown product category %q", req.Product.Category))
		return
	}
	if req.Product.Price.IsNegative() {
		writeError(w, http.StatusBadRequest, errors.New("product price must not be negative"))
		return
	}

	line := a.cart.AddLine(req.Product, req.Quantity, req.Details, req.BottleVariant)
	writeJSON(w, http.StatusCreated, map[string]any{"line": line, "cart": a.cartView()})
}

func (a *API) handleCartLineActions(w http.ResponseWriter, r *http.Request) {
	lineKey := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/cart/lines/"), "/")
	if lineKey == "" {
		writeError(w, http.StatusBadRequest, errors.New("line key required"))
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req domain.SetQuantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		// Quantity zero or below removes the line.
		a.cart.SetQuantity(lineKey, req.Quantity)
		writeJSON(w, http.StatusOK, map[string]any{"cart": a.cartView()})
	case http.MethodDelete:
		a.cart.RemoveLine(lineKey)
		writeJSON(w, http.StatusOK, map[string]any{"cart": a.cartView()})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleDiscount(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.Discount
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Kind != domain.DiscountPercentage && req.Kind != domain.DiscountAmount {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown discount kind %q", req.Kind))
			return
		}
		a.cart.ApplyDiscount(req)
		writeJSON(w, http.StatusOK, map[string]any{"cart": a.cartView()})
	case http.MethodDelete:
		a.cart.ClearDiscount()
		writeJSON(w, http.StatusOK, map[string]any{"cart": a.cartView()})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTradeIns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"entries": a.ledger.Entries(),
			"total":   a.ledger.Total(),
		})
	case http.MethodPost:
		var req domain.TradeInRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entry, err := a.ledger.AddEntry(req.BatterySize, req.Condition, req.Amount)
		if err != nil {
			writeTradeInError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"entry": entry, "cart": a.cartView()})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTradeInActions(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/cart/trade-ins/"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("trade-in entry id required"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req domain.TradeInRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entry, err := a.ledger.UpdateEntry(id, req.BatterySize, req.Condition, req.Amount)
		if err != nil {
			var verr *tradein.ValidationError
			switch {
			case errors.As(err, &verr):
				writeTradeInError(w, err)
			case errors.Is(err, tradein.ErrEntryNotFound):
				writeError(w, http.StatusNotFound, err)
			default:
				writeError(w, http.StatusInternalServerError, err)
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entry": entry, "cart": a.cartView()})
	case http.MethodDelete:
		if !a.ledger.RemoveEntry(id) {
			writeError(w, http.StatusNotFound, fmt.Errorf("trade-in entry %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": a.cartView()})
	default:
		writeMethodNotAllowed(w)
	}
}

// writeTradeInError reports every offending field at once so the UI can mark
// them all in a single round trip.
func writeTradeInError(w http.ResponseWriter, err error) {
	var verr *tradein.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  verr.Error(),
			"fields": verr.Fields,
		})
		return
	}
	writeError(w, http.StatusBadRequest, err)
}

func (a *API) handleTradeInPrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	prices, err := a.repo.ListTradeInPrices(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

func (a *API) handleStockCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	violations := stockgate.Validate(r.Context(), a.cart.Lines(), a.lookup)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         len(violations) == 0,
		"violations": violations,
	})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CheckoutSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.CashierID == "" {
		if actor, ok := actorFromContext(r.Context()); ok {
			req.CashierID = actor.Username
		}
	}

	result, err := a.orchestrator.Submit(r.Context(), a.cart, a.ledger, req.CashierID, req.PaymentMethod)
	if err != nil {
		var sv *checkout.StockViolationError
		switch {
		case errors.Is(err, checkout.ErrEmptyCart):
			writeError(w, http.StatusBadRequest, err)
		case errors.As(err, &sv):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":      sv.Error(),
				"violations": sv.Violations,
			})
		case txservice.IsRejected(err):
			writeError(w, http.StatusUnprocessableEntity, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	status, err := a.repo.QueueStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sync": status})
}

func (a *API) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	synced, err := a.syncer.SyncOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"synced": synced})
}

// handleSyncPurge drops synced queue entries older than the retention
// window. Pending entries are never touched.
func (a *API) handleSyncPurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	req := struct {
		KeepHours int `json:"keep_hours"`
	}{KeepHours: 24 * 7}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.KeepHours < 0 {
			writeError(w, http.StatusBadRequest, errors.New("keep_hours must not be negative"))
			return
		}
	}

	cutoff := time.Now().UTC().Add(-time.Duration(req.KeepHours) * time.Hour)
	purged, err := a.repo.PurgeSynced(r.Context(), cutoff)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func (a *API) handleStaff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	staff, err := a.repo.ListStaff(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": staff})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers()})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cashier, err := a.auth.CreateCashier(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}

type refundSessionView struct {
	Kind             refund.Kind          `json:"kind"`
	State            refund.State         `json:"state"`
	Receipt          *domain.Receipt      `json:"receipt,omitempty"`
	SelectedItems    []domain.ReceiptItem `json:"selected_items"`
	Amount           decimal.Decimal      `json:"amount"`
	TradeInComponent decimal.Decimal      `json:"trade_in_component"`
	Failure          string               `json:"failure,omitempty"`
	Outcome          *refund.Outcome      `json:"outcome,omitempty"`
}

func sessionView(s *refund.Session) refundSessionView {
	return refundSessionView{
		Kind:             s.Kind(),
		State:            s.State(),
		Receipt:          s.Receipt(),
		SelectedItems:    s.SelectedItems(),
		Amount:           s.Amount(),
		TradeInComponent: s.TradeInComponent(),
		Failure:          s.Failure(),
		Outcome:          s.Outcome(),
	}
}

type refundSessionRequest struct {
	Kind refund.Kind `json:"kind"`
}

func (a *API) handleRefundSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req refundSessionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Kind != refund.KindRefund && req.Kind != refund.KindWarranty {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown session kind %q", req.Kind))
			return
		}

		a.sessionMu.Lock()
		if a.session != nil && a.session.State() != refund.StateComplete {
			a.sessionMu.Unlock()
			writeError(w, http.StatusConflict, errors.New("a refund session is already open"))
			return
		}
		a.session = refund.NewSession(req.Kind, a.refundCfg)
		s := a.session
		a.sessionMu.Unlock()

		writeJSON(w, http.StatusCreated, map[string]any{"session": sessionView(s)})
	case http.MethodGet:
		s, ok := a.currentSession(w)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(s)})
	case http.MethodDelete:
		a.sessionMu.Lock()
		open := a.session != nil
		a.session = nil
		a.sessionMu.Unlock()
		if !open {
			writeError(w, http.StatusNotFound, errors.New("no refund session open"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) currentSession(w http.ResponseWriter) (*refund.Session, bool) {
	a.sessionMu.Lock()
	s := a.session
	a.sessionMu.Unlock()
	if s == nil {
		writeError(w, http.StatusNotFound, errors.New("no refund session open"))
		return nil, false
	}
	return s, true
}

func (a *API) handleRefundSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	s, ok := a.currentSession(w)
	if !ok {
		return
	}

	var req struct {
		ReferenceNumber string `json:"reference_number"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.Search(r.Context(), req.ReferenceNumber); err != nil {
		switch {
		case errors.Is(err, refund.ErrInvalidState):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, refund.ErrReceiptNotFound):
			writeError(w, http.StatusNotFound, err)
		default:
			// Lookup failure, not absence: the reference may still exist.
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": "transaction lookup failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(s)})
}

func (a *API) handleRefundSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	s, ok := a.currentSession(w)
	if !ok {
		return
	}

	var req struct {
		ItemIDs []string `json:"item_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.SetSelection(req.ItemIDs); err != nil {
		if errors.Is(err, refund.ErrInvalidState) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(s)})
}

func (a *API) handleRefundConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	s, ok := a.currentSession(w)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.Confirm(req.Reason); err != nil {
		if errors.Is(err, refund.ErrNoSelection) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusConflict, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(s)})
}

func (a *API) handleRefundAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	s, ok := a.currentSession(w)
	if !ok {
		return
	}

	if err := s.BeginAuthorization(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(s)})
}

func (a *API) handleRefundAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.staffLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many authorization attempts"))
		return
	}
	s, ok := a.currentSession(w)
	if !ok {
		return
	}

	var req struct {
		StaffID string `json:"staff_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := s.Authorize(r.Context(), req.StaffID)
	if err != nil {
		var authErr *refund.AuthorizationError
		switch {
		case errors.As(err, &authErr):
			writeError(w, http.StatusForbidden, err)
		case errors.Is(err, refund.ErrAuthorizationExpired), errors.Is(err, refund.ErrInvalidState):
			writeError(w, http.StatusConflict, err)
		case txservice.IsRejected(err):
			// The backend understood the refund and refused it; retrying
			// the same request will not help.
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   err.Error(),
				"session": sessionView(s),
			})
		default:
			// Backend unreachable; the session is in the failed state and
			// the cashier decides whether to retry.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":   err.Error(),
				"session": sessionView(s),
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outcome": outcome,
		"session": sessionView(s),
	})
}

func (a *API) handleRefundAcknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	s, ok := a.currentSession(w)
	if !ok {
		return
	}

	if err := s.AcknowledgeFailure(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"session": sessionView(s)})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Enforce CSRF protection for all state-changing requests.
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(startedAt).String(),
		}).Debug("request served")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		logrus.WithError(err).WithField("status", status).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
