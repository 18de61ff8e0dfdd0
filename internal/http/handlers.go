package http

import (
	"errors"
	"net/http"
	"strings"

	"papi/internal/core"
	"papi/internal/identity"
	applog "papi/internal/log"
	"papi/internal/services"
	"papi/internal/session"
)

const budgetCacheKey = "totals"

// anonymousSession groups chat messages from signed-out users.
const anonymousSession = "anonymous"

type entryJSON struct {
	ID          int64  `json:"id,omitempty"`
	Ref         string `json:"ref,omitempty"`
	Kind        string `json:"kind"`
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date"`
}

func entryToJSON(e core.Entry, ref string) entryJSON {
	return entryJSON{
		ID:          e.ID,
		Ref:         ref,
		Kind:        string(e.Kind),
		Category:    e.Category,
		AmountCents: e.Amount.Cents,
		Description: e.Description,
		Date:        e.OccurredOn.String(),
	}
}

// handleSubmitEntry accepts raw text and routes it: "category - amount"
// becomes an expense, anything else goes to the assistant.
func (s *Server) handleSubmitEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req struct {
		Text      string `json:"text"`
		SessionID string `json:"sessionId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	text := sanitizeInput(req.Text)
	if text == "" {
		writeError(w, http.StatusUnprocessableEntity, "text is required")
		return
	}

	res, err := s.entries.SubmitEntry(r.Context(), text, s.sessionID(req.SessionID))
	if err != nil {
		s.writeEntryError(w, r, applog.OpClassify, err)
		return
	}

	if res.Kind == core.ChatQuery {
		writeJSON(w, http.StatusOK, map[string]string{
			"kind":   string(core.ChatQuery),
			"answer": res.Answer,
		})
		return
	}

	s.invalidateBudget()
	writeJSON(w, http.StatusCreated, map[string]any{
		"kind":  string(core.Expense),
		"entry": entryToJSON(res.Entry, res.Ref),
	})
}

func (s *Server) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listExpenses(w, r)
	case http.MethodPost:
		s.createExpense(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) listExpenses(w http.ResponseWriter, r *http.Request) {
	entries, err := s.entries.ListEntries(r.Context())
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "List entries failed",
			applog.FieldOperation, applog.OpList,
			applog.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "could not list entries")
		return
	}

	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryToJSON(e, ""))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

type expenseRequest struct {
	Category    string `json:"category"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

func (s *Server) parseExpense(req expenseRequest) (core.Entry, error) {
	cents, err := core.ParseAmountToCents(strings.TrimSpace(req.Amount))
	if err != nil {
		return core.Entry{}, err
	}

	occurredOn := core.Today()
	if req.Date != "" {
		occurredOn, err = core.ParseDate(req.Date)
		if err != nil {
			return core.Entry{}, err
		}
	}

	return core.Entry{
		Kind:        core.TextEntry,
		Category:    sanitizeInput(req.Category),
		Amount:      core.Money{Cents: cents},
		Description: sanitizeInput(req.Description),
		OccurredOn:  occurredOn,
	}, nil
}

func (s *Server) createExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := s.parseExpense(req)
	if err != nil {
		s.writeEntryError(w, r, applog.OpCreate, err)
		return
	}

	ref, err := s.entries.AddEntry(r.Context(), entry)
	if err != nil {
		s.writeEntryError(w, r, applog.OpCreate, err)
		return
	}

	s.invalidateBudget()
	writeJSON(w, http.StatusCreated, map[string]any{"entry": entryToJSON(entry, ref)})
}

// handleExpenseByID serves PUT and DELETE on /api/expenses/{ref}.
func (s *Server) handleExpenseByID(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimPrefix(r.URL.Path, "/api/expenses/")
	if ref == "" || strings.Contains(ref, "/") {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}

	switch r.Method {
	case http.MethodPut:
		s.updateExpense(w, r, ref)
	case http.MethodDelete:
		s.deleteExpense(w, r, ref)
	default:
		methodNotAllowed(w, http.MethodPut, http.MethodDelete)
	}
}

func (s *Server) updateExpense(w http.ResponseWriter, r *http.Request, ref string) {
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := s.parseExpense(req)
	if err != nil {
		s.writeEntryError(w, r, applog.OpUpdate, err)
		return
	}
	entry.ID = refToID(ref)
	if entry.ID == 0 {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}

	if err := s.entries.UpdateEntry(r.Context(), entry); err != nil {
		s.writeEntryError(w, r, applog.OpUpdate, err)
		return
	}

	s.invalidateBudget()
	writeJSON(w, http.StatusOK, map[string]any{"entry": entryToJSON(entry, ref)})
}

func (s *Server) deleteExpense(w http.ResponseWriter, r *http.Request, ref string) {
	if err := s.entries.DeleteEntry(r.Context(), ref); err != nil {
		s.writeEntryError(w, r, applog.OpDelete, err)
		return
	}

	s.invalidateBudget()
	w.WriteHeader(http.StatusNoContent)
}

// handleImageEntry records a receipt capture as an amount-less entry.
func (s *Server) handleImageEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req struct {
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ref, err := s.entries.AddImageEntry(r.Context(), sanitizeInput(req.Description))
	if err != nil {
		s.writeEntryError(w, r, applog.OpCreate, err)
		return
	}

	s.invalidateBudget()
	writeJSON(w, http.StatusCreated, map[string]string{"ref": ref})
}

type budgetJSON struct {
	Food   int64 `json:"food_cents"`
	Bills  int64 `json:"bills_cents"`
	Rent   int64 `json:"rent_cents"`
	Others int64 `json:"others_cents"`
	Total  int64 `json:"total_cents"`
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	totals, ok := s.budgetCache.Get(budgetCacheKey)
	if !ok {
		var err error
		totals, err = s.entries.BudgetTotals(r.Context())
		if err != nil {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Budget aggregation failed",
				applog.FieldOperation, applog.OpRead,
				applog.FieldError, err.Error())
			writeError(w, http.StatusInternalServerError, "could not aggregate budget")
			return
		}
		s.budgetCache.Set(budgetCacheKey, totals)
	}

	writeJSON(w, http.StatusOK, budgetJSON{
		Food:   totals.Food.Cents,
		Bills:  totals.Bills.Cents,
		Rent:   totals.Rent.Cents,
		Others: totals.Others.Cents,
		Total:  totals.Sum().Cents,
	})
}

type sessionJSON struct {
	Phase   string       `json:"phase"`
	UID     string       `json:"uid,omitempty"`
	Profile *profileJSON `json:"profile,omitempty"`
}

type profileJSON struct {
	Name         string `json:"name"`
	PlaceOfBirth string `json:"placeOfBirth"`
	DateOfBirth  string `json:"dateOfBirth,omitempty"`
	Gender       string `json:"gender"`
	Complete     bool   `json:"complete"`
}

func sessionToJSON(st session.State) sessionJSON {
	out := sessionJSON{Phase: string(st.Phase), UID: st.UID}
	if st.Phase == session.PhaseIncomplete || st.Phase == session.PhaseComplete {
		p := profileToJSON(st.Profile)
		out.Profile = &p
	}
	return out
}

func profileToJSON(p session.Profile) profileJSON {
	out := profileJSON{
		Name:         p.Name,
		PlaceOfBirth: p.PlaceOfBirth,
		Gender:       p.Gender,
		Complete:     p.Complete(),
	}
	if !p.DateOfBirth.IsZero() {
		out.DateOfBirth = p.DateOfBirth.String()
	}
	return out
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, sessionToJSON(s.machine.State()))
}

func (s *Server) handleGoogleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	uid, err := s.verifier.Verify(r.Context(), req.IDToken)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "invalid identity token")
			return
		}
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Token verification failed",
			applog.FieldOperation, applog.OpVerify,
			applog.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "could not verify token")
		return
	}

	if err := s.machine.AuthChanged(r.Context(), uid); err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Profile load failed on sign-in",
			applog.FieldUID, uid, applog.FieldError, err.Error())
		// The session stays in the loading phase; report it as such
	}

	writeJSON(w, http.StatusOK, sessionToJSON(s.machine.State()))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	if err := s.machine.AuthChanged(r.Context(), ""); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Sign-out failed", applog.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "could not sign out")
		return
	}

	writeJSON(w, http.StatusOK, sessionToJSON(s.machine.State()))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getProfile(w, r)
	case http.MethodPut:
		s.putProfile(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	st := s.machine.State()
	if st.Phase == session.PhaseSignedOut || st.Phase == session.PhaseLoading {
		writeError(w, http.StatusNotFound, "no active profile")
		return
	}
	writeJSON(w, http.StatusOK, profileToJSON(st.Profile))
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         *string `json:"name"`
		PlaceOfBirth *string `json:"placeOfBirth"`
		DateOfBirth  *string `json:"dateOfBirth"`
		Gender       *string `json:"gender"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updates := session.ProfileUpdate{
		Name:         req.Name,
		PlaceOfBirth: req.PlaceOfBirth,
		Gender:       req.Gender,
	}
	if req.DateOfBirth != nil {
		dob, err := core.ParseDate(*req.DateOfBirth)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid date of birth")
			return
		}
		updates.DateOfBirth = &dob
	}

	if err := s.machine.ProfileSaved(r.Context(), updates); err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "no active session")
		case errors.Is(err, session.ErrProfileStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "profile store unavailable")
		default:
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Profile save failed",
				applog.FieldOperation, applog.OpUpdate,
				applog.FieldError, err.Error())
			writeError(w, http.StatusInternalServerError, "could not save profile")
		}
		return
	}

	writeJSON(w, http.StatusOK, sessionToJSON(s.machine.State()))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req struct {
		Message   string `json:"message"`
		SessionID string `json:"sessionId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := sanitizeInput(req.Message)
	if message == "" {
		writeError(w, http.StatusUnprocessableEntity, "message is required")
		return
	}

	answer := s.entries.Ask(r.Context(), message, s.sessionID(req.SessionID))
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// sessionID resolves the conversation ID for assistant calls: the
// signed-in user wins, then the caller-supplied ID, then anonymous.
func (s *Server) sessionID(requested string) string {
	if st := s.machine.State(); st.UID != "" {
		return st.UID
	}
	if requested != "" {
		return requested
	}
	return anonymousSession
}

func (s *Server) writeEntryError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, core.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "entry not found")
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidKind),
		errors.Is(err, core.ErrEmptyCategory):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, services.ErrUpdateNotSupported):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Entry operation failed",
			applog.FieldOperation, op,
			applog.FieldError, err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
