// Package httpserver exposes the orchestrators over a small REST API.
// Every route is scoped by user in the path; personas, reports and
// compare sessions never leak across users.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	comparex "github.com/planforge/planforge/agent/agents/compare"
	contractx "github.com/planforge/planforge/agent/contract"
	chatnode "github.com/planforge/planforge/agent/nodes/chat"
	reportx "github.com/planforge/planforge/agent/report"
)

// ResearchService is the slice of the research orchestrator the API uses.
type ResearchService interface {
	RunFullResearch(ctx context.Context, persona contractx.Persona, company string, save bool) (*reportx.Report, error)
	RunTargetedUpdate(ctx context.Context, persona contractx.Persona, company string, kinds map[contractx.SectionKind]bool) (*reportx.Report, error)
}

type ChatService interface {
	HandleTurn(ctx context.Context, userID string, personaID uuid.UUID, company, message string) (chatnode.GraphOutput, error)
}

type CompareService interface {
	Compare(ctx context.Context, persona contractx.Persona, companyA, companyB string, useCached bool) (*comparex.Result, error)
	CompareText(ctx context.Context, persona contractx.Persona, text string, useCached bool) (*comparex.Result, error)
	History(ctx context.Context, persona contractx.Persona, limit int) ([]reportx.CompareSession, error)
}

type Router struct {
	personas reportx.PersonaStore
	repo     reportx.Repository
	research ResearchService
	chat     ChatService
	compare  CompareService
}

func NewRouter(
	personas reportx.PersonaStore,
	repo reportx.Repository,
	research ResearchService,
	chat ChatService,
	compare CompareService,
	allowedOrigins []string,
) http.Handler {
	r := &Router{
		personas: personas,
		repo:     repo,
		research: research,
		chat:     chat,
		compare:  compare,
	}

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.Route("/v1/{user}", func(rt chi.Router) {
		rt.Post("/personas", r.wrap(r.handleCreatePersona))
		rt.Get("/personas/{id}", r.wrap(r.handleGetPersona))
		rt.Put("/personas/{id}", r.wrap(r.handleUpdatePersona))
		rt.Delete("/personas/{id}", r.wrap(r.handleDeletePersona))

		rt.Post("/research", r.wrap(r.handleResearch))
		rt.Get("/reports/latest", r.wrap(r.handleLatestReport))

		rt.Post("/chat", r.wrap(r.handleChat))

		rt.Post("/compare", r.wrap(r.handleCompare))
		rt.Get("/compare/history", r.wrap(r.handleCompareHistory))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			writeError(w, err)
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, contractx.ErrInvalidRequest), errors.Is(err, comparex.ErrCompanyPair):
		status = http.StatusBadRequest
	case errors.Is(err, reportx.ErrPersonaNotFound), errors.Is(err, reportx.ErrReportNotFound):
		status = http.StatusNotFound
	case errors.Is(err, reportx.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (r *Router) loadPersona(req *http.Request, rawID string) (contractx.Persona, error) {
	userID := chi.URLParam(req, "user")
	personaID, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return contractx.Persona{}, errInvalid("persona_id must be a uuid")
	}
	return r.personas.GetPersona(req.Context(), userID, personaID)
}

func errInvalid(msg string) error {
	return &invalidRequestError{msg: msg}
}

type invalidRequestError struct{ msg string }

func (e *invalidRequestError) Error() string { return e.msg }
func (e *invalidRequestError) Is(target error) bool {
	return target == contractx.ErrInvalidRequest
}

// POST /v1/{user}/personas
func (r *Router) handleCreatePersona(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Name    string `json:"name"`
		Role    string `json:"role"`
		Company string `json:"company"`
		Region  string `json:"region"`
		Goal    string `json:"goal"`
		Notes   string `json:"notes"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return errInvalid("invalid json body")
	}

	persona, err := r.personas.CreatePersona(req.Context(), contractx.Persona{
		UserID:  chi.URLParam(req, "user"),
		Name:    body.Name,
		Role:    body.Role,
		Company: body.Company,
		Region:  body.Region,
		Goal:    body.Goal,
		Notes:   body.Notes,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, persona)
}

// GET /v1/{user}/personas/{id}
func (r *Router) handleGetPersona(w http.ResponseWriter, req *http.Request) error {
	persona, err := r.loadPersona(req, chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, persona)
}

// PUT /v1/{user}/personas/{id}
func (r *Router) handleUpdatePersona(w http.ResponseWriter, req *http.Request) error {
	persona, err := r.loadPersona(req, chi.URLParam(req, "id"))
	if err != nil {
		return err
	}

	var body struct {
		Name    *string `json:"name"`
		Role    *string `json:"role"`
		Company *string `json:"company"`
		Region  *string `json:"region"`
		Goal    *string `json:"goal"`
		Notes   *string `json:"notes"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return errInvalid("invalid json body")
	}
	applyIfSet(&persona.Name, body.Name)
	applyIfSet(&persona.Role, body.Role)
	applyIfSet(&persona.Company, body.Company)
	applyIfSet(&persona.Region, body.Region)
	applyIfSet(&persona.Goal, body.Goal)
	applyIfSet(&persona.Notes, body.Notes)

	updated, err := r.personas.UpdatePersona(req.Context(), persona)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, updated)
}

func applyIfSet(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// DELETE /v1/{user}/personas/{id}
func (r *Router) handleDeletePersona(w http.ResponseWriter, req *http.Request) error {
	personaID, err := uuid.Parse(chi.URLParam(req, "id"))
	if err != nil {
		return errInvalid("persona id must be a uuid")
	}
	if err := r.personas.DeletePersona(req.Context(), chi.URLParam(req, "user"), personaID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// POST /v1/{user}/research
// Body: {"persona_id": "...", "company": "...", "sections": ["news"], "save": true}
// Omitting sections runs all six agents; naming sections runs a targeted
// update that may replace chat-edited slots.
func (r *Router) handleResearch(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		PersonaID string   `json:"persona_id"`
		Company   string   `json:"company"`
		Sections  []string `json:"sections"`
		Save      *bool    `json:"save"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return errInvalid("invalid json body")
	}

	persona, err := r.loadPersona(req, body.PersonaID)
	if err != nil {
		return err
	}

	var result *reportx.Report
	if len(body.Sections) > 0 {
		kinds := make(map[contractx.SectionKind]bool, len(body.Sections))
		for _, s := range body.Sections {
			kind, ok := contractx.ParseSectionKind(s)
			if !ok {
				return errInvalid("unknown section kind: " + s)
			}
			kinds[kind] = true
		}
		result, err = r.research.RunTargetedUpdate(req.Context(), persona, body.Company, kinds)
	} else {
		save := true
		if body.Save != nil {
			save = *body.Save
		}
		result, err = r.research.RunFullResearch(req.Context(), persona, body.Company, save)
	}
	if err != nil {
		if result != nil {
			// A conflict after the retry still carries the merged report.
			return writeJSON(w, http.StatusConflict, researchResponse(result))
		}
		return err
	}
	return writeJSON(w, http.StatusOK, researchResponse(result))
}

func researchResponse(r *reportx.Report) map[string]any {
	return map[string]any{
		"report":  r,
		"saved":   !r.Unsaved,
		"version": r.Version,
	}
}

// GET /v1/{user}/reports/latest?persona_id=&company=
func (r *Router) handleLatestReport(w http.ResponseWriter, req *http.Request) error {
	persona, err := r.loadPersona(req, req.URL.Query().Get("persona_id"))
	if err != nil {
		return err
	}
	companyKey := reportx.NormalizeCompanyKey(req.URL.Query().Get("company"))
	if companyKey == "" {
		return errInvalid("company is required")
	}

	latest, err := r.repo.GetLatest(req.Context(), persona.UserID, persona.ID, companyKey)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, latest)
}

// POST /v1/{user}/chat
func (r *Router) handleChat(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		PersonaID string `json:"persona_id"`
		Company   string `json:"company"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return errInvalid("invalid json body")
	}
	personaID, err := uuid.Parse(strings.TrimSpace(body.PersonaID))
	if err != nil {
		return errInvalid("persona_id must be a uuid")
	}

	out, err := r.chat.HandleTurn(req.Context(), chi.URLParam(req, "user"), personaID, body.Company, body.Message)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{
		"reply":  out.Reply,
		"mode":   out.Mode,
		"report": out.Report,
	})
}

// POST /v1/{user}/compare
// Body: {"persona_id": "...", "company_a": "...", "company_b": "..."} or
// {"persona_id": "...", "text": "compare acme and globex"}. Setting
// "use_cached": false forces fresh research on both sides.
func (r *Router) handleCompare(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		PersonaID string `json:"persona_id"`
		CompanyA  string `json:"company_a"`
		CompanyB  string `json:"company_b"`
		Text      string `json:"text"`
		UseCached *bool  `json:"use_cached"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return errInvalid("invalid json body")
	}

	persona, err := r.loadPersona(req, body.PersonaID)
	if err != nil {
		return err
	}

	useCached := true
	if body.UseCached != nil {
		useCached = *body.UseCached
	}

	var result *comparex.Result
	if strings.TrimSpace(body.CompanyA) != "" || strings.TrimSpace(body.CompanyB) != "" {
		result, err = r.compare.Compare(req.Context(), persona, body.CompanyA, body.CompanyB, useCached)
	} else if strings.TrimSpace(body.Text) != "" {
		result, err = r.compare.CompareText(req.Context(), persona, body.Text, useCached)
	} else {
		return errInvalid("either company_a/company_b or text is required")
	}
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

// GET /v1/{user}/compare/history?persona_id=&limit=
func (r *Router) handleCompareHistory(w http.ResponseWriter, req *http.Request) error {
	persona, err := r.loadPersona(req, req.URL.Query().Get("persona_id"))
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	sessions, err := r.compare.History(req.Context(), persona, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, sessions)
}
