// Package api exposes documents and their transitions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/statekit/internal/document"
	"github.com/dmitrymomot/statekit/pkg/logger"
	"github.com/dmitrymomot/statekit/pkg/transition"
)

// ActorHeader carries the identifier recorded as the actor of a transition.
const ActorHeader = "X-Actor-ID"

// Service is the document use-case surface the handlers need.
type Service interface {
	Create(ctx context.Context, title string) (*document.Document, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	Apply(ctx context.Context, id, name, field, actorID string) (*document.Document, transition.Record, error)
	Transitions(ctx context.Context, id, field string) ([]string, error)
	History(ctx context.Context, id, field string) ([]transition.Record, error)
	Rules(ctx context.Context, field string) ([]transition.Rule, error)
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func New(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{svc: svc, log: log}
}

// Register mounts the document routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Post("/", h.createDocument)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getDocument)
			r.Get("/transitions", h.listTransitions)
			r.Post("/transitions/{name}", h.applyTransition)
			r.Get("/history", h.history)
		})
	})
	r.Get("/rules/{field}", h.rules)
}

type createRequest struct {
	Title string `json:"title"`
}

type applyResponse struct {
	Document *document.Document `json:"document"`
	Record   transition.Record  `json:"record"`
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.Join(errBadRequest, err))
		return
	}
	d, err := h.svc.Create(r.Context(), req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Data: d})
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: d})
}

func (h *Handler) listTransitions(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.Transitions(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("field"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: names})
}

func (h *Handler) applyTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, name := chi.URLParam(r, "id"), chi.URLParam(r, "name")

	d, rec, err := h.svc.Apply(ctx, id, name, r.URL.Query().Get("field"), r.Header.Get(ActorHeader))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.InfoContext(ctx, "document transitioned",
		logger.EntityID(id),
		logger.StatusField(rec.StatusField),
		logger.Transition(name),
		logger.Actor(rec.ActorID),
	)
	writeJSON(w, http.StatusOK, response{Data: applyResponse{Document: d, Record: rec}})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.History(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("field"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: records})
}

func (h *Handler) rules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.Rules(r.Context(), chi.URLParam(r, "field"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: rules})
}

