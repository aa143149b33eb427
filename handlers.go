package main

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const sessionCookie = "dynaform_session"

// maxProxyBody caps forwarded GraphQL documents.
const maxProxyBody = 10 << 20

func isAuthenticated(r *http.Request) bool {
	if strings.TrimSpace(r.Header.Get("Authorization")) != "" {
		return true
	}
	return strings.TrimSpace(r.Header.Get("X-User-ID")) != ""
}

// requestContext attaches the caller's credentials and draft session to the
// request context.
func (s *Service) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.RequireAuth && !isPublicPath(r.URL.Path) && !isAuthenticated(r) {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		session := getSessionFromRequest(r)
		if session == "anonymous" {
			session = newSessionID()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    session,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx := withBearer(r.Context(), r.Header.Get("Authorization"))
		ctx = withSession(ctx, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicPath(path string) bool {
	return path == "/health" || path == "/api/auth/status"
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			s.logger.Warn("Health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Service) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"authenticated": isAuthenticated(r),
		"user_id":       getUserIDFromRequest(r),
		"username":      getUsernameFromRequest(r),
	})
}

// handleGraphQLProxy forwards a browser GraphQL document to the remote data
// service under the caller's own credentials.
func (s *Service) handleGraphQLProxy(w http.ResponseWriter, r *http.Request) {
	if s.config.GraphQLEndpoint == "" {
		respondError(w, http.StatusServiceUnavailable, "GraphQL endpoint is not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxProxyBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.config.GraphQLEndpoint, bytes.NewReader(body))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if auth := r.Header.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := s.proxy.Do(req)
	if err != nil {
		s.logger.Warn("GraphQL proxy request failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug("GraphQL proxy copy interrupted", zap.Error(err))
	}
}

// handleAvailableTransitions lists the transitions a record in status_id may
// take. Without status_id the start transitions are returned; all=true returns
// the whole workflow.
func (s *Service) handleAvailableTransitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := mux.Vars(r)["workflowId"]
	q := r.URL.Query()

	if q.Get("all") == "true" {
		all, err := s.remote.FetchTransitions(ctx, workflowID)
		if err != nil {
			respondFailure(w, s.localizers.ForRequest(r), err, nil)
			return
		}
		respondJSON(w, http.StatusOK, all)
		return
	}

	var current *Status
	if id := q.Get("status_id"); id != "" {
		current = &Status{ID: id}
	}
	transitions, err := s.gate.Available(ctx, workflowID, current)
	if err != nil {
		respondFailure(w, s.localizers.ForRequest(r), err, nil)
		return
	}
	respondJSON(w, http.StatusOK, transitions)
}

func (s *Service) handleFireTransition(w http.ResponseWriter, r *http.Request) {
	lz := s.localizers.ForRequest(r)
	vars := mux.Vars(r)

	var req FireRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.WorkflowID = vars["workflowId"]
	req.TransitionID = vars["transitionId"]

	result, err := s.gate.Fire(r.Context(), req)
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		*FireResult
		Notifications []Notification `json:"notifications"`
	}{
		FireResult:    result,
		Notifications: []Notification{{Level: LevelInfo, Message: lz.T(msgTransitionFired, result.TransitionName)}},
	})
}

// handleWorkflowDiagram renders the workflow as a Mermaid state diagram.
func (s *Service) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	transitions, err := s.remote.FetchTransitions(r.Context(), mux.Vars(r)["workflowId"])
	if err != nil {
		respondFailure(w, s.localizers.ForRequest(r), err, nil)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, Diagram(transitions))
}
