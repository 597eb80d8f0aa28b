package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campushive/hivelab/internal/deployment"
	"github.com/campushive/hivelab/internal/execution"
)

type deployRequest struct {
	ToolID      string                 `json:"tool_id"`
	SurfaceType deployment.SurfaceType `json:"surface_type"`
	TargetID    string                 `json:"target_id"`
	Placement   string                 `json:"placement"`
	Order       int                    `json:"order"`
	Visibility  deployment.Visibility  `json:"visibility"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}

	campus := campusFrom(r)
	d, err := s.deploys.Deploy(r.Context(), deployment.DeployRequest{
		CampusID:    campus.CampusID,
		ToolID:      req.ToolID,
		SurfaceType: req.SurfaceType,
		TargetID:    req.TargetID,
		Placement:   req.Placement,
		Order:       req.Order,
		Visibility:  req.Visibility,
		UserID:      userFrom(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleUndeploy(w http.ResponseWriter, r *http.Request) {
	campus := campusFrom(r)
	if err := s.deploys.Undeploy(r.Context(), campus.CampusID, chi.URLParam(r, "deploymentID"), userFrom(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	campus := campusFrom(r)
	surface := deployment.SurfaceType(r.URL.Query().Get("surface"))
	targetID := r.URL.Query().Get("target")
	if targetID == "" {
		writeError(w, http.StatusBadRequest, "target query parameter is required")
		return
	}

	list, err := s.deploys.ListForTarget(r.Context(), campus.CampusID, surface, targetID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type reorderRequest struct {
	SurfaceType deployment.SurfaceType `json:"surface_type"`
	TargetID    string                 `json:"target_id"`
	OrderedIDs  []string               `json:"ordered_ids"`
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}

	campus := campusFrom(r)
	if err := s.deploys.Reorder(r.Context(), campus.CampusID, req.SurfaceType, req.TargetID, userFrom(r), req.OrderedIDs); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProfile resolves display info for leaderboard and notification
// rendering. Unknown users come back as 404; surfaces fall back to an
// anonymous placeholder.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.GetProfile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	campus := campusFrom(r)
	doc, err := s.executor.StateFor(r.Context(), campus.CampusID, chi.URLParam(r, "deploymentID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type applyEventRequest struct {
	InstanceID string         `json:"instance_id"`
	Event      string         `json:"event"`
	Payload    map[string]any `json:"payload"`
}

type applyEventResponse struct {
	Deliveries []execution.DeliveryResult `json:"deliveries"`
}

func (s *Server) handleApplyEvent(w http.ResponseWriter, r *http.Request) {
	var req applyEventRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	if req.InstanceID == "" || req.Event == "" {
		writeError(w, http.StatusBadRequest, "instance_id and event are required")
		return
	}

	campus := campusFrom(r)
	deploymentID := chi.URLParam(r, "deploymentID")
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if _, ok := payload["user_id"]; !ok && userFrom(r) != "" {
		payload["user_id"] = userFrom(r)
	}

	results, err := s.executor.Apply(r.Context(), campus.CampusID, deploymentID, req.InstanceID, req.Event, payload)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Debug("event applied",
		zap.String("campus_id", campus.CampusID),
		zap.String("deployment_id", deploymentID),
		zap.String("instance_id", req.InstanceID),
		zap.String("event", req.Event),
		zap.Int("deliveries", len(results)),
	)
	writeJSON(w, http.StatusOK, applyEventResponse{Deliveries: results})
}
