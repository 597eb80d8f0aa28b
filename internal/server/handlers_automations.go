package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campushive/hivelab/internal/automation"
	"github.com/campushive/hivelab/internal/deployment"
	"github.com/campushive/hivelab/internal/permission"
)

type automationRequest struct {
	DeploymentID string                 `json:"deployment_id"`
	Name         string                 `json:"name"`
	Enabled      *bool                  `json:"enabled"`
	Trigger      automation.Trigger     `json:"trigger"`
	Conditions   []automation.Condition `json:"conditions"`
	Actions      []automation.Action    `json:"actions"`
	Limits       *automation.Limits     `json:"limits"`
}

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var req automationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}

	campus := campusFrom(r)
	if err := s.requireLeaderOnDeployment(r, req.DeploymentID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	a := &automation.Automation{
		ID:           uuid.NewString(),
		CampusID:     campus.CampusID,
		DeploymentID: req.DeploymentID,
		Name:         req.Name,
		Enabled:      enabled,
		Trigger:      req.Trigger,
		Conditions:   req.Conditions,
		Actions:      req.Actions,
		CreatedAt:    time.Now().UTC(),
	}
	if req.Limits != nil {
		a.Limits = *req.Limits
	}
	if err := a.Validate(); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.automations.Save(r.Context(), a); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info("automation created",
		zap.String("campus_id", campus.CampusID),
		zap.String("automation_id", a.ID),
		zap.String("deployment_id", a.DeploymentID),
		zap.String("trigger", string(a.Trigger.Type)),
	)
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	campus := campusFrom(r)
	a, err := s.automations.Get(r.Context(), campus.CampusID, chi.URLParam(r, "automationID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	var req automationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}

	campus := campusFrom(r)
	a, err := s.automations.Get(r.Context(), campus.CampusID, chi.URLParam(r, "automationID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.requireLeaderOnDeployment(r, a.DeploymentID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	if req.Name != "" {
		a.Name = req.Name
	}
	if req.Enabled != nil {
		a.Enabled = *req.Enabled
	}
	if req.Trigger.Type != "" {
		a.Trigger = req.Trigger
	}
	if req.Conditions != nil {
		a.Conditions = req.Conditions
	}
	if req.Actions != nil {
		a.Actions = req.Actions
	}
	if req.Limits != nil {
		a.Limits = *req.Limits
	}

	if err := a.Validate(); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.automations.Save(r.Context(), a); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	campus := campusFrom(r)
	a, err := s.automations.Get(r.Context(), campus.CampusID, chi.URLParam(r, "automationID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.requireLeaderOnDeployment(r, a.DeploymentID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.automations.Delete(r.Context(), campus.CampusID, a.ID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	campus := campusFrom(r)
	list, err := s.automations.ListByDeployment(r.Context(), campus.CampusID, chi.URLParam(r, "deploymentID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	campus := campusFrom(r)
	a, err := s.automations.Get(r.Context(), campus.CampusID, chi.URLParam(r, "automationID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.requireLeaderOnDeployment(r, a.DeploymentID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.engine.RunNow(r.Context(), campus.CampusID, a.ID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type tickResponse struct {
	Ran int `json:"ran"`
}

// handleTick runs due scheduled automations. The platform scheduler calls it
// once per minute; it is idempotent within a minute only to the extent the
// rate limits make it so, so the scheduler must not double-fire.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	ran := s.engine.RunDue(r.Context(), time.Now())
	writeJSON(w, http.StatusOK, tickResponse{Ran: ran})
}

// requireLeaderOnDeployment authorizes automation edits: the caller must be a
// leader on the surface the deployment lives on.
func (s *Server) requireLeaderOnDeployment(r *http.Request, deploymentID string) error {
	campus := campusFrom(r)
	d, err := s.deploys.GetDeployment(r.Context(), campus.CampusID, deploymentID)
	if err != nil {
		return err
	}
	decision, err := s.deploys.CheckRole(r.Context(), userFrom(r), d.TargetID, permission.RoleLeader)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return deployment.ErrPermissionDenied
	}
	return nil
}
