package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campushive/hivelab/internal/composition"
	"github.com/campushive/hivelab/internal/deployment"
	"github.com/campushive/hivelab/internal/elements"
)

func (s *Server) handleListElements(w http.ResponseWriter, r *http.Request) {
	if cat := r.URL.Query().Get("category"); cat != "" {
		writeJSON(w, http.StatusOK, s.registry.ByCategory(elements.Category(cat)))
		return
	}
	writeJSON(w, http.StatusOK, s.registry.All())
}

func (s *Server) handleGetElement(w http.ResponseWriter, r *http.Request) {
	def, err := s.registry.Get(chi.URLParam(r, "elementID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

type createToolRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Visibility  composition.Visibility `json:"visibility"`
}

func (s *Server) handleCreateTool(w http.ResponseWriter, r *http.Request) {
	var req createToolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	campus := campusFrom(r)
	tool := composition.NewTool(campus.CampusID, userFrom(r), req.Name, req.Description)
	if req.Visibility != "" {
		tool.Visibility = req.Visibility
	}

	if err := s.tools.Save(r.Context(), tool); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Info("tool created",
		zap.String("campus_id", campus.CampusID),
		zap.String("tool_id", tool.ID),
	)
	writeJSON(w, http.StatusCreated, tool)
}

type generateToolRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerateTool(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		writeError(w, http.StatusNotImplemented, "generation is not configured")
		return
	}
	var req generateToolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	campus := campusFrom(r)
	tool, err := s.generator.GenerateTool(r.Context(), campus.CampusID, userFrom(r), req.Prompt)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.tools.Save(r.Context(), tool); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tool)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	campus := campusFrom(r)
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = userFrom(r)
	}
	tools, err := s.tools.ListByOwner(r.Context(), campus.CampusID, owner)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tools)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	campus := campusFrom(r)
	tool, err := s.tools.Get(r.Context(), campus.CampusID, chi.URLParam(r, "toolID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

func (s *Server) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	campus := campusFrom(r)
	if err := s.deploys.DeleteTool(r.Context(), campus.CampusID, chi.URLParam(r, "toolID"), userFrom(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addInstanceRequest struct {
	ElementID string               `json:"element_id"`
	Config    map[string]any       `json:"config"`
	Position  composition.Position `json:"position"`
}

type addInstanceResponse struct {
	InstanceID string            `json:"instance_id"`
	Tool       *composition.Tool `json:"tool"`
}

func (s *Server) handleAddInstance(w http.ResponseWriter, r *http.Request) {
	var req addInstanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}

	var instanceID string
	tool, err := s.mutateTool(r, func(t *composition.Tool) error {
		id, err := t.AddInstance(s.registry, req.ElementID, req.Config, req.Position)
		instanceID = id
		return err
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addInstanceResponse{InstanceID: instanceID, Tool: tool})
}

func (s *Server) handleRemoveInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	tool, err := s.mutateTool(r, func(t *composition.Tool) error {
		return t.RemoveInstance(instanceID)
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

type connectRequest struct {
	SourceInstanceID string `json:"source_instance_id"`
	SourcePort       string `json:"source_port"`
	TargetInstanceID string `json:"target_instance_id"`
	TargetPort       string `json:"target_port"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}

	tool, err := s.mutateTool(r, func(t *composition.Tool) error {
		return t.Connect(s.registry, req.SourceInstanceID, req.SourcePort, req.TargetInstanceID, req.TargetPort)
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tool)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}

	tool, err := s.mutateTool(r, func(t *composition.Tool) error {
		t.Disconnect(req.SourceInstanceID, req.SourcePort, req.TargetInstanceID, req.TargetPort)
		return nil
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	tool, err := s.mutateTool(r, func(t *composition.Tool) error {
		return t.Publish(s.registry)
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	tool, err := s.mutateTool(r, func(t *composition.Tool) error {
		return t.Archive()
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	tool, err := s.mutateTool(r, func(t *composition.Tool) error {
		return t.Suspend()
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

// mutateTool is the read-modify-write cycle shared by all editor endpoints.
// Only the owner may edit; stale versions surface as a conflict.
func (s *Server) mutateTool(r *http.Request, fn func(*composition.Tool) error) (*composition.Tool, error) {
	campus := campusFrom(r)
	tool, err := s.tools.Get(r.Context(), campus.CampusID, chi.URLParam(r, "toolID"))
	if err != nil {
		return nil, err
	}
	if tool.OwnerID != userFrom(r) {
		return nil, deployment.ErrPermissionDenied
	}
	if err := fn(tool); err != nil {
		return nil, err
	}
	if err := s.tools.Save(r.Context(), tool); err != nil {
		return nil, err
	}
	return tool, nil
}
