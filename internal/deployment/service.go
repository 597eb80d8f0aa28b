package deployment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campushive/hivelab/internal/automation"
	"github.com/campushive/hivelab/internal/composition"
	"github.com/campushive/hivelab/internal/permission"
	"github.com/campushive/hivelab/internal/state"
)

// Service owns the deployment lifecycle: placing published tools on surfaces,
// tearing them down, and the cascades that keep state and automations from
// leaking when a deployment or tool goes away.
type Service struct {
	deployments Store
	tools       composition.Store
	states      state.Store
	automations automation.Store
	checker     permission.Checker
	logger      *zap.Logger
}

// NewService wires the deployment service.
func NewService(deployments Store, tools composition.Store, states state.Store, automations automation.Store, checker permission.Checker, logger *zap.Logger) *Service {
	return &Service{
		deployments: deployments,
		tools:       tools,
		states:      states,
		automations: automations,
		checker:     checker,
		logger:      logger,
	}
}

// DeployRequest describes a requested placement.
type DeployRequest struct {
	CampusID    string
	ToolID      string
	SurfaceType SurfaceType
	TargetID    string
	Placement   string
	Order       int
	Visibility  Visibility
	UserID      string
}

// Deploy places a published tool on a surface. The caller must hold the
// leader role on the target. Each deployment gets its own shared state scope,
// initialized empty.
func (s *Service) Deploy(ctx context.Context, req DeployRequest) (*Deployment, error) {
	if !ValidSurface(req.SurfaceType) {
		return nil, ErrBadSurface
	}

	decision, err := s.checker.Check(ctx, req.UserID, req.TargetID, permission.RoleLeader)
	if err != nil {
		return nil, fmt.Errorf("Deploy: %w", err)
	}
	if !decision.Allowed {
		return nil, ErrPermissionDenied
	}

	tool, err := s.tools.Get(ctx, req.CampusID, req.ToolID)
	if err != nil {
		return nil, err
	}
	if tool.Status != composition.StatusPublished {
		return nil, ErrToolNotPublished
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = VisibilityEveryone
	}

	d := &Deployment{
		ID:          uuid.NewString(),
		CampusID:    req.CampusID,
		ToolID:      req.ToolID,
		SurfaceType: req.SurfaceType,
		TargetID:    req.TargetID,
		Placement:   req.Placement,
		Order:       req.Order,
		Visibility:  visibility,
		DeployedBy:  req.UserID,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.deployments.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("Deploy: %w", err)
	}
	if err := s.states.Init(ctx, req.CampusID, d.ID, map[string]any{}); err != nil {
		return nil, fmt.Errorf("Deploy: init state: %w", err)
	}

	s.logger.Info("tool deployed",
		zap.String("campus_id", req.CampusID),
		zap.String("tool_id", req.ToolID),
		zap.String("deployment_id", d.ID),
		zap.String("surface", string(req.SurfaceType)),
		zap.String("target_id", req.TargetID),
	)
	return d, nil
}

// Undeploy removes a deployment and cascades to its shared state and
// automations. Requires the leader role on the target surface.
func (s *Service) Undeploy(ctx context.Context, campusID, deploymentID, userID string) error {
	d, err := s.deployments.Get(ctx, campusID, deploymentID)
	if err != nil {
		return err
	}

	decision, err := s.checker.Check(ctx, userID, d.TargetID, permission.RoleLeader)
	if err != nil {
		return fmt.Errorf("Undeploy: %w", err)
	}
	if !decision.Allowed {
		return ErrPermissionDenied
	}

	return s.remove(ctx, d)
}

func (s *Service) remove(ctx context.Context, d *Deployment) error {
	if err := s.deployments.Delete(ctx, d.CampusID, d.ID); err != nil {
		return fmt.Errorf("remove deployment: %w", err)
	}
	if err := s.automations.DeleteByDeployment(ctx, d.CampusID, d.ID); err != nil {
		return fmt.Errorf("remove automations: %w", err)
	}
	if err := s.states.Delete(ctx, d.CampusID, d.ID); err != nil && err != state.ErrScopeNotFound {
		return fmt.Errorf("remove state: %w", err)
	}

	s.logger.Info("tool undeployed",
		zap.String("campus_id", d.CampusID),
		zap.String("deployment_id", d.ID),
		zap.String("tool_id", d.ToolID),
	)
	return nil
}

// DeleteTool deletes a tool definition. Every deployment of the tool is torn
// down first, each with its state and automations. Only the owner may delete.
func (s *Service) DeleteTool(ctx context.Context, campusID, toolID, userID string) error {
	tool, err := s.tools.Get(ctx, campusID, toolID)
	if err != nil {
		return err
	}
	if tool.OwnerID != userID {
		return ErrPermissionDenied
	}

	deps, err := s.deployments.ListForTool(ctx, campusID, toolID)
	if err != nil {
		return fmt.Errorf("DeleteTool: %w", err)
	}
	for _, d := range deps {
		if err := s.remove(ctx, d); err != nil {
			return fmt.Errorf("DeleteTool: %w", err)
		}
	}

	return s.tools.Delete(ctx, campusID, toolID)
}

// GetDeployment returns one deployment by id.
func (s *Service) GetDeployment(ctx context.Context, campusID, deploymentID string) (*Deployment, error) {
	return s.deployments.Get(ctx, campusID, deploymentID)
}

// CheckRole authorizes an action against a deployment's target surface.
func (s *Service) CheckRole(ctx context.Context, userID, targetID, requiredRole string) (*permission.Decision, error) {
	return s.checker.Check(ctx, userID, targetID, requiredRole)
}

// ListForTarget returns the deployments on a surface ordered by display order.
func (s *Service) ListForTarget(ctx context.Context, campusID string, surface SurfaceType, targetID string) ([]*Deployment, error) {
	if !ValidSurface(surface) {
		return nil, ErrBadSurface
	}
	return s.deployments.ListForTarget(ctx, campusID, surface, targetID)
}

// Reorder rewrites display order for the given deployments on one surface.
// IDs not present on the surface are rejected.
func (s *Service) Reorder(ctx context.Context, campusID string, surface SurfaceType, targetID, userID string, orderedIDs []string) error {
	decision, err := s.checker.Check(ctx, userID, targetID, permission.RoleLeader)
	if err != nil {
		return fmt.Errorf("Reorder: %w", err)
	}
	if !decision.Allowed {
		return ErrPermissionDenied
	}

	current, err := s.deployments.ListForTarget(ctx, campusID, surface, targetID)
	if err != nil {
		return err
	}
	byID := make(map[string]*Deployment, len(current))
	for _, d := range current {
		byID[d.ID] = d
	}

	for order, id := range orderedIDs {
		d, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: %s is not deployed on this surface", ErrNotFound, id)
		}
		d.Order = order
		if err := s.deployments.Save(ctx, d); err != nil {
			return fmt.Errorf("Reorder: %w", err)
		}
	}
	return nil
}

// Resolver resolves a deployment to its tool's composition for event
// execution. Suspended and archived tools stop executing immediately.
type Resolver struct {
	deployments Store
	tools       composition.Store
}

// NewResolver creates a composition resolver over the deployment and tool stores.
func NewResolver(deployments Store, tools composition.Store) *Resolver {
	return &Resolver{deployments: deployments, tools: tools}
}

// CompositionFor returns the composition behind a deployment id.
func (r *Resolver) CompositionFor(ctx context.Context, campusID, deploymentID string) (*composition.Composition, error) {
	d, err := r.deployments.Get(ctx, campusID, deploymentID)
	if err != nil {
		return nil, err
	}
	tool, err := r.tools.Get(ctx, campusID, d.ToolID)
	if err != nil {
		return nil, err
	}
	if tool.Status != composition.StatusPublished {
		return nil, fmt.Errorf("%w: tool %s is %s", ErrToolNotPublished, tool.ID, tool.Status)
	}
	return &tool.Composition, nil
}
