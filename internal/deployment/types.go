package deployment

import (
	"errors"
	"time"
)

// SurfaceType is where a deployed tool renders.
type SurfaceType string

const (
	SurfaceSpace      SurfaceType = "space"
	SurfaceProfile    SurfaceType = "profile"
	SurfaceChatInline SurfaceType = "chat-inline"
)

// Visibility controls who sees the deployed tool on its surface.
type Visibility string

const (
	VisibilityEveryone Visibility = "everyone"
	VisibilityMembers  Visibility = "members"
	VisibilityLeaders  Visibility = "leaders"
)

// Deployment binds a published tool to a target surface. Its lifecycle is
// independent of the tool definition: many deployments may reference one
// tool, each with its own shared state and automations.
type Deployment struct {
	ID          string      `json:"id"`
	CampusID    string      `json:"campus_id"`
	ToolID      string      `json:"tool_id"`
	SurfaceType SurfaceType `json:"surface_type"`
	TargetID    string      `json:"target_id"`
	Placement   string      `json:"placement"` // surface-specific slot, e.g. "sidebar"
	Order       int         `json:"order"`
	Visibility  Visibility  `json:"visibility"`
	DeployedBy  string      `json:"deployed_by"`
	CreatedAt   time.Time   `json:"created_at"`
}

var (
	ErrNotFound         = errors.New("deployment not found")
	ErrToolNotPublished = errors.New("tool is not published")
	ErrPermissionDenied = errors.New("permission denied")
	ErrBadSurface       = errors.New("unknown surface type")
)

// ValidSurface reports whether s is one of the three supported surfaces.
func ValidSurface(s SurfaceType) bool {
	switch s {
	case SurfaceSpace, SurfaceProfile, SurfaceChatInline:
		return true
	}
	return false
}
