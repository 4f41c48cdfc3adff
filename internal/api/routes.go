package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akosev/camnode/internal/status"
	"github.com/akosev/camnode/internal/supervisor"
	"github.com/akosev/camnode/internal/version"
)

// HealthResponse is the health check response.
type HealthResponse struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

// VersionResponse carries build metadata.
type VersionResponse struct {
	Body version.Info
}

// StatusResponse is the full supervisor view: per-camera aggregate
// state plus per-output worker details.
type StatusResponse struct {
	Body StatusData
}

// StatusData combines the event-derived camera states with the
// supervisor's worker records.
type StatusData struct {
	Cameras map[string]status.CameraInfo `json:"cameras"`
	Workers []supervisor.OutputStatus    `json:"workers"`
}

// CameraStatusResponse is the status of a single camera.
type CameraStatusResponse struct {
	Body status.CameraInfo
}

// RestartResponse confirms a manual camera restart.
type RestartResponse struct {
	Body struct {
		Camera  string `json:"camera"`
		Message string `json:"message" example:"restart initiated"`
	}
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes() {
	// Health check endpoint, no auth required.
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*HealthResponse, error) {
		resp := &HealthResponse{}
		resp.Body.Status = "ok"
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get build and version information",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*VersionResponse, error) {
		return &VersionResponse{Body: version.Get()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "All Camera Status",
		Description: "Get the state of every camera and its supervised workers",
		Tags:        []string{"status"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*StatusResponse, error) {
		resp := &StatusResponse{}
		resp.Body.Cameras = s.options.Status.All()
		resp.Body.Workers = s.options.Supervisor.Status()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera-status",
		Method:      http.MethodGet,
		Path:        "/api/status/{camera}",
		Summary:     "Camera Status",
		Description: "Get the state of one camera",
		Tags:        []string{"status"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		Camera string `path:"camera" doc:"Camera name"`
	}) (*CameraStatusResponse, error) {
		info, exists := s.options.Status.Get(input.Camera)
		if !exists {
			return nil, huma.Error404NotFound("camera not found: " + input.Camera)
		}
		return &CameraStatusResponse{Body: info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "restart-camera",
		Method:      http.MethodPost,
		Path:        "/api/restart/{camera}",
		Summary:     "Restart Camera",
		Description: "Stop and restart all workers of one camera from its current configuration",
		Tags:        []string{"cameras"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct {
		Camera string `path:"camera" doc:"Camera name"`
	}) (*RestartResponse, error) {
		if err := s.options.Supervisor.RestartCamera(input.Camera); err != nil {
			return nil, huma.Error404NotFound(err.Error())
		}
		resp := &RestartResponse{}
		resp.Body.Camera = input.Camera
		resp.Body.Message = "restart initiated"
		return resp, nil
	})
}
