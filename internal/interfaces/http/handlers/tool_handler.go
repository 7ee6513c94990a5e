package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	domaintool "github.com/prismgate/prismgate/internal/domain/tool"
	"github.com/prismgate/prismgate/internal/infrastructure/tool"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// ToolHandler exposes the tool registry and direct execution.
type ToolHandler struct {
	registry domaintool.Registry
	executor *tool.Executor
	logger   *zap.Logger
}

// NewToolHandler creates the tool handler.
func NewToolHandler(registry domaintool.Registry, executor *tool.Executor, logger *zap.Logger) *ToolHandler {
	return &ToolHandler{
		registry: registry,
		executor: executor,
		logger:   logger.With(zap.String("component", "tool-handler")),
	}
}

// ToolListResponse is the registry listing.
type ToolListResponse struct {
	Tools []entity.ToolDefinition `json:"tools"`
}

// ExecuteToolRequest names a tool and its arguments.
type ExecuteToolRequest struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ExecuteToolResponse reports the outcome of a direct execution.
type ExecuteToolResponse struct {
	Name    string `json:"name"`
	Result  string `json:"result"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ListTools handles GET /v1/tools.
func (h *ToolHandler) ListTools(c *gin.Context) {
	c.JSON(http.StatusOK, ToolListResponse{Tools: h.registry.List()})
}

// ExecuteTool handles POST /v1/tools/execute. Unknown tools are a 404
// and schema violations a 422; runtime tool failures still return 200
// with success=false, mirroring how the orchestration loop reports them
// to the model.
func (h *ToolHandler) ExecuteTool(c *gin.Context) {
	var req ExecuteToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apperrors.New(apperrors.CodeInvalidReq, "malformed request body: "+err.Error()))
		return
	}
	if req.Name == "" {
		RespondValidation(c, []entity.FieldError{{
			Loc: []string{"body", "name"}, Msg: "field required", Type: "value_error.missing",
		}})
		return
	}

	result, err := h.executor.Execute(c.Request.Context(), entity.ToolCall{
		Name:      req.Name,
		Arguments: req.Arguments,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	if result.IsError && strings.HasPrefix(result.Content, "schema violation:") {
		RespondError(c, apperrors.NewValidationError(result.Content))
		return
	}

	out := ExecuteToolResponse{Name: req.Name, Success: !result.IsError}
	if result.IsError {
		out.Error = result.Content
	} else {
		out.Result = result.Content
	}
	c.JSON(http.StatusOK, out)
}
