// Package uploads exposes presigned photo upload URLs so clients push item
// photos straight to object storage.
package uploads

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	apphttp "cashoffer_backend/internal/http"
	"cashoffer_backend/internal/storage"
	"cashoffer_backend/platform/httpkit"
	"cashoffer_backend/platform/validator"
)

// PresignRequest asks for one upload URL.
type PresignRequest struct {
	FileName    string `json:"fileName" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"required,max=100"`
	SizeBytes   int64  `json:"sizeBytes" validate:"required,gt=0"`
}

// Module is the uploads module.
type Module struct {
	storage storage.Service
	bucket  string
	val     *validator.Validator
}

func NewModule(storageSvc storage.Service, bucket string, val *validator.Validator) *Module {
	return &Module{storage: storageSvc, bucket: bucket, val: val}
}

func (m *Module) Name() string {
	return "uploads"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.POST("/uploads/presign", m.Presign)
}

// Presign handles POST /api/v1/uploads/presign
func (m *Module) Presign(c *gin.Context) {
	var req PresignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}
	if err := m.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation failed", err.Error())
		return
	}

	identity := httpkit.GetIdentity(c)
	folder := fmt.Sprintf("photos/%s", identity.UserID())

	url, err := m.storage.GenerateUploadURL(c.Request.Context(), m.bucket, folder, req.FileName, req.ContentType, req.SizeBytes)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "could not presign upload", err.Error())
		return
	}

	httpkit.OK(c, url)
}

var _ apphttp.Module = (*Module)(nil)
