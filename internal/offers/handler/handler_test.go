package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"cashoffer_backend/internal/offers/service"
	"cashoffer_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

// fakeMaintenance records optimizer runs handed to the maintenance queue.
type fakeMaintenance struct {
	runs []bool
}

func (m *fakeMaintenance) EnqueuePriceOptimize(_ context.Context, dryRun bool) error {
	m.runs = append(m.runs, dryRun)
	return nil
}

func TestRunOptimizerAcceptsEmptyBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	maintenance := &fakeMaintenance{}
	svc := service.New(nil, nil, nil, maintenance, nil, nil, nil)
	h := New(svc, validator.New())

	engine := gin.New()
	engine.POST("/admin/optimizer/run", h.RunOptimizer)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/optimizer/run", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(maintenance.runs) != 1 || maintenance.runs[0] {
		t.Fatalf("runs = %v, want one live run", maintenance.runs)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/optimizer/run?dryRun=true", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(maintenance.runs) != 2 || !maintenance.runs[1] {
		t.Fatalf("runs = %v, want a dry run second", maintenance.runs)
	}
}
