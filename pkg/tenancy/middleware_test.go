package tenancy

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_SingleMode(t *testing.T) {
	var captured string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = ProgramFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := NewMiddleware(ModeSingle)(next)

	req := httptest.NewRequest("GET", "/api/gates/v1alpha1/criteria", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured != "default" {
		t.Errorf("program in context = %q, want %q", captured, "default")
	}
}

func TestMiddleware_ProgramMode(t *testing.T) {
	var captured string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = ProgramFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := NewMiddleware(ModeProgram)(next)

	t.Run("resolves program from header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/defects/v1alpha1/defects", nil)
		req.Header.Set(ProgramHeader, "s4-finance")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if captured != "s4-finance" {
			t.Errorf("program in context = %q, want %q", captured, "s4-finance")
		}
	})

	t.Run("rejects missing program", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/defects/v1alpha1/defects", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}
