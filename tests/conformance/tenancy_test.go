package conformance

import (
	"fmt"
	"net/http"
	"testing"
)

// TestTenancySingleMode pins the default single-program behavior: every
// request lands in the default program and program headers are ignored.
func TestTenancySingleMode(t *testing.T) {
	waitForReady(t)
	if mode := tenancyMode(t); mode != "single" {
		t.Skipf("server runs in %s tenancy mode", mode)
	}

	t.Run("programs_endpoint", func(t *testing.T) {
		var programs struct {
			Programs []string `json:"programs"`
			Mode     string   `json:"mode"`
		}
		getJSON(t, tenancyAPI+"/programs", &programs)
		if programs.Mode != "single" {
			t.Errorf("expected mode single, got %s", programs.Mode)
		}
		if len(programs.Programs) != 1 || programs.Programs[0] != "default" {
			t.Errorf("expected [default], got %v", programs.Programs)
		}
	})

	t.Run("defaults_to_default_program", func(t *testing.T) {
		d := simpleDefect(t, fmt.Sprintf("tenancy default %s", testSeqNum()), "S3", "P3")
		if d.Program != "default" {
			t.Errorf("expected program default, got %q", d.Program)
		}
	})

	t.Run("program_header_ignored", func(t *testing.T) {
		headers := defaultHeaders()
		headers["X-Program"] = "phoenix"
		resp := doRequest(t, http.MethodPost, serverURL+defectsAPI+"/defects", map[string]any{
			"title":    fmt.Sprintf("tenancy header %s", testSeqNum()),
			"severity": "S3",
			"priority": "P3",
		}, headers)
		requireStatus(t, resp, http.StatusCreated)

		var d defectResponse
		decodeJSON(t, resp, &d)
		if d.Program != "default" {
			t.Errorf("single mode must ignore the header, got program %q", d.Program)
		}
	})
}

// TestTenancyProgramMode covers program scoping and isolation when the
// server runs in multi-program mode.
func TestTenancyProgramMode(t *testing.T) {
	waitForReady(t)
	if mode := tenancyMode(t); mode != "program" {
		t.Skipf("server runs in %s tenancy mode", mode)
	}

	progA := fmt.Sprintf("prog-a-%s", testSeqNum())
	progB := fmt.Sprintf("prog-b-%s", testSeqNum())
	inProgram := func(program string) map[string]string {
		h := defaultHeaders()
		h["X-Program"] = program
		return h
	}
	noProgram := func() map[string]string {
		h := defaultHeaders()
		delete(h, "X-Program")
		return h
	}

	t.Run("program_required", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, serverURL+defectsAPI+"/defects", nil, noProgram())
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400 without a program, got %d", resp.StatusCode)
		}
		var body errorResponse
		decodeJSON(t, resp, &body)
		if body.Error != "bad_request" {
			t.Errorf("expected error bad_request, got %q", body.Error)
		}
	})

	t.Run("isolation_between_programs", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, serverURL+defectsAPI+"/defects", map[string]any{
			"title":    fmt.Sprintf("scoped defect %s", testSeqNum()),
			"severity": "S2",
			"priority": "P2",
		}, inProgram(progA))
		requireStatus(t, resp, http.StatusCreated)
		var d defectResponse
		decodeJSON(t, resp, &d)
		if d.Program != progA {
			t.Fatalf("expected program %s, got %s", progA, d.Program)
		}

		// Visible in its own program.
		own := doRequest(t, http.MethodGet, serverURL+defectsAPI+"/defects/"+d.ID, nil, inProgram(progA))
		requireStatus(t, own, http.StatusOK)
		own.Body.Close()

		// Invisible from a sibling program.
		other := doRequest(t, http.MethodGet, serverURL+defectsAPI+"/defects/"+d.ID, nil, inProgram(progB))
		defer other.Body.Close()
		if other.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404 across programs, got %d", other.StatusCode)
		}
	})

	t.Run("query_param_scope", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet,
			serverURL+defectsAPI+"/defects?program="+progA, nil, noProgram())
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	})

	t.Run("query_param_beats_header", func(t *testing.T) {
		headers := inProgram(progB)
		resp := doRequest(t, http.MethodPost,
			serverURL+defectsAPI+"/defects?program="+progA, map[string]any{
				"title":    fmt.Sprintf("precedence %s", testSeqNum()),
				"severity": "S3",
				"priority": "P3",
			}, headers)
		requireStatus(t, resp, http.StatusCreated)

		var d defectResponse
		decodeJSON(t, resp, &d)
		if d.Program != progA {
			t.Errorf("expected the query param to win, got program %s", d.Program)
		}
	})
}
