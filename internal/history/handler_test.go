package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livepoll/classroom/pkg/storage"
)

type fakeLinker struct {
	urls map[uuid.UUID]string
	err  error
}

func (f fakeLinker) PollArchiveURL(_ context.Context, id uuid.UUID) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if u, ok := f.urls[id]; ok {
		return u, nil
	}
	return "", storage.ErrObjectNotFound
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api")
	api.GET("/polls/history", h.List)
	api.GET("/polls/:id/summary", h.Summary)
	api.GET("/polls/:id/archive", h.Archive)
	return r
}

func do(t *testing.T, r http.Handler, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body envelope
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, w.Body.String())
	}
	return w.Code, body
}

func TestHandlerHistory(t *testing.T) {
	mem, polls := seed(t)
	r := newRouter(NewHandler(NewProjector(mem), nil, nil))

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantLen  int
	}{
		{"unbounded", "/api/polls/history", http.StatusOK, 2},
		{"limited", "/api/polls/history?limit=1", http.StatusOK, 1},
		{"zero means all", "/api/polls/history?limit=0", http.StatusOK, 2},
		{"bad limit", "/api/polls/history?limit=abc", http.StatusBadRequest, 0},
		{"negative limit", "/api/polls/history?limit=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, r, tt.path)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", code, tt.wantCode, body.Error)
			}
			if code != http.StatusOK {
				if body.Success || body.Error == "" {
					t.Errorf("error envelope = %+v", body)
				}
				return
			}
			var list []PollSummary
			if err := json.Unmarshal(body.Data, &list); err != nil {
				t.Fatalf("decode data: %v", err)
			}
			if len(list) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(list), tt.wantLen)
			}
			if list[0].ID != polls[1].ID {
				t.Errorf("first = %s, want newest", list[0].Question)
			}
		})
	}
}

func TestHandlerSummary(t *testing.T) {
	mem, polls := seed(t)
	r := newRouter(NewHandler(NewProjector(mem), nil, nil))

	code, body := do(t, r, "/api/polls/"+polls[0].ID.String()+"/summary")
	if code != http.StatusOK {
		t.Fatalf("status = %d (%s)", code, body.Error)
	}
	var sum PollSummary
	if err := json.Unmarshal(body.Data, &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.TotalVotes != 3 || sum.Options[0].Percentage != 67 {
		t.Errorf("summary = %+v", sum)
	}

	if code, _ := do(t, r, "/api/polls/"+uuid.NewString()+"/summary"); code != http.StatusNotFound {
		t.Errorf("unknown poll status = %d, want 404", code)
	}
	if code, _ := do(t, r, "/api/polls/not-a-uuid/summary"); code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", code)
	}
}

func TestHandlerArchive(t *testing.T) {
	mem, polls := seed(t)
	archived := polls[0].ID

	t.Run("not configured", func(t *testing.T) {
		r := newRouter(NewHandler(NewProjector(mem), nil, nil))
		if code, _ := do(t, r, "/api/polls/"+archived.String()+"/archive"); code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", code)
		}
	})

	linker := fakeLinker{urls: map[uuid.UUID]string{archived: "https://example.test/polls/a.json?sig=1"}}
	r := newRouter(NewHandler(NewProjector(mem), linker, nil))

	t.Run("archived", func(t *testing.T) {
		code, body := do(t, r, "/api/polls/"+archived.String()+"/archive")
		if code != http.StatusOK {
			t.Fatalf("status = %d (%s)", code, body.Error)
		}
		var out struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(body.Data, &out); err != nil || out.URL == "" {
			t.Errorf("data = %s, %v", body.Data, err)
		}
	})

	t.Run("not yet archived", func(t *testing.T) {
		if code, _ := do(t, r, "/api/polls/"+polls[1].ID.String()+"/archive"); code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", code)
		}
	})

	t.Run("storage failure", func(t *testing.T) {
		r := newRouter(NewHandler(NewProjector(mem), fakeLinker{err: errors.New("timeout")}, nil))
		if code, _ := do(t, r, "/api/polls/"+archived.String()+"/archive"); code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", code)
		}
	})
}
