package exportjob

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeAPI is a minimal export API. Protocol "9" fails, protocol "7" needs
// one poll before completing, any other protocol completes immediately.
type fakeAPI struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*fakeJob
	polls  int
}

type fakeJob struct {
	cpID   string
	status string
	polls  int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{jobs: make(map[int64]*fakeJob)}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.URL.Path == "/rest/ng/sessions" && r.Method == http.MethodPost {
		var creds Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "bad credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": "tok-" + creds.LoginName})
		return
	}
	if !strings.HasPrefix(r.Header.Get(TokenHeader), "tok-") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "no session"})
		return
	}
	rest, ok := strings.CutPrefix(r.URL.Path, "/rest/ng/export-jobs")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if rest == "" && r.Method == http.MethodPost {
		var body struct {
			ObjectType string            `json:"objectType"`
			Params     map[string]string `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ObjectType != "sr" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad object type"})
			return
		}
		a.nextID++
		job := &fakeJob{cpID: body.Params["cpId"]}
		switch job.cpID {
		case "9":
			job.status = StatusFailed
		case "7":
			job.status = "IN_PROGRESS"
		}
		a.jobs[a.nextID] = job
		writeJSON(w, http.StatusOK, Job{ID: a.nextID, Status: job.status})
		return
	}
	idPart, output := strings.CutSuffix(strings.TrimPrefix(rest, "/"), "/output")
	id, err := strconv.ParseInt(idPart, 10, 64)
	job, found := a.jobs[id]
	if err != nil || !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such job"})
		return
	}
	if output {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = fmt.Fprintf(w, "archive-for-%s", job.cpID)
		return
	}
	a.polls++
	job.polls++
	if job.status == "IN_PROGRESS" && job.polls > 1 {
		job.status = StatusCompleted
	}
	writeJSON(w, http.StatusOK, Job{ID: id, Status: job.status})
}
