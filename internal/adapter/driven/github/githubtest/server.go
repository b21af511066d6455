// Package githubtest provides an in-memory fake of the GitHub repository
// contents API for tests. It enforces blob SHA preconditions the way GitHub
// does: creating an existing file without a SHA returns 422 and updating with
// a stale SHA returns 409.
package githubtest

import (
	"crypto/sha1" //nolint:gosec // git blob ids are SHA-1
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// PutRequest is a recorded write against the fake.
type PutRequest struct {
	Path    string
	Message string
	Branch  string
	SHA     string // Empty when the client sent no precondition.
	Content []byte // Decoded file content.
}

// Server is a fake contents API. Files are keyed by "owner/repo/path".
type Server struct {
	*httptest.Server

	mu    sync.Mutex
	files map[string]file
	puts  []PutRequest
	gets  int

	// BeforePut, when set, runs after a PUT body is decoded and before the
	// precondition is checked. Tests use it to simulate a concurrent writer.
	BeforePut func(s *Server)

	failStatus []int // Queued status codes returned instead of serving.
}

type file struct {
	content []byte
	sha     string
}

// NewServer starts a fake contents API and registers cleanup with t.
func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{files: make(map[string]file)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", s.handleGet)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", s.handlePut)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

// BaseURL returns the API root with the trailing slash go-github requires.
func (s *Server) BaseURL() string {
	return s.URL + "/"
}

// SetFile stores content directly, as if committed by another writer, and
// returns its new blob SHA.
func (s *Server) SetFile(repo, path string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(repo+"/"+path, content)
}

// File returns the stored content and SHA, and whether the file exists.
func (s *Server) File(repo, path string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[repo+"/"+path]
	return f.content, f.sha, ok
}

// Puts returns all recorded writes, successful or not.
func (s *Server) Puts() []PutRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PutRequest(nil), s.puts...)
}

// Gets returns the number of reads served.
func (s *Server) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// FailNext makes the next request (of any method) fail with status.
func (s *Server) FailNext(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = append(s.failStatus, status)
}

// BlobSHA computes the git blob id GitHub reports for content.
func BlobSHA(content []byte) string {
	h := sha1.New() //nolint:gosec // git blob ids are SHA-1
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Server) setLocked(key string, content []byte) string {
	sha := BlobSHA(content)
	s.files[key] = file{content: append([]byte(nil), content...), sha: sha}
	return sha
}

func (s *Server) popFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failStatus) == 0 {
		return 0
	}
	status := s.failStatus[0]
	s.failStatus = s.failStatus[1:]
	return status
}

func key(r *http.Request) string {
	return r.PathValue("owner") + "/" + r.PathValue("repo") + "/" + r.PathValue("path")
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if status := s.popFailure(); status != 0 {
		writeMessage(w, status, http.StatusText(status))
		return
	}

	s.mu.Lock()
	s.gets++
	f, ok := s.files[key(r)]
	s.mu.Unlock()

	if !ok {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"encoding": "base64",
		"path":     r.PathValue("path"),
		"sha":      f.sha,
		"content":  wrapBase64(f.content),
	})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if status := s.popFailure(); status != 0 {
		writeMessage(w, status, http.StatusText(status))
		return
	}

	var body struct {
		Message string  `json:"message"`
		Content string  `json:"content"`
		SHA     *string `json:"sha"`
		Branch  string  `json:"branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "content is not valid Base64")
		return
	}

	if s.BeforePut != nil {
		s.BeforePut(s)
	}

	req := PutRequest{
		Path:    r.PathValue("path"),
		Message: body.Message,
		Branch:  body.Branch,
		Content: content,
	}
	if body.SHA != nil {
		req.SHA = *body.SHA
	}

	s.mu.Lock()
	s.puts = append(s.puts, req)
	k := key(r)
	existing, exists := s.files[k]

	switch {
	case exists && body.SHA == nil:
		s.mu.Unlock()
		writeMessage(w, http.StatusUnprocessableEntity, "Invalid request.\n\n\"sha\" wasn't supplied.")
		return
	case exists && *body.SHA != existing.sha:
		s.mu.Unlock()
		writeMessage(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", r.PathValue("path"), *body.SHA))
		return
	case !exists && body.SHA != nil:
		s.mu.Unlock()
		writeMessage(w, http.StatusConflict, fmt.Sprintf("%s does not exist", r.PathValue("path")))
		return
	}

	sha := s.setLocked(k, content)
	s.mu.Unlock()

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]any{"path": req.Path, "sha": sha, "type": "file"},
		"commit":  map[string]any{"sha": BlobSHA([]byte(sha)), "message": body.Message},
	})
}

// wrapBase64 encodes content with a newline every 60 characters, matching the
// format GitHub returns.
func wrapBase64(content []byte) string {
	enc := base64.StdEncoding.EncodeToString(content)
	var b strings.Builder
	for len(enc) > 60 {
		b.WriteString(enc[:60])
		b.WriteByte('\n')
		enc = enc[60:]
	}
	b.WriteString(enc)
	b.WriteByte('\n')
	return b.String()
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
