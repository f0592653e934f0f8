// Package synthetic provides an in-process fake of the platform API for
// tests: the resource tree, paging, the login endpoints, the container
// actions and the websocket streams they hand out.
package synthetic

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const apiPath = "/v2-beta"

// Container describes one service instance.
type Container struct {
	ID      string
	Name    string
	Actions []string
}

type Service struct {
	Name       string
	Containers []Container
}

type Stack struct {
	Name     string
	Services []Service
}

type Environment struct {
	Name   string
	Stacks []Stack
}

// ExecRequest is the decoded body of an execute action.
type ExecRequest struct {
	AttachStdin  bool     `json:"attachStdin"`
	AttachStdout bool     `json:"attachStdout"`
	Command      []string `json:"command"`
	TTY          bool     `json:"tty"`
}

// LogsRequest is the decoded body of a logs action.
type LogsRequest struct {
	Follow bool `json:"follow"`
	Lines  int  `json:"lines"`
}

// StreamHandler serves one websocket stream for a container.
type StreamHandler func(conn *websocket.Conn, containerID string)

// PlatformServer is a synthetic platform API backed by httptest.
type PlatformServer struct {
	server *httptest.Server

	mu           sync.RWMutex
	environments []Environment
	pageSize     int
	requireAuth  bool
	omitLinks    map[string]bool
	counts       map[string]int
	execs        []ExecRequest
	logs         []LogsRequest
	jwt          string

	// Username and Password are accepted by the token endpoint.
	Username string
	Password string
	// PublicValue and SecretValue form the API key issued by the apikey
	// endpoint and accepted for Basic auth.
	PublicValue string
	SecretValue string

	// Exec and Logs serve the websocket streams. Exec defaults to a base64
	// echo; Logs defaults to writing one line per container and closing.
	Exec StreamHandler
	Logs StreamHandler
}

// NewPlatformServer starts a server with the given resource tree.
func NewPlatformServer(envs ...Environment) *PlatformServer {
	s := &PlatformServer{
		environments: envs,
		pageSize:     100,
		omitLinks:    make(map[string]bool),
		counts:       make(map[string]int),
		Username:     "alice",
		Password:     "s3cret",
		PublicValue:  "PUBLIC",
		SecretValue:  "SECRET",
	}
	s.Exec = EchoExec
	s.Logs = s.defaultLogs

	r := mux.NewRouter()
	r.Use(s.countMiddleware)
	r.Use(s.basicAuthMiddleware)

	api := r.PathPrefix(apiPath).Subrouter()
	api.HandleFunc("", s.index).Methods("GET").Name("index")
	api.HandleFunc("/", s.index).Methods("GET").Name("index")
	api.HandleFunc("/token", s.token).Methods("POST").Name("token")
	api.HandleFunc("/apikey", s.apiKey).Methods("POST").Name("apikey")
	api.HandleFunc("/projects", s.projects).Methods("GET").Name("projects")
	api.HandleFunc("/projects/{env}/stacks", s.stacks).Methods("GET").Name("stacks")
	api.HandleFunc("/projects/{env}/stacks/{stack}/services", s.services).Methods("GET").Name("services")
	api.HandleFunc("/projects/{env}/stacks/{stack}/services/{service}/instances", s.instances).Methods("GET").Name("instances")
	api.HandleFunc("/containers/{id}/execute", s.execute).Methods("POST").Name("execute")
	api.HandleFunc("/containers/{id}/logs", s.logsAction).Methods("POST").Name("logs")

	r.HandleFunc("/ws/exec/{id}", s.stream(func() StreamHandler { return s.Exec })).Name("ws-exec")
	r.HandleFunc("/ws/logs/{id}", s.stream(func() StreamHandler { return s.Logs })).Name("ws-logs")

	s.server = httptest.NewServer(r)
	return s
}

// URL is the base URL (protocol://host:port).
func (s *PlatformServer) URL() string {
	return s.server.URL
}

func (s *PlatformServer) Close() {
	s.server.Close()
}

// SetPageSize sets how many items each collection page holds.
func (s *PlatformServer) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// RequireAuth makes every API request except login demand the API key.
func (s *PlatformServer) RequireAuth(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireAuth = on
}

// OmitLink drops the named link (projects, stacks, services, instances)
// from every response.
func (s *PlatformServer) OmitLink(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitLinks[name] = true
}

// Count returns how many requests reached the named route.
func (s *PlatformServer) Count(route string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[route]
}

// Execs returns the execute bodies received so far.
func (s *PlatformServer) Execs() []ExecRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ExecRequest(nil), s.execs...)
}

// LogRequests returns the logs bodies received so far.
func (s *PlatformServer) LogRequests() []LogsRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LogsRequest(nil), s.logs...)
}

func (s *PlatformServer) countMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route := mux.CurrentRoute(r); route != nil {
			s.mu.Lock()
			s.counts[route.GetName()]++
			s.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *PlatformServer) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		required := s.requireAuth
		s.mu.RUnlock()

		name := ""
		if route := mux.CurrentRoute(r); route != nil {
			name = route.GetName()
		}
		if !required || name == "token" || name == "apikey" || strings.HasPrefix(name, "ws-") {
			next.ServeHTTP(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok || username != s.PublicValue || password != s.SecretValue {
			w.Header().Set("WWW-Authenticate", `Basic realm="API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *PlatformServer) url(path string) string {
	return s.server.URL + apiPath + path
}

func (s *PlatformServer) links(pairs ...string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	links := make(map[string]string)
	for i := 0; i+1 < len(pairs); i += 2 {
		if !s.omitLinks[pairs[i]] {
			links[pairs[i]] = pairs[i+1]
		}
	}
	return links
}

func (s *PlatformServer) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"links": s.links("projects", s.url("/projects")),
	})
}

// page writes items[page*size:(page+1)*size] with a next link when more
// items follow.
func (s *PlatformServer) page(w http.ResponseWriter, r *http.Request, items []interface{}) {
	s.mu.RLock()
	size := s.pageSize
	s.mu.RUnlock()

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	start := page * size
	if start > len(items) {
		start = len(items)
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}

	var next interface{}
	if end < len(items) {
		next = fmt.Sprintf("%s%s?page=%d", s.server.URL, r.URL.Path, page+1)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       items[start:end],
		"pagination": map[string]interface{}{"next": next},
	})
}

func (s *PlatformServer) projects(w http.ResponseWriter, r *http.Request) {
	var items []interface{}
	for _, env := range s.environments {
		items = append(items, map[string]interface{}{
			"id":    env.Name,
			"name":  env.Name,
			"links": s.links("stacks", s.url("/projects/"+env.Name+"/stacks")),
		})
	}
	s.page(w, r, items)
}

func (s *PlatformServer) findEnv(name string) (Environment, bool) {
	for _, env := range s.environments {
		if env.Name == name {
			return env, true
		}
	}
	return Environment{}, false
}

func (s *PlatformServer) findStack(envName, stackName string) (Stack, bool) {
	env, ok := s.findEnv(envName)
	if !ok {
		return Stack{}, false
	}
	for _, st := range env.Stacks {
		if st.Name == stackName {
			return st, true
		}
	}
	return Stack{}, false
}

func (s *PlatformServer) stacks(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	env, ok := s.findEnv(vars["env"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	var items []interface{}
	for _, st := range env.Stacks {
		items = append(items, map[string]interface{}{
			"id":    st.Name,
			"name":  st.Name,
			"links": s.links("services", s.url("/projects/"+env.Name+"/stacks/"+st.Name+"/services")),
		})
	}
	s.page(w, r, items)
}

func (s *PlatformServer) services(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	st, ok := s.findStack(vars["env"], vars["stack"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	var items []interface{}
	for _, svc := range st.Services {
		items = append(items, map[string]interface{}{
			"id":   svc.Name,
			"name": svc.Name,
			"links": s.links("instances",
				s.url("/projects/"+vars["env"]+"/stacks/"+st.Name+"/services/"+svc.Name+"/instances")),
		})
	}
	s.page(w, r, items)
}

func (s *PlatformServer) instances(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	st, ok := s.findStack(vars["env"], vars["stack"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	var items []interface{}
	for _, svc := range st.Services {
		if svc.Name != vars["service"] {
			continue
		}
		for _, c := range svc.Containers {
			actions := make(map[string]string)
			for _, a := range c.Actions {
				actions[a] = s.url("/containers/" + c.ID + "/" + a)
			}
			items = append(items, map[string]interface{}{
				"id":      c.ID,
				"name":    c.Name,
				"state":   "running",
				"actions": actions,
			})
		}
	}
	s.page(w, r, items)
}

func (s *PlatformServer) token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code         string `json:"code"`
		AuthProvider string `json:"authProvider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Code != s.Username+":"+s.Password {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims := jwt.RegisteredClaims{
		Subject:   s.Username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("synthetic"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.jwt = signed
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{
		"accountId": "1a1",
		"jwt":       signed,
	})
}

func (s *PlatformServer) apiKey(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("token")
	s.mu.RLock()
	issued := s.jwt
	s.mu.RUnlock()
	if err != nil || issued == "" || cookie.Value != issued {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		AccountID string `json:"accountId"`
		Name      string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"publicValue": s.PublicValue,
		"secretValue": s.SecretValue,
	})
}

func (s *PlatformServer) wsURL(kind, id string) string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws/" + kind + "/" + id
}

func (s *PlatformServer) execute(w http.ResponseWriter, r *http.Request) {
	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.execs = append(s.execs, req)
	s.mu.Unlock()

	id := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, map[string]string{
		"token": "token-" + id,
		"url":   s.wsURL("exec", id),
	})
}

func (s *PlatformServer) logsAction(w http.ResponseWriter, r *http.Request) {
	var req LogsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.logs = append(s.logs, req)
	s.mu.Unlock()

	id := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, map[string]string{
		"token": "token-" + id,
		"url":   s.wsURL("logs", id),
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *PlatformServer) stream(handler func() StreamHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if r.URL.Query().Get("token") != "token-"+id {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler()(conn, id)
	}
}

// EchoExec decodes every text frame and sends the same bytes back. The
// line "exit\r" ends the stream with a normal closure.
func EchoExec(conn *websocket.Conn, _ string) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		data, err := base64.StdEncoding.DecodeString(string(msg))
		if err != nil {
			return
		}
		if string(data) == "exit\r" {
			CloseNormal(conn)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(base64.StdEncoding.EncodeToString(data))); err != nil {
			return
		}
	}
}

// WriteFrames sends each chunk base64 encoded and then closes.
func WriteFrames(chunks ...string) StreamHandler {
	return func(conn *websocket.Conn, _ string) {
		for _, c := range chunks {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(base64.StdEncoding.EncodeToString([]byte(c)))); err != nil {
				return
			}
		}
		CloseNormal(conn)
	}
}

func (s *PlatformServer) defaultLogs(conn *websocket.Conn, id string) {
	WriteFrames("log line from " + id + "\n")(conn, id)
}

// CloseNormal sends a normal closure and waits briefly for the peer's
// close frame.
func CloseNormal(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
