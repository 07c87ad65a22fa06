// Package fakeapi is an in-memory stand-in for the CloudTruth REST API used
// by tests. It serves paginated collections, hierarchical projects and
// environments, parameters, values, integrations with their pushes and pulls
// and the backup snapshot endpoint, and it records every call it receives.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// APIKey is the key the fake accepts.
const APIKey = "test-key"

// Call is one request received by the fake.
type Call struct {
	Method string
	Path   string
}

type node struct {
	ID       string
	Name     string
	ParentID string
}

type parameter struct {
	ID        string
	ProjectID string
	Name      string
	Secret    bool
}

type kindSpec struct {
	parentField   string
	childrenField string
}

var kinds = map[string]kindSpec{
	"projects":     {parentField: "depends_on", childrenField: "dependents"},
	"environments": {parentField: "parent", childrenField: "children"},
}

// Server is a running fake API. Configure it through its methods before use.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	nodes      map[string]map[string]*node // kind -> id -> node
	params     map[string]*parameter       // id -> parameter
	values     map[string]map[string]string // parameter id -> env id -> value
	calls      []Call
	pageSize   int
	role       string
	conflicts  map[string]int // detail path -> 409s left to return on DELETE
	staleReads map[string]int // child id -> polls the parent still lists it
	failPaths  map[string]int // path -> status to return for GET
	ghosts     map[string]string   // deleted child id -> parent id
	deleted    map[string][]string // kind -> deleted names in order
	vanish     map[string]bool     // detail path -> removed by someone else on DELETE

	integrations map[string]*integration // id -> integration
	actions      map[string]*action      // id -> push or pull

	writeDelay  time.Duration
	inflight    int
	maxInflight int
}

type integration struct {
	ID      string
	Service string
	Name    string
}

type action struct {
	ID            string
	IntegrationID string
	Kind          string // "pulls" or "pushes"
	Name          string
}

// integrationPaths maps a service to its collection path below /integrations/.
var integrationPaths = map[string]string{
	"aws":    "aws",
	"azure":  "azure/key_vault",
	"github": "github",
}

// ExternalValuesPull is the pull every integration owns implicitly.
const ExternalValuesPull = "ExternalValues"

// New starts a fake API server. The API root is URL() + "/api/v1".
func New() *Server {
	s := &Server{
		nodes:      map[string]map[string]*node{"projects": {}, "environments": {}},
		params:     make(map[string]*parameter),
		values:     make(map[string]map[string]string),
		pageSize:   2,
		role:       "OWNER",
		conflicts:  make(map[string]int),
		staleReads: make(map[string]int),
		failPaths:  make(map[string]int),
		ghosts:     make(map[string]string),
		deleted:    make(map[string][]string),
		vanish:     make(map[string]bool),

		integrations: make(map[string]*integration),
		actions:      make(map[string]*action),
	}
	s.Server = httptest.NewServer(s.routes())
	s.AddEnvironment("default", "")
	return s
}

// ServerURL returns the value to use as a profile's server_url.
func (s *Server) ServerURL() string {
	return s.Server.URL
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record, s.auth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/users/current/", s.currentUser)
		r.Post("/backup/snapshot/", s.snapshot)

		r.Get("/projects/{pid}/parameters/", s.listParameters)
		r.Post("/projects/{pid}/parameters/", s.createParameter)
		r.Get("/projects/{pid}/parameters/{prm}/", s.getParameter)
		r.Delete("/projects/{pid}/parameters/{prm}/", s.deleteParameter)
		r.Get("/projects/{pid}/parameters/{prm}/values/", s.listValues)
		r.Post("/projects/{pid}/parameters/{prm}/values/", s.createValue)

		for service, path := range integrationPaths {
			base := "/integrations/" + path
			r.Get(base+"/", s.listIntegrations(service))
			r.Get(base+"/{id}/", s.getIntegration)
			r.Delete(base+"/{id}/", s.deleteIntegration)
			for _, kind := range []string{"pulls", "pushes"} {
				r.Get(base+"/{id}/"+kind+"/", s.listActions(kind))
				r.Get(base+"/{id}/"+kind+"/{aid}/", s.getAction)
				r.Delete(base+"/{id}/"+kind+"/{aid}/", s.deleteAction)
			}
		}

		r.Get("/{kind}/", s.listNodes)
		r.Post("/{kind}/", s.createNode)
		r.Get("/{kind}/{id}/", s.getNode)
		r.Patch("/{kind}/{id}/", s.patchNode)
		r.Delete("/{kind}/{id}/", s.deleteNode)
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
		status := s.failPaths[r.URL.Path]
		s.mu.Unlock()
		if status != 0 && r.Method == http.MethodGet {
			writeJSON(w, status, map[string]string{"detail": "injected failure"})
			return
		}
		if r.Method == http.MethodGet || strings.HasSuffix(r.URL.Path, "/backup/snapshot/") {
			next.ServeHTTP(w, r)
			return
		}
		s.mu.Lock()
		s.inflight++
		if s.inflight > s.maxInflight {
			s.maxInflight = s.inflight
		}
		delay := s.writeDelay
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.inflight--
			s.mu.Unlock()
		}()
		time.Sleep(delay)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Api-Key "+APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid API key."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- configuration helpers ---

// SetPageSize changes the default page size of collection responses.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// SetRole changes the role reported by /users/current/.
func (s *Server) SetRole(role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
}

// AddProject creates a project under parent (by name, "" for a root) and returns its id.
func (s *Server) AddProject(name, parent string) string {
	return s.addNode("projects", name, parent)
}

// AddEnvironment creates an environment under parent (by name) and returns its id.
func (s *Server) AddEnvironment(name, parent string) string {
	return s.addNode("environments", name, parent)
}

func (s *Server) addNode(kind, name, parent string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := &node{ID: uuid.New().String(), Name: name}
	if parent != "" {
		p := s.byName(kind, parent)
		if p == nil {
			panic(fmt.Sprintf("fakeapi: parent %s %q does not exist", kind, parent))
		}
		n.ParentID = p.ID
	}
	s.nodes[kind][n.ID] = n
	return n.ID
}

// AddParameter creates a parameter in project and returns its id.
func (s *Server) AddParameter(project, name string, secret bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.byName("projects", project)
	if p == nil {
		panic(fmt.Sprintf("fakeapi: project %q does not exist", project))
	}
	prm := &parameter{ID: uuid.New().String(), ProjectID: p.ID, Name: name, Secret: secret}
	s.params[prm.ID] = prm
	s.values[prm.ID] = make(map[string]string)
	return prm.ID
}

// SetValue sets a parameter's value for an environment.
func (s *Server) SetValue(project, param, env, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prm := s.paramByName(project, param)
	e := s.byName("environments", env)
	if prm == nil || e == nil {
		panic(fmt.Sprintf("fakeapi: unknown value target %s/%s@%s", project, param, env))
	}
	s.values[prm.ID][e.ID] = value
}

// Value returns a parameter's value for an environment.
func (s *Server) Value(project, param, env string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prm := s.paramByName(project, param)
	e := s.byName("environments", env)
	if prm == nil || e == nil {
		return "", false
	}
	v, ok := s.values[prm.ID][e.ID]
	return v, ok
}

// ID returns the id of the named project or environment.
func (s *Server) ID(kind, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.byName(kind, name); n != nil {
		return n.ID
	}
	return ""
}

// Exists reports whether a named project or environment exists.
func (s *Server) Exists(kind, name string) bool {
	return s.ID(kind, name) != ""
}

// SetParent rewires a node's parent without any validation, e.g. to build a cycle.
func (s *Server) SetParent(kind, name, parent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.byName(kind, name)
	p := s.byName(kind, parent)
	if n == nil || p == nil {
		panic("fakeapi: SetParent on unknown node")
	}
	n.ParentID = p.ID
}

// ConflictOnDelete makes the next n DELETEs of the named node return 409.
func (s *Server) ConflictOnDelete(kind, name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node := s.byName(kind, name)
	if node == nil {
		panic("fakeapi: ConflictOnDelete on unknown node")
	}
	s.conflicts[detailPath(kind, node.ID)] = n
}

// StaleAfterDelete keeps a deleted child listed in its parent's detail for n polls.
func (s *Server) StaleAfterDelete(kind, name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node := s.byName(kind, name)
	if node == nil {
		panic("fakeapi: StaleAfterDelete on unknown node")
	}
	s.staleReads[node.ID] = n
}

// VanishOnDelete makes the named node disappear when it is deleted, as if
// another client removed it first: the DELETE answers 404.
func (s *Server) VanishOnDelete(kind, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node := s.byName(kind, name)
	if node == nil {
		panic("fakeapi: VanishOnDelete on unknown node")
	}
	s.vanish[detailPath(kind, node.ID)] = true
}

// SetWriteDelay holds every mutating request for d before it is served.
func (s *Server) SetWriteDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeDelay = d
}

// MaxConcurrentWrites returns the highest number of mutating requests that
// were in flight at the same time.
func (s *Server) MaxConcurrentWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInflight
}

// AddIntegration registers an integration for service (aws, azure or github)
// and returns its id. Every integration owns an ExternalValues pull.
func (s *Server) AddIntegration(service, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := integrationPaths[service]; !ok {
		panic(fmt.Sprintf("fakeapi: unknown integration service %q", service))
	}
	in := &integration{ID: uuid.New().String(), Service: service, Name: name}
	s.integrations[in.ID] = in
	ev := &action{ID: uuid.New().String(), IntegrationID: in.ID, Kind: "pulls", Name: ExternalValuesPull}
	s.actions[ev.ID] = ev
	return in.ID
}

// AddAction adds a push or pull (kind "pushes" or "pulls") to the named integration.
func (s *Server) AddAction(integrationName, kind, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.integrationByName(integrationName)
	if in == nil {
		panic(fmt.Sprintf("fakeapi: integration %q does not exist", integrationName))
	}
	a := &action{ID: uuid.New().String(), IntegrationID: in.ID, Kind: kind, Name: name}
	s.actions[a.ID] = a
	return a.ID
}

// IntegrationExists reports whether the named integration exists.
func (s *Server) IntegrationExists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.integrationByName(name) != nil
}

// Actions returns the names of an integration's pushes and pulls, sorted.
func (s *Server) Actions(integrationName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.integrationByName(integrationName)
	if in == nil {
		return nil
	}
	var names []string
	for _, a := range s.actions {
		if a.IntegrationID == in.ID {
			names = append(names, a.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Parameters returns the parameter names of a project, sorted.
func (s *Server) Parameters(project string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.byName("projects", project)
	if p == nil {
		return nil
	}
	var names []string
	for _, prm := range s.params {
		if prm.ProjectID == p.ID {
			names = append(names, prm.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Names returns the names of every project or environment, sorted.
func (s *Server) Names(kind string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, n := range s.nodes[kind] {
		names = append(names, n.Name)
	}
	sort.Strings(names)
	return names
}

// FailGet makes GET requests to path answer with status.
func (s *Server) FailGet(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPaths[path] = status
}

// Calls returns a copy of every request received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// ResetCalls clears the call log.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Writes counts POST, PATCH, PUT and DELETE calls, excluding the snapshot endpoint.
func (s *Server) Writes() int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method != http.MethodGet && !strings.HasSuffix(c.Path, "/backup/snapshot/") {
			n++
		}
	}
	return n
}

// Count returns how many calls matched method and path.
func (s *Server) Count(method, path string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// DeletedNames returns the names of nodes deleted so far, in order.
func (s *Server) DeletedNames(kind string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted[kind]...)
}

// --- lookups (callers hold mu) ---

func (s *Server) byName(kind, name string) *node {
	for _, n := range s.nodes[kind] {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func (s *Server) paramByName(project, name string) *parameter {
	p := s.byName("projects", project)
	if p == nil {
		return nil
	}
	for _, prm := range s.params {
		if prm.ProjectID == p.ID && prm.Name == name {
			return prm
		}
	}
	return nil
}

func (s *Server) integrationByName(name string) *integration {
	for _, in := range s.integrations {
		if in.Name == name {
			return in
		}
	}
	return nil
}

func (s *Server) childrenOf(kind, id string) []*node {
	var out []*node
	for _, n := range s.nodes[kind] {
		if n.ParentID == id {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) apiURL(path string) string {
	return s.Server.URL + "/api/v1" + path
}

func detailPath(kind, id string) string {
	return "/api/v1/" + kind + "/" + id + "/"
}

func (s *Server) render(kind string, n *node) map[string]interface{} {
	spec := kinds[kind]
	out := map[string]interface{}{
		"id":   n.ID,
		"url":  s.apiURL("/" + kind + "/" + n.ID + "/"),
		"name": n.Name,
	}
	if n.ParentID != "" {
		out[spec.parentField] = s.apiURL("/" + kind + "/" + n.ParentID + "/")
	} else {
		out[spec.parentField] = nil
	}
	children := []string{}
	for _, c := range s.childrenOf(kind, n.ID) {
		children = append(children, s.apiURL("/"+kind+"/"+c.ID+"/"))
	}
	for id, left := range s.staleReads {
		if left > 0 && s.ghosts[id] == n.ID {
			children = append(children, s.apiURL("/"+kind+"/"+id+"/"))
			s.staleReads[id] = left - 1
		}
	}
	out[spec.childrenField] = children
	return out
}

// --- handlers ---

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	role := s.role
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"id": "u1", "name": "tester", "role": role})
}

func (s *Server) paginate(w http.ResponseWriter, r *http.Request, items []map[string]interface{}) {
	size := s.pageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 && v < size {
		size = v
	}
	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	start := (page - 1) * size
	if start > len(items) {
		start = len(items)
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	var next interface{}
	if end < len(items) {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(page+1))
		next = s.Server.URL + r.URL.Path + "?" + q.Encode()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(items),
		"next":    next,
		"results": items[start:end],
	})
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	s.mu.Lock()
	if _, ok := kinds[kind]; !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	name := r.URL.Query().Get("name")
	var list []*node
	for _, n := range s.nodes[kind] {
		if name == "" || strings.EqualFold(n.Name, name) {
			list = append(list, n)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	items := make([]map[string]interface{}, 0, len(list))
	for _, n := range list {
		items = append(items, s.render(kind, n))
	}
	s.mu.Unlock()
	s.paginate(w, r, items)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	kind, id := chi.URLParam(r, "kind"), chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[kind][id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, s.render(kind, n))
}

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	spec, ok := kinds[kind]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	name, _ := body["name"].(string)
	parentRef, _ := body[spec.parentField].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" || s.byName(kind, name) != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"name": "must be unique and non-empty"})
		return
	}
	n := &node{ID: uuid.New().String(), Name: name}
	if parentRef != "" {
		pid := lastSegment(parentRef)
		if _, ok := s.nodes[kind][pid]; !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{spec.parentField: "unknown parent"})
			return
		}
		n.ParentID = pid
	}
	s.nodes[kind][n.ID] = n
	writeJSON(w, http.StatusCreated, s.render(kind, n))
}

func (s *Server) patchNode(w http.ResponseWriter, r *http.Request) {
	kind, id := chi.URLParam(r, "kind"), chi.URLParam(r, "id")
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[kind][id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	if name, ok := body["name"].(string); ok && name != "" {
		if other := s.byName(kind, name); other != nil && other.ID != id {
			writeJSON(w, http.StatusBadRequest, map[string]string{"name": "must be unique"})
			return
		}
		n.Name = name
	}
	writeJSON(w, http.StatusOK, s.render(kind, n))
}

func (s *Server) deleteNode(w http.ResponseWriter, r *http.Request) {
	kind, id := chi.URLParam(r, "kind"), chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[kind][id]
	if ok && s.vanish[r.URL.Path] {
		delete(s.nodes[kind], id)
		ok = false
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	if left := s.conflicts[r.URL.Path]; left != 0 {
		if left > 0 {
			s.conflicts[r.URL.Path] = left - 1
		}
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "resource is still referenced"})
		return
	}
	if len(s.childrenOf(kind, id)) > 0 {
		writeJSON(w, http.StatusConflict, map[string]string{"detail": "cannot delete: has dependents"})
		return
	}
	delete(s.nodes[kind], id)
	if s.staleReads[id] > 0 {
		s.ghosts[id] = n.ParentID
	}
	s.deleted[kind] = append(s.deleted[kind], n.Name)
	for prmID, prm := range s.params {
		if kind == "projects" && prm.ProjectID == id {
			delete(s.params, prmID)
			delete(s.values, prmID)
		}
	}
	if kind == "environments" {
		for _, vals := range s.values {
			delete(vals, id)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listParameters(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	name := r.URL.Query().Get("name")
	s.mu.Lock()
	if _, ok := s.nodes["projects"][pid]; !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	var list []*parameter
	for _, prm := range s.params {
		if prm.ProjectID == pid && (name == "" || strings.EqualFold(prm.Name, name)) {
			list = append(list, prm)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	items := make([]map[string]interface{}, 0, len(list))
	for _, prm := range list {
		items = append(items, map[string]interface{}{
			"id":      prm.ID,
			"url":     s.apiURL("/projects/" + pid + "/parameters/" + prm.ID + "/"),
			"name":    prm.Name,
			"secret":  prm.Secret,
			"project": s.apiURL("/projects/" + pid + "/"),
		})
	}
	s.mu.Unlock()
	s.paginate(w, r, items)
}

func (s *Server) renderParameter(prm *parameter) map[string]interface{} {
	return map[string]interface{}{
		"id":      prm.ID,
		"url":     s.apiURL("/projects/" + prm.ProjectID + "/parameters/" + prm.ID + "/"),
		"name":    prm.Name,
		"secret":  prm.Secret,
		"project": s.apiURL("/projects/" + prm.ProjectID + "/"),
	}
}

func (s *Server) createParameter(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "pid")
	var body struct {
		Name   string `json:"name"`
		Secret bool   `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes["projects"][pid]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	if body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"name": "required"})
		return
	}
	for _, prm := range s.params {
		if prm.ProjectID == pid && prm.Name == body.Name {
			writeJSON(w, http.StatusBadRequest, map[string]string{"name": "must be unique"})
			return
		}
	}
	prm := &parameter{ID: uuid.New().String(), ProjectID: pid, Name: body.Name, Secret: body.Secret}
	s.params[prm.ID] = prm
	s.values[prm.ID] = make(map[string]string)
	writeJSON(w, http.StatusCreated, s.renderParameter(prm))
}

func (s *Server) getParameter(w http.ResponseWriter, r *http.Request) {
	pid, id := chi.URLParam(r, "pid"), chi.URLParam(r, "prm")
	s.mu.Lock()
	defer s.mu.Unlock()
	prm, ok := s.params[id]
	if !ok || prm.ProjectID != pid {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, s.renderParameter(prm))
}

func (s *Server) deleteParameter(w http.ResponseWriter, r *http.Request) {
	pid, id := chi.URLParam(r, "pid"), chi.URLParam(r, "prm")
	s.mu.Lock()
	defer s.mu.Unlock()
	prm, ok := s.params[id]
	if !ok || prm.ProjectID != pid {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	delete(s.params, id)
	delete(s.values, id)
	s.deleted["parameters"] = append(s.deleted["parameters"], prm.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renderIntegration(in *integration) map[string]interface{} {
	return map[string]interface{}{
		"id":   in.ID,
		"name": in.Name,
		"url":  s.apiURL("/integrations/" + integrationPaths[in.Service] + "/" + in.ID + "/"),
	}
}

func (s *Server) listIntegrations(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var list []*integration
		for _, in := range s.integrations {
			if in.Service == service {
				list = append(list, in)
			}
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		items := make([]map[string]interface{}, 0, len(list))
		for _, in := range list {
			items = append(items, s.renderIntegration(in))
		}
		s.mu.Unlock()
		s.paginate(w, r, items)
	}
}

func (s *Server) getIntegration(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.integrations[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, s.renderIntegration(in))
}

func (s *Server) deleteIntegration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.integrations[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	for _, a := range s.actions {
		if a.IntegrationID == id && a.Name != ExternalValuesPull {
			writeJSON(w, http.StatusConflict, map[string]string{"detail": "integration has pushes or pulls"})
			return
		}
	}
	for aid, a := range s.actions {
		if a.IntegrationID == id {
			delete(s.actions, aid)
		}
	}
	delete(s.integrations, id)
	s.deleted["integrations"] = append(s.deleted["integrations"], in.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listActions(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s.mu.Lock()
		in, ok := s.integrations[id]
		if !ok {
			s.mu.Unlock()
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
			return
		}
		var list []*action
		for _, a := range s.actions {
			if a.IntegrationID == id && a.Kind == kind {
				list = append(list, a)
			}
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		items := make([]map[string]interface{}, 0, len(list))
		for _, a := range list {
			items = append(items, map[string]interface{}{
				"id":   a.ID,
				"name": a.Name,
				"url":  s.apiURL("/integrations/" + integrationPaths[in.Service] + "/" + id + "/" + kind + "/" + a.ID + "/"),
			})
		}
		s.mu.Unlock()
		s.paginate(w, r, items)
	}
}

func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[chi.URLParam(r, "aid")]
	if !ok || a.IntegrationID != chi.URLParam(r, "id") {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": a.ID, "name": a.Name})
}

func (s *Server) deleteAction(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aid := chi.URLParam(r, "aid")
	a, ok := s.actions[aid]
	if !ok || a.IntegrationID != chi.URLParam(r, "id") {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	delete(s.actions, aid)
	s.deleted[a.Kind] = append(s.deleted[a.Kind], a.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renderValue(prm *parameter, envID, value string) map[string]interface{} {
	internal := interface{}(value)
	if prm.Secret {
		internal = "*****"
	}
	return map[string]interface{}{
		"id":               prm.ID + ":" + envID,
		"environment":      s.apiURL("/environments/" + envID + "/"),
		"environment_name": s.nodes["environments"][envID].Name,
		"internal_value":   internal,
		"secret":           prm.Secret,
	}
}

func (s *Server) listValues(w http.ResponseWriter, r *http.Request) {
	prmID := chi.URLParam(r, "prm")
	envFilter := r.URL.Query().Get("environment")
	unmask := r.URL.Query().Get("mask_secrets") == "false"
	s.mu.Lock()
	prm, ok := s.params[prmID]
	if !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	envIDs := make([]string, 0, len(s.values[prmID]))
	for envID := range s.values[prmID] {
		if envFilter == "" || envFilter == envID {
			envIDs = append(envIDs, envID)
		}
	}
	sort.Strings(envIDs)
	items := make([]map[string]interface{}, 0, len(envIDs))
	for _, envID := range envIDs {
		item := s.renderValue(prm, envID, s.values[prmID][envID])
		if unmask {
			item["internal_value"] = s.values[prmID][envID]
		}
		items = append(items, item)
	}
	s.mu.Unlock()
	s.paginate(w, r, items)
}

func (s *Server) createValue(w http.ResponseWriter, r *http.Request) {
	prmID := chi.URLParam(r, "prm")
	var body struct {
		Environment   string `json:"environment"`
		InternalValue string `json:"internal_value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prm, ok := s.params[prmID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	envID := lastSegment(body.Environment)
	if _, ok := s.nodes["environments"][envID]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"environment": "unknown environment"})
		return
	}
	if _, exists := s.values[prmID][envID]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "value already exists"})
		return
	}
	s.values[prmID][envID] = body.InternalValue
	writeJSON(w, http.StatusCreated, s.renderValue(prm, envID, body.InternalValue))
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	envs := map[string]interface{}{}
	for _, e := range s.nodes["environments"] {
		var parent interface{}
		if p, ok := s.nodes["environments"][e.ParentID]; ok {
			parent = p.Name
		}
		envs[e.Name] = map[string]interface{}{"name": e.Name, "parent": parent}
	}
	projects := map[string]interface{}{}
	for _, p := range s.nodes["projects"] {
		var parent interface{}
		if pp, ok := s.nodes["projects"][p.ParentID]; ok {
			parent = pp.Name
		}
		params := map[string]interface{}{}
		for _, prm := range s.params {
			if prm.ProjectID != p.ID {
				continue
			}
			vals := map[string]interface{}{}
			for envID, v := range s.values[prm.ID] {
				envName := s.nodes["environments"][envID].Name
				vals[envName] = map[string]interface{}{"environment": envName, "value": v, "source": p.Name}
			}
			params[prm.Name] = map[string]interface{}{"name": prm.Name, "secret": prm.Secret, "values": vals}
		}
		projects[p.Name] = map[string]interface{}{"name": p.Name, "parent": parent, "parameter": params}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metadata":    map[string]string{"format": "1"},
		"environment": envs,
		"project":     projects,
	})
}

func lastSegment(ref string) string {
	parts := strings.Split(strings.Trim(ref, "/"), "/")
	return parts[len(parts)-1]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
