package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skilldock/skilldock/internal/analyzer"
	"github.com/skilldock/skilldock/internal/archive"
	"github.com/skilldock/skilldock/internal/deploy"
	"github.com/skilldock/skilldock/internal/importer"
	"github.com/skilldock/skilldock/internal/netpolicy"
	"github.com/skilldock/skilldock/internal/queue"
	"github.com/skilldock/skilldock/internal/skill"
)

// fakeStore implements every store-shaped dependency the handler stack
// needs.
type fakeStore struct {
	mu            sync.Mutex
	skills        map[string]*skill.Skill
	agents        map[string]*skill.Agent
	installations map[string]*deploy.Installation
	violations    []netpolicy.Violation
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		skills:        make(map[string]*skill.Skill),
		agents:        make(map[string]*skill.Agent),
		installations: make(map[string]*deploy.Installation),
	}
}

func (f *fakeStore) SaveSkill(_ context.Context, sk *skill.Skill) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sk
	f.skills[sk.ID] = &cp
	return nil
}

func (f *fakeStore) FindSkill(_ context.Context, id string) (*skill.Skill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skills[id], nil
}

func (f *fakeStore) ListSkills(_ context.Context, tenantID string) ([]*skill.Skill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*skill.Skill
	for _, sk := range f.skills {
		if sk.TenantID == tenantID {
			out = append(out, sk)
		}
	}
	return out, nil
}

func (f *fakeStore) FindAgent(_ context.Context, id string) (*skill.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[id], nil
}

func (f *fakeStore) TenantAgentIDs(_ context.Context, tenantID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, a := range f.agents {
		if a.TenantID == tenantID {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (f *fakeStore) InstalledSkills(_ context.Context, agentID string) ([]netpolicy.InstalledSkill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []netpolicy.InstalledSkill
	for _, inst := range f.installations {
		if inst.AgentID != agentID || inst.Status == deploy.StatusUninstalled {
			continue
		}
		sk := f.skills[inst.SkillID]
		if sk == nil {
			continue
		}
		var perms any
		if len(sk.Permissions) > 0 {
			_ = json.Unmarshal(sk.Permissions, &perms)
		}
		out = append(out, netpolicy.InstalledSkill{SkillID: sk.ID, SkillName: sk.Name, Permissions: perms})
	}
	return out, nil
}

func (f *fakeStore) FindInstallation(_ context.Context, id string) (*deploy.Installation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.installations[id]; ok {
		cp := *inst
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) FindInstallationByAgentSkill(_ context.Context, agentID, skillName string) (*deploy.Installation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.installations {
		if inst.AgentID == agentID && inst.SkillName == skillName {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateInstallation(_ context.Context, inst *deploy.Installation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *inst
	f.installations[inst.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateInstallation(_ context.Context, inst *deploy.Installation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *inst
	f.installations[inst.ID] = &cp
	return nil
}

func (f *fakeStore) ListInstallations(_ context.Context, agentID string) ([]*deploy.Installation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*deploy.Installation
	for _, inst := range f.installations {
		if inst.AgentID == agentID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListViolations(_ context.Context, tenantID string, _ int) ([]netpolicy.Violation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []netpolicy.Violation
	for _, v := range f.violations {
		if v.TenantID == tenantID && !v.Allowed {
			out = append(out, v)
		}
	}
	return out, nil
}

type testEnv struct {
	store  *fakeStore
	queue  *queue.MemoryQueue
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := newFakeStore()
	q := queue.NewMemoryQueue(logger)

	an := analyzer.New(time.Second, logger)
	validator := archive.NewValidator(an, logger)
	storage := archive.NewStorage(t.TempDir(), logger)
	agg := netpolicy.NewAggregator(store, store, netpolicy.NewMemoryCache(), nil, time.Minute, logger)
	orch := deploy.NewOrchestrator(store, store, store, q, storage, agg, t.TempDir(), logger)

	h := NewHandler(validator, an, storage, importer.New(logger), orch, agg, nil, store, nil, logger)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	store.agents["a1"] = &skill.Agent{ID: "a1", TenantID: "t1", Name: "worker", Role: "analyst"}
	store.skills["s1"] = &skill.Skill{
		ID: "s1", TenantID: "t1", Name: "http-fetcher", Version: "1.0.0",
		CompatibleRoles: []string{"analyst"},
		Status:          skill.StatusApproved,
		Source:          "module.exports = () => 1;",
		Permissions:     json.RawMessage(`{"network":{"allowed_domains":["api.foo.com"]}}`),
	}
	return &testEnv{store: store, queue: q, server: srv}
}

func (e *testEnv) request(t *testing.T, method, path string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func tenantHeaders() map[string]string {
	return map[string]string{TenantHeader: "t1", UserHeader: "u1", "Content-Type": "application/json"}
}

func packageZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"skill.md": "---\ntitle: Report Builder\ndescription: Builds reports.\n---\n1. Run.\n",
		"manifest.json": `{
  "name": "report-builder",
  "version": "1.2.0",
  "description": "Builds weekly reports",
  "category": "automation",
  "compatible_roles": ["analyst"]
}`,
	}
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.request(t, http.MethodGet, "/api/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
}

func TestValidateEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.request(t, http.MethodPost, "/api/skills/validate", packageZip(t), tenantHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var res archive.Result
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Valid || res.Manifest == nil {
		t.Fatalf("validation response: %s", body)
	}

	// Missing tenant header is rejected before any work happens.
	resp, _ = e.request(t, http.MethodPost, "/api/skills/validate", packageZip(t), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing tenant: status %d", resp.StatusCode)
	}
}

func TestValidatePersistsAndRegisters(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.request(t, http.MethodPost, "/api/skills/validate?persist=true", packageZip(t), tenantHeaders())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		SkillID   string `json:"skill_id"`
		PackageID string `json:"package_id"`
		Path      string `json:"path"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SkillID == "" || out.PackageID == "" || !strings.Contains(out.Path, "report-builder") {
		t.Fatalf("persist response: %s", body)
	}
	sk, _ := e.store.FindSkill(context.Background(), out.SkillID)
	if sk == nil || sk.Status != skill.StatusPendingReview {
		t.Fatalf("skill not registered: %+v", sk)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	e := newTestEnv(t)

	reqBody, _ := json.Marshal(map[string]any{"source": "eval('1+1')", "dry_run": false})
	resp, body := e.request(t, http.MethodPost, "/api/skills/analyze", reqBody, tenantHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var rep analyzer.Report
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Valid {
		t.Fatalf("eval source reported valid: %s", body)
	}
}

func TestInstallFlowOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	reqBody, _ := json.Marshal(map[string]string{"skill_id": "s1"})
	resp, body := e.request(t, http.MethodPost, "/api/agents/a1/installations", reqBody, tenantHeaders())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("install status %d: %s", resp.StatusCode, body)
	}
	var inst deploy.Installation
	if err := json.Unmarshal(body, &inst); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inst.Status != deploy.StatusDeploying {
		t.Fatalf("install returned %s", inst.Status)
	}

	// Conflict on the second install of the same skill.
	resp, _ = e.request(t, http.MethodPost, "/api/agents/a1/installations", reqBody, tenantHeaders())
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate install status %d", resp.StatusCode)
	}

	if err := e.queue.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	// Policy now contains the deployed skill's domain.
	checkBody, _ := json.Marshal(map[string]string{"domain": "api.foo.com", "agent_id": "a1"})
	resp, body = e.request(t, http.MethodPost, "/api/policy/check", checkBody, tenantHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check status %d: %s", resp.StatusCode, body)
	}
	var v netpolicy.Violation
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !v.Allowed {
		t.Fatalf("domain denied after deploy: %s", body)
	}

	resp, body = e.request(t, http.MethodDelete, "/api/installations/"+inst.ID, nil, tenantHeaders())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("uninstall status %d: %s", resp.StatusCode, body)
	}
	if err := e.queue.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	resp, body = e.request(t, http.MethodPost, "/api/policy/check", checkBody, tenantHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Allowed {
		t.Fatalf("domain still allowed after uninstall: %s", body)
	}
}

func TestInstallCrossTenantForbidden(t *testing.T) {
	e := newTestEnv(t)
	headers := tenantHeaders()
	headers[TenantHeader] = "other"

	reqBody, _ := json.Marshal(map[string]string{"skill_id": "s1"})
	resp, _ := e.request(t, http.MethodPost, "/api/agents/a1/installations", reqBody, headers)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-tenant install status %d", resp.StatusCode)
	}
}

func TestGetPolicyEndpoint(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.request(t, http.MethodGet, "/api/policy", nil, tenantHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var p netpolicy.Policy
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.TenantID != "t1" {
		t.Fatalf("policy for wrong tenant: %s", body)
	}
}

func TestGetSkillScopedByTenant(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.request(t, http.MethodGet, "/api/skills/s1", nil, tenantHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own skill status %d", resp.StatusCode)
	}

	headers := tenantHeaders()
	headers[TenantHeader] = "other"
	resp, _ = e.request(t, http.MethodGet, "/api/skills/s1", nil, headers)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign skill status %d", resp.StatusCode)
	}
}
