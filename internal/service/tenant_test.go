package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mystra-io/tenantd/internal/config"
	"github.com/mystra-io/tenantd/internal/domain"
	"github.com/mystra-io/tenantd/internal/domain/tenant"
	"github.com/mystra-io/tenantd/internal/port/containerruntime"
	"github.com/mystra-io/tenantd/internal/port/sitecmd"
	"github.com/mystra-io/tenantd/internal/service"
)

// fakeRunner implements sitecmd.Runner against an in-memory site set.
type fakeRunner struct {
	mu    sync.Mutex
	sites map[string]bool
	keys  sitecmd.KeyPair

	createErr  error
	installErr error
	dropErr    error
	keysErr    error

	// createGate, when non-nil, blocks CreateSite until closed so tests
	// can hold an operation mid-flight. Entry is signalled on createEntered.
	createGate    chan struct{}
	createEntered chan struct{}

	dropNoBackup map[string]bool
}

func newFakeRunner(sites ...string) *fakeRunner {
	r := &fakeRunner{
		sites:        make(map[string]bool),
		keys:         sitecmd.KeyPair{Key: "key", Secret: "secret"},
		dropNoBackup: make(map[string]bool),
	}
	for _, s := range sites {
		r.sites[s] = true
	}
	return r
}

func (r *fakeRunner) CreateSite(_ context.Context, siteName, _ string) error {
	if r.createEntered != nil {
		r.createEntered <- struct{}{}
	}
	if r.createGate != nil {
		<-r.createGate
	}
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sites[siteName] = true
	return nil
}

func (r *fakeRunner) InstallApp(_ context.Context, _ string) error {
	return r.installErr
}

func (r *fakeRunner) DropSite(_ context.Context, siteName string, noBackup bool) error {
	if r.dropErr != nil {
		return r.dropErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sites, siteName)
	r.dropNoBackup[siteName] = noBackup
	return nil
}

func (r *fakeRunner) GenerateKeys(_ context.Context, _, _ string) (sitecmd.KeyPair, error) {
	if r.keysErr != nil {
		return sitecmd.KeyPair{}, r.keysErr
	}
	return r.keys, nil
}

func (r *fakeRunner) ListSites(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sites := make([]string, 0, len(r.sites))
	for s := range r.sites {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	return sites, nil
}

func (r *fakeRunner) SiteExists(_ context.Context, siteName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sites[siteName], nil
}

func (r *fakeRunner) hasSite(siteName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sites[siteName]
}

// fakeRuntime implements containerruntime.Runtime in memory.
type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]int // name → host port
	bindings   map[int]string // extra live bindings outside our control
	createErr  error
	listErr    error

	lastSpec containerruntime.Spec
}

func (rt *fakeRuntime) CreateFrontend(_ context.Context, spec containerruntime.Spec) (string, error) {
	if rt.createErr != nil {
		return "", rt.createErr
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.containers == nil {
		rt.containers = make(map[string]int)
	}
	rt.containers[spec.Name] = spec.Port
	rt.lastSpec = spec
	return "ref-" + spec.Name, nil
}

func (rt *fakeRuntime) RemoveContainer(_ context.Context, name string) (bool, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.containers[name]; !ok {
		return false, nil
	}
	delete(rt.containers, name)
	return true, nil
}

func (rt *fakeRuntime) ListPortBindings(_ context.Context) (map[int]string, error) {
	if rt.listErr != nil {
		return nil, rt.listErr
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make(map[int]string, len(rt.containers)+len(rt.bindings))
	for port, name := range rt.bindings {
		out[port] = name
	}
	for name, port := range rt.containers {
		out[port] = name
	}
	return out, nil
}

func (rt *fakeRuntime) hasContainer(name string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.containers[name]
	return ok
}

func newTestService(runner *fakeRunner, rt *fakeRuntime) *service.TenantService {
	cfg := config.Defaults()
	cfg.Ports.Table = map[string]int{"legacy.example.com": 8083}
	return service.NewTenantService(&cfg, runner, rt,
		service.NewPortRegistry(rt), service.NewLocks())
}

func TestCreateRoundTrip(t *testing.T) {
	runner := newFakeRunner()
	rt := &fakeRuntime{}
	svc := newTestService(runner, rt)

	res, err := svc.Create(context.Background(), tenant.CreateRequest{
		SiteName:       "acme.example.com",
		AdminPassword:  "Secr3t1!",
		Port:           8085,
		CreateFrontend: true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if res.Port != 8085 || !res.FrontendCreated {
		t.Errorf("result = %+v, want port 8085 and frontend_created", res)
	}
	if res.Credentials.Token != "token key:secret" {
		t.Errorf("Token = %q", res.Credentials.Token)
	}
	if res.Warning != "" {
		t.Errorf("Warning = %q, want empty", res.Warning)
	}

	// The new tenant appears in the listing derived from external state.
	sites, err := svc.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 1 || sites[0] != "acme.example.com" {
		t.Errorf("List() = %v", sites)
	}

	// The frontend container is pinned to this site, not to the inbound
	// hostname.
	if rt.lastSpec.Env["FRAPPE_SITE_NAME_HEADER"] != "acme.example.com" {
		t.Errorf("frontend env = %v", rt.lastSpec.Env)
	}
	if rt.lastSpec.Name != "frontend-tenant-acme-example-com" {
		t.Errorf("frontend name = %q", rt.lastSpec.Name)
	}
}

func TestCreateWithoutFrontendResolvesLegacyPort(t *testing.T) {
	runner := newFakeRunner()
	rt := &fakeRuntime{}
	svc := newTestService(runner, rt)

	res, err := svc.Create(context.Background(), tenant.CreateRequest{
		SiteName:      "legacy.example.com",
		AdminPassword: "pw",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if res.Port != 8083 {
		t.Errorf("Port = %d, want 8083 from port table", res.Port)
	}
	if res.FrontendCreated {
		t.Error("no frontend was requested")
	}
	if len(rt.containers) != 0 {
		t.Error("no container should have been created")
	}

	// Unknown sites fall back to the default publish port.
	res2, err := svc.Create(context.Background(), tenant.CreateRequest{
		SiteName:      "unknown.example.com",
		AdminPassword: "pw",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res2.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", res2.Port)
	}
}

func TestCreateExistingSiteRejected(t *testing.T) {
	runner := newFakeRunner("acme.example.com")
	svc := newTestService(runner, &fakeRuntime{})

	_, err := svc.Create(context.Background(), tenant.CreateRequest{
		SiteName:      "acme.example.com",
		AdminPassword: "pw",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Create() on existing site = %v, want ErrValidation", err)
	}
}

func TestCreateInstallFailureLeavesSiteInPlace(t *testing.T) {
	runner := newFakeRunner()
	runner.installErr = &sitecmd.ExecError{Op: "install app", Output: "install exploded", Err: errors.New("exit 1")}
	rt := &fakeRuntime{}
	reg := service.NewPortRegistry(rt)
	cfg := config.Defaults()
	svc := service.NewTenantService(&cfg, runner, rt, reg, service.NewLocks())

	_, err := svc.Create(context.Background(), tenant.CreateRequest{
		SiteName:       "acme.example.com",
		AdminPassword:  "pw",
		Port:           8085,
		CreateFrontend: true,
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var execErr *sitecmd.ExecError
	if !errors.As(err, &execErr) {
		t.Errorf("error = %v, want ExecError passthrough", err)
	}

	// Partial-failure policy: the half-created site is left in place for
	// remediation, but the port reservation is released.
	if !runner.hasSite("acme.example.com") {
		t.Error("site should have been left in place")
	}
	if _, held := reg.Holder(8085); held {
		t.Error("port reservation should have been released")
	}
	if len(rt.containers) != 0 {
		t.Error("no frontend should exist")
	}
}

func TestCreateKeyGenerationFailureIsNonFatal(t *testing.T) {
	runner := newFakeRunner()
	runner.keysErr = errors.New("generate_keys failed")
	svc := newTestService(runner, &fakeRuntime{})

	res, err := svc.Create(context.Background(), tenant.CreateRequest{
		SiteName:      "acme.example.com",
		AdminPassword: "Secr3t1!",
	})
	if err != nil {
		t.Fatalf("Create() error = %v, want success despite key failure", err)
	}
	if res.Warning == "" {
		t.Error("partial credentials must be flagged")
	}
	if res.Credentials.Complete() {
		t.Error("credentials should be partial")
	}
	if res.Credentials.Password != "Secr3t1!" {
		t.Error("caller-supplied password must be returned")
	}
}

func TestCreateFrontendFailureReleasesPort(t *testing.T) {
	runner := newFakeRunner()
	rt := &fakeRuntime{createErr: &containerruntime.Error{Op: "create frontend", Err: errors.New("image missing")}}
	reg := service.NewPortRegistry(rt)
	cfg := config.Defaults()
	svc := service.NewTenantService(&cfg, runner, rt, reg, service.NewLocks())

	_, err := svc.Create(context.Background(), tenant.CreateRequest{
		SiteName:       "acme.example.com",
		AdminPassword:  "pw",
		Port:           8085,
		CreateFrontend: true,
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var rtErr *containerruntime.Error
	if !errors.As(err, &rtErr) {
		t.Errorf("error = %v, want containerruntime.Error", err)
	}
	if _, held := reg.Holder(8085); held {
		t.Error("port reservation should have been released")
	}
	// Site stays; only the frontend failed.
	if !runner.hasSite("acme.example.com") {
		t.Error("site should have been left in place")
	}
}

func TestCreatePortConflict(t *testing.T) {
	runner := newFakeRunner()
	rt := &fakeRuntime{}
	svc := newTestService(runner, rt)
	ctx := context.Background()

	if _, err := svc.Create(ctx, tenant.CreateRequest{
		SiteName: "one.example.com", AdminPassword: "pw", Port: 8085, CreateFrontend: true,
	}); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Create(ctx, tenant.CreateRequest{
		SiteName: "two.example.com", AdminPassword: "pw", Port: 8085, CreateFrontend: true,
	})
	if !errors.Is(err, domain.ErrPortInUse) {
		t.Errorf("Create() with taken port = %v, want ErrPortInUse", err)
	}
}

func TestConcurrentCreateSameSite(t *testing.T) {
	runner := newFakeRunner()
	runner.createGate = make(chan struct{})
	runner.createEntered = make(chan struct{}, 1)
	svc := newTestService(runner, &fakeRuntime{})

	req := tenant.CreateRequest{SiteName: "acme.example.com", AdminPassword: "pw"}

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Create(context.Background(), req)
		firstDone <- err
	}()

	// Wait until the first create holds the site lock inside CreateSite.
	<-runner.createEntered

	_, err := svc.Create(context.Background(), req)
	if !errors.Is(err, domain.ErrOperationInProgress) {
		t.Errorf("overlapping Create() = %v, want ErrOperationInProgress", err)
	}

	close(runner.createGate)
	if err := <-firstDone; err != nil {
		t.Errorf("first Create() = %v, want success", err)
	}
}

func TestConcurrentCreateSamePort(t *testing.T) {
	runner := newFakeRunner()
	runner.createGate = make(chan struct{})
	rt := &fakeRuntime{}
	svc := newTestService(runner, rt)

	results := make(chan error, 2)
	for _, site := range []string{"one.example.com", "two.example.com"} {
		go func() {
			_, err := svc.Create(context.Background(), tenant.CreateRequest{
				SiteName: site, AdminPassword: "pw", Port: 8085, CreateFrontend: true,
			})
			results <- err
		}()
	}

	// Both goroutines reserve before either external call can finish.
	time.Sleep(50 * time.Millisecond)
	close(runner.createGate)

	var successes, portConflicts int
	for range 2 {
		switch err := <-results; {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrPortInUse):
			portConflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if successes != 1 || portConflicts != 1 {
		t.Errorf("successes = %d, port conflicts = %d, want 1 and 1", successes, portConflicts)
	}
}

func TestDeleteUnknownTenant(t *testing.T) {
	svc := newTestService(newFakeRunner(), &fakeRuntime{})

	_, err := svc.Delete(context.Background(), "ghost.example.com", tenant.DeleteOptions{NoBackup: true, RemoveFrontend: true})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Delete() unknown = %v, want ErrNotFound", err)
	}
}

func TestDeleteThenDeleteAgain(t *testing.T) {
	runner := newFakeRunner("acme.example.com")
	svc := newTestService(runner, &fakeRuntime{})
	ctx := context.Background()
	opts := tenant.DeleteOptions{NoBackup: true, RemoveFrontend: true}

	res, err := svc.Delete(ctx, "acme.example.com", opts)
	if err != nil {
		t.Fatalf("first Delete() = %v", err)
	}
	if res.SiteName != "acme.example.com" {
		t.Errorf("result = %+v", res)
	}
	if !runner.dropNoBackup["acme.example.com"] {
		t.Error("no_backup flag was not passed through")
	}

	_, err = svc.Delete(ctx, "acme.example.com", opts)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesFrontendAndReleasesPort(t *testing.T) {
	runner := newFakeRunner()
	rt := &fakeRuntime{}
	reg := service.NewPortRegistry(rt)
	cfg := config.Defaults()
	svc := service.NewTenantService(&cfg, runner, rt, reg, service.NewLocks())
	ctx := context.Background()

	if _, err := svc.Create(ctx, tenant.CreateRequest{
		SiteName: "acme.example.com", AdminPassword: "pw", Port: 8085, CreateFrontend: true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Delete(ctx, "acme.example.com", tenant.DeleteOptions{NoBackup: true, RemoveFrontend: true})
	if err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if !res.FrontendRemoved {
		t.Error("FrontendRemoved = false, want true")
	}
	if rt.hasContainer("frontend-tenant-acme-example-com") {
		t.Error("frontend container should be gone")
	}
	if _, held := reg.Holder(8085); held {
		t.Error("port should have been released")
	}
}

func TestDeleteKeepsFrontendWhenRequested(t *testing.T) {
	runner := newFakeRunner()
	rt := &fakeRuntime{}
	svc := newTestService(runner, rt)
	ctx := context.Background()

	if _, err := svc.Create(ctx, tenant.CreateRequest{
		SiteName: "acme.example.com", AdminPassword: "pw", Port: 8085, CreateFrontend: true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Delete(ctx, "acme.example.com", tenant.DeleteOptions{NoBackup: true, RemoveFrontend: false})
	if err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if res.FrontendRemoved {
		t.Error("FrontendRemoved = true, want false")
	}
	// The proxy stays up while the site itself is dropped.
	if !rt.hasContainer("frontend-tenant-acme-example-com") {
		t.Error("frontend container should have been left intact")
	}
	if runner.hasSite("acme.example.com") {
		t.Error("site should have been dropped")
	}
}

// fakeQueue captures published lifecycle events in memory.
type fakeQueue struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subjects = append(q.subjects, subject)
	q.payloads = append(q.payloads, data)
	return nil
}

func (q *fakeQueue) Close() error { return nil }

func TestLifecycleEventsCarryTenantState(t *testing.T) {
	runner := newFakeRunner()
	rt := &fakeRuntime{}
	queue := &fakeQueue{}
	cfg := config.Defaults()
	svc := service.NewTenantService(&cfg, runner, rt,
		service.NewPortRegistry(rt), service.NewLocks(), service.WithQueue(queue))
	ctx := context.Background()

	if _, err := svc.Create(ctx, tenant.CreateRequest{
		SiteName: "acme.example.com", AdminPassword: "pw", Port: 8085, CreateFrontend: true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Delete(ctx, "acme.example.com", tenant.DeleteOptions{NoBackup: true, RemoveFrontend: true}); err != nil {
		t.Fatal(err)
	}

	if len(queue.subjects) != 2 {
		t.Fatalf("published %d events, want 2", len(queue.subjects))
	}
	if queue.subjects[0] != "tenants.created" || queue.subjects[1] != "tenants.deleted" {
		t.Errorf("subjects = %v", queue.subjects)
	}

	var created struct {
		ID     string        `json:"id"`
		Tenant tenant.Tenant `json:"tenant"`
	}
	if err := json.Unmarshal(queue.payloads[0], &created); err != nil {
		t.Fatalf("decode created event: %v", err)
	}
	if created.ID == "" {
		t.Error("created event has no ID")
	}
	if created.Tenant.SiteName != "acme.example.com" || created.Tenant.State != tenant.StateActive {
		t.Errorf("created snapshot = %+v, want active acme.example.com", created.Tenant)
	}
	if created.Tenant.Port != 8085 || created.Tenant.FrontendRef == "" {
		t.Errorf("created snapshot = %+v, want port and frontend ref", created.Tenant)
	}
	if created.Tenant.CreatedAt.IsZero() {
		t.Error("created snapshot has no timestamp")
	}
	if created.Tenant.Credentials != nil {
		t.Error("credentials must never be published")
	}

	var deleted struct {
		Tenant tenant.Tenant `json:"tenant"`
	}
	if err := json.Unmarshal(queue.payloads[1], &deleted); err != nil {
		t.Fatalf("decode deleted event: %v", err)
	}
	if deleted.Tenant.SiteName != "acme.example.com" || deleted.Tenant.State != tenant.StateArchived {
		t.Errorf("deleted snapshot = %+v, want archived acme.example.com", deleted.Tenant)
	}
}

func TestDeleteIdempotentFrontendRemoval(t *testing.T) {
	// Site exists but its frontend container is already gone: removal is a
	// successful no-op reported as frontend_removed=false.
	runner := newFakeRunner("acme.example.com")
	rt := &fakeRuntime{}
	svc := newTestService(runner, rt)

	res, err := svc.Delete(context.Background(), "acme.example.com", tenant.DeleteOptions{NoBackup: true, RemoveFrontend: true})
	if err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if res.FrontendRemoved {
		t.Error("FrontendRemoved = true, want false for missing container")
	}
}
