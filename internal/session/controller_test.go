package session

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"door-monitor/internal/api"
	"door-monitor/internal/auth"
	"door-monitor/internal/backendtest"
	"door-monitor/internal/model"
	"door-monitor/internal/poller"
	"door-monitor/internal/tokenstore"

	"github.com/gin-gonic/gin"
)

type fixture struct {
	be    *backendtest.Server
	store *tokenstore.Memory
	ctrl  *Controller
}

func newFixture(t *testing.T, opts poller.Options) *fixture {
	t.Helper()
	be := backendtest.New(t)
	be.AddUser("admin", "correct", "admin")
	be.AddUser("viewer", "pw", "viewer")

	client := api.New(be.URL, nil)
	store := tokenstore.NewMemory()
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}
	ctrl := NewController(Deps{
		Store:    store,
		Backend:  client,
		Resolver: auth.NewResolver(client),
		Poller:   poller.New(client, opts),
	})
	t.Cleanup(ctrl.Close)
	return &fixture{be: be, store: store, ctrl: ctrl}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func demoToken(payload string) string {
	return auth.DemoPrefix + base64.RawURLEncoding.EncodeToString([]byte(payload)) + ".sig"
}

func TestLogin_AdminScenario(t *testing.T) {
	f := newFixture(t, poller.Options{})
	ctx := context.Background()

	if err := f.ctrl.Login(ctx, "admin", "correct"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	vm := f.ctrl.View()
	if !vm.LoggedIn || vm.Role != model.RoleAdmin || vm.IsDemo {
		t.Fatalf("unexpected view: %+v", vm)
	}
	if vm.ActiveTab != model.TabDashboard {
		t.Fatalf("expected dashboard tab, got %s", vm.ActiveTab)
	}
	if !TabPermitted(vm.Role, model.TabUsers) {
		t.Fatalf("expected users tab permitted, got %v", vm.Tabs)
	}
	if vm.Title != "Admin Dashboard" {
		t.Fatalf("unexpected title %q", vm.Title)
	}
	if got := f.ctrl.SetActiveTab(model.TabUsers); got != model.TabUsers {
		t.Fatalf("expected users tab, got %s", got)
	}
	if len(vm.Users) != 2 {
		t.Fatalf("expected admin to see 2 users, got %d", len(vm.Users))
	}

	tokens, _ := f.store.Load(ctx)
	if tokens.Access == "" || tokens.Refresh != "refresh-admin" {
		t.Fatalf("expected tokens persisted, got %+v", tokens)
	}

	waitFor(t, "live snapshot", func() bool {
		s := f.ctrl.View().Snapshot
		return s != nil && !s.IsStale && s.DoorState == model.DoorOpen
	})
	waitFor(t, "history", func() bool {
		return f.be.Calls("GET /api/door-status/history") == 1
	})
}

func TestLogin_Rejected(t *testing.T) {
	f := newFixture(t, poller.Options{})
	ctx := context.Background()

	err := f.ctrl.Login(ctx, "admin", "wrong")
	if !errors.Is(err, ErrAuthFailed) || !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("expected ErrAuthFailed wrapping ErrUnauthorized, got %v", err)
	}
	vm := f.ctrl.View()
	if vm.LoggedIn || vm.Error == "" {
		t.Fatalf("expected logged-out view with error, got %+v", vm)
	}
	if tokens, _ := f.store.Load(ctx); !tokens.Empty() {
		t.Fatalf("expected no token stored, got %+v", tokens)
	}
}

func TestRestore_DemoViewerScenario(t *testing.T) {
	f := newFixture(t, poller.Options{Interval: 20 * time.Millisecond})
	ctx := context.Background()
	_ = f.store.Save(ctx, tokenstore.Tokens{Access: demoToken(`{"role":"viewer"}`)})

	if err := f.ctrl.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	vm := f.ctrl.View()
	if vm.Role != model.RoleViewer || !vm.IsDemo {
		t.Fatalf("unexpected view: %+v", vm)
	}
	if len(vm.Tabs) != 1 || vm.Tabs[0] != model.TabDashboard {
		t.Fatalf("expected only dashboard, got %v", vm.Tabs)
	}
	if got := f.ctrl.SetActiveTab(model.TabLogs); got != model.TabDashboard {
		t.Fatalf("expected logs forced to dashboard, got %s", got)
	}

	waitFor(t, "stale snapshot", func() bool {
		s := f.ctrl.View().Snapshot
		return s != nil && s.IsStale
	})
	time.Sleep(50 * time.Millisecond)
	if n := f.be.TotalCalls(); n != 0 {
		t.Fatalf("demo session made %d network calls", n)
	}
}

func TestRestore_InvalidTokenIsDiscarded(t *testing.T) {
	f := newFixture(t, poller.Options{})
	ctx := context.Background()
	_ = f.store.Save(ctx, tokenstore.Tokens{Access: "fake.@@@.x"})

	if err := f.ctrl.Restore(ctx); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if f.ctrl.View().LoggedIn {
		t.Fatalf("expected logged out")
	}
	if tokens, _ := f.store.Load(ctx); !tokens.Empty() {
		t.Fatalf("expected token cleared, got %+v", tokens)
	}
}

func TestRestore_MalformedRealToken(t *testing.T) {
	f := newFixture(t, poller.Options{})
	ctx := context.Background()
	_ = f.store.Save(ctx, tokenstore.Tokens{Access: "not-a-token"})

	if err := f.ctrl.Restore(ctx); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if tokens, _ := f.store.Load(ctx); !tokens.Empty() {
		t.Fatalf("expected token cleared")
	}
}

func TestRestore_CorruptTokenFileIsCleared(t *testing.T) {
	be := backendtest.New(t)
	client := api.New(be.URL, nil)
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte("{garbage"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ctrl := NewController(Deps{
		Store:    tokenstore.NewFile(path),
		Backend:  client,
		Resolver: auth.NewResolver(client),
		Poller:   poller.New(client, poller.Options{Interval: time.Hour, Timeout: time.Second}),
	})
	t.Cleanup(ctrl.Close)

	if err := ctrl.Restore(context.Background()); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected token file removed, stat err %v", err)
	}
	if err := ctrl.Restore(context.Background()); err != nil {
		t.Fatalf("second Restore should find nothing stored, got %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"version":9,"tokens":{"accessToken":"x"}}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := ctrl.Restore(context.Background()); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for unknown version, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected token file removed, stat err %v", err)
	}
}

func TestRestore_NoToken(t *testing.T) {
	f := newFixture(t, poller.Options{})
	if err := f.ctrl.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if f.ctrl.View().LoggedIn {
		t.Fatalf("expected logged out")
	}
}

func TestLogout_StopsPollingAndClears(t *testing.T) {
	f := newFixture(t, poller.Options{Interval: 10 * time.Millisecond})
	ctx := context.Background()
	if err := f.ctrl.Login(ctx, "viewer", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	waitFor(t, "a few polls", func() bool {
		return f.be.Calls("GET /api/door-status/latest") >= 2
	})

	if err := f.ctrl.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	// let a request already on the wire land before counting
	time.Sleep(20 * time.Millisecond)
	polls := f.be.Calls("GET /api/door-status/latest")
	vm := f.ctrl.View()
	if vm.LoggedIn || vm.Snapshot != nil || vm.ActiveTab != model.TabDashboard {
		t.Fatalf("expected cleared view, got %+v", vm)
	}
	if tokens, _ := f.store.Load(ctx); !tokens.Empty() {
		t.Fatalf("expected token cleared")
	}

	time.Sleep(60 * time.Millisecond)
	if n := f.be.Calls("GET /api/door-status/latest"); n != polls {
		t.Fatalf("polling continued after logout: %d -> %d", polls, n)
	}
	if f.ctrl.View().Snapshot != nil {
		t.Fatalf("stale emission resurrected the cleared session")
	}
}

func TestStatusTimeout_ServesFallback(t *testing.T) {
	f := newFixture(t, poller.Options{Timeout: 50 * time.Millisecond})
	f.be.SetStatusHandler(func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	if err := f.ctrl.Login(context.Background(), "viewer", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	waitFor(t, "fallback snapshot", func() bool {
		s := f.ctrl.View().Snapshot
		return s != nil && s.IsStale && s.DoorState == model.DoorClosed && s.TemperatureC == 21.5
	})
}

func TestRefreshRole_DowngradeForcesDashboard(t *testing.T) {
	f := newFixture(t, poller.Options{})
	ctx := context.Background()
	if err := f.ctrl.Login(ctx, "admin", "correct"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := f.ctrl.SetActiveTab(model.TabUsers); got != model.TabUsers {
		t.Fatalf("expected users tab, got %s", got)
	}

	f.be.SetRole("admin", "auditor")
	if err := f.ctrl.RefreshRole(ctx); err != nil {
		t.Fatalf("RefreshRole: %v", err)
	}
	vm := f.ctrl.View()
	if vm.Role != model.RoleOperator || vm.Title != "Auditor Dashboard" {
		t.Fatalf("expected auditor tier, got %+v", vm)
	}
	if vm.ActiveTab != model.TabDashboard {
		t.Fatalf("expected tab forced to dashboard, got %s", vm.ActiveTab)
	}
	if len(vm.Users) != 0 {
		t.Fatalf("non-admin must not see users, got %d", len(vm.Users))
	}
	if got := f.ctrl.SetActiveTab(model.TabLogs); got != model.TabLogs {
		t.Fatalf("expected logs permitted for auditor, got %s", got)
	}
}

func TestRefreshRole_BackendDownFallsBackToToken(t *testing.T) {
	f := newFixture(t, poller.Options{})
	ctx := context.Background()
	if err := f.ctrl.Login(ctx, "viewer", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.be.SetMeStatus(http.StatusServiceUnavailable)
	if err := f.ctrl.RefreshRole(ctx); err != nil {
		t.Fatalf("RefreshRole: %v", err)
	}
	if vm := f.ctrl.View(); vm.Role != model.RoleViewer || !vm.LoggedIn {
		t.Fatalf("unexpected view: %+v", vm)
	}
}

func TestUserMutations(t *testing.T) {
	f := newFixture(t, poller.Options{})
	ctx := context.Background()
	if err := f.ctrl.Login(ctx, "admin", "correct"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.be.FailUserMutations(http.StatusInternalServerError)
	err := f.ctrl.CreateUser(ctx, model.NewUser{Username: "new", Password: "pw", Role: "auditor"})
	if err == nil {
		t.Fatalf("expected create failure")
	}
	vm := f.ctrl.View()
	if len(vm.Users) != 2 || vm.Error == "" {
		t.Fatalf("failed create must not change local users: %+v", vm)
	}

	f.be.FailUserMutations(0)
	if err := f.ctrl.CreateUser(ctx, model.NewUser{Username: "new", Password: "pw", Role: "auditor"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	vm = f.ctrl.View()
	if len(vm.Users) != 3 || vm.Error != "" {
		t.Fatalf("expected created user applied, got %+v", vm)
	}

	var created, admin model.ManagedUser
	for _, u := range vm.Users {
		switch u.Username {
		case "new":
			created = u
		case "admin":
			admin = u
		}
	}
	if created.Role != model.RoleOperator {
		t.Fatalf("expected auditor to land in the middle tier locally, got %+v", created)
	}
	if got := f.be.UserRole("new"); got != "auditor" {
		t.Fatalf("expected backend to receive role \"auditor\", got %q", got)
	}

	if err := f.ctrl.DeleteUser(ctx, admin.ID); !errors.Is(err, ErrNotDeletable) {
		t.Fatalf("expected ErrNotDeletable, got %v", err)
	}
	if err := f.ctrl.DeleteUser(ctx, 9999); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}

	f.be.FailUserMutations(http.StatusBadGateway)
	if err := f.ctrl.DeleteUser(ctx, created.ID); err == nil {
		t.Fatalf("expected delete failure")
	}
	if len(f.ctrl.View().Users) != 3 {
		t.Fatalf("failed delete must not change local users")
	}

	f.be.FailUserMutations(0)
	if err := f.ctrl.DeleteUser(ctx, created.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if len(f.ctrl.View().Users) != 2 || f.be.HasUser("new") {
		t.Fatalf("expected user removed locally and remotely")
	}
}

func TestCreateUser_SendsRoleAsSupplied(t *testing.T) {
	f := newFixture(t, poller.Options{})
	ctx := context.Background()
	if err := f.ctrl.Login(ctx, "admin", "correct"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	cases := map[string]model.Role{"aud": " Auditor ", "op": "operator", "view": "viewer"}
	want := map[string]string{"aud": "auditor", "op": "operator", "view": "viewer"}
	for name, role := range cases {
		if err := f.ctrl.CreateUser(ctx, model.NewUser{Username: name, Password: "pw", Role: role}); err != nil {
			t.Fatalf("CreateUser(%s): %v", name, err)
		}
		if got := f.be.UserRole(name); got != want[name] {
			t.Fatalf("%s: backend received role %q, want %q", name, got, want[name])
		}
	}
}

func TestUserMutations_Validation(t *testing.T) {
	f := newFixture(t, poller.Options{})
	ctx := context.Background()

	if err := f.ctrl.RefreshUsers(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if err := f.ctrl.Login(ctx, "viewer", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.ctrl.CreateUser(ctx, model.NewUser{Username: "x", Password: "y", Role: "viewer"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.ctrl.CreateUser(ctx, model.NewUser{Username: " ", Password: "y", Role: "viewer"}); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if err := f.ctrl.CreateUser(ctx, model.NewUser{Username: "x", Password: "y", Role: "root"}); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func TestLoginDemo_AdminStaysOffline(t *testing.T) {
	f := newFixture(t, poller.Options{Interval: 10 * time.Millisecond})
	ctx := context.Background()

	if err := f.ctrl.LoginDemo(ctx, "demo", model.RoleAdmin); err != nil {
		t.Fatalf("LoginDemo: %v", err)
	}
	vm := f.ctrl.View()
	if !vm.IsDemo || vm.Role != model.RoleAdmin {
		t.Fatalf("unexpected view: %+v", vm)
	}
	if err := f.ctrl.CreateUser(ctx, model.NewUser{Username: "x", Password: "y", Role: "viewer"}); !errors.Is(err, ErrDemoSession) {
		t.Fatalf("expected ErrDemoSession, got %v", err)
	}
	waitFor(t, "demo history", func() bool {
		vm := f.ctrl.View()
		return len(vm.History) == 1 && vm.HistoryStale
	})
	if n := f.be.TotalCalls(); n != 0 {
		t.Fatalf("demo session made %d network calls", n)
	}

	tokens, _ := f.store.Load(ctx)
	if !auth.IsDemo(tokens.Access) {
		t.Fatalf("expected demo token persisted, got %q", tokens.Access)
	}
	if err := f.ctrl.LoginDemo(ctx, "demo", "root"); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func TestRefreshHistory(t *testing.T) {
	f := newFixture(t, poller.Options{})
	ctx := context.Background()
	if err := f.ctrl.RefreshHistory(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	f.be.SetHistory([]backendtest.Status{{State: "open", Temp: 1, Battery: 2, Timestamp: "2026-01-01T00:00:00"}})
	if err := f.ctrl.Login(ctx, "viewer", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	waitFor(t, "initial history", func() bool { return len(f.ctrl.View().History) == 1 })

	f.be.SetHistory([]backendtest.Status{
		{State: "closed", Temp: 3, Battery: 4, Timestamp: "2026-01-01T01:00:00"},
		{State: "open", Temp: 1, Battery: 2, Timestamp: "2026-01-01T00:00:00"},
	})
	if err := f.ctrl.RefreshHistory(ctx); err != nil {
		t.Fatalf("RefreshHistory: %v", err)
	}
	waitFor(t, "refreshed history", func() bool {
		vm := f.ctrl.View()
		return len(vm.History) == 2 && vm.History[0].DoorState == model.DoorClosed && !vm.HistoryStale
	})
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, poller.Options{})
	var mu sync.Mutex
	var views []model.ViewModel
	unsubscribe := f.ctrl.Subscribe(func(vm model.ViewModel) {
		mu.Lock()
		views = append(views, vm)
		mu.Unlock()
	})

	if err := f.ctrl.LoginDemo(context.Background(), "demo", model.RoleOperator); err != nil {
		t.Fatalf("LoginDemo: %v", err)
	}
	waitFor(t, "logged-in notification", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(views) > 0 && views[len(views)-1].LoggedIn
	})

	unsubscribe()
	mu.Lock()
	n := len(views)
	mu.Unlock()
	f.ctrl.SetActiveTab(model.TabLogs)
	mu.Lock()
	defer mu.Unlock()
	if len(views) != n {
		t.Fatalf("notification after unsubscribe")
	}
}

func TestPermittedTabs(t *testing.T) {
	for _, role := range []model.Role{model.RoleViewer, model.RoleOperator, model.RoleAdmin, "unknown"} {
		tabs := PermittedTabs(role)
		if len(tabs) == 0 || tabs[0] != model.TabDashboard {
			t.Fatalf("%s: dashboard must come first, got %v", role, tabs)
		}
		for _, tab := range []model.Tab{model.TabDashboard, model.TabLogs, model.TabUsers, model.TabTickets, "settings"} {
			got := EffectiveTab(role, tab)
			if TabPermitted(role, tab) && got != tab {
				t.Fatalf("%s/%s: permitted tab changed to %s", role, tab, got)
			}
			if !TabPermitted(role, tab) && got != model.TabDashboard {
				t.Fatalf("%s/%s: expected dashboard, got %s", role, tab, got)
			}
		}
	}
	if TabPermitted(model.RoleOperator, model.TabUsers) {
		t.Fatalf("operator must not see users")
	}
}
