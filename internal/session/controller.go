// Package session owns the dashboard's login state: which session is active,
// what role it has, which tab is shown, and the telemetry and user data that
// go with it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"door-monitor/internal/api"
	"door-monitor/internal/auth"
	"door-monitor/internal/logger"
	"door-monitor/internal/model"
	"door-monitor/internal/poller"
	"door-monitor/internal/tokenstore"
)

type Backend interface {
	Login(ctx context.Context, username, password string) (api.LoginResult, error)
	ListUsers(ctx context.Context, token string) ([]model.ManagedUser, error)
	CreateUser(ctx context.Context, token string, u model.NewUser) (model.ManagedUser, error)
	DeleteUser(ctx context.Context, token string, id int64) error
}

type RoleResolver interface {
	Resolve(ctx context.Context, token string) auth.Resolution
}

type Deps struct {
	Store    tokenstore.Store
	Backend  Backend
	Resolver RoleResolver
	Poller   *poller.Poller
}

type Controller struct {
	store    tokenstore.Store
	backend  Backend
	resolver RoleResolver
	poller   *poller.Poller

	// lifecycle serialises login, logout, restore and role refresh.
	lifecycle sync.Mutex

	mu           sync.Mutex
	session      *model.Session
	activeTab    model.Tab
	snapshot     *model.TelemetrySnapshot
	history      []model.HistoryEntry
	historyStale bool
	users        []model.ManagedUser
	lastErr      string
	handle       *poller.Handle
	// gen changes whenever the session is replaced or cleared; poller
	// emissions and slow backend replies from an older generation are ignored.
	gen uint64

	notifyMu sync.Mutex
	subs     map[int]func(model.ViewModel)
	nextSub  int
}

func NewController(deps Deps) *Controller {
	return &Controller{
		store:     deps.Store,
		backend:   deps.Backend,
		resolver:  deps.Resolver,
		poller:    deps.Poller,
		activeTab: model.TabDashboard,
		subs:      make(map[int]func(model.ViewModel)),
	}
}

// Restore resumes the session persisted in the token store, if any.
func (c *Controller) Restore(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	tokens, err := c.store.Load(ctx)
	if errors.Is(err, tokenstore.ErrCorrupt) || errors.Is(err, tokenstore.ErrUnsupportedVersion) {
		logger.Infof("discarding stored token: %v", err)
		c.teardown(ctx)
		return ErrTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if tokens.Empty() {
		return nil
	}

	res := c.resolver.Resolve(ctx, tokens.Access)
	if res.Invalid {
		logger.Infof("discarding stored token: cannot be decoded")
		c.teardown(ctx)
		return ErrTokenInvalid
	}
	c.establish(ctx, tokens, res)
	logger.Infof("session restored (role=%s demo=%t source=%s)", res.Role, res.Demo, res.Source)
	return nil
}

func (c *Controller) Login(ctx context.Context, username, password string) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	out, err := c.backend.Login(ctx, username, password)
	if err != nil {
		c.setError("Login failed")
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	tokens := tokenstore.Tokens{Access: out.AccessToken, Refresh: out.RefreshToken}
	res := c.resolver.Resolve(ctx, tokens.Access)
	if res.Invalid {
		c.teardown(ctx)
		return ErrTokenInvalid
	}
	if err := c.store.Save(ctx, tokens); err != nil {
		logger.Errorf("persist token: %v", err)
	}
	c.establish(ctx, tokens, res)
	logger.Infof("logged in as %s (role=%s source=%s)", username, res.Role, res.Source)
	return nil
}

// LoginDemo starts an offline session on a locally synthesized token.
func (c *Controller) LoginDemo(ctx context.Context, username string, role model.Role) error {
	if _, ok := model.ParseRole(string(role)); !ok {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidUser, role)
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	tok, err := auth.NewDemoToken(username, role)
	if err != nil {
		return err
	}
	tokens := tokenstore.Tokens{Access: tok}
	res := c.resolver.Resolve(ctx, tok)
	if err := c.store.Save(ctx, tokens); err != nil {
		logger.Errorf("persist demo token: %v", err)
	}
	c.establish(ctx, tokens, res)
	logger.Infof("demo session started (role=%s)", res.Role)
	return nil
}

func (c *Controller) Logout(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.teardown(ctx)
	logger.Infof("logged out")
	return nil
}

// Close stops polling without touching the token store, so the session can
// be restored on the next start.
func (c *Controller) Close() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopPolling()
}

// RefreshRole resolves the current token again and applies the result.
func (c *Controller) RefreshRole(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	token, gen := c.session.Token, c.gen
	c.mu.Unlock()

	res := c.resolver.Resolve(ctx, token)
	if res.Invalid {
		c.teardown(ctx)
		return ErrTokenInvalid
	}
	c.applyRole(ctx, gen, res)
	return nil
}

// SetActiveTab returns the tab that is actually active afterwards.
func (c *Controller) SetActiveTab(tab model.Tab) model.Tab {
	c.mu.Lock()
	role := model.RoleViewer
	if c.session != nil {
		role = c.session.Role
	}
	c.activeTab = EffectiveTab(role, tab)
	effective := c.activeTab
	c.mu.Unlock()

	c.notify()
	return effective
}

func (c *Controller) RefreshHistory(ctx context.Context) error {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()
	if h == nil {
		return ErrNoSession
	}
	h.RefreshHistory()
	return nil
}

func (c *Controller) RefreshUsers(ctx context.Context) error {
	sess, gen, err := c.adminSession()
	if err != nil {
		return err
	}
	return c.loadUsers(ctx, sess, gen)
}

// CreateUser adds the user to the local list only after the backend accepted it.
func (c *Controller) CreateUser(ctx context.Context, u model.NewUser) error {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" || u.Password == "" {
		return fmt.Errorf("%w: username and password are required", ErrInvalidUser)
	}
	// The backend gets the tier name as supplied ("auditor" or "operator").
	u.Role = model.Role(strings.ToLower(strings.TrimSpace(string(u.Role))))
	if _, ok := model.ParseRole(string(u.Role)); !ok {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidUser, u.Role)
	}

	sess, gen, err := c.adminSession()
	if err != nil {
		return err
	}

	created, err := c.backend.CreateUser(ctx, sess.Token, u)
	if err != nil {
		c.setError("Creating user failed")
		return fmt.Errorf("create user: %w", err)
	}

	c.mu.Lock()
	if c.gen == gen {
		c.users = append(c.users, created)
		c.lastErr = ""
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// DeleteUser removes the user locally only after the backend confirmed it.
func (c *Controller) DeleteUser(ctx context.Context, id int64) error {
	sess, gen, err := c.adminSession()
	if err != nil {
		return err
	}

	c.mu.Lock()
	target, found := model.ManagedUser{}, false
	for _, u := range c.users {
		if u.ID == id {
			target, found = u, true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return ErrUnknownUser
	}
	if !target.Deletable() {
		return ErrNotDeletable
	}

	if err := c.backend.DeleteUser(ctx, sess.Token, id); err != nil {
		c.setError("Deleting user failed")
		return fmt.Errorf("delete user: %w", err)
	}

	c.mu.Lock()
	if c.gen == gen {
		kept := c.users[:0:0]
		for _, u := range c.users {
			if u.ID != id {
				kept = append(kept, u)
			}
		}
		c.users = kept
		c.lastErr = ""
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Controller) View() model.ViewModel {
	c.mu.Lock()
	defer c.mu.Unlock()

	vm := model.ViewModel{
		Tabs:      PermittedTabs(model.RoleViewer),
		ActiveTab: model.TabDashboard,
		History:   []model.HistoryEntry{},
		Users:     []model.ManagedUser{},
		Error:     c.lastErr,
	}
	if c.session == nil {
		return vm
	}

	vm.LoggedIn = true
	vm.Role = c.session.Role
	vm.IsDemo = c.session.IsDemo
	vm.Title = dashboardTitle(c.session.Role, c.session.RoleLabel)
	vm.Tabs = PermittedTabs(c.session.Role)
	vm.ActiveTab = c.activeTab
	if c.snapshot != nil {
		snap := *c.snapshot
		vm.Snapshot = &snap
	}
	vm.History = append(vm.History, c.history...)
	vm.HistoryStale = c.historyStale
	if c.session.Role == model.RoleAdmin {
		vm.Users = append(vm.Users, c.users...)
	}
	return vm
}

func (c *Controller) Session() (model.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return model.Session{}, false
	}
	return *c.session, true
}

// Subscribe registers fn for every state change. The returned func removes it.
// fn runs on the goroutine that changed the state and must not call back
// into the controller.
func (c *Controller) Subscribe(fn func(model.ViewModel)) func() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Controller) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if len(c.subs) == 0 {
		return
	}
	vm := c.View()
	for _, fn := range c.subs {
		fn(vm)
	}
}

func (c *Controller) establish(ctx context.Context, tokens tokenstore.Tokens, res auth.Resolution) {
	c.stopPolling()

	sess := model.Session{
		Token:        tokens.Access,
		RefreshToken: tokens.Refresh,
		Role:         res.Role,
		RoleLabel:    res.Label,
		Username:     res.Username,
		IsDemo:       res.Demo,
	}

	c.mu.Lock()
	c.clearLocked()
	c.session = &sess
	c.gen++
	gen := c.gen
	c.handle = c.poller.Start(sess, &pollSink{c: c, gen: gen})
	c.mu.Unlock()

	if sess.Role == model.RoleAdmin && !sess.IsDemo {
		if err := c.loadUsers(ctx, sess, gen); err != nil {
			logger.Errorf("initial user list: %v", err)
		}
	}
	c.notify()
}

// applyRole installs a re-resolved role and re-checks tab visibility.
func (c *Controller) applyRole(ctx context.Context, gen uint64, res auth.Resolution) {
	c.mu.Lock()
	if c.session == nil || c.gen != gen {
		c.mu.Unlock()
		return
	}
	wasAdmin := c.session.Role == model.RoleAdmin
	c.session.Role = res.Role
	c.session.RoleLabel = res.Label
	c.activeTab = EffectiveTab(res.Role, c.activeTab)
	if res.Role != model.RoleAdmin {
		c.users = nil
	}
	sess := *c.session
	c.mu.Unlock()

	if !wasAdmin && sess.Role == model.RoleAdmin && !sess.IsDemo {
		if err := c.loadUsers(ctx, sess, gen); err != nil {
			logger.Errorf("user list after role change: %v", err)
		}
	}
	c.notify()
}

// teardown stops polling first, then clears the session and the token store.
func (c *Controller) teardown(ctx context.Context) {
	c.stopPolling()

	c.mu.Lock()
	c.clearLocked()
	c.session = nil
	c.gen++
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		logger.Errorf("clear token store: %v", err)
	}
	c.notify()
}

func (c *Controller) stopPolling() {
	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.gen++
	c.mu.Unlock()

	if h != nil {
		h.Stop()
	}
}

func (c *Controller) clearLocked() {
	c.activeTab = model.TabDashboard
	c.snapshot = nil
	c.history = nil
	c.historyStale = false
	c.users = nil
	c.lastErr = ""
}

func (c *Controller) adminSession() (model.Session, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return model.Session{}, 0, ErrNoSession
	}
	if c.session.Role != model.RoleAdmin {
		return model.Session{}, 0, ErrForbidden
	}
	if c.session.IsDemo {
		return model.Session{}, 0, ErrDemoSession
	}
	return *c.session, c.gen, nil
}

func (c *Controller) loadUsers(ctx context.Context, sess model.Session, gen uint64) error {
	users, err := c.backend.ListUsers(ctx, sess.Token)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	c.mu.Lock()
	if c.gen == gen && c.session != nil && c.session.Role == model.RoleAdmin {
		c.users = users
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Controller) setError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
	c.notify()
}

type pollSink struct {
	c   *Controller
	gen uint64
}

func (s *pollSink) OnSnapshot(snap model.TelemetrySnapshot) {
	c := s.c
	c.mu.Lock()
	if c.gen != s.gen || c.session == nil {
		c.mu.Unlock()
		return
	}
	c.snapshot = &snap
	c.mu.Unlock()
	c.notify()
}

func (s *pollSink) OnHistory(entries []model.HistoryEntry, stale bool) {
	c := s.c
	c.mu.Lock()
	if c.gen != s.gen || c.session == nil {
		c.mu.Unlock()
		return
	}
	c.history = entries
	c.historyStale = stale
	c.mu.Unlock()
	c.notify()
}
