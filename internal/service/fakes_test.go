package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prperemyshlev/session-service/internal/domain"
	"github.com/prperemyshlev/session-service/internal/identity"
	"github.com/prperemyshlev/session-service/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return token
}

func tokenExpiringIn(t *testing.T, sub string, d time.Duration) string {
	t.Helper()
	return mintToken(t, jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"exp":   testNow.Add(d).Unix(),
		"iat":   testNow.Unix(),
	})
}

type fakeKV struct {
	mu        sync.Mutex
	data      map[string]string
	removed   [][]string
	removeErr error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.data[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeKV) RemoveMany(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removed = append(f.removed, keys)
	if f.removeErr != nil {
		return f.removeErr
	}
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeKV) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

type fakeTokenRepo struct {
	mu         sync.Mutex
	tokens     *domain.AuthTokens
	storeCalls int
	clearCalls int
	clearErr   error
}

func (f *fakeTokenRepo) Store(_ context.Context, tokens *domain.AuthTokens) (*domain.AuthTokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.storeCalls++
	copied := *tokens
	f.tokens = &copied
	return &copied, nil
}

func (f *fakeTokenRepo) Load(_ context.Context) (*domain.AuthTokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tokens == nil {
		return nil, repository.ErrNotFound
	}
	copied := *f.tokens
	return &copied, nil
}

func (f *fakeTokenRepo) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.clearCalls++
	if f.clearErr != nil {
		return f.clearErr
	}
	f.tokens = nil
	return nil
}

func (f *fakeTokenRepo) stores() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storeCalls
}

// fakeProvider is a scripted recovery tier
type fakeProvider struct {
	name    string
	outcome *domain.SessionOutcome
	err     error
	panics  bool
	// when set, TryRecover blocks until ctx ends and returns its error
	waitCtx bool

	mu    sync.Mutex
	calls int
	// when set, TryRecover signals started and waits for release
	started chan struct{}
	release chan struct{}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) TryRecover(ctx context.Context) (*domain.SessionOutcome, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if p.started != nil {
		p.started <- struct{}{}
		<-p.release
	}
	if p.panics {
		panic("provider exploded")
	}
	return p.outcome, p.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeHostedClient struct {
	session    *identity.HostedSession
	sessionErr error
	user       *identity.HostedUser
	attrs      map[string]string
	calls      int
}

func (f *fakeHostedClient) FetchCurrentSession(context.Context) (*identity.HostedSession, error) {
	f.calls++
	return f.session, f.sessionErr
}

func (f *fakeHostedClient) FetchCurrentUser(context.Context) (*identity.HostedUser, error) {
	return f.user, nil
}

func (f *fakeHostedClient) FetchUserAttributes(context.Context) (map[string]string, error) {
	return f.attrs, nil
}

type fakeFederatedUser struct {
	uid, email, photoURL, refreshToken string
	idToken                            string
	expiresAt                          time.Time
	reloads                            int
	forcedRefreshes                    int
}

func (u *fakeFederatedUser) UID() string          { return u.uid }
func (u *fakeFederatedUser) Email() string        { return u.email }
func (u *fakeFederatedUser) PhotoURL() string     { return u.photoURL }
func (u *fakeFederatedUser) RefreshToken() string { return u.refreshToken }

func (u *fakeFederatedUser) Reload(context.Context) error {
	u.reloads++
	return nil
}

func (u *fakeFederatedUser) GetIDToken(_ context.Context, force bool) (string, error) {
	if force {
		u.forcedRefreshes++
	}
	return u.idToken, nil
}

func (u *fakeFederatedUser) GetIDTokenResult(context.Context) (*identity.IDTokenResult, error) {
	return &identity.IDTokenResult{Token: u.idToken, ExpirationTime: u.expiresAt}, nil
}

type fakeFederatedClient struct {
	user  identity.FederatedUser
	err   error
	calls int
}

func (f *fakeFederatedClient) CurrentUser(context.Context) (identity.FederatedUser, error) {
	f.calls++
	return f.user, f.err
}

type fakeProfileResolver struct {
	status   *identity.ProfileStatus
	err      error
	requests []identity.ProfileStatusRequest
}

func (f *fakeProfileResolver) FetchProfileStatus(_ context.Context, req identity.ProfileStatusRequest) (*identity.ProfileStatus, error) {
	f.requests = append(f.requests, req)
	return f.status, f.err
}

var errProviderDown = errors.New("provider unavailable")

type managerFixture struct {
	kv      *fakeKV
	tokens  *fakeTokenRepo
	store   *SessionStore
	bus     *AppStateBus
	clock   *clockwork.FakeClock
	manager *SessionManager
}

func newManagerFixture(t *testing.T, providers ...SessionProvider) *managerFixture {
	t.Helper()

	f := &managerFixture{
		kv:     newFakeKV(),
		tokens: &fakeTokenRepo{},
		bus:    NewAppStateBus(),
		clock:  clockwork.NewFakeClockAt(testNow),
	}
	f.store = NewSessionStore(f.kv, f.tokens, zap.NewNop())
	f.manager = NewSessionManager(f.store, providers, f.bus, f.clock,
		DefaultSessionManagerConfig(), nil, zap.NewNop())

	t.Cleanup(f.manager.Shutdown)
	return f
}

func waitFor(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal(msg)
	}
}

func assertNotFired(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal(msg)
	case <-time.After(50 * time.Millisecond):
	}
}
