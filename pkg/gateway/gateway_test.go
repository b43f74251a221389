package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/observability"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/password"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/statestore"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/store"
)

// stubEngine implements provider.Provider without any external IdP. The
// callback trusts the pre-consumed flow state, mirroring how the real
// engines receive it from the gateway.
type stubEngine struct {
	deps provider.Deps
}

var stubBuilds atomic.Int64

func init() {
	provider.Register("stub", func(deps provider.Deps, cfg *provider.Config) (provider.Provider, error) {
		stubBuilds.Add(1)
		return &stubEngine{deps: deps}, nil
	})
}

func (s *stubEngine) Initiate(ctx context.Context, returnTo string) (*provider.InitiateResult, error) {
	state, err := provider.RandomToken(32)
	if err != nil {
		return nil, err
	}
	flow := provider.FlowState{
		StoreID:    s.deps.StoreID,
		ProviderID: s.deps.ProviderID,
		ReturnTo:   returnTo,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.deps.States.Set(ctx, statestore.StateKey(state), flow, statestore.StateTTL); err != nil {
		return nil, err
	}
	return &provider.InitiateResult{
		RedirectURL: "https://idp.example.com/authorize?state=" + state,
		State:       state,
	}, nil
}

func (s *stubEngine) HandleCallback(ctx context.Context, params provider.CallbackParams, flow *provider.FlowState) (*provider.AuthResult, error) {
	if flow == nil || flow.StoreID != s.deps.StoreID || flow.ProviderID != s.deps.ProviderID {
		return nil, &provider.InvalidOIDCTokenError{Reason: "state mismatch"}
	}
	if params.Code != "good" {
		return nil, &provider.ProviderAuthError{Provider: "stub", Description: "bad code"}
	}
	return &provider.AuthResult{
		User: &provider.UserProfile{ID: "idp|user-1", Email: "shopper@example.com", EmailVerified: true},
	}, nil
}

func (s *stubEngine) DefaultScopes() []string        { return nil }
func (s *stubEngine) ValidateConfig() error          { return nil }
func (s *stubEngine) RequiredConfigFields() []string { return nil }
func (s *stubEngine) IconURL() string                { return "/static/providers/stub.svg" }

// fakeConfigStore is an in-memory store.ConfigStore for handler tests.
type fakeConfigStore struct {
	stores    map[string]*store.StoreRecord
	providers map[string]map[string]*store.ProviderRecord
}

func newFakeConfigStore() *fakeConfigStore {
	now := time.Now().UTC()
	return &fakeConfigStore{
		stores: map[string]*store.StoreRecord{
			"store-1":  {ID: "store-1", Domain: "one.example.com", Enabled: true},
			"disabled": {ID: "disabled", Domain: "off.example.com", Enabled: false},
		},
		providers: map[string]map[string]*store.ProviderRecord{
			"store-1": {
				"stub-main": {
					StoreID:    "store-1",
					ProviderID: "stub-main",
					Enabled:    true,
					Config:     &provider.Config{Kind: "stub", Protocol: provider.ProtocolOIDC, UpdatedAt: now},
					UpdatedAt:  now,
				},
			},
		},
	}
}

func (f *fakeConfigStore) GetStore(_ context.Context, id string) (*store.StoreRecord, error) {
	if rec, ok := f.stores[id]; ok {
		return rec, nil
	}
	return nil, store.ErrStoreNotFound
}

func (f *fakeConfigStore) GetProvider(_ context.Context, storeID, providerID string) (*store.ProviderRecord, error) {
	if _, ok := f.stores[storeID]; !ok {
		return nil, store.ErrStoreNotFound
	}
	if rec, ok := f.providers[storeID][providerID]; ok {
		return rec, nil
	}
	return nil, store.ErrProviderNotFound
}

func (f *fakeConfigStore) ListProviders(_ context.Context, storeID string) ([]*store.ProviderRecord, error) {
	var out []*store.ProviderRecord
	for _, rec := range f.providers[storeID] {
		if rec.Enabled {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeConfigStore) UpsertProvider(_ context.Context, rec *store.ProviderRecord) error {
	if f.providers[rec.StoreID] == nil {
		f.providers[rec.StoreID] = map[string]*store.ProviderRecord{}
	}
	f.providers[rec.StoreID][rec.ProviderID] = rec
	return nil
}

func (f *fakeConfigStore) DeleteProvider(_ context.Context, storeID, providerID string) error {
	delete(f.providers[storeID], providerID)
	return nil
}

func (f *fakeConfigStore) Close() error { return nil }

// recordingSender captures OTP codes instead of delivering them.
type recordingSender struct {
	lastEmail string
	lastCode  string
}

func (r *recordingSender) Send(_ context.Context, email, code string) error {
	r.lastEmail, r.lastCode = email, code
	return nil
}

type testEnv struct {
	gateway *Gateway
	router  *mux.Router
	states  *statestore.MemoryStore
	configs *fakeConfigStore
	sender  *recordingSender
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()

	states := statestore.NewMemoryStore()
	t.Cleanup(func() { states.Close() })

	passwords, err := password.NewService("0123456789abcdef-pepper", "storefront-sso")
	require.NoError(t, err)

	hlog := logrus.New()
	hlog.SetOutput(io.Discard)

	configs := newFakeConfigStore()
	sender := &recordingSender{}

	opts := Options{
		BaseURL:       "https://sso.example.com",
		Configs:       configs,
		States:        states,
		Passwords:     passwords,
		Metrics:       observability.NewMetrics(prometheus.NewRegistry()),
		Logger:        observability.NewLogger(observability.ErrorLevel, io.Discard),
		HandlerLogger: hlog,
		OTPSender:     sender,
	}
	if mutate != nil {
		mutate(&opts)
	}

	gw, err := NewGateway(opts)
	require.NoError(t, err)
	t.Cleanup(gw.Close)

	router := mux.NewRouter()
	router.Use(RequestIDMiddleware)
	gw.RegisterRoutes(router)

	return &testEnv{gateway: gw, router: router, states: states, configs: configs, sender: sender}
}

func (e *testEnv) do(method, target string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestLoginRedirectsToProvider(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/auth/sso/store-1/stub-main/login?return_to=https://one.example.com/account", nil)

	require.Equal(t, http.StatusFound, rec.Code)
	loc := rec.Header().Get("Location")
	assert.Contains(t, loc, "https://idp.example.com/authorize?state=")
}

func TestLoginUnknownStoreGeneric(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{
		"/auth/sso/no-such-store/stub-main/login",
		"/auth/sso/disabled/stub-main/login",
		"/auth/sso/store-1/no-such-provider/login",
	} {
		rec := env.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "Sign-in failed")
		assert.NotContains(t, rec.Body.String(), "no-such-store", "no internal detail leaks")
	}
}

func TestMetadataRequiresSAMLEngine(t *testing.T) {
	env := newTestEnv(t, nil)

	// The stub engine publishes no metadata.
	rec := env.do(http.MethodGet, "/auth/sso/store-1/stub-main/metadata", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func completeLogin(t *testing.T, env *testEnv) string {
	t.Helper()
	rec := env.do(http.MethodGet, "/auth/sso/store-1/stub-main/login?return_to=https://one.example.com/account", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("state")
}

func TestCallbackIssuesCredentialHandoff(t *testing.T) {
	env := newTestEnv(t, nil)
	state := completeLogin(t, env)

	rec := env.do(http.MethodGet, fmt.Sprintf("/auth/sso/store-1/stub-main/callback?code=good&state=%s", state), nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "one.example.com", loc.Host)
	assert.Equal(t, "/account", loc.Path)
	token := loc.Query().Get("sso_token")
	require.NotEmpty(t, token)

	// Redeem once.
	redeem := env.do(http.MethodGet, "/auth/sso/creds/"+token, nil)
	require.Equal(t, http.StatusOK, redeem.Code)

	var handoff credentialHandoff
	require.NoError(t, json.Unmarshal(redeem.Body.Bytes(), &handoff))
	assert.Equal(t, "store-1", handoff.StoreID)
	assert.Equal(t, "shopper@example.com", handoff.Email)
	assert.Len(t, handoff.Password, 20)

	// Second redemption must miss.
	redeem = env.do(http.MethodGet, "/auth/sso/creds/"+token, nil)
	assert.Equal(t, http.StatusNotFound, redeem.Code)
}

func TestCallbackPasswordIsDeterministic(t *testing.T) {
	env := newTestEnv(t, nil)

	redeemOnce := func() string {
		state := completeLogin(t, env)
		rec := env.do(http.MethodGet, fmt.Sprintf("/auth/sso/store-1/stub-main/callback?code=good&state=%s", state), nil)
		require.Equal(t, http.StatusFound, rec.Code)
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)

		redeem := env.do(http.MethodGet, "/auth/sso/creds/"+loc.Query().Get("sso_token"), nil)
		require.Equal(t, http.StatusOK, redeem.Code)
		var handoff credentialHandoff
		require.NoError(t, json.Unmarshal(redeem.Body.Bytes(), &handoff))
		return handoff.Password
	}

	assert.Equal(t, redeemOnce(), redeemOnce(), "same identity at the same store derives the same password")
}

func TestCallbackRejectsReplayedState(t *testing.T) {
	env := newTestEnv(t, nil)
	state := completeLogin(t, env)

	first := env.do(http.MethodGet, fmt.Sprintf("/auth/sso/store-1/stub-main/callback?code=good&state=%s", state), nil)
	require.Equal(t, http.StatusFound, first.Code)

	second := env.do(http.MethodGet, fmt.Sprintf("/auth/sso/store-1/stub-main/callback?code=good&state=%s", state), nil)
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.Contains(t, second.Body.String(), "Sign-in failed")
}

func TestCallbackRejectsCrossTenantState(t *testing.T) {
	env := newTestEnv(t, nil)

	// State minted for another store.
	flow := provider.FlowState{StoreID: "store-2", ProviderID: "stub-main", CreatedAt: time.Now().UTC()}
	require.NoError(t, env.states.Set(context.Background(), statestore.StateKey("foreign"), flow, statestore.StateTTL))

	rec := env.do(http.MethodGet, "/auth/sso/store-1/stub-main/callback?code=good&state=foreign", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallbackFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t, nil)
	state := completeLogin(t, env)

	rec := env.do(http.MethodGet, fmt.Sprintf("/auth/sso/store-1/stub-main/callback?code=bad&state=%s", state), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Sign-in failed")
	assert.NotContains(t, body, "bad code", "IdP detail stays server-side")
}

func TestCallbackRejectsMalformedForm(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/sso/store-1/stub-main/callback", strings.NewReader("%zz=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sign-in failed")
}

func TestListProviders(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/auth/sso/store-1/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []providerSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "stub-main", summaries[0].ID)
	assert.Equal(t, "https://sso.example.com/auth/sso/store-1/stub-main/login", summaries[0].LoginURL)
	assert.NotContains(t, rec.Body.String(), "client_secret")
}

func TestEngineCacheRollsOverOnConfigChange(t *testing.T) {
	env := newTestEnv(t, nil)

	before := stubBuilds.Load()
	env.do(http.MethodGet, "/auth/sso/store-1/stub-main/login", nil)
	env.do(http.MethodGet, "/auth/sso/store-1/stub-main/login", nil)
	assert.Equal(t, before+1, stubBuilds.Load(), "second login reuses the cached engine")

	// Simulate an admin config rotation.
	rec := env.configs.providers["store-1"]["stub-main"]
	rec.Config.UpdatedAt = rec.Config.UpdatedAt.Add(time.Second)

	env.do(http.MethodGet, "/auth/sso/store-1/stub-main/login", nil)
	assert.Equal(t, before+2, stubBuilds.Load(), "rotated config builds a fresh engine")
}

func TestOTPSendAndVerify(t *testing.T) {
	env := newTestEnv(t, nil)

	send := env.do(http.MethodPost, "/auth/sso/store-1/otp/send", []byte(`{"email":"Shopper@Example.com"}`))
	require.Equal(t, http.StatusOK, send.Code)
	assert.Equal(t, "shopper@example.com", env.sender.lastEmail)
	require.Len(t, env.sender.lastCode, 6)

	// Wrong code leaves the pending code in place.
	verify := env.do(http.MethodPost, "/auth/sso/store-1/otp/verify",
		[]byte(`{"email":"shopper@example.com","code":"000000"}`))
	if env.sender.lastCode != "000000" {
		require.Equal(t, http.StatusUnauthorized, verify.Code)
	}

	// Correct code verifies and hands back a credential token.
	verify = env.do(http.MethodPost, "/auth/sso/store-1/otp/verify",
		[]byte(fmt.Sprintf(`{"email":"shopper@example.com","code":%q}`, env.sender.lastCode)))
	require.Equal(t, http.StatusOK, verify.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(verify.Body.Bytes(), &resp))
	assert.Equal(t, "verified", resp["status"])
	assert.NotEmpty(t, resp["sso_token"])

	// The code is consumed; replays fail.
	replay := env.do(http.MethodPost, "/auth/sso/store-1/otp/verify",
		[]byte(fmt.Sprintf(`{"email":"shopper@example.com","code":%q}`, env.sender.lastCode)))
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
}

func TestOTPRejectsCrossStoreCode(t *testing.T) {
	env := newTestEnv(t, nil)

	// Second store so sends can target both tenants.
	env.configs.stores["store-2"] = &store.StoreRecord{ID: "store-2", Domain: "two.example.com", Enabled: true}

	send := env.do(http.MethodPost, "/auth/sso/store-1/otp/send", []byte(`{"email":"a@b.c"}`))
	require.Equal(t, http.StatusOK, send.Code)

	verify := env.do(http.MethodPost, "/auth/sso/store-2/otp/verify",
		[]byte(fmt.Sprintf(`{"email":"a@b.c","code":%q}`, env.sender.lastCode)))
	assert.Equal(t, http.StatusUnauthorized, verify.Code)
}

// consumeLostStore simulates losing the consume race: reads still succeed
// but the key is gone by the time Consume runs.
type consumeLostStore struct {
	statestore.Store
}

func (s *consumeLostStore) Consume(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func TestOTPVerifyRequiresWinningTheConsume(t *testing.T) {
	env := newTestEnv(t, func(opts *Options) {
		opts.States = &consumeLostStore{Store: opts.States}
	})

	send := env.do(http.MethodPost, "/auth/sso/store-1/otp/send", []byte(`{"email":"a@b.c"}`))
	require.Equal(t, http.StatusOK, send.Code)

	// The code matches, but another request already consumed it.
	verify := env.do(http.MethodPost, "/auth/sso/store-1/otp/verify",
		[]byte(fmt.Sprintf(`{"email":"a@b.c","code":%q}`, env.sender.lastCode)))
	assert.Equal(t, http.StatusUnauthorized, verify.Code)
	assert.NotContains(t, verify.Body.String(), "sso_token")
}

func TestOTPValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "not json", http.StatusBadRequest},
		{"missing email", `{}`, http.StatusBadRequest},
		{"bad email", `{"email":"nope"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/auth/sso/store-1/otp/send", []byte(tt.body))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t, func(opts *Options) {
		opts.Limiter = NewRateLimiter(client, 2, time.Minute)
	})

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodGet, "/auth/sso/store-1/stub-main/login", nil)
		require.Equal(t, http.StatusFound, rec.Code)
	}
	rec := env.do(http.MethodGet, "/auth/sso/store-1/stub-main/login", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other stores are unaffected.
	remaining, err := env.gateway.limiter.Remaining(context.Background(), "other-store")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestRedeemUnknownToken(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/auth/sso/creds/never-issued", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
