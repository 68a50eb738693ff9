package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/video-importer/internal/circuitbreaker"
	"github.com/video-importer/internal/errors"
	"github.com/video-importer/internal/storage"
)

const testLicense = "LIC-1234567890"

type vendorFixture struct {
	server  *httptest.Server
	client  *VendorClient
	breaker *circuitbreaker.Breaker
	now     time.Time

	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]interface{}
	sleeps   []time.Duration
	handler  http.HandlerFunc
}

func newVendorFixture(t *testing.T, license string, handler http.HandlerFunc) *vendorFixture {
	t.Helper()
	f := &vendorFixture{handler: handler, now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &body)
		}
		f.mu.Lock()
		f.requests = append(f.requests, r)
		f.bodies = append(f.bodies, body)
		h := f.handler
		f.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(f.server.Close)

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	cache := storage.NewCacheService(storage.NewRedisCacheFromClient(rc), time.Hour)

	f.breaker = circuitbreaker.NewBreaker(
		&circuitbreaker.Config{Name: "vendor", Threshold: 5, Cooldown: 300 * time.Second},
		circuitbreaker.WithClock(func() time.Time { return f.now }),
	)

	f.client = NewVendorClient(VendorClientConfig{
		ServerURL:  f.server.URL,
		Namespace:  "wp-json/ipv-vendor/v1",
		LicenseKey: license,
		SiteURL:    "https://blog.example.com",
		SiteName:   "Blog",
		BaseDelay:  time.Second,
	}, f.breaker,
		WithResponseCache(cache),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			f.mu.Lock()
			f.sleeps = append(f.sleeps, d)
			f.mu.Unlock()
			return nil
		}),
	)
	return f
}

func (f *vendorFixture) hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *vendorFixture) setHandler(h http.HandlerFunc) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func jsonResponse(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestRequest_UnauthorizedFailsFast(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusUnauthorized, `{"message":"domain mismatch"}`))
	ctx := context.Background()

	_, err := f.client.Request(ctx, "credits", http.MethodGet, nil, time.Second, RequestOptions{})

	require.Error(t, err)
	assert.True(t, errors.IsUnauthorized(err))
	assert.Contains(t, err.Error(), "domain mismatch")
	assert.Equal(t, 1, f.hits())
	assert.Empty(t, f.sleeps)
	assert.Equal(t, 1, f.breaker.GetStats(ctx).Failures)
}

func TestRequest_UnauthorizedDefaultMessage(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusUnauthorized, `not json`))

	_, err := f.client.Request(context.Background(), "credits", http.MethodGet, nil, time.Second, RequestOptions{})

	var catErr *errors.CategorizedError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, "Unauthorized – check license", catErr.Message)
}

func TestRequest_Retries503ThenSucceeds(t *testing.T) {
	calls := 0
	f := newVendorFixture(t, testLicense, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			jsonResponse(http.StatusServiceUnavailable, `{"message":"busy"}`)(w, r)
			return
		}
		jsonResponse(http.StatusOK, `{"status":"ok"}`)(w, r)
	})
	ctx := context.Background()
	f.breaker.RecordFailure(ctx)

	raw, err := f.client.Request(ctx, "health", http.MethodGet, nil, time.Second, RequestOptions{Cache: Bool(false)})

	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
	assert.Equal(t, 3, f.hits())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps)
	assert.Equal(t, 0, f.breaker.GetStats(ctx).Failures)
}

func TestRequest_RetryBudgetExhausted(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusGatewayTimeout, `{"error":"upstream timeout"}`))

	_, err := f.client.Request(context.Background(), "transcript", http.MethodPost, nil, time.Second,
		RequestOptions{MaxRetries: Int(2)})

	var catErr *errors.CategorizedError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, errors.CodeAPIError, catErr.Code)
	assert.Equal(t, http.StatusGatewayTimeout, catErr.UpstreamStatus)
	assert.Equal(t, "upstream timeout", catErr.Message)
	assert.Equal(t, 3, f.hits())
	assert.Len(t, f.sleeps, 2)
}

func TestRequest_OtherHTTPErrorNotRetried(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusUnprocessableEntity, `{}`))

	_, err := f.client.Request(context.Background(), "description", http.MethodPost, nil, time.Second, RequestOptions{})

	var catErr *errors.CategorizedError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, "unknown server error", catErr.Message)
	assert.Equal(t, 1, f.hits())
	assert.Empty(t, f.sleeps)
}

func TestRequest_TransportErrorRetried(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusOK, `{}`))
	f.server.Close()

	_, err := f.client.Request(context.Background(), "credits", http.MethodGet, nil, time.Second,
		RequestOptions{Cache: Bool(false), MaxRetries: Int(1)})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeTransportError))
	assert.Equal(t, []time.Duration{time.Second}, f.sleeps)
}

func TestRequest_CircuitOpensAndCoolsDown(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusInternalServerError, `{"message":"boom"}`))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.client.Request(ctx, "credits", http.MethodGet, nil, time.Second, RequestOptions{Cache: Bool(false)})
		require.True(t, errors.HasCode(err, errors.CodeAPIError))
	}
	require.Equal(t, 5, f.hits())

	_, err := f.client.Request(ctx, "credits", http.MethodGet, nil, time.Second, RequestOptions{Cache: Bool(false)})
	assert.True(t, errors.IsCircuitOpen(err))
	assert.Equal(t, 5, f.hits(), "open circuit must not reach the network")

	f.now = f.now.Add(300 * time.Second)
	f.setHandler(jsonResponse(http.StatusOK, `{"credits":{"remaining":10}}`))

	_, err = f.client.Request(ctx, "credits", http.MethodGet, nil, time.Second, RequestOptions{Cache: Bool(false)})
	assert.NoError(t, err)
	assert.Equal(t, 6, f.hits())
}

func TestRequest_OpenCircuitBeatsCache(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusOK, `{"status":"ok"}`))
	ctx := context.Background()

	ok, err := f.client.HealthCheck(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.client.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.hits(), "second call served from cache")

	for i := 0; i < 5; i++ {
		f.breaker.RecordFailure(ctx)
	}

	_, err = f.client.HealthCheck(ctx)
	assert.True(t, errors.IsCircuitOpen(err))
	assert.Equal(t, 1, f.hits())
}

func TestRequest_CallerCancelDoesNotTripBreaker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newVendorFixture(t, testLicense, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	_, err := f.client.Request(ctx, "credits", http.MethodGet, nil, 5*time.Second,
		RequestOptions{Cache: Bool(false), MaxRetries: Int(0)})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeTransportError))
	assert.Equal(t, 0, f.breaker.GetStats(context.Background()).Failures)
}

func TestRequest_DeadlineStillTripsBreaker(t *testing.T) {
	f := newVendorFixture(t, testLicense, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.client.Request(ctx, "credits", http.MethodGet, nil, 5*time.Second,
		RequestOptions{Cache: Bool(false), MaxRetries: Int(0)})

	require.Error(t, err)
	assert.Equal(t, 1, f.breaker.GetStats(context.Background()).Failures)
}

func TestRequest_NoCredential(t *testing.T) {
	f := newVendorFixture(t, "", jsonResponse(http.StatusOK, `{"status":"ok"}`))
	ctx := context.Background()

	_, err := f.client.Request(ctx, "credits", http.MethodGet, nil, time.Second, RequestOptions{})
	assert.True(t, errors.IsNoCredential(err))
	assert.Equal(t, 0, f.hits())

	ok, err := f.client.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.hits())
}

func TestRequest_HeadersAndBodyInjection(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusOK, `{"description":"ok"}`))

	_, err := f.client.Request(context.Background(), "description", http.MethodPost,
		map[string]interface{}{"title": "t"}, time.Second, RequestOptions{})
	require.NoError(t, err)

	req := f.requests[0]
	assert.Equal(t, "/wp-json/ipv-vendor/v1/description", req.URL.Path)
	assert.Equal(t, "Bearer "+testLicense, req.Header.Get("Authorization"))
	assert.Equal(t, testLicense, req.Header.Get("X-License-Key"))
	assert.Equal(t, "https://blog.example.com", req.Header.Get("X-Site-URL"))
	assert.NotEmpty(t, req.Header.Get("X-Request-ID"))
	assert.Equal(t, testLicense, f.bodies[0]["license_key"])
	assert.Equal(t, "t", f.bodies[0]["title"])
}

func TestRequest_PostIsNotCached(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusOK, `{"title":"x"}`))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.client.FetchVideoData(ctx, "dQw4w9WgXcQ")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, f.hits())
}

func TestGetTranscript_CachedForAWeek(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusOK, `{"transcript":"ciao a tutti","credits_info":{"remaining":9}}`))
	ctx := context.Background()

	text, err := f.client.GetTranscript(ctx, "dQw4w9WgXcQ", "auto", "it")
	require.NoError(t, err)
	assert.Equal(t, "ciao a tutti", text)

	text, err = f.client.GetTranscript(ctx, "dQw4w9WgXcQ", "auto", "it")
	require.NoError(t, err)
	assert.Equal(t, "ciao a tutti", text)
	assert.Equal(t, 1, f.hits())

	state := f.client.LicenseState()
	require.NotNil(t, state.Info)
	assert.EqualValues(t, 9, state.Info.Credits["remaining"])
}

func TestGetTranscript_MissingField(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusOK, `{"ok":true}`))

	_, err := f.client.GetTranscript(context.Background(), "dQw4w9WgXcQ", "auto", "auto")
	assert.ErrorContains(t, err, "no transcript received")
}

func TestGenerateDescription_RequiresLicense(t *testing.T) {
	f := newVendorFixture(t, "", jsonResponse(http.StatusOK, `{"description":"x"}`))

	_, err := f.client.GenerateDescription(context.Background(), "t", "title", "")
	assert.True(t, errors.IsNoCredential(err))
	assert.Equal(t, 0, f.hits())
}

func TestActivateLicense_RevertsOnFailure(t *testing.T) {
	f := newVendorFixture(t, "OLD-KEY-123456", jsonResponse(http.StatusForbidden, `{"message":"invalid key"}`))
	ctx := context.Background()

	_, err := f.client.ActivateLicense(ctx, "NEW-KEY-654321", "", "")
	require.Error(t, err)
	assert.Equal(t, "OLD-KEY-...", f.client.LicenseState().KeyPrefix)

	f.setHandler(jsonResponse(http.StatusOK, `{"license":{"status":"active","plan":"pro"}}`))
	info, err := f.client.ActivateLicense(ctx, "NEW-KEY-654321", "", "")
	require.NoError(t, err)
	assert.Equal(t, "pro", info.Plan)

	state := f.client.LicenseState()
	assert.True(t, state.Active)
	assert.NotNil(t, state.ActivatedAt)
	assert.Equal(t, "https://blog.example.com", f.bodies[1]["site_url"])
	assert.Equal(t, "Blog", f.bodies[1]["site_name"])
}

func TestDeactivateLicense_AlwaysClearsLocalState(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusBadRequest, `{"message":"nope"}`))

	msg := f.client.DeactivateLicense(context.Background())

	assert.Equal(t, "license deactivated", msg)
	assert.False(t, f.client.IsLicenseActive())
	assert.False(t, f.client.LicenseState().Configured)
	require.Equal(t, 1, f.hits())
	assert.Equal(t, testLicense, f.bodies[0]["license_key"])

	assert.Equal(t, "license removed locally", f.client.DeactivateLicense(context.Background()))
}

func TestGetLicenseInfo_UpdatesState(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusOK, `{"license":{"status":"expired"}}`))

	info, err := f.client.GetLicenseInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "expired", info.Status)
	assert.Equal(t, testLicense, f.requests[0].URL.Query().Get("license_key"))
	assert.False(t, f.client.IsLicenseActive())
}

func TestMetrics_PerEndpoint(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusOK, `{"credits":{}}`))
	ctx := context.Background()

	_, err := f.client.GetCredits(ctx)
	require.NoError(t, err)
	_, err = f.client.GetCredits(ctx)
	require.NoError(t, err)

	snapshot := f.client.Metrics().Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "credits", snapshot[0].Endpoint)
	assert.EqualValues(t, 2, snapshot[0].Calls)
	assert.EqualValues(t, 1, snapshot[0].CacheHits)
	assert.Equal(t, 50.0, snapshot[0].CacheHitRate)
	assert.Equal(t, 0.0, snapshot[0].ErrorRate)
}

func TestTestConnection(t *testing.T) {
	f := newVendorFixture(t, testLicense, jsonResponse(http.StatusOK, `{"status":"ok"}`))

	report := f.client.TestConnection(context.Background())
	assert.True(t, report.Success)
	assert.Equal(t, f.server.URL, report.Server)
	assert.Equal(t, circuitbreaker.StateClosed, report.CircuitBreaker.State)
}
