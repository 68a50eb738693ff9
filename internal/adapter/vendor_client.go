package adapter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/video-importer/internal/circuitbreaker"
	"github.com/video-importer/internal/config"
	"github.com/video-importer/internal/errors"
	"github.com/video-importer/internal/logging"
	"github.com/video-importer/internal/retry"
	"github.com/video-importer/internal/storage"
)

const (
	// DefaultMaxRetries is the retry budget when RequestOptions leaves it unset
	DefaultMaxRetries = 3

	transcriptCacheTTL = 7 * 24 * time.Hour
	maxResponseBytes   = 20 << 20
)

// Endpoints that can be called without a license key
var publicEndpoints = map[string]bool{
	"health": true,
}

// ResponseCache stores decoded responses. storage.CacheService implements it.
type ResponseCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// RequestOptions tune a single vendor request
type RequestOptions struct {
	Cache      *bool         // default: true for GET
	CacheTTL   time.Duration // default: the client's cache TTL
	MaxRetries *int          // default: DefaultMaxRetries
}

// Bool returns a pointer to b, for RequestOptions
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n, for RequestOptions
func Int(n int) *int { return &n }

// LicenseInfo is the license state reported by the vendor
type LicenseInfo struct {
	Status    string                 `json:"status"`
	Plan      string                 `json:"plan,omitempty"`
	ExpiresAt string                 `json:"expires_at,omitempty"`
	SiteURL   string                 `json:"site_url,omitempty"`
	Credits   map[string]interface{} `json:"credits,omitempty"`
}

// LicenseState is the locally held license state
type LicenseState struct {
	Configured  bool         `json:"configured"`
	KeyPrefix   string       `json:"keyPrefix,omitempty"`
	Active      bool         `json:"active"`
	Info        *LicenseInfo `json:"info,omitempty"`
	ActivatedAt *time.Time   `json:"activatedAt,omitempty"`
}

// ConnectionReport is the result of TestConnection
type ConnectionReport struct {
	Success        bool                  `json:"success"`
	Server         string                `json:"server"`
	ResponseTime   string                `json:"responseTime"`
	CircuitBreaker *circuitbreaker.Stats `json:"circuitBreaker"`
}

// VendorClientConfig configures a VendorClient
type VendorClientConfig struct {
	ServerURL  string
	Namespace  string
	LicenseKey string
	SiteURL    string
	SiteName   string
	MaxRetries int
	BaseDelay  time.Duration
	CacheTTL   time.Duration
}

// VendorConfigFrom maps application config onto the client config
func VendorConfigFrom(cfg *config.VendorConfig) VendorClientConfig {
	return VendorClientConfig{
		ServerURL:  cfg.ServerURL,
		Namespace:  cfg.Namespace,
		LicenseKey: cfg.LicenseKey,
		SiteURL:    cfg.SiteURL,
		SiteName:   cfg.SiteName,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		CacheTTL:   cfg.CacheTTL,
	}
}

// VendorClient is the single chokepoint for calls to the vendor API. It
// injects credentials, caches GET responses, retries transient failures with
// exponential backoff and trips a circuit breaker on repeated failures.
type VendorClient struct {
	cfg        VendorClientConfig
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	cache      ResponseCache
	metrics    *Metrics
	sleep      func(ctx context.Context, d time.Duration) error

	mu          sync.RWMutex
	licenseKey  string
	licenseInfo *LicenseInfo
	activatedAt *time.Time
}

// VendorOption customizes a VendorClient
type VendorOption func(*VendorClient)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) VendorOption {
	return func(v *VendorClient) { v.httpClient = c }
}

// WithResponseCache enables response caching
func WithResponseCache(c ResponseCache) VendorOption {
	return func(v *VendorClient) { v.cache = c }
}

// WithSleep overrides the backoff sleep
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) VendorOption {
	return func(v *VendorClient) { v.sleep = sleep }
}

// NewVendorClient creates a new vendor client
func NewVendorClient(cfg VendorClientConfig, breaker *circuitbreaker.Breaker, opts ...VendorOption) *VendorClient {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	cfg.Namespace = strings.Trim(cfg.Namespace, "/")

	if breaker == nil {
		breaker = circuitbreaker.NewBreaker(circuitbreaker.DefaultConfig("vendor"))
	}

	c := &VendorClient{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker:    breaker,
		metrics:    NewMetrics(),
		sleep:      retry.SleepContext,
		licenseKey: cfg.LicenseKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metrics returns the per-endpoint counters
func (c *VendorClient) Metrics() *Metrics {
	return c.metrics
}

// Breaker returns the client's circuit breaker
func (c *VendorClient) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

// FlushMetrics logs and resets the per-endpoint counters
func (c *VendorClient) FlushMetrics() {
	c.metrics.Flush(logging.GetGlobalLogger())
}

// ServerURL returns the vendor base URL
func (c *VendorClient) ServerURL() string {
	return c.cfg.ServerURL
}

func (c *VendorClient) endpointURL(endpoint string) string {
	return c.cfg.ServerURL + "/" + c.cfg.Namespace + "/" + strings.TrimLeft(endpoint, "/")
}

// cacheKey hashes the request identity. Only the first 8 characters of the
// license take part, so rotating to another key invalidates the entries.
func cacheKey(endpoint, method string, body map[string]interface{}, license string) string {
	if len(license) > 8 {
		license = license[:8]
	}
	data, _ := json.Marshal(struct {
		Endpoint string                 `json:"endpoint"`
		Method   string                 `json:"method"`
		Body     map[string]interface{} `json:"body"`
		License  string                 `json:"license"`
	}{endpoint, method, body, license})

	sum := sha256.Sum256(data)
	return storage.GenerateCacheKey(storage.CacheKeyVendorResponse, hex.EncodeToString(sum[:]))
}

func metricsName(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

// Request performs one vendor call: circuit check, cache lookup, credential
// gate, then the retry loop.
func (c *VendorClient) Request(ctx context.Context, endpoint, method string, body map[string]interface{}, timeout time.Duration, opts RequestOptions) (json.RawMessage, error) {
	return c.request(ctx, c.currentKey(), endpoint, method, body, timeout, opts)
}

func (c *VendorClient) request(ctx context.Context, licenseKey, endpoint, method string, body map[string]interface{}, timeout time.Duration, opts RequestOptions) (json.RawMessage, error) {
	logger := logging.FromContext(ctx).WithField("endpoint", endpoint)
	name := metricsName(endpoint)

	if err := c.breaker.Allow(ctx); err != nil {
		return nil, errors.NewCircuitOpenError(endpoint)
	}

	useCache := method == http.MethodGet
	if opts.Cache != nil {
		useCache = *opts.Cache && method == http.MethodGet
	}
	var key string
	if useCache && c.cache != nil {
		key = cacheKey(endpoint, method, body, licenseKey)
		var cached json.RawMessage
		found, err := c.cache.Get(ctx, key, &cached)
		if err != nil {
			logger.WithError(err).Warn("Response cache read failed")
		}
		if found {
			c.metrics.Record(name, 0, OutcomeCacheHit)
			return cached, nil
		}
	}

	if licenseKey == "" && !publicEndpoints[endpoint] {
		return nil, errors.NewNoCredentialError(endpoint)
	}

	maxRetries := DefaultMaxRetries
	if c.cfg.MaxRetries > 0 {
		maxRetries = c.cfg.MaxRetries
	}
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		maxRetries = *opts.MaxRetries
	}

	payload, err := encodeBody(method, body, licenseKey)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode request body", err)
	}

	var (
		result  json.RawMessage
		elapsed time.Duration
	)
	retryCfg := &retry.RetryConfig{
		MaxAttempts:  maxRetries + 1,
		InitialDelay: c.cfg.BaseDelay,
		Multiplier:   2.0,
		Sleep:        c.sleep,
	}
	err = retry.Do(logging.WithLogger(ctx, logger), retryCfg, func(ctx context.Context, attempt int) error {
		start := time.Now()
		data, err := c.attempt(ctx, licenseKey, endpoint, method, payload, timeout)
		elapsed = time.Since(start)
		if err != nil {
			if !errors.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		result = data
		return nil
	})

	if err != nil {
		if ctx.Err() != nil && !errors.HasCode(err, errors.CodeTransportError) {
			err = errors.NewTransportError("request cancelled", false, err)
		}
		// a caller that gave up says nothing about the vendor's health
		if !stderrors.Is(ctx.Err(), context.Canceled) {
			c.breaker.RecordFailure(ctx)
		}

		outcome := OutcomeError
		switch {
		case errors.IsUnauthorized(err):
			outcome = OutcomeUnauthorized
			logger.WithError(err).Warn("Vendor API unauthorized")
		case errors.HasCode(err, errors.CodeAPIError):
			outcome = OutcomeHTTPError
			logger.WithError(err).Warn("Vendor API HTTP error")
		default:
			logger.WithError(err).Warn("Vendor API transport error")
		}
		c.metrics.Record(name, elapsed, outcome)
		return nil, err
	}

	c.breaker.RecordSuccess(ctx)
	c.metrics.Record(name, elapsed, OutcomeSuccess)

	if key != "" {
		ttl := c.cfg.CacheTTL
		if opts.CacheTTL > 0 {
			ttl = opts.CacheTTL
		}
		if err := c.cache.SetWithTTL(ctx, key, result, ttl); err != nil {
			logger.WithError(err).Warn("Response cache write failed")
		}
	}

	return result, nil
}

func encodeBody(method string, body map[string]interface{}, licenseKey string) ([]byte, error) {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, nil
	}

	out := make(map[string]interface{}, len(body)+1)
	for k, v := range body {
		out[k] = v
	}
	if _, ok := out["license_key"]; !ok && licenseKey != "" {
		out["license_key"] = licenseKey
	}
	return json.Marshal(out)
}

// attempt issues one HTTP call and classifies the outcome
func (c *VendorClient) attempt(ctx context.Context, licenseKey, endpoint, method string, payload []byte, timeout time.Duration) (json.RawMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpointURL(endpoint), reader)
	if err != nil {
		return nil, errors.NewTransportError("invalid request", false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+licenseKey)
	req.Header.Set("X-License-Key", licenseKey)
	req.Header.Set("X-Site-URL", c.cfg.SiteURL)
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransportError(err.Error(), isRetryableTransport(ctx, err), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.NewTransportError("failed to read response", isRetryableTransport(ctx, err), err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errors.NewUnauthorizedError(errorMessage(raw, "Unauthorized – check license"))
	}
	if resp.StatusCode >= 400 {
		return nil, errors.NewAPIError(resp.StatusCode, errorMessage(raw, "unknown server error"))
	}

	if !json.Valid(raw) {
		return nil, errors.NewAPIError(resp.StatusCode, "invalid JSON in vendor response")
	}
	return json.RawMessage(raw), nil
}

// errorMessage extracts "message", then "error", from a JSON error body
func errorMessage(raw []byte, fallback string) string {
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fallback
	}
	for _, field := range []string{"message", "error"} {
		if s, ok := body[field].(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// isRetryableTransport reports whether a transport failure is worth another
// attempt: timeouts, refused or reset connections and temporary DNS errors.
func isRetryableTransport(ctx context.Context, err error) bool {
	if ctx.Err() == context.Canceled {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) && urlErr.Err != nil && strings.Contains(urlErr.Err.Error(), "unsupported protocol scheme") {
		return false
	}
	return stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, io.EOF)
}

func (c *VendorClient) currentKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.licenseKey
}

// IsLicenseActive reports whether a key is configured and, once the vendor
// has reported on it, whether its status is active.
func (c *VendorClient) IsLicenseActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.licenseKey == "" {
		return false
	}
	return c.licenseInfo == nil || c.licenseInfo.Status == "active"
}

// LicenseState returns a copy of the local license state
func (c *VendorClient) LicenseState() LicenseState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := LicenseState{
		Configured:  c.licenseKey != "",
		Active:      c.licenseKey != "" && (c.licenseInfo == nil || c.licenseInfo.Status == "active"),
		ActivatedAt: c.activatedAt,
	}
	if c.licenseKey != "" {
		prefix := c.licenseKey
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		state.KeyPrefix = prefix + "..."
	}
	if c.licenseInfo != nil {
		info := *c.licenseInfo
		state.Info = &info
	}
	return state
}

func (c *VendorClient) cachedString(ctx context.Context, key string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	var s string
	found, err := c.cache.Get(ctx, key, &s)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Cache read failed")
		return "", false
	}
	return s, found
}

// GetTranscript returns the transcript of a video. Transcripts do not change,
// so the text is cached for a week.
func (c *VendorClient) GetTranscript(ctx context.Context, videoID, mode, lang string) (string, error) {
	if !c.IsLicenseActive() {
		return "", errors.NewLicenseInactiveError("transcript")
	}
	logger := logging.FromContext(ctx).WithField("videoId", videoID)

	key := storage.TranscriptKey(videoID, mode, lang)
	if text, ok := c.cachedString(ctx, key); ok {
		logger.Debug("Transcript cache hit")
		return text, nil
	}

	logger.WithFields(map[string]interface{}{"mode": mode, "lang": lang}).Info("Requesting transcript")
	raw, err := c.Request(ctx, "transcript", http.MethodPost, map[string]interface{}{
		"video_id": videoID,
		"mode":     mode,
		"lang":     lang,
	}, 180*time.Second, RequestOptions{Cache: Bool(false), MaxRetries: Int(2)})
	if err != nil {
		return "", err
	}

	var resp struct {
		Transcript  *string                `json:"transcript"`
		CreditsInfo map[string]interface{} `json:"credits_info"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Transcript == nil {
		return "", errors.NewEmptyResponseError("transcript")
	}

	if resp.CreditsInfo != nil {
		c.mu.Lock()
		if c.licenseInfo == nil {
			c.licenseInfo = &LicenseInfo{Status: "active"}
		}
		c.licenseInfo.Credits = resp.CreditsInfo
		c.mu.Unlock()
	}

	if c.cache != nil {
		if err := c.cache.SetWithTTL(ctx, key, *resp.Transcript, transcriptCacheTTL); err != nil {
			logger.WithError(err).Warn("Transcript cache write failed")
		}
	}

	logger.WithField("length", len(*resp.Transcript)).Info("Transcript received")
	return *resp.Transcript, nil
}

// GenerateDescription asks the vendor for an AI description of a transcript
func (c *VendorClient) GenerateDescription(ctx context.Context, transcript, title, prompt string) (string, error) {
	if !c.IsLicenseActive() {
		return "", errors.NewLicenseInactiveError("description")
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"title":            title,
		"transcriptLength": len(transcript),
		"hasCustomPrompt":  prompt != "",
	}).Info("Requesting AI description")

	raw, err := c.Request(ctx, "description", http.MethodPost, map[string]interface{}{
		"transcript":    transcript,
		"title":         title,
		"custom_prompt": prompt,
	}, 120*time.Second, RequestOptions{Cache: Bool(false), MaxRetries: Int(1)})
	if err != nil {
		return "", err
	}

	var resp struct {
		Description *string `json:"description"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Description == nil {
		return "", errors.NewEmptyResponseError("description")
	}
	return *resp.Description, nil
}

// FetchVideoData returns the raw metadata response for a video
func (c *VendorClient) FetchVideoData(ctx context.Context, videoID string) (json.RawMessage, error) {
	if !c.IsLicenseActive() {
		return nil, errors.NewLicenseInactiveError("youtube/video-data")
	}
	return c.Request(ctx, "youtube/video-data", http.MethodPost, map[string]interface{}{
		"video_id": videoID,
	}, 30*time.Second, RequestOptions{})
}

// HealthCheck reports whether the vendor answers with status "ok"
func (c *VendorClient) HealthCheck(ctx context.Context) (bool, error) {
	raw, err := c.Request(ctx, "health", http.MethodGet, nil, 10*time.Second,
		RequestOptions{Cache: Bool(true), CacheTTL: 60 * time.Second})
	if err != nil {
		return false, err
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, nil
	}
	return resp.Status == "ok", nil
}

// GetCredits returns the credits block of the account
func (c *VendorClient) GetCredits(ctx context.Context) (map[string]interface{}, error) {
	raw, err := c.Request(ctx, "credits", http.MethodGet, nil, 30*time.Second,
		RequestOptions{Cache: Bool(true), CacheTTL: 300 * time.Second})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Credits map[string]interface{} `json:"credits"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.NewAPIError(http.StatusOK, "invalid credits response")
	}
	if resp.Credits == nil {
		resp.Credits = map[string]interface{}{}
	}
	return resp.Credits, nil
}

// GetLicenseInfo fetches the license details and refreshes the local copy
func (c *VendorClient) GetLicenseInfo(ctx context.Context) (*LicenseInfo, error) {
	key := c.currentKey()
	if key == "" {
		return nil, errors.NewNoCredentialError("license/info")
	}

	endpoint := "license/info?license_key=" + url.QueryEscape(key)
	raw, err := c.Request(ctx, endpoint, http.MethodGet, nil, 30*time.Second, RequestOptions{Cache: Bool(false)})
	if err != nil {
		return nil, err
	}

	var resp struct {
		License *LicenseInfo `json:"license"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.License == nil {
		return nil, errors.NewEmptyResponseError("license")
	}

	c.mu.Lock()
	c.licenseInfo = resp.License
	c.mu.Unlock()

	info := *resp.License
	return &info, nil
}

// ActivateLicense installs a new key and activates it with the vendor. The
// previous key is restored when activation fails.
func (c *VendorClient) ActivateLicense(ctx context.Context, key, siteURL, siteName string) (*LicenseInfo, error) {
	if siteURL == "" {
		siteURL = c.cfg.SiteURL
	}
	if siteName == "" {
		siteName = c.cfg.SiteName
	}

	c.mu.Lock()
	previousKey := c.licenseKey
	c.licenseKey = key
	c.mu.Unlock()

	raw, err := c.request(ctx, key, "license/activate", http.MethodPost, map[string]interface{}{
		"license_key": key,
		"site_url":    siteURL,
		"site_name":   siteName,
	}, 30*time.Second, RequestOptions{Cache: Bool(false)})
	if err != nil {
		c.mu.Lock()
		c.licenseKey = previousKey
		c.mu.Unlock()
		return nil, err
	}

	var resp struct {
		License *LicenseInfo `json:"license"`
	}
	_ = json.Unmarshal(raw, &resp)
	if resp.License == nil {
		resp.License = &LicenseInfo{Status: "active"}
	}

	now := time.Now()
	c.mu.Lock()
	c.licenseInfo = resp.License
	c.activatedAt = &now
	c.mu.Unlock()

	prefix := key
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"license": prefix + "...",
		"site":    siteURL,
	}).Info("License activated")

	info := *resp.License
	return &info, nil
}

// DeactivateLicense clears the local license state and then tells the vendor.
// A vendor failure is logged only; the local state is gone either way.
func (c *VendorClient) DeactivateLicense(ctx context.Context) string {
	c.mu.Lock()
	key := c.licenseKey
	c.licenseKey = ""
	c.licenseInfo = nil
	c.activatedAt = nil
	c.mu.Unlock()

	if key == "" {
		return "license removed locally"
	}

	_, err := c.request(ctx, key, "license/deactivate", http.MethodPost, map[string]interface{}{
		"license_key": key,
		"site_url":    c.cfg.SiteURL,
	}, 30*time.Second, RequestOptions{Cache: Bool(false)})
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("License deactivation not confirmed by server")
	} else {
		logging.FromContext(ctx).Info("License deactivated")
	}
	return "license deactivated"
}

// TestConnection runs a health check and reports latency and breaker state
func (c *VendorClient) TestConnection(ctx context.Context) *ConnectionReport {
	start := time.Now()
	ok, err := c.HealthCheck(ctx)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Debug("Health check failed")
	}

	return &ConnectionReport{
		Success:        ok,
		Server:         c.cfg.ServerURL,
		ResponseTime:   fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		CircuitBreaker: c.breaker.GetStats(ctx),
	}
}
