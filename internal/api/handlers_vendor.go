package api

import (
	"net/http"
)

type activateLicenseRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,min=8"`
	SiteURL    string `json:"siteUrl" validate:"omitempty,url"`
	SiteName   string `json:"siteName,omitempty"`
}

// handleVendorHealth handles GET /api/v1/vendor/health
func (s *Server) handleVendorHealth(w http.ResponseWriter, r *http.Request) {
	healthy, err := s.deps.Vendor.HealthCheck(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]bool{"healthy": healthy})
}

// handleVendorCredits handles GET /api/v1/vendor/credits
func (s *Server) handleVendorCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := s.deps.Vendor.GetCredits(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, credits)
}

// handleLicense handles GET /api/v1/vendor/license. ?refresh=true asks the
// vendor; otherwise the local state is returned.
func (s *Server) handleLicense(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if _, err := s.deps.Vendor.GetLicenseInfo(r.Context()); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, s.deps.Vendor.LicenseState())
}

// handleActivateLicense handles POST /api/v1/vendor/license/activate
func (s *Server) handleActivateLicense(w http.ResponseWriter, r *http.Request) {
	var req activateLicenseRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if req.SiteURL == "" {
		req.SiteURL = s.config.SiteURL
	}
	if req.SiteName == "" {
		req.SiteName = s.config.SiteName
	}

	info, err := s.deps.Vendor.ActivateLicense(r.Context(), req.LicenseKey, req.SiteURL, req.SiteName)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"license": info,
		"state":   s.deps.Vendor.LicenseState(),
	})
}

// handleDeactivateLicense handles POST /api/v1/vendor/license/deactivate
func (s *Server) handleDeactivateLicense(w http.ResponseWriter, r *http.Request) {
	message := s.deps.Vendor.DeactivateLicense(r.Context())
	respondJSON(w, http.StatusOK, map[string]string{"message": message})
}

// handleTestConnection handles GET /api/v1/vendor/connection
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Vendor.TestConnection(r.Context())
	status := http.StatusOK
	if !report.Success {
		status = http.StatusBadGateway
	}
	respondJSON(w, status, report)
}

// handleVendorMetrics handles GET /api/v1/vendor/metrics
func (s *Server) handleVendorMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"endpoints": s.deps.Vendor.Metrics().Snapshot(),
	})
}

// handleYouTubeQuota handles GET /api/v1/youtube/quota
func (s *Server) handleYouTubeQuota(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quota == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "quota tracking is not enabled", nil)
		return
	}
	usage, err := s.deps.Quota.Usage(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, usage)
}
