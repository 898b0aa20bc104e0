package provisioning

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/provisiond/internal/credstore"
	"github.com/nerrad567/provisiond/internal/scancache"
)

// Status values reported by GET /status.
const (
	StatusConnected    = "connected"
	StatusProvisioning = "provisioning"
	StatusDisconnected = "disconnected"
)

// requiredFields are checked in this order and reported in this order.
var requiredFields = []string{"ssid", "password", "device_id", "provisioning_token"}

// ScanResponse is the body of GET /local-wifi.
type ScanResponse struct {
	Networks []scancache.Network `json:"networks"`
	Count    int                 `json:"count"`
	Cached   bool                `json:"cached"`
}

// ProvisionResponse is the body of a successful POST /provision.
type ProvisionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status string `json:"status"`
	IP     string `json:"ip,omitempty"`
}

// handleLocalWiFi serves the scan cache. A synchronous scan runs first when
// the cache is empty or refresh=true; if that scan fails a previously
// populated cache is still served.
func (s *Service) handleLocalWiFi(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	refresh := r.URL.Query().Get("refresh") == "true"

	populated, err := s.cache.Populated(ctx)
	if err != nil {
		s.writeCacheError(w, err)
		return
	}

	scanned := false
	if refresh || !populated {
		scanned = s.refreshCache(ctx)
	}

	nets, ok, err := s.cache.Snapshot(ctx)
	if err != nil {
		s.writeCacheError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusInternalServerError, ErrCodeScanFailed, "No cached data available")
		return
	}

	if nets == nil {
		nets = []scancache.Network{}
	}
	writeJSON(w, http.StatusOK, ScanResponse{
		Networks: nets,
		Count:    len(nets),
		Cached:   !scanned,
	})
}

func (s *Service) writeCacheError(w http.ResponseWriter, err error) {
	if errors.Is(err, scancache.ErrCacheBusy) {
		writeError(w, http.StatusInternalServerError, ErrCodeCacheBusy, "scan cache busy, retry")
		return
	}
	s.logger.Error("scan cache error", "error", err)
	writeInternalError(w, "scan cache error")
}

// handleProvision validates and stores the credentials, acknowledges, then
// hands over to the station.
func (s *Service) handleProvision(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidJSON, "request body must be a JSON object")
		return
	}

	values := make(map[string]string, len(requiredFields))
	var missing []string
	for _, field := range requiredFields {
		v, ok := body[field].(string)
		if !ok || v == "" {
			missing = append(missing, field)
			continue
		}
		values[field] = v
	}
	if len(missing) > 0 {
		writeMissingFields(w, missing)
		return
	}

	bearer := bearerToken(r.Header.Get("Authorization"))
	if bearer != "" {
		s.logBearer(bearer)
	}

	rec := credstore.ProvisioningRecord{
		SSID:              values["ssid"],
		Password:          values["password"],
		DeviceID:          values["device_id"],
		ProvisioningToken: values["provisioning_token"],
		BearerToken:       bearer,
	}
	if err := s.store.SaveProvisioning(r.Context(), rec); err != nil {
		s.logger.Error("saving provisioning record", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeSaveFailed, "could not save credentials")
		return
	}

	s.logger.Info("credentials received",
		"ssid", rec.SSID,
		"device_id", rec.DeviceID,
		"bearer", bearer != "",
	)
	s.hub.Broadcast(EventCredentialsSaved, map[string]any{"ssid": rec.SSID})

	writeJSON(w, http.StatusOK, ProvisionResponse{Status: "ok", Message: "Credentials saved"})
	s.handoff(rec.SSID, rec.Password)
}

// handleStatus reports the current connection phase.
func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	link := s.radio.Link()
	switch {
	case link.Connected:
		writeJSON(w, http.StatusOK, StatusResponse{Status: StatusConnected, IP: link.IP})
	case s.IsActive():
		writeJSON(w, http.StatusOK, StatusResponse{Status: StatusProvisioning})
	default:
		writeJSON(w, http.StatusOK, StatusResponse{Status: StatusDisconnected})
	}
}
