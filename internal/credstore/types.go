package credstore

// Keys of the durable namespace.
const (
	KeyWiFiSSID    = "wifi_ssid"
	KeyWiFiPass    = "wifi_pass"
	KeyDeviceID    = "device_id"
	KeyProvToken   = "prov_token"
	KeyBearerToken = "bearer_token"
	KeyProvisioned = "provisioned"
	KeyDeviceCert  = "device_cert"
	KeyCACert      = "ca_cert"
)

// provisionedTrue is the stored value of KeyProvisioned.
const provisionedTrue = "true"

// provisioningKeys are erased together when the record is cleared.
var provisioningKeys = []string{
	KeyWiFiSSID,
	KeyWiFiPass,
	KeyDeviceID,
	KeyProvToken,
	KeyBearerToken,
	KeyProvisioned,
}

// certificateKeys are written and erased together.
var certificateKeys = []string{KeyDeviceCert, KeyCACert}

// ProvisioningRecord is what the provisioning service receives from the
// companion app. BearerToken is optional.
type ProvisioningRecord struct {
	SSID              string
	Password          string
	DeviceID          string
	ProvisioningToken string
	BearerToken       string
}

// Complete reports whether every required field is non-empty.
func (r ProvisioningRecord) Complete() bool {
	return r.SSID != "" && r.Password != "" && r.DeviceID != "" && r.ProvisioningToken != ""
}

// CertificatePair is the backend-issued device certificate and the CA that
// signed the broker certificate, both PEM.
type CertificatePair struct {
	DeviceCert string
	CACert     string
}

// Complete reports whether both halves are present.
func (p CertificatePair) Complete() bool {
	return p.DeviceCert != "" && p.CACert != ""
}
