package radio

import (
	"crypto/pbkdf2"
	"crypto/sha1" //nolint:gosec // WPA2 PSK derivation is defined over HMAC-SHA1
	"encoding/hex"
	"fmt"
	"strings"
)

// renderHostapdConf returns a hostapd configuration for the AP interface.
// The SSID is written hex-encoded so any byte sequence is safe.
func renderHostapdConf(iface, ctrlDir string, cfg APConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", iface)
	b.WriteString("driver=nl80211\n")
	fmt.Fprintf(&b, "ctrl_interface=%s\n", ctrlDir)
	fmt.Fprintf(&b, "ssid2=%s\n", hex.EncodeToString([]byte(cfg.SSID)))
	b.WriteString("hw_mode=g\n")
	fmt.Fprintf(&b, "channel=%d\n", cfg.Channel)
	fmt.Fprintf(&b, "max_num_sta=%d\n", cfg.MaxConnections)
	b.WriteString("ignore_broadcast_ssid=0\n")
	if cfg.Password != "" {
		b.WriteString("wpa=2\n")
		b.WriteString("wpa_key_mgmt=WPA-PSK\n")
		b.WriteString("rsn_pairwise=CCMP\n")
		fmt.Fprintf(&b, "wpa_passphrase=%s\n", cfg.Password)
	}
	return b.String()
}

// renderSupplicantConf returns a wpa_supplicant configuration with a single
// network. The passphrase is pre-hashed into a PSK so no quoting of user
// input is needed.
func renderSupplicantConf(ctrlDir, ssid, password string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "ctrl_interface=DIR=%s\n", ctrlDir)
	b.WriteString("update_config=0\n")
	b.WriteString("network={\n")
	fmt.Fprintf(&b, "\tssid=%s\n", hex.EncodeToString([]byte(ssid)))
	b.WriteString("\tscan_ssid=1\n")
	if password == "" {
		b.WriteString("\tkey_mgmt=NONE\n")
	} else {
		psk, err := wpaPSK(ssid, password)
		if err != nil {
			return "", err
		}
		b.WriteString("\tkey_mgmt=WPA-PSK\n")
		fmt.Fprintf(&b, "\tpsk=%s\n", psk)
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// wpaPSK derives the 256-bit WPA2 pre-shared key as 64 hex characters.
func wpaPSK(ssid, passphrase string) (string, error) {
	if len(passphrase) < 8 || len(passphrase) > 63 {
		return "", fmt.Errorf("radio: passphrase must be 8-63 characters, got %d", len(passphrase))
	}
	key, err := pbkdf2.Key(sha1.New, passphrase, []byte(ssid), 4096, 32)
	if err != nil {
		return "", fmt.Errorf("radio: deriving psk: %w", err)
	}
	return hex.EncodeToString(key), nil
}
