package radio

import (
	"strconv"
	"strings"

	"github.com/nerrad567/provisiond/internal/scancache"
)

// parseScan parses `iw dev <if> scan` output. Duplicate SSIDs keep the
// strongest BSS.
func parseScan(out string) []scancache.Network {
	var (
		nets    []scancache.Network
		cur     *scancache.Network
		freqCh  int
		byIndex = map[string]int{}
	)

	flush := func() {
		if cur == nil {
			return
		}
		if cur.Channel == 0 {
			cur.Channel = freqCh
		}
		if cur.SSID != "" {
			if i, ok := byIndex[cur.SSID]; ok {
				if cur.RSSI > nets[i].RSSI {
					nets[i] = *cur
				}
			} else {
				byIndex[cur.SSID] = len(nets)
				nets = append(nets, *cur)
			}
		}
		cur = nil
		freqCh = 0
	}

	for _, raw := range strings.Split(out, "\n") {
		if strings.HasPrefix(raw, "BSS ") {
			flush()
			cur = &scancache.Network{}
			continue
		}
		if cur == nil {
			continue
		}

		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "SSID:"):
			cur.SSID = strings.TrimSpace(strings.TrimPrefix(line, "SSID:"))
		case strings.HasPrefix(line, "signal:"):
			fields := strings.Fields(strings.TrimPrefix(line, "signal:"))
			if len(fields) > 0 {
				if f, err := strconv.ParseFloat(fields[0], 64); err == nil {
					cur.RSSI = int(f)
				}
			}
		case strings.HasPrefix(line, "freq:"):
			if f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "freq:")), 64); err == nil {
				freqCh = channelFromFreq(int(f))
			}
		case strings.HasPrefix(line, "DS Parameter set: channel"):
			if ch, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "DS Parameter set: channel"))); err == nil {
				cur.Channel = ch
			}
		case strings.HasPrefix(line, "* primary channel:"):
			if ch, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "* primary channel:"))); err == nil {
				cur.Channel = ch
			}
		case strings.HasPrefix(line, "capability:") && strings.Contains(line, "Privacy"),
			strings.HasPrefix(line, "RSN:"),
			strings.HasPrefix(line, "WPA:"):
			cur.Secure = true
		}
	}
	flush()
	return nets
}

func channelFromFreq(mhz int) int {
	switch {
	case mhz == 2484:
		return 14
	case mhz >= 2412 && mhz <= 2472:
		return (mhz - 2407) / 5
	case mhz >= 5000 && mhz <= 5900:
		return (mhz - 5000) / 5
	default:
		return 0
	}
}

// parseSupplicantLine maps a wpa_supplicant output line to a link event. A
// network that cannot be found or joined reports ReasonNoAPFound.
func parseSupplicantLine(line string) (Event, bool) {
	switch {
	case strings.Contains(line, "CTRL-EVENT-CONNECTED"):
		return Event{Kind: EventConnected}, true
	case strings.Contains(line, "CTRL-EVENT-DISCONNECTED"):
		reason := ReasonUnspecified
		if v, ok := fieldValue(line, "reason="); ok {
			if n, err := strconv.Atoi(v); err == nil {
				reason = n
			}
		}
		return Event{Kind: EventDisconnected, Reason: reason}, true
	case strings.Contains(line, "CTRL-EVENT-NETWORK-NOT-FOUND"):
		return Event{Kind: EventDisconnected, Reason: ReasonNoAPFound}, true
	case strings.Contains(line, "CTRL-EVENT-SSID-TEMP-DISABLED"):
		v, _ := fieldValue(line, "reason=")
		switch v {
		case "WRONG_KEY", "AUTH_FAILED":
			return Event{Kind: EventDisconnected, Reason: ReasonAuthFail}, true
		case "CONN_FAILED":
			return Event{Kind: EventDisconnected, Reason: ReasonNoAPFound}, true
		}
	}
	return Event{}, false
}

// fieldValue returns the value of a space-separated key=value token.
func fieldValue(line, key string) (string, bool) {
	for _, tok := range strings.Fields(line) {
		if v, ok := strings.CutPrefix(tok, key); ok {
			return v, true
		}
	}
	return "", false
}
