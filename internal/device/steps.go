package device

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/provisiond/internal/credstore"
	"github.com/nerrad567/provisiond/internal/infrastructure/mqtt"
)

// heartbeatQoS is at-most-once; the next heartbeat supersedes a lost one.
const heartbeatQoS byte = 0

// provisioned reads the flag; read failures count as not provisioned.
func (o *Orchestrator) provisioned(ctx context.Context) bool {
	ok, err := o.store.IsProvisioned(ctx)
	if err != nil {
		o.logger.Warn("reading provisioned flag, treating as not provisioned", "error", err)
		return false
	}
	return ok
}

func (o *Orchestrator) stepCheckProvisioning(ctx context.Context) {
	if o.provisioned(ctx) {
		o.enter(StateWiFiConnecting)
		return
	}
	o.enter(StateAPMode)
}

// stepAPMode keeps the provisioning service up until a record arrives.
func (o *Orchestrator) stepAPMode(ctx context.Context) {
	if o.provisioned(ctx) {
		o.enter(StateWiFiConnecting)
		return
	}

	if !o.prov.IsActive() {
		if err := o.prov.Start(ctx); err != nil {
			attempt := o.retry(err)
			o.logger.Error("starting provisioning service", "attempt", attempt, "retry_in", o.cfg.APRetryDelay, "error", err)
			o.wait(o.cfg.APRetryDelay)
			return
		}
	}
	o.wait(o.cfg.APPollInterval)
}

// stepWiFiConnecting issues at most one station connect per attempt and
// leaves once the station has an address. A connect already in flight, such
// as the one a provision request hands over to, counts as the attempt; if
// that connect never starts, the orchestrator issues its own. Each attempt
// is bounded by WiFiConnectTimeout.
func (o *Orchestrator) stepWiFiConnecting(ctx context.Context) {
	link := o.radio.Link()
	handoff := o.prov.HandoffPending()
	if !handoff && (o.ip != "" || link.IP != "") {
		o.enter(StateWiFiConnected)
		return
	}

	if o.connectIssued {
		stalled := o.connectDeferred && !handoff && !link.Pending && !link.Connected
		if !stalled {
			if !o.now().Before(o.connectDeadline) {
				o.connectTimedOut(ctx)
			}
			return
		}
		o.logger.Warn("handed-over station connect did not start, connecting")
	}
	o.connectIssued = true
	o.connectDeferred = false
	o.connectDeadline = o.now().Add(o.cfg.WiFiConnectTimeout)

	if link.Pending || handoff {
		o.logger.Info("station connect already in flight")
		o.connectDeferred = true
		return
	}

	rec, err := o.store.LoadProvisioning(ctx)
	if err != nil {
		o.logger.Warn("provisioning record unavailable", "error", err)
		o.enter(StateAPMode)
		return
	}

	if o.prov.IsActive() {
		if err := o.prov.Stop(ctx); err != nil {
			o.logger.Warn("stopping provisioning service", "error", err)
		}
	}
	if o.radio.APActive() {
		if err := o.radio.StopAP(ctx); err != nil {
			o.logger.Warn("stopping access point", "error", err)
		}
	}

	if err := o.radio.Connect(ctx, rec.SSID, rec.Password); err != nil {
		attempt := o.retry(err)
		o.logger.Error("station connect failed", "ssid", rec.SSID, "attempt", attempt, "error", err)
		o.connectIssued = false
		o.wait(o.cfg.APRetryDelay)
		return
	}
	o.logger.Info("station connect issued", "ssid", rec.SSID)
}

// connectTimedOut drops the stalled link. The next Step reconnects until
// WiFiConnectRetries attempts have timed out; then the record is cleared so
// the device does not sit with its AP down.
func (o *Orchestrator) connectTimedOut(ctx context.Context) {
	attempt := o.retry(ErrWiFiConnectTimeout)
	if err := o.radio.Disconnect(ctx); err != nil {
		o.logger.Warn("disconnecting station", "error", err)
	}

	if attempt >= o.cfg.WiFiConnectRetries {
		o.logger.Error("station never got an address, clearing provisioning record",
			"attempts", attempt, "timeout", o.cfg.WiFiConnectTimeout)
		if err := o.store.ClearProvisioning(ctx); err != nil {
			o.logger.Error("clearing provisioning record", "error", err)
		}
		o.enter(StateAPMode)
		return
	}

	o.logger.Warn("station connect timed out, reconnecting", "attempt", attempt, "timeout", o.cfg.WiFiConnectTimeout)
	o.connectIssued = false
	o.connectDeferred = false
}

// stepWiFiConnected verifies internet access. Repeated failure is handled
// like bad credentials: the record is cleared and provisioning restarts.
func (o *Orchestrator) stepWiFiConnected(ctx context.Context) {
	if !o.provisioned(ctx) {
		o.logger.Info("provisioning record cleared while connected")
		o.enter(StateAPMode)
		return
	}

	if !o.settled {
		o.settled = true
		o.wait(o.cfg.WiFiSettleDelay)
		return
	}

	err := o.netcheck.Check(ctx)
	if err == nil {
		o.logger.Info("internet reachable", "ip", o.currentIP())
		o.enter(StateCheckCertificates)
		return
	}

	attempt := o.retry(err)
	if attempt >= o.cfg.InternetRetries {
		o.logger.Error("internet unreachable, clearing provisioning record", "attempts", attempt, "error", err)
		if err := o.store.ClearProvisioning(ctx); err != nil {
			o.logger.Error("clearing provisioning record", "error", err)
		}
		if err := o.radio.Disconnect(ctx); err != nil {
			o.logger.Warn("disconnecting station", "error", err)
		}
		o.enter(StateAPMode)
		return
	}

	o.logger.Warn("internet check failed", "attempt", attempt, "retry_in", o.cfg.InternetRetryBackoff, "error", err)
	o.wait(o.cfg.InternetRetryBackoff)
}

func (o *Orchestrator) stepCheckCertificates(ctx context.Context) {
	ok, err := o.store.HasCertificates(ctx)
	if err != nil {
		o.logger.Warn("reading certificates, treating as absent", "error", err)
	}
	if ok {
		o.enter(StateMQTTConnecting)
		return
	}
	o.enter(StateSubmitCSR)
}

// stepSubmitCSR retries without limit; by now the network is known good.
func (o *Orchestrator) stepSubmitCSR(ctx context.Context) {
	rec, err := o.store.LoadProvisioning(ctx)
	if errors.Is(err, credstore.ErrNotFound) {
		o.logger.Warn("provisioning record gone before certificate exchange")
		o.enter(StateAPMode)
		return
	}
	if err != nil {
		attempt := o.retry(err)
		o.logger.Warn("reading provisioning record", "attempt", attempt, "retry_in", o.cfg.CSRRetryDelay, "error", err)
		o.wait(o.cfg.CSRRetryDelay)
		return
	}

	if _, err := o.certs.SubmitCSR(ctx, rec.DeviceID, rec.ProvisioningToken); err != nil {
		attempt := o.retry(err)
		o.logger.Warn("certificate exchange failed", "attempt", attempt, "retry_in", o.cfg.CSRRetryDelay, "error", err)
		o.wait(o.cfg.CSRRetryDelay)
		return
	}

	o.logger.Info("device certificate obtained", "device_id", rec.DeviceID)
	o.enter(StateMQTTConnecting)
}

// stepMQTTConnecting starts the session and polls it until the connect wait
// runs out.
func (o *Orchestrator) stepMQTTConnecting(ctx context.Context) {
	if !o.mqttStarted {
		if err := o.mqtt.Start(ctx); err != nil {
			o.mqttFailed(err)
			return
		}
		o.mqttStarted = true
		o.mqttDeadline = o.now().Add(o.cfg.MQTTConnectWait)
	}

	if o.mqtt.IsConnected() {
		o.enter(StateMQTTConnected)
		return
	}

	if !o.now().Before(o.mqttDeadline) {
		o.mqtt.Stop()
		o.mqttStarted = false
		o.mqttFailed(ErrMQTTConnectTimeout)
	}
}

func (o *Orchestrator) mqttFailed(err error) {
	attempt := o.retry(err)
	if attempt >= o.cfg.MQTTRetries {
		o.logger.Error("mqtt connection failed, giving up", "attempts", attempt, "error", err)
		o.mqtt.Stop()
		o.enter(StateError)
		return
	}
	o.logger.Warn("mqtt connection failed", "attempt", attempt, "retry_in", o.cfg.MQTTRetryBackoff, "error", err)
	o.wait(o.cfg.MQTTRetryBackoff)
}

func (o *Orchestrator) stepMQTTConnected() {
	if !o.mqtt.IsConnected() {
		o.logger.Warn("broker connection lost")
		o.enter(StateMQTTConnecting)
		return
	}

	now := o.now()
	if now.Before(o.nextHeartbeat) {
		return
	}
	o.nextHeartbeat = now.Add(o.hbCfg.Interval)
	o.heartbeat()
}

// heartbeat logs and records a heartbeat and, when enabled, publishes it.
// A publish on a dropped session is logged only; the next Step notices the
// lost connection.
func (o *Orchestrator) heartbeat() {
	hb := o.beacon.Next(StateMQTTConnected.String(), o.currentIP())
	o.logger.Info("heartbeat", "seq", hb.Sequence, "uptime_s", hb.UptimeSec)
	o.recorder.RecordHeartbeat(hb.Sequence, time.Duration(hb.UptimeSec)*time.Second)

	if !o.hbCfg.Publish {
		return
	}

	payload, err := o.encoder.Encode(hb)
	if err != nil {
		o.logger.Error("encoding heartbeat", "error", err)
		return
	}
	if err := o.mqtt.Publish(o.hbTopic, payload, heartbeatQoS, false); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			o.logger.Debug("heartbeat not published, broker disconnected")
			return
		}
		o.logger.Warn("publishing heartbeat", "error", err)
	}
}

func (o *Orchestrator) currentIP() string {
	if o.ip != "" {
		return o.ip
	}
	return o.radio.Link().IP
}
