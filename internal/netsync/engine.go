package netsync

import (
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mycyclingcity/tachod/internal/config"
	"github.com/mycyclingcity/tachod/internal/hw"
	"github.com/mycyclingcity/tachod/internal/version"
)

const (
	// connectTimeout bounds one association attempt.
	connectTimeout = 10 * time.Second
	// connectAttempts is the consecutive-failure cap; after it trips, no
	// further attempts are made until a success (or external intervention)
	// resets the counter.
	connectAttempts = 3
	// backoffWindow is the fixed hold-off after a transient server error
	// during which identity lookups are skipped rather than retried.
	backoffWindow = 60 * time.Second
)

// Engine owns the wireless association and every remote API exchange. All
// methods are called from the control loop; each blocks for at most its own
// timeout and returns a classified outcome instead of propagating errors.
type Engine struct {
	cfg    *config.Device
	store  *config.Store
	radio  hw.Radio
	client *client

	suffix string

	// ActiveTag supplies the rider tag attached to telemetry uploads.
	ActiveTag func() string
	// Activity signals network traffic on the LED.
	Activity func(on bool)
	// ApplyFirmware stages a downloaded image; Restart reboots into it.
	ApplyFirmware func(r io.Reader, size int64) error
	Restart       func()

	now func() time.Time

	connected     bool
	failCount     int
	lastErrorAt   time.Time
	authError     bool
	heartbeatDone bool
	lastFetchAt   time.Time
}

func NewEngine(cfg *config.Device, store *config.Store, radio hw.Radio, suffix string) *Engine {
	e := &Engine{
		cfg:       cfg,
		store:     store,
		radio:     radio,
		suffix:    suffix,
		ActiveTag: func() string { return cfg.DefaultTag },
		Activity:  func(bool) {},
		ApplyFirmware: func(io.Reader, int64) error {
			return fmt.Errorf("no firmware apply hook configured")
		},
		Restart: func() {},
		now:     time.Now,
	}
	e.client = newClient(
		func() string { return cfg.ServerURL },
		func() string { return cfg.APIKey },
	)
	return e
}

func (e *Engine) deviceID() string { return e.cfg.DeviceID(e.suffix) }

// Connected reports whether the engine believes it has an association.
func (e *Engine) Connected() bool { return e.connected && e.radio.Connected() }

// AuthError reports the sticky authentication-failure flag.
func (e *Engine) AuthError() bool { return e.authError }

// FailedPermanently reports that the connection-failure cap has tripped.
func (e *Engine) FailedPermanently() bool { return e.failCount >= connectAttempts }

// inBackoff reports whether the transient-error hold-off is active.
func (e *Engine) inBackoff() bool {
	return !e.lastErrorAt.IsZero() && e.now().Sub(e.lastErrorAt) < backoffWindow
}

// markSuccess clears the sticky auth flag: any completed 2xx request proves
// the credentials work again.
func (e *Engine) markSuccess() {
	if e.authError {
		log.Info().Msg("authentication recovered")
	}
	e.authError = false
}

func (e *Engine) markError(class Class) {
	e.lastErrorAt = e.now()
	if class == ClassAuthentication {
		e.authError = true
	}
}

// classify maps a completed exchange to an outcome and updates the engine's
// error state.
func (e *Engine) classify(op string, status int, err error) Outcome {
	if err != nil {
		if status == 0 {
			// transport failure: the association is suspect
			e.connected = false
			log.Warn().Err(err).Str("op", op).Msg("transport failure")
			return failure(ClassConnectivity, 0, err)
		}
		// malformed body on an otherwise delivered response
		e.markError(ClassServer)
		log.Warn().Err(err).Str("op", op).Int("status", status).Msg("bad response body")
		return failure(ClassServer, status, err)
	}
	class := classifyStatus(status)
	if class == ClassSuccess {
		e.markSuccess()
		return success(status)
	}
	e.markError(class)
	log.Warn().Str("op", op).Int("status", status).Str("class", class.String()).Msg("request rejected")
	return failure(class, status, nil)
}

// Connect attempts a network association, bounded to connectTimeout, and on
// success runs the post-connect exchange sequence: config report, config
// fetch (only if the report succeeded), firmware check, and the heartbeat.
// The heartbeat latch makes it once per process lifetime, which is once per
// cold boot and once per sleep-wake resume since either restarts the
// process. The consecutive-failure count persists across calls.
func (e *Engine) Connect() Outcome {
	if e.cfg.WifiSSID == "" {
		return failure(ClassConfiguration, 0, fmt.Errorf("wifi ssid not configured"))
	}
	if e.Connected() {
		return success(0)
	}
	if e.FailedPermanently() {
		return failure(ClassConnectivity, 0, fmt.Errorf("connection attempts exhausted"))
	}

	log.Info().Str("ssid", e.cfg.WifiSSID).Int("attempt", e.failCount+1).Msg("connecting")
	if err := e.radio.Connect(e.cfg.WifiSSID, e.cfg.WifiPassword, connectTimeout); err != nil {
		e.failCount++
		e.connected = false
		if e.FailedPermanently() {
			log.Error().Err(err).Msg("connection failed; giving up until reset")
		} else {
			log.Warn().Err(err).Int("failures", e.failCount).Msg("connection failed")
		}
		return failure(ClassConnectivity, 0, err)
	}
	e.failCount = 0
	e.connected = true
	log.Info().Str("ssid", e.cfg.WifiSSID).Msg("connected")

	if rep := e.ReportConfig(); rep.OK() {
		e.FetchConfig()
	}
	e.CheckFirmwareUpdate()
	if !e.heartbeatDone {
		e.SendHeartbeat()
	}
	return success(0)
}

// SendTelemetry uploads the distance covered since the last successful
// upload. In test mode the simulated distance and test tag are substituted.
// Speed and pulse delta are carried for logging; the wire body is fixed as
// {device_id, id_tag, distance} with distance in kilometres.
func (e *Engine) SendTelemetry(speedKmh, distanceMM float64, pulseDelta int, isTest bool) Outcome {
	if e.cfg.ServerURL == "" || e.cfg.WifiSSID == "" {
		return failure(ClassConfiguration, 0, fmt.Errorf("server url or wifi not configured"))
	}
	if !e.Connected() {
		return failure(ClassConnectivity, 0, fmt.Errorf("not connected"))
	}
	if e.authError {
		return failure(ClassAuthentication, 0, fmt.Errorf("authentication error pending"))
	}

	tag := e.ActiveTag()
	distanceKM := distanceMM / 1e6
	if isTest {
		tag = "MCC-Testuser_" + e.suffix
		distanceKM = e.cfg.TestDistanceKM
	}

	body := map[string]any{
		"device_id": e.deviceID(),
		"id_tag":    tag,
		"distance":  distanceKM,
	}

	log.Debug().
		Float64("speed_kmh", speedKmh).
		Float64("distance_km", distanceKM).
		Int("pulses", pulseDelta).
		Bool("test", isTest).
		Msg("sending telemetry")

	e.Activity(true)
	status, err := e.client.postJSON(pathUpdateData, body, nil, "")
	e.Activity(false)
	return e.classify("update-data", status, err)
}

// ResolveUsername looks up the display identity for a tag. Inside the
// back-off window the query is skipped, not retried. A 404 is the expected
// "tag has no assigned identity" answer; it throttles repeat lookups via the
// last-error timestamp but is not a fault.
func (e *Engine) ResolveUsername(tag string) Resolution {
	if e.inBackoff() {
		log.Debug().Str("tag", tag).Msg("identity lookup skipped during back-off")
		return notAttempted(failure(ClassServer, 0, fmt.Errorf("in back-off window")))
	}
	if e.cfg.ServerURL == "" || !e.Connected() {
		return notAttempted(failure(ClassConnectivity, 0, fmt.Errorf("not connected")))
	}

	var out struct {
		UserID string `json:"user_id"`
	}
	e.Activity(true)
	status, err := e.client.postJSON(pathGetUserID, map[string]any{"id_tag": tag}, &out, "")
	e.Activity(false)

	if status == 404 && err == nil {
		e.lastErrorAt = e.now()
		log.Info().Str("tag", tag).Msg("tag has no assigned identity")
		return Resolution{Attempted: true, Found: false, Outcome: failure(ClassNotFound, status, nil)}
	}

	o := e.classify("get-user-id", status, err)
	if !o.OK() {
		return notAttempted(o)
	}
	// The backend answers "NULL" for a known tag with no assignment.
	if out.UserID == "" || out.UserID == "NULL" {
		return Resolution{Attempted: true, Found: false, Outcome: o}
	}
	log.Info().Str("tag", tag).Str("user", out.UserID).Msg("identity resolved")
	return Resolution{Attempted: true, Found: true, Name: out.UserID, Outcome: o}
}

// SendHeartbeat posts the liveness signal. It is sent once per cold boot and
// once per sleep-wake, never repeated mid-session.
func (e *Engine) SendHeartbeat() Outcome {
	if !e.Connected() {
		return failure(ClassConnectivity, 0, fmt.Errorf("not connected"))
	}
	e.Activity(true)
	status, err := e.client.postJSON(pathHeartbeat, map[string]any{"device_id": e.deviceID()}, nil, "")
	e.Activity(false)
	o := e.classify("heartbeat", status, err)
	if o.OK() {
		e.heartbeatDone = true
	}
	return o
}

// CheckFirmwareUpdate asks the server whether a newer image exists and, when
// one does, downloads and applies it. A successful apply restarts the device;
// execution does not continue past that point.
func (e *Engine) CheckFirmwareUpdate() Outcome {
	if !e.Connected() {
		return failure(ClassConnectivity, 0, fmt.Errorf("not connected"))
	}

	query := url.Values{}
	query.Set("device_id", e.deviceID())
	query.Set("current_version", version.Current(e.store))

	var out struct {
		UpdateAvailable bool   `json:"update_available"`
		LatestVersion   string `json:"latest_version"`
		DownloadURL     string `json:"download_url"`
	}
	e.Activity(true)
	status, err := e.client.getJSON(pathFirmwareInfo, query, &out)
	e.Activity(false)
	o := e.classify("firmware-info", status, err)
	if !o.OK() {
		return o
	}
	if !out.UpdateAvailable {
		log.Debug().Msg("firmware up to date")
		return o
	}
	log.Info().Str("version", out.LatestVersion).Msg("firmware update available")
	return e.DownloadAndApplyFirmware(out.LatestVersion)
}

// DownloadAndApplyFirmware streams the image, hands it to the apply hook, and
// on success records the new version and restarts.
func (e *Engine) DownloadAndApplyFirmware(newVersion string) Outcome {
	query := url.Values{}
	query.Set("device_id", e.deviceID())

	e.Activity(true)
	defer e.Activity(false)

	resp, err := e.client.getStream(pathFirmwareDownload, query)
	if err != nil {
		e.connected = false
		return failure(ClassConnectivity, 0, err)
	}
	defer resp.Body.Close()

	if class := classifyStatus(resp.StatusCode); class != ClassSuccess {
		e.markError(class)
		return failure(class, resp.StatusCode, nil)
	}
	if resp.ContentLength <= 0 {
		e.markError(ClassServer)
		return failure(ClassServer, resp.StatusCode, fmt.Errorf("missing firmware length"))
	}

	if err := e.ApplyFirmware(resp.Body, resp.ContentLength); err != nil {
		log.Error().Err(err).Msg("firmware apply failed")
		return failure(ClassServer, resp.StatusCode, err)
	}

	if newVersion != "" {
		if err := version.Record(e.store, newVersion); err != nil {
			log.Error().Err(err).Msg("persist firmware version")
		}
	}
	log.Info().Str("version", newVersion).Msg("firmware updated, restarting")
	e.Restart()
	return success(resp.StatusCode)
}

// TickMaintenance re-syncs configuration on the configured interval.
func (e *Engine) TickMaintenance() {
	if e.cfg.FetchSec <= 0 || !e.Connected() {
		return
	}
	if !e.lastFetchAt.IsZero() && e.now().Sub(e.lastFetchAt) < time.Duration(e.cfg.FetchSec)*time.Second {
		return
	}
	if rep := e.ReportConfig(); rep.OK() {
		e.FetchConfig()
	}
}
