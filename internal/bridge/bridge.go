package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/wms-bridge/internal/device"
	"github.com/nerrad567/wms-bridge/internal/wms"
)

const (
	// commandTimeout bounds a single command emission to the stick.
	commandTimeout = 5 * time.Second

	// snapshotSaveTimeout bounds the debounced snapshot write.
	snapshotSaveTimeout = 5 * time.Second

	// housekeepingInterval drives the periodic dedup sweep.
	housekeepingInterval = 5 * time.Second
)

// Availability payloads.
const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// MQTTClient is the control-plane surface the bridge needs.
// Satisfied by *mqtt.Client; narrowed for mocking in tests.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishString(topic string, payload string, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Transceiver is the command surface of the WMS stick.
// Satisfied by *wms.Stick; narrowed for mocking in tests.
type Transceiver interface {
	SetPosition(ctx context.Context, snr string, position int, tilt *int) error
	Stop(ctx context.Context, snr string) error
	AddDevice(ctx context.Context, snr string, label string) error
	QueryPosition(ctx context.Context, snr string) error
	IsConnected() bool
}

// SnapshotStore persists device snapshots. Optional.
type SnapshotStore interface {
	Save(ctx context.Context, snapshots []device.Snapshot) error
}

// WeatherSink receives committed weather telemetry for long-term
// history. Writes are fire-and-forget; the sink reports failures
// through its own error callback. Optional.
type WeatherSink interface {
	WriteWeather(snr string, wind, temperature float64, illuminance int)
	WriteRain(snr string, raining bool)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds the engine tunables.
type Config struct {
	// BridgeName appears in discovery advertisements.
	BridgeName string

	// RootTopic is the device topic namespace (default "warema").
	RootTopic string

	// DiscoveryPrefix is the consumer's discovery namespace.
	DiscoveryPrefix string

	// QoS for every publish and subscription.
	QoS byte

	// MinRawSpacing is the dedup window for repeated radio frames.
	MinRawSpacing time.Duration

	// EMAAlpha is the weather smoothing coefficient in (0,1].
	EMAAlpha float64

	// WeatherPublishInterval gates smoothed telemetry output.
	WeatherPublishInterval time.Duration

	// RainOnDelay and RainOffDelay are the hysteresis delays.
	RainOnDelay  time.Duration
	RainOffDelay time.Duration

	// CommandTimeout releases a wedged light command window.
	CommandTimeout time.Duration

	// BrightnessSteps is the motor's discrete level set, ascending.
	BrightnessSteps []int

	// Quantization selects the step mapping mode.
	Quantization QuantizeMode

	// PublishMidFlight reflects intermediate feedback during a
	// commanded light move.
	PublishMidFlight bool

	// SnapshotDebounce delays persistence after a mutation so bursts
	// collapse into one write.
	SnapshotDebounce time.Duration
}

// Defaults applied by New for zero-value Config fields.
const (
	defaultMinRawSpacing          = time.Second
	defaultEMAAlpha               = 0.2
	defaultWeatherPublishInterval = time.Minute
	defaultRainOnDelay            = 10 * time.Second
	defaultRainOffDelay           = 30 * time.Second
	defaultCommandTimeout         = 10 * time.Second
	defaultSnapshotDebounce       = 2 * time.Second
)

// defaultBrightnessSteps is the level set WMS dimmer motors step
// through.
var defaultBrightnessSteps = []int{0, 25, 50, 75, 100}

// withDefaults fills zero-value tunables. An empty step set would
// degrade quantization to identity, so it defaults like the rest.
func (c Config) withDefaults() Config {
	if c.MinRawSpacing <= 0 {
		c.MinRawSpacing = defaultMinRawSpacing
	}
	if c.EMAAlpha <= 0 {
		c.EMAAlpha = defaultEMAAlpha
	}
	if c.WeatherPublishInterval <= 0 {
		c.WeatherPublishInterval = defaultWeatherPublishInterval
	}
	if c.RainOnDelay <= 0 {
		c.RainOnDelay = defaultRainOnDelay
	}
	if c.RainOffDelay <= 0 {
		c.RainOffDelay = defaultRainOffDelay
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCommandTimeout
	}
	if len(c.BrightnessSteps) == 0 {
		c.BrightnessSteps = defaultBrightnessSteps
	}
	if c.Quantization == "" {
		c.Quantization = QuantizeNearest
	}
	if c.SnapshotDebounce <= 0 {
		c.SnapshotDebounce = defaultSnapshotDebounce
	}
	return c
}

// Options holds the collaborators for creating a bridge.
type Options struct {
	Config   Config
	MQTT     MQTTClient
	Stick    Transceiver
	Registry *device.Registry

	// Store is optional snapshot persistence.
	Store SnapshotStore

	// Weather is an optional telemetry history sink.
	Weather WeatherSink

	// Logger is optional structured logging.
	Logger Logger
}

// Bridge reconciles WMS hardware state with the MQTT control plane.
// Radio events flow in through HandleStickEvent, commands through the
// subscribed topic handlers; one mutex serializes the whole event path
// so the registry and the per-device state machines never race.
type Bridge struct {
	cfg      Config
	mqtt     MQTTClient
	stick    Transceiver
	registry *device.Registry
	store    SnapshotStore
	weather  WeatherSink

	topics    Topics
	discovery *Discovery
	dedup     *Deduplicator
	smoother  *WeatherSmoother
	rain      *RainEngine
	lights    *LightGuard
	latch     rebindLatch

	// mu serializes the event-processing path.
	mu sync.Mutex

	// Snapshot debounce
	snapshotMu    sync.Mutex
	snapshotTimer *time.Timer

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Start to subscribe and begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Stick == nil {
		return nil, fmt.Errorf("stick client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	cfg := opts.Config.withDefaults()
	topics := NewTopics(cfg.RootTopic, cfg.DiscoveryPrefix)
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:      cfg,
		mqtt:     opts.MQTT,
		stick:    opts.Stick,
		registry: opts.Registry,
		store:    opts.Store,
		weather:  opts.Weather,

		topics:    topics,
		discovery: NewDiscovery(topics, cfg.BridgeName),
		dedup:     NewDeduplicator(cfg.MinRawSpacing),
		smoother:  NewWeatherSmoother(cfg.EMAAlpha, cfg.WeatherPublishInterval),
		rain:      NewRainEngine(cfg.RainOnDelay, cfg.RainOffDelay),
		lights: NewLightGuard(
			cfg.BrightnessSteps,
			cfg.Quantization,
			cfg.CommandTimeout,
			cfg.PublishMidFlight,
		),

		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    opts.Logger,
	}
	return b, nil
}

// Start subscribes to the command topics and launches housekeeping.
// The caller wires stick events with stick.SetOnEvent(b.HandleStickEvent)
// and transport signals with mqtt.SetOnConnect(b.OnMQTTConnect).
func (b *Bridge) Start() error {
	for _, filter := range b.topics.CommandFilters() {
		if err := b.mqtt.Subscribe(filter, b.cfg.QoS, b.HandleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", filter, err)
		}
	}
	b.logInfo("subscribed to command topics", "root", b.cfg.RootTopic)

	b.wg.Add(1)
	go b.housekeeping()

	return nil
}

// Stop publishes offline availability for the bridge and every device,
// flushes a final snapshot and halts background work.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		for _, dev := range b.registry.All() {
			b.publishString(b.topics.Availability(dev.SNR), payloadOffline, true)
		}
		b.publishString(b.topics.BridgeState(), payloadOffline, true)

		b.snapshotMu.Lock()
		if b.snapshotTimer != nil {
			b.snapshotTimer.Stop()
		}
		b.snapshotMu.Unlock()
		b.saveSnapshot()

		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// housekeeping sweeps the dedup cache on a fixed interval.
func (b *Bridge) housekeeping() {
	defer b.wg.Done()

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.mu.Lock()
			b.dedup.GC()
			b.mu.Unlock()
		}
	}
}

// HandleStickEvent is the entry point for all hardware events.
func (b *Bridge) HandleStickEvent(event wms.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch e := event.(type) {
	case wms.ReadyEvent:
		b.handleReady()
	case wms.ScanEvent:
		b.handleScan(e)
	case wms.WeatherEvent:
		b.handleWeather(e)
	case wms.PositionEvent:
		b.handlePosition(e)
	default:
		b.logDebug("ignoring unknown stick event", "type", fmt.Sprintf("%T", event))
	}
}

// OnMQTTConnect is wired into the MQTT client's connect callback.
// Covers the first connection and every reconnect.
func (b *Bridge) OnMQTTConnect() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latch.mqttConnected() {
		b.rebind()
	}
}

// OnMQTTConnectionLost re-arms the rebind latch.
func (b *Bridge) OnMQTTConnectionLost(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logWarn("control plane connection lost", "error", err)
	b.latch.mqttLost()
}

// OnStickConnectionLost re-arms the rebind latch so the ready signal
// of the stick's own reconnect triggers a full rebind, refreshing any
// state that went stale during the outage.
func (b *Bridge) OnStickConnectionLost(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logWarn("stick connection lost", "error", err)
	b.latch.stickLost()
}

// handleReady processes a stick ready signal.
func (b *Bridge) handleReady() {
	b.logInfo("stick ready")
	if b.latch.stickUp() {
		b.rebind()
	}
}

// rebind reconciles the control plane after a transport gap: replay
// cached discovery, mark everything online, then refresh actuator
// state from the hardware so stale registry values are corrected
// rather than republished.
func (b *Bridge) rebind() {
	b.logInfo("system ready, rebinding", "devices", b.registry.Count())

	for _, pub := range b.discovery.Cached() {
		b.publish(pub.Topic, pub.Payload, true)
	}

	b.publishString(b.topics.BridgeState(), payloadOnline, true)

	for _, dev := range b.registry.All() {
		b.publishString(b.topics.Availability(dev.SNR), payloadOnline, true)
	}

	for _, dev := range b.registry.All() {
		if !dev.Kind.Queryable() {
			continue
		}
		if err := b.queryPosition(dev.SNR); err != nil {
			b.logWarn("rebind position query failed", "snr", dev.SNR, "error", err)
		}
	}
}

// handleScan registers every device found by a network scan.
func (b *Bridge) handleScan(e wms.ScanEvent) {
	for _, sd := range e.Devices {
		dev, created, err := b.registry.Upsert(sd.SNR, sd.Kind)
		if err != nil {
			b.logWarn("scan device rejected", "snr", sd.SNR, "kind", sd.Kind, "error", err)
			continue
		}
		if !created {
			continue
		}

		b.logInfo("device registered", "snr", sd.SNR, "kind", sd.Kind)

		ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
		if err := b.stick.AddDevice(ctx, sd.SNR, "WMS "+sd.SNR); err != nil {
			b.logWarn("stick device registration failed", "snr", sd.SNR, "error", err)
		}
		cancel()

		b.announce(*dev)

		if dev.Kind.Queryable() {
			if err := b.queryPosition(sd.SNR); err != nil {
				b.logWarn("initial position query failed", "snr", sd.SNR, "error", err)
			}
		}
	}
}

// announce publishes a device's discovery payloads and availability.
func (b *Bridge) announce(dev device.Device) {
	pubs, err := b.discovery.Register(dev)
	if err != nil {
		b.logError("build discovery payloads", err)
		return
	}
	for _, pub := range pubs {
		b.publish(pub.Topic, pub.Payload, true)
	}
	b.publishString(b.topics.Availability(dev.SNR), payloadOnline, true)
}

// handleWeather processes one weather broadcast.
func (b *Bridge) handleWeather(e wms.WeatherEvent) {
	if b.dedup.IsDuplicate(e.SNR, e.Tag) {
		return
	}

	b.ensureDevice(e.SNR, device.KindWeatherStation)

	b.smoother.Observe(e.SNR, MetricWind, e.Wind)
	b.smoother.Observe(e.SNR, MetricTemperature, e.Temperature)
	b.smoother.Observe(e.SNR, MetricIlluminance, e.Illuminance)

	if committed, changed := b.rain.Observe(e.SNR, e.Rain); changed {
		b.publishString(b.topics.Rain(e.SNR), onOff(committed), true)
		if b.weather != nil {
			b.weather.WriteRain(e.SNR, committed)
		}
	}

	if b.smoother.ShouldPublish(e.SNR) {
		b.publishWeather(e.SNR)
	}
}

// publishWeather emits the current smoothed values for every metric
// that has at least one sample, then resets the publish gate.
func (b *Bridge) publishWeather(snr string) {
	wind, hasWind := b.smoother.Value(snr, MetricWind)
	temp, hasTemp := b.smoother.Value(snr, MetricTemperature)
	lux, hasLux := b.smoother.Value(snr, MetricIlluminance)

	if hasWind {
		b.publishString(b.topics.Wind(snr), FormatMetric(MetricWind, wind), false)
	}
	if hasTemp {
		b.publishString(b.topics.Temperature(snr), FormatMetric(MetricTemperature, temp), false)
	}
	if hasLux {
		b.publishString(b.topics.Illuminance(snr), FormatMetric(MetricIlluminance, lux), false)
	}
	b.smoother.MarkPublished(snr)

	if b.weather != nil && hasWind && hasTemp && hasLux {
		b.weather.WriteWeather(snr, wind, temp, roundToInt(lux))
	}
}

// handlePosition processes one actuator position report.
func (b *Bridge) handlePosition(e wms.PositionEvent) {
	if b.dedup.IsDuplicate(e.SNR, e.Tag) {
		return
	}

	var dev device.Device
	if known, err := b.registry.Get(e.SNR); err == nil {
		dev = *known
	} else {
		// Lazily register: a broadcast from an unscanned actuator is
		// better recorded than dropped. Tilt in the frame implies a
		// venetian blind, otherwise assume a plain shutter.
		kind := device.KindRollerShutter
		if e.Tilt != nil {
			kind = device.KindVenetianBlind
		}
		dev = b.ensureDevice(e.SNR, kind)
	}

	switch {
	case dev.Kind == device.KindDimmer:
		b.handleLightFeedback(dev, e)
	case dev.Kind == device.KindSwitch:
		b.handleSwitchFeedback(dev, e)
	case dev.Kind.HasPosition():
		b.handleCoverFeedback(dev, e)
	default:
		b.logWarn("position report for non-positional device", "snr", e.SNR, "kind", dev.Kind)
		return
	}

	b.scheduleSnapshot()
}

// handleCoverFeedback derives and publishes cover state.
func (b *Bridge) handleCoverFeedback(dev device.Device, e wms.PositionEvent) {
	state, retain := DeriveCoverState(e.Position, dev.Position, e.Moving, !dev.Observed)

	b.publishString(b.topics.Position(e.SNR), strconv.Itoa(e.Position), retain)
	b.publishString(b.topics.State(e.SNR), state, retain)

	if e.Tilt != nil && dev.Kind.HasTilt() {
		b.publishString(b.topics.Tilt(e.SNR), strconv.Itoa(*e.Tilt), retain)
	}

	pos := e.Position
	obs := device.Observation{Position: &pos}
	if dev.Kind.HasTilt() {
		obs.Tilt = e.Tilt
	}
	if _, err := b.registry.ApplyObservation(e.SNR, dev.Kind, obs); err != nil {
		b.logError("apply cover observation", err)
	}
}

// handleSwitchFeedback maps the receiver's level onto ON/OFF.
func (b *Bridge) handleSwitchFeedback(dev device.Device, e wms.PositionEvent) {
	b.publishString(b.topics.State(e.SNR), onOff(e.Position > 0), true)

	pos := e.Position
	if _, err := b.registry.ApplyObservation(e.SNR, dev.Kind, device.Observation{Position: &pos}); err != nil {
		b.logError("apply switch observation", err)
	}
}

// handleLightFeedback routes dimmer feedback through the echo-loop
// guard and publishes whatever the guard deems newsworthy.
func (b *Bridge) handleLightFeedback(dev device.Device, e wms.PositionEvent) {
	verdict := b.lights.HandleFeedback(e.SNR, e.Position)

	if verdict.Publish {
		b.publishLight(e.SNR, verdict.Value)
	}

	level := verdict.Value
	if _, err := b.registry.ApplyObservation(e.SNR, dev.Kind, device.Observation{Brightness: &level}); err != nil {
		b.logError("apply light observation", err)
	}
}

// publishLight emits the brightness and the derived ON/OFF state.
func (b *Bridge) publishLight(snr string, level int) {
	b.publishString(b.topics.Brightness(snr), strconv.Itoa(level), true)
	b.publishString(b.topics.LightState(snr), onOff(level > 0), true)
}

// HandleMQTTMessage is the entry point for all control-plane commands.
func (b *Bridge) HandleMQTTMessage(topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snr, command, ok := b.topics.ParseCommand(topic)
	if !ok {
		b.logWarn("unknown command topic", "topic", topic)
		return
	}

	known, err := b.registry.Get(snr)
	if err != nil {
		b.logWarn("command for unknown device", "snr", snr, "topic", topic)
		return
	}
	dev := *known

	value := strings.TrimSpace(string(payload))

	switch command {
	case cmdSet:
		b.commandSet(dev, value)
	case cmdSetPosition:
		b.commandSetPosition(dev, value)
	case cmdSetTilt:
		b.commandSetTilt(dev, value)
	case cmdLightSet:
		b.commandLightSet(dev, value)
	case cmdLightSetLevel:
		b.commandLightLevel(dev, value)
	}
}

// commandSet handles OPEN/CLOSE/STOP for covers and ON/OFF for
// switch receivers.
func (b *Bridge) commandSet(dev device.Device, value string) {
	switch dev.Kind {
	case device.KindSwitch:
		switch strings.ToUpper(value) {
		case "ON":
			b.emitPosition(dev, 100, nil)
			b.publishString(b.topics.State(dev.SNR), "ON", true)
		case "OFF":
			b.emitPosition(dev, 0, nil)
			b.publishString(b.topics.State(dev.SNR), "OFF", true)
		default:
			b.logWarn("unparsable switch command", "snr", dev.SNR, "payload", value)
		}
		return

	case device.KindVenetianBlind, device.KindRollerShutter:
		switch strings.ToUpper(value) {
		case "OPEN":
			b.commandSetPosition(dev, "0")
		case "CLOSE":
			b.commandSetPosition(dev, "100")
		case "STOP":
			ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
			defer cancel()
			if err := b.stick.Stop(ctx, dev.SNR); err != nil {
				b.logWarn("stop command failed", "snr", dev.SNR, "error", err)
			}
		default:
			b.logWarn("unparsable cover command", "snr", dev.SNR, "payload", value)
		}
		return
	}

	b.logWarn("set command for unsupported kind", "snr", dev.SNR, "kind", dev.Kind)
}

// commandSetPosition moves a cover to an absolute position.
func (b *Bridge) commandSetPosition(dev device.Device, value string) {
	if !dev.Kind.HasPosition() || dev.Kind == device.KindDimmer {
		b.logWarn("position command for unsupported kind", "snr", dev.SNR, "kind", dev.Kind)
		return
	}

	target, err := strconv.Atoi(value)
	if err != nil || target < 0 || target > 100 {
		b.logWarn("unparsable position payload", "snr", dev.SNR, "payload", value)
		return
	}

	b.emitPosition(dev, target, nil)

	// Optimistic movement label so the control surface reacts before
	// the first feedback frame. Transient, never retained.
	if target != dev.Position {
		state := CoverOpening
		if target > dev.Position {
			state = CoverClosing
		}
		b.publishString(b.topics.State(dev.SNR), state, false)
	}
}

// commandSetTilt adjusts the slat angle at the current position.
func (b *Bridge) commandSetTilt(dev device.Device, value string) {
	if !dev.Kind.HasTilt() {
		b.logWarn("tilt command for unsupported kind", "snr", dev.SNR, "kind", dev.Kind)
		return
	}

	tilt, err := strconv.Atoi(value)
	if err != nil || tilt < -100 || tilt > 100 {
		b.logWarn("unparsable tilt payload", "snr", dev.SNR, "payload", value)
		return
	}

	b.emitPosition(dev, dev.Position, &tilt)
}

// commandLightSet handles ON/OFF for dimmers. ON resumes the last
// nonzero brightness, or full brightness for a device that has never
// reported one.
func (b *Bridge) commandLightSet(dev device.Device, value string) {
	if !dev.Kind.IsLight() {
		b.logWarn("light command for unsupported kind", "snr", dev.SNR, "kind", dev.Kind)
		return
	}

	switch strings.ToUpper(value) {
	case "ON":
		b.commandLight(dev, ResolveOn(dev.LastBrightness))
	case "OFF":
		b.commandLight(dev, 0)
	default:
		b.logWarn("unparsable light command", "snr", dev.SNR, "payload", value)
	}
}

// commandLightLevel handles an absolute brightness command.
func (b *Bridge) commandLightLevel(dev device.Device, value string) {
	if !dev.Kind.IsLight() {
		b.logWarn("light command for unsupported kind", "snr", dev.SNR, "kind", dev.Kind)
		return
	}

	level, err := strconv.Atoi(value)
	if err != nil || level < 0 || level > 100 {
		b.logWarn("unparsable brightness payload", "snr", dev.SNR, "payload", value)
		return
	}

	b.commandLight(dev, level)
}

// commandLight quantizes the target, opens the echo guard window,
// emits the command and publishes the target optimistically so the
// control surface reflects intent before hardware confirmation.
func (b *Bridge) commandLight(dev device.Device, rawTarget int) {
	target := b.lights.HandleCommand(dev.SNR, rawTarget)

	b.emitPosition(dev, target, nil)

	b.publishLight(dev.SNR, target)

	if _, err := b.registry.ApplyIntent(dev.SNR, device.Intent{Brightness: &target}); err != nil {
		b.logError("apply light intent", err)
	}
	b.scheduleSnapshot()
}

// emitPosition sends a position command to the stick. The registry
// position stays untouched until hardware feedback confirms the move,
// keeping the movement-derivation baseline honest; only tilt is
// recorded optimistically since nothing is derived from it.
func (b *Bridge) emitPosition(dev device.Device, position int, tilt *int) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.stick.SetPosition(ctx, dev.SNR, position, tilt); err != nil {
		b.logWarn("position command failed", "snr", dev.SNR, "error", err)
		return
	}

	if tilt != nil && dev.Kind.HasTilt() {
		if _, err := b.registry.ApplyIntent(dev.SNR, device.Intent{Tilt: tilt}); err != nil {
			b.logError("apply command intent", err)
		}
		b.scheduleSnapshot()
	}
}

// ensureDevice lazily registers a device observed outside a scan and
// announces it if new.
func (b *Bridge) ensureDevice(snr string, kind device.Kind) device.Device {
	dev, created, err := b.registry.Upsert(snr, kind)
	if err != nil {
		b.logError("lazy device registration", err)
		return device.Device{SNR: snr, Kind: kind}
	}
	if created {
		b.logInfo("device registered from broadcast", "snr", snr, "kind", kind)
		b.announce(*dev)
	}
	return *dev
}

func (b *Bridge) queryPosition(snr string) error {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	return b.stick.QueryPosition(ctx, snr)
}

// scheduleSnapshot arms the debounced persistence timer. Bursts of
// mutations collapse into one write.
func (b *Bridge) scheduleSnapshot() {
	if b.store == nil {
		return
	}

	b.snapshotMu.Lock()
	defer b.snapshotMu.Unlock()

	if b.snapshotTimer != nil {
		b.snapshotTimer.Stop()
	}
	b.snapshotTimer = time.AfterFunc(b.cfg.SnapshotDebounce, b.saveSnapshot)
}

// saveSnapshot writes the current registry state. Best-effort: a crash
// between mutation and write loses at most the debounce window.
func (b *Bridge) saveSnapshot() {
	if b.store == nil {
		return
	}

	snapshots := b.registry.Snapshots()
	if len(snapshots) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotSaveTimeout)
	defer cancel()

	if err := b.store.Save(ctx, snapshots); err != nil {
		b.logWarn("snapshot save failed", "error", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.mqtt.Publish(topic, payload, b.cfg.QoS, retained); err != nil {
		b.logWarn("publish failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) publishString(topic, payload string, retained bool) {
	if err := b.mqtt.PublishString(topic, payload, b.cfg.QoS, retained); err != nil {
		b.logWarn("publish failed", "topic", topic, "error", err)
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func roundToInt(v float64) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, "error", err)
	}
}
