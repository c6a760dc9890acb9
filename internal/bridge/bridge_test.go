package bridge

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/wms-bridge/internal/device"
	"github.com/nerrad567/wms-bridge/internal/wms"
)

type publishRecord struct {
	topic    string
	payload  string
	retained bool
}

// mockMQTT records publishes and keeps a retained-topic view for
// idempotency checks.
type mockMQTT struct {
	mu       sync.Mutex
	records  []publishRecord
	retained map[string]string
	filters  []string
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{retained: make(map[string]string)}
}

func (m *mockMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	return m.PublishString(topic, string(payload), 0, retained)
}

func (m *mockMQTT) PublishString(topic string, payload string, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, publishRecord{topic: topic, payload: payload, retained: retained})
	if retained {
		m.retained[topic] = payload
	}
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, _ func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, topic)
	return nil
}

func (m *mockMQTT) IsConnected() bool { return true }

func (m *mockMQTT) last(topic string) (publishRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].topic == topic {
			return m.records[i], true
		}
	}
	return publishRecord{}, false
}

func (m *mockMQTT) count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.topic == topic {
			n++
		}
	}
	return n
}

func (m *mockMQTT) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
}

func (m *mockMQTT) retainedView() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.retained)
}

type positionCall struct {
	snr      string
	position int
	tilt     *int
}

// mockStick records emitted hardware commands.
type mockStick struct {
	mu        sync.Mutex
	positions []positionCall
	stops     []string
	added     []string
	queried   []string
}

func (m *mockStick) SetPosition(_ context.Context, snr string, position int, tilt *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append(m.positions, positionCall{snr: snr, position: position, tilt: tilt})
	return nil
}

func (m *mockStick) Stop(_ context.Context, snr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops = append(m.stops, snr)
	return nil
}

func (m *mockStick) AddDevice(_ context.Context, snr string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, snr)
	return nil
}

func (m *mockStick) QueryPosition(_ context.Context, snr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queried = append(m.queried, snr)
	return nil
}

func (m *mockStick) IsConnected() bool { return true }

func (m *mockStick) lastPosition(t *testing.T) positionCall {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.positions) == 0 {
		t.Fatal("no position command emitted")
	}
	return m.positions[len(m.positions)-1]
}

// mockStore records snapshot saves.
type mockStore struct {
	mu    sync.Mutex
	saves [][]device.Snapshot
}

func (m *mockStore) Save(_ context.Context, snapshots []device.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, snapshots)
	return nil
}

func (m *mockStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

func testBridgeConfig() Config {
	return Config{
		BridgeName:             "wmsbridge",
		RootTopic:              "warema",
		DiscoveryPrefix:        "homeassistant",
		QoS:                    1,
		MinRawSpacing:          time.Second,
		EMAAlpha:               0.2,
		WeatherPublishInterval: time.Minute,
		RainOnDelay:            10 * time.Second,
		RainOffDelay:           30 * time.Second,
		CommandTimeout:         10 * time.Second,
		BrightnessSteps:        []int{0, 25, 50, 75, 100},
		Quantization:           QuantizeNearest,
		PublishMidFlight:       true,
		SnapshotDebounce:       10 * time.Millisecond,
	}
}

type testBridge struct {
	bridge *Bridge
	mqtt   *mockMQTT
	stick  *mockStick
	clock  *fakeClock
}

func newTestBridge(t *testing.T, opts ...func(*Options)) *testBridge {
	t.Helper()

	mq := newMockMQTT()
	stick := &mockStick{}
	options := Options{
		Config:   testBridgeConfig(),
		MQTT:     mq,
		Stick:    stick,
		Registry: device.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	b, err := New(options)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	clock := newFakeClock()
	b.dedup.now = clock.now
	b.smoother.now = clock.now
	b.rain.now = clock.now
	b.lights.now = clock.now

	return &testBridge{bridge: b, mqtt: mq, stick: stick, clock: clock}
}

// registerCover seeds a known venetian blind without the scan noise.
func (tb *testBridge) registerCover(t *testing.T, snr string) {
	t.Helper()
	tb.bridge.HandleStickEvent(wms.ScanEvent{Devices: []wms.ScannedDevice{
		{SNR: snr, Kind: device.KindVenetianBlind},
	}})
	tb.mqtt.reset()
}

func (tb *testBridge) registerKind(t *testing.T, snr string, kind device.Kind) {
	t.Helper()
	tb.bridge.HandleStickEvent(wms.ScanEvent{Devices: []wms.ScannedDevice{
		{SNR: snr, Kind: kind},
	}})
	tb.mqtt.reset()
}

func TestBridgeSettledPositionReport(t *testing.T) {
	tb := newTestBridge(t)
	tb.registerCover(t, "1001")

	tb.bridge.HandleStickEvent(wms.PositionEvent{
		SNR: "1001", Position: 30, Moving: false, Tag: "pos-1",
	})

	pos, ok := tb.mqtt.last("warema/1001/position")
	if !ok {
		t.Fatal("position not published")
	}
	if pos.payload != "30" || !pos.retained {
		t.Errorf("position = %+v, want retained \"30\"", pos)
	}

	state, ok := tb.mqtt.last("warema/1001/state")
	if !ok {
		t.Fatal("state not published")
	}
	if state.payload != CoverStopped || !state.retained {
		t.Errorf("state = %+v, want retained \"stopped\"", state)
	}
}

func TestBridgeMovementDirectionFromDelta(t *testing.T) {
	tb := newTestBridge(t)
	tb.registerCover(t, "1001")

	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "1001", Position: 20, Moving: false, Tag: "p1"})
	tb.clock.advance(2 * time.Second)

	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "1001", Position: 45, Moving: true, Tag: "p2"})
	state, _ := tb.mqtt.last("warema/1001/state")
	if state.payload != CoverClosing || state.retained {
		t.Errorf("state = %+v, want transient \"closing\"", state)
	}

	tb.clock.advance(2 * time.Second)
	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "1001", Position: 30, Moving: true, Tag: "p3"})
	state, _ = tb.mqtt.last("warema/1001/state")
	if state.payload != CoverOpening || state.retained {
		t.Errorf("state = %+v, want transient \"opening\"", state)
	}
}

func TestBridgeMidMoveDirectionAfterCommand(t *testing.T) {
	tb := newTestBridge(t)
	tb.registerCover(t, "1001")

	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "1001", Position: 0, Moving: false, Tag: "p1"})
	tb.clock.advance(2 * time.Second)

	// A commanded move must keep deriving direction from the confirmed
	// position, not the command target.
	tb.bridge.HandleMQTTMessage("warema/1001/set_position", []byte("100"))
	tb.mqtt.reset()

	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "1001", Position: 30, Moving: true, Tag: "p2"})
	state, ok := tb.mqtt.last("warema/1001/state")
	if !ok {
		t.Fatal("mid-move state not published")
	}
	if state.payload != CoverClosing || state.retained {
		t.Errorf("mid-move state = %+v, want transient closing", state)
	}
}

func TestBridgeTiltPublishedForVenetian(t *testing.T) {
	tb := newTestBridge(t)
	tb.registerCover(t, "1001")

	tilt := -40
	tb.bridge.HandleStickEvent(wms.PositionEvent{
		SNR: "1001", Position: 50, Tilt: &tilt, Moving: false, Tag: "p1",
	})

	rec, ok := tb.mqtt.last("warema/1001/tilt")
	if !ok {
		t.Fatal("tilt not published")
	}
	if rec.payload != "-40" || !rec.retained {
		t.Errorf("tilt = %+v, want retained \"-40\"", rec)
	}
}

func TestBridgeDedupCollapsesRepeatedFrames(t *testing.T) {
	tb := newTestBridge(t)
	tb.registerCover(t, "1001")

	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "1001", Position: 30, Tag: "pos-x"})
	tb.clock.advance(200 * time.Millisecond)
	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "1001", Position: 30, Tag: "pos-x"})

	if n := tb.mqtt.count("warema/1001/position"); n != 1 {
		t.Errorf("position published %d times, want 1", n)
	}
}

func TestBridgeWeatherSmoothingAndGate(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleStickEvent(wms.WeatherEvent{
		SNR: "2002", Wind: 5.0, Temperature: 20.0, Illuminance: 10000, Rain: false, Tag: "wx-1",
	})

	wind, ok := tb.mqtt.last("warema/2002/wind/state")
	if !ok {
		t.Fatal("wind not published on first broadcast")
	}
	if wind.payload != "5.0" {
		t.Errorf("first wind = %q, want \"5.0\"", wind.payload)
	}

	// Second broadcast inside the gate: smoothed but not published.
	tb.clock.advance(5 * time.Second)
	tb.bridge.HandleStickEvent(wms.WeatherEvent{
		SNR: "2002", Wind: 7.0, Temperature: 20.0, Illuminance: 10000, Rain: false, Tag: "wx-2",
	})
	if n := tb.mqtt.count("warema/2002/wind/state"); n != 1 {
		t.Fatalf("wind published %d times inside gate, want 1", n)
	}

	// Once the gate elapses the smoothed value appears: strictly
	// between the samples, closer to the older one at alpha 0.2.
	tb.clock.advance(time.Minute)
	tb.bridge.HandleStickEvent(wms.WeatherEvent{
		SNR: "2002", Wind: 7.0, Temperature: 20.0, Illuminance: 10000, Rain: false, Tag: "wx-3",
	})

	wind, _ = tb.mqtt.last("warema/2002/wind/state")
	if wind.payload != "5.7" {
		t.Errorf("smoothed wind = %q, want \"5.7\"", wind.payload)
	}
}

func TestBridgeWeatherStationLazyRegistration(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleStickEvent(wms.WeatherEvent{
		SNR: "2002", Wind: 5.0, Temperature: 20.0, Illuminance: 10000, Tag: "wx-1",
	})

	if _, err := tb.bridge.registry.Get("2002"); err != nil {
		t.Fatalf("weather station not lazily registered: %v", err)
	}
	if _, ok := tb.mqtt.last("homeassistant/sensor/2002/wind/config"); !ok {
		t.Error("discovery not announced for lazily registered station")
	}
	if avail, _ := tb.mqtt.last("warema/2002/availability"); avail.payload != payloadOnline {
		t.Errorf("availability = %q, want online", avail.payload)
	}
}

func TestBridgeRainHysteresisPublishes(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleStickEvent(wms.WeatherEvent{SNR: "2002", Rain: false, Tag: "wx-1"})
	rain, ok := tb.mqtt.last("warema/2002/rain/state")
	if !ok {
		t.Fatal("first rain state not published")
	}
	if rain.payload != "OFF" || !rain.retained {
		t.Errorf("rain = %+v, want retained OFF", rain)
	}

	// Sustained onset commits once after the delay.
	tb.clock.advance(2 * time.Second)
	tb.bridge.HandleStickEvent(wms.WeatherEvent{SNR: "2002", Rain: true, Tag: "wx-2"})
	tb.clock.advance(11 * time.Second)
	tb.bridge.HandleStickEvent(wms.WeatherEvent{SNR: "2002", Rain: true, Tag: "wx-3"})

	rain, _ = tb.mqtt.last("warema/2002/rain/state")
	if rain.payload != "ON" {
		t.Errorf("rain = %q, want ON after sustained onset", rain.payload)
	}
	if n := tb.mqtt.count("warema/2002/rain/state"); n != 2 {
		t.Errorf("rain published %d times, want 2", n)
	}
}

func TestBridgeScanRegistersAndAnnounces(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleStickEvent(wms.ScanEvent{Devices: []wms.ScannedDevice{
		{SNR: "1001", Kind: device.KindVenetianBlind},
		{SNR: "2002", Kind: device.KindWeatherStation},
	}})

	if _, ok := tb.mqtt.last("homeassistant/cover/1001/cover/config"); !ok {
		t.Error("cover discovery not published")
	}
	if avail, _ := tb.mqtt.last("warema/1001/availability"); avail.payload != payloadOnline {
		t.Errorf("availability = %q, want online", avail.payload)
	}

	tb.stick.mu.Lock()
	added := len(tb.stick.added)
	queried := append([]string(nil), tb.stick.queried...)
	tb.stick.mu.Unlock()

	if added != 2 {
		t.Errorf("AddDevice called %d times, want 2", added)
	}
	// Weather stations only broadcast; no position query for them.
	if len(queried) != 1 || queried[0] != "1001" {
		t.Errorf("queried = %v, want [1001]", queried)
	}

	// Rescans must not re-announce.
	tb.mqtt.reset()
	tb.bridge.HandleStickEvent(wms.ScanEvent{Devices: []wms.ScannedDevice{
		{SNR: "1001", Kind: device.KindVenetianBlind},
	}})
	if _, ok := tb.mqtt.last("homeassistant/cover/1001/cover/config"); ok {
		t.Error("rescan re-announced a known device")
	}
}

func TestBridgeCoverCommands(t *testing.T) {
	tb := newTestBridge(t)
	tb.registerCover(t, "1001")

	tb.bridge.HandleMQTTMessage("warema/1001/set", []byte("CLOSE"))
	if call := tb.stick.lastPosition(t); call.position != 100 {
		t.Errorf("CLOSE emitted position %d, want 100", call.position)
	}
	state, _ := tb.mqtt.last("warema/1001/state")
	if state.payload != CoverClosing || state.retained {
		t.Errorf("optimistic state = %+v, want transient closing", state)
	}

	tb.bridge.HandleMQTTMessage("warema/1001/set", []byte("STOP"))
	tb.stick.mu.Lock()
	stops := len(tb.stick.stops)
	tb.stick.mu.Unlock()
	if stops != 1 {
		t.Errorf("Stop called %d times, want 1", stops)
	}

	tb.bridge.HandleMQTTMessage("warema/1001/set_position", []byte("60"))
	if call := tb.stick.lastPosition(t); call.position != 60 {
		t.Errorf("set_position emitted %d, want 60", call.position)
	}

	tb.bridge.HandleMQTTMessage("warema/1001/set_tilt", []byte("-30"))
	call := tb.stick.lastPosition(t)
	if call.tilt == nil || *call.tilt != -30 {
		t.Errorf("set_tilt emitted tilt %v, want -30", call.tilt)
	}
}

func TestBridgeMalformedCommandsDropped(t *testing.T) {
	tb := newTestBridge(t)
	tb.registerCover(t, "1001")

	tb.bridge.HandleMQTTMessage("warema/1001/set_position", []byte("banana"))
	tb.bridge.HandleMQTTMessage("warema/1001/set_position", []byte("150"))
	tb.bridge.HandleMQTTMessage("warema/1001/set_tilt", []byte("200"))
	tb.bridge.HandleMQTTMessage("warema/9999/set_position", []byte("50"))

	tb.stick.mu.Lock()
	defer tb.stick.mu.Unlock()
	if len(tb.stick.positions) != 0 {
		t.Errorf("malformed commands reached the stick: %v", tb.stick.positions)
	}
}

func TestBridgeLightCommandEchoAbsorbed(t *testing.T) {
	tb := newTestBridge(t)
	tb.registerKind(t, "3003", device.KindDimmer)

	tb.bridge.HandleMQTTMessage("warema/3003/light/set_brightness", []byte("47"))

	// Quantized to 50, emitted and published optimistically.
	if call := tb.stick.lastPosition(t); call.position != 50 {
		t.Errorf("emitted %d, want quantized 50", call.position)
	}
	bright, _ := tb.mqtt.last("warema/3003/light/brightness")
	if bright.payload != "50" || !bright.retained {
		t.Errorf("brightness = %+v, want retained \"50\"", bright)
	}
	if state, _ := tb.mqtt.last("warema/3003/light/state"); state.payload != "ON" {
		t.Errorf("light state = %q, want ON", state.payload)
	}

	// The hardware echo of the command must not republish.
	tb.mqtt.reset()
	tb.clock.advance(2 * time.Second)
	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "3003", Position: 50, Tag: "fb-1"})
	if n := tb.mqtt.count("warema/3003/light/brightness"); n != 0 {
		t.Errorf("echo republished brightness %d times", n)
	}

	// Later remote feedback is authoritative again.
	tb.clock.advance(2 * time.Second)
	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "3003", Position: 75, Tag: "fb-2"})
	bright, _ = tb.mqtt.last("warema/3003/light/brightness")
	if bright.payload != "75" {
		t.Errorf("remote change = %q, want \"75\"", bright.payload)
	}
}

func TestBridgeLightOnResumesLastBrightness(t *testing.T) {
	tb := newTestBridge(t)
	tb.registerKind(t, "3003", device.KindDimmer)

	// Remote sets 75, then the light goes off.
	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "3003", Position: 75, Tag: "fb-1"})
	tb.clock.advance(2 * time.Second)
	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "3003", Position: 0, Tag: "fb-2"})

	tb.bridge.HandleMQTTMessage("warema/3003/light/set", []byte("ON"))
	if call := tb.stick.lastPosition(t); call.position != 75 {
		t.Errorf("ON resumed %d, want 75", call.position)
	}

	tb.bridge.HandleMQTTMessage("warema/3003/light/set", []byte("OFF"))
	if call := tb.stick.lastPosition(t); call.position != 0 {
		t.Errorf("OFF emitted %d, want 0", call.position)
	}
}

func TestBridgeSwitchCommandsAndFeedback(t *testing.T) {
	tb := newTestBridge(t)
	tb.registerKind(t, "4004", device.KindSwitch)

	tb.bridge.HandleMQTTMessage("warema/4004/set", []byte("ON"))
	if call := tb.stick.lastPosition(t); call.position != 100 {
		t.Errorf("ON emitted %d, want 100", call.position)
	}
	if state, _ := tb.mqtt.last("warema/4004/state"); state.payload != "ON" {
		t.Errorf("state = %q, want ON", state.payload)
	}

	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "4004", Position: 0, Tag: "fb-1"})
	state, _ := tb.mqtt.last("warema/4004/state")
	if state.payload != "OFF" || !state.retained {
		t.Errorf("state = %+v, want retained OFF", state)
	}
}

func TestBridgeLazyRegistrationFromPositionReport(t *testing.T) {
	tb := newTestBridge(t)

	tilt := 0
	tb.bridge.HandleStickEvent(wms.PositionEvent{
		SNR: "1001", Position: 30, Tilt: &tilt, Tag: "p1",
	})

	dev, err := tb.bridge.registry.Get("1001")
	if err != nil {
		t.Fatalf("device not lazily registered: %v", err)
	}
	if dev.Kind != device.KindVenetianBlind {
		t.Errorf("kind = %q, want venetian_blind (tilt present)", dev.Kind)
	}

	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "1002", Position: 30, Tag: "p2"})
	dev, err = tb.bridge.registry.Get("1002")
	if err != nil {
		t.Fatalf("device not lazily registered: %v", err)
	}
	if dev.Kind != device.KindRollerShutter {
		t.Errorf("kind = %q, want roller_shutter (no tilt)", dev.Kind)
	}
}

func TestBridgeRebindIdempotent(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleStickEvent(wms.ScanEvent{Devices: []wms.ScannedDevice{
		{SNR: "1001", Kind: device.KindVenetianBlind},
		{SNR: "2002", Kind: device.KindWeatherStation},
		{SNR: "3003", Kind: device.KindDimmer},
	}})

	tb.bridge.OnMQTTConnect()
	tb.bridge.HandleStickEvent(wms.ReadyEvent{})

	first := tb.mqtt.retainedView()
	if first["warema/bridge/state"] != payloadOnline {
		t.Fatal("bridge state not online after rebind")
	}
	if _, ok := first["homeassistant/cover/1001/cover/config"]; !ok {
		t.Fatal("discovery not replayed on rebind")
	}

	// A redundant ready signal must not replay anything.
	tb.mqtt.reset()
	tb.bridge.HandleStickEvent(wms.ReadyEvent{})
	tb.mqtt.mu.Lock()
	replayed := len(tb.mqtt.records)
	tb.mqtt.mu.Unlock()
	if replayed != 0 {
		t.Errorf("redundant ready replayed %d publishes", replayed)
	}

	// A transport drop re-arms; the second full rebind must land on the
	// exact same retained values.
	tb.bridge.OnMQTTConnectionLost(fmt.Errorf("broker gone"))
	tb.bridge.OnMQTTConnect()

	second := tb.mqtt.retainedView()
	if !maps.Equal(first, second) {
		t.Errorf("retained state differs after second rebind:\nfirst:  %v\nsecond: %v", first, second)
	}
}

func TestBridgeRebindQueriesActuatorsOnly(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleStickEvent(wms.ScanEvent{Devices: []wms.ScannedDevice{
		{SNR: "1001", Kind: device.KindVenetianBlind},
		{SNR: "2002", Kind: device.KindWeatherStation},
	}})

	tb.stick.mu.Lock()
	tb.stick.queried = nil
	tb.stick.mu.Unlock()

	tb.bridge.OnMQTTConnect()
	tb.bridge.HandleStickEvent(wms.ReadyEvent{})

	tb.stick.mu.Lock()
	defer tb.stick.mu.Unlock()
	if len(tb.stick.queried) != 1 || tb.stick.queried[0] != "1001" {
		t.Errorf("queried = %v, want [1001]", tb.stick.queried)
	}
}

func TestBridgeStickDropRearmsRebind(t *testing.T) {
	tb := newTestBridge(t)

	tb.bridge.HandleStickEvent(wms.ScanEvent{Devices: []wms.ScannedDevice{
		{SNR: "1001", Kind: device.KindVenetianBlind},
	}})

	tb.bridge.OnMQTTConnect()
	tb.bridge.HandleStickEvent(wms.ReadyEvent{})

	tb.stick.mu.Lock()
	tb.stick.queried = nil
	tb.stick.mu.Unlock()

	// The ready after a radio-link outage must trigger a fresh rebind
	// with a position refresh, not be swallowed as redundant.
	tb.bridge.OnStickConnectionLost(fmt.Errorf("link lost"))
	tb.bridge.HandleStickEvent(wms.ReadyEvent{})

	tb.stick.mu.Lock()
	defer tb.stick.mu.Unlock()
	if len(tb.stick.queried) != 1 || tb.stick.queried[0] != "1001" {
		t.Errorf("queried after stick drop = %v, want [1001]", tb.stick.queried)
	}
}

func TestBridgeNewAppliesDefaults(t *testing.T) {
	b, err := New(Options{
		MQTT:     newMockMQTT(),
		Stick:    &mockStick{},
		Registry: device.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if b.cfg.MinRawSpacing != time.Second {
		t.Errorf("MinRawSpacing = %v, want 1s", b.cfg.MinRawSpacing)
	}
	if b.cfg.EMAAlpha != 0.2 {
		t.Errorf("EMAAlpha = %v, want 0.2", b.cfg.EMAAlpha)
	}
	if b.cfg.Quantization != QuantizeNearest {
		t.Errorf("Quantization = %q, want nearest", b.cfg.Quantization)
	}

	// An empty step set would turn quantization into identity.
	if got := b.lights.Quantize(47); got != 50 {
		t.Errorf("Quantize(47) = %d, want 50 with default steps", got)
	}
}

func TestBridgeSnapshotDebounce(t *testing.T) {
	store := &mockStore{}
	tb := newTestBridge(t, func(o *Options) { o.Store = store })
	tb.registerCover(t, "1001")

	// A burst of feedback collapses into one write.
	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "1001", Position: 10, Tag: "p1"})
	tb.clock.advance(2 * time.Second)
	tb.bridge.HandleStickEvent(wms.PositionEvent{SNR: "1001", Position: 20, Tag: "p2"})

	deadline := time.Now().Add(time.Second)
	for store.saveCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := store.saveCount(); got != 1 {
		t.Errorf("saveCount = %d, want 1", got)
	}
}

func TestBridgeStopPublishesOffline(t *testing.T) {
	tb := newTestBridge(t)
	tb.bridge.HandleStickEvent(wms.ScanEvent{Devices: []wms.ScannedDevice{
		{SNR: "1001", Kind: device.KindVenetianBlind},
	}})
	if err := tb.bridge.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	tb.mqtt.reset()

	tb.bridge.Stop()

	if rec, _ := tb.mqtt.last("warema/bridge/state"); rec.payload != payloadOffline || !rec.retained {
		t.Errorf("bridge state = %+v, want retained offline", rec)
	}
	if rec, _ := tb.mqtt.last("warema/1001/availability"); rec.payload != payloadOffline {
		t.Errorf("device availability = %q, want offline", rec.payload)
	}
}

func TestBridgeStartSubscribesCommandFilters(t *testing.T) {
	tb := newTestBridge(t)
	if err := tb.bridge.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer tb.bridge.Stop()

	tb.mqtt.mu.Lock()
	filters := len(tb.mqtt.filters)
	tb.mqtt.mu.Unlock()
	if filters != 5 {
		t.Errorf("subscribed to %d filters, want 5", filters)
	}
}
