package caseta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-caseta/internal/history"
)

// Translator operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// openTimeout bounds the initial connection attempt to all hubs.
	openTimeout = 15 * time.Second

	// historySource tags state history rows written by this bridge.
	historySource = "caseta"

	// historyTimeout bounds a read_history lookup.
	historyTimeout = 5 * time.Second

	// defaultHistoryLimit is used when a read_history request has no limit.
	defaultHistoryLimit = 50
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes the handler for a topic pattern.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// HistoryStore persists device state changes and serves them back for
// read_history requests.
// Optional: if nil, state history is neither recorded nor readable.
type HistoryStore interface {
	RecordStateChange(ctx context.Context, deviceID string, state map[string]any, source string) error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]history.Entry, error)
}

// TelemetryWriter writes time-series points for device activity.
// Optional: if nil, no telemetry is written. Writes are non-blocking.
type TelemetryWriter interface {
	WriteLightLevel(deviceID, host string, level float64)
	WriteButtonEvent(deviceID, host, button string, pressed bool)
}

// TranslatorOptions holds configuration for creating a Translator.
type TranslatorOptions struct {
	// Config is the loaded bridge configuration.
	Config *Config

	// MQTT is the MQTT client implementation.
	MQTT MQTTClient

	// Manager provides one Bridge per hub host.
	Manager *Manager

	// Devices is the device index built from Config.
	Devices *DeviceSet

	// History is optional state history persistence.
	History HistoryStore

	// Telemetry is optional time-series output.
	Telemetry TelemetryWriter

	// Version is reported in health messages.
	Version string

	// Logger is optional structured logger.
	Logger Logger
}

// Translator connects Caseta hubs to Gray Logic over MQTT. It handles:
//   - Frames from the hubs, published as device state and button events
//   - Commands and requests from Core, translated to hub commands
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Translator struct {
	cfg       *Config
	mqtt      MQTTClient
	manager   *Manager
	devices   *DeviceSet
	history   HistoryStore
	telemetry TelemetryWriter
	health    *HealthReporter

	// Frame subscriptions and connect hook removers per hub host
	subs   map[string]Subscription
	hooks  map[string]func()
	subsMu sync.Mutex

	// State cache for change detection
	stateCache   map[string]map[string]any
	stateCacheMu sync.Mutex

	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewTranslator creates a new translator. Call Start to begin operation.
func NewTranslator(opts TranslatorOptions) (*Translator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if opts.Devices == nil {
		return nil, fmt.Errorf("device set is required")
	}

	t := &Translator{
		cfg:        opts.Config,
		mqtt:       opts.MQTT,
		manager:    opts.Manager,
		devices:    opts.Devices,
		history:    opts.History,
		telemetry:  opts.Telemetry,
		subs:       make(map[string]Subscription),
		hooks:      make(map[string]func()),
		stateCache: make(map[string]map[string]any),
		logger:     opts.Logger,
	}

	t.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Version:   opts.Version,
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTT,
		Hubs:      opts.Manager,
	})
	t.health.SetDeviceCount(opts.Devices.Len())
	if opts.Logger != nil {
		t.health.SetLogger(opts.Logger)
	}

	return t, nil
}

// Health returns the translator's health reporter.
func (t *Translator) Health() *HealthReporter {
	return t.health
}

// Start subscribes to every hub that has devices and to the MQTT command
// and request topics, then starts health reporting. Hubs that cannot be
// reached yet are retried by their bridge's read loop; each successful
// connection, first or not, re-queries that hub's lights.
func (t *Translator) Start(ctx context.Context) error {
	if err := t.health.PublishStarting(); err != nil {
		t.logError("failed to publish starting status", err)
	}

	hosts := t.devices.Hosts()
	for _, hub := range t.cfg.Hubs {
		if !slices.Contains(hosts, hub.Host) {
			t.logWarn("hub has no devices, not connecting", "host", hub.Host)
		}
	}

	for _, host := range hosts {
		b := t.manager.Get(host)
		sub := b.Subscribe(t.devices.Handler(host, t.handleUpdate))
		remove := b.OnConnect(func() { t.onHubConnect(host) })

		t.subsMu.Lock()
		t.subs[host] = sub
		t.hooks[host] = remove
		t.subsMu.Unlock()
	}

	openCtx, cancel := context.WithTimeout(ctx, openTimeout)
	err := t.manager.Open(openCtx, hosts...)
	cancel()
	if err != nil {
		t.logWarn("initial hub connection failed, will retry", "error", err)
	}

	for _, host := range hosts {
		if err := t.manager.Get(host).Start(ctx); err != nil {
			return fmt.Errorf("start bridge %s: %w", host, err)
		}
	}

	commandTopic := CommandSubscribeTopic()
	if err := t.mqtt.Subscribe(commandTopic, 1, t.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	t.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := t.mqtt.Subscribe(requestTopic, 1, t.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	t.logInfo("subscribed to requests", "topic", requestTopic)

	t.health.Start(ctx)

	t.logInfo("translator started",
		"bridge_id", t.cfg.Bridge.ID,
		"hubs", len(hosts),
		"devices", t.devices.Len())
	return nil
}

// Stop unsubscribes from MQTT and the hubs and stops health reporting.
// Hub bridges are owned by the Manager and are not stopped here.
func (t *Translator) Stop() {
	t.stopOnce.Do(func() {
		for _, topic := range []string{CommandSubscribeTopic(), RequestSubscribeTopic()} {
			if err := t.mqtt.Unsubscribe(topic); err != nil {
				t.logError("failed to unsubscribe", err)
			}
		}

		t.subsMu.Lock()
		for host, sub := range t.subs {
			t.manager.Get(host).Unsubscribe(sub)
		}
		for _, remove := range t.hooks {
			remove()
		}
		t.subs = make(map[string]Subscription)
		t.hooks = make(map[string]func())
		t.subsMu.Unlock()

		t.health.Stop()
		t.logInfo("translator stopped")
	})
}

// onHubConnect runs on the bridge's goroutine each time host is (re)opened.
// Whatever the hub reported before may be stale, so its devices are
// forgotten and the next frame for each is published even if unchanged.
func (t *Translator) onHubConnect(host string) {
	t.forgetHost(host)
	if !t.cfg.Bridge.RefreshOnConnect {
		return
	}
	sent := t.refreshHost(host)
	t.logInfo("queried lights after connect", "host", host, "queries_sent", sent)
}

// refreshAll queries the level of every light on every hub.
func (t *Translator) refreshAll() int {
	sent := 0
	for _, host := range t.devices.Hosts() {
		sent += t.refreshHost(host)
	}
	return sent
}

// refreshHost queries the level of every light on host and returns how many
// queries were sent.
func (t *Translator) refreshHost(host string) int {
	b := t.manager.Get(host)
	sent := 0
	for _, l := range t.devices.Lights(host) {
		if err := l.Refresh(b); err != nil {
			t.logWarn("light refresh failed", "device_id", l.ID, "host", host, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// handleUpdate publishes a device update produced by a hub frame.
// Called from the hub's read loop.
func (t *Translator) handleUpdate(ctx context.Context, u Update) error {
	changed := t.updateStateCache(u.DeviceID, u.State)
	if !changed && u.Event == nil {
		return nil
	}

	var errs []error
	if changed {
		if err := t.publishJSON(StateTopic(u.DeviceID), NewStateMessage(u), true); err != nil {
			errs = append(errs, fmt.Errorf("publish state: %w", err))
		}
		if t.history != nil {
			if err := t.history.RecordStateChange(ctx, u.DeviceID, u.State, historySource); err != nil {
				t.logError("failed to record state history", err)
			}
		}
		if t.telemetry != nil && u.Kind == KindLight {
			if level, ok := u.State["level"].(float64); ok {
				t.telemetry.WriteLightLevel(u.DeviceID, u.Host, level)
			}
		}
	}

	if u.Event != nil {
		if err := t.publishJSON(EventTopic(u.DeviceID), NewEventMessage(u, *u.Event), false); err != nil {
			errs = append(errs, fmt.Errorf("publish event: %w", err))
		}
		if t.telemetry != nil {
			t.telemetry.WriteButtonEvent(u.DeviceID, u.Host, u.Event.Name, u.Event.Pressed)
		}
	}

	return errors.Join(errs...)
}

// updateStateCache stores state for deviceID and reports whether it changed.
func (t *Translator) updateStateCache(deviceID string, state map[string]any) bool {
	t.stateCacheMu.Lock()
	defer t.stateCacheMu.Unlock()

	if prev, ok := t.stateCache[deviceID]; ok && reflect.DeepEqual(prev, state) {
		return false
	}
	t.stateCache[deviceID] = state
	return true
}

// forgetHost drops the cached state of every device on host.
func (t *Translator) forgetHost(host string) {
	snapshot := t.devices.Snapshot()

	t.stateCacheMu.Lock()
	defer t.stateCacheMu.Unlock()
	for _, u := range snapshot {
		if u.Host == host {
			delete(t.stateCache, u.DeviceID)
		}
	}
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (t *Translator) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		t.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		t.handleCommand(payload)
	case "request":
		t.handleRequest(payload)
	default:
		t.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand processes a command message from Core.
func (t *Translator) handleCommand(payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		t.logError("failed to parse command", err)
		return
	}

	t.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	light, host, ok := t.devices.Light(cmd.DeviceID)
	if !ok {
		if _, _, isPico := t.devices.Pico(cmd.DeviceID); isPico {
			t.publishAck(NewAckError(cmd, "", ErrCodeInvalidCommand, "pico remotes accept no commands"))
			return
		}
		t.publishAck(NewAckError(cmd, "", ErrCodeNotConfigured,
			fmt.Sprintf("device %s not configured", cmd.DeviceID)))
		return
	}

	address := DeviceAddress(host, ModeOutput, light.Integration)
	b := t.manager.Get(host)

	var err error
	switch cmd.Command {
	case "on":
		level, _, perr := levelParam(cmd.Parameters)
		if perr != nil {
			t.publishAck(NewAckError(cmd, address, ErrCodeInvalidParameters, perr.Error()))
			return
		}
		err = light.TurnOn(b, level)
	case "off":
		err = light.TurnOff(b)
	case "dim":
		level, present, perr := levelParam(cmd.Parameters)
		if perr == nil && !present {
			perr = fmt.Errorf("level is required")
		}
		if perr != nil {
			t.publishAck(NewAckError(cmd, address, ErrCodeInvalidParameters, perr.Error()))
			return
		}
		err = light.SetLevel(b, level)
	case "refresh":
		err = light.Refresh(b)
	default:
		t.publishAck(NewAckError(cmd, address, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command)))
		return
	}

	if err != nil {
		t.logError("command execution failed", err)
		t.publishAck(NewAckError(cmd, address, ErrCodeDeviceUnreachable, err.Error()))
		return
	}
	t.publishAck(NewAckMessage(cmd, AckAccepted, address))
}

// levelParam extracts an optional 0-100 "level" parameter, falling back to
// a 0-255 "brightness" parameter when level is absent.
func levelParam(params map[string]any) (level float64, present bool, err error) {
	raw, ok := params["level"]
	if !ok {
		return brightnessParam(params)
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, true, fmt.Errorf("level must be a number, got %T", raw)
	}
	if v < 0 || v > 100 {
		return 0, true, fmt.Errorf("level %v out of range 0-100", v)
	}
	return v, true, nil
}

func brightnessParam(params map[string]any) (level float64, present bool, err error) {
	raw, ok := params["brightness"]
	if !ok {
		return 0, false, nil
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, true, fmt.Errorf("brightness must be a number, got %T", raw)
	}
	if v < 0 || v > 255 || v != float64(uint8(v)) {
		return 0, true, fmt.Errorf("brightness %v must be a whole number 0-255", v)
	}
	return BrightnessToLevel(uint8(v)), true, nil
}

// publishAck publishes a command acknowledgment to the device's ack topic.
func (t *Translator) publishAck(ack AckMessage) {
	if ack.Error != nil {
		t.logWarn("command failed",
			"command_id", ack.CommandID,
			"device_id", ack.DeviceID,
			"code", ack.Error.Code,
			"message", ack.Error.Message)
	}
	if err := t.publishJSON(AckTopic(ack.DeviceID), ack, false); err != nil {
		t.logError("failed to publish ack", err)
	}
}

// handleRequest processes a request message from Core.
func (t *Translator) handleRequest(payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		t.logError("failed to parse request", err)
		return
	}

	if req.RequestID == "" {
		t.logWarn("dropping request without request_id", "action", req.Action, "device_id", req.DeviceID)
		return
	}

	t.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case "read_state":
		resp = t.handleReadState(req)
	case "read_all":
		resp = t.handleReadAll(req)
	case "read_history":
		resp = t.handleReadHistory(req)
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	if err := t.publishJSON(ResponseTopic(req.RequestID), resp, false); err != nil {
		t.logError("failed to publish response", err)
	}
}

// handleReadState returns the cached state of one device and asks the hub
// for a fresh level if the device is a light.
func (t *Translator) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == "" {
		return errorResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}

	for _, u := range t.devices.Snapshot() {
		if u.DeviceID != req.DeviceID {
			continue
		}
		if l, host, ok := t.devices.Light(u.DeviceID); ok {
			if err := l.Refresh(t.manager.Get(host)); err != nil {
				t.logWarn("light refresh failed", "device_id", l.ID, "error", err)
			}
		}
		return ResponseMessage{
			RequestID: req.RequestID,
			Timestamp: time.Now().UTC(),
			Success:   true,
			Data: map[string]any{
				"device_id": u.DeviceID,
				"address":   u.Address,
				"state":     u.State,
			},
		}
	}
	return errorResponse(req, ErrCodeNotConfigured, fmt.Sprintf("device %s not configured", req.DeviceID))
}

// handleReadAll returns the cached state of every device and queries every light.
func (t *Translator) handleReadAll(req RequestMessage) ResponseMessage {
	devices := make(map[string]any)
	for _, u := range t.devices.Snapshot() {
		devices[u.DeviceID] = u.State
	}
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"devices":      devices,
			"queries_sent": t.refreshAll(),
		},
	}
}

// handleReadHistory returns the newest stored states of one device.
func (t *Translator) handleReadHistory(req RequestMessage) ResponseMessage {
	if t.history == nil {
		return errorResponse(req, ErrCodeNotConfigured, "state history is disabled")
	}
	if req.DeviceID == "" {
		return errorResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}
	if req.Limit < 0 {
		return errorResponse(req, ErrCodeInvalidParameters, "limit must not be negative")
	}
	_, _, isLight := t.devices.Light(req.DeviceID)
	_, _, isPico := t.devices.Pico(req.DeviceID)
	if !isLight && !isPico {
		return errorResponse(req, ErrCodeNotConfigured, fmt.Sprintf("device %s not configured", req.DeviceID))
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	entries, err := t.history.GetHistory(ctx, req.DeviceID, limit)
	if err != nil {
		t.logError("failed to read state history", err)
		return errorResponse(req, ErrCodeInternal, "reading state history failed")
	}

	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data: map[string]any{
			"device_id": req.DeviceID,
			"entries":   entries,
		},
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

func (t *Translator) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return t.mqtt.Publish(topic, payload, 1, retained)
}

// SetLogger sets the logger for the translator and its health reporter.
func (t *Translator) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
	t.health.SetLogger(logger)
}

func (t *Translator) getLogger() Logger {
	t.loggerMu.RLock()
	defer t.loggerMu.RUnlock()
	return t.logger
}

func (t *Translator) logInfo(msg string, keysAndValues ...any) {
	if logger := t.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (t *Translator) logWarn(msg string, keysAndValues ...any) {
	if logger := t.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (t *Translator) logError(msg string, err error) {
	if logger := t.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
