package caseta

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Device kinds.
const (
	KindLight = "light"
	KindPico  = "pico"
)

// Pico remote buttons, as reported in the action field of DEVICE frames.
const (
	ButtonOn       = 2
	ButtonFavorite = 3
	ButtonOff      = 4
	ButtonRaise    = 5
	ButtonLower    = 6
)

// picoButtons maps a button number to its state bit and name.
var picoButtons = map[int]struct {
	mask uint8
	name string
}{
	ButtonOn:       {0x01, "on"},
	ButtonFavorite: {0x02, "favorite"},
	ButtonOff:      {0x04, "off"},
	ButtonRaise:    {0x08, "raise"},
	ButtonLower:    {0x10, "lower"},
}

// Commander sends frames to a hub. *Bridge satisfies it.
type Commander interface {
	Write(mode string, integration, action int, value float64) error
	Query(mode string, integration, action int) error
}

// Light is a dimmer or switch addressed by an OUTPUT integration ID.
//
// Level is a percentage 0-100; the light is on whenever level > 0.
type Light struct {
	ID          string
	Name        string
	Integration int

	mu    sync.RWMutex
	level float64
}

// NewLight creates a light with an unknown (zero) level.
func NewLight(id, name string, integration int) *Light {
	return &Light{ID: id, Name: name, Integration: integration}
}

// Apply updates the light from an OUTPUT level frame addressed to it.
// Returns false if the frame is not for this light.
func (l *Light) Apply(f Frame) bool {
	if f.Mode != ModeOutput || f.Integration != l.Integration || f.Action != ActionSet {
		return false
	}
	l.mu.Lock()
	l.level = clampLevel(f.Value)
	l.mu.Unlock()
	return true
}

// Level returns the last reported level (0-100).
func (l *Light) Level() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// IsOn returns true if the last reported level is above zero.
func (l *Light) IsOn() bool {
	return l.Level() > 0
}

// State returns the light's state in the Gray Logic light shape.
func (l *Light) State() map[string]any {
	level := l.Level()
	return map[string]any{
		"on":         level > 0,
		"level":      level,
		"brightness": LevelToBrightness(level),
	}
}

// TurnOn sets the light to level. A level of zero or less means full on.
func (l *Light) TurnOn(c Commander, level float64) error {
	if level <= 0 {
		level = 100
	}
	return c.Write(ModeOutput, l.Integration, ActionSet, clampLevel(level))
}

// SetLevel sets the light to an exact level, clamped to 0-100.
func (l *Light) SetLevel(c Commander, level float64) error {
	return c.Write(ModeOutput, l.Integration, ActionSet, clampLevel(level))
}

// TurnOff sets the light's level to zero.
func (l *Light) TurnOff(c Commander) error {
	return c.Write(ModeOutput, l.Integration, ActionSet, 0)
}

// Refresh asks the hub to report the light's current level.
func (l *Light) Refresh(c Commander) error {
	return c.Query(ModeOutput, l.Integration, ActionSet)
}

// LevelToBrightness converts a 0-100 level to the 0-255 brightness scale.
func LevelToBrightness(level float64) uint8 {
	return uint8(math.Round(clampLevel(level) / 100 * 255))
}

// BrightnessToLevel converts a 0-255 brightness to a 0-100 level.
func BrightnessToLevel(brightness uint8) float64 {
	return float64(brightness) / 255 * 100
}

func clampLevel(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// ButtonEvent describes one Pico button press or release.
type ButtonEvent struct {
	Button  int
	Name    string
	Pressed bool
}

// PicoRemote is a Pico keypad addressed by a DEVICE integration ID.
//
// Its state is a bitmask of buttons currently held down.
type PicoRemote struct {
	ID          string
	Name        string
	Integration int

	mu    sync.RWMutex
	state uint8
}

// NewPicoRemote creates a remote with no buttons held.
func NewPicoRemote(id, name string, integration int) *PicoRemote {
	return &PicoRemote{ID: id, Name: name, Integration: integration}
}

// Apply updates the held-button mask from a DEVICE frame addressed to the
// remote. Returns false for frames that are not a press or release of a
// known button on this remote.
func (p *PicoRemote) Apply(f Frame) (ButtonEvent, bool) {
	if f.Mode != ModeDevice || f.Integration != p.Integration {
		return ButtonEvent{}, false
	}
	btn, ok := picoButtons[f.Action]
	if !ok {
		return ButtonEvent{}, false
	}

	ev := ButtonEvent{Button: f.Action, Name: btn.name}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch f.Value {
	case ButtonPress:
		p.state |= btn.mask
		ev.Pressed = true
	case ButtonRelease:
		p.state &^= btn.mask
	default:
		return ButtonEvent{}, false
	}
	return ev, true
}

// Buttons returns the bitmask of buttons currently held.
func (p *PicoRemote) Buttons() uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// State returns the remote's state: the raw mask and the held button names.
func (p *PicoRemote) State() map[string]any {
	mask := p.Buttons()
	held := []string{}
	for _, n := range []int{ButtonOn, ButtonFavorite, ButtonOff, ButtonRaise, ButtonLower} {
		if b := picoButtons[n]; mask&b.mask != 0 {
			held = append(held, b.name)
		}
	}
	return map[string]any{
		"buttons": int(mask),
		"pressed": held,
	}
}

// Update is a device change produced by applying a frame.
type Update struct {
	Host     string
	DeviceID string
	Kind     string
	Address  string
	State    map[string]any

	// Event is set for Pico button presses and releases.
	Event *ButtonEvent
}

type deviceKey struct {
	host        string
	integration int
}

// DeviceSet indexes lights and Pico remotes by hub host and integration ID.
//
// Thread Safety: All methods are safe for concurrent use.
type DeviceSet struct {
	mu        sync.RWMutex
	lights    map[deviceKey]*Light
	picos     map[deviceKey]*PicoRemote
	lightByID map[string]*Light
	picoByID  map[string]*PicoRemote
	hostOf    map[string]string // device ID -> host
}

// NewDeviceSet creates an empty device set.
func NewDeviceSet() *DeviceSet {
	return &DeviceSet{
		lights:    make(map[deviceKey]*Light),
		picos:     make(map[deviceKey]*PicoRemote),
		lightByID: make(map[string]*Light),
		picoByID:  make(map[string]*PicoRemote),
		hostOf:    make(map[string]string),
	}
}

// AddLight registers a light on host.
func (s *DeviceSet) AddLight(host string, l *Light) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.hostOf[l.ID]; dup {
		return fmt.Errorf("duplicate device id %q", l.ID)
	}
	key := deviceKey{host, l.Integration}
	if _, dup := s.lights[key]; dup {
		return fmt.Errorf("duplicate light integration %d on %s", l.Integration, host)
	}
	s.lights[key] = l
	s.lightByID[l.ID] = l
	s.hostOf[l.ID] = host
	return nil
}

// AddPico registers a Pico remote on host.
func (s *DeviceSet) AddPico(host string, p *PicoRemote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.hostOf[p.ID]; dup {
		return fmt.Errorf("duplicate device id %q", p.ID)
	}
	key := deviceKey{host, p.Integration}
	if _, dup := s.picos[key]; dup {
		return fmt.Errorf("duplicate pico integration %d on %s", p.Integration, host)
	}
	s.picos[key] = p
	s.picoByID[p.ID] = p
	s.hostOf[p.ID] = host
	return nil
}

// Light returns the light with the given device ID and its host.
func (s *DeviceSet) Light(id string) (*Light, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lightByID[id]
	if !ok {
		return nil, "", false
	}
	return l, s.hostOf[id], true
}

// Pico returns the Pico remote with the given device ID and its host.
func (s *DeviceSet) Pico(id string) (*PicoRemote, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.picoByID[id]
	if !ok {
		return nil, "", false
	}
	return p, s.hostOf[id], true
}

// Lights returns every light on host, ordered by integration ID.
func (s *DeviceSet) Lights(host string) []*Light {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Light
	for key, l := range s.lights {
		if key.host == host {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b *Light) int { return a.Integration - b.Integration })
	return out
}

// Hosts returns every host with at least one device, sorted.
func (s *DeviceSet) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hosts []string
	for _, h := range s.hostOf {
		if !slices.Contains(hosts, h) {
			hosts = append(hosts, h)
		}
	}
	slices.Sort(hosts)
	return hosts
}

// Len returns the number of registered devices.
func (s *DeviceSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hostOf)
}

// Snapshot returns the current update for every device, ordered by ID.
func (s *DeviceSet) Snapshot() []Update {
	s.mu.RLock()
	out := make([]Update, 0, len(s.hostOf))
	for key, l := range s.lights {
		out = append(out, lightUpdate(key.host, l))
	}
	for key, p := range s.picos {
		out = append(out, picoUpdate(key.host, p, nil))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Update) int { return strings.Compare(a.DeviceID, b.DeviceID) })
	return out
}

// Apply routes a frame from host to the matching device.
// Returns false if no device on host is addressed by the frame.
func (s *DeviceSet) Apply(host string, f Frame) (Update, bool) {
	key := deviceKey{host, f.Integration}

	s.mu.RLock()
	light := s.lights[key]
	pico := s.picos[key]
	s.mu.RUnlock()

	switch f.Mode {
	case ModeOutput:
		if light != nil && light.Apply(f) {
			return lightUpdate(host, light), true
		}
	case ModeDevice:
		if pico != nil {
			if ev, ok := pico.Apply(f); ok {
				return picoUpdate(host, pico, &ev), true
			}
		}
	}
	return Update{}, false
}

// Handler returns a frame handler for host's bridge that applies frames and
// passes every resulting update to fn. Frames for unknown devices are ignored.
func (s *DeviceSet) Handler(host string, fn func(ctx context.Context, u Update) error) Handler {
	return HandlerFunc(func(ctx context.Context, f Frame) error {
		u, ok := s.Apply(host, f)
		if !ok {
			return nil
		}
		return fn(ctx, u)
	})
}

func lightUpdate(host string, l *Light) Update {
	return Update{
		Host:     host,
		DeviceID: l.ID,
		Kind:     KindLight,
		Address:  DeviceAddress(host, ModeOutput, l.Integration),
		State:    l.State(),
	}
}

func picoUpdate(host string, p *PicoRemote, ev *ButtonEvent) Update {
	return Update{
		Host:     host,
		DeviceID: p.ID,
		Kind:     KindPico,
		Address:  DeviceAddress(host, ModeDevice, p.Integration),
		State:    p.State(),
		Event:    ev,
	}
}

// DeviceAddress renders the protocol address of a device.
// Example: "192.168.1.20/OUTPUT/12"
func DeviceAddress(host, mode string, integration int) string {
	return host + "/" + mode + "/" + strconv.Itoa(integration)
}
