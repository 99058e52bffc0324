package caseta

import (
	"context"
	"slices"
	"testing"
)

// recordingCommander records the frames a device sends.
type recordingCommander struct {
	sent []string
}

func (r *recordingCommander) Write(mode string, integration, action int, value float64) error {
	r.sent = append(r.sent, string(FormatCommand(mode, integration, action, value)))
	return nil
}

func (r *recordingCommander) Query(mode string, integration, action int) error {
	r.sent = append(r.sent, string(FormatQuery(mode, integration, action)))
	return nil
}

func TestLightApply(t *testing.T) {
	l := NewLight("kitchen", "Kitchen", 2)

	tests := []struct {
		name      string
		frame     Frame
		wantApply bool
		wantLevel float64
		wantOn    bool
	}{
		{"level report", Frame{ModeOutput, 2, ActionSet, 75}, true, 75, true},
		{"other integration", Frame{ModeOutput, 3, ActionSet, 10}, false, 75, true},
		{"other action", Frame{ModeOutput, 2, 29, 10}, false, 75, true},
		{"device frame", Frame{ModeDevice, 2, ActionSet, 10}, false, 75, true},
		{"off", Frame{ModeOutput, 2, ActionSet, 0}, true, 0, false},
		{"over range is clamped", Frame{ModeOutput, 2, ActionSet, 250}, true, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.Apply(tt.frame); got != tt.wantApply {
				t.Errorf("Apply() = %v, want %v", got, tt.wantApply)
			}
			if got := l.Level(); got != tt.wantLevel {
				t.Errorf("Level() = %v, want %v", got, tt.wantLevel)
			}
			if got := l.IsOn(); got != tt.wantOn {
				t.Errorf("IsOn() = %v, want %v", got, tt.wantOn)
			}
		})
	}
}

func TestLightCommands(t *testing.T) {
	l := NewLight("kitchen", "Kitchen", 2)
	c := &recordingCommander{}

	if err := l.TurnOn(c, 0); err != nil {
		t.Fatalf("TurnOn() error: %v", err)
	}
	if err := l.TurnOn(c, 40); err != nil {
		t.Fatalf("TurnOn() error: %v", err)
	}
	if err := l.SetLevel(c, 0); err != nil {
		t.Fatalf("SetLevel() error: %v", err)
	}
	if err := l.TurnOff(c); err != nil {
		t.Fatalf("TurnOff() error: %v", err)
	}
	if err := l.Refresh(c); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	want := []string{
		"#OUTPUT,2,1,100.00\r\n",
		"#OUTPUT,2,1,40.00\r\n",
		"#OUTPUT,2,1,0.00\r\n",
		"#OUTPUT,2,1,0.00\r\n",
		"?OUTPUT,2,1\r\n",
	}
	if !slices.Equal(c.sent, want) {
		t.Errorf("sent = %q, want %q", c.sent, want)
	}
}

func TestBrightnessConversion(t *testing.T) {
	tests := []struct {
		level      float64
		brightness uint8
	}{
		{0, 0},
		{50, 128},
		{100, 255},
		{120, 255},
	}
	for _, tt := range tests {
		if got := LevelToBrightness(tt.level); got != tt.brightness {
			t.Errorf("LevelToBrightness(%v) = %d, want %d", tt.level, got, tt.brightness)
		}
	}

	if got := BrightnessToLevel(255); got != 100 {
		t.Errorf("BrightnessToLevel(255) = %v, want 100", got)
	}
	if got := BrightnessToLevel(0); got != 0 {
		t.Errorf("BrightnessToLevel(0) = %v, want 0", got)
	}
}

func TestPicoRemoteApply(t *testing.T) {
	p := NewPicoRemote("hall-pico", "Hall Pico", 7)

	tests := []struct {
		name     string
		frame    Frame
		wantOK   bool
		wantMask uint8
	}{
		{"press on", Frame{ModeDevice, 7, ButtonOn, ButtonPress}, true, 0x01},
		{"press lower", Frame{ModeDevice, 7, ButtonLower, ButtonPress}, true, 0x11},
		{"release on", Frame{ModeDevice, 7, ButtonOn, ButtonRelease}, true, 0x10},
		{"unknown button", Frame{ModeDevice, 7, 9, ButtonPress}, false, 0x10},
		{"unknown event", Frame{ModeDevice, 7, ButtonOff, 5}, false, 0x10},
		{"other remote", Frame{ModeDevice, 8, ButtonOff, ButtonPress}, false, 0x10},
		{"output frame", Frame{ModeOutput, 7, ButtonOff, ButtonPress}, false, 0x10},
		{"release lower", Frame{ModeDevice, 7, ButtonLower, ButtonRelease}, true, 0x00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := p.Apply(tt.frame)
			if ok != tt.wantOK {
				t.Errorf("Apply() ok = %v, want %v", ok, tt.wantOK)
			}
			if got := p.Buttons(); got != tt.wantMask {
				t.Errorf("Buttons() = 0x%02X, want 0x%02X", got, tt.wantMask)
			}
		})
	}
}

func TestPicoRemoteEventAndState(t *testing.T) {
	p := NewPicoRemote("hall-pico", "Hall Pico", 7)

	ev, ok := p.Apply(Frame{ModeDevice, 7, ButtonFavorite, ButtonPress})
	if !ok {
		t.Fatal("Apply() ok = false")
	}
	if ev.Name != "favorite" || !ev.Pressed || ev.Button != ButtonFavorite {
		t.Errorf("event = %+v", ev)
	}

	state := p.State()
	if state["buttons"] != 0x02 {
		t.Errorf("buttons = %v, want 2", state["buttons"])
	}
	if held, _ := state["pressed"].([]string); !slices.Equal(held, []string{"favorite"}) {
		t.Errorf("pressed = %v, want [favorite]", state["pressed"])
	}
}

func TestDeviceSetRouting(t *testing.T) {
	s := NewDeviceSet()
	if err := s.AddLight("hub-a", NewLight("kitchen", "Kitchen", 2)); err != nil {
		t.Fatalf("AddLight() error: %v", err)
	}
	if err := s.AddLight("hub-b", NewLight("porch", "Porch", 2)); err != nil {
		t.Fatalf("AddLight() error: %v", err)
	}
	if err := s.AddPico("hub-a", NewPicoRemote("hall-pico", "Hall", 2)); err != nil {
		t.Fatalf("AddPico() error: %v", err)
	}

	u, ok := s.Apply("hub-b", Frame{ModeOutput, 2, ActionSet, 30})
	if !ok || u.DeviceID != "porch" || u.Kind != KindLight {
		t.Fatalf("Apply(hub-b) = %+v, %v", u, ok)
	}
	if u.Address != "hub-b/OUTPUT/2" {
		t.Errorf("Address = %q", u.Address)
	}
	if u.Event != nil {
		t.Error("light update carries a button event")
	}

	u, ok = s.Apply("hub-a", Frame{ModeDevice, 2, ButtonOff, ButtonPress})
	if !ok || u.DeviceID != "hall-pico" || u.Event == nil || u.Event.Name != "off" {
		t.Fatalf("Apply(hub-a pico) = %+v, %v", u, ok)
	}

	if _, ok := s.Apply("hub-c", Frame{ModeOutput, 2, ActionSet, 30}); ok {
		t.Error("Apply() matched a device on an unknown host")
	}

	l, host, ok := s.Light("kitchen")
	if !ok || host != "hub-a" || l.Level() != 0 {
		t.Errorf("Light(kitchen) = %v, %q, %v", l, host, ok)
	}
	if _, _, ok := s.Pico("kitchen"); ok {
		t.Error("Pico(kitchen) found a light")
	}

	if got := s.Hosts(); !slices.Equal(got, []string{"hub-a", "hub-b"}) {
		t.Errorf("Hosts() = %v", got)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}

	snap := s.Snapshot()
	var ids []string
	for _, u := range snap {
		ids = append(ids, u.DeviceID)
	}
	if !slices.Equal(ids, []string{"hall-pico", "kitchen", "porch"}) {
		t.Errorf("Snapshot() ids = %v", ids)
	}
}

func TestDeviceSetDuplicates(t *testing.T) {
	s := NewDeviceSet()
	if err := s.AddLight("hub", NewLight("a", "A", 1)); err != nil {
		t.Fatalf("AddLight() error: %v", err)
	}
	if err := s.AddLight("hub", NewLight("a", "A again", 5)); err == nil {
		t.Error("AddLight() accepted a duplicate id")
	}
	if err := s.AddLight("hub", NewLight("b", "B", 1)); err == nil {
		t.Error("AddLight() accepted a duplicate integration")
	}
	if err := s.AddPico("hub", NewPicoRemote("a", "Pico", 9)); err == nil {
		t.Error("AddPico() accepted a duplicate id")
	}
}

func TestDeviceSetHandler(t *testing.T) {
	s := NewDeviceSet()
	if err := s.AddLight("hub", NewLight("kitchen", "Kitchen", 2)); err != nil {
		t.Fatalf("AddLight() error: %v", err)
	}

	var updates []Update
	h := s.Handler("hub", func(_ context.Context, u Update) error {
		updates = append(updates, u)
		return nil
	})

	ctx := context.Background()
	_ = h.HandleFrame(ctx, Frame{ModeOutput, 2, ActionSet, 60})
	_ = h.HandleFrame(ctx, Frame{ModeOutput, 99, ActionSet, 60})

	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	if updates[0].State["level"] != 60.0 || updates[0].State["on"] != true {
		t.Errorf("state = %v", updates[0].State)
	}
}
