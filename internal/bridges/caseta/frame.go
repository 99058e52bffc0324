package caseta

import (
	"fmt"
	"regexp"
	"strconv"
)

// Integration protocol tokens.
const (
	// ModeOutput addresses a continuous-level output such as a dimmer.
	ModeOutput = "OUTPUT"

	// ModeDevice addresses a keypad or remote reporting button events.
	ModeDevice = "DEVICE"

	// ActionSet is the OUTPUT action that sets or reports a level (0-100).
	ActionSet = 1

	// ButtonPress is the DEVICE event value reported when a button goes down.
	ButtonPress = 3

	// ButtonRelease is the DEVICE event value reported when a button comes up.
	ButtonRelease = 4
)

// Frame markers and line terminator.
const (
	statusMarker  = '~'
	commandMarker = '#'
	queryMarker   = '?'
	lineEnd       = "\r\n"
)

// Handshake prompts sent by the hub, in order.
var (
	promptLogin    = []byte("login: ")
	promptPassword = []byte("password: ")
	promptReady    = []byte("GNET> ")
)

// statusPattern matches one status frame: ~MODE,integration,action,value\r\n
var statusPattern = regexp.MustCompile(`~([A-Z]+),([0-9.]+),([0-9.]+),([0-9.]+)\r\n`)

// Frame is one decoded integration protocol message.
type Frame struct {
	// Mode is the frame class token (e.g., "OUTPUT", "DEVICE").
	Mode string

	// Integration is the hub's numeric identifier for the device.
	Integration int

	// Action is the action code. For OUTPUT frames 1 means "level";
	// for DEVICE frames it is the button (component) number.
	Action int

	// Value is action-dependent: a level percentage or an event code.
	Value float64
}

// String renders the frame in status frame syntax without the terminator.
func (f Frame) String() string {
	return fmt.Sprintf("%c%s,%d,%d,%s", statusMarker, f.Mode, f.Integration, f.Action, formatValue(f.Value))
}

// MatchFrame looks for the earliest complete status frame in buf.
//
// Returns:
//   - consumed == 0, err == nil: no complete frame yet, more bytes are needed
//   - consumed > 0, err == nil: frame decoded; discard buf[:consumed]
//   - consumed > 0, err != nil: frame was delimited but its fields are invalid
//     (wraps ErrDecodeFailed); buf[:consumed] must still be discarded
//
// Bytes after the matched terminator are never touched.
func MatchFrame(buf []byte) (Frame, int, error) {
	m := statusPattern.FindSubmatchIndex(buf)
	if m == nil {
		return Frame{}, 0, nil
	}
	consumed := m[1]

	mode := string(buf[m[2]:m[3]])
	integration, err := strconv.Atoi(string(buf[m[4]:m[5]]))
	if err != nil {
		return Frame{}, consumed, fmt.Errorf("%w: integration %q: %w", ErrDecodeFailed, buf[m[4]:m[5]], err)
	}
	action, err := strconv.Atoi(string(buf[m[6]:m[7]]))
	if err != nil {
		return Frame{}, consumed, fmt.Errorf("%w: action %q: %w", ErrDecodeFailed, buf[m[6]:m[7]], err)
	}
	value, err := strconv.ParseFloat(string(buf[m[8]:m[9]]), 64)
	if err != nil {
		return Frame{}, consumed, fmt.Errorf("%w: value %q: %w", ErrDecodeFailed, buf[m[8]:m[9]], err)
	}

	return Frame{
		Mode:        mode,
		Integration: integration,
		Action:      action,
		Value:       value,
	}, consumed, nil
}

// FormatCommand renders a command frame: #MODE,integration,action,value\r\n
func FormatCommand(mode string, integration, action int, value float64) []byte {
	return fmt.Appendf(nil, "%c%s,%d,%d,%s%s", commandMarker, mode, integration, action, formatValue(value), lineEnd)
}

// FormatQuery renders a query frame: ?MODE,integration,action\r\n
func FormatQuery(mode string, integration, action int) []byte {
	return fmt.Appendf(nil, "%c%s,%d,%d%s", queryMarker, mode, integration, action, lineEnd)
}

// formatValue uses two decimals, matching how the hub reports levels.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
