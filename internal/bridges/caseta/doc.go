// Package caseta implements the Lutron Caseta bridge for Gray Logic.
//
// This package connects to Caseta Smart Bridge Pro hubs over their telnet
// integration protocol and translates between hub status frames and Gray
// Logic's MQTT messages.
//
// # Architecture
//
// One Bridge is owned per hub host. It holds a single login session and a
// read loop that dispatches every frame to its subscribers:
//
//	┌─────────────────┐          ┌─────────────────┐           ┌──────────┐
//	│   Gray Logic    │   MQTT   │   Translator    │  frames   │  Bridge  │  telnet
//	│      Core       │◄────────►│   (devices)     │◄─────────►│ per host │◄────────► Hub
//	└─────────────────┘          └─────────────────┘           └──────────┘
//
// # Wire Format
//
// The hub reports status as "~OUTPUT,2,1,75.00\r\n" and accepts commands as
// "#OUTPUT,2,1,75.00\r\n" and queries as "?OUTPUT,2,1\r\n". Before any
// frame the client answers the "login: " and "password: " prompts and waits
// for the "GNET> " prompt.
//
// Example:
//
//	f, n, err := caseta.MatchFrame([]byte("~OUTPUT,2,1,75.00\r\n"))
//	// f = {Mode: "OUTPUT", Integration: 2, Action: 1, Value: 75}, n = 19
//
// # Devices
//
//   - Lights: OUTPUT integration IDs, level 0-100, on when level > 0
//   - Pico remotes: DEVICE integration IDs, buttons 2-6, press (3) and release (4)
//
// # Reconnection
//
// When a session is lost the read loop re-opens it with exponential backoff
// (5s, x1.5, capped at 2 minutes). Subscriptions survive reconnects.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package caseta
