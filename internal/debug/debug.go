package debug

import (
	"io"
	"log"
	"os"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (startup, faults, mode changes)
	LevelLive    = 2 // Live info (commands, moves, corrections)
	LevelVerbose = 3 // Verbose (plan details, polling)
	LevelTrace   = 4 // Trace (GPIO, single pulses)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	prefix           = "[DomeGo] "
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (startup, faults, mode changes)
// 2 = live info (commands, moves, corrections)
// 3 = verbose (plan details, polling)
// 4 = trace (GPIO, single pulses)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	if level > LevelOff {
		logger = log.New(out, prefix, log.LstdFlags|log.Lmicroseconds)
	} else {
		logger = nil
	}
}

// SetPrefix changes the log prefix, e.g. to tell the three processes apart.
// Call before Init.
func SetPrefix(p string) {
	mu.Lock()
	defer mu.Unlock()
	prefix = p
	if logger != nil {
		logger.SetPrefix(p)
	}
}

// SetOutput redirects debug output (e.g. to also feed the status stream).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func printf(minLevel int, format string, args ...interface{}) {
	mu.RLock()
	l, lg := level, logger
	mu.RUnlock()
	if l >= minLevel && lg != nil {
		lg.Printf(format, args...)
	}
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	printf(LevelInfo, "[INFO] "+format, args...)
}

// Summary prints an important summary banner (level 1).
func Summary(title string) {
	printf(LevelInfo, "═══════════════════════════════════════")
	printf(LevelInfo, "  %s", title)
	printf(LevelInfo, "═══════════════════════════════════════")
}

// Fault prints a fault raised or cleared by the motion process (level 1).
func Fault(kind, detail string) {
	printf(LevelInfo, "[FAULT] %s: %s", kind, detail)
}

// Mode prints a tracking mode transition (level 1).
func Mode(from, to string, reason string) {
	printf(LevelInfo, "[INFO] Mode %s -> %s (%s)", from, to, reason)
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	printf(LevelInfo, "[INFO]   %s = %v", name, value)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	printf(LevelLive, "[LIVE] "+format, args...)
}

// Move prints a planned motor movement (level 2).
func Move(steps int, direction string, reason string) {
	printf(LevelLive, "[LIVE] Dome: %d steps (%s) for %s", steps, direction, reason)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	printf(LevelVerbose, "[VERBOSE] "+format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	printf(LevelVerbose, "[VERBOSE] %s: %+v", name, v)
}

// Section prints a section separator (level 3).
func Section(name string) {
	printf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	printf(LevelVerbose, "  %s", name)
	printf(LevelVerbose, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// Step prints a numbered startup step (level 3).
func Step(num int, description string) {
	printf(LevelVerbose, "[VERBOSE] Step %d: %s", num, description)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	printf(LevelTrace, "[TRACE] "+format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	printf(LevelTrace, "[GPIO] %s pin=%d value=%v", operation, pin, value)
}

// Pulse prints a single emitted step pulse (level 4).
func Pulse(dir string, delayUs int64) {
	printf(LevelTrace, "[PULSE] dir=%s delay=%dus", dir, delayUs)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	printf(LevelInfo, "[ERROR] %v", err)
}
