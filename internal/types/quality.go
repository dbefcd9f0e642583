package types

// Quality classifies how trustworthy a variable's current value is.
// GOOD values come from a recent successful read, STALE values survived a
// fault window, BAD values are either rejected by the endpoint or too old.
type Quality string

const (
	QualityGood  Quality = "GOOD"
	QualityStale Quality = "STALE"
	QualityBad   Quality = "BAD"
)

// Mode declares which directions a variable is exchanged in.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
	ModeBoth  Mode = "both"
)

// ParseMode validates a mode name from configuration. Empty defaults to both.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case "":
		return ModeBoth, true
	case ModeRead, ModeWrite, ModeBoth:
		return Mode(s), true
	}
	return "", false
}

// Readable reports whether the owning driver polls this variable.
func (m Mode) Readable() bool { return m == ModeRead || m == ModeBoth }

// Writable reports whether the engine may set this variable.
func (m Mode) Writable() bool { return m == ModeWrite || m == ModeBoth }
