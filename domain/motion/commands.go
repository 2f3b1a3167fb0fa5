package motion

import (
	"math"
	"strconv"
	"strings"
)

// Control channel verbs.
const (
	VerbStop     = "STOP"
	VerbMode     = "MODE"
	VerbSaveAI   = "SAVE_AI"
	VerbLoadAI   = "LOAD_AI"
	VerbOmni     = "OMNI"
	VerbReboot   = "REBOOT"
	VerbShutdown = "SHUTDOWN"
)

// EncodeOmni renders "OMNI <vx> <vy> <w>" with the shortest decimal form of
// each value, e.g. "OMNI 1 0 0.5".
func EncodeOmni(cmd Command) []byte {
	var b strings.Builder
	b.WriteString(VerbOmni)
	for _, v := range []float64{cmd.VX, cmd.VY, cmd.W} {
		b.WriteByte(' ')
		b.WriteString(formatNumber(v))
	}
	return []byte(b.String())
}

// EncodeMode renders "MODE <name>".
func EncodeMode(name string) []byte {
	return []byte(VerbMode + " " + name)
}

// EncodeStop renders the bare STOP verb.
func EncodeStop() []byte { return []byte(VerbStop) }

func EncodeSaveAI() []byte   { return []byte(VerbSaveAI) }
func EncodeLoadAI() []byte   { return []byte(VerbLoadAI) }
func EncodeReboot() []byte   { return []byte(VerbReboot) }
func EncodeShutdown() []byte { return []byte(VerbShutdown) }

func formatNumber(v float64) string {
	switch {
	case v == 0:
		// -0 prints as 0 on the robot side too
		return "0"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
