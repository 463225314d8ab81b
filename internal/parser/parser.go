// internal/parser/parser.go
// Package parser turns controller shell output into typed results.
//
// Each reply kind is described by a table of line shapes. Lines are matched
// after their decorative prefix (emoji, bullets, tree glyphs) is removed.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"eink-power-cli/internal/model"
)

// MeasurementField declares one numeric reading a measurement reply may carry
type MeasurementField struct {
	Label  string // matched case-insensitively against the text before ':'
	Key    string // name in Measurement.Values
	Unit   string
	Signed bool
	units  *regexp.Regexp
}

// MeasurementFields is the set of readings printed by the LTC2959 gauge
var MeasurementFields = []*MeasurementField{
	newMeasurementField("Voltage", "voltage_mv", "mV", false, `mV`),
	newMeasurementField("Current", "current_ma", "mA", true, `mA`),
	newMeasurementField("Charge", "charge_mah", "mAh", false, `mAh`),
	newMeasurementField("Power", "power_mw", "mW", true, `mW`),
	newMeasurementField("Temperature", "temperature_c", "°C", true, `°\s*C|C|degC`),
}

func newMeasurementField(label, key, unit string, signed bool, unitPattern string) *MeasurementField {
	return &MeasurementField{
		Label:  label,
		Key:    key,
		Unit:   unit,
		Signed: signed,
		units:  regexp.MustCompile(`^([-+]?\d+)\s*(?:` + unitPattern + `)$`),
	}
}

var (
	keyValueLine = regexp.MustCompile(`^([A-Za-z][^:=]{0,47}?)\s*[:=]\s*(.*)$`)

	versionRules = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(?:[a-z]+\s+)?(?:version|firmware)\s*[:=]\s*(\S.*)$`),
		regexp.MustCompile(`^([vV]?\d+\.\d+(?:\.\d+)?\S*)$`),
		// banner ending in a version, e.g. "E-Ink Power Controller v2.2.0"
		regexp.MustCompile(`\s([vV]?\d+\.\d+(?:\.\d+)?\S*)$`),
	}

	pongRule = regexp.MustCompile(`(?i)\bpong\b`)

	gpioValueRule = regexp.MustCompile(`(?i)^(?:GPIO\s*[A-Z]\s*\d+|pin\s+value|value)\s*[:=]\s*(\S+)`)
	gpioLevelRule = regexp.MustCompile(`\b(HIGH|LOW)\b`)

	errorPrefix  = regexp.MustCompile(`(?i)^(?:error|failed|fail|invalid)\b`)
	counterLine  = regexp.MustCompile(`^[A-Za-z][A-Za-z ]*:\s*\d+$`)
	errorPhrases = []string{"command not found", "wrong parameter count", "unknown command", "not supported"}
)

type kindParser func(cmd *model.Command, lines []string) model.Result

var parsers = map[model.Kind]kindParser{
	model.KindVersion:     parseVersion,
	model.KindPing:        parsePing,
	model.KindMeasurement: parseMeasurement,
	model.KindGpio:        parseGpio,
	model.KindAck:         parseAck,
	model.KindInfo:        parseInfo,
}

// Parse maps a raw reply to exactly one result for the command's kind.
// Controller error lines yield a failed Ack regardless of kind.
func Parse(cmd *model.Command, raw *model.RawResponse) model.Result {
	if cmd == nil {
		return &model.ProtocolError{Reason: "no command"}
	}
	if raw == nil {
		return &model.ProtocolError{Reason: "no response"}
	}

	if line, ok := findError(raw.Lines); ok {
		return &model.Ack{Success: false, Message: line}
	}

	parse, ok := parsers[cmd.Kind]
	if !ok {
		return &model.ProtocolError{Reason: fmt.Sprintf("unsupported response kind %q", cmd.Kind)}
	}
	return parse(cmd, raw.Lines)
}

// StripDecoration removes leading glyphs, bullets and whitespace
func StripDecoration(line string) string {
	s := strings.TrimLeftFunc(line, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

// IsErrorLine reports whether a line carries a controller error token. The
// cross mark only counts as leading decoration; "I2C Ready: ❌ NO" is a status.
func IsErrorLine(line string) bool {
	stripped := StripDecoration(line)
	if leading := strings.TrimSuffix(strings.TrimRightFunc(line, unicode.IsSpace), stripped); strings.Contains(leading, "❌") {
		return true
	}
	if errorPrefix.MatchString(stripped) && !counterLine.MatchString(stripped) {
		return true
	}
	lower := strings.ToLower(stripped)
	for _, p := range errorPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func findError(lines []string) (string, bool) {
	for _, line := range lines {
		if IsErrorLine(line) {
			msg := StripDecoration(line)
			if msg == "" {
				msg = strings.TrimSpace(line)
			}
			return msg, true
		}
	}
	return "", false
}

func parseVersion(_ *model.Command, lines []string) model.Result {
	for _, rule := range versionRules {
		for _, line := range lines {
			if m := rule.FindStringSubmatch(StripDecoration(line)); m != nil {
				return &model.Version{Version: strings.TrimSpace(m[1])}
			}
		}
	}
	return &model.ProtocolError{Reason: "no version in response", Line: firstNonEmpty(lines)}
}

func parsePing(_ *model.Command, lines []string) model.Result {
	for _, line := range lines {
		if pongRule.MatchString(line) {
			return &model.Ping{Pong: true}
		}
	}
	return &model.ProtocolError{Reason: "no pong in response", Line: firstNonEmpty(lines)}
}

func parseMeasurement(_ *model.Command, lines []string) model.Result {
	m := model.NewMeasurement()

	for _, line := range lines {
		label, value, ok := splitKeyValue(StripDecoration(line))
		if !ok {
			continue
		}
		field := lookupField(label)
		if field == nil {
			continue
		}

		match := field.units.FindStringSubmatch(value)
		if match == nil {
			return &model.ProtocolError{Reason: fmt.Sprintf("malformed %s reading", strings.ToLower(field.Label)), Line: line}
		}
		n, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return &model.ProtocolError{Reason: fmt.Sprintf("%s out of range", strings.ToLower(field.Label)), Line: line}
		}
		if n < 0 && !field.Signed {
			return &model.ProtocolError{Reason: fmt.Sprintf("negative %s reading", strings.ToLower(field.Label)), Line: line}
		}
		m.Set(field.Key, model.Quantity{Value: n, Unit: field.Unit})
	}

	if len(m.Values) == 0 {
		return &model.ProtocolError{Reason: "no measurement fields in response", Line: firstNonEmpty(lines)}
	}
	return m
}

func lookupField(label string) *MeasurementField {
	for _, f := range MeasurementFields {
		if strings.EqualFold(label, f.Label) {
			return f
		}
	}
	return nil
}

func parseGpio(cmd *model.Command, lines []string) model.Result {
	state := &model.GpioState{}
	if cmd.Gpio != nil {
		state.Port = cmd.Gpio.Port
		state.Pin = cmd.Gpio.Pin
	}

	for _, line := range lines {
		s := StripDecoration(line)
		if m := gpioValueRule.FindStringSubmatch(s); m != nil {
			switch m[1] {
			case "0":
				state.Level = 0
			case "1":
				state.Level = 1
			default:
				return &model.ProtocolError{Reason: "malformed pin level", Line: line}
			}
			return state
		}
	}

	for _, line := range lines {
		if m := gpioLevelRule.FindStringSubmatch(line); m != nil {
			if m[1] == "HIGH" {
				state.Level = 1
			}
			return state
		}
	}

	return &model.ProtocolError{Reason: "no pin level in response", Line: firstNonEmpty(lines)}
}

func parseAck(_ *model.Command, lines []string) model.Result {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if s := StripDecoration(line); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return &model.ProtocolError{Reason: "empty response"}
	}
	return &model.Ack{Success: true, Message: strings.Join(parts, "; ")}
}

func parseInfo(_ *model.Command, lines []string) model.Result {
	info := model.NewInfo()
	for _, line := range lines {
		label, value, ok := splitKeyValue(StripDecoration(line))
		if !ok || value == "" {
			continue
		}
		if key := SnakeCase(label); key != "" {
			info.Set(key, value)
		}
	}
	if len(info.Values) == 0 {
		return &model.ProtocolError{Reason: "no key/value lines in response", Line: firstNonEmpty(lines)}
	}
	return info
}

func splitKeyValue(s string) (string, string, bool) {
	m := keyValueLine.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
}

// SnakeCase converts a label such as "Build Type" to "build_type"
func SnakeCase(label string) string {
	var b strings.Builder
	sep := false
	for _, r := range label {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			sep = false
			continue
		}
		sep = true
	}
	return b.String()
}

func firstNonEmpty(lines []string) string {
	for _, line := range lines {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return ""
}
