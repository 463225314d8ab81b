// internal/command/registry_init.go
package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"eink-power-cli/internal/model"
)

var (
	// Rails are the switchable power rails
	Rails = []string{"pmic", "wifi", "disp"}
	// RailStates are the operations accepted by each rail
	RailStates = []string{"on", "off", "status"}
	// PmRails are the rails addressed through the power manager, including the grouped ones
	PmRails = []string{"all", "pmic", "wifi", "disp", "imx93"}
	// GpioPorts are the controller GPIO banks
	GpioPorts = []string{"gpioa", "gpiob", "gpioc", "gpiod", "gpioe"}
	// GpioModes maps a pin configuration name to the shell's flag string
	GpioModes = map[string]string{
		"input":     "i",
		"output":    "o",
		"input-pu":  "iu",
		"input-pd":  "id",
		"output-hi": "o1",
		"output-lo": "o0",
	}
	// RtcActions are the external RTC interrupt actions
	RtcActions = []string{"none", "wake", "auto"}
)

const (
	MaxGpioPin       = 31
	MaxSleepTimeout  = 86_400_000
	MaxAdcMode       = 6
	ResetMessage     = "Board reset sequence initiated. Connection will be lost during power cycle."
	RebootMessage    = "Reboot initiated. Connection will be lost while the controller restarts."
	DeepSleepMessage = "Deep sleep entered. Connection will be lost until the controller wakes."
	ShutdownMessage  = "Board shutdown initiated. The controller stays off until power is reapplied."
)

// DisruptiveMessage is reported when a disruptive command drops the link before replying
func DisruptiveMessage(path string) string {
	switch normalize(path) {
	case "system reboot":
		return RebootMessage
	case "power sleep":
		return DeepSleepMessage
	case "board shutdown":
		return ShutdownMessage
	default:
		return ResetMessage
	}
}

// NewDefaultRegistry creates a registry holding the controller command set
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	registry := NewRegistry(logger)
	RegisterDefaultCommands(registry, logger)
	return registry
}

// RegisterDefaultCommands registers all controller commands
func RegisterDefaultCommands(registry *Registry, logger *zap.Logger) {
	registerSystemCommands(registry)
	registerPowerCommands(registry)
	registerBatteryCommands(registry)
	registerGpioCommands(registry)
	registerNfcCommands(registry)
	registerPmCommands(registry)
	registerRtcCommands(registry)
	registerCommCommands(registry)

	logger.Debug("Controller commands registered", zap.Int("commands", len(registry.List())))
}

func registerSystemCommands(registry *Registry) {
	registry.Register(&Spec{Path: "version", Kind: model.KindVersion, Description: "Show controller firmware version"})
	registry.Register(&Spec{Path: "ping", Kind: model.KindPing, Description: "Check that the controller answers"})
	registry.Register(&Spec{Path: "system info", Kind: model.KindInfo, Description: "Show board, SoC and build information"})
	registry.Register(&Spec{Path: "system uptime", Kind: model.KindInfo, Description: "Show controller uptime"})

	registry.Register(&Spec{
		Path:        "system reboot",
		Usage:       "system reboot [cold]",
		Description: "Reboot the controller",
		Kind:        model.KindAck,
		Disruptive:  true,
		Build: func(path string, args []string) (string, *model.GpioTarget, error) {
			switch {
			case len(args) == 0:
				return "system reboot", nil, nil
			case len(args) == 1 && strings.EqualFold(args[0], "cold"):
				return "system reboot cold", nil, nil
			case len(args) == 1:
				return "", nil, invalid(path, args[0], "expected \"cold\"")
			default:
				return "", nil, invalid(path, args[1], "unexpected argument")
			}
		},
	})

	registry.Register(&Spec{
		Path:        "board reset",
		Description: "Power-cycle the board",
		Kind:        model.KindAck,
		Disruptive:  true,
	})

	registry.Register(&Spec{
		Path:        "board shutdown",
		Description: "Power the board off until power is reapplied",
		Kind:        model.KindAck,
		Disruptive:  true,
	})
}

func registerPowerCommands(registry *Registry) {
	for _, rail := range Rails {
		registerSwitch(registry, "power "+rail, "power "+rail, fmt.Sprintf("the %s rail", strings.ToUpper(rail)))
	}

	registry.Register(&Spec{
		Path:        "power coulomb",
		Description: "Show coulomb counter readings",
		Kind:        model.KindInfo,
	})

	registry.Register(&Spec{
		Path:        "power stats",
		Description: "Show power management statistics",
		Kind:        model.KindInfo,
	})

	registry.Register(&Spec{
		Path:        "power sleep",
		Usage:       "power sleep [timeout_ms]",
		Description: "Enter deep sleep with PMIC, WiFi and display off",
		Kind:        model.KindAck,
		Disruptive:  true,
		Build: func(path string, args []string) (string, *model.GpioTarget, error) {
			switch len(args) {
			case 0:
				return "pm deep_sleep_all_off", nil, nil
			case 1:
				ms, err := strconv.Atoi(args[0])
				if err != nil || ms <= 0 || ms > MaxSleepTimeout {
					return "", nil, invalid(path, args[0], "timeout must be 1-%d ms", MaxSleepTimeout)
				}
				return fmt.Sprintf("pm deep_sleep_all_off %d", ms), nil, nil
			default:
				return "", nil, invalid(path, args[1], "unexpected argument")
			}
		},
	})
}

func registerBatteryCommands(registry *Registry) {
	registry.Register(&Spec{Path: "battery read", Kind: model.KindMeasurement, Description: "Read LTC2959 measurements", Build: fixed("ltc2959 read")})
	registry.Register(&Spec{Path: "battery status", Kind: model.KindInfo, Description: "Show LTC2959 status registers", Build: fixed("ltc2959 status")})
	registry.Register(&Spec{Path: "battery enable", Kind: model.KindAck, Description: "Enable battery monitoring", Build: fixed("ltc2959 enable")})
	registry.Register(&Spec{Path: "battery disable", Kind: model.KindAck, Description: "Disable battery monitoring", Build: fixed("ltc2959 disable")})

	registry.Register(&Spec{Path: "ltc2959 read", Kind: model.KindMeasurement, Description: "Read LTC2959 measurements"})
	registry.Register(&Spec{Path: "ltc2959 status", Kind: model.KindInfo, Description: "Show LTC2959 status registers"})
	registry.Register(&Spec{Path: "ltc2959 enable", Kind: model.KindAck, Description: "Enable the coulomb counter"})
	registry.Register(&Spec{Path: "ltc2959 disable", Kind: model.KindAck, Description: "Disable the coulomb counter"})
	registry.Register(&Spec{Path: "ltc2959 init", Kind: model.KindAck, Description: "Initialize the LTC2959"})
	registry.Register(&Spec{Path: "ltc2959 scan", Kind: model.KindAck, Description: "Scan the I2C bus for the LTC2959"})
	registry.Register(&Spec{Path: "ltc2959 charge-complete", Kind: model.KindAck, Description: "Mark the battery as fully charged", Build: fixed("ltc2959 charge_complete")})
	registry.Register(&Spec{Path: "ltc2959 production-reset", Kind: model.KindAck, Description: "Restore LTC2959 production defaults", Build: fixed("ltc2959 production_reset")})
	registerSwitch(registry, "ltc2959 cc-gpio", "ltc2959 cc_gpio", "the charge-complete GPIO")

	registry.Register(&Spec{
		Path:        "ltc2959 set-charge",
		Usage:       "ltc2959 set-charge <mah>",
		Description: "Set the accumulated charge",
		Kind:        model.KindAck,
		Build: func(path string, args []string) (string, *model.GpioTarget, error) {
			if len(args) != 1 {
				return "", nil, invalid(path, "", "expected <mah>, got %d arguments", len(args))
			}
			mah, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return "", nil, invalid(path, args[0], "charge must be a whole number of mAh")
			}
			return fmt.Sprintf("ltc2959 set_charge %d", mah), nil, nil
		},
	})

	registry.Register(&Spec{
		Path:        "ltc2959 adc-mode",
		Usage:       "ltc2959 adc-mode <0-6>",
		Description: "Select the ADC conversion mode",
		Kind:        model.KindAck,
		Build: func(path string, args []string) (string, *model.GpioTarget, error) {
			if len(args) != 1 {
				return "", nil, invalid(path, "", "expected <mode>, got %d arguments", len(args))
			}
			mode, err := strconv.Atoi(args[0])
			if err != nil || mode < 0 || mode > MaxAdcMode {
				return "", nil, invalid(path, args[0], "mode must be 0-%d", MaxAdcMode)
			}
			return fmt.Sprintf("ltc2959 adc_mode %d", mode), nil, nil
		},
	})

	registry.Register(&Spec{
		Path:        "ltc2959 reg-read",
		Usage:       "ltc2959 reg-read <addr>",
		Description: "Read an LTC2959 register",
		Kind:        model.KindInfo,
		Build: func(path string, args []string) (string, *model.GpioTarget, error) {
			if len(args) != 1 {
				return "", nil, invalid(path, "", "expected <addr>, got %d arguments", len(args))
			}
			addr, err := parseHexByte(path, args[0])
			if err != nil {
				return "", nil, err
			}
			return "ltc2959 reg_read " + addr, nil, nil
		},
	})

	registry.Register(&Spec{
		Path:        "ltc2959 reg-write",
		Usage:       "ltc2959 reg-write <addr> <value>",
		Description: "Write an LTC2959 register",
		Kind:        model.KindAck,
		Build: func(path string, args []string) (string, *model.GpioTarget, error) {
			if len(args) != 2 {
				return "", nil, invalid(path, "", "expected <addr> <value>, got %d arguments", len(args))
			}
			addr, err := parseHexByte(path, args[0])
			if err != nil {
				return "", nil, err
			}
			value, err := parseHexByte(path, args[1])
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("ltc2959 reg_write %s %s", addr, value), nil, nil
		},
	})
}

func registerGpioCommands(registry *Registry) {
	registry.Register(&Spec{
		Path:        "gpio get",
		Usage:       "gpio get <port> <pin>",
		Description: "Read a GPIO pin",
		Kind:        model.KindGpio,
		Build: func(path string, args []string) (string, *model.GpioTarget, error) {
			if len(args) != 2 {
				return "", nil, invalid(path, "", "expected <port> <pin>, got %d arguments", len(args))
			}
			target, err := parseGpioTarget(path, args[0], args[1])
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("gpio get %s %d", target.Port, target.Pin), target, nil
		},
	})

	registry.Register(&Spec{
		Path:        "gpio set",
		Usage:       "gpio set <port> <pin> <0|1>",
		Description: "Drive a GPIO pin",
		Kind:        model.KindAck,
		Build: func(path string, args []string) (string, *model.GpioTarget, error) {
			if len(args) != 3 {
				return "", nil, invalid(path, "", "expected <port> <pin> <0|1>, got %d arguments", len(args))
			}
			target, err := parseGpioTarget(path, args[0], args[1])
			if err != nil {
				return "", nil, err
			}
			var value int
			switch args[2] {
			case "0":
				value = 0
			case "1":
				value = 1
			default:
				return "", nil, invalid(path, args[2], "value must be 0 or 1")
			}
			target.Value = &value
			return fmt.Sprintf("gpio set %s %d %d", target.Port, target.Pin, value), target, nil
		},
	})

	registry.Register(&Spec{
		Path:        "gpio config",
		Usage:       "gpio config <port> <pin> <mode>",
		Description: "Configure a GPIO pin direction and bias",
		Kind:        model.KindAck,
		Build: func(path string, args []string) (string, *model.GpioTarget, error) {
			if len(args) != 3 {
				return "", nil, invalid(path, "", "expected <port> <pin> <mode>, got %d arguments", len(args))
			}
			target, err := parseGpioTarget(path, args[0], args[1])
			if err != nil {
				return "", nil, err
			}
			flags, ok := GpioModes[strings.ToLower(args[2])]
			if !ok {
				return "", nil, invalid(path, args[2], "mode must be one of %s", strings.Join(gpioModeNames(), ", "))
			}
			return fmt.Sprintf("gpio conf %s %d %s", target.Port, target.Pin, flags), target, nil
		},
	})
}

func gpioModeNames() []string {
	names := make([]string, 0, len(GpioModes))
	for name := range GpioModes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func registerNfcCommands(registry *Registry) {
	registry.Register(&Spec{Path: "nfc status", Kind: model.KindInfo, Description: "Show NTA5332 status"})
	registry.Register(&Spec{Path: "nfc info", Kind: model.KindInfo, Description: "Show NFC tag information"})
	registry.Register(&Spec{Path: "nfc field-detect", Kind: model.KindInfo, Description: "Show RF field detection state", Build: fixed("nfc field_detect")})

	for _, c := range []struct{ name, description string }{
		{"scan", "Scan for the NFC device"},
		{"init", "Initialize the NFC interface"},
		{"debug", "Dump NFC debug information"},
		{"rfdbg", "Dump RF debug registers"},
		{"ed", "Show energy harvesting state"},
		{"enable", "Enable the NFC interface"},
		{"disable", "Disable the NFC interface"},
		{"reset", "Reset the NFC device"},
	} {
		registry.Register(&Spec{Path: "nfc " + c.name, Kind: model.KindAck, Description: c.description})
	}
}

func registerPmCommands(registry *Registry) {
	registry.Register(&Spec{Path: "pm stats", Kind: model.KindInfo, Description: "Show power manager statistics"})
	registry.Register(&Spec{Path: "pm measure", Kind: model.KindInfo, Description: "Measure rail currents"})
	registry.Register(&Spec{Path: "pm wake", Kind: model.KindAck, Description: "Wake the power manager"})
	registry.Register(&Spec{Path: "pm battery-check", Kind: model.KindAck, Description: "Run a battery health check", Build: fixed("pm battery_check")})
	registry.Register(&Spec{Path: "pm defaults show", Kind: model.KindInfo, Description: "Show rail defaults stored in flash"})
	registry.Register(&Spec{Path: "pm defaults save", Kind: model.KindAck, Description: "Save current rail states as defaults"})

	for _, rail := range PmRails {
		registerSwitch(registry, "pm "+rail, "pm "+rail, fmt.Sprintf("the %s rail through the power manager", strings.ToUpper(rail)))
	}
	for _, rail := range Rails {
		registerSwitch(registry, "pm defaults "+rail, "pm defaults "+rail, fmt.Sprintf("the stored %s default", strings.ToUpper(rail)))
	}
	for _, device := range []string{"ltc2959", "nfc"} {
		registry.Register(&Spec{Path: "pm " + device + " wake", Kind: model.KindAck, Description: "Wake the " + strings.ToUpper(device)})
		registry.Register(&Spec{Path: "pm " + device + " sleep", Kind: model.KindAck, Description: "Put the " + strings.ToUpper(device) + " to sleep"})
	}

	registry.Register(&Spec{
		Path:        "pm monitor start",
		Usage:       "pm monitor start [interval_s]",
		Description: "Start on-controller power monitoring",
		Kind:        model.KindAck,
		Build: func(path string, args []string) (string, *model.GpioTarget, error) {
			switch len(args) {
			case 0:
				return "pm monitor start", nil, nil
			case 1:
				seconds, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil || seconds == 0 {
					return "", nil, invalid(path, args[0], "interval must be a positive number of seconds")
				}
				return fmt.Sprintf("pm monitor start %d", seconds), nil, nil
			default:
				return "", nil, invalid(path, args[1], "unexpected argument")
			}
		},
	})
	registry.Register(&Spec{Path: "pm monitor stop", Kind: model.KindAck, Description: "Stop on-controller power monitoring"})
}

func registerRtcCommands(registry *Registry) {
	registry.Register(&Spec{Path: "rtc status", Kind: model.KindInfo, Description: "Show external RTC status"})
	registry.Register(&Spec{Path: "rtc get", Kind: model.KindInfo, Description: "Read the RTC time"})
	registry.Register(&Spec{Path: "rtc show", Kind: model.KindInfo, Description: "Show RTC configuration"})

	registry.Register(&Spec{
		Path:        "rtc config",
		Usage:       "rtc config <none|wake|auto>",
		Description: "Set the external RTC interrupt action",
		Kind:        model.KindAck,
		Build: func(path string, args []string) (string, *model.GpioTarget, error) {
			if len(args) != 1 {
				return "", nil, invalid(path, "", "expected <%s>, got %d arguments", strings.Join(RtcActions, "|"), len(args))
			}
			action := strings.ToLower(args[0])
			for _, a := range RtcActions {
				if action == a {
					return "rtc config " + action, nil, nil
				}
			}
			return "", nil, invalid(path, args[0], "action must be one of %s", strings.Join(RtcActions, ", "))
		},
	})
}

func registerCommCommands(registry *Registry) {
	registerSwitch(registry, "comm bt-wake", "comm bt_wake", "the Bluetooth wake line")
	registerSwitch(registry, "comm wl-wake", "comm wl_wake", "the WLAN wake line")
}

// registerSwitch adds "<path> on|off|status". Status replies are key/value lines.
func registerSwitch(registry *Registry, path, wire, subject string) {
	for _, state := range RailStates {
		kind := model.KindAck
		if state == "status" {
			kind = model.KindInfo
		}
		registry.Register(&Spec{
			Path:        path + " " + state,
			Description: fmt.Sprintf("Switch or query %s", subject),
			Kind:        kind,
			Build:       fixed(wire + " " + state),
		})
	}
}

func parseGpioTarget(path, port, pin string) (*model.GpioTarget, error) {
	p := strings.ToLower(port)
	known := false
	for _, g := range GpioPorts {
		if p == g {
			known = true
			break
		}
	}
	if !known {
		return nil, invalid(path, port, "port must be one of %s", strings.Join(GpioPorts, ", "))
	}

	n, err := strconv.Atoi(pin)
	if err != nil || strings.HasPrefix(pin, "+") {
		return nil, invalid(path, pin, "pin must be a number")
	}
	if n < 0 || n > MaxGpioPin {
		return nil, invalid(path, pin, "pin must be 0-%d", MaxGpioPin)
	}
	return &model.GpioTarget{Port: p, Pin: n}, nil
}

// parseHexByte accepts "0x1f" or "1f" and renders the canonical "0x1f"
func parseHexByte(path, arg string) (string, error) {
	digits := strings.TrimPrefix(strings.ToLower(arg), "0x")
	n, err := strconv.ParseUint(digits, 16, 8)
	if err != nil || digits == "" {
		return "", invalid(path, arg, "expected a hex byte such as 0x1f")
	}
	return fmt.Sprintf("0x%02x", n), nil
}
