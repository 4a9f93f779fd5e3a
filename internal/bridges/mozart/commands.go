package mozart

import "fmt"

// Command kinds accepted by LeaderCommand and the MQTT command surface.
const (
	CommandSetVolumeLevel         = "set_volume_level"
	CommandSetRelativeVolumeLevel = "set_relative_volume_level"
	CommandMediaSeek              = "media_seek"
	CommandMuteVolume             = "mute_volume"
	CommandSelectSource           = "select_source"
	CommandVolumeUp               = "volume_up"
	CommandVolumeDown             = "volume_down"
	CommandMediaPlayPause         = "media_play_pause"
	CommandMediaPause             = "media_pause"
	CommandMediaPlay              = "media_play"
	CommandMediaStop              = "media_stop"
	CommandMediaNextTrack         = "media_next_track"
	CommandMediaPreviousTrack     = "media_previous_track"
)

// paramType describes what parameter a command kind requires.
type paramType int

const (
	paramNone paramType = iota
	paramFloat
	paramBool
	paramString
)

// commandParams maps every known command kind to its parameter type.
var commandParams = map[string]paramType{
	CommandSetVolumeLevel:         paramFloat,
	CommandSetRelativeVolumeLevel: paramFloat,
	CommandMediaSeek:              paramFloat,
	CommandMuteVolume:             paramBool,
	CommandSelectSource:           paramString,
	CommandVolumeUp:               paramNone,
	CommandVolumeDown:             paramNone,
	CommandMediaPlayPause:         paramNone,
	CommandMediaPause:             paramNone,
	CommandMediaPlay:              paramNone,
	CommandMediaStop:              paramNone,
	CommandMediaNextTrack:         paramNone,
	CommandMediaPreviousTrack:     paramNone,
}

// Command is a validated leader-targeted command.
type Command struct {
	Kind string

	// Exactly one of these is meaningful, selected by the kind's
	// parameter type.
	Float  float64
	Bool   bool
	String string
}

// ParseCommand validates a command kind and its parameter.
//
// The param value typically comes from decoded JSON, so numbers arrive
// as float64. Validation failures return ErrInvalidParameter:
//   - unknown kind
//   - missing parameter for a kind that requires one
//   - parameter of the wrong type
//   - set_volume_level outside 0.0-1.0
//   - select_source naming an unknown source
func ParseCommand(kind string, param any) (Command, error) {
	pt, ok := commandParams[kind]
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrInvalidParameter, kind)
	}

	cmd := Command{Kind: kind}

	switch pt {
	case paramNone:
		if param != nil {
			return Command{}, fmt.Errorf("%w: %s takes no parameter", ErrInvalidParameter, kind)
		}

	case paramFloat:
		f, ok := toFloat(param)
		if !ok {
			return Command{}, fmt.Errorf("%w: %s requires a numeric parameter", ErrInvalidParameter, kind)
		}
		if kind == CommandSetVolumeLevel && (f < 0.0 || f > 1.0) {
			return Command{}, fmt.Errorf("%w: volume level %v outside 0.0-1.0", ErrInvalidParameter, f)
		}
		cmd.Float = f

	case paramBool:
		b, ok := param.(bool)
		if !ok {
			return Command{}, fmt.Errorf("%w: %s requires a boolean parameter", ErrInvalidParameter, kind)
		}
		cmd.Bool = b

	case paramString:
		s, ok := param.(string)
		if !ok || s == "" {
			return Command{}, fmt.Errorf("%w: %s requires a source id", ErrInvalidParameter, kind)
		}
		if kind == CommandSelectSource && !IsKnownSource(s) {
			return Command{}, fmt.Errorf("%w: unknown source %q", ErrInvalidParameter, s)
		}
		cmd.String = s
	}

	return cmd, nil
}

// toFloat accepts the numeric shapes JSON decoding and direct callers
// produce.
func toFloat(param any) (float64, bool) {
	switch v := param.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
