package reading

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
)

// Canonical field names.
const (
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldThreshold   = "threshold"
	FieldFlameLocal  = "flameLocal"
	FieldFlameRemote = "flameRemote"
	FieldAlarmActive = "alarmActive"
)

// AliasTable maps a canonical field to the wire keys that may carry it, in
// probe order: the first present, non-null key wins. Node firmware renames
// keys release to release; this table is the single place that drift is
// absorbed.
type AliasTable map[string][]string

// DefaultAliases covers every wire schema observed so far, including the
// French field names older firmware releases publish.
func DefaultAliases() AliasTable {
	return AliasTable{
		FieldTemperature: {"temperature", "temp", "T"},
		FieldHumidity:    {"humidity", "humidite", "hum", "H"},
		FieldThreshold:   {"seuil", "seuilPot", "tempSeuil", "threshold", "setpoint", "pot"},
		FieldFlameLocal:  {"flame", "ir", "fire"},
		FieldFlameRemote: {"flameRemote", "flame2", "irRemote"},
		FieldAlarmActive: {"alarm", "alarme", "alarmActive", "tempAlarm", "flameAlarm"},
	}
}

// Normalizer turns arbitrary wire payloads into canonical Readings.
// Undecodable payloads are dropped and counted, never propagated as a
// failure of the ingest path.
type Normalizer struct {
	aliases AliasTable
	logger  zerolog.Logger
	dropped atomic.Uint64
}

// NewNormalizer creates a Normalizer. A nil alias table means
// DefaultAliases.
func NewNormalizer(aliases AliasTable, logger zerolog.Logger) *Normalizer {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	return &Normalizer{
		aliases: aliases,
		logger:  logger.With().Str("component", "Normalizer").Logger(),
	}
}

// Normalize decodes payload as a JSON object and resolves each canonical
// field through its alias list. A payload that is not a JSON object is
// dropped: the drop counter is bumped and an error returned so the caller
// can log it, nothing more. Unrecognized keys are ignored; an unparseable
// value yields a nil field, not an error.
func (n *Normalizer) Normalize(payload []byte) (*Reading, error) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		n.dropped.Add(1)
		n.logger.Debug().Err(err).Msg("Dropping undecodable payload")
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	// a literal JSON null unmarshals into a nil map without an error
	if obj == nil {
		n.dropped.Add(1)
		n.logger.Debug().Msg("Dropping null payload")
		return nil, errors.New("decode payload: null is not an object")
	}

	r := &Reading{
		Temperature: floatField(obj, n.aliases[FieldTemperature]),
		Humidity:    floatField(obj, n.aliases[FieldHumidity]),
		Threshold:   floatField(obj, n.aliases[FieldThreshold]),
		FlameLocal:  boolField(obj, n.aliases[FieldFlameLocal]),
		FlameRemote: boolField(obj, n.aliases[FieldFlameRemote]),
		AlarmActive: boolField(obj, n.aliases[FieldAlarmActive]),
		ReceivedAt:  time.Now(),
		Raw:         obj,
	}
	return r, nil
}

// Dropped returns how many payloads have been dropped as undecodable.
func (n *Normalizer) Dropped() uint64 {
	return n.dropped.Load()
}

// resolve probes the alias list in order and returns the first present,
// non-null value.
func resolve(obj map[string]any, aliases []string) (any, bool) {
	for _, key := range aliases {
		if v, ok := obj[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func floatField(obj map[string]any, aliases []string) *float64 {
	v, ok := resolve(obj, aliases)
	if !ok {
		return nil
	}
	var f float64
	if err := weakDecode(v, &f); err != nil {
		return nil
	}
	return &f
}

func boolField(obj map[string]any, aliases []string) *bool {
	v, ok := resolve(obj, aliases)
	if !ok {
		return nil
	}
	var b bool
	if err := weakDecode(v, &b); err != nil {
		return nil
	}
	return &b
}

// weakDecode coerces loosely-typed wire values (numbers as strings, 0/1
// flame flags) into the expected Go type.
func weakDecode(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
