// Package reading holds one decoded telemetry sample from a hydrometer or
// similar networked sensor.
package reading

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/juju/errors"
)

// Well known field names of the inbound payload.
const (
	FieldID          = "ID"
	FieldName        = "name"
	FieldType        = "type"
	FieldTimestamp   = "timestamp"
	FieldAngle       = "angle"
	FieldGravity     = "gravity"
	FieldTemperature = "temperature"
	FieldBattery     = "battery"
	FieldRSSI        = "RSSI"
	FieldInterval    = "interval"
	FieldPressure    = "pressure"
	FieldCO2         = "co2"
	FieldToken       = "token"
)

// TypeEManometer is reported by pressure gauges sharing the hydrometer firmware.
const TypeEManometer = "eManometer"

// Reading is immutable after Decode and shared by all destinations of a device.
type Reading struct {
	ID        string
	Name      string
	Timestamp time.Time

	fields       map[string]interface{}
	timestampErr error
}

// maxMillis keeps time.Unix nanoseconds in int64.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

func parseMillis(v interface{}) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, errors.NotValidf("timestamp=%v", v)
	}
	if ms, err := n.Int64(); err == nil {
		if ms < 0 || ms > maxMillis {
			return 0, errors.NotValidf("timestamp=%s out of range", n)
		}
		return ms, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, errors.NewNotValid(err, "timestamp")
	}
	if f < 0 || f > float64(maxMillis) {
		return 0, errors.NotValidf("timestamp=%s out of range", n)
	}
	return int64(f), nil
}

// Decode parses one inbound message. Missing or invalid `timestamp` defaults to now.
func Decode(b []byte, now time.Time) (*Reading, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, errors.NotValidf("empty message")
	}
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	fields := make(map[string]interface{})
	if err := d.Decode(&fields); err != nil {
		return nil, errors.NewNotValid(err, "invalid JSON data")
	}

	r := &Reading{fields: fields}
	id, ok := fields[FieldID]
	if !ok || id == nil {
		return nil, errors.NotValidf("invalid json data (missing id)")
	}
	r.ID = scalarString(id)
	name, ok := fields[FieldName].(string)
	if !ok || name == "" {
		return nil, errors.NotValidf("invalid json data (missing name)")
	}
	r.Name = name

	if ts, ok := fields[FieldTimestamp]; ok && ts != nil {
		ms, err := parseMillis(ts)
		if err == nil {
			r.Timestamp = time.Unix(0, ms*int64(time.Millisecond))
			return r, nil
		}
		r.timestampErr = err
	}
	r.Timestamp = now
	fields[FieldTimestamp] = json.Number(strconv.FormatInt(TimeMillis(now), 10))
	return r, nil
}

// TimestampError is non-nil when received timestamp was unusable
// and receipt time was used instead.
func (r *Reading) TimestampError() error { return r.timestampErr }

// Number returns numeric field value.
func (r *Reading) Number(name string) (float64, bool) {
	switch v := r.fields[name].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func (r *Reading) Text(name string) (string, bool) {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return "", false
	}
	return scalarString(v), true
}

// Value returns raw field as decoded, numbers are json.Number.
func (r *Reading) Value(name string) (interface{}, bool) {
	v, ok := r.fields[name]
	return v, ok
}

func (r *Reading) Type() string {
	s, _ := r.fields[FieldType].(string)
	return s
}

// Millis is the timestamp in epoch milliseconds.
func (r *Reading) Millis() int64 { return TimeMillis(r.Timestamp) }

// MarshalJSON writes all received fields, including the defaulted timestamp.
func (r *Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.fields)
}

func (r *Reading) GoString() string {
	return fmt.Sprintf("reading(id=%s name=%s ts=%d fields=%d)", r.ID, r.Name, r.Millis(), len(r.fields))
}

func TimeMillis(t time.Time) int64 { return t.UnixNano() / int64(time.Millisecond) }

func scalarString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
