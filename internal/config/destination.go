package config

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Destination type tags.
const (
	TypeCraftbeerpi3 = "craftbeerpi3"
	TypeUbidots      = "ubidots"
	TypeGenericTCP   = "generic-tcp"
	TypeThingspeak   = "thingspeak"
	TypeMQTT         = "mqtt"
)

const fieldKeyPrefix = "field-"

// Destination is one configured forwarding target. Only Type is mandatory
// at load time; each sink checks the parameters it needs per attempt.
type Destination struct {
	Type      string
	IP        string
	Port      int
	Token     string
	SendAngle bool
	URL       string
	Topic     string
	QOS       int

	// reading field name -> numbered slot, from `field-<name> = N`
	Fields map[string]int
}

func (d *Destination) HasAddr() bool { return d.IP != "" && d.Port != 0 }

func (d *Destination) Addr() string {
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

func (d *Destination) String() string {
	switch {
	case d.URL != "":
		return d.Type + "@" + d.URL
	case d.IP != "" && d.Port != 0:
		return d.Type + "@" + d.Addr()
	case d.IP != "":
		return d.Type + "@" + d.IP
	}
	return d.Type
}

// FieldNames returns mapped reading fields sorted by slot.
func (d *Destination) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := d.Fields[names[i]], d.Fields[names[j]]
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
	return names
}

func ParseDestination(params map[string]interface{}) (Destination, error) {
	d := Destination{}
	var err error
	for key, value := range params {
		switch {
		case key == "type":
			d.Type, err = paramString(key, value)
		case key == "ip":
			d.IP, err = paramString(key, value)
		case key == "port":
			d.Port, err = paramInt(key, value)
			if err == nil && (d.Port < 0 || d.Port > 65535) {
				err = errors.NotValidf("port=%d", d.Port)
			}
		case key == "token":
			d.Token, err = paramString(key, value)
		case key == "send-angle":
			d.SendAngle, err = paramBool(key, value)
		case key == "url":
			d.URL, err = paramString(key, value)
		case key == "topic":
			d.Topic, err = paramString(key, value)
		case key == "qos":
			d.QOS, err = paramInt(key, value)
		case strings.HasPrefix(key, fieldKeyPrefix):
			var slot int
			slot, err = paramInt(key, value)
			if err == nil {
				if d.Fields == nil {
					d.Fields = make(map[string]int)
				}
				d.Fields[strings.TrimPrefix(key, fieldKeyPrefix)] = slot
			}
		default:
			// unknown keys are tolerated, like comments in JSON configs
		}
		if err != nil {
			return d, err
		}
	}
	if d.Type == "" {
		return d, errors.NotValidf("forwarder type")
	}
	return d, nil
}

func paramString(key string, v interface{}) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	}
	return "", errors.NotValidf("%s=%#v expected string", key, v)
}

func paramInt(key string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x == float64(int(x)) {
			return int(x), nil
		}
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err == nil {
			return n, nil
		}
	}
	return 0, errors.NotValidf("%s=%#v expected integer", key, v)
}

func paramBool(key string, v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err == nil {
			return b, nil
		}
	}
	return false, errors.NotValidf("%s=%s expected bool", key, fmt.Sprint(v))
}
