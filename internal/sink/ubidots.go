package sink

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/forward"
	"github.com/temoto/hydrorelay/internal/reading"
)

const DefaultUbidotsURL = "http://things.ubidots.com"

// Ubidots posts time-series values keyed by variable label.
// Destination token wins over the token sent by device.
// 2xx success, 4xx rejected (dropped), everything else retried.
type Ubidots struct{ httpSink }

func NewUbidots(opt Options) *Ubidots {
	return &Ubidots{newHTTPSink(opt, config.TypeUbidots)}
}

var ubidotsVariables = []struct{ label, field string }{
	{"tilt", reading.FieldAngle},
	{"temperature", reading.FieldTemperature},
	{"battery", reading.FieldBattery},
	{"gravity", reading.FieldGravity},
	{"interval", reading.FieldInterval},
	{"rssi", reading.FieldRSSI},
	{"pressure", reading.FieldPressure},
	{"co2", reading.FieldCO2},
}

type ubidotsValue struct {
	Value     interface{} `json:"value"`
	Timestamp int64       `json:"timestamp"`
}

func (s *Ubidots) Attempt(ctx context.Context, r *reading.Reading, d *config.Destination, done forward.CompleteFunc) {
	token := d.Token
	if token == "" {
		token, _ = r.Text(reading.FieldToken)
	}
	if token == "" {
		s.log.Errorf("don't have any ubidots token")
		done(forward.Error)
		return
	}
	base := d.URL
	if base == "" {
		base = DefaultUbidotsURL
	}
	u := strings.TrimRight(base, "/") + "/api/v1.6/devices/" + url.PathEscape(r.Name) + "?token=" + url.QueryEscape(token)
	payload := UbidotsPayload(r)

	s.log.Infof("forwarding to ubidots device=%s", r.Name)
	go func() {
		status, body, err := s.postJSON(ctx, u, payload)
		switch {
		case errors.IsNotValid(err):
			s.log.Error(err)
			done(forward.Error)
		case err != nil:
			s.log.Error(err)
			done(forward.Buffer)
		case statusOK(status):
			s.log.Infof("returned: %d", status)
			done(forward.Success)
		case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
			s.log.Errorf("rejected: %d %s", status, body)
			done(forward.Error)
		default:
			s.log.Errorf("returned: %d %s", status, body)
			done(forward.Buffer)
		}
	}()
}

func UbidotsPayload(r *reading.Reading) map[string]ubidotsValue {
	ts := r.Millis()
	payload := make(map[string]ubidotsValue, len(ubidotsVariables))
	for _, v := range ubidotsVariables {
		if value, ok := r.Value(v.field); ok && value != nil {
			payload[v.label] = ubidotsValue{Value: value, Timestamp: ts}
		}
	}
	return payload
}
