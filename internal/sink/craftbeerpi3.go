package sink

import (
	"context"
	"net/http"

	"github.com/juju/errors"
	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/forward"
	"github.com/temoto/hydrorelay/internal/reading"
)

// Craftbeerpi3 posts to hydrometer plugin API.
// Only HTTP 200 is success, any other status drops the reading.
type Craftbeerpi3 struct{ httpSink }

func NewCraftbeerpi3(opt Options) *Craftbeerpi3 {
	return &Craftbeerpi3{newHTTPSink(opt, config.TypeCraftbeerpi3)}
}

func (s *Craftbeerpi3) Attempt(ctx context.Context, r *reading.Reading, d *config.Destination, done forward.CompleteFunc) {
	if r.Type() == reading.TypeEManometer {
		s.log.Errorf("currently eManometer data cannot be forwarded to craftbeerpi3")
		done(forward.Error)
		return
	}
	if d.IP == "" && d.URL == "" {
		s.log.Errorf("config error: ip field missing for craftbeerpi3 forwarder")
		done(forward.Error)
		return
	}
	url := d.URL
	if url == "" {
		url = "http://" + d.IP + "/api/hydrometer/v1/data"
	}
	payload := Craftbeerpi3Payload(r, d.SendAngle)

	s.log.Infof("forwarding to craftbeerpi3 at %s", redactURL(url))
	go func() {
		status, body, err := s.postJSON(ctx, url, payload)
		switch {
		case errors.IsNotValid(err):
			s.log.Error(err)
			done(forward.Error)
		case err != nil:
			s.log.Error(err)
			done(forward.Buffer)
		case status == http.StatusOK:
			s.log.Infof("returned: %d %s", status, body)
			done(forward.Success)
		default:
			s.log.Errorf("returned: %d %s", status, body)
			done(forward.Error)
		}
	}()
}

// Craftbeerpi3Payload builds request body. Plugin has single `angle` slot,
// which receives gravity unless sendAngle.
func Craftbeerpi3Payload(r *reading.Reading, sendAngle bool) map[string]interface{} {
	payload := map[string]interface{}{"name": r.Name}
	angleSource := reading.FieldGravity
	if sendAngle {
		angleSource = reading.FieldAngle
	}
	copyField(payload, "angle", r, angleSource)
	copyField(payload, "temperature", r, reading.FieldTemperature)
	copyField(payload, "battery", r, reading.FieldBattery)
	return payload
}

func copyField(dst map[string]interface{}, key string, r *reading.Reading, field string) {
	if v, ok := r.Value(field); ok && v != nil {
		dst[key] = v
	}
}
