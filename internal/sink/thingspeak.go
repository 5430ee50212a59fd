package sink

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/temoto/hydrorelay/internal/config"
	"github.com/temoto/hydrorelay/internal/forward"
	"github.com/temoto/hydrorelay/internal/reading"
)

const (
	DefaultThingspeakURL = "https://api.thingspeak.com/update"
	ThingspeakFieldMin   = 1
	ThingspeakFieldMax   = 8
)

// Thingspeak sends channel update as query string.
// Channel has 8 numbered fields, destination maps reading field names to them.
type Thingspeak struct{ httpSink }

func NewThingspeak(opt Options) *Thingspeak {
	return &Thingspeak{newHTTPSink(opt, config.TypeThingspeak)}
}

func (s *Thingspeak) Attempt(ctx context.Context, r *reading.Reading, d *config.Destination, done forward.CompleteFunc) {
	if d.Token == "" {
		s.log.Errorf("config error: missing token field")
		done(forward.Error)
		return
	}
	q := ThingspeakQuery(r, d)
	if len(q) == 0 {
		s.log.Errorf("no fields mapped for device=%s", r.Name)
		done(forward.Error)
		return
	}
	q.Set("api_key", d.Token)
	q.Set("created_at", r.Timestamp.UTC().Format(time.RFC3339))
	base := d.URL
	if base == "" {
		base = DefaultThingspeakURL
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+sep+q.Encode(), nil)
	if err != nil {
		s.log.Errorf("config error: url=%s", redactURL(base))
		done(forward.Error)
		return
	}

	s.log.Infof("forwarding to thingspeak device=%s", r.Name)
	go func() {
		status, body, err := s.do(req)
		switch {
		case err != nil:
			s.log.Error(err)
			done(forward.Buffer)
		case statusOK(status) && strings.TrimSpace(string(body)) == "0":
			// update rejected, most often rate limit
			s.log.Errorf("update not accepted, will retry")
			done(forward.Buffer)
		case statusOK(status):
			s.log.Infof("returned: %d entry=%s", status, body)
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

// ThingspeakQuery maps reading fields to `fieldN` parameters.
// Slots outside 1..8 and fields absent in reading are omitted.
func ThingspeakQuery(r *reading.Reading, d *config.Destination) url.Values {
	q := url.Values{}
	for _, name := range d.FieldNames() {
		slot := d.Fields[name]
		if slot < ThingspeakFieldMin || slot > ThingspeakFieldMax {
			continue
		}
		v, ok := r.Text(name)
		if !ok {
			continue
		}
		q.Set("field"+strconv.Itoa(slot), v)
	}
	return q
}
