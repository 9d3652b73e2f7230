package influxdb

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/thermostat-core/internal/infrastructure/config"
)

// recordingWriteAPI captures points instead of sending them.
type recordingWriteAPI struct {
	api.WriteAPI

	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (r *recordingWriteAPI) WritePoint(p *write.Point) {
	r.mu.Lock()
	r.points = append(r.points, p)
	r.mu.Unlock()
}

func (r *recordingWriteAPI) Flush() {
	r.mu.Lock()
	r.flushes++
	r.mu.Unlock()
}

func tagsOf(p *write.Point) map[string]string {
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	return tags
}

func fieldsOf(p *write.Point) map[string]interface{} {
	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	return fields
}

func TestWriteStoreOperation(t *testing.T) {
	rec := &recordingWriteAPI{}
	c := newClient(rec, config.InfluxDBConfig{})

	c.WriteStoreOperation("claim_entry_key", "already_claimed", 1500*time.Microsecond)

	if len(rec.points) != 1 {
		t.Fatalf("points = %d, want 1", len(rec.points))
	}
	p := rec.points[0]
	if p.Name() != MeasurementStoreOperation {
		t.Errorf("Name() = %q", p.Name())
	}
	tags := tagsOf(p)
	if tags["operation"] != "claim_entry_key" || tags["outcome"] != "already_claimed" {
		t.Errorf("tags = %v", tags)
	}
	if got := fieldsOf(p)["duration_ms"]; got != 1.5 {
		t.Errorf("duration_ms = %v, want 1.5", got)
	}
}

func TestWriteAvailability(t *testing.T) {
	rec := &recordingWriteAPI{}
	c := newClient(rec, config.InfluxDBConfig{})
	seen := time.UnixMilli(1_700_000_000_000)

	c.WriteAvailability("02AA01AC", false, seen)

	p := rec.points[0]
	if p.Name() != MeasurementAvailability || tagsOf(p)["serial"] != "02AA01AC" {
		t.Errorf("point = %s %v", p.Name(), tagsOf(p))
	}
	fields := fieldsOf(p)
	if fields["online"] != false || fields["last_seen_ms"] != int64(1_700_000_000_000) {
		t.Errorf("fields = %v", fields)
	}
}

func TestWritePrune(t *testing.T) {
	rec := &recordingWriteAPI{}
	c := newClient(rec, config.InfluxDBConfig{})

	c.WritePrune(3, 1)

	fields := fieldsOf(rec.points[0])
	if fields["entry_keys"] != int64(3) || fields["invites"] != int64(1) {
		t.Errorf("fields = %v", fields)
	}
}

func TestClose_DropsLaterWrites(t *testing.T) {
	rec := &recordingWriteAPI{}
	c := newClient(rec, config.InfluxDBConfig{})

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if rec.flushes != 1 {
		t.Errorf("flushes on Close = %d, want 1", rec.flushes)
	}

	c.WriteStoreOperation("get_object", "ok", time.Millisecond)
	c.Flush()
	if len(rec.points) != 0 || rec.flushes != 1 {
		t.Errorf("after Close: points = %d flushes = %d", len(rec.points), rec.flushes)
	}
	if err := c.HealthCheck(t.Context()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c := newClient(&recordingWriteAPI{}, config.InfluxDBConfig{})

	var got []error
	c.SetOnError(func(err error) { got = append(got, err) })

	ch := make(chan error, 2)
	ch <- errors.New("bucket not found")
	ch <- errors.New("unauthorized")
	close(ch)
	c.handleWriteErrors(ch)

	if len(got) != 2 {
		t.Errorf("callback calls = %d, want 2", len(got))
	}
}
