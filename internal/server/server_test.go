package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakeel/migrec/internal/manager"
	"github.com/datakeel/migrec/internal/revision"
	"github.com/datakeel/migrec/internal/runner"
	"github.com/datakeel/migrec/internal/schemadiff"
)

type stubSource struct {
	defs []revision.Definition
	err  error
}

func (s *stubSource) Definitions(ctx context.Context) ([]revision.Definition, error) {
	return s.defs, s.err
}

type stubPositions struct{ pos []string }

func (p *stubPositions) Positions(ctx context.Context) ([]string, error) {
	return p.pos, nil
}

type stubSchema struct{ d schemadiff.Description }

func (s *stubSchema) DeclaredSchema(ctx context.Context) (schemadiff.Description, error) {
	return s.d, nil
}

func (s *stubSchema) ActualSchema(ctx context.Context) (schemadiff.Description, error) {
	return s.d, nil
}

// noRunner panics on any call: the inspection API must never reach a runner.
type noRunner struct{}

func (noRunner) Apply(context.Context, []*revision.Record) (*runner.Report, error) {
	panic("read-only API called the runner")
}
func (noRunner) Rollback(context.Context, []*revision.Record) (*runner.Report, error) {
	panic("read-only API called the runner")
}
func (noRunner) DropAll(context.Context) error { panic("read-only API called the runner") }
func (noRunner) Materialize(context.Context, string, string) (*revision.Record, error) {
	panic("read-only API called the runner")
}

func manifest(id, parent string) revision.Definition {
	data := "id: " + id + "\n"
	if parent != "" {
		data += "parent: " + parent + "\n"
	}
	return revision.Definition{Ref: id + ".yaml", Data: []byte(data)}
}

func newTestServer(t *testing.T, src revision.Source, pos []string) *httptest.Server {
	t.Helper()

	empty := schemadiff.Description{Tables: map[string]schemadiff.Table{}}
	mgr := manager.New(&manager.Config{
		Source:    src,
		Positions: &stubPositions{pos: pos},
		Runner:    noRunner{},
		Declared:  &stubSchema{d: empty},
		Actual:    &stubSchema{d: empty},
	})

	srv := New(":0", mgr, src, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &stubSource{}, nil)

	var body map[string]string
	code := getJSON(t, ts.URL+"/healthz", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	src := &stubSource{defs: []revision.Definition{
		manifest("r1", ""), manifest("r2", "r1"), manifest("r3", "r2"),
	}}
	ts := newTestServer(t, src, []string{"r2"})

	var body struct {
		Applied  []string `json:"applied"`
		Pending  []string `json:"pending"`
		Orphaned []string `json:"orphaned"`
	}
	code := getJSON(t, ts.URL+"/api/status", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"r1", "r2"}, body.Applied)
	assert.Equal(t, []string{"r3"}, body.Pending)
	assert.Empty(t, body.Orphaned)
}

func TestVerifyEndpoint(t *testing.T) {
	src := &stubSource{defs: []revision.Definition{
		manifest("r1", ""), manifest("r2", "r1"),
	}}
	ts := newTestServer(t, src, []string{"ghost"})

	var body struct {
		Clean          bool     `json:"clean"`
		IntegrityValid bool     `json:"integrity_valid"`
		Orphaned       []string `json:"orphaned"`
	}
	code := getJSON(t, ts.URL+"/api/verify", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.False(t, body.Clean, "orphaned position must surface")
	assert.True(t, body.IntegrityValid)
	assert.Equal(t, []string{"ghost"}, body.Orphaned)
}

func TestRevisionsEndpoint(t *testing.T) {
	src := &stubSource{defs: []revision.Definition{
		manifest("r1", ""), manifest("r2", "r1"),
		{Ref: "junk.yaml", Data: []byte(": {{{")},
	}}
	ts := newTestServer(t, src, nil)

	var body struct {
		Count     int `json:"count"`
		Revisions []struct {
			ID     string `json:"id"`
			Parent string `json:"parent"`
		} `json:"revisions"`
		LoadWarnings []string `json:"load_warnings"`
	}
	code := getJSON(t, ts.URL+"/api/revisions", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Revisions, 2)
	assert.Equal(t, "r1", body.Revisions[0].ID)
	assert.Equal(t, "r2", body.Revisions[1].ID)
	assert.Equal(t, "r1", body.Revisions[1].Parent)
	require.Len(t, body.LoadWarnings, 1)
	assert.Contains(t, body.LoadWarnings[0], "junk.yaml")
}

func TestSourceFailureIs500(t *testing.T) {
	ts := newTestServer(t, &stubSource{err: assert.AnError}, nil)

	var body map[string]string
	code := getJSON(t, ts.URL+"/api/status", &body)

	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotEmpty(t, body["error"])
}
