package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/membership-service/internal/config"
	"github.com/learnhub/membership-service/internal/db/models"
)

func sampleEntry(action string) *LogEntry {
	return &LogEntry{
		Timestamp:    time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Action:       action,
		ActorID:      "owner-1",
		TenantID:     "T1",
		ResourceType: "membership",
		ResourceID:   "m-1",
		StatusCode:   201,
	}
}

// ---------------------------------------------------------------------------
// MultiShipper
// ---------------------------------------------------------------------------

func TestNewMultiShipper_Configs(t *testing.T) {
	ctx := context.Background()

	ms, err := NewMultiShipper(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, ms.Len())
	assert.NoError(t, ms.Ship(ctx, sampleEntry("member.add")))

	ms, err = NewMultiShipper(ctx, []config.AuditShipperConfig{{Enabled: false, Type: "webhook"}})
	require.NoError(t, err)
	assert.Equal(t, 0, ms.Len(), "disabled shipper must be skipped")

	for _, cfg := range []config.AuditShipperConfig{
		{Enabled: true, Type: "syslog"},
		{Enabled: true, Type: "webhook"},
		{Enabled: true, Type: "file"},
		{Enabled: true, Type: "s3"},
		{Enabled: true, Type: "webhook", Webhook: &config.AuditWebhookConfig{}},
	} {
		_, err := NewMultiShipper(ctx, []config.AuditShipperConfig{cfg})
		assert.Error(t, err, "type %s", cfg.Type)
	}
}

type failingShipper struct{ closed bool }

func (f *failingShipper) Ship(context.Context, *LogEntry) error { return errors.New("down") }
func (f *failingShipper) Close() error                          { f.closed = true; return nil }

type countingShipper struct {
	mu      sync.Mutex
	entries []*LogEntry
}

func (c *countingShipper) Ship(_ context.Context, e *LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}
func (c *countingShipper) Close() error { return nil }

func TestMultiShipper_ContinuesAfterFailure(t *testing.T) {
	bad := &failingShipper{}
	good := &countingShipper{}
	ms := &MultiShipper{shippers: []Shipper{bad, good}}

	err := ms.Ship(context.Background(), sampleEntry("member.add"))
	assert.Error(t, err)
	assert.Len(t, good.entries, 1)

	require.NoError(t, ms.Close())
	assert.True(t, bad.closed)
}

// ---------------------------------------------------------------------------
// WebhookShipper
// ---------------------------------------------------------------------------

func TestWebhookShipper_PostsJSON(t *testing.T) {
	var got LogEntry
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Audit-Token")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ws, err := NewWebhookShipper(&config.AuditWebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Audit-Token": "s3cret"},
	})
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.Ship(context.Background(), sampleEntry("member.change_email")))
	assert.Equal(t, "member.change_email", got.Action)
	assert.Equal(t, "T1", got.TenantID)
	assert.Equal(t, "s3cret", token)
}

func TestWebhookShipper_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ws, err := NewWebhookShipper(&config.AuditWebhookConfig{URL: srv.URL, TimeoutSecs: 1})
	require.NoError(t, err)

	err = ws.Ship(context.Background(), sampleEntry("member.add"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

func TestFileShipper_AppendsLines(t *testing.T) {
	p := filepath.Join(t.TempDir(), "audit.ndjson")
	fs, err := NewFileShipper(&config.AuditFileConfig{Path: p})
	require.NoError(t, err)

	require.NoError(t, fs.Ship(context.Background(), sampleEntry("member.add")))
	require.NoError(t, fs.Ship(context.Background(), sampleEntry("member.update")))
	require.NoError(t, fs.Close())

	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()

	var actions []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e LogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"member.add", "member.update"}, actions)
}

func TestNewFileShipper_InvalidPath(t *testing.T) {
	_, err := NewFileShipper(&config.AuditFileConfig{Path: filepath.Join(t.TempDir(), "missing", "audit.log")})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// S3Shipper
// ---------------------------------------------------------------------------

type fakePutter struct {
	mu     sync.Mutex
	keys   []string
	bodies []string
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, *in.Key)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func TestS3Shipper_FlushesAtBatchSize(t *testing.T) {
	putter := &fakePutter{}
	s := NewS3ShipperWithClient(putter, &config.AuditS3Config{Bucket: "audit", Prefix: "membership", BatchSize: 2})
	s.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, s.Ship(ctx, sampleEntry("member.add")))
	assert.Empty(t, putter.keys, "first entry must stay buffered")

	require.NoError(t, s.Ship(ctx, sampleEntry("member.update")))
	require.Len(t, putter.keys, 1)
	assert.True(t, strings.HasPrefix(putter.keys[0], "membership/2026/03/04/"), putter.keys[0])
	assert.True(t, strings.HasSuffix(putter.keys[0], ".ndjson"))
	assert.Equal(t, 2, strings.Count(putter.bodies[0], "\n"))
}

func TestS3Shipper_CloseFlushesRemainder(t *testing.T) {
	putter := &fakePutter{}
	s := NewS3ShipperWithClient(putter, &config.AuditS3Config{Bucket: "audit"})

	require.NoError(t, s.Ship(context.Background(), sampleEntry("member.add")))
	require.NoError(t, s.Close())
	assert.Len(t, putter.keys, 1)

	require.NoError(t, s.Close(), "closing with nothing buffered is a no-op")
	assert.Len(t, putter.keys, 1)
}

func TestS3Shipper_UploadError(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	s := NewS3ShipperWithClient(putter, &config.AuditS3Config{Bucket: "audit", BatchSize: 1})

	err := s.Ship(context.Background(), sampleEntry("member.add"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://audit/")
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

type memAuditStore struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (m *memAuditStore) CreateAuditLog(_ context.Context, l *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, l)
	return nil
}

func TestRecorder_PersistsAndShips(t *testing.T) {
	store := &memAuditStore{}
	shipper := &countingShipper{}
	r := NewRecorder(store, shipper)

	e := sampleEntry("member.add")
	e.IPAddress = ""
	r.Record(e)
	r.Wait()

	require.Len(t, store.logs, 1)
	l := store.logs[0]
	assert.Equal(t, "member.add", l.Action)
	require.NotNil(t, l.TenantID)
	assert.Equal(t, "T1", *l.TenantID)
	assert.Nil(t, l.IPAddress, "empty strings map to NULL")
	assert.Len(t, shipper.entries, 1)
}

func TestRecorder_StoreFailureStillShips(t *testing.T) {
	store := &memAuditStore{err: errors.New("db down")}
	shipper := &countingShipper{}
	r := NewRecorder(store, shipper)

	r.Record(sampleEntry("member.add"))
	r.Wait()
	assert.Len(t, shipper.entries, 1)
}

func TestRecorder_NilDependencies(t *testing.T) {
	r := NewRecorder(nil, nil)
	r.Record(sampleEntry("member.add"))
	r.Wait()
}
