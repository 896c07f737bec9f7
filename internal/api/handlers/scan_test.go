package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/portscout/internal/db"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/profiles"
	"github.com/anstrom/portscout/internal/profiles/mocks"
	"github.com/anstrom/portscout/internal/scanning"
)

type fakeScanner struct {
	summary *scanning.ScanSummary
	err     error

	got         *scanning.ScanRequest
	hadProgress bool
}

func (f *fakeScanner) factory(progress scanning.ProgressFunc) Scanner {
	f.hadProgress = progress != nil
	return f
}

func (f *fakeScanner) Run(_ context.Context, req *scanning.ScanRequest) (*scanning.ScanSummary, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

type fakeScanStore struct {
	id      uuid.UUID
	saveErr error
	saved   int

	record *db.ScanRecord
	getErr error

	items      []db.ScanListItem
	listTarget string
	listLimit  int
	listOffset int
}

func (f *fakeScanStore) Save(_ context.Context, _ *scanning.ScanSummary) (uuid.UUID, error) {
	f.saved++
	return f.id, f.saveErr
}

func (f *fakeScanStore) Get(_ context.Context, _ uuid.UUID) (*db.ScanRecord, error) {
	return f.record, f.getErr
}

func (f *fakeScanStore) List(_ context.Context, target string, limit, offset int) ([]db.ScanListItem, error) {
	f.listTarget, f.listLimit, f.listOffset = target, limit, offset
	return f.items, nil
}

func testSummary() *scanning.ScanSummary {
	banner := "SSH-2.0-OpenSSH_9.6"
	return scanning.BuildSummary("localhost", "127.0.0.1",
		[]scanning.PortResult{{Port: 22, Status: scanning.StatusOpen, Banner: &banner}},
		[]scanning.PortResult{{Port: 80, Status: scanning.StatusClosed}, {Port: 81, Status: scanning.StatusClosed}},
		[]scanning.PortResult{{Port: 443, Status: scanning.StatusFiltered}},
		1500*time.Millisecond)
}

func postScan(h *ScanHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.CreateScan(rec, req)
	return rec
}

func decodeScan(t *testing.T, rec *httptest.ResponseRecorder) ScanResponse {
	t.Helper()
	var resp ScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateScan(t *testing.T) {
	scanner := &fakeScanner{summary: testSummary()}
	store := &fakeScanStore{id: uuid.New()}
	hub := NewProgressHub(logging.NewDiscard())
	defer hub.Close()

	h := NewScanHandler(scanner.factory, store, nil, hub, profiles.DefaultDefaults(), logging.NewDiscard())
	rec := postScan(h, `{"target":"localhost","ports":"80-81,22,443","timeout_ms":250}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeScan(t, rec)
	require.NotNil(t, resp.ID)
	assert.Equal(t, store.id, *resp.ID)
	assert.Empty(t, resp.PersistError)
	assert.Equal(t, []string{"80-81"}, resp.ClosedRanges)
	assert.Equal(t, []string{"443"}, resp.FilteredRanges)
	assert.Equal(t, "127.0.0.1", resp.Summary.IP)
	require.Len(t, resp.Summary.Open, 1)
	assert.Equal(t, "SSH-2.0-OpenSSH_9.6", *resp.Summary.Open[0].Banner)

	require.NotNil(t, scanner.got)
	assert.True(t, scanner.hadProgress)
	assert.Equal(t, "localhost", scanner.got.Target)
	assert.ElementsMatch(t, []int{22, 80, 81, 443}, scanner.got.Ports)
	assert.Equal(t, 250*time.Millisecond, scanner.got.Timeout)
	assert.Equal(t, scanning.DefaultBannerTimeout, scanner.got.BannerTimeout)
	assert.Equal(t, scanning.DefaultConcurrency, scanner.got.Concurrency)
	assert.Equal(t, 1, store.saved)
}

func TestCreateScanWithCategory(t *testing.T) {
	scanner := &fakeScanner{summary: testSummary()}
	h := NewScanHandler(scanner.factory, nil, nil, nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := postScan(h, `{"target":"localhost","category":"web"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeScan(t, rec)
	assert.Nil(t, resp.ID)
	assert.False(t, scanner.hadProgress)

	want, err := scanning.SelectPorts("", "web")
	require.NoError(t, err)
	assert.Equal(t, want, scanner.got.Ports)
}

func TestCreateScanSkipsStoreWhenSaveDisabled(t *testing.T) {
	scanner := &fakeScanner{summary: testSummary()}
	store := &fakeScanStore{id: uuid.New()}
	h := NewScanHandler(scanner.factory, store, nil, nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := postScan(h, `{"target":"localhost","ports":"22","save":false}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Nil(t, decodeScan(t, rec).ID)
	assert.Zero(t, store.saved)
}

func TestCreateScanReportsPersistError(t *testing.T) {
	scanner := &fakeScanner{summary: testSummary()}
	store := &fakeScanStore{saveErr: errors.NewDatabaseError(errors.CodeDatabaseConnection, "connection refused")}
	h := NewScanHandler(scanner.factory, store, nil, nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := postScan(h, `{"target":"localhost","ports":"22"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeScan(t, rec)
	assert.Nil(t, resp.ID)
	assert.Contains(t, resp.PersistError, "connection refused")
	assert.NotNil(t, resp.Summary)
}

func TestCreateScanValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "no ports", body: `{"target":"localhost"}`, wantMsg: "no ports specified"},
		{name: "no target", body: `{"ports":"22"}`, wantMsg: "no target specified"},
		{name: "unknown category", body: `{"target":"localhost","category":"games"}`, wantMsg: "invalid scan request"},
		{name: "port out of range", body: `{"target":"localhost","ports":"70000"}`, wantMsg: "70000"},
		{name: "bad timeout", body: `{"target":"localhost","ports":"22","timeout_ms":-5}`, wantMsg: "invalid scan request"},
		{name: "unknown field", body: `{"target":"localhost","ports":"22","mode":"syn"}`, wantMsg: "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := &fakeScanner{summary: testSummary()}
			h := NewScanHandler(scanner.factory, nil, nil, nil, profiles.DefaultDefaults(), logging.NewDiscard())

			rec := postScan(h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeError(t, rec).Message, tt.wantMsg)
			assert.Nil(t, scanner.got)
		})
	}
}

func TestCreateScanResolutionFailure(t *testing.T) {
	scanner := &fakeScanner{err: errors.NewResolutionError("nowhere.invalid", fmt.Errorf("no such host"))}
	h := NewScanHandler(scanner.factory, nil, nil, nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := postScan(h, `{"target":"nowhere.invalid","ports":"22"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "RESOLUTION_FAILED", resp.Code)
	assert.Contains(t, resp.Message, "Could not resolve nowhere.invalid")
}

func TestCreateScanCanceled(t *testing.T) {
	scanner := &fakeScanner{err: errors.WrapScanError(errors.CodeCanceled, "scan canceled", context.Canceled)}
	h := NewScanHandler(scanner.factory, nil, nil, nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := postScan(h, `{"target":"localhost","ports":"22"}`)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestCreateScanFromProfile(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Load(gomock.Any(), "web").Return(&profiles.Profile{
		Name:        "web",
		Target:      "10.0.0.1",
		Ports:       []int{80, 443},
		Timeout:     time.Second,
		Concurrency: 50,
	}, nil)

	scanner := &fakeScanner{summary: testSummary()}
	h := NewScanHandler(scanner.factory, nil, profiles.NewManager(store), nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := postScan(h, `{"profile":"web","concurrency":5}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "10.0.0.1", scanner.got.Target)
	assert.Equal(t, []int{80, 443}, scanner.got.Ports)
	assert.Equal(t, time.Second, scanner.got.Timeout)
	assert.Equal(t, 5, scanner.got.Concurrency)
}

func TestCreateScanProfileOverrides(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Load(gomock.Any(), "web").Return(&profiles.Profile{
		Name: "web", Target: "10.0.0.1", Ports: []int{80, 443}, Timeout: time.Second, Concurrency: 50,
	}, nil)

	scanner := &fakeScanner{summary: testSummary()}
	h := NewScanHandler(scanner.factory, nil, profiles.NewManager(store), nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := postScan(h, `{"profile":"web","target":"10.0.0.2","ports":"8080"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "10.0.0.2", scanner.got.Target)
	assert.Equal(t, []int{8080}, scanner.got.Ports)
}

func TestCreateScanUnknownProfile(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Load(gomock.Any(), "missing").Return(nil, nil)

	scanner := &fakeScanner{summary: testSummary()}
	h := NewScanHandler(scanner.factory, nil, profiles.NewManager(store), nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := postScan(h, `{"profile":"missing"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Nil(t, scanner.got)
}

func TestCreateScanProfileWithoutManager(t *testing.T) {
	scanner := &fakeScanner{summary: testSummary()}
	h := NewScanHandler(scanner.factory, nil, nil, nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := postScan(h, `{"profile":"web"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "CONFIGURATION", decodeError(t, rec).Code)
}

func TestListScans(t *testing.T) {
	store := &fakeScanStore{items: []db.ScanListItem{{ID: uuid.New(), Target: "10.0.0.1", Open: 2}}}
	h := NewScanHandler(nil, store, nil, nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := httptest.NewRecorder()
	h.ListScans(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scans?target=10.0.0.1&page=2&page_size=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ScanListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, PaginationParams{Page: 2, PageSize: 10, Offset: 10}, resp.Pagination)
	assert.Equal(t, "10.0.0.1", store.listTarget)
	assert.Equal(t, 10, store.listLimit)
	assert.Equal(t, 10, store.listOffset)
}

func TestScanStorageNotConfigured(t *testing.T) {
	h := NewScanHandler(nil, nil, nil, nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := httptest.NewRecorder()
	h.ListScans(rec, httptest.NewRequest(http.MethodGet, "/api/v1/scans", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/v1/scans/x", nil), map[string]string{"id": uuid.NewString()})
	h.GetScan(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetScan(t *testing.T) {
	id := uuid.New()
	store := &fakeScanStore{record: &db.ScanRecord{ID: id, CreatedAt: time.Now(), Summary: testSummary()}}
	h := NewScanHandler(nil, store, nil, nil, profiles.DefaultDefaults(), logging.NewDiscard())

	rec := httptest.NewRecorder()
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/v1/scans/"+id.String(), nil), map[string]string{"id": id.String()})
	h.GetScan(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeScan(t, rec)
	require.NotNil(t, resp.ID)
	assert.Equal(t, id, *resp.ID)
	assert.Equal(t, []string{"80-81"}, resp.ClosedRanges)
}

func TestGetScanErrors(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		err    error
		status int
	}{
		{name: "invalid id", id: "not-a-uuid", status: http.StatusBadRequest},
		{name: "not found", id: uuid.NewString(), err: errors.NewDatabaseError(errors.CodeNotFound, "no rows"), status: http.StatusNotFound},
		{name: "query failure", id: uuid.NewString(), err: errors.NewDatabaseError(errors.CodeDatabaseQuery, "boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeScanStore{getErr: tt.err}
			h := NewScanHandler(nil, store, nil, nil, profiles.DefaultDefaults(), logging.NewDiscard())

			rec := httptest.NewRecorder()
			req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/v1/scans/"+tt.id, nil), map[string]string{"id": tt.id})
			h.GetScan(rec, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
