package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/Sternrassler/crm-export/internal/testutil"
	"github.com/Sternrassler/crm-export/pkg/client"
	"github.com/Sternrassler/crm-export/pkg/record"
)

// fakeGetter serves canned page bodies in order and records each query.
type fakeGetter struct {
	pages   []string
	err     error
	errAt   int
	queries []url.Values
}

func (f *fakeGetter) GetJSON(_ context.Context, _ string, query url.Values, out any) error {
	f.queries = append(f.queries, query)
	n := len(f.queries)
	if f.err != nil && n == f.errAt {
		return f.err
	}
	body := f.pages[len(f.pages)-1]
	if n <= len(f.pages) {
		body = f.pages[n-1]
	}
	return json.Unmarshal([]byte(body), out)
}

func newMockClient(t *testing.T, mock *testutil.MockCRM) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig("pat-test")
	cfg.BaseURL = mock.URL()
	cfg.Retry.MaxRetries = 0
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return c
}

func TestRecords_ThreePages(t *testing.T) {
	mock := testutil.NewMockCRM()
	defer mock.Close()
	mock.SetObject("contacts", testutil.Contacts(247))

	p := New(newMockClient(t, mock), DefaultConfig())
	recs, err := Collect(p.Records(context.Background(), "crm/v3/objects/contacts", url.Values{"archived": {"false"}}))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(recs) != 247 {
		t.Fatalf("len(records) = %d, want 247", len(recs))
	}
	for i, rec := range recs {
		if got, want := record.ID(rec), fmt.Sprint(i+1); got != want {
			t.Fatalf("record %d id = %q, want %q", i, got, want)
		}
	}

	requests := mock.RequestsFor("/crm/v3/objects/contacts")
	if len(requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(requests))
	}
	wantAfter := []string{"", "page-100", "page-200"}
	for i, req := range requests {
		q := url.Values(req.Query)
		if q.Get("limit") != "100" {
			t.Errorf("request %d limit = %q, want 100", i, q.Get("limit"))
		}
		if q.Get("archived") != "false" {
			t.Errorf("request %d archived = %q, want false", i, q.Get("archived"))
		}
		if q.Get("after") != wantAfter[i] {
			t.Errorf("request %d after = %q, want %q", i, q.Get("after"), wantAfter[i])
		}
	}

	if stats := p.Stats(); stats.Pages != 3 || stats.Records != 247 {
		t.Errorf("Stats() = %+v, want 3 pages and 247 records", stats)
	}
}

func TestRecords_CursorPassedVerbatim(t *testing.T) {
	cursor := "MjAyNC0wMS0wMVQwMDowMDowMC4wMDBa+/=="
	getter := &fakeGetter{pages: []string{
		`{"results":[{"id":"1"}],"paging":{"next":{"after":"` + cursor + `"}}}`,
		`{"results":[{"id":"2"}]}`,
	}}

	recs, err := Collect(New(getter, DefaultConfig()).Records(context.Background(), "crm/v3/objects/deals", nil))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(recs))
	}
	if got := getter.queries[1].Get("after"); got != cursor {
		t.Errorf("after = %q, want %q", got, cursor)
	}
	if _, ok := getter.queries[0]["after"]; ok {
		t.Error("first request must not carry an after cursor")
	}
}

func TestRecords_EmptyCollection(t *testing.T) {
	getter := &fakeGetter{pages: []string{`{"results":[]}`}}

	recs, err := Collect(New(getter, DefaultConfig()).Records(context.Background(), "crm/v3/objects/fees", nil))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("len(records) = %d, want 0", len(recs))
	}
	if len(getter.queries) != 1 {
		t.Errorf("requests = %d, want 1", len(getter.queries))
	}
}

func TestRecords_PageLimit(t *testing.T) {
	pages := make([]string, 5)
	for i := range pages {
		pages[i] = fmt.Sprintf(`{"results":[{"id":"%d"}],"paging":{"next":{"after":"c%d"}}}`, i, i)
	}
	getter := &fakeGetter{pages: pages}

	_, err := Collect(New(getter, Config{PageSize: 1, MaxPages: 3}).Records(context.Background(), "crm/v3/objects/notes", nil))

	var limitErr *PageLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("error = %v, want PageLimitError", err)
	}
	if limitErr.MaxPages != 3 || limitErr.Endpoint != "crm/v3/objects/notes" {
		t.Errorf("PageLimitError = %+v", limitErr)
	}
	if len(getter.queries) != 3 {
		t.Errorf("requests = %d, want 3", len(getter.queries))
	}
}

func TestRecords_CursorLoop(t *testing.T) {
	getter := &fakeGetter{pages: []string{
		`{"results":[{"id":"1"}],"paging":{"next":{"after":"same"}}}`,
	}}

	_, err := Collect(New(getter, DefaultConfig()).Records(context.Background(), "crm/v3/objects/tasks", nil))

	var loopErr *CursorLoopError
	if !errors.As(err, &loopErr) {
		t.Fatalf("error = %v, want CursorLoopError", err)
	}
	if loopErr.Cursor != "same" || loopErr.Page != 2 {
		t.Errorf("CursorLoopError = %+v, want cursor same at page 2", loopErr)
	}
}

func TestRecords_HTTPErrorPropagates(t *testing.T) {
	mock := testutil.NewMockCRM()
	defer mock.Close()
	mock.SetResponse("/crm/v3/objects/quotes", testutil.NewErrorResponse(http.StatusForbidden, "MISSING_SCOPES", "missing scopes"))

	_, err := Collect(New(newMockClient(t, mock), DefaultConfig()).Records(context.Background(), "crm/v3/objects/quotes", nil))

	var httpErr *client.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *client.HTTPError", err)
	}
	if !httpErr.PermissionDenied() {
		t.Errorf("StatusCode = %d, want permission denied", httpErr.StatusCode)
	}
}

func TestRecords_ErrorOnLaterPage(t *testing.T) {
	boom := errors.New("boom")
	getter := &fakeGetter{
		pages: []string{`{"results":[{"id":"1"},{"id":"2"}],"paging":{"next":{"after":"x"}}}`},
		err:   boom,
		errAt: 2,
	}

	var got []string
	var gotErr error
	for rec, err := range New(getter, DefaultConfig()).Records(context.Background(), "crm/v3/objects/calls", nil) {
		if err != nil {
			gotErr = err
			break
		}
		got = append(got, record.ID(rec))
	}

	if len(got) != 2 {
		t.Errorf("records before error = %v, want 2", got)
	}
	if !errors.Is(gotErr, boom) {
		t.Errorf("error = %v, want wrapped boom", gotErr)
	}
}

func TestRecords_EarlyBreakStopsFetching(t *testing.T) {
	getter := &fakeGetter{pages: []string{
		`{"results":[{"id":"1"},{"id":"2"}],"paging":{"next":{"after":"a"}}}`,
		`{"results":[{"id":"3"}]}`,
	}}

	for _, err := range New(getter, DefaultConfig()).Records(context.Background(), "crm/v3/objects/emails", nil) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		break
	}

	if len(getter.queries) != 1 {
		t.Errorf("requests = %d, want 1", len(getter.queries))
	}
}

func TestRecords_Timeout(t *testing.T) {
	mock := testutil.NewMockCRM()
	defer mock.Close()
	mock.SetResponse("/crm/v3/objects/meetings", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"results":[]}`,
		Delay:      2 * time.Second,
	})

	cfg := client.DefaultConfig("pat-test")
	cfg.BaseURL = mock.URL()
	cfg.Timeout = 100 * time.Millisecond
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	start := time.Now()
	_, err = Collect(New(c, DefaultConfig()).Records(context.Background(), "crm/v3/objects/meetings", nil))

	var timeoutErr *client.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error = %v, want *client.TimeoutError", err)
	}
	if timeoutErr.Endpoint != "crm/v3/objects/meetings" {
		t.Errorf("Endpoint = %q", timeoutErr.Endpoint)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("took %v, want prompt timeout", elapsed)
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(&fakeGetter{}, Config{})
	if p.config.PageSize != 100 {
		t.Errorf("PageSize = %d, want 100", p.config.PageSize)
	}
}
