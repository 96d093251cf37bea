package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bmall_mirror/timeutil"
)

const searchPayload = `{
	"code": 0,
	"data": {
		"data": [
			{
				"c2cItemsId": 10001,
				"type": 1,
				"c2cItemsName": "TAITO 初音ミク フィギュア",
				"totalItemsCount": 1,
				"price": "12500",
				"showPrice": "125",
				"showMarketPrice": "180",
				"uid": "seller-1",
				"uname": "figure shop",
				"uface": "https://example.test/a.png",
				"uspaceJumpUrl": "https://example.test/u/1",
				"paymentTime": 1700000000,
				"isMyPublish": false,
				"detailDtoList": [
					{"skuId": 501, "itemsId": 9001, "name": "初音ミク", "img": "https://example.test/i.png", "marketPrice": "18000", "type": 1}
				]
			}
		],
		"nextId": "cursor-2"
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	pacer := NewPacer(0, 0, timeutil.System{})
	return NewClient(srv.Client(), srv.URL+"/search", srv.URL+"/detail", "2312", "test-cookie", pacer)
}

func TestSearchPageDecodesFeed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Cookie") != "test-cookie" {
			t.Errorf("cookie header missing, got %q", r.Header.Get("Cookie"))
		}
		w.Write([]byte(searchPayload))
	})

	page, err := client.SearchPage(context.Background(), "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.NextCursor != "cursor-2" {
		t.Fatalf("next cursor = %q", page.NextCursor)
	}
	if len(page.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(page.Items))
	}

	item := page.Items[0]
	if item.ID != 10001 || item.SellerUID != "seller-1" {
		t.Fatalf("item decoded wrong: %+v", item)
	}
	if got := item.PriceYuan(); got != 125.0 {
		t.Fatalf("price yuan = %v, want 125", got)
	}
	if len(item.Variants) != 1 || item.Variants[0].SKUID != 501 {
		t.Fatalf("variants decoded wrong: %+v", item.Variants)
	}
	if got := item.Variants[0].MarketPriceYuan(); got != 180.0 {
		t.Fatalf("market price yuan = %v, want 180", got)
	}
}

func TestItemDetailDecodesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("c2cItemsId"); got != "10001" {
			t.Errorf("c2cItemsId = %q", got)
		}
		w.Write([]byte(`{"code": 0, "data": {"publishStatus": 1, "saleStatus": 2}}`))
	})

	status, err := client.ItemDetail(context.Background(), 10001)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if status.PublishStatus != 1 || status.SaleStatus != 2 {
		t.Fatalf("status = %+v", status)
	}
}

func TestEnvelopeErrorCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": -101, "message": "not logged in"}`))
	})

	_, err := client.SearchPage(context.Background(), "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != -101 {
		t.Fatalf("code = %d, want -101", apiErr.Code)
	}
}

func TestNonOKStatusIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	if _, err := client.SearchPage(context.Background(), ""); err == nil {
		t.Fatal("expected error on HTTP 502")
	}
}

func TestMalformedBodyIsDecodeError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	})

	_, err := client.SearchPage(context.Background(), "")
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestPacerWaitsWithinBounds(t *testing.T) {
	clock := &recordingClock{}
	p := NewPacer(10*time.Millisecond, 20*time.Millisecond, clock)

	for i := 0; i < 50; i++ {
		p.Wait(context.Background())
	}
	for _, d := range clock.sleeps {
		if d < 10*time.Millisecond || d > 20*time.Millisecond {
			t.Fatalf("delay %s outside [10ms, 20ms]", d)
		}
	}
}

type recordingClock struct {
	sleeps []time.Duration
}

func (c *recordingClock) Now() time.Time { return time.Unix(1700000000, 0) }
func (c *recordingClock) Sleep(_ context.Context, d time.Duration) {
	c.sleeps = append(c.sleeps, d)
}
