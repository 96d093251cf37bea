package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Client talks to the marketplace's C2C search and detail endpoints.
// Every request is paced and carries the configured auth cookie.
type Client struct {
	http      *http.Client
	searchURL string
	detailURL string
	category  string
	cookie    string
	pacer     *Pacer
}

func NewClient(httpClient *http.Client, searchURL, detailURL, category, cookie string, pacer *Pacer) *Client {
	return &Client{
		http:      httpClient,
		searchURL: searchURL,
		detailURL: detailURL,
		category:  category,
		cookie:    cookie,
		pacer:     pacer,
	}
}

// SearchPage is one page of the paginated listing feed. An empty
// NextCursor means the feed is exhausted.
type SearchPage struct {
	Items      []Item
	NextCursor string
}

// Item is one raw listing record from the search feed.
type Item struct {
	ID              int64    `json:"c2cItemsId"`
	Type            int      `json:"type"`
	Name            string   `json:"c2cItemsName"`
	TotalItemsCount int      `json:"totalItemsCount"`
	Price           string   `json:"price"` // cents, as a string
	ShowPrice       string   `json:"showPrice"`
	ShowMarketPrice string   `json:"showMarketPrice"`
	SellerUID       string   `json:"uid"`
	SellerName      string   `json:"uname"`
	SellerAvatar    string   `json:"uface"`
	SellerURL       string   `json:"uspaceJumpUrl"`
	PaymentTime     int64    `json:"paymentTime"`
	IsMyPublish     bool     `json:"isMyPublish"`
	Variants        []Detail `json:"detailDtoList"`
}

// Detail is one variant entry nested in an item. Only single-variant
// items are tracked downstream.
type Detail struct {
	SKUID       int64  `json:"skuId"`
	ItemsID     int64  `json:"itemsId"`
	Name        string `json:"name"`
	Img         string `json:"img"`
	MarketPrice string `json:"marketPrice"` // cents, as a string
	Type        int    `json:"type"`
}

// PriceYuan converts the upstream cent string to a currency amount.
func (i *Item) PriceYuan() float64 { return centsToYuan(i.Price) }

// MarketPriceYuan converts the variant's market price cent string.
func (d *Detail) MarketPriceYuan() float64 { return centsToYuan(d.MarketPrice) }

func centsToYuan(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v / 100
}

// ItemStatus is the slice of the detail endpoint payload the reconciler
// needs. SaleStatus 2 means sold regardless of PublishStatus.
type ItemStatus struct {
	PublishStatus int `json:"publishStatus"`
	SaleStatus    int `json:"saleStatus"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type searchData struct {
	Items      []Item `json:"data"`
	NextCursor string `json:"nextId"`
}

// SearchPage fetches one page of the listing feed. An empty cursor
// requests the first page.
func (c *Client) SearchPage(ctx context.Context, cursor string) (*SearchPage, error) {
	c.pacer.Wait(ctx)

	reqBody, err := json.Marshal(map[string]string{
		"sortType":       "TIME_DESC",
		"nextId":         cursor,
		"categoryFilter": c.category,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var page searchData
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, &DecodeError{Err: err}
	}

	return &SearchPage{Items: page.Items, NextCursor: page.NextCursor}, nil
}

// ItemDetail fetches the current publish/sale status for one listing.
func (c *Client) ItemDetail(ctx context.Context, id int64) (*ItemStatus, error) {
	c.pacer.Wait(ctx)

	url := fmt.Sprintf("%s?c2cItemsId=%d", c.detailURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.setCommonHeaders(req)

	data, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var status ItemStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &status, nil
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Code != 0 {
		return nil, &APIError{Code: env.Code, Message: env.Message}
	}
	return env.Data, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", "https://mall.bilibili.com")
	req.Header.Set("Referer", "https://mall.bilibili.com/neul-next/index.html?page=magic-market_index")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
}
