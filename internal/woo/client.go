// Package woo extracts orders, refunds, and products from WooCommerce stores
// and loads them into BigQuery. Orders sync incrementally; refunds and the
// product catalog are refetched in full each run.
package woo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// zeroDate is WooCommerce's placeholder for an unset datetime column.
const zeroDate = "0000-00-00 00:00:00"

// Store identifies one WooCommerce site and its API credentials.
type Store struct {
	// Name labels rows in BigQuery (e.g. "us", "uk").
	Name string
	// BaseURL is the site root, e.g. "https://shop.example.com".
	BaseURL string
	// ConsumerKey and ConsumerSecret are the REST API credentials.
	ConsumerKey    string
	ConsumerSecret string
}

// OrderSource fetches commerce data from one store. Tests substitute a fake.
type OrderSource interface {
	Orders(ctx context.Context, modifiedAfter *time.Time) ([]Order, error)
	Refunds(ctx context.Context) ([]Refund, error)
	Products(ctx context.Context) ([]Product, error)
	StoreName() string
}

// Order is the subset of a WooCommerce order the sync exports.
type Order struct {
	ID            int64      `json:"id"`
	Number        string     `json:"number"`
	Status        string     `json:"status"`
	Currency      string     `json:"currency"`
	Total         string     `json:"total"`
	TotalTax      string     `json:"total_tax"`
	ShippingTotal string     `json:"shipping_total"`
	CustomerID    int64      `json:"customer_id"`
	DateCreated   WooTime    `json:"date_created_gmt"`
	DateModified  WooTime    `json:"date_modified_gmt"`
	DatePaid      WooTime    `json:"date_paid_gmt"`
	LineItems     []LineItem `json:"line_items"`
}

// Refund is one refund from the store-wide /refunds endpoint. The parent
// order id doubles as the order number downstream.
type Refund struct {
	ID            int64          `json:"id"`
	ParentID      int64          `json:"parent_id"`
	Amount        string         `json:"amount"`
	DateCreated   WooTime        `json:"date_created_gmt"`
	LineItems     []LineItem     `json:"line_items"`
	ShippingLines []ShippingLine `json:"shipping_lines"`
}

// ShippingLine carries the shipping totals attached to a refund.
type ShippingLine struct {
	Total    string `json:"total"`
	TotalTax string `json:"total_tax"`
}

// Product is the subset of a WooCommerce product the sync exports, including
// the plugin meta fields the stores rely on.
type Product struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	ShortDescription  string        `json:"short_description"`
	SKU               string        `json:"sku"`
	Type              string        `json:"type"`
	Status            string        `json:"status"`
	Price             string        `json:"price"`
	RegularPrice      string        `json:"regular_price"`
	Weight            string        `json:"weight"`
	StockQuantity     *int64        `json:"stock_quantity"`
	Downloadable      bool          `json:"downloadable"`
	Virtual           bool          `json:"virtual"`
	BackordersAllowed bool          `json:"backorders_allowed"`
	DateCreated       WooTime       `json:"date_created_gmt"`
	DateModified      WooTime       `json:"date_modified_gmt"`
	MetaData          []Meta        `json:"meta_data"`
	BundledItems      []BundledItem `json:"bundled_items"`
	Categories        []Category    `json:"categories"`
	Attributes        []Attribute   `json:"attributes"`
}

// BundledItem is one component of a product bundle.
type BundledItem struct {
	BundledItemID   int64 `json:"bundled_item_id"`
	ProductID       int64 `json:"product_id"`
	QuantityDefault int64 `json:"quantity_default"`
}

// Category is one product category assignment.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Attribute is one product attribute; only the first option is exported.
type Attribute struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Slug    string   `json:"slug"`
	Options []string `json:"options"`
}

// Option returns the first attribute option, if any.
func (a Attribute) Option() string {
	if len(a.Options) == 0 {
		return ""
	}
	return a.Options[0]
}

// LineItem is one order or refund line.
type LineItem struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ProductID int64  `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	SKU       string `json:"sku"`
	Price     string `json:"price"`
	Subtotal  string `json:"subtotal"`
	Total     string `json:"total"`
	TotalTax  string `json:"total_tax"`
	MetaData  []Meta `json:"meta_data"`
}

// Meta is one key/value pair from a WooCommerce meta_data array.
type Meta struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// RefundedItemID returns the _refunded_item_id meta value, if present.
func (li LineItem) RefundedItemID() string {
	return metaString(li.MetaData, "_refunded_item_id")
}

// CostOfGoods returns the _alg_wc_cog_item_cost meta value, if present.
func (li LineItem) CostOfGoods() string {
	return metaString(li.MetaData, "_alg_wc_cog_item_cost")
}

// MetaString returns one plugin meta value by key, empty when absent.
func (p Product) MetaString(key string) string {
	return metaString(p.MetaData, key)
}

// MetaFlag reports whether a plugin meta field holds the "1" flag value.
func (p Product) MetaFlag(key string) bool {
	return metaString(p.MetaData, key) == "1"
}

func metaString(meta []Meta, key string) string {
	for _, m := range meta {
		if m.Key != key {
			continue
		}
		var s string
		if err := json.Unmarshal(m.Value, &s); err == nil {
			return s
		}
		// Some plugins write numbers rather than strings.
		var n json.Number
		if err := json.Unmarshal(m.Value, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

// WooTime decodes WooCommerce datetime strings, mapping the zero-date
// placeholder and empty values to nil.
type WooTime struct {
	Time *time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *WooTime) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil || *s == "" || *s == zeroDate {
		w.Time = nil
		return nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", *s)
	if err != nil {
		return fmt.Errorf("parse woocommerce time %q: %w", *s, err)
	}
	t = t.UTC()
	w.Time = &t
	return nil
}

// Client calls one store's WooCommerce REST API.
type Client struct {
	store      Store
	httpClient *http.Client
	perPage    int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithPerPage overrides the page size.
func WithPerPage(n int) Option {
	return func(c *Client) { c.perPage = n }
}

// NewClient creates a client for one store.
func NewClient(store Store, opts ...Option) *Client {
	c := &Client{
		store:      store,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		perPage:    100,
	}
	c.store.BaseURL = strings.TrimSuffix(c.store.BaseURL, "/")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StoreName returns the store label.
func (c *Client) StoreName() string {
	return c.store.Name
}

// Orders fetches all orders, optionally limited to those modified after the
// given time.
func (c *Client) Orders(ctx context.Context, modifiedAfter *time.Time) ([]Order, error) {
	q := url.Values{}
	q.Set("orderby", "modified")
	q.Set("order", "asc")
	if modifiedAfter != nil {
		q.Set("modified_after", modifiedAfter.UTC().Format("2006-01-02T15:04:05"))
	}
	return fetchPages[Order](ctx, c, "orders", q)
}

// Refunds fetches every refund across all orders.
func (c *Client) Refunds(ctx context.Context) ([]Refund, error) {
	return fetchPages[Refund](ctx, c, "refunds", url.Values{})
}

// Products fetches the full product catalog.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	return fetchPages[Product](ctx, c, "products", url.Values{})
}

// fetchPages walks one resource's pages following the X-WP-TotalPages header.
func fetchPages[T any](ctx context.Context, c *Client, resource string, q url.Values) ([]T, error) {
	var all []T
	totalPages := 1

	for page := 1; page <= totalPages; page++ {
		q.Set("per_page", strconv.Itoa(c.perPage))
		q.Set("page", strconv.Itoa(page))

		endpoint := c.store.BaseURL + "/wp-json/wc/v3/" + resource + "?" + q.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("woo[%s]: build request: %w", c.store.Name, err)
		}
		req.SetBasicAuth(c.store.ConsumerKey, c.store.ConsumerSecret)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("woo[%s]: fetch %s page %d: %w", c.store.Name, resource, page, err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			resp.Body.Close()
			return nil, fmt.Errorf("woo[%s]: %s page %d: status %d: %s",
				c.store.Name, resource, page, resp.StatusCode, strings.TrimSpace(string(body)))
		}

		if tp := resp.Header.Get("X-WP-TotalPages"); tp != "" {
			if n, err := strconv.Atoi(tp); err == nil {
				totalPages = n
			}
		}

		var items []T
		err = json.NewDecoder(resp.Body).Decode(&items)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("woo[%s]: decode %s page %d: %w", c.store.Name, resource, page, err)
		}
		all = append(all, items...)
	}
	return all, nil
}
