package woo

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/CruGlobal/dot/internal/bq"
)

// SyncConfig controls one store sync run.
type SyncConfig struct {
	// Dataset is the target BigQuery dataset.
	Dataset string
	// Destination tables; empty fields apply the defaults.
	OrdersTable      string
	ItemsTable       string
	RefundsTable     string
	RefundItemsTable string
	ProductsTable    string
	BundlesTable     string
	CategoriesTable  string
	AttributesTable  string
}

// Syncer loads commerce data from each store into BigQuery. Orders and their
// items sync incrementally above the sync_timestamp watermark; refunds and
// the product catalog are refetched in full. Every load appends with the
// run's shared sync_timestamp, so downstream models pick the latest snapshot.
type Syncer struct {
	sources []OrderSource
	store   bq.Store
	logger  *slog.Logger
	cfg     SyncConfig
	now     func() time.Time
}

// NewSyncer wires a sync across one or more stores.
func NewSyncer(sources []OrderSource, store bq.Store, logger *slog.Logger, cfg SyncConfig) *Syncer {
	defaults := map[*string]string{
		&cfg.OrdersTable:      "orders",
		&cfg.ItemsTable:       "order_items",
		&cfg.RefundsTable:     "refunds",
		&cfg.RefundItemsTable: "refund_items",
		&cfg.ProductsTable:    "products",
		&cfg.BundlesTable:     "product_bundles",
		&cfg.CategoriesTable:  "product_categories",
		&cfg.AttributesTable:  "product_attributes",
	}
	for field, name := range defaults {
		if *field == "" {
			*field = name
		}
	}
	return &Syncer{sources: sources, store: store, logger: logger, cfg: cfg, now: time.Now}
}

// Run syncs every store. Store failures abort the run so the watermark never
// advances past unfetched orders.
func (s *Syncer) Run(ctx context.Context) error {
	syncTime := s.now().UTC()

	watermark, found, err := s.store.MaxTimestamp(ctx, s.cfg.Dataset, s.cfg.OrdersTable, "sync_timestamp")
	if err != nil {
		return fmt.Errorf("read sync watermark: %w", err)
	}
	var modifiedAfter *time.Time
	if found {
		modifiedAfter = &watermark
	}

	for _, src := range s.sources {
		if err := s.syncStore(ctx, src, modifiedAfter, syncTime); err != nil {
			return fmt.Errorf("store %s: %w", src.StoreName(), err)
		}
	}
	return nil
}

func (s *Syncer) syncStore(ctx context.Context, src OrderSource, modifiedAfter *time.Time, syncTime time.Time) error {
	if err := s.syncOrders(ctx, src, modifiedAfter, syncTime); err != nil {
		return err
	}
	if err := s.syncRefunds(ctx, src, syncTime); err != nil {
		return err
	}
	return s.syncProducts(ctx, src, syncTime)
}

func (s *Syncer) syncOrders(ctx context.Context, src OrderSource, modifiedAfter *time.Time, syncTime time.Time) error {
	orders, err := src.Orders(ctx, modifiedAfter)
	if err != nil {
		return err
	}
	s.logger.Info("fetched orders", "store", src.StoreName(), "count", len(orders))
	if len(orders) == 0 {
		return nil
	}

	if err := s.loadAppend(ctx, s.cfg.OrdersTable, ordersCSV(src.StoreName(), orders, syncTime), orderSchema); err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	if err := s.loadAppend(ctx, s.cfg.ItemsTable, itemsCSV(src.StoreName(), orders, syncTime), itemSchema); err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	return nil
}

func (s *Syncer) syncRefunds(ctx context.Context, src OrderSource, syncTime time.Time) error {
	refunds, err := src.Refunds(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("fetched refunds", "store", src.StoreName(), "count", len(refunds))
	if len(refunds) == 0 {
		return nil
	}

	if err := s.loadAppend(ctx, s.cfg.RefundsTable, refundsCSV(src.StoreName(), refunds, syncTime), refundSchema); err != nil {
		return fmt.Errorf("load refunds: %w", err)
	}
	if err := s.loadAppend(ctx, s.cfg.RefundItemsTable, refundItemsCSV(src.StoreName(), refunds, syncTime), refundItemSchema); err != nil {
		return fmt.Errorf("load refund items: %w", err)
	}
	return nil
}

func (s *Syncer) syncProducts(ctx context.Context, src OrderSource, syncTime time.Time) error {
	products, err := src.Products(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("fetched products", "store", src.StoreName(), "count", len(products))
	if len(products) == 0 {
		return nil
	}

	store := src.StoreName()
	loads := []struct {
		table  string
		data   []byte
		schema bigquery.Schema
	}{
		{s.cfg.ProductsTable, productsCSV(store, products, syncTime), productSchema},
		{s.cfg.BundlesTable, bundlesCSV(store, products, syncTime), bundleSchema},
		{s.cfg.CategoriesTable, categoriesCSV(store, products, syncTime), categorySchema},
		{s.cfg.AttributesTable, attributesCSV(store, products, syncTime), attributeSchema},
	}
	for _, load := range loads {
		if err := s.loadAppend(ctx, load.table, load.data, load.schema); err != nil {
			return fmt.Errorf("load %s: %w", load.table, err)
		}
	}
	return nil
}

func (s *Syncer) loadAppend(ctx context.Context, table string, data []byte, schema bigquery.Schema) error {
	return s.store.LoadCSV(ctx, s.cfg.Dataset, table, bytes.NewReader(data), bq.LoadOptions{
		Schema:              schema,
		Append:              true,
		SkipLeadingRows:     1,
		AllowQuotedNewlines: true,
	})
}

// Money columns use BIGNUMERIC so plugin-reported amounts never lose precision.
var orderSchema = bigquery.Schema{
	{Name: "store", Type: bigquery.StringFieldType, Required: true},
	{Name: "order_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "number", Type: bigquery.StringFieldType},
	{Name: "status", Type: bigquery.StringFieldType},
	{Name: "currency", Type: bigquery.StringFieldType},
	{Name: "total", Type: bigquery.BigNumericFieldType},
	{Name: "total_tax", Type: bigquery.BigNumericFieldType},
	{Name: "shipping_total", Type: bigquery.BigNumericFieldType},
	{Name: "customer_id", Type: bigquery.IntegerFieldType},
	{Name: "date_created", Type: bigquery.TimestampFieldType},
	{Name: "date_modified", Type: bigquery.TimestampFieldType},
	{Name: "date_paid", Type: bigquery.TimestampFieldType},
	{Name: "sync_timestamp", Type: bigquery.TimestampFieldType, Required: true},
}

var itemSchema = bigquery.Schema{
	{Name: "store", Type: bigquery.StringFieldType, Required: true},
	{Name: "order_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "item_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "product_id", Type: bigquery.IntegerFieldType},
	{Name: "name", Type: bigquery.StringFieldType},
	{Name: "quantity", Type: bigquery.IntegerFieldType},
	{Name: "subtotal", Type: bigquery.BigNumericFieldType},
	{Name: "total", Type: bigquery.BigNumericFieldType},
	{Name: "total_tax", Type: bigquery.BigNumericFieldType},
	{Name: "refunded_item_id", Type: bigquery.StringFieldType},
	{Name: "cost_of_goods", Type: bigquery.BigNumericFieldType},
	{Name: "sync_timestamp", Type: bigquery.TimestampFieldType, Required: true},
}

var refundSchema = bigquery.Schema{
	{Name: "store", Type: bigquery.StringFieldType, Required: true},
	{Name: "refund_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "order_number", Type: bigquery.IntegerFieldType},
	{Name: "total", Type: bigquery.BigNumericFieldType},
	{Name: "shipping", Type: bigquery.BigNumericFieldType},
	{Name: "shipping_tax", Type: bigquery.BigNumericFieldType},
	{Name: "date_created", Type: bigquery.TimestampFieldType},
	{Name: "sync_timestamp", Type: bigquery.TimestampFieldType, Required: true},
}

var refundItemSchema = bigquery.Schema{
	{Name: "store", Type: bigquery.StringFieldType, Required: true},
	{Name: "refund_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "refund_item_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "order_number", Type: bigquery.IntegerFieldType},
	{Name: "order_item_id", Type: bigquery.IntegerFieldType},
	{Name: "product_id", Type: bigquery.IntegerFieldType},
	{Name: "product_name", Type: bigquery.StringFieldType},
	{Name: "product_price", Type: bigquery.BigNumericFieldType},
	{Name: "product_quantity", Type: bigquery.IntegerFieldType},
	{Name: "product_sku", Type: bigquery.StringFieldType},
	{Name: "product_tax", Type: bigquery.BigNumericFieldType},
	{Name: "product_cost", Type: bigquery.BigNumericFieldType},
	{Name: "date_created", Type: bigquery.TimestampFieldType},
	{Name: "sync_timestamp", Type: bigquery.TimestampFieldType, Required: true},
}

var productSchema = bigquery.Schema{
	{Name: "store", Type: bigquery.StringFieldType, Required: true},
	{Name: "product_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "name", Type: bigquery.StringFieldType},
	{Name: "short_description", Type: bigquery.StringFieldType},
	{Name: "sku", Type: bigquery.StringFieldType},
	{Name: "type", Type: bigquery.StringFieldType},
	{Name: "status", Type: bigquery.StringFieldType},
	{Name: "price", Type: bigquery.BigNumericFieldType},
	{Name: "regular_price", Type: bigquery.BigNumericFieldType},
	{Name: "weight", Type: bigquery.BigNumericFieldType},
	{Name: "stock_quantity", Type: bigquery.IntegerFieldType},
	{Name: "downloadable", Type: bigquery.BooleanFieldType},
	{Name: "virtual", Type: bigquery.BooleanFieldType},
	{Name: "backorders_allowed", Type: bigquery.BooleanFieldType},
	{Name: "exclude_from_all_discounting", Type: bigquery.BooleanFieldType},
	{Name: "free_shipping", Type: bigquery.BooleanFieldType},
	{Name: "product_inactive", Type: bigquery.BooleanFieldType},
	{Name: "gift_card", Type: bigquery.BooleanFieldType},
	{Name: "donor_premium", Type: bigquery.BooleanFieldType},
	{Name: "royalty", Type: bigquery.BooleanFieldType},
	{Name: "next_receipt_date", Type: bigquery.DateFieldType},
	{Name: "brand", Type: bigquery.StringFieldType},
	{Name: "product_isbn", Type: bigquery.StringFieldType},
	{Name: "product_publisher", Type: bigquery.StringFieldType},
	{Name: "impact", Type: bigquery.StringFieldType},
	{Name: "product_language", Type: bigquery.StringFieldType},
	{Name: "sub_brand", Type: bigquery.StringFieldType},
	{Name: "cost_of_goods", Type: bigquery.BigNumericFieldType},
	{Name: "case_qty", Type: bigquery.IntegerFieldType},
	{Name: "product_page_count", Type: bigquery.IntegerFieldType},
	{Name: "total_manuals", Type: bigquery.IntegerFieldType},
	{Name: "date_created", Type: bigquery.TimestampFieldType},
	{Name: "date_modified", Type: bigquery.TimestampFieldType},
	{Name: "sync_timestamp", Type: bigquery.TimestampFieldType, Required: true},
}

var bundleSchema = bigquery.Schema{
	{Name: "store", Type: bigquery.StringFieldType, Required: true},
	{Name: "bundle_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "bundled_item_id", Type: bigquery.IntegerFieldType},
	{Name: "product_id", Type: bigquery.IntegerFieldType},
	{Name: "quantity_default", Type: bigquery.IntegerFieldType},
	{Name: "sync_timestamp", Type: bigquery.TimestampFieldType, Required: true},
}

var categorySchema = bigquery.Schema{
	{Name: "store", Type: bigquery.StringFieldType, Required: true},
	{Name: "product_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "category_id", Type: bigquery.IntegerFieldType},
	{Name: "name", Type: bigquery.StringFieldType},
	{Name: "slug", Type: bigquery.StringFieldType},
	{Name: "sync_timestamp", Type: bigquery.TimestampFieldType, Required: true},
}

var attributeSchema = bigquery.Schema{
	{Name: "store", Type: bigquery.StringFieldType, Required: true},
	{Name: "product_id", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "attribute_id", Type: bigquery.IntegerFieldType},
	{Name: "name", Type: bigquery.StringFieldType},
	{Name: "slug", Type: bigquery.StringFieldType},
	{Name: "option", Type: bigquery.StringFieldType},
	{Name: "sync_timestamp", Type: bigquery.TimestampFieldType, Required: true},
}

func ordersCSV(store string, orders []Order, syncTime time.Time) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"store", "order_id", "number", "status", "currency", "total", "total_tax",
		"shipping_total", "customer_id", "date_created", "date_modified", "date_paid", "sync_timestamp"})
	for _, o := range orders {
		w.Write([]string{
			store,
			strconv.FormatInt(o.ID, 10),
			o.Number, o.Status, o.Currency,
			o.Total, o.TotalTax, o.ShippingTotal,
			strconv.FormatInt(o.CustomerID, 10),
			csvTime(o.DateCreated.Time), csvTime(o.DateModified.Time), csvTime(o.DatePaid.Time),
			csvTime(&syncTime),
		})
	}
	w.Flush()
	return buf.Bytes()
}

func itemsCSV(store string, orders []Order, syncTime time.Time) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"store", "order_id", "item_id", "product_id", "name", "quantity",
		"subtotal", "total", "total_tax", "refunded_item_id", "cost_of_goods", "sync_timestamp"})
	for _, o := range orders {
		for _, li := range o.LineItems {
			w.Write([]string{
				store,
				strconv.FormatInt(o.ID, 10),
				strconv.FormatInt(li.ID, 10),
				strconv.FormatInt(li.ProductID, 10),
				li.Name,
				strconv.FormatInt(li.Quantity, 10),
				li.Subtotal, li.Total, li.TotalTax,
				li.RefundedItemID(), li.CostOfGoods(),
				csvTime(&syncTime),
			})
		}
	}
	w.Flush()
	return buf.Bytes()
}

func refundsCSV(store string, refunds []Refund, syncTime time.Time) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"store", "refund_id", "order_number", "total", "shipping", "shipping_tax",
		"date_created", "sync_timestamp"})
	for _, r := range refunds {
		// The last shipping line wins, matching how the stores report a
		// single shipping refund per record.
		shipping, shippingTax := "0", "0"
		for _, sl := range r.ShippingLines {
			shipping, shippingTax = sl.Total, sl.TotalTax
		}
		w.Write([]string{
			store,
			strconv.FormatInt(r.ID, 10),
			strconv.FormatInt(r.ParentID, 10),
			moneyOrZero(r.Amount),
			shipping, shippingTax,
			csvTime(r.DateCreated.Time),
			csvTime(&syncTime),
		})
	}
	w.Flush()
	return buf.Bytes()
}

func refundItemsCSV(store string, refunds []Refund, syncTime time.Time) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"store", "refund_id", "refund_item_id", "order_number", "order_item_id",
		"product_id", "product_name", "product_price", "product_quantity", "product_sku",
		"product_tax", "product_cost", "date_created", "sync_timestamp"})
	for _, r := range refunds {
		for _, li := range r.LineItems {
			w.Write([]string{
				store,
				strconv.FormatInt(r.ID, 10),
				strconv.FormatInt(li.ID, 10),
				strconv.FormatInt(r.ParentID, 10),
				intOrZero(li.RefundedItemID()),
				strconv.FormatInt(li.ProductID, 10),
				li.Name,
				moneyOrZero(li.Price),
				strconv.FormatInt(li.Quantity, 10),
				li.SKU,
				moneyOrZero(li.TotalTax),
				moneyOrZero(li.CostOfGoods()),
				csvTime(r.DateCreated.Time),
				csvTime(&syncTime),
			})
		}
	}
	w.Flush()
	return buf.Bytes()
}

func productsCSV(store string, products []Product, syncTime time.Time) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"store", "product_id", "name", "short_description", "sku", "type", "status",
		"price", "regular_price", "weight", "stock_quantity",
		"downloadable", "virtual", "backorders_allowed",
		"exclude_from_all_discounting", "free_shipping", "product_inactive", "gift_card",
		"donor_premium", "royalty", "next_receipt_date",
		"brand", "product_isbn", "product_publisher", "impact", "product_language", "sub_brand",
		"cost_of_goods", "case_qty", "product_page_count", "total_manuals",
		"date_created", "date_modified", "sync_timestamp"})
	for _, p := range products {
		stock := ""
		if p.StockQuantity != nil {
			stock = strconv.FormatInt(*p.StockQuantity, 10)
		}
		// A product predating the store's created column falls back to its
		// modification date.
		created := p.DateCreated.Time
		if created == nil {
			created = p.DateModified.Time
		}
		w.Write([]string{
			store,
			strconv.FormatInt(p.ID, 10),
			p.Name, p.ShortDescription, p.SKU, p.Type, p.Status,
			moneyOrZero(p.Price), moneyOrZero(p.RegularPrice), moneyOrZero(p.Weight),
			stock,
			strconv.FormatBool(p.Downloadable),
			strconv.FormatBool(p.Virtual),
			strconv.FormatBool(p.BackordersAllowed),
			strconv.FormatBool(p.MetaFlag("exclude_from_all_discounting")),
			strconv.FormatBool(p.MetaFlag("free_shipping")),
			strconv.FormatBool(p.MetaFlag("product_inactive")),
			strconv.FormatBool(p.MetaFlag("gift_card")),
			strconv.FormatBool(p.MetaFlag("donor_premium")),
			strconv.FormatBool(p.MetaFlag("royalty")),
			p.MetaString("next_receipt_date"),
			p.MetaString("brand"),
			p.MetaString("product_isbn"),
			p.MetaString("product_publisher"),
			p.MetaString("impact"),
			p.MetaString("product_language"),
			p.MetaString("sub_brand"),
			moneyOrZero(p.MetaString("_alg_wc_cog_cost")),
			p.MetaString("case_qty"),
			p.MetaString("product_page_count"),
			p.MetaString("total_manuals"),
			csvTime(created), csvTime(p.DateModified.Time),
			csvTime(&syncTime),
		})
	}
	w.Flush()
	return buf.Bytes()
}

func bundlesCSV(store string, products []Product, syncTime time.Time) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"store", "bundle_id", "bundled_item_id", "product_id", "quantity_default", "sync_timestamp"})
	for _, p := range products {
		for _, b := range p.BundledItems {
			w.Write([]string{
				store,
				strconv.FormatInt(p.ID, 10),
				strconv.FormatInt(b.BundledItemID, 10),
				strconv.FormatInt(b.ProductID, 10),
				strconv.FormatInt(b.QuantityDefault, 10),
				csvTime(&syncTime),
			})
		}
	}
	w.Flush()
	return buf.Bytes()
}

func categoriesCSV(store string, products []Product, syncTime time.Time) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"store", "product_id", "category_id", "name", "slug", "sync_timestamp"})
	for _, p := range products {
		for _, c := range p.Categories {
			w.Write([]string{
				store,
				strconv.FormatInt(p.ID, 10),
				strconv.FormatInt(c.ID, 10),
				c.Name, c.Slug,
				csvTime(&syncTime),
			})
		}
	}
	w.Flush()
	return buf.Bytes()
}

func attributesCSV(store string, products []Product, syncTime time.Time) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"store", "product_id", "attribute_id", "name", "slug", "option", "sync_timestamp"})
	for _, p := range products {
		for _, a := range p.Attributes {
			w.Write([]string{
				store,
				strconv.FormatInt(p.ID, 10),
				strconv.FormatInt(a.ID, 10),
				a.Name, a.Slug, a.Option(),
				csvTime(&syncTime),
			})
		}
	}
	w.Flush()
	return buf.Bytes()
}

func moneyOrZero(s string) string {
	if s == "" {
		return "0.00"
	}
	return s
}

func intOrZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func csvTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
