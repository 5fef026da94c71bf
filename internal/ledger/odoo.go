package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
	"invoicebridge/internal/vendor"
)

// OdooConfig configures the JSON-RPC connection to an Odoo instance.
type OdooConfig struct {
	URL      string
	Database string
	Username string
	APIKey   string
	// CompanyNames are our own legal entities; partners matching one of
	// these are never returned as vendor candidates. An invoice letterhead
	// frequently names the buyer more prominently than the seller.
	CompanyNames []string
	Timeout      time.Duration
}

// OdooClient implements Client over Odoo's external JSON-RPC API
// (execute_kw). Authentication is lazy and the uid is cached for the life
// of the client.
type OdooClient struct {
	cfg    OdooConfig
	http   *http.Client
	logger *slog.Logger

	mu  sync.Mutex
	uid int64

	reqSeq int64
}

func NewOdooClient(cfg OdooConfig, logger *slog.Logger) *OdooClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OdooClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      int64          `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (e *rpcError) Error() string {
	if e.Data != nil {
		if m, ok := e.Data["message"].(string); ok && m != "" {
			return m
		}
	}
	return e.Message
}

// call performs one JSON-RPC round trip. Network and server-side (5xx)
// failures come back wrapped as transient; application faults as rejected.
func (c *OdooClient) call(ctx context.Context, service, method string, args []any) (json.RawMessage, error) {
	c.mu.Lock()
	c.reqSeq++
	id := c.reqSeq
	c.mu.Unlock()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  map[string]any{"service": service, "method": method, "args": args},
		ID:      id,
	})
	if err != nil {
		return nil, fmt.Errorf("encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.URL, "/")+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", common.ErrLedgerTransient, service, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s.%s: http %d", common.ErrLedgerTransient, service, method, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s.%s: http %d", common.ErrLedgerRejected, service, method, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read rpc response: %v", common.ErrLedgerTransient, err)
	}
	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("%w: decode rpc response: %v", common.ErrLedgerRejected, err)
	}
	if rr.Error != nil {
		return nil, fmt.Errorf("%w: %s.%s: %s", common.ErrLedgerRejected, service, method, rr.Error.Error())
	}
	return rr.Result, nil
}

func (c *OdooClient) authenticate(ctx context.Context) (int64, error) {
	c.mu.Lock()
	if c.uid != 0 {
		uid := c.uid
		c.mu.Unlock()
		return uid, nil
	}
	c.mu.Unlock()

	res, err := c.call(ctx, "common", "authenticate",
		[]any{c.cfg.Database, c.cfg.Username, c.cfg.APIKey, map[string]any{}})
	if err != nil {
		return 0, fmt.Errorf("authenticate: %w", err)
	}
	var uid int64
	if err := json.Unmarshal(res, &uid); err != nil || uid <= 0 {
		return 0, fmt.Errorf("%w: authentication refused for %q", common.ErrLedgerRejected, c.cfg.Username)
	}

	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()
	c.logger.Info("ledger.authenticated", "uid", uid, "database", c.cfg.Database)
	return uid, nil
}

// executeKw wraps the object service's execute_kw entry point, decoding the
// result into out when out is non-nil.
func (c *OdooClient) executeKw(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	uid, err := c.authenticate(ctx)
	if err != nil {
		return err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	res, err := c.call(ctx, "object", "execute_kw",
		[]any{c.cfg.Database, uid, c.cfg.APIKey, model, method, args, kwargs})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("%w: decode %s.%s result: %v", common.ErrLedgerRejected, model, method, err)
	}
	return nil
}

type partnerRow struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	VAT   json.RawMessage `json:"vat"`
	Email json.RawMessage `json:"email"`
	Phone json.RawMessage `json:"phone"`
}

// odooString tolerates Odoo's habit of returning false for empty fields.
func odooString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

var partnerFields = []string{"id", "name", "vat", "email", "phone"}

func (c *OdooClient) searchPartners(ctx context.Context, domain []any, limit int) ([]entity.VendorRecord, error) {
	var rows []partnerRow
	kwargs := map[string]any{"fields": partnerFields}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	if err := c.executeKw(ctx, "res.partner", "search_read", []any{domain}, kwargs, &rows); err != nil {
		return nil, err
	}

	out := make([]entity.VendorRecord, 0, len(rows))
	for _, row := range rows {
		if c.isSelf(row.Name) {
			continue
		}
		rec := entity.VendorRecord{
			ID:    row.ID,
			Name:  row.Name,
			TaxID: odooString(row.VAT),
			Email: odooString(row.Email),
			Phone: odooString(row.Phone),
		}
		rec.BillCount, _ = c.billCount(ctx, row.ID)
		out = append(out, rec)
	}
	return out, nil
}

// billCount is a ranking hint only; lookup failures degrade to zero.
func (c *OdooClient) billCount(ctx context.Context, partnerID int64) (int, error) {
	var n int
	err := c.executeKw(ctx, "account.move", "search_count", []any{[]any{
		[]any{"partner_id", "=", partnerID},
		[]any{"move_type", "=", "in_invoice"},
	}}, nil, &n)
	return n, err
}

func (c *OdooClient) isSelf(name string) bool {
	n := vendor.NormalizeName(name)
	for _, self := range c.cfg.CompanyNames {
		if n == vendor.NormalizeName(self) {
			return true
		}
	}
	return false
}

func (c *OdooClient) SearchVendorsByTaxID(ctx context.Context, taxID string) ([]entity.VendorRecord, error) {
	return c.searchPartners(ctx, []any{
		[]any{"vat", "=", taxID},
		[]any{"active", "=", true},
	}, 10)
}

func (c *OdooClient) SearchVendorsByName(ctx context.Context, name string, limit int) ([]entity.VendorRecord, error) {
	// exact first, then substring; the resolver re-scores everything anyway,
	// this just keeps the result set small on common names
	exact, err := c.searchPartners(ctx, []any{
		[]any{"name", "=ilike", name},
		[]any{"active", "=", true},
	}, limit)
	if err != nil {
		return nil, err
	}
	loose, err := c.searchPartners(ctx, []any{
		[]any{"name", "ilike", name},
		[]any{"active", "=", true},
	}, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(exact))
	out := exact
	for _, r := range exact {
		seen[r.ID] = struct{}{}
	}
	for _, r := range loose {
		if _, dup := seen[r.ID]; !dup {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *OdooClient) CreateVendor(ctx context.Context, rec entity.VendorRecord) (int64, error) {
	values := map[string]any{
		"name":          rec.Name,
		"supplier_rank": 1,
	}
	if rec.TaxID != "" {
		values["vat"] = rec.TaxID
	}
	if rec.Email != "" {
		values["email"] = rec.Email
	}
	if rec.Phone != "" {
		values["phone"] = rec.Phone
	}
	var id int64
	if err := c.executeKw(ctx, "res.partner", "create", []any{values}, nil, &id); err != nil {
		return 0, fmt.Errorf("create vendor %q: %w", rec.Name, err)
	}
	c.logger.Info("ledger.vendor_created", "vendor_id", id, "name", rec.Name)
	return id, nil
}

// ResolveAccount accepts an account code, "id:NN", or an account name.
func (c *OdooClient) ResolveAccount(ctx context.Context, ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if id, ok := explicitID(ref); ok {
		return id, nil
	}

	domains := [][]any{
		{[]any{"code", "=", ref}, []any{"deprecated", "=", false}},
		{[]any{"name", "ilike", ref}, []any{"deprecated", "=", false}},
	}
	for _, domain := range domains {
		var ids []int64
		err := c.executeKw(ctx, "account.account", "search", []any{domain},
			map[string]any{"limit": 1}, &ids)
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
	}
	return 0, fmt.Errorf("%w: account %q", common.ErrNotFound, ref)
}

// ResolveTax accepts "id:NN", a bare percentage ("21"), or a tax name.
// Only purchase taxes qualify.
func (c *OdooClient) ResolveTax(ctx context.Context, ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if id, ok := explicitID(ref); ok {
		return id, nil
	}

	var domains [][]any
	if pct, err := strconv.ParseFloat(ref, 64); err == nil {
		domains = append(domains, []any{
			[]any{"amount", "=", pct},
			[]any{"type_tax_use", "=", "purchase"},
		})
	}
	domains = append(domains, []any{
		[]any{"name", "ilike", ref},
		[]any{"type_tax_use", "=", "purchase"},
	})

	for _, domain := range domains {
		var ids []int64
		err := c.executeKw(ctx, "account.tax", "search", []any{domain},
			map[string]any{"limit": 1}, &ids)
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
	}
	return 0, fmt.Errorf("%w: tax %q", common.ErrNotFound, ref)
}

func explicitID(ref string) (int64, bool) {
	rest, ok := strings.CutPrefix(ref, "id:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type billRow struct {
	ID          int64   `json:"id"`
	AmountTotal float64 `json:"amount_total"`
}

// FindBill probes for an already-posted duplicate two ways: by the
// (vendor, invoice number, total) triple, then by attachment checksum for
// the case where the same file was submitted under a garbled number.
func (c *OdooClient) FindBill(ctx context.Context, q BillQuery) (int64, bool, error) {
	if q.VendorID > 0 && q.InvoiceNumber != "" {
		var rows []billRow
		err := c.executeKw(ctx, "account.move", "search_read", []any{[]any{
			[]any{"move_type", "=", "in_invoice"},
			[]any{"partner_id", "=", q.VendorID},
			[]any{"ref", "=", q.InvoiceNumber},
		}}, map[string]any{"fields": []string{"id", "amount_total"}, "limit": 5}, &rows)
		if err != nil {
			return 0, false, err
		}
		want := q.GrandTotal.Float64()
		for _, row := range rows {
			if want == 0 || math.Abs(row.AmountTotal-want) <= 0.011 {
				return row.ID, true, nil
			}
		}
	}

	if q.ChecksumSHA1 != "" {
		var atts []struct {
			ResID int64 `json:"res_id"`
		}
		err := c.executeKw(ctx, "ir.attachment", "search_read", []any{[]any{
			[]any{"checksum", "=", q.ChecksumSHA1},
			[]any{"res_model", "=", "account.move"},
		}}, map[string]any{"fields": []string{"res_id"}, "limit": 1}, &atts)
		if err != nil {
			return 0, false, err
		}
		if len(atts) > 0 && atts[0].ResID > 0 {
			return atts[0].ResID, true, nil
		}
	}
	return 0, false, nil
}

func (c *OdooClient) CreateBill(ctx context.Context, bill BillInput) (int64, error) {
	lines := make([]any, 0, len(bill.Lines))
	for _, l := range bill.Lines {
		values := map[string]any{
			"name":       l.Description,
			"quantity":   l.Quantity,
			"price_unit": l.UnitPrice,
		}
		if l.AccountID > 0 {
			values["account_id"] = l.AccountID
		}
		if l.TaxID > 0 {
			values["tax_ids"] = []any{[]any{6, 0, []int64{l.TaxID}}}
		}
		lines = append(lines, []any{0, 0, values})
	}

	values := map[string]any{
		"move_type":        "in_invoice",
		"partner_id":       bill.VendorID,
		"ref":              bill.InvoiceNumber,
		"invoice_line_ids": lines,
	}
	if bill.IssueDate != nil {
		values["invoice_date"] = bill.IssueDate.Format("2006-01-02")
	}
	if bill.DueDate != nil {
		values["invoice_date_due"] = bill.DueDate.Format("2006-01-02")
	}

	var id int64
	if err := c.executeKw(ctx, "account.move", "create", []any{values}, nil, &id); err != nil {
		return 0, fmt.Errorf("create bill %q: %w", bill.InvoiceNumber, err)
	}
	c.logger.Info("ledger.bill_created", "bill_id", id, "vendor_id", bill.VendorID, "ref", bill.InvoiceNumber)
	return id, nil
}

func (c *OdooClient) AttachDocument(ctx context.Context, billID int64, att Attachment) (int64, error) {
	var id int64
	err := c.executeKw(ctx, "ir.attachment", "create", []any{map[string]any{
		"name":      att.Filename,
		"res_model": "account.move",
		"res_id":    billID,
		"type":      "binary",
		"datas":     base64.StdEncoding.EncodeToString(att.Data),
		"mimetype":  att.MIMEType,
	}}, nil, &id)
	if err != nil {
		return 0, fmt.Errorf("attach %q: %w", att.Filename, err)
	}
	return id, nil
}

func (c *OdooClient) AddNote(ctx context.Context, billID int64, body string) error {
	return c.executeKw(ctx, "account.move", "message_post", []any{[]int64{billID}},
		map[string]any{"body": body, "message_type": "comment"}, nil)
}
