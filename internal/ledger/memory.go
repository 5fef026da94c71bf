package ledger

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
	"invoicebridge/internal/vendor"
)

// MemoryLedger is a Client kept entirely in memory. It backs dry runs and
// tests; semantics mirror the JSON-RPC client as closely as the in-process
// setting allows.
type MemoryLedger struct {
	mu sync.Mutex

	vendors  []entity.VendorRecord
	accounts map[string]int64 // code or lowercased name -> id
	taxes    map[string]int64 // percentage string or lowercased name -> id

	bills       []memoryBill
	notes       map[int64][]string
	attachments map[int64][]Attachment

	nextVendorID int64
	nextBillID   int64
	nextAttachID int64
}

type memoryBill struct {
	id    int64
	input BillInput
	total entity.Cents
	sums  []string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:     map[string]int64{},
		taxes:        map[string]int64{},
		notes:        map[int64][]string{},
		attachments:  map[int64][]Attachment{},
		nextVendorID: 1,
		nextBillID:   1,
		nextAttachID: 1,
	}
}

// SeedVendor registers a supplier and returns its identifier.
func (m *MemoryLedger) SeedVendor(rec entity.VendorRecord) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextVendorID
	m.nextVendorID++
	m.vendors = append(m.vendors, rec)
	return rec.ID
}

// SeedAccount registers an account under its code and name.
func (m *MemoryLedger) SeedAccount(id int64, code, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code != "" {
		m.accounts[code] = id
	}
	if name != "" {
		m.accounts[strings.ToLower(name)] = id
	}
}

// SeedTax registers a purchase tax under its percentage and name.
func (m *MemoryLedger) SeedTax(id int64, percent, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if percent != "" {
		m.taxes[percent] = id
	}
	if name != "" {
		m.taxes[strings.ToLower(name)] = id
	}
}

func (m *MemoryLedger) SearchVendorsByTaxID(_ context.Context, taxID string) ([]entity.VendorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := vendor.NormalizeTaxID(taxID)
	var out []entity.VendorRecord
	for _, v := range m.vendors {
		if vendor.NormalizeTaxID(v.TaxID) == want && want != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryLedger) SearchVendorsByName(_ context.Context, name string, limit int) ([]entity.VendorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(name))
	var out []entity.VendorRecord
	for _, v := range m.vendors {
		if strings.Contains(strings.ToLower(v.Name), needle) {
			out = append(out, v)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryLedger) CreateVendor(_ context.Context, rec entity.VendorRecord) (int64, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return 0, fmt.Errorf("%w: vendor name required", common.ErrLedgerRejected)
	}
	return m.SeedVendor(rec), nil
}

func (m *MemoryLedger) ResolveAccount(_ context.Context, ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if id, ok := explicitID(ref); ok {
		return id, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.accounts[ref]; ok {
		return id, nil
	}
	if id, ok := m.accounts[strings.ToLower(ref)]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: account %q", common.ErrNotFound, ref)
}

func (m *MemoryLedger) ResolveTax(_ context.Context, ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if id, ok := explicitID(ref); ok {
		return id, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.taxes[ref]; ok {
		return id, nil
	}
	// "21.0" and "21" refer to the same rate
	if pct, err := strconv.ParseFloat(ref, 64); err == nil {
		if id, ok := m.taxes[strconv.FormatFloat(pct, 'f', -1, 64)]; ok {
			return id, nil
		}
	}
	if id, ok := m.taxes[strings.ToLower(ref)]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: tax %q", common.ErrNotFound, ref)
}

func (m *MemoryLedger) FindBill(_ context.Context, q BillQuery) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bills {
		if q.VendorID > 0 && q.InvoiceNumber != "" &&
			b.input.VendorID == q.VendorID && b.input.InvoiceNumber == q.InvoiceNumber {
			diff := b.total - q.GrandTotal
			if diff < 0 {
				diff = -diff
			}
			if q.GrandTotal == 0 || diff <= entity.TotalsTolerance {
				return b.id, true, nil
			}
		}
		if q.ChecksumSHA1 != "" {
			for _, sum := range b.sums {
				if sum == q.ChecksumSHA1 {
					return b.id, true, nil
				}
			}
		}
	}
	return 0, false, nil
}

func (m *MemoryLedger) CreateBill(_ context.Context, bill BillInput) (int64, error) {
	if bill.VendorID <= 0 {
		return 0, fmt.Errorf("%w: bill requires a vendor", common.ErrLedgerRejected)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var total float64
	for _, l := range bill.Lines {
		total += l.Quantity * l.UnitPrice
	}
	b := memoryBill{
		id:    m.nextBillID,
		input: bill,
		total: entity.Cents(math.Round(total * 100)),
	}
	m.nextBillID++
	m.bills = append(m.bills, b)
	return b.id, nil
}

func (m *MemoryLedger) AttachDocument(_ context.Context, billID int64, att Attachment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bills {
		if m.bills[i].id == billID {
			if att.ChecksumSHA1 != "" {
				m.bills[i].sums = append(m.bills[i].sums, att.ChecksumSHA1)
			}
			id := m.nextAttachID
			m.nextAttachID++
			m.attachments[billID] = append(m.attachments[billID], att)
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: bill %d", common.ErrNotFound, billID)
}

func (m *MemoryLedger) AddNote(_ context.Context, billID int64, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[billID] = append(m.notes[billID], body)
	return nil
}

// Bills returns the created bill inputs, for dry-run reporting and tests.
func (m *MemoryLedger) Bills() []BillInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BillInput, 0, len(m.bills))
	for _, b := range m.bills {
		out = append(out, b.input)
	}
	return out
}

// Notes returns the message thread of a bill.
func (m *MemoryLedger) Notes(billID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.notes[billID]...)
}
