package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Entity identifies a record collection.
type Entity string

const (
	EntityProduct      Entity = "product"
	EntityCustomer     Entity = "customer"
	EntityBill         Entity = "bill"
	EntityLedgerEntry  Entity = "ledger_entry"
	EntityExpense      Entity = "expense"
	EntityParty        Entity = "party"
	EntityStoreProfile Entity = "store_profile"
)

// Entities returns all entity types in migration order.
func Entities() []Entity {
	return []Entity{
		EntityStoreProfile,
		EntityProduct,
		EntityCustomer,
		EntityBill,
		EntityLedgerEntry,
		EntityExpense,
		EntityParty,
	}
}

// Valid reports whether the entity is a known collection.
func (e Entity) Valid() bool {
	switch e {
	case EntityProduct, EntityCustomer, EntityBill, EntityLedgerEntry,
		EntityExpense, EntityParty, EntityStoreProfile:
		return true
	}
	return false
}

// Path returns the URL path segment for the entity collection.
func (e Entity) Path() string {
	return string(e) + "s"
}

// Record is a persisted business record. Implementations are the seven
// concrete entity structs in this package; the interface is sealed so that
// identifier remapping stays exhaustive.
type Record interface {
	RecordID() string
	SetRecordID(id string)
	Entity() Entity
	Clone() Record

	rewriteRefs(oldID, newID string) bool
}

// Product is a catalog item.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Category  string          `json:"category,omitempty"`
	Price     decimal.Decimal `json:"price"`
	CostPrice decimal.Decimal `json:"cost_price,omitempty"`
	Stock     int             `json:"stock"`
	Unit      string          `json:"unit,omitempty"`
	Barcode   string          `json:"barcode,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (p *Product) RecordID() string      { return p.ID }
func (p *Product) SetRecordID(id string) { p.ID = id }
func (p *Product) Entity() Entity        { return EntityProduct }

func (p *Product) Clone() Record {
	c := *p
	return &c
}

func (p *Product) rewriteRefs(oldID, newID string) bool {
	if p.ID == oldID {
		p.ID = newID
		return true
	}
	return false
}

// Customer is a buyer with an optional khata balance.
type Customer struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone,omitempty"`
	Address   string          `json:"address,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

func (c *Customer) RecordID() string      { return c.ID }
func (c *Customer) SetRecordID(id string) { c.ID = id }
func (c *Customer) Entity() Entity        { return EntityCustomer }

func (c *Customer) Clone() Record {
	cp := *c
	return &cp
}

func (c *Customer) rewriteRefs(oldID, newID string) bool {
	if c.ID == oldID {
		c.ID = newID
		return true
	}
	return false
}

// BillItem is one line of a bill.
type BillItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
}

// Bill is a completed sale.
type Bill struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id,omitempty"`
	Items       []BillItem      `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Discount    decimal.Decimal `json:"discount,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Paid        bool            `json:"paid"`
	PaymentMode string          `json:"payment_mode,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (b *Bill) RecordID() string      { return b.ID }
func (b *Bill) SetRecordID(id string) { b.ID = id }
func (b *Bill) Entity() Entity        { return EntityBill }

func (b *Bill) Clone() Record {
	c := *b
	c.Items = make([]BillItem, len(b.Items))
	copy(c.Items, b.Items)
	return &c
}

func (b *Bill) rewriteRefs(oldID, newID string) bool {
	changed := false
	if b.ID == oldID {
		b.ID = newID
		changed = true
	}
	if b.CustomerID == oldID {
		b.CustomerID = newID
		changed = true
	}
	for i := range b.Items {
		if b.Items[i].ProductID == oldID {
			b.Items[i].ProductID = newID
			changed = true
		}
	}
	return changed
}

// LedgerEntry is a khata credit or payment against a customer.
type LedgerEntry struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	BillID     string          `json:"bill_id,omitempty"`
	Kind       string          `json:"kind"` // "credit" or "payment"
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (l *LedgerEntry) RecordID() string      { return l.ID }
func (l *LedgerEntry) SetRecordID(id string) { l.ID = id }
func (l *LedgerEntry) Entity() Entity        { return EntityLedgerEntry }

func (l *LedgerEntry) Clone() Record {
	c := *l
	return &c
}

func (l *LedgerEntry) rewriteRefs(oldID, newID string) bool {
	changed := false
	if l.ID == oldID {
		l.ID = newID
		changed = true
	}
	if l.CustomerID == oldID {
		l.CustomerID = newID
		changed = true
	}
	if l.BillID == oldID {
		l.BillID = newID
		changed = true
	}
	return changed
}

// Expense is a store outgoing.
type Expense struct {
	ID        string          `json:"id"`
	Category  string          `json:"category"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note,omitempty"`
	PaidTo    string          `json:"paid_to,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (e *Expense) RecordID() string      { return e.ID }
func (e *Expense) SetRecordID(id string) { e.ID = id }
func (e *Expense) Entity() Entity        { return EntityExpense }

func (e *Expense) Clone() Record {
	c := *e
	return &c
}

func (e *Expense) rewriteRefs(oldID, newID string) bool {
	if e.ID == oldID {
		e.ID = newID
		return true
	}
	return false
}

// Party is a supplier or wholesaler.
type Party struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone,omitempty"`
	Kind      string          `json:"kind,omitempty"` // "supplier" or "wholesaler"
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

func (p *Party) RecordID() string      { return p.ID }
func (p *Party) SetRecordID(id string) { p.ID = id }
func (p *Party) Entity() Entity        { return EntityParty }

func (p *Party) Clone() Record {
	c := *p
	return &c
}

func (p *Party) rewriteRefs(oldID, newID string) bool {
	if p.ID == oldID {
		p.ID = newID
		return true
	}
	return false
}

// StoreProfile describes the shop itself. The store keeps it as a
// one-element collection so every layer treats entities uniformly.
type StoreProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerName string    `json:"owner_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	GSTIN     string    `json:"gstin,omitempty"`
	UPIID     string    `json:"upi_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *StoreProfile) RecordID() string      { return s.ID }
func (s *StoreProfile) SetRecordID(id string) { s.ID = id }
func (s *StoreProfile) Entity() Entity        { return EntityStoreProfile }

func (s *StoreProfile) Clone() Record {
	c := *s
	return &c
}

func (s *StoreProfile) rewriteRefs(oldID, newID string) bool {
	if s.ID == oldID {
		s.ID = newID
		return true
	}
	return false
}

// RewriteRefs replaces every occurrence of oldID in the record, including
// cross-entity reference fields, and reports whether anything changed.
func RewriteRefs(r Record, oldID, newID string) bool {
	return r.rewriteRefs(oldID, newID)
}

// NewRecord returns an empty record of the given entity type.
func NewRecord(entity Entity) (Record, error) {
	switch entity {
	case EntityProduct:
		return &Product{}, nil
	case EntityCustomer:
		return &Customer{}, nil
	case EntityBill:
		return &Bill{}, nil
	case EntityLedgerEntry:
		return &LedgerEntry{}, nil
	case EntityExpense:
		return &Expense{}, nil
	case EntityParty:
		return &Party{}, nil
	case EntityStoreProfile:
		return &StoreProfile{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
}

// DecodeRecord parses a single JSON record of the given entity type.
func DecodeRecord(entity Entity, data []byte) (Record, error) {
	rec, err := NewRecord(entity)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", entity, err)
	}
	return rec, nil
}

// DecodeRecords parses a JSON array of records of the given entity type.
func DecodeRecords(entity Entity, data []byte) ([]Record, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", entity, err)
	}

	recs := make([]Record, 0, len(raws))
	for _, raw := range raws {
		rec, err := DecodeRecord(entity, raw)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// EncodeRecord marshals a single record.
func EncodeRecord(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.Entity(), err)
	}
	return data, nil
}

// EncodeRecords marshals records as a JSON array.
func EncodeRecords(recs []Record) ([]byte, error) {
	if recs == nil {
		recs = []Record{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return data, nil
}
