// Package memstore is an in-memory, transactional implementation of the
// ledger, journal and document repositories for tests. Each transaction works
// on a copy of the state which replaces the committed state only when the
// callback returns nil.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/numbering"
)

type companyKey struct{ company, id int64 }

type batchKey struct {
	key    inventory.BalanceKey
	number string
}

type seqKey struct {
	company int64
	series  numbering.Series
	year    int
}

type state struct {
	nextID       int64
	items        map[companyKey]inventory.Item
	warehouses   map[companyKey]inventory.Warehouse
	balances     map[inventory.BalanceKey]inventory.Balance
	movements    []inventory.Movement
	batches      map[batchKey]inventory.Batch
	reservations map[int64]inventory.Reservation
	postings     map[int64]journals.Posting
	receipts     map[int64]documents.Receipt
	issues       map[int64]documents.Issue
	transfers    map[int64]documents.Transfer
	counts       map[int64]documents.Count
	sequences    map[seqKey]int64
	dependents   map[documents.Ref]int
}

func newState() *state {
	return &state{
		items:        map[companyKey]inventory.Item{},
		warehouses:   map[companyKey]inventory.Warehouse{},
		balances:     map[inventory.BalanceKey]inventory.Balance{},
		batches:      map[batchKey]inventory.Batch{},
		reservations: map[int64]inventory.Reservation{},
		postings:     map[int64]journals.Posting{},
		receipts:     map[int64]documents.Receipt{},
		issues:       map[int64]documents.Issue{},
		transfers:    map[int64]documents.Transfer{},
		counts:       map[int64]documents.Count{},
		sequences:    map[seqKey]int64{},
		dependents:   map[documents.Ref]int{},
	}
}

func cloneMap[K comparable, V any](m map[K]V, cp func(V) V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		if cp != nil {
			v = cp(v)
		}
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		nextID:       s.nextID,
		items:        cloneMap(s.items, cloneItem),
		warehouses:   cloneMap(s.warehouses, nil),
		balances:     cloneMap(s.balances, nil),
		movements:    slices.Clone(s.movements),
		batches:      cloneMap(s.batches, nil),
		reservations: cloneMap(s.reservations, nil),
		postings:     cloneMap(s.postings, clonePosting),
		receipts:     cloneMap(s.receipts, cloneReceipt),
		issues:       cloneMap(s.issues, cloneIssue),
		transfers:    cloneMap(s.transfers, cloneTransfer),
		counts:       cloneMap(s.counts, cloneCount),
		sequences:    cloneMap(s.sequences, nil),
		dependents:   cloneMap(s.dependents, nil),
	}
}

func cloneItem(i inventory.Item) inventory.Item {
	i.VariantIDs = slices.Clone(i.VariantIDs)
	return i
}

func clonePosting(p journals.Posting) journals.Posting {
	p.Lines = slices.Clone(p.Lines)
	return p
}

func cloneReceipt(d documents.Receipt) documents.Receipt {
	d.Lines = slices.Clone(d.Lines)
	return d
}

func cloneIssue(d documents.Issue) documents.Issue {
	d.Lines = slices.Clone(d.Lines)
	return d
}

func cloneTransfer(d documents.Transfer) documents.Transfer {
	d.Lines = slices.Clone(d.Lines)
	for i := range d.Lines {
		d.Lines[i].Batches = slices.Clone(d.Lines[i].Batches)
	}
	return d
}

func cloneCount(d documents.Count) documents.Count {
	d.Lines = slices.Clone(d.Lines)
	return d
}

// Store holds the committed state. Transactions are serialised.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
	// Commits counts successful transactions.
	Commits int
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) run(ctx context.Context, fn func(*Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(&Tx{state: work}); err != nil {
		return err
	}
	s.state = work
	s.Commits++
	return nil
}

type inventoryPort struct{ s *Store }

func (p inventoryPort) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return p.s.run(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// Inventory exposes the store as the ledger repository.
func (s *Store) Inventory() inventory.RepositoryPort {
	return inventoryPort{s: s}
}

type documentsPort struct{ s *Store }

func (p documentsPort) WithTx(ctx context.Context, fn func(context.Context, documents.Tx) error) error {
	return p.s.run(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// NextNumber commits straight to the sequence table, like the pool-backed
// draw in PostgreSQL. Calling it from inside WithTx deadlocks.
func (p documentsPort) NextNumber(ctx context.Context, companyID int64, series numbering.Series, year int) (string, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	k := seqKey{companyID, series, year}
	p.s.state.sequences[k]++
	return numbering.Format(series, year, p.s.state.sequences[k]), nil
}

// Documents exposes the store as the document unit of work.
func (s *Store) Documents() documents.Store {
	return documentsPort{s: s}
}

// Seed runs fn against the committed state outside any service call.
func (s *Store) Seed(fn func(tx *Tx)) {
	_ = s.run(context.Background(), func(tx *Tx) error {
		fn(tx)
		return nil
	})
}

// Tx is one transaction's view of the state.
type Tx struct {
	state *state
}

func (t *Tx) id() int64 {
	t.state.nextID++
	return t.state.nextID
}

func (t *Tx) Inventory() inventory.TxRepository { return t }
func (t *Tx) Journals() journals.TxRepository   { return t }
func (t *Tx) Documents() documents.Repository   { return t }

// AddItem registers an item.
func (t *Tx) AddItem(item inventory.Item) {
	t.state.items[companyKey{item.CompanyID, item.ID}] = cloneItem(item)
}

// AddWarehouse registers a warehouse.
func (t *Tx) AddWarehouse(w inventory.Warehouse) {
	t.state.warehouses[companyKey{w.CompanyID, w.ID}] = w
}

// SetDependents records payments or allocations against a document.
func (t *Tx) SetDependents(ref documents.Ref, n int) {
	t.state.dependents[ref] = n
}

// Balance returns the committed balance for key, zero when absent.
func (s *Store) Balance(key inventory.BalanceKey) inventory.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.balances[key]
}

// Movements returns every stored movement in insertion order.
func (s *Store) Movements() []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.movements)
}

// Postings returns every stored posting.
func (s *Store) Postings() []journals.Posting {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]journals.Posting, 0, len(s.state.postings))
	for _, p := range s.state.postings {
		out = append(out, clonePosting(p))
	}
	slices.SortFunc(out, func(a, b journals.Posting) int { return int(a.ID - b.ID) })
	return out
}

// Batch returns a committed batch.
func (s *Store) Batch(key inventory.BalanceKey, number string) (inventory.Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.batches[batchKey{key, number}]
	return b, ok
}

// Reservation returns a committed reservation.
func (s *Store) Reservation(id int64) (inventory.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.reservations[id]
	return r, ok
}

// inventory.TxRepository

func (t *Tx) GetItem(_ context.Context, companyID, itemID int64) (inventory.Item, error) {
	item, ok := t.state.items[companyKey{companyID, itemID}]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return cloneItem(item), nil
}

func (t *Tx) GetWarehouse(_ context.Context, companyID, warehouseID int64) (inventory.Warehouse, error) {
	w, ok := t.state.warehouses[companyKey{companyID, warehouseID}]
	if !ok {
		return inventory.Warehouse{}, inventory.ErrWarehouseNotFound
	}
	return w, nil
}

func (t *Tx) GetBalance(_ context.Context, key inventory.BalanceKey) (inventory.Balance, error) {
	b, ok := t.state.balances[key]
	if !ok {
		return inventory.Balance{}, inventory.ErrBalanceNotFound
	}
	return b, nil
}

func (t *Tx) ListBalances(_ context.Context, companyID, warehouseID int64) ([]inventory.Balance, error) {
	var out []inventory.Balance
	for k, b := range t.state.balances {
		if k.CompanyID == companyID && k.WarehouseID == warehouseID {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b inventory.Balance) int {
		if a.Key.ItemID != b.Key.ItemID {
			return int(a.Key.ItemID - b.Key.ItemID)
		}
		return int(a.Key.VariantID - b.Key.VariantID)
	})
	return out, nil
}

func (t *Tx) InsertBalance(_ context.Context, b inventory.Balance) (inventory.Balance, error) {
	if _, ok := t.state.balances[b.Key]; ok {
		return inventory.Balance{}, fmt.Errorf("%w: balance %s exists", inventory.ErrConcurrentModification, b.Key)
	}
	if b.Version == 0 {
		b.Version = 1
	}
	b.ID = t.id()
	t.state.balances[b.Key] = b
	return b, nil
}

func (t *Tx) CompareAndSwapBalance(_ context.Context, b inventory.Balance, expectedVersion int64) (inventory.Balance, error) {
	cur, ok := t.state.balances[b.Key]
	if !ok || cur.ID != b.ID || cur.Version != expectedVersion {
		return inventory.Balance{}, inventory.ErrConcurrentModification
	}
	b.Version = expectedVersion + 1
	t.state.balances[b.Key] = b
	return b, nil
}

func (t *Tx) InsertMovement(_ context.Context, m inventory.Movement) (inventory.Movement, error) {
	m.ID = t.id()
	m.Batches = slices.Clone(m.Batches)
	t.state.movements = append(t.state.movements, m)
	return m, nil
}

func (t *Tx) DeleteMovement(_ context.Context, id int64) error {
	i := slices.IndexFunc(t.state.movements, func(m inventory.Movement) bool { return m.ID == id })
	if i < 0 {
		return inventory.ErrMovementNotFound
	}
	t.state.movements = slices.Delete(t.state.movements, i, i+1)
	return nil
}

func (t *Tx) ListDocumentMovements(_ context.Context, companyID int64, docType string, docID int64) ([]inventory.Movement, error) {
	reversed := map[int64]bool{}
	for _, m := range t.state.movements {
		if m.ReversalOfID != 0 {
			reversed[m.ReversalOfID] = true
		}
	}
	var out []inventory.Movement
	for _, m := range t.state.movements {
		if m.Key.CompanyID != companyID || m.Document.Type != docType || m.Document.ID != docID {
			continue
		}
		if m.ReversalOfID != 0 || reversed[m.ID] {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (t *Tx) ListMovements(_ context.Context, filter inventory.StockCardFilter) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, m := range t.state.movements {
		if m.Key != filter.Key {
			continue
		}
		if !filter.From.IsZero() && m.PostedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && m.PostedAt.After(filter.To) {
			continue
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b inventory.Movement) int { return a.PostedAt.Compare(b.PostedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *Tx) GetBatch(_ context.Context, key inventory.BalanceKey, number string) (inventory.Batch, error) {
	b, ok := t.state.batches[batchKey{key, number}]
	if !ok {
		return inventory.Batch{}, inventory.ErrBatchNotFound
	}
	return b, nil
}

func (t *Tx) SaveBatch(_ context.Context, b inventory.Batch) (inventory.Batch, error) {
	if b.Quantity.LessThan(b.Reserved) || b.Reserved.IsNegative() {
		return inventory.Batch{}, inventory.ErrInsufficientQuantity
	}
	k := batchKey{b.Key, b.Number}
	if cur, ok := t.state.batches[k]; ok {
		b.ID = cur.ID
		b.ReceivedAt = cur.ReceivedAt
		b.ManufacturedAt = cur.ManufacturedAt
	} else {
		b.ID = t.id()
	}
	t.state.batches[k] = b
	return b, nil
}

func (t *Tx) ListOpenBatches(_ context.Context, key inventory.BalanceKey) ([]inventory.Batch, error) {
	var out []inventory.Batch
	for k, b := range t.state.batches {
		if k.key == key && b.Quantity.GreaterThan(b.Reserved) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b inventory.Batch) int {
		if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	return out, nil
}

func (t *Tx) InsertReservation(_ context.Context, r inventory.Reservation) (inventory.Reservation, error) {
	r.ID = t.id()
	t.state.reservations[r.ID] = r
	return r, nil
}

func (t *Tx) GetReservation(_ context.Context, companyID, id int64) (inventory.Reservation, error) {
	r, ok := t.state.reservations[id]
	if !ok || r.Key.CompanyID != companyID {
		return inventory.Reservation{}, inventory.ErrReservationNotFound
	}
	return r, nil
}

func (t *Tx) UpdateReservationStatus(_ context.Context, id int64, from, to inventory.ReservationStatus, at time.Time) error {
	r, ok := t.state.reservations[id]
	if !ok || r.Status != from {
		return inventory.ErrConcurrentModification
	}
	r.Status = to
	r.UpdatedAt = at
	t.state.reservations[id] = r
	return nil
}

func (t *Tx) ListExpiredReservations(_ context.Context, filter inventory.ExpiryFilter) ([]inventory.Reservation, error) {
	var out []inventory.Reservation
	for _, r := range t.state.reservations {
		if r.Status != inventory.ReservationActive || !r.ExpiresAt.Before(filter.Before) {
			continue
		}
		if filter.Key != nil && r.Key != *filter.Key {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b inventory.Reservation) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// journals.TxRepository

func (t *Tx) InsertPosting(_ context.Context, p journals.Posting) (journals.Posting, error) {
	for _, cur := range t.state.postings {
		if cur.CompanyID == p.CompanyID && cur.DocumentType == p.DocumentType && cur.DocumentID == p.DocumentID {
			return journals.Posting{}, fmt.Errorf("memstore: posting for %s %d exists", p.DocumentType, p.DocumentID)
		}
	}
	p.ID = t.id()
	p.Lines = slices.Clone(p.Lines)
	t.state.postings[p.ID] = p
	return p, nil
}

func (t *Tx) GetPostingByDocument(_ context.Context, companyID int64, docType string, docID int64) (journals.Posting, error) {
	for _, p := range t.state.postings {
		if p.CompanyID == companyID && p.DocumentType == docType && p.DocumentID == docID {
			return clonePosting(p), nil
		}
	}
	return journals.Posting{}, journals.ErrPostingNotFound
}

func (t *Tx) DeletePosting(_ context.Context, id int64) error {
	if _, ok := t.state.postings[id]; !ok {
		return journals.ErrPostingNotFound
	}
	delete(t.state.postings, id)
	return nil
}

// documents.Repository

func (t *Tx) GetReceipt(_ context.Context, companyID, id int64) (documents.Receipt, error) {
	d, ok := t.state.receipts[id]
	if !ok || d.CompanyID != companyID {
		return documents.Receipt{}, documents.ErrDocumentNotFound
	}
	return cloneReceipt(d), nil
}

func (t *Tx) GetIssue(_ context.Context, companyID, id int64) (documents.Issue, error) {
	d, ok := t.state.issues[id]
	if !ok || d.CompanyID != companyID {
		return documents.Issue{}, documents.ErrDocumentNotFound
	}
	return cloneIssue(d), nil
}

func (t *Tx) GetTransfer(_ context.Context, companyID, id int64) (documents.Transfer, error) {
	d, ok := t.state.transfers[id]
	if !ok || d.CompanyID != companyID {
		return documents.Transfer{}, documents.ErrDocumentNotFound
	}
	return cloneTransfer(d), nil
}

func (t *Tx) GetCount(_ context.Context, companyID, id int64) (documents.Count, error) {
	d, ok := t.state.counts[id]
	if !ok || d.CompanyID != companyID {
		return documents.Count{}, documents.ErrDocumentNotFound
	}
	return cloneCount(d), nil
}

func (t *Tx) InsertReceipt(_ context.Context, d documents.Receipt) (documents.Receipt, error) {
	d.ID = t.id()
	t.state.receipts[d.ID] = cloneReceipt(d)
	return d, nil
}

func (t *Tx) InsertIssue(_ context.Context, d documents.Issue) (documents.Issue, error) {
	d.ID = t.id()
	t.state.issues[d.ID] = cloneIssue(d)
	return d, nil
}

func (t *Tx) InsertTransfer(_ context.Context, d documents.Transfer) (documents.Transfer, error) {
	d.ID = t.id()
	t.state.transfers[d.ID] = cloneTransfer(d)
	return d, nil
}

func (t *Tx) InsertCount(_ context.Context, d documents.Count) (documents.Count, error) {
	d.ID = t.id()
	t.state.counts[d.ID] = cloneCount(d)
	return d, nil
}

func (t *Tx) UpdateStatus(_ context.Context, ref documents.Ref, from, to documents.Status, stamp documents.Stamp) error {
	at := stamp.At
	switch ref.Type {
	case documents.TypeReceipt:
		d, ok := t.state.receipts[ref.ID]
		if !ok || d.Status != from {
			return inventory.ErrConcurrentModification
		}
		d.Status = to
		d.Number = pick(stamp.Number, d.Number)
		d.PostedAt, d.PostedBy = postedStamp(to, at, stamp.ActorID)
		t.state.receipts[ref.ID] = d
	case documents.TypeIssue:
		d, ok := t.state.issues[ref.ID]
		if !ok || d.Status != from {
			return inventory.ErrConcurrentModification
		}
		d.Status = to
		d.Number = pick(stamp.Number, d.Number)
		d.PostedAt, d.PostedBy = postedStamp(to, at, stamp.ActorID)
		t.state.issues[ref.ID] = d
	case documents.TypeTransfer:
		d, ok := t.state.transfers[ref.ID]
		if !ok || d.Status != from {
			return inventory.ErrConcurrentModification
		}
		d.Status = to
		d.Number = pick(stamp.Number, d.Number)
		switch to {
		case documents.StatusApproved:
			d.ApprovedBy = stamp.ActorID
		case documents.StatusInTransit:
			d.SentAt = &at
		case documents.StatusReceived:
			d.ReceivedAt = &at
		}
		t.state.transfers[ref.ID] = d
	case documents.TypeCount:
		d, ok := t.state.counts[ref.ID]
		if !ok || d.Status != from {
			return inventory.ErrConcurrentModification
		}
		d.Status = to
		d.Number = pick(stamp.Number, d.Number)
		if to == documents.StatusProcessed {
			d.ProcessedAt = &at
		}
		t.state.counts[ref.ID] = d
	default:
		return documents.ErrUnsupportedDocument
	}
	return nil
}

func pick(next, cur string) string {
	if next != "" {
		return next
	}
	return cur
}

func postedStamp(to documents.Status, at time.Time, actor int64) (*time.Time, int64) {
	if to != documents.StatusPosted {
		return nil, 0
	}
	return &at, actor
}

func (t *Tx) SaveTransferLines(_ context.Context, transferID int64, lines []documents.TransferLine) error {
	d, ok := t.state.transfers[transferID]
	if !ok {
		return documents.ErrDocumentNotFound
	}
	d.Lines = lines
	t.state.transfers[transferID] = cloneTransfer(d)
	return nil
}

func (t *Tx) SaveCountLines(_ context.Context, countID int64, lines []documents.CountLine) error {
	d, ok := t.state.counts[countID]
	if !ok {
		return documents.ErrDocumentNotFound
	}
	d.Lines = slices.Clone(lines)
	t.state.counts[countID] = d
	return nil
}

func (t *Tx) CountDependents(_ context.Context, _ int64, ref documents.Ref) (int, error) {
	return t.state.dependents[ref], nil
}

// Dec parses a decimal literal, panicking on malformed input.
func Dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
