package documents

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/numbering"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Config groups Service dependencies.
type Config struct {
	Store        Store
	Ledger       *inventory.Ledger
	Batches      *inventory.Batches
	Reservations *inventory.Reservations
	Accounting   AccountingPort
	Pricing      PricingPort
	Audit        AuditPort
	Approvals    ApprovalPort
	Observer     Observer
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Service drives the receipt, issue, transfer and count state machines.
// Every transition runs inside one Store transaction: it either commits all
// of its stock, batch, reservation and journal effects or none of them.
type Service struct {
	store        Store
	ledger       *inventory.Ledger
	batches      *inventory.Batches
	reservations *inventory.Reservations
	accounting   AccountingPort
	pricing      PricingPort
	audit        AuditPort
	approvals    ApprovalPort
	observer     Observer
	logger       *slog.Logger
	now          func() time.Time
}

// NewService builds Service.
func NewService(cfg Config) *Service {
	s := &Service{
		store:        cfg.Store,
		ledger:       cfg.Ledger,
		batches:      cfg.Batches,
		reservations: cfg.Reservations,
		accounting:   cfg.Accounting,
		pricing:      cfg.Pricing,
		audit:        cfg.Audit,
		approvals:    cfg.Approvals,
		observer:     cfg.Observer,
		logger:       cfg.Logger,
		now:          cfg.Clock,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.ledger == nil {
		s.ledger = inventory.NewLedger(inventory.LedgerConfig{Logger: s.logger, Clock: s.now})
	}
	if s.batches == nil {
		s.batches = inventory.NewBatches(inventory.BatchFIFO, s.now)
	}
	if s.reservations == nil {
		s.reservations = inventory.NewReservations(s.ledger, s.batches, 0, s.logger, s.now)
	}
	if s.pricing == nil {
		s.pricing = nopPricing{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

// PostDocument posts a receipt or an issue.
func (s *Service) PostDocument(ctx context.Context, tenant shared.TenantContext, ref Ref, actorID int64) (Result, error) {
	switch ref.Type {
	case TypeReceipt:
		return s.PostReceipt(ctx, tenant, ref.ID, actorID)
	case TypeIssue:
		return s.PostIssue(ctx, tenant, ref.ID, actorID)
	}
	return Result{}, ErrUnsupportedDocument
}

// UnpostDocument reverses a posted receipt or issue back to draft.
func (s *Service) UnpostDocument(ctx context.Context, tenant shared.TenantContext, ref Ref, actorID int64) error {
	switch ref.Type {
	case TypeReceipt:
		return s.UnpostReceipt(ctx, tenant, ref.ID, actorID)
	case TypeIssue:
		return s.UnpostIssue(ctx, tenant, ref.ID, actorID)
	}
	return ErrUnsupportedDocument
}

// CreateReceipt stores a draft receipt.
func (s *Service) CreateReceipt(ctx context.Context, tenant shared.TenantContext, r Receipt) (Receipt, error) {
	if err := tenant.Validate(); err != nil {
		return Receipt{}, err
	}
	if r.WarehouseID == 0 {
		return Receipt{}, inventory.ErrWarehouseNotFound
	}
	if r.Source == "" {
		return Receipt{}, fmt.Errorf("%w: source reason required", ErrInvalidLine)
	}
	for i := range r.Lines {
		l := &r.Lines[i]
		l.LineNo = i + 1
		if err := checkFigures(l.LineNo, l.Quantity, l.UnitCost); err != nil {
			return Receipt{}, err
		}
	}
	r.CompanyID, r.BranchID = tenant.CompanyID, tenant.BranchID
	r.Status = StatusDraft
	if r.Date.IsZero() {
		r.Date = s.now()
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		r, err = tx.Documents().InsertReceipt(ctx, r)
		return err
	})
	return r, err
}

// CreateIssue stores a draft issue.
func (s *Service) CreateIssue(ctx context.Context, tenant shared.TenantContext, i Issue) (Issue, error) {
	if err := tenant.Validate(); err != nil {
		return Issue{}, err
	}
	if i.WarehouseID == 0 {
		return Issue{}, inventory.ErrWarehouseNotFound
	}
	if i.Destination == "" {
		return Issue{}, fmt.Errorf("%w: destination reason required", ErrInvalidLine)
	}
	for n := range i.Lines {
		l := &i.Lines[n]
		l.LineNo = n + 1
		if err := checkFigures(l.LineNo, l.Quantity, l.UnitPrice); err != nil {
			return Issue{}, err
		}
	}
	i.CompanyID, i.BranchID = tenant.CompanyID, tenant.BranchID
	i.Status = StatusDraft
	if i.Date.IsZero() {
		i.Date = s.now()
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		i, err = tx.Documents().InsertIssue(ctx, i)
		return err
	})
	return i, err
}

// CreateTransfer stores a draft transfer.
func (s *Service) CreateTransfer(ctx context.Context, tenant shared.TenantContext, t Transfer) (Transfer, error) {
	if err := tenant.Validate(); err != nil {
		return Transfer{}, err
	}
	if t.SourceWarehouseID == 0 || t.DestinationWarehouseID == 0 {
		return Transfer{}, inventory.ErrWarehouseNotFound
	}
	if t.SourceWarehouseID == t.DestinationWarehouseID {
		return Transfer{}, ErrSameWarehouse
	}
	for n := range t.Lines {
		l := &t.Lines[n]
		l.LineNo = n + 1
		if err := checkFigures(l.LineNo, l.Quantity, decimal.Zero); err != nil {
			return Transfer{}, err
		}
		l.ReceivedQuantity = decimal.Zero
		l.UnitCost = decimal.Zero
		l.Batches = nil
	}
	t.CompanyID, t.BranchID = tenant.CompanyID, tenant.BranchID
	t.Status = StatusDraft
	if t.Date.IsZero() {
		t.Date = s.now()
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		t, err = tx.Documents().InsertTransfer(ctx, t)
		return err
	})
	return t, err
}

// CreateCount stores a planned count.
func (s *Service) CreateCount(ctx context.Context, tenant shared.TenantContext, c Count) (Count, error) {
	if err := tenant.Validate(); err != nil {
		return Count{}, err
	}
	if c.WarehouseID == 0 {
		return Count{}, inventory.ErrWarehouseNotFound
	}
	c.CompanyID, c.BranchID = tenant.CompanyID, tenant.BranchID
	c.Status = StatusPlanned
	c.Lines = nil
	if c.Date.IsZero() {
		c.Date = s.now()
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		c, err = tx.Documents().InsertCount(ctx, c)
		return err
	})
	return c, err
}

// Receipt loads a receipt.
func (s *Service) Receipt(ctx context.Context, tenant shared.TenantContext, id int64) (Receipt, error) {
	var out Receipt
	err := s.read(ctx, tenant, func(ctx context.Context, docs Repository) error {
		var err error
		out, err = docs.GetReceipt(ctx, tenant.CompanyID, id)
		return err
	})
	return out, err
}

// Issue loads an issue.
func (s *Service) Issue(ctx context.Context, tenant shared.TenantContext, id int64) (Issue, error) {
	var out Issue
	err := s.read(ctx, tenant, func(ctx context.Context, docs Repository) error {
		var err error
		out, err = docs.GetIssue(ctx, tenant.CompanyID, id)
		return err
	})
	return out, err
}

// Transfer loads a transfer.
func (s *Service) Transfer(ctx context.Context, tenant shared.TenantContext, id int64) (Transfer, error) {
	var out Transfer
	err := s.read(ctx, tenant, func(ctx context.Context, docs Repository) error {
		var err error
		out, err = docs.GetTransfer(ctx, tenant.CompanyID, id)
		return err
	})
	return out, err
}

// Count loads a count.
func (s *Service) Count(ctx context.Context, tenant shared.TenantContext, id int64) (Count, error) {
	var out Count
	err := s.read(ctx, tenant, func(ctx context.Context, docs Repository) error {
		var err error
		out, err = docs.GetCount(ctx, tenant.CompanyID, id)
		return err
	})
	return out, err
}

// drawNumber pre-draws the number an unnumbered document sitting in want
// receives on its next transition. It returns "" when none is needed.
func (s *Service) drawNumber(ctx context.Context, tenant shared.TenantContext, ref Ref, want Status) (string, error) {
	var (
		number string
		status Status
		date   time.Time
	)
	err := s.read(ctx, tenant, func(ctx context.Context, docs Repository) error {
		switch ref.Type {
		case TypeReceipt:
			d, err := docs.GetReceipt(ctx, tenant.CompanyID, ref.ID)
			number, status, date = d.Number, d.Status, d.Date
			return err
		case TypeIssue:
			d, err := docs.GetIssue(ctx, tenant.CompanyID, ref.ID)
			number, status, date = d.Number, d.Status, d.Date
			return err
		case TypeTransfer:
			d, err := docs.GetTransfer(ctx, tenant.CompanyID, ref.ID)
			number, status, date = d.Number, d.Status, d.Date
			return err
		case TypeCount:
			d, err := docs.GetCount(ctx, tenant.CompanyID, ref.ID)
			number, status, date = d.Number, d.Status, d.Date
			return err
		}
		return ErrUnsupportedDocument
	})
	if err != nil || number != "" || status != want {
		return "", err
	}
	return s.store.NextNumber(ctx, tenant.CompanyID, seriesFor[ref.Type], date.Year())
}

var seriesFor = map[Type]numbering.Series{
	TypeReceipt:  numbering.SeriesReceipt,
	TypeIssue:    numbering.SeriesIssue,
	TypeTransfer: numbering.SeriesTransfer,
	TypeCount:    numbering.SeriesCount,
}

// assignNumber keeps an existing number or takes the drawn one. Nothing drawn
// for an unnumbered document means it changed status after the draw.
func assignNumber(current, drawn string) (string, error) {
	if current != "" {
		return current, nil
	}
	if drawn == "" {
		return "", inventory.ErrConcurrentModification
	}
	return drawn, nil
}

func (s *Service) read(ctx context.Context, tenant shared.TenantContext, fn func(context.Context, Repository) error) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, tx.Documents())
	})
}

func checkFigures(lineNo int, qty, price decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("line %d: %w", lineNo, inventory.ErrInvalidQuantity)
	}
	if price.IsNegative() {
		return fmt.Errorf("line %d: %w", lineNo, inventory.ErrInvalidUnitCost)
	}
	return nil
}

func checkItem(ctx context.Context, inv inventory.TxRepository, companyID, itemID, variantID int64) (inventory.Item, error) {
	item, err := inv.GetItem(ctx, companyID, itemID)
	if err != nil {
		return inventory.Item{}, err
	}
	if err := item.CheckVariant(variantID); err != nil {
		return inventory.Item{}, err
	}
	return item, nil
}

// journal generates the posting of a document and reports its id.
func (s *Service) journal(ctx context.Context, tx Tx, tenant shared.TenantContext, docType Type, doc journals.Document, entries []journals.Entry) (*int64, error) {
	if s.accounting == nil || len(entries) == 0 {
		return nil, nil
	}
	posting, err := s.accounting.Generate(ctx, tx.Journals(), tenant, doc, entries)
	if err != nil {
		return nil, err
	}
	if posting == nil {
		s.observer.JournalSkipped(docType)
		return nil, nil
	}
	id := posting.ID
	return &id, nil
}

func (s *Service) unjournal(ctx context.Context, tx Tx, tenant shared.TenantContext, ref Ref) error {
	if s.accounting == nil {
		return nil
	}
	_, err := s.accounting.Remove(ctx, tx.Journals(), tenant, string(ref.Type), ref.ID)
	return err
}

func (s *Service) checkDependents(ctx context.Context, docs Repository, companyID int64, ref Ref) error {
	n, err := docs.CountDependents(ctx, companyID, ref)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrHasDependents
	}
	return nil
}

// reverseMovements undoes movements newest first. Receipts never reverse into
// negative stock; outbound movements restore their consumed batches.
func (s *Service) reverseMovements(ctx context.Context, inv inventory.TxRepository, movements []inventory.Movement) error {
	for i := len(movements) - 1; i >= 0; i-- {
		m := movements[i]
		if m.Inbound() {
			for _, c := range m.Batches {
				if err := s.batches.Deallocate(ctx, inv, m.Key, c); err != nil {
					return fmt.Errorf("line %d: %w", m.Document.LineNo, err)
				}
			}
		} else if err := s.batches.Restore(ctx, inv, m.Key, m.Batches); err != nil {
			return fmt.Errorf("line %d: %w", m.Document.LineNo, err)
		}
		bal, err := inv.GetBalance(ctx, m.Key)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Reverse(ctx, inv, bal, m, false); err != nil {
			return fmt.Errorf("line %d: %w", m.Document.LineNo, err)
		}
	}
	return nil
}

// record notes a committed transition. Audit failures are logged only.
func (s *Service) record(ctx context.Context, tenant shared.TenantContext, ref Ref, action string, actorID int64, meta map[string]any) {
	s.observer.DocumentTransition(ref.Type, action)
	s.logger.Info("document transition",
		slog.String("document", string(ref.Type)),
		slog.Int64("document_id", ref.ID),
		slog.String("action", action),
		slog.Int64("company_id", tenant.CompanyID),
	)
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Tenant:   tenant,
		ActorID:  actorID,
		Action:   string(ref.Type) + "." + action,
		Entity:   string(ref.Type),
		EntityID: strconv.FormatInt(ref.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err), slog.String("action", action))
	}
}

func (s *Service) approval(ctx context.Context, tenant shared.TenantContext, ref Ref, action shared.ApprovalAction, actorID int64, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Tenant:       tenant,
		DocumentType: string(ref.Type),
		DocumentID:   ref.ID,
		ActorID:      actorID,
		Action:       action,
		Note:         note,
		At:           s.now(),
	})
	if err != nil {
		s.logger.Warn("approval record failed", slog.Any("error", err))
	}
}

