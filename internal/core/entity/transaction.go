package entity

import (
	"fmt"
	"time"

	"stockledger/internal/core/types"
)

// SourceDocumentType enumerates the documents allowed to move stock.
type SourceDocumentType string

const (
	DocGoodsReceipt          SourceDocumentType = "goods_receipt"
	DocGoodsReturn           SourceDocumentType = "goods_return"
	DocShipment              SourceDocumentType = "shipment"
	DocShipmentReturn        SourceDocumentType = "shipment_return"
	DocStockCount            SourceDocumentType = "stock_count"
	DocMaterialIssue         SourceDocumentType = "material_issue"
	DocMaterialReturn        SourceDocumentType = "material_return"
	DocTransfer              SourceDocumentType = "transfer"
	DocManualAdjustment      SourceDocumentType = "manual_adjustment"
	DocOpeningBalance        SourceDocumentType = "opening_balance"
	DocProductionConsumption SourceDocumentType = "production_consumption"
	DocProductionCompletion  SourceDocumentType = "production_completion"
	DocScrap                 SourceDocumentType = "scrap"
	DocWasteReceipt          SourceDocumentType = "waste_receipt"
)

var sourceDocumentTypes = map[SourceDocumentType]struct{}{
	DocGoodsReceipt: {}, DocGoodsReturn: {}, DocShipment: {}, DocShipmentReturn: {},
	DocStockCount: {}, DocMaterialIssue: {}, DocMaterialReturn: {}, DocTransfer: {},
	DocManualAdjustment: {}, DocOpeningBalance: {}, DocProductionConsumption: {},
	DocProductionCompletion: {}, DocScrap: {}, DocWasteReceipt: {},
}

// Valid reports whether t is one of the enumerated document types.
func (t SourceDocumentType) Valid() bool {
	_, ok := sourceDocumentTypes[t]
	return ok
}

// DocumentRef points at the business document behind a movement.
type DocumentRef struct {
	Type SourceDocumentType `json:"type"`
	ID   string             `json:"id"`
}

// Validate checks that the reference is complete.
func (d DocumentRef) Validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("unknown source document type %q", d.Type)
	}
	if d.ID == "" {
		return fmt.Errorf("source document id is required")
	}
	return nil
}

// OperationKind distinguishes original entries from reversals.
type OperationKind string

const (
	OperationInitial        OperationKind = "initial"
	OperationAdjust         OperationKind = "adjust"
	OperationDeleteReversal OperationKind = "delete_reversal"
)

// Valid reports whether k is a known kind.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationInitial, OperationAdjust, OperationDeleteReversal:
		return true
	}
	return false
}

// QuantityBucket names the ledger counter an entry moves.
type QuantityBucket string

const (
	BucketOnHand       QuantityBucket = "on_hand"
	BucketInTransit    QuantityBucket = "in_transit"
	BucketInProduction QuantityBucket = "in_production"
)

// IsInFlight reports whether b is one of the in-flight counters.
func (b QuantityBucket) IsInFlight() bool {
	return b == BucketInTransit || b == BucketInProduction
}

// TransactionEntry is an immutable fact about one quantity change.
// Entries are never updated or deleted; corrections are new entries
// with OperationDeleteReversal carrying the negated delta.
type TransactionEntry struct {
	ID int64 `db:"id" json:"id"`

	LedgerKey

	Bucket   QuantityBucket `db:"bucket" json:"bucket"`
	Quantity types.Quantity `db:"quantity" json:"quantity"`
	UnitCost *types.Money   `db:"unit_cost" json:"unitCost"`

	// BalanceAfter is the bucket value right after this entry was applied.
	BalanceAfter types.Quantity `db:"balance_after" json:"balanceAfter"`

	SourceDocumentType SourceDocumentType `db:"source_document_type" json:"sourceDocumentType"`
	SourceDocumentID   string             `db:"source_document_id" json:"sourceDocumentId"`

	OperationKind   OperationKind `db:"operation_kind" json:"operationKind"`
	ReversesEntryID *int64        `db:"reverses_entry_id" json:"reversesEntryId,omitempty"`

	OccurredAt time.Time `db:"occurred_at" json:"occurredAt"`
}

// Source returns the document reference of the entry.
func (e *TransactionEntry) Source() DocumentRef {
	return DocumentRef{Type: e.SourceDocumentType, ID: e.SourceDocumentID}
}

// IsReversal reports whether the entry corrects another one.
func (e *TransactionEntry) IsReversal() bool {
	return e.OperationKind == OperationDeleteReversal
}
