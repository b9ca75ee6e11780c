package reservation

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"stockledger/internal/core/entity"
	"stockledger/internal/core/id"
)

// DefaultEligibilityExpression never draws from expired batches.
const DefaultEligibilityExpression = `!has_expiry || expiry_date > now`

// EligibilityPolicy decides which ledgers a location-agnostic Reserve may draw from.
// It is a CEL boolean expression over:
//
//	has_expiry    bool
//	expiry_date   timestamp (zero when has_expiry is false)
//	now           timestamp
//	warehouse_id  string
//	location_id   string ("" when untracked)
//	batch_number  string ("" when untracked)
//	available     double
type EligibilityPolicy struct {
	expr    string
	program cel.Program
}

// NewEligibilityPolicy compiles expr. An empty expr selects DefaultEligibilityExpression.
func NewEligibilityPolicy(expr string) (*EligibilityPolicy, error) {
	if expr == "" {
		expr = DefaultEligibilityExpression
	}

	env, err := cel.NewEnv(
		cel.Variable("has_expiry", cel.BoolType),
		cel.Variable("expiry_date", cel.TimestampType),
		cel.Variable("now", cel.TimestampType),
		cel.Variable("warehouse_id", cel.StringType),
		cel.Variable("location_id", cel.StringType),
		cel.Variable("batch_number", cel.StringType),
		cel.Variable("available", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile eligibility %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("eligibility %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build eligibility program: %w", err)
	}
	return &EligibilityPolicy{expr: expr, program: prg}, nil
}

// MustEligibilityPolicy is NewEligibilityPolicy that panics. Use for constants and tests.
func MustEligibilityPolicy(expr string) *EligibilityPolicy {
	p, err := NewEligibilityPolicy(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Expression returns the source expression.
func (p *EligibilityPolicy) Expression() string {
	return p.expr
}

// Eligible evaluates the policy for l at now.
func (p *EligibilityPolicy) Eligible(l *entity.LocationLedger, now time.Time) (bool, error) {
	var expiry time.Time
	if l.ExpiryDate != nil {
		expiry = *l.ExpiryDate
	}
	batchNumber := ""
	if l.BatchNumber != nil {
		batchNumber = *l.BatchNumber
	}

	out, _, err := p.program.Eval(map[string]any{
		"has_expiry":   l.ExpiryDate != nil,
		"expiry_date":  expiry,
		"now":          now,
		"warehouse_id": l.WarehouseID.String(),
		"location_id":  id.OptionalString(l.LocationID),
		"batch_number": batchNumber,
		"available":    l.AvailableQty().InexactFloat64(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate eligibility for %s: %w", l.LedgerKey, err)
	}

	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("eligibility returned %T", out.Value())
	}
	return ok, nil
}
