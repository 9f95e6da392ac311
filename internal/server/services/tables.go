package services

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/ledgersync/internal/common"
)

// Table declares a collection the server accepts and the fields every row
// of it must carry.
type Table struct {
	Name     string
	Required []string
}

// DefaultTables are the bookkeeping collections.
var DefaultTables = []Table{
	{Name: "customers", Required: []string{"name"}},
	{Name: "suppliers", Required: []string{"name"}},
	{Name: "transactions", Required: []string{"amount"}},
	{Name: "staff", Required: []string{"name"}},
	{Name: "attendance", Required: []string{"staff_id", "date"}},
	{Name: "invoices", Required: []string{"customer_id", "total"}},
	{Name: "cash_book", Required: []string{"amount"}},
	{Name: "inventory_items", Required: []string{"name"}},
	{Name: "stock_movements", Required: []string{"item_id", "quantity"}},
}

type Registry map[string]Table

func NewRegistry(tables ...Table) Registry {
	r := make(Registry, len(tables))
	for _, t := range tables {
		r[t.Name] = t
	}
	return r
}

func (r Registry) Lookup(name string) (Table, error) {
	t, ok := r[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: %q", common.ErrorUnknownTable, name)
	}
	return t, nil
}

// Validate reports the required fields that are absent, null or blank.
func (t Table) Validate(fields map[string]any) error {
	var missing []string
	for _, name := range t.Required {
		v, ok := fields[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s requires %s", common.ErrorValidation, t.Name, strings.Join(missing, ", "))
	}
	return nil
}

func stripReserved(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if !common.IsReservedField(k) {
			out[k] = v
		}
	}
	return out
}
