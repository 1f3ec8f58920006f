package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gridbase/gridbase-mcp/internal/coerce"
	"github.com/gridbase/gridbase-mcp/internal/fieldtypes"
	"github.com/gridbase/gridbase-mcp/internal/types"
)

// sortInMemory orders rows without the store, for degraded mode. It mirrors
// the compiled accessors: dates compare by calendar prefix, selects by the
// nested value attribute, numerics decimally, everything else as text. Null
// keys order last regardless of direction.
func sortInMemory(schema map[string]string, rows []types.Record, opts []types.SortOption) {
	if len(opts) == 0 {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, opt := range opts {
			cmp, decided := compareField(schema, rows[i], rows[j], opt)
			if decided {
				return cmp
			}
		}
		return rows[i].ID < rows[j].ID
	})
}

func compareField(schema map[string]string, a, b types.Record, opt types.SortOption) (bool, bool) {
	ka := sortKey(schema, a, opt.Field)
	kb := sortKey(schema, b, opt.Field)

	if ka.null != kb.null {
		return kb.null, true // non-null before null
	}
	if ka.null {
		return false, false
	}

	var less bool
	if ka.numeric && kb.numeric {
		if ka.num == kb.num {
			return false, false
		}
		less = ka.num < kb.num
	} else {
		if ka.text == kb.text {
			return false, false
		}
		less = ka.text < kb.text
	}
	if opt.Direction == types.SortDesc {
		return !less, true
	}
	return less, true
}

// memKey is one comparable sort key: numeric fields compare decimally,
// everything else as text.
type memKey struct {
	text    string
	num     float64
	numeric bool
	null    bool
}

func sortKey(schema map[string]string, rec types.Record, slug string) memKey {
	v, ok := rec.Data[slug]
	if !ok || v == nil {
		return memKey{null: true}
	}
	info, _ := fieldtypes.Lookup(schema[slug])

	switch info.Family {
	case fieldtypes.FamilyDate, fieldtypes.FamilyDueDate:
		if prefix, ok := coerce.DatePrefix(v); ok {
			return memKey{text: prefix}
		}
		return memKey{null: true}
	case fieldtypes.FamilyNumeric:
		if n, ok := coerce.Number(v); ok {
			return memKey{num: n, numeric: true}
		}
		return memKey{null: true}
	case fieldtypes.FamilySelect:
		if m, ok := v.(map[string]any); ok {
			if inner, ok := m["value"]; ok {
				return memKey{text: strings.ToLower(fmt.Sprint(inner))}
			}
			return memKey{null: true}
		}
		return memKey{text: strings.ToLower(fmt.Sprint(v))}
	default:
		return memKey{text: strings.ToLower(fmt.Sprint(v))}
	}
}
