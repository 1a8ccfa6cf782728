package kafka

import (
	"fmt"
	"strings"

	goeval "github.com/edisonguo/govaluate"

	"github.com/mohammed-shakir/raster-extent-index/internal/dataset"
)

var filterVariables = map[string]struct{}{"id": {}, "product": {}, "archived": {}}

// Filter is an expression over id, product and archived that selects the
// datasets a runner indexes, e.g. `product in (1, 3) && archived == 0`.
// Numbers compare only with numbers, so archived is 1 or 0 rather than a
// boolean.
type Filter struct {
	src  string
	expr *goeval.EvaluableExpression
}

// ParseFilter returns nil for an empty expression.
func ParseFilter(s string) (*Filter, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	expr, err := goeval.NewEvaluableExpression(s)
	if err != nil {
		return nil, fmt.Errorf("ingest filter: %w", err)
	}
	for _, tok := range expr.Tokens() {
		if tok.Kind == goeval.BOOLEAN {
			return nil, fmt.Errorf("ingest filter: boolean literal %v cannot be compared, use archived == 1 or archived == 0", tok.Value)
		}
		if tok.Kind != goeval.VARIABLE {
			continue
		}
		name, ok := tok.Value.(string)
		if !ok {
			return nil, fmt.Errorf("ingest filter: variable token %v is not a string", tok.Value)
		}
		if _, found := filterVariables[name]; !found {
			return nil, fmt.Errorf("ingest filter: variable %q is not supported (id, product, archived)", name)
		}
	}
	return &Filter{src: s, expr: expr}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}

// Allow evaluates the filter for d. A nil filter allows everything.
func (f *Filter) Allow(d dataset.Description) (bool, error) {
	if f == nil {
		return true, nil
	}
	v, err := f.expr.Evaluate(map[string]interface{}{
		"id":       d.ID,
		"product":  float64(d.Product),
		"archived": archivedFlag(d.Archived),
	})
	if err != nil {
		return false, fmt.Errorf("ingest filter %q: %w", f.src, err)
	}
	ok, isBool := v.(bool)
	if !isBool {
		return false, fmt.Errorf("ingest filter %q: result %v is not boolean", f.src, v)
	}
	return ok, nil
}

func archivedFlag(archived bool) float64 {
	if archived {
		return 1
	}
	return 0
}
