package catalog

import (
	"fmt"
	"strings"

	goeval "github.com/edisonguo/govaluate"
)

var predicateVariables = map[string]struct{}{
	"id":            struct{}{},
	"collection":    struct{}{},
	"path":          struct{}{},
	"polarisations": struct{}{},
	"orbit_pass":    struct{}{},
	"platform":      struct{}{},
	"acquired":      struct{}{},
}

// Predicate filters scenes on their metadata, e.g.
//
//	'VV' IN polarisations && orbit_pass == 'ASCENDING'
type Predicate struct {
	expr *goeval.EvaluableExpression
}

// NewPredicate parses expr. An empty expression matches every scene.
func NewPredicate(expr string) (*Predicate, error) {
	if len(strings.TrimSpace(expr)) == 0 {
		return &Predicate{}, nil
	}

	e, err := goeval.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("predicate %q: %v", expr, err)
	}

	for _, token := range e.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := predicateVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported in predicates", varName)
			}
		}
	}
	return &Predicate{expr: e}, nil
}

func (p *Predicate) Match(s *Scene) (bool, error) {
	if p == nil || p.expr == nil {
		return true, nil
	}

	pols := make([]interface{}, len(s.Polarisations))
	for i, v := range s.Polarisations {
		pols[i] = v
	}
	parameters := map[string]interface{}{
		"id":            s.ID,
		"collection":    s.Collection,
		"path":          s.Path,
		"polarisations": pols,
		"orbit_pass":    s.OrbitPass,
		"platform":      s.Platform,
		"acquired":      float64(s.AcquiredAt.UnixNano() / 1e6),
	}

	result, err := p.expr.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("predicate expression: %v", err)
	}
	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("predicate expression: result '%v' is not boolean", result)
	}
	return val, nil
}

// Filter keeps the scenes matching p.
func (p *Predicate) Filter(scenes []Scene) ([]Scene, error) {
	if p == nil || p.expr == nil {
		return scenes, nil
	}
	var out []Scene
	for i := range scenes {
		ok, err := p.Match(&scenes[i])
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, scenes[i])
		}
	}
	return out, nil
}
