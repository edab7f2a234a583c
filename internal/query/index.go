package query

import "strings"

// Index describes a pre-built index the planner may choose over a full
// scan: single-field, compound (multiple fields in one index), or a
// standing query registered for one exact predicate shape.
type Index struct {
	Name   string
	Fields []string // single entry for a single-field index, multiple for compound
}

// IndexSet holds the indexes registered for one map, plus standing queries
// keyed by a canonical predicate signature.
type IndexSet struct {
	SingleField map[string]Index // field -> index
	Compound    []Index
	Standing    map[string]Index // predicateSignature -> index
}

// NewIndexSet builds an empty IndexSet.
func NewIndexSet() *IndexSet {
	return &IndexSet{
		SingleField: make(map[string]Index),
		Compound:    nil,
		Standing:    make(map[string]Index),
	}
}

// AddSingleField registers a single-field index.
func (s *IndexSet) AddSingleField(field string, idx Index) { s.SingleField[field] = idx }

// AddCompound registers a compound index covering multiple fields.
func (s *IndexSet) AddCompound(idx Index) { s.Compound = append(s.Compound, idx) }

// AddStanding registers a StandingQueryIndex for the exact predicate shape
// signature (see predicateSignature).
func (s *IndexSet) AddStanding(signature string, idx Index) { s.Standing[signature] = idx }

// compoundCovering returns the first compound index whose field set is
// fully covered by eqFields, or nil if none matches.
func (s *IndexSet) compoundCovering(eqFields map[string]any) *Index {
	for i := range s.Compound {
		idx := s.Compound[i]
		covered := true
		for _, f := range idx.Fields {
			if _, ok := eqFields[f]; !ok {
				covered = false
				break
			}
		}
		if covered && len(idx.Fields) > 0 {
			return &idx
		}
	}
	return nil
}

// predicateSignature builds a stable string identifying a predicate's
// shape, used to match StandingQueryIndex registrations and cursor
// invalidation on predicate mismatch.
func predicateSignature(p Predicate) string {
	var sb strings.Builder
	writeSignature(&sb, p)
	return sb.String()
}

func writeSignature(sb *strings.Builder, p Predicate) {
	sb.WriteString(string(p.Kind))
	sb.WriteByte('(')
	if p.Field != "" {
		sb.WriteString(p.Field)
		sb.WriteByte(',')
	}
	for _, c := range p.Children {
		writeSignature(sb, c)
		sb.WriteByte(';')
	}
	sb.WriteByte(')')
}
