package query

// PlanKind names the strategy the planner chose.
type PlanKind string

const (
	PlanPointLookup      PlanKind = "PointLookup"
	PlanMultiPointLookup PlanKind = "MultiPointLookup"
	PlanIndexScanCompound PlanKind = "IndexScan(compound)"
	PlanIndexScan        PlanKind = "IndexScan"
	PlanFullScan         PlanKind = "FullScan"
	PlanStandingQuery    PlanKind = "StandingQueryIndex"
)

// Plan is the planner's chosen execution strategy for one query.
type Plan struct {
	Kind          PlanKind
	Cost          int
	PrimaryKeys   []string // for PointLookup/MultiPointLookup
	Index         *Index   // for IndexScan variants and StandingQueryIndex
	ResidualFilter Predicate
	NeedsFilter   bool
}

// Choose picks an execution strategy for predicate over the given index
// set. primaryKeyField is the field name treated as the map's primary key
// (conventionally "key").
func Choose(predicate Predicate, indexes *IndexSet, primaryKeyField string) Plan {
	eqFields := predicate.eqFields()

	if predicate.Kind == KindEq && predicate.Field == primaryKeyField {
		return Plan{Kind: PlanPointLookup, Cost: 1, PrimaryKeys: []string{toString(predicate.Value)}}
	}
	if predicate.Kind == KindIn && predicate.Field == primaryKeyField {
		keys := make([]string, 0, len(predicate.Values))
		for _, v := range predicate.Values {
			keys = append(keys, toString(v))
		}
		return Plan{Kind: PlanMultiPointLookup, Cost: len(keys), PrimaryKeys: keys}
	}

	if idx := indexes.compoundCovering(eqFields); idx != nil {
		return Plan{Kind: PlanIndexScanCompound, Cost: 2, Index: idx}
	}

	for field := range eqFields {
		if idx, ok := indexes.SingleField[field]; ok {
			return Plan{Kind: PlanIndexScan, Cost: 3, Index: &idx, ResidualFilter: predicate, NeedsFilter: true}
		}
	}

	if idx, ok := indexes.Standing[predicateSignature(predicate)]; ok {
		return Plan{Kind: PlanStandingQuery, Cost: 10, Index: &idx}
	}

	return Plan{Kind: PlanFullScan, Cost: 100, ResidualFilter: predicate, NeedsFilter: true}
}
