package filter

// WirePolicy is the externally-specified filter grammar understood by
// transports with native server-side filtering (the SNS filter-policy shape:
// each key maps to an OR list of exact values and operator objects). The
// translation is stateless and has no behavioral divergence from Matches.
type WirePolicy map[string][]any

// ToWirePolicy converts a local policy into the wire grammar. Conditions that
// cannot be expressed ($between becomes a two-sided numeric comparator) are
// mapped to their closest equivalent; unknown operators are dropped.
func ToWirePolicy(policy Policy) WirePolicy {
	if len(policy) == 0 {
		return nil
	}

	wire := make(WirePolicy, len(policy))
	for key, condition := range policy {
		var encoded []any
		if list, ok := asConditionList(condition); ok {
			for _, c := range list {
				encoded = append(encoded, encodeCondition(c)...)
			}
		} else {
			encoded = encodeCondition(condition)
		}
		if len(encoded) > 0 {
			wire[key] = encoded
		}
	}
	return wire
}

func encodeCondition(condition any) []any {
	ops, ok := asOperatorMap(condition)
	if !ok {
		return []any{condition}
	}

	var encoded []any
	var numeric []any
	for op, arg := range ops {
		switch op {
		case "$in":
			if members, ok := asConditionList(arg); ok {
				encoded = append(encoded, members...)
			}
		case "$exists":
			encoded = append(encoded, map[string]any{"exists": arg})
		case "$prefix":
			encoded = append(encoded, map[string]any{"prefix": arg})
		case "$ne":
			encoded = append(encoded, map[string]any{"anything-but": []any{arg}})
		case "$gt":
			numeric = append(numeric, ">", arg)
		case "$gte":
			numeric = append(numeric, ">=", arg)
		case "$lt":
			numeric = append(numeric, "<", arg)
		case "$lte":
			numeric = append(numeric, "<=", arg)
		case "$between":
			if low, high, ok := betweenBounds(arg); ok {
				numeric = append(numeric, ">=", low, "<=", high)
			}
		}
	}
	if len(numeric) > 0 {
		encoded = append(encoded, map[string]any{"numeric": numeric})
	}
	return encoded
}
