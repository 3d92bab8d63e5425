package filter

import "testing"

func TestMatches_Scalars(t *testing.T) {
	t.Parallel()

	attrs := map[string]any{
		"region": "eu",
		"tier":   "gold",
		"amount": 250,
	}

	tests := []struct {
		name   string
		policy Policy
		want   bool
	}{
		{name: "nil policy matches", policy: nil, want: true},
		{name: "empty policy matches", policy: Policy{}, want: true},
		{name: "exact match", policy: Policy{"region": "eu"}, want: true},
		{name: "exact mismatch", policy: Policy{"region": "us"}, want: false},
		{name: "all keys must match", policy: Policy{"region": "eu", "tier": "silver"}, want: false},
		{name: "numeric exact across types", policy: Policy{"amount": 250.0}, want: true},
		{name: "absent key", policy: Policy{"missing": "x"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(attrs, tt.policy); got != tt.want {
				t.Fatalf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatches_NilAttributes(t *testing.T) {
	t.Parallel()

	if !Matches(nil, nil) {
		t.Fatal("nil policy must match nil attributes")
	}
	if Matches(nil, Policy{"region": "eu"}) {
		t.Fatal("non-empty policy must not match nil attributes")
	}
}

func TestMatches_Operators(t *testing.T) {
	t.Parallel()

	attrs := map[string]any{
		"region": "eu-west-1",
		"amount": 250.0,
		"tier":   "gold",
	}

	tests := []struct {
		name   string
		policy Policy
		want   bool
	}{
		{name: "in hit", policy: Policy{"tier": In("gold", "platinum")}, want: true},
		{name: "in miss", policy: Policy{"tier": In("silver", "bronze")}, want: false},
		{name: "exists true", policy: Policy{"tier": Exists(true)}, want: true},
		{name: "exists false on present", policy: Policy{"tier": Exists(false)}, want: false},
		{name: "exists false on absent", policy: Policy{"missing": Exists(false)}, want: true},
		{name: "prefix hit", policy: Policy{"region": Prefix("eu-")}, want: true},
		{name: "prefix miss", policy: Policy{"region": Prefix("us-")}, want: false},
		{name: "prefix on non-string", policy: Policy{"amount": Prefix("2")}, want: false},
		{name: "ne hit", policy: Policy{"tier": Ne("silver")}, want: true},
		{name: "ne miss", policy: Policy{"tier": Ne("gold")}, want: false},
		{name: "ne matches absent", policy: Policy{"missing": Ne("anything")}, want: true},
		{name: "gt hit", policy: Policy{"amount": Gt(100)}, want: true},
		{name: "gt miss", policy: Policy{"amount": Gt(250)}, want: false},
		{name: "gte boundary", policy: Policy{"amount": Gte(250)}, want: true},
		{name: "lt miss", policy: Policy{"amount": Lt(250)}, want: false},
		{name: "lte boundary", policy: Policy{"amount": Lte(250)}, want: true},
		{name: "between inside", policy: Policy{"amount": Between(100, 300)}, want: true},
		{name: "between outside", policy: Policy{"amount": Between(300, 500)}, want: false},
		{name: "numeric op on string", policy: Policy{"tier": Gt(1)}, want: false},
		{name: "numeric op on absent", policy: Policy{"missing": Gt(1)}, want: false},
		{name: "multiple operators all hold", policy: Policy{"amount": Cond{"$gte": 100.0, "$lte": 300.0}}, want: true},
		{name: "multiple operators one fails", policy: Policy{"amount": Cond{"$gte": 100.0, "$lte": 200.0}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(attrs, tt.policy); got != tt.want {
				t.Fatalf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatches_ConditionLists(t *testing.T) {
	t.Parallel()

	attrs := map[string]any{"region": "eu", "amount": 50.0}

	// OR across the list for one key.
	policy := Policy{"region": []any{"us", "eu"}}
	if !Matches(attrs, policy) {
		t.Fatal("expected OR list to match on second entry")
	}

	// Mixed scalar and operator conditions.
	policy = Policy{"amount": []any{Gt(1000), Lt(100)}}
	if !Matches(attrs, policy) {
		t.Fatal("expected OR list with operator conditions to match")
	}

	policy = Policy{"amount": []any{Gt(1000), Gt(500)}}
	if Matches(attrs, policy) {
		t.Fatal("expected OR list with no matching entry to fail")
	}
}

func TestMatches_NestedPaths(t *testing.T) {
	t.Parallel()

	attrs := map[string]any{
		"order": map[string]any{
			"customer": map[string]any{
				"tier": "gold",
			},
			"total": 99.5,
		},
	}

	tests := []struct {
		name   string
		policy Policy
		want   bool
	}{
		{name: "two levels deep", policy: Policy{"order.customer.tier": "gold"}, want: true},
		{name: "one level deep numeric", policy: Policy{"order.total": Gt(50)}, want: true},
		{name: "path through scalar", policy: Policy{"order.total.cents": "x"}, want: false},
		{name: "missing leaf", policy: Policy{"order.customer.name": Exists(true)}, want: false},
		{name: "missing leaf exists false", policy: Policy{"order.customer.name": Exists(false)}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(attrs, tt.policy); got != tt.want {
				t.Fatalf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatches_IntegerWidths(t *testing.T) {
	t.Parallel()

	attrs := map[string]any{
		"i":   int32(7),
		"u":   uint8(7),
		"f32": float32(7),
	}

	for _, key := range []string{"i", "u", "f32"} {
		if !Matches(attrs, Policy{key: Gte(7)}) {
			t.Fatalf("expected %s to compare numerically", key)
		}
		if !Matches(attrs, Policy{key: 7}) {
			t.Fatalf("expected %s to equal 7 across numeric types", key)
		}
	}
}
