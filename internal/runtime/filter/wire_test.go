package filter

import (
	"reflect"
	"testing"
)

func TestToWirePolicy_Empty(t *testing.T) {
	t.Parallel()

	if got := ToWirePolicy(nil); got != nil {
		t.Fatalf("expected nil wire policy, got %v", got)
	}
	if got := ToWirePolicy(Policy{}); got != nil {
		t.Fatalf("expected nil wire policy, got %v", got)
	}
}

func TestToWirePolicy_Scalars(t *testing.T) {
	t.Parallel()

	wire := ToWirePolicy(Policy{
		"region": "eu",
		"tiers":  []any{"gold", "platinum"},
	})

	want := WirePolicy{
		"region": {"eu"},
		"tiers":  {"gold", "platinum"},
	}
	if !reflect.DeepEqual(wire, want) {
		t.Fatalf("wire policy mismatch:\ngot  %v\nwant %v", wire, want)
	}
}

func TestToWirePolicy_Operators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy Policy
		want   []any
		key    string
	}{
		{
			name:   "in expands to members",
			policy: Policy{"tier": In("gold", "platinum")},
			key:    "tier",
			want:   []any{"gold", "platinum"},
		},
		{
			name:   "exists",
			policy: Policy{"tier": Exists(true)},
			key:    "tier",
			want:   []any{map[string]any{"exists": true}},
		},
		{
			name:   "prefix",
			policy: Policy{"region": Prefix("eu-")},
			key:    "region",
			want:   []any{map[string]any{"prefix": "eu-"}},
		},
		{
			name:   "ne becomes anything-but",
			policy: Policy{"tier": Ne("silver")},
			key:    "tier",
			want:   []any{map[string]any{"anything-but": []any{"silver"}}},
		},
		{
			name:   "gte",
			policy: Policy{"amount": Gte(100)},
			key:    "amount",
			want:   []any{map[string]any{"numeric": []any{">=", 100.0}}},
		},
		{
			name:   "between becomes two-sided numeric",
			policy: Policy{"amount": Between(100, 300)},
			key:    "amount",
			want:   []any{map[string]any{"numeric": []any{">=", 100.0, "<=", 300.0}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := ToWirePolicy(tt.policy)
			got, ok := wire[tt.key]
			if !ok {
				t.Fatalf("missing key %q in %v", tt.key, wire)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("condition mismatch:\ngot  %v\nwant %v", got, tt.want)
			}
		})
	}
}

func TestToWirePolicy_ConditionList(t *testing.T) {
	t.Parallel()

	wire := ToWirePolicy(Policy{
		"amount": []any{Gt(1000), "free"},
	})

	want := []any{
		map[string]any{"numeric": []any{">", 1000.0}},
		"free",
	}
	if !reflect.DeepEqual(wire["amount"], want) {
		t.Fatalf("condition mismatch:\ngot  %v\nwant %v", wire["amount"], want)
	}
}
