package calc

import (
	"context"
	"encoding/json"
	"math"
	"testing"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"2+3", 5},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"10 % 3", 1},
		{"-5 + 3", -2},
		{"-(2 + 3)", -5},
		{"1.5 * 2", 3},
		{"2 - - 2", 4},
	}
	for _, tc := range cases {
		got, err := evaluate(tc.expr)
		if err != nil {
			t.Errorf("evaluate(%q): %v", tc.expr, err)
			continue
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvaluate_Errors(t *testing.T) {
	for _, expr := range []string{"", "2 +", "(2 + 3", "1 / 0", "2 & 3", "abc"} {
		if _, err := evaluate(expr); err == nil {
			t.Errorf("evaluate(%q) should fail", expr)
		}
	}
}

func TestCalc_Execute(t *testing.T) {
	out, err := New().Execute(context.Background(), json.RawMessage(`{"expression":"6 * 7"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var result struct {
		Result float64 `json:"result"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("result not JSON: %q", out)
	}
	if result.Result != 42 {
		t.Errorf("result = %v, want 42", result.Result)
	}
}

func TestCalc_ExecuteEmptyExpression(t *testing.T) {
	if _, err := New().Execute(context.Background(), json.RawMessage(`{"expression":"  "}`)); err == nil {
		t.Fatal("expected error for empty expression")
	}
}
