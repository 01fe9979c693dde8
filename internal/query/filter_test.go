package query

import "testing"

func strp(s string) *string { return &s }
func i64p(i int64) *int64   { return &i }
func boolp(b bool) *bool    { return &b }

func TestStringFilter_Eq(t *testing.T) {
	f := StringFilter{Eq: strp("foo")}
	if !f.Match("foo", false) {
		t.Fatal("expected match")
	}
	if f.Match("bar", false) {
		t.Fatal("expected no match")
	}
}

func TestStringFilter_InNin(t *testing.T) {
	f := StringFilter{In: []string{"a", "b"}}
	if !f.Match("a", false) || f.Match("c", false) {
		t.Fatal("_in failed")
	}
	f2 := StringFilter{Nin: []string{"a", "b"}}
	if f2.Match("a", false) || !f2.Match("c", false) {
		t.Fatal("_nin failed")
	}
}

func TestStringFilter_IsNull(t *testing.T) {
	f := StringFilter{IsNull: boolp(true)}
	if !f.Match("", true) {
		t.Fatal("expected null match")
	}
	if f.Match("x", false) {
		t.Fatal("expected non-null to fail is_null:true")
	}
}

func TestStringFilter_AndOr(t *testing.T) {
	f := StringFilter{And: []StringFilter{{Like: strp("foo")}, {Nlike: strp("bar")}}}
	if !f.Match("foobaz", false) {
		t.Fatal("expected AND match")
	}
	if f.Match("foobar", false) {
		t.Fatal("expected AND to reject")
	}

	or := StringFilter{Or: []StringFilter{{Eq: strp("a")}, {Eq: strp("b")}}}
	if !or.Match("b", false) || or.Match("c", false) {
		t.Fatal("OR failed")
	}
}

func TestIntFilter_Range(t *testing.T) {
	f := IntFilter{Gte: i64p(10), Lte: i64p(20)}
	if !f.Match(10, false) || !f.Match(20, false) {
		t.Fatal("expected inclusive bounds to match")
	}
	if f.Match(9, false) || f.Match(21, false) {
		t.Fatal("expected out-of-range to fail")
	}
}

func TestBoolFilter_Eq(t *testing.T) {
	f := BoolFilter{Eq: boolp(true)}
	if !f.Match(true) || f.Match(false) {
		t.Fatal("bool filter failed")
	}
	if !(BoolFilter{}).Match(false) {
		t.Fatal("empty filter should match anything")
	}
}
