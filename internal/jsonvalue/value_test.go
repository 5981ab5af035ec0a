package jsonvalue

import "testing"

func TestTruthy(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"null", NewNull(), false},
		{"false", NewBool(false), false},
		{"true", NewBool(true), true},
		{"zero", NewInt(0), false},
		{"nonzero", NewInt(1), true},
		{"empty string", NewString(""), false},
		{"string", NewString("x"), true},
		{"empty array", NewArray(nil), false},
		{"array", NewArray([]Value{NewInt(1)}), true},
		{"empty object", NewObject(nil), false},
		{"object", NewObject(map[string]Value{"a": NewInt(1)}), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.v.Truthy(); got != c.want {
				t.Errorf("Truthy() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestMarshalObjectDeterministic(t *testing.T) {
	v := NewObject(map[string]Value{"b": NewInt(2), "a": NewInt(1)})
	got := v.Stringify()
	want := `{"a":1,"b":2}`
	if got != want {
		t.Errorf("Stringify() = %q, want %q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	src := map[string]interface{}{
		"a": 1,
		"b": map[string]interface{}{"c": []interface{}{1, 2, 3}},
	}
	v := FromInterface(src)

	var decoded Value
	if err := decoded.UnmarshalJSON([]byte(v.Stringify())); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if !Equal(v, decoded) {
		t.Errorf("round trip mismatch: %v vs %v", v.Stringify(), decoded.Stringify())
	}
}

func TestFieldAndIndex(t *testing.T) {
	obj := NewObject(map[string]Value{"foo": NewInt(42)})
	got, ok := obj.Field("foo")
	if !ok {
		t.Fatal("expected field foo")
	}
	if i, ok := got.Int(); !ok || i != 42 {
		t.Errorf("Field(foo) = %v, want 42", i)
	}

	arr := NewArray([]Value{NewString("x"), NewString("y")})
	el, ok := arr.Index(1)
	if !ok {
		t.Fatal("expected index 1")
	}
	if s, _ := el.String(); s != "y" {
		t.Errorf("Index(1) = %q, want y", s)
	}

	if _, ok := arr.Index(5); ok {
		t.Error("Index out of range should be !ok")
	}
}
