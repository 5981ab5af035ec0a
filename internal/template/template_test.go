package template

import (
	"math/rand"
	"testing"

	"github.com/pewpew/pewpew/internal/jsonvalue"
)

func TestParseAndEvalLiteralAndHole(t *testing.T) {
	tpl, err := Parse("/users/{{userId}}/orders")
	if err != nil {
		t.Fatal(err)
	}
	env := NewEnv()
	env.Bind("userId", jsonvalue.NewString("abc123"))
	out, err := tpl.Eval(env, DefaultHelpers())
	if err != nil {
		t.Fatal(err)
	}
	if out != "/users/abc123/orders" {
		t.Errorf("got %q", out)
	}
}

func TestSharedTakeSameReferenceSameValue(t *testing.T) {
	// Two {{foo}} references in one template share the single bound
	// value, since Bind happens once per iteration.
	tpl, err := Parse(`{"v":{{foo}},"w":{{foo}}}`)
	if err != nil {
		t.Fatal(err)
	}
	env := NewEnv()
	env.Bind("foo", jsonvalue.NewInt(42))
	out, err := tpl.Eval(env, DefaultHelpers())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"v":42,"w":42}`
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestMissingReferenceIsTemplateError(t *testing.T) {
	tpl, err := Parse("{{missing}}")
	if err != nil {
		t.Fatal(err)
	}
	_, err = tpl.Eval(NewEnv(), DefaultHelpers())
	if err == nil {
		t.Fatal("expected error for unresolved reference")
	}
}

func TestReferencesDedup(t *testing.T) {
	tpl, err := Parse("{{a}}-{{b}}-{{a}}")
	if err != nil {
		t.Fatal(err)
	}
	refs := tpl.References()
	if len(refs) != 2 {
		t.Fatalf("References() = %v, want 2 distinct", refs)
	}
}

func TestFieldHelper(t *testing.T) {
	tpl, err := Parse("{{resp|field(id)}}")
	if err != nil {
		t.Fatal(err)
	}
	obj := jsonvalue.NewObject(map[string]jsonvalue.Value{"id": jsonvalue.NewInt(7)})
	env := NewEnv()
	env.Bind("resp", obj)
	out, err := tpl.Eval(env, DefaultHelpers())
	if err != nil {
		t.Fatal(err)
	}
	if out != "7" {
		t.Errorf("got %q, want 7", out)
	}
}

func TestDottedFieldAccess(t *testing.T) {
	tpl, err := Parse("{{response.id}}")
	if err != nil {
		t.Fatal(err)
	}
	obj := jsonvalue.NewObject(map[string]jsonvalue.Value{"id": jsonvalue.NewString("xyz")})
	env := NewEnv()
	env.Bind("response", obj)
	out, err := tpl.Eval(env, DefaultHelpers())
	if err != nil {
		t.Fatal(err)
	}
	if out != "xyz" {
		t.Errorf("got %q, want xyz", out)
	}
}

func TestParseDeclarePlain(t *testing.T) {
	spec, err := ParseDeclare("tok", "authProvider")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Kind != DeclareSingle || spec.Provider != "authProvider" {
		t.Errorf("got %+v", spec)
	}
}

func TestParseDeclareCollectFixed(t *testing.T) {
	spec, err := ParseDeclare("s", "collect(3,3,shipId)")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Kind != DeclareCollect || spec.Min != 3 || spec.Max != 3 || spec.Provider != "shipId" {
		t.Errorf("got %+v", spec)
	}
}

func TestParseDeclareCollectRange(t *testing.T) {
	spec, err := ParseDeclare("batch", "collect(1, 5, items)")
	if err != nil {
		t.Fatal(err)
	}
	if spec.Min != 1 || spec.Max != 5 || spec.Provider != "items" {
		t.Errorf("got %+v", spec)
	}
}

func TestCollectCountDeterministicWithSeed(t *testing.T) {
	src := rand.New(rand.NewSource(1))
	n := CollectCount(1, 5, src)
	if n < 1 || n > 5 {
		t.Errorf("CollectCount = %d, want in [1,5]", n)
	}
	if again := CollectCount(1, 5, rand.New(rand.NewSource(1))); again != n {
		t.Errorf("CollectCount with the same seed = %d, want %d", again, n)
	}
	if CollectCount(3, 3, src) != 3 {
		t.Error("CollectCount(3,3,_) should always return 3")
	}
}
