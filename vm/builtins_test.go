package vm

import (
	"bufio"
	"strings"
	"testing"

	"github.com/chazu/druk/gc"
)

// pairStruct emits BuildStruct for {first: 1, second: "two"}.
func pairStruct(a *asm) *asm {
	return a.str("first").num(1).str("second").str("two").op(OpBuildStruct, 2)
}

func TestBuildArrayAndIndex(t *testing.T) {
	hs := newHarness(t)
	c := hs.asm().
		num(10).num(20).num(30).op(OpBuildArray, 3).
		num(1).op(OpIndex).
		ret()
	mustInt(t, hs.mustRun(c), 20)
}

func TestIndexErrors(t *testing.T) {
	tests := []struct {
		name string
		prog func(*asm) *asm
		want string
	}{
		{"negative", func(a *asm) *asm { return a.num(1).op(OpBuildArray, 1).num(-1).op(OpIndex) }, "index out of bounds"},
		{"non-int index", func(a *asm) *asm { return a.num(1).op(OpBuildArray, 1).op(OpTrue).op(OpIndex) }, "must be an integer"},
		{"non-container", func(a *asm) *asm { return a.num(1).num(0).op(OpIndex) }, "Can only index"},
		{"struct missing field", func(a *asm) *asm { return pairStruct(a).str("third").op(OpIndex) }, "Undefined field 'third'."},
		{"struct int key", func(a *asm) *asm { return pairStruct(a).num(0).op(OpIndex) }, "Struct key must be a string."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := newHarness(t)
			if res := hs.run(tt.prog(hs.asm()).ret()); res != InterpretRuntimeError {
				t.Fatalf("Interpret = %s, want runtime error", res)
			}
			if !strings.Contains(hs.errOut.String(), tt.want) {
				t.Errorf("stderr = %q, want it to contain %q", hs.errOut.String(), tt.want)
			}
		})
	}
}

func TestIndexStructByName(t *testing.T) {
	hs := newHarness(t)
	c := pairStruct(hs.asm()).str("second").op(OpIndex).ret()
	mustString(t, hs.mustRun(c), "two")
}

func TestIndexSet(t *testing.T) {
	hs := newHarness(t)
	c := hs.asm().
		num(1).num(2).op(OpBuildArray, 2).named(OpDefineGlobal, "xs").
		named(OpGetGlobal, "xs").num(0).num(99).op(OpIndexSet).op(OpPop).
		named(OpGetGlobal, "xs").num(0).op(OpIndex).
		ret()
	mustInt(t, hs.mustRun(c), 99)
}

func TestIndexSetOutOfBounds(t *testing.T) {
	hs := newHarness(t)
	c := hs.asm().
		op(OpBuildArray, 0).num(0).num(1).op(OpIndexSet).
		ret()
	if res := hs.run(c); res != InterpretRuntimeError {
		t.Fatalf("Interpret = %s, want runtime error", res)
	}
}

func TestStructFields(t *testing.T) {
	hs := newHarness(t)
	c := pairStruct(hs.asm()).named(OpDefineGlobal, "s").
		named(OpGetGlobal, "s").num(5).named(OpSetField, "first").op(OpPop).
		named(OpGetGlobal, "s").named(OpGetField, "first").
		ret()
	mustInt(t, hs.mustRun(c), 5)
}

func TestStructFieldErrors(t *testing.T) {
	hs := newHarness(t)
	if res := hs.run(pairStruct(hs.asm()).named(OpGetField, "nope").ret()); res != InterpretRuntimeError {
		t.Fatalf("GetField missing = %s, want runtime error", res)
	}
	if !strings.HasPrefix(hs.errOut.String(), "Undefined field 'nope'.") {
		t.Errorf("stderr = %q", hs.errOut.String())
	}

	hs.errOut.Reset()
	if res := hs.run(hs.asm().num(1).num(2).named(OpSetField, "x").ret()); res != InterpretRuntimeError {
		t.Fatalf("SetField on int = %s, want runtime error", res)
	}
	if !strings.HasPrefix(hs.errOut.String(), "Can only set fields on structs.") {
		t.Errorf("stderr = %q", hs.errOut.String())
	}
}

func TestBuildStructRejectsNonStringName(t *testing.T) {
	hs := newHarness(t)
	c := hs.asm().num(1).num(2).op(OpBuildStruct, 1).ret()
	if res := hs.run(c); res != InterpretRuntimeError {
		t.Fatalf("Interpret = %s, want runtime error", res)
	}
	if !strings.HasPrefix(hs.errOut.String(), "Struct field name must be a string.") {
		t.Errorf("stderr = %q", hs.errOut.String())
	}
}

func TestLen(t *testing.T) {
	tests := []struct {
		name string
		prog func(*asm) *asm
		want int64
	}{
		{"array", func(a *asm) *asm { return a.num(1).num(2).num(3).op(OpBuildArray, 3) }, 3},
		{"struct", pairStruct, 2},
		{"string runes", func(a *asm) *asm { return a.str("ཀཁག") }, 3},
		{"empty array", func(a *asm) *asm { return a.op(OpBuildArray, 0) }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := newHarness(t)
			mustInt(t, hs.mustRun(tt.prog(hs.asm()).op(OpLen).ret()), tt.want)
		})
	}

	hs := newHarness(t)
	if res := hs.run(hs.asm().num(1).op(OpLen).ret()); res != InterpretRuntimeError {
		t.Errorf("len(int) = %s, want runtime error", res)
	}
}

func TestPushAndPopArray(t *testing.T) {
	hs := newHarness(t)
	c := hs.asm().
		op(OpBuildArray, 0).named(OpDefineGlobal, "xs").
		named(OpGetGlobal, "xs").num(1).op(OpPush).op(OpPop).
		named(OpGetGlobal, "xs").num(2).op(OpPush).op(OpPop).
		named(OpGetGlobal, "xs").op(OpPopArray).
		ret()
	mustInt(t, hs.mustRun(c), 2)

	v, _ := hs.vm.Global("xs")
	if n := v.(*GcArray).Len(); n != 1 {
		t.Errorf("len(xs) = %d, want 1", n)
	}
}

func TestPushResultIsNil(t *testing.T) {
	hs := newHarness(t)
	c := hs.asm().op(OpBuildArray, 0).num(1).op(OpPush).ret()
	if got := hs.mustRun(c); !Equal(got, Nil{}) {
		t.Errorf("push() = %s, want nil", Display(got))
	}
}

func TestPopEmptyArray(t *testing.T) {
	hs := newHarness(t)
	c := hs.asm().op(OpBuildArray, 0).op(OpPopArray).ret()
	if res := hs.run(c); res != InterpretRuntimeError {
		t.Fatalf("Interpret = %s, want runtime error", res)
	}
	if !strings.HasPrefix(hs.errOut.String(), "Cannot pop from empty array.") {
		t.Errorf("stderr = %q", hs.errOut.String())
	}
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		prog func(*asm) *asm
		want string
	}{
		{func(a *asm) *asm { return a.num(1) }, "int"},
		{func(a *asm) *asm { return a.op(OpTrue) }, "bool"},
		{func(a *asm) *asm { return a.str("x") }, "string"},
		{func(a *asm) *asm { return a.op(OpNil) }, "nil"},
		{func(a *asm) *asm { return a.op(OpBuildArray, 0) }, "array"},
		{pairStruct, "struct"},
		{func(a *asm) *asm { return a.op(OpGetLocal, 0) }, "function"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			hs := newHarness(t)
			mustString(t, hs.mustRun(tt.prog(hs.asm()).op(OpTypeOf).ret()), tt.want)
		})
	}
}

func TestKeysAndValuesKeepInsertionOrder(t *testing.T) {
	hs := newHarness(t)
	build := func(a *asm) *asm {
		return a.str("zeta").num(1).str("alpha").num(2).str("mid").num(3).op(OpBuildStruct, 3)
	}

	keys := hs.mustRun(build(hs.asm()).op(OpKeys).ret()).(*GcArray)
	var names []string
	for _, k := range keys.Elements {
		names = append(names, k.(*GcString).Data)
	}
	if strings.Join(names, ",") != "zeta,alpha,mid" {
		t.Errorf("keys = %v, want [zeta alpha mid]", names)
	}

	values := hs.mustRun(build(hs.asm()).op(OpValues).ret()).(*GcArray)
	for i, want := range []int64{1, 2, 3} {
		mustInt(t, values.Elements[i], want)
	}
}

func TestKeysRequiresStruct(t *testing.T) {
	for _, op := range []Opcode{OpKeys, OpValues} {
		hs := newHarness(t)
		if res := hs.run(hs.asm().op(OpBuildArray, 0).op(op).ret()); res != InterpretRuntimeError {
			t.Errorf("%s(array) = %s, want runtime error", op, res)
		}
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		name string
		prog func(*asm) *asm
		want bool
	}{
		{"array int", func(a *asm) *asm { return a.num(1).num(2).op(OpBuildArray, 2).num(2) }, true},
		{"array missing", func(a *asm) *asm { return a.num(1).op(OpBuildArray, 1).num(3) }, false},
		{"array string by content", func(a *asm) *asm {
			// The needle is built at runtime, so it is a distinct object.
			return a.str("x").op(OpBuildArray, 1).str("").str("x").op(OpAdd)
		}, true},
		{"struct key", func(a *asm) *asm { return pairStruct(a).str("second") }, true},
		{"struct missing key", func(a *asm) *asm { return pairStruct(a).str("third") }, false},
		{"struct non-string key", func(a *asm) *asm { return pairStruct(a).num(1) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := newHarness(t)
			got := hs.mustRun(tt.prog(hs.asm()).op(OpContains).ret())
			if !Equal(got, Bool(tt.want)) {
				t.Errorf("contains = %s, want %v", Display(got), tt.want)
			}
		})
	}

	hs := newHarness(t)
	if res := hs.run(hs.asm().num(1).num(1).op(OpContains).ret()); res != InterpretRuntimeError {
		t.Errorf("contains(int) = %s, want runtime error", res)
	}
}

func TestInput(t *testing.T) {
	hs := newHarness(t, WithStdin(strings.NewReader("first\r\nsecond")))
	c := hs.asm().
		op(OpInput).op(OpPrint).
		op(OpInput).op(OpPrint).
		op(OpInput).op(OpPrint).
		op(OpNil).ret()
	hs.mustRun(c)

	want := "first\nsecond\nnil\n"
	if hs.out.String() != want {
		t.Errorf("stdout = %q, want %q", hs.out.String(), want)
	}
}

func TestInputSharedReader(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("one\ntwo\n"))
	first := newHarness(t, WithStdin(in))
	second := newHarness(t, WithStdin(in))

	read := func(hs *harness) {
		hs.mustRun(hs.asm().op(OpInput).op(OpPrint).op(OpNil).ret())
	}
	read(first)
	read(second)

	if got := first.out.String(); got != "one\n" {
		t.Errorf("first VM read %q, want %q", got, "one\n")
	}
	if got := second.out.String(); got != "two\n" {
		t.Errorf("second VM read %q, want %q", got, "two\n")
	}
}

func TestDefaultStdinIsShared(t *testing.T) {
	h := gc.NewHeap(quietConfig)
	a, b := New(h), New(h)
	defer a.Close()
	defer b.Close()
	if a.stdin != b.stdin {
		t.Error("VMs created without WithStdin buffer os.Stdin separately")
	}
}

// TestAllocatingOpcodesUnderStress collects on every allocation so any value
// an instruction fails to keep rooted is reclaimed before it is used.
func TestAllocatingOpcodesUnderStress(t *testing.T) {
	hs := newHarnessWithHeap(t, gc.NewHeap(stressConfig))
	hs.vm.SetArgs([]string{"one", "two"})

	c := hs.asm().
		// s = {zeta: "a" + "b", alpha: [argv[0], typeof(1)]}
		str("zeta").str("a").str("b").op(OpAdd).
		str("alpha").
		named(OpGetGlobal, "argv").num(0).op(OpIndex).
		num(1).op(OpTypeOf).
		op(OpBuildArray, 2).
		op(OpBuildStruct, 2).
		named(OpDefineGlobal, "s").
		// keys(s) + values(s), printed by length and content
		named(OpGetGlobal, "s").op(OpKeys).named(OpDefineGlobal, "k").
		named(OpGetGlobal, "s").op(OpValues).named(OpDefineGlobal, "v").
		named(OpGetGlobal, "k").num(0).op(OpIndex).op(OpPrint).
		named(OpGetGlobal, "k").num(1).op(OpIndex).op(OpPrint).
		named(OpGetGlobal, "v").num(0).op(OpIndex).op(OpPrint).
		named(OpGetGlobal, "v").num(1).op(OpIndex).num(0).op(OpIndex).op(OpPrint).
		named(OpGetGlobal, "v").num(1).op(OpIndex).num(1).op(OpIndex).op(OpPrint).
		op(OpNil).ret()
	hs.mustRun(c)

	want := "zeta\nalpha\nab\none\nint\n"
	if hs.out.String() != want {
		t.Errorf("stdout = %q, want %q", hs.out.String(), want)
	}
	if hs.heap.Stats().Collections == 0 {
		t.Error("stress heap never collected")
	}
}
