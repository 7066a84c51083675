package cache

import (
	"testing"

	"synsensors/core/values"
)

func TestCacheStoreAndCheck(t *testing.T) {
	c := New()
	fp := Fingerprint(map[string]values.Value{"sensor.kitchen_temp": values.Number(72)})
	c.Store("sensor.main", fp, values.Number(10), []string{"sensor.kitchen_temp"})

	v, ok := c.Check("sensor.main", fp)
	if !ok {
		t.Fatal("Check: expected hit")
	}
	n, _ := v.AsNumber()
	if n != 10 {
		t.Fatalf("Check() = %v, want 10", v)
	}
}

func TestCacheMissOnDifferentFingerprint(t *testing.T) {
	c := New()
	fp1 := Fingerprint(map[string]values.Value{"x": values.Number(1)})
	fp2 := Fingerprint(map[string]values.Value{"x": values.Number(2)})
	c.Store("f", fp1, values.Number(10), nil)

	if _, ok := c.Check("f", fp2); ok {
		t.Fatal("Check: expected miss for a different fingerprint")
	}
}

func TestCacheNonNumericResultsNotCached(t *testing.T) {
	c := New()
	fp := Fingerprint(nil)
	c.Store("f", fp, values.String("hello"), nil)
	c.Store("f2", fp, values.Bool(true), nil)
	c.Store("f3", fp, values.Null(), nil)
	c.Store("f4", fp, values.Alternate(values.UNKNOWN), nil)

	for _, id := range []string{"f", "f2", "f3", "f4"} {
		if _, ok := c.Check(id, fp); ok {
			t.Fatalf("Check(%s): expected non-numeric result to not be cached", id)
		}
	}
}

func TestCacheBeginCycleInvalidatesEverything(t *testing.T) {
	c := New()
	fp := Fingerprint(nil)
	c.Store("f", fp, values.Number(1), nil)
	c.BeginCycle()
	if _, ok := c.Check("f", fp); ok {
		t.Fatal("Check: expected miss after BeginCycle")
	}
}

func TestCacheNotifyBackingChangedInvalidatesOnlyDependents(t *testing.T) {
	c := New()
	fpA := Fingerprint(map[string]values.Value{"a": values.Number(1)})
	fpB := Fingerprint(map[string]values.Value{"b": values.Number(1)})
	c.Store("formula.a", fpA, values.Number(1), []string{"sensor.a"})
	c.Store("formula.b", fpB, values.Number(2), []string{"sensor.b"})

	c.NotifyBackingChanged([]string{"sensor.a"})

	if _, ok := c.Check("formula.a", fpA); ok {
		t.Fatal("Check(formula.a): expected invalidation after sensor.a changed")
	}
	if _, ok := c.Check("formula.b", fpB); !ok {
		t.Fatal("Check(formula.b): expected to survive an unrelated entity's change")
	}
}

func TestFingerprintOrderIndependent(t *testing.T) {
	a := Fingerprint(map[string]values.Value{"x": values.Number(1), "y": values.String("s")})
	b := Fingerprint(map[string]values.Value{"y": values.String("s"), "x": values.Number(1)})
	if a != b {
		t.Fatalf("Fingerprint should be independent of map iteration order: %s != %s", a, b)
	}
}

func TestFingerprintDiffersOnValueChange(t *testing.T) {
	a := Fingerprint(map[string]values.Value{"x": values.Number(1)})
	b := Fingerprint(map[string]values.Value{"x": values.Number(2)})
	if a == b {
		t.Fatal("Fingerprint should differ when a referenced value changes")
	}
}
