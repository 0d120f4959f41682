package filter

import "testing"

func TestFirstMatchWins(t *testing.T) {
	s, err := CompilePaths([]string{`!vendor\**`, "**"})
	if err != nil {
		t.Fatalf("CompilePaths: %v", err)
	}
	if s.Matches(`vendor\acme\lib.php`) {
		t.Fatal("expected vendor path to be excluded by the negated pattern")
	}
	if !s.Matches(`app\index.php`) {
		t.Fatal("expected non-vendor path to match the catch-all")
	}
}

func TestPathNoMatchIsFalse(t *testing.T) {
	s, err := CompilePaths([]string{`Foo\*`})
	if err != nil {
		t.Fatalf("CompilePaths: %v", err)
	}
	if s.Matches(`Bar\Baz`) {
		t.Fatal("expected no match for an unrelated path")
	}
}

func TestPathEmpty(t *testing.T) {
	s, err := CompilePaths(nil)
	if err != nil {
		t.Fatalf("CompilePaths: %v", err)
	}
	if !s.Empty() {
		t.Fatal("expected empty set")
	}
	if s.Matches("anything") {
		t.Fatal("empty set should never match")
	}
}

func TestShouldIgnoreExceptionSingleStarStopsAtSeparator(t *testing.T) {
	ignore, err := ShouldIgnoreException(`NS\Foo`, []string{`NS\*`})
	if err != nil {
		t.Fatalf("ShouldIgnoreException: %v", err)
	}
	if !ignore {
		t.Fatal(`expected NS\Foo to match NS\*`)
	}

	ignore, err = ShouldIgnoreException(`NS\Sub\Foo`, []string{`NS\*`})
	if err != nil {
		t.Fatalf("ShouldIgnoreException: %v", err)
	}
	if ignore {
		t.Fatal("expected single '*' not to cross the namespace separator")
	}
}

func TestShouldIgnoreExceptionDoubleStarCrossesSeparator(t *testing.T) {
	ignore, err := ShouldIgnoreException(`NS\Sub\Foo`, []string{`NS\**`})
	if err != nil {
		t.Fatalf("ShouldIgnoreException: %v", err)
	}
	if !ignore {
		t.Fatal("expected '**' to cross the namespace separator")
	}
}

func TestShouldIgnoreExceptionAnyPatternMatches(t *testing.T) {
	ignore, err := ShouldIgnoreException("RuntimeException", []string{`NS\*`, "RuntimeException"})
	if err != nil {
		t.Fatalf("ShouldIgnoreException: %v", err)
	}
	if !ignore {
		t.Fatal("expected a match against the second pattern to count, regardless of order")
	}
}

func TestShouldIgnoreExceptionEscapesMetacharacters(t *testing.T) {
	ignore, err := ShouldIgnoreException("NS.Foo", []string{"NS.Foo"})
	if err != nil {
		t.Fatalf("ShouldIgnoreException: %v", err)
	}
	if !ignore {
		t.Fatal("expected literal '.' to match only a literal '.'")
	}

	ignore, err = ShouldIgnoreException("NSXFoo", []string{"NS.Foo"})
	if err != nil {
		t.Fatalf("ShouldIgnoreException: %v", err)
	}
	if ignore {
		t.Fatal("expected '.' to be escaped, not treated as regex any-char")
	}
}

func TestShouldIgnoreExceptionNoMatch(t *testing.T) {
	ignore, err := ShouldIgnoreException("Other\\Thing", []string{`NS\*`})
	if err != nil {
		t.Fatalf("ShouldIgnoreException: %v", err)
	}
	if ignore {
		t.Fatal("expected no match")
	}
}
