package xmlwriter

import "testing"

func TestMarshalCompact(t *testing.T) {
	root := New("ENVELOPE",
		New("HEADER", Leaf("VERSION", "1")),
		Leaf("EMPTY", ""),
	)
	root.Children[0].WithAttr("NAME", `a"b`)

	got := string(Marshal(root))
	want := `<ENVELOPE><HEADER NAME="a&quot;b"><VERSION>1</VERSION></HEADER><EMPTY></EMPTY></ENVELOPE>`
	if got != want {
		t.Errorf("Marshal:\n got %s\nwant %s", got, want)
	}
}

func TestMarshalIndented(t *testing.T) {
	root := New("A", Leaf("B", "x"))
	got := string(MarshalWithOptions(root, Options{Indent: "  ", IncludeXMLDeclaration: true, Encoding: "UTF-16"}))
	want := "<?xml version=\"1.0\" encoding=\"UTF-16\"?>\n<A>\n  <B>x</B>\n</A>\n"
	if got != want {
		t.Errorf("MarshalWithOptions:\n got %q\nwant %q", got, want)
	}
}

func TestEscapeText(t *testing.T) {
	got := EscapeText(`if $Amount < 0 & "x" then 1`)
	want := `if $Amount &lt; 0 &amp; "x" then 1`
	if got != want {
		t.Errorf("EscapeText = %q, want %q", got, want)
	}
}

func TestAddSkipsNil(t *testing.T) {
	e := New("X").Add(nil, Leaf("Y", "1"), nil)
	if len(e.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(e.Children))
	}
}
