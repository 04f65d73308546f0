package overpass

import (
	"net/url"
	"strings"
	"testing"

	"github.com/mohammed-shakir/overpass-layer/internal/core/model"
)

func TestBuildQuery_SubstitutesAllPlaceholders(t *testing.T) {
	r := model.RectangleFromBBox(-2.5, 55.1, -2.25, 55.3)
	got := BuildQuery("(node({{bbox}})[shop];way({{bbox}})[shop];);out center;", r)
	want := "(node(55.1,-2.5,55.3,-2.25)[shop];way(55.1,-2.5,55.3,-2.25)[shop];);out center;"
	if got != want {
		t.Fatalf("BuildQuery=%q want %q", got, want)
	}
}

func TestBuildQuery_StripsLineComments(t *testing.T) {
	r := model.RectangleFromBBox(0, 0, 1, 1)
	tpl := "// shops only\nnode({{bbox}})[shop]; // trailing\nout;"
	got := BuildQuery(tpl, r)
	if strings.Contains(got, "//") || strings.Contains(got, "shops only") || strings.Contains(got, "trailing") {
		t.Fatalf("comments not stripped: %q", got)
	}
	if !strings.Contains(got, "node(0,0,1,1)[shop];") {
		t.Fatalf("placeholder not substituted: %q", got)
	}
}

func TestBuildQuery_CommentedPlaceholderIsDropped(t *testing.T) {
	r := model.RectangleFromBBox(0, 0, 1, 1)
	got := BuildQuery("node[amenity];// ({{bbox}})", r)
	if got != "node[amenity];" {
		t.Fatalf("got %q", got)
	}
	if HasPlaceholder("node[amenity];// ({{bbox}})") {
		t.Fatalf("commented placeholder must not count")
	}
	if !HasPlaceholder(DefaultQuery) {
		t.Fatalf("default query must carry a placeholder")
	}
}

func TestBuildURL_EndpointInterpreterAndData(t *testing.T) {
	q := "node(1,2,3,4)[shop];out;"
	raw := BuildURL("https://overpass.example/api/", q)

	if !strings.HasPrefix(raw, "https://overpass.example/api/interpreter?data=") {
		t.Fatalf("unexpected url prefix: %s", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := u.Query().Get("data"); got != "[out:json];"+q {
		t.Fatalf("data=%q", got)
	}
}

func TestBuildURL_KeepsBBoxReadable(t *testing.T) {
	r := model.RectangleFromBBox(-2.5, 55.1, -2.25, 55.3)
	q := BuildQuery(`node({{bbox}})["name"="Café & Bar"][shop~"^(bakery|deli)$"];out center;`, r)
	raw := BuildURL("https://overpass.example/api/", q)

	for _, want := range []string{"node(55.1,-2.5,55.3,-2.25)", "[out:json]%3B", "out%20center%3B", "%22Caf%C3%A9%20%26%20Bar%22"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("url %s does not contain %s", raw, want)
		}
	}
	for _, bad := range []string{" ", "&", "#", "+", "\"", "|", ";"} {
		if strings.Contains(strings.TrimPrefix(raw, "https://overpass.example/api/interpreter?data="), bad) {
			t.Fatalf("url %s carries unescaped %q", raw, bad)
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := u.Query().Get("data"); got != "[out:json];"+q {
		t.Fatalf("data=%q want %q", got, "[out:json];"+q)
	}
}
