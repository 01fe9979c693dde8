package query

import "testing"

type item struct {
	id string
}

func cursorOfItem(i item) string { return i.id }

func fiveItems() []item {
	return []item{{"c0"}, {"c1"}, {"c2"}, {"c3"}, {"c4"}}
}

func TestPaginate_S5_FirstAfter(t *testing.T) {
	domain := fiveItems()
	after := "c1"
	first := 2
	page := Paginate(domain, PageArgs{First: &first, After: &after}, cursorOfItem)

	if len(page.Items) != 2 || page.Items[0].id != "c2" || page.Items[1].id != "c3" {
		t.Fatalf("got items %v", page.Items)
	}
	if !page.HasNext {
		t.Fatal("expected has_next=true")
	}
	if !page.HasPrevious {
		t.Fatal("expected has_previous=true")
	}
	if page.StartCursor != "c2" || page.EndCursor != "c3" {
		t.Fatalf("got start=%q end=%q", page.StartCursor, page.EndCursor)
	}
	if page.TotalCount != 5 {
		t.Fatalf("got total=%d", page.TotalCount)
	}
}

func TestPaginate_NoArgs_ReturnsWholeDomain(t *testing.T) {
	domain := fiveItems()
	page := Paginate(domain, PageArgs{}, cursorOfItem)
	if len(page.Items) != 5 {
		t.Fatalf("got %d items", len(page.Items))
	}
	if page.HasNext || page.HasPrevious {
		t.Fatal("expected no next/previous page over the whole domain")
	}
}

func TestPaginate_LastBefore(t *testing.T) {
	domain := fiveItems()
	before := "c4"
	last := 2
	page := Paginate(domain, PageArgs{Last: &last, Before: &before}, cursorOfItem)

	if len(page.Items) != 2 || page.Items[0].id != "c2" || page.Items[1].id != "c3" {
		t.Fatalf("got items %v", page.Items)
	}
	if !page.HasPrevious {
		t.Fatal("expected has_previous=true")
	}
	if !page.HasNext {
		t.Fatal("expected has_next=true (c4 itself lies beyond the before-excluded slice)")
	}
}

func TestPaginate_FirstExceedsRemaining_NoTrim(t *testing.T) {
	domain := fiveItems()
	first := 100
	page := Paginate(domain, PageArgs{First: &first}, cursorOfItem)
	if len(page.Items) != 5 {
		t.Fatalf("got %d items", len(page.Items))
	}
	if page.HasNext {
		t.Fatal("expected has_next=false when nothing was trimmed and end==len")
	}
}

func TestPaginate_EmptyDomain(t *testing.T) {
	page := Paginate([]item{}, PageArgs{}, cursorOfItem)
	if len(page.Items) != 0 || page.StartCursor != "" || page.EndCursor != "" {
		t.Fatalf("expected empty page, got %+v", page)
	}
}
