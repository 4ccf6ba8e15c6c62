package tgui

import "fmt"

// Page is one page of a paginated list. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Size    int
	From    int
	To      int
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate returns page index of items, clamped to the valid range.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := max(1, (total+size-1)/size)
	index = min(max(index, 0), pages-1)
	from := min(index*size, total)
	to := min(from+size, total)
	return Page[T]{
		Items:   items[from:to],
		Index:   index,
		Size:    size,
		From:    from,
		To:      to,
		Total:   total,
		HasPrev: index > 0,
		HasNext: to < total,
	}
}

// Pages is the page count; an empty list still has one page.
func (p Page[T]) Pages() int {
	if p.Size <= 0 {
		return 1
	}
	return max(1, (p.Total+p.Size-1)/p.Size)
}

// Label renders "Page 2/3 • 11–20 of 25".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Page 1/1"
	}
	return fmt.Sprintf("Page %d/%d • %d–%d of %d", p.Index+1, p.Pages(), p.From+1, p.To, p.Total)
}
