package query

// PageArgs are the four relay connection arguments. Use either
// (First, After) or (Last, Before) — mixing forward and backward paging in
// a single call is not meaningful and First takes precedence if both are set.
type PageArgs struct {
	First  *int
	After  *string
	Last   *int
	Before *string
}

// Page is the result of slicing a domain by PageArgs.
type Page[T any] struct {
	Items       []T
	HasNext     bool
	HasPrevious bool
	StartCursor string
	EndCursor   string
	TotalCount  int
}

// Paginate slices a pre-sorted domain according to args, using cursorOf to
// resolve a cursor string's position. Implements symmetric forward/backward
// cursor pagination, matching first/after and last/before semantics.
func Paginate[T any](domain []T, args PageArgs, cursorOf func(T) string) Page[T] {
	total := len(domain)

	start := 0
	if args.After != nil {
		if pos := indexOfCursor(domain, *args.After, cursorOf); pos >= 0 {
			start = pos + 1
		}
	}
	end := total
	if args.Before != nil {
		if pos := indexOfCursor(domain, *args.Before, cursorOf); pos >= 0 {
			end = pos
		}
	}
	if start > end {
		start = end
	}

	sliced := domain[start:end]

	var hasNext, hasPrevious bool
	switch {
	case args.First != nil:
		trimmed := false
		if *args.First < len(sliced) {
			sliced = sliced[:*args.First]
			trimmed = true
		}
		hasNext = trimmed || end < total
		hasPrevious = start > 0
	case args.Last != nil:
		trimmed := false
		if *args.Last < len(sliced) {
			sliced = sliced[len(sliced)-*args.Last:]
			trimmed = true
		}
		hasPrevious = trimmed || start > 0
		hasNext = end < total
	default:
		hasNext = end < total
		hasPrevious = start > 0
	}

	page := Page[T]{
		Items:       sliced,
		HasNext:     hasNext,
		HasPrevious: hasPrevious,
		TotalCount:  total,
	}
	if len(sliced) > 0 {
		page.StartCursor = cursorOf(sliced[0])
		page.EndCursor = cursorOf(sliced[len(sliced)-1])
	}
	return page
}

func indexOfCursor[T any](domain []T, cursor string, cursorOf func(T) string) int {
	for i, item := range domain {
		if cursorOf(item) == cursor {
			return i
		}
	}
	return -1
}
