package viewer

import (
	"errors"
	"strconv"
	"strings"
)

// ErrOutOfRangePage is returned when a page request falls outside the
// document or is not an integer. The current page is left unchanged.
var ErrOutOfRangePage = errors.New("page out of range")

// Navigator tracks the current page of a document with a known page count.
// It is the single place page bounds are enforced; buttons, keys, gestures
// and typed input all go through it.
type Navigator struct {
	total   int
	current int
}

// Reset points the navigator at a document with total pages, on page 1.
// A total of zero disables navigation.
func (n *Navigator) Reset(total int) {
	if total < 1 {
		n.total, n.current = 0, 0
		return
	}
	n.total, n.current = total, 1
}

func (n *Navigator) Total() int   { return n.total }
func (n *Navigator) Current() int { return n.current }

// Next advances one page, staying on the last page.
func (n *Navigator) Next() int {
	if n.total > 0 && n.current < n.total {
		n.current++
	}
	return n.current
}

// Previous goes back one page, staying on the first page.
func (n *Navigator) Previous() int {
	if n.total > 0 && n.current > 1 {
		n.current--
	}
	return n.current
}

// GoTo jumps to page p.
func (n *Navigator) GoTo(p int) (int, error) {
	if n.total == 0 || p < 1 || p > n.total {
		return n.current, ErrOutOfRangePage
	}
	n.current = p
	return n.current, nil
}

// GoToInput parses free-text input such as "3" and jumps to it. Values like
// "2.5", "" or "abc" are rejected.
func (n *Navigator) GoToInput(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return n.current, ErrOutOfRangePage
	}
	return n.GoTo(p)
}
