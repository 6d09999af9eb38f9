package menu

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync/atomic"
)

// RepeatCode is the reserved command code that replays the menu.
const RepeatCode = 0

var (
	ErrEmptyCatalog = errors.New("menu catalog has no items")
	ErrCancelCode   = errors.New("cancel code collides with the selectable range")
)

type MenuItem struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

// Catalog is an immutable, ordered list of selectable items (codes 1..N) plus
// the two reserved command codes.
type Catalog struct {
	items  []MenuItem
	cancel int
}

// New builds a catalog from labels. Blank labels are skipped and the list is
// truncated to maxItems when maxItems > 0. A cancelCode of 0 resolves to N+1.
func New(labels []string, maxItems, cancelCode int) (*Catalog, error) {
	items := make([]MenuItem, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if maxItems > 0 && len(items) == maxItems {
			log.Printf("[menu] truncating catalog to %d items (dropped %q and later)", maxItems, l)
			break
		}
		items = append(items, MenuItem{Code: len(items) + 1, Label: l})
	}
	if len(items) == 0 {
		return nil, ErrEmptyCatalog
	}
	if cancelCode == 0 {
		cancelCode = len(items) + 1
	}
	if cancelCode < 0 || cancelCode <= len(items) {
		return nil, fmt.Errorf("%w: cancel=%d items=%d", ErrCancelCode, cancelCode, len(items))
	}
	return &Catalog{items: items, cancel: cancelCode}, nil
}

func (c *Catalog) Len() int        { return len(c.items) }
func (c *Catalog) CancelCode() int { return c.cancel }

// Item returns the item for a selectable code.
func (c *Catalog) Item(code int) (MenuItem, bool) {
	if code < 1 || code > len(c.items) {
		return MenuItem{}, false
	}
	return c.items[code-1], true
}

// Items returns a copy of the selectable items in order.
func (c *Catalog) Items() []MenuItem {
	out := make([]MenuItem, len(c.items))
	copy(out, c.items)
	return out
}

var numberPrefix = regexp.MustCompile(`(?i)^\s*(number|no\.?|#)\s*\d+\s*[:.\-]\s*`)

// SpokenLabel drops a leading "Number N:" so the code is not read out twice.
func (m MenuItem) SpokenLabel() string {
	return strings.TrimSpace(numberPrefix.ReplaceAllString(m.Label, ""))
}

// Holder lets the catalog be swapped between sessions. Sessions take one
// snapshot with Load and keep it until they terminate.
type Holder struct {
	cur atomic.Pointer[Catalog]
}

func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	h.cur.Store(c)
	return h
}

func (h *Holder) Load() *Catalog { return h.cur.Load() }

// Swap installs c and returns the previous catalog.
func (h *Holder) Swap(c *Catalog) *Catalog {
	if c == nil {
		return h.cur.Load()
	}
	return h.cur.Swap(c)
}
