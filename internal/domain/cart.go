package domain

// Mode selects whether cart mutations are mirrored to the server.
type Mode string

const (
	// ModeGuest keeps every mutation local.
	ModeGuest Mode = "guest"
	// ModeRemote applies mutations locally and mirrors them to the server cart.
	ModeRemote Mode = "remote"
)

// CartLine is one product's presence in the cart.
type CartLine struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Quantity  int    `json:"quantity"`
}

// LineTotal returns unit price times quantity (in cents).
func (l CartLine) LineTotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Product carries the catalog fields needed to create a cart line.
type Product struct {
	ProductID int64
	Name      string
	UnitPrice int64
	ImageURL  string
}

// Cart holds at most one line per product, in insertion order.
type Cart struct {
	Lines []CartLine `json:"lines"`
}

// TotalQuantity returns the sum of all line quantities.
func (c *Cart) TotalQuantity() int {
	var count int
	for _, line := range c.Lines {
		count += line.Quantity
	}
	return count
}

// Subtotal returns the sum of unit price times quantity over all lines (in cents).
func (c *Cart) Subtotal() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.LineTotal()
	}
	return total
}

// FindLineIndex returns the index of the line for productID, or -1.
func (c *Cart) FindLineIndex(productID int64) int {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Find returns the line for productID.
func (c *Cart) Find(productID int64) (CartLine, bool) {
	if idx := c.FindLineIndex(productID); idx >= 0 {
		return c.Lines[idx], true
	}
	return CartLine{}, false
}

// Add increments the line for p by qty, creating it if absent. qty below 1 is
// treated as 1. The resulting quantity is returned.
func (c *Cart) Add(p Product, qty int) int {
	if qty < 1 {
		qty = 1
	}
	if idx := c.FindLineIndex(p.ProductID); idx >= 0 {
		c.Lines[idx].Quantity += qty
		return c.Lines[idx].Quantity
	}
	c.Lines = append(c.Lines, CartLine{
		ProductID: p.ProductID,
		Name:      p.Name,
		UnitPrice: p.UnitPrice,
		ImageURL:  p.ImageURL,
		Quantity:  qty,
	})
	return qty
}

// SetQuantity sets the quantity of an existing line. A quantity of zero or
// less removes the line. It reports whether a line for productID existed.
func (c *Cart) SetQuantity(productID int64, qty int) bool {
	idx := c.FindLineIndex(productID)
	if idx < 0 {
		return false
	}
	if qty <= 0 {
		c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
		return true
	}
	c.Lines[idx].Quantity = qty
	return true
}

// Remove deletes the line for productID and reports whether it existed.
func (c *Cart) Remove(productID int64) bool {
	return c.SetQuantity(productID, 0)
}

// Replace swaps in a copy of lines wholesale.
func (c *Cart) Replace(lines []CartLine) {
	c.Lines = append([]CartLine(nil), lines...)
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.Lines = nil
}

// Snapshot returns a copy of the lines safe to hand to other goroutines.
func (c *Cart) Snapshot() []CartLine {
	out := make([]CartLine, len(c.Lines))
	copy(out, c.Lines)
	return out
}

// Quantities maps every product in the cart to its quantity.
func (c *Cart) Quantities() map[int64]int {
	out := make(map[int64]int, len(c.Lines))
	for _, line := range c.Lines {
		out[line.ProductID] = line.Quantity
	}
	return out
}

// State is the reactive view of the cart handed to UI subscribers.
type State struct {
	Lines         []CartLine `json:"lines"`
	TotalQuantity int        `json:"totalQuantity"`
	Subtotal      int64      `json:"subtotal"`
	Mode          Mode       `json:"mode"`
	IsSyncing     bool       `json:"isSyncing"`
	HasHydrated   bool       `json:"hasHydrated"`
}
