package domain

import (
	"encoding/json"
	"fmt"
)

// Cart is an ordered list of lines, unique by product ID, each with Amount >= 1.
// Methods never modify the receiver; mutating ones return a new Cart.
type Cart []Product

// Find returns the line for productID.
func (c Cart) Find(productID int) (Product, bool) {
	for _, p := range c {
		if p.ID == productID {
			return p, true
		}
	}
	return Product{}, false
}

func (c Cart) Contains(productID int) bool {
	_, ok := c.Find(productID)
	return ok
}

// WithLine appends product as a new line with the given amount.
func (c Cart) WithLine(product Product, amount int) Cart {
	product.Amount = amount
	next := make(Cart, 0, len(c)+1)
	next = append(next, c...)
	return append(next, product)
}

// WithAmount sets the amount of the line for productID. Lines for other
// products are copied unchanged; if no line matches the copy equals c.
func (c Cart) WithAmount(productID, amount int) Cart {
	next := make(Cart, len(c))
	for i, p := range c {
		if p.ID == productID {
			p.Amount = amount
		}
		next[i] = p
	}
	return next
}

// Without drops the line for productID.
func (c Cart) Without(productID int) Cart {
	next := make(Cart, 0, len(c))
	for _, p := range c {
		if p.ID != productID {
			next = append(next, p)
		}
	}
	return next
}

// Clone returns a copy that shares no backing array with c.
func (c Cart) Clone() Cart {
	next := make(Cart, len(c))
	copy(next, c)
	return next
}

// TotalItems is the sum of all line amounts.
func (c Cart) TotalItems() int {
	total := 0
	for _, p := range c {
		total += p.Amount
	}
	return total
}

// Subtotal is the sum of price times amount over all lines.
func (c Cart) Subtotal() float64 {
	var total float64
	for _, p := range c {
		total += p.Price * float64(p.Amount)
	}
	return total
}

// Normalize drops lines with Amount < 1 and repeated product IDs, keeping
// the first occurrence. It reports how many lines were dropped.
func (c Cart) Normalize() (Cart, int) {
	seen := make(map[int]struct{}, len(c))
	next := make(Cart, 0, len(c))
	for _, p := range c {
		if p.Amount < 1 {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		next = append(next, p)
	}
	return next, len(c) - len(next)
}

// MarshalSnapshot encodes the cart in the persisted snapshot format, a JSON
// array of lines. An empty cart encodes as "[]".
func MarshalSnapshot(c Cart) (string, error) {
	if c == nil {
		c = Cart{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cart snapshot: %w", err)
	}
	return string(data), nil
}

// UnmarshalSnapshot decodes a persisted snapshot.
func UnmarshalSnapshot(raw string) (Cart, error) {
	var c Cart
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart snapshot: %w", err)
	}
	if c == nil {
		c = Cart{}
	}
	return c, nil
}
