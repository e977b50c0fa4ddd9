package domain

// Product is a catalog entry. Once placed in a Cart, Amount holds the
// quantity in the cart.
type Product struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	ImageURL string  `json:"imageUrl"`
	Amount   int     `json:"amount"`
}

// Stock is the available quantity reported by the catalog service.
type Stock struct {
	ID     int `json:"id"`
	Amount int `json:"amount"`
}
