package firi

// Depth levels are [price, amount] pairs encoded as strings.
type Depth struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

type Market struct {
	ID     string `json:"id"`
	Last   string `json:"last"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Change string `json:"change"`
	Volume string `json:"volume"`
}
