package types

// Record is one candidate row pulled from the intake table.
// Date doubles as the cursor value; Payload is the base64 envelope.
type Record struct {
	Date    string `json:"date"`
	Payload string `json:"payload"`
}
