package smsgateway

// SendRequest describes one outbound SMS.
type SendRequest struct {
	To      string
	From    string
	Message string
	Country string // default country for local-format numbers

	// Callback URLs given to the gateway so replies and receipts come back
	// with the tenant identity embedded in the path.
	ReplyCallback string
	DLRCallback   string
	LinkHits      bool
}

// SendResponse is the gateway's acknowledgement of a queued message.
type SendResponse struct {
	MessageID string `json:"message_id"`
	SendAt    string `json:"send_at,omitempty"`
	Cost      string `json:"cost,omitempty"`
	Error     struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// StatusResponse reports delivery state for a sent message.
type StatusResponse struct {
	MessageID   string `json:"message_id"`
	Status      string `json:"status"`
	DeliveredAt string `json:"delivered_at,omitempty"`
}
