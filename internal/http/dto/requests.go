package dto

// WSMessage is sent by websocket clients to choose which deals they follow.
type WSMessage struct {
	Action string `json:"action"` // subscribe / unsubscribe
	DealID string `json:"deal_id"`
}
