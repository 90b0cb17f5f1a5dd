package models

// RetryMessage is the payload published to the retry queue. It carries
// only the tracking record's primary key; the worker reloads the event
// from the database so state checks always run against fresh data.
type RetryMessage struct {
	EventID string `json:"event_id"`
}
