package health

import "portalsync/internal/app/server/api/http/envelope"

type Input struct{}

type Output struct {
	Body Response
}

type Response struct {
	envelope.Meta
	Status  string `json:"status" example:"OK" doc:"Health status of the service"`
	Storage string `json:"storage,omitempty" example:"postgres" doc:"Active storage driver"`
}
