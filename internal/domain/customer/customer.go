package customer

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("customer: not found")

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
