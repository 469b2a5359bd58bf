package radarapi

import (
	"errors"
	"fmt"
)

// APIError — сервер ответил 200, но положил error в тело.
// Это семантический отказ (неверный пароль и т.п.), ретраить бессмысленно.
type APIError struct {
	Method  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %s: %s", e.Method, e.Message)
}

// TransportError — таймаут, обрыв соединения, не-2xx статус или битое тело.
// Такие отказы можно ретраить.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func IsAPIError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}
