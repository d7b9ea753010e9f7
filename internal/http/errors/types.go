package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/lobbygate/internal/domain"
)

// AppError es el error estándar de la API.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // causa, sólo para logs
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetail retorna una copia con Detail.
func (e *AppError) WithDetail(detail string) *AppError {
	n := *e
	n.Detail = detail
	return &n
}

// WithCause retorna una copia con la causa original.
func (e *AppError) WithCause(err error) *AppError {
	n := *e
	n.Err = err
	return &n
}

// FromError convierte cualquier error en un AppError. Los errores de dominio
// se mapean por Reason; el resto es un 500 genérico.
func FromError(err error) *AppError {
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return FromReason(de.Reason).WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}

// FromReason construye el AppError de una razón de dominio.
func FromReason(r domain.Reason) *AppError {
	status := http.StatusInternalServerError
	switch r {
	case domain.ReasonInvalidFormat, domain.ReasonInvalidIdentity:
		status = http.StatusUnprocessableEntity
	case domain.ReasonAlreadyActive, domain.ReasonInvalidTransition, domain.ReasonPendingReview, domain.ReasonAlreadyUsed:
		status = http.StatusConflict
	case domain.ReasonNotFound, domain.ReasonUnknownDestination:
		status = http.StatusNotFound
	case domain.ReasonExpired:
		status = http.StatusGone
	case domain.ReasonBanned, domain.ReasonInsufficientPerm, domain.ReasonOwnershipMismatch:
		status = http.StatusForbidden
	case domain.ReasonRateLimited, domain.ReasonBlocked:
		status = http.StatusTooManyRequests
	case domain.ReasonSystemError:
		status = http.StatusServiceUnavailable
	}
	return &AppError{Code: r.String(), Message: r.UserMessage(), HTTPStatus: status}
}

// Catálogo de errores de transporte.
var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "La solicitud contiene sintaxis inválida o parámetros faltantes.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "El cuerpo de la solicitud no es un JSON válido.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrMissingFields = &AppError{
		Code:       "MISSING_FIELDS",
		Message:    "Faltan campos requeridos en la solicitud.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrBodyTooLarge = &AppError{
		Code:       "BODY_TOO_LARGE",
		Message:    "El cuerpo de la solicitud excede el tamaño máximo permitido.",
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}

	ErrTokenMissing = &AppError{
		Code:       "TOKEN_MISSING",
		Message:    "No se proporcionó token de autenticación.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenInvalid = &AppError{
		Code:       "TOKEN_INVALID",
		Message:    "El token de acceso es inválido o está malformado.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpired = &AppError{
		Code:       "TOKEN_EXPIRED",
		Message:    "El token de acceso ha expirado.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "No tiene permisos para realizar esta acción.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "El recurso solicitado no fue encontrado.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "Método HTTP no permitido para este recurso.",
		HTTPStatus: http.StatusMethodNotAllowed,
	}

	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Ocurrió un error interno en el servidor.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "El servicio no está disponible temporalmente.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)
