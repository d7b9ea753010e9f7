// Package domain contiene la taxonomía compartida por los componentes del gate:
// razones de error/decisión, el tipo Error y el reloj inyectable.
package domain

// Reason es la categoría estable de un resultado no exitoso.
// Es lo único que cruza hacia el usuario final; nunca lleva datos internos.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInvalidFormat      Reason = "INVALID_FORMAT"
	ReasonInvalidIdentity    Reason = "INVALID_IDENTITY"
	ReasonAlreadyActive      Reason = "ALREADY_ACTIVE"
	ReasonNotFound           Reason = "NOT_FOUND"
	ReasonExpired            Reason = "EXPIRED"
	ReasonAlreadyUsed        Reason = "ALREADY_USED"
	ReasonRateLimited        Reason = "RATE_LIMITED"
	ReasonBlocked            Reason = "BLOCKED"
	ReasonOwnershipMismatch  Reason = "OWNERSHIP_MISMATCH"
	ReasonInsufficientPerm   Reason = "INSUFFICIENT_PERMISSION"
	ReasonMaintenance        Reason = "MAINTENANCE"
	ReasonSystemError        Reason = "SYSTEM_ERROR"
	ReasonInvalidTransition  Reason = "INVALID_TRANSITION"
	ReasonNotAuthenticated   Reason = "NOT_AUTHENTICATED"
	ReasonQuarantineMode     Reason = "QUARANTINE_MODE"
	ReasonPendingReview      Reason = "PENDING_REVIEW"
	ReasonPromotionPending   Reason = "PROMOTION_PENDING"
	ReasonBanned             Reason = "BANNED"
	ReasonOffline            Reason = "OFFLINE"
	ReasonUnknownDestination Reason = "UNKNOWN_DESTINATION"
)

func (r Reason) String() string { return string(r) }

// UserMessage devuelve un texto corto y no técnico para la categoría.
func (r Reason) UserMessage() string {
	switch r {
	case ReasonInvalidFormat:
		return "El código no tiene un formato válido."
	case ReasonInvalidIdentity:
		return "No pudimos verificar esa cuenta de juego."
	case ReasonAlreadyActive:
		return "Ya hay una verificación en curso para esta cuenta."
	case ReasonNotFound:
		return "El código no existe o ya no está disponible."
	case ReasonExpired:
		return "El código o la sesión expiró. Solicitá uno nuevo."
	case ReasonAlreadyUsed:
		return "Ese código ya fue utilizado."
	case ReasonRateLimited:
		return "Demasiados intentos. Esperá un momento."
	case ReasonBlocked:
		return "Demasiados intentos fallidos. Intentá más tarde."
	case ReasonOwnershipMismatch:
		return "Ese código no corresponde a tu cuenta."
	case ReasonInsufficientPerm:
		return "No tenés permiso para entrar a ese servidor."
	case ReasonMaintenance:
		return "Ese servidor está en mantenimiento."
	case ReasonNotAuthenticated:
		return "Tenés que completar la verificación primero."
	case ReasonQuarantineMode:
		return "Tu acceso completo se habilita en unos minutos."
	case ReasonPendingReview:
		return "Tu verificación está en revisión manual."
	case ReasonPromotionPending:
		return "Tu verificación se está confirmando."
	case ReasonBanned:
		return "Tu acceso fue revocado."
	case ReasonOffline:
		return "Ese servidor no está disponible."
	case ReasonUnknownDestination:
		return "Ese servidor no existe."
	case ReasonNone:
		return ""
	default:
		return "Ocurrió un error interno."
	}
}
