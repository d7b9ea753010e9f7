package validation

import "regexp"

// Reglas para nombres de capabilities y destinos:
// - Sólo minúsculas.
// - Empiezan y terminan en [a-z0-9].
// - En el medio se permite [a-z0-9:_.-].
// - Largo 1..64.
// - Sin espacios ni punto y coma.
//
// Válidos: staff, maintenance.bypass, survival-1, event:halloween
// Inválidos: Staff, "bad space", .lobby, lobby-, "", 65+ caracteres.
var nameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidCapability indica si name es un nombre de capability aceptable.
func ValidCapability(name string) bool {
	return nameRe.MatchString(name)
}

// ValidDestination indica si id es un identificador de destino aceptable.
// Comparte las reglas de capability: ambos viajan en rutas y labels.
func ValidDestination(id string) bool {
	return nameRe.MatchString(id)
}
