package domain

import "time"

// Clock abstrae la hora actual para poder controlarla en tests.
type Clock func() time.Time

// Now retorna la hora del reloj o time.Now si es nil.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
