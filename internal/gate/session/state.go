package session

// State es el estado de verificación de una identidad.
type State string

const (
	Unverified    State = "UNVERIFIED"
	Purgatory     State = "PURGATORY"
	Quarantine    State = "QUARANTINE"
	Verified      State = "VERIFIED"
	Member        State = "MEMBER"
	Expired       State = "EXPIRED"
	Banned        State = "BANNED"
	PendingManual State = "PENDING_MANUAL"
)

// States lista todos los estados en orden de avance.
var States = []State{Unverified, Purgatory, Quarantine, Verified, Member, Expired, Banned, PendingManual}

// Terminal indica si el estado no admite más transiciones.
func (s State) Terminal() bool {
	return s == Member || s == Expired || s == Banned
}

// Active indica si una sesión en este estado se sigue en memoria.
func (s State) Active() bool {
	switch s {
	case Purgatory, Quarantine, Verified, PendingManual:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// graph es el grafo dirigido de transiciones permitidas. Las ramas EXPIRED,
// BANNED y PENDING_MANUAL son alcanzables desde cualquier estado no terminal;
// PENDING_MANUAL sólo sale por resolución humana o vencimiento.
var graph = map[State][]State{
	Unverified:    {Purgatory},
	Purgatory:     {Quarantine, Expired, Banned, PendingManual},
	Quarantine:    {Verified, Expired, Banned, PendingManual},
	Verified:      {Member, Expired, Banned, PendingManual},
	PendingManual: {Verified, Expired, Banned},
}

// CanTransition indica si from -> to es una arista del grafo.
func CanTransition(from, to State) bool {
	for _, s := range graph[from] {
		if s == to {
			return true
		}
	}
	return false
}
