package access

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dropDatabas3/lobbygate/internal/config"
	"github.com/dropDatabas3/lobbygate/internal/gate/session"
)

// Class es un grupo de destinos con el mismo requisito de acceso.
type Class struct {
	Name         string
	MinState     session.State // VERIFIED | MEMBER; ignorado si Lobby
	Capabilities []string
	Lobby        bool
}

// Policy es la política de destinos. Es de sólo lectura una vez construida.
type Policy struct {
	defaultLobby string
	fallbacks    []string
	bypass       string
	classes      map[string]Class
	destinations map[string]string // destino -> clase
}

// NewPolicy valida y construye la política desde la configuración.
func NewPolicy(cfg config.Access) (*Policy, error) {
	p := &Policy{
		defaultLobby: cfg.DefaultLobby,
		bypass:       cfg.MaintenanceBypass,
		classes:      make(map[string]Class, len(cfg.Classes)),
		destinations: make(map[string]string, len(cfg.Destinations)),
	}
	var errs []error
	for name, c := range cfg.Classes {
		min := session.State(strings.ToUpper(c.MinState))
		if min == "" {
			min = session.Verified
		}
		if !c.Lobby && min != session.Verified && min != session.Member {
			errs = append(errs, fmt.Errorf("class %q: min_state must be VERIFIED or MEMBER", name))
		}
		p.classes[name] = Class{Name: name, MinState: min, Capabilities: c.Capabilities, Lobby: c.Lobby}
	}
	for dest, class := range cfg.Destinations {
		if _, ok := p.classes[class]; !ok {
			errs = append(errs, fmt.Errorf("destination %q: unknown class %q", dest, class))
		}
		p.destinations[dest] = class
	}
	if c, ok := p.ClassOf(p.defaultLobby); !ok || !c.Lobby {
		errs = append(errs, fmt.Errorf("default lobby %q must be a lobby-class destination", p.defaultLobby))
	}
	for _, f := range cfg.FallbackLobbies {
		if c, ok := p.ClassOf(f); !ok || !c.Lobby {
			errs = append(errs, fmt.Errorf("fallback lobby %q must be a lobby-class destination", f))
			continue
		}
		if f != p.defaultLobby {
			p.fallbacks = append(p.fallbacks, f)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

// ClassOf retorna la clase de un destino.
func (p *Policy) ClassOf(dest string) (Class, bool) {
	name, ok := p.destinations[dest]
	if !ok {
		return Class{}, false
	}
	c, ok := p.classes[name]
	return c, ok
}

// Class retorna una clase por nombre.
func (p *Policy) Class(name string) (Class, bool) {
	c, ok := p.classes[name]
	return c, ok
}

// DefaultLobby retorna el lobby por defecto.
func (p *Policy) DefaultLobby() string { return p.defaultLobby }

// MaintenanceBypass retorna la capability que permite entrar a destinos en mantenimiento.
func (p *Policy) MaintenanceBypass() string { return p.bypass }

// Lobbies retorna los lobbies en orden de preferencia: default, fallbacks
// configurados y el resto de destinos lobby en orden alfabético.
func (p *Policy) Lobbies() []string {
	out := []string{p.defaultLobby}
	seen := map[string]bool{p.defaultLobby: true}
	for _, f := range p.fallbacks {
		if !seen[f] {
			out = append(out, f)
			seen[f] = true
		}
	}
	var rest []string
	for dest := range p.destinations {
		if c, _ := p.ClassOf(dest); c.Lobby && !seen[dest] {
			rest = append(rest, dest)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Destinations retorna todos los destinos conocidos, ordenados.
func (p *Policy) Destinations() []string {
	out := make([]string, 0, len(p.destinations))
	for d := range p.destinations {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
