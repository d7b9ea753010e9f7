// Package code implementa el servicio de códigos de verificación de un solo uso:
// generación con CSPRNG, validación con consumo at-most-once, set anti-replay,
// rate limit por identificador y bloqueo por fuerza bruta.
package code

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/lobbygate/internal/audit"
	"github.com/dropDatabas3/lobbygate/internal/domain"
	"github.com/dropDatabas3/lobbygate/internal/observability/logger"
	"github.com/dropDatabas3/lobbygate/internal/rate"
	"github.com/dropDatabas3/lobbygate/internal/store"
)

// ErrGenerationExhausted indica que no se encontró un valor libre en MaxGenerateAttempts.
var ErrGenerationExhausted = errors.New("code: generation attempts exhausted")

var hexRe = regexp.MustCompile(`^[0-9a-f]+$`)

type replayEntry struct {
	fp string
	at time.Time
}

// Service es dueño de la tabla de códigos vivos, el set anti-replay y las
// lápidas de códigos vencidos. Seguro para uso concurrente.
type Service struct {
	cfg     Config
	limiter rate.Limiter
	guard   *rate.Guard
	journal store.ReplayJournal
	audit   *audit.Log
	fp      *store.Fingerprinter
	log     *zap.Logger
	now     domain.Clock
	rand    io.Reader
	lengths map[int]bool

	mu      sync.Mutex
	live    map[string]*VerificationCode // valor -> código
	byChat  map[string][]string          // chat -> valores, más viejo primero
	used    map[string]time.Time         // huella -> momento de uso
	expired map[string]time.Time         // huella -> momento de vencimiento
	pending []replayEntry                // huellas aún no escritas al journal
	loaded  bool
}

// New crea el servicio. journal y audit pueden ser nil.
func New(cfg Config, limiter rate.Limiter, guard *rate.Guard, journal store.ReplayJournal, a *audit.Log, log *zap.Logger) *Service {
	cfg.defaults()
	if journal == nil {
		journal = store.NewMemoryJournal()
	}
	lengths := make(map[int]bool, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		lengths[t.Length] = true
	}
	return &Service{
		cfg:     cfg,
		limiter: limiter,
		guard:   guard,
		journal: journal,
		audit:   a,
		fp:      store.NewFingerprinter(cfg.FingerprintKey),
		log:     logger.OrNamed(log, "codes"),
		rand:    rand.Reader,
		lengths: lengths,
		live:    make(map[string]*VerificationCode),
		byChat:  make(map[string][]string),
		used:    make(map[string]time.Time),
		expired: make(map[string]time.Time),
	}
}

// WithClock reemplaza el reloj (tests).
func (s *Service) WithClock(now domain.Clock) *Service {
	s.now = now
	return s
}

// WithRand reemplaza la fuente aleatoria (tests de colisión).
func (s *Service) WithRand(r io.Reader) *Service {
	s.rand = r
	return s
}

// Load recarga el set anti-replay desde el journal.
func (s *Service) Load(ctx context.Context) error {
	used, err := s.journal.Load(ctx)
	if err != nil {
		return fmt.Errorf("load replay journal: %w", err)
	}
	s.mu.Lock()
	for fp, at := range used {
		s.used[fp] = at
	}
	s.loaded = true
	s.mu.Unlock()
	s.log.Info("replay set loaded", logger.Count(len(used)))
	return nil
}

// Initialized indica si Load corrió.
func (s *Service) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Normalize pasa el código a minúsculas sin espacios.
func Normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// WellFormed indica si v (normalizado) es hex con el largo de algún tier.
func (s *Service) WellFormed(v string) bool {
	return s.lengths[len(v)] && hexRe.MatchString(v)
}

// Generate emite un código para chatID con la vida completa del tier.
func (s *Service) Generate(chatID, gameHint string, tier Tier) (VerificationCode, error) {
	return s.GenerateWithin(chatID, gameHint, tier, time.Time{})
}

// GenerateWithin emite un código cuyo vencimiento no supera notAfter (si no es cero).
// Si chatID excede el tope de códigos sin consumir, el más viejo se descarta.
func (s *Service) GenerateWithin(chatID, gameHint string, tier Tier, notAfter time.Time) (VerificationCode, error) {
	const op = "code.Generate"
	if strings.TrimSpace(chatID) == "" {
		return VerificationCode{}, domain.E(op, domain.ReasonInvalidIdentity, nil)
	}
	spec, ok := s.cfg.Tiers[tier]
	if !ok {
		return VerificationCode{}, domain.E(op, domain.ReasonSystemError, fmt.Errorf("unknown tier %q", tier))
	}

	now := s.now.Now()
	exp := now.Add(spec.Lifetime)
	if !notAfter.IsZero() && notAfter.Before(exp) {
		exp = notAfter
	}

	s.mu.Lock()
	var value string
	for attempt := 0; attempt < s.cfg.MaxGenerateAttempts; attempt++ {
		v, err := s.randomHex(spec.Length)
		if err != nil {
			s.mu.Unlock()
			return VerificationCode{}, domain.E(op, domain.ReasonSystemError, err)
		}
		if s.taken(v) {
			s.log.Warn("code collision, retrying", logger.Int("attempt", attempt+1))
			continue
		}
		value = v
		break
	}
	if value == "" {
		s.mu.Unlock()
		s.log.Error("code generation exhausted", logger.ChatID(chatID), logger.Int("attempts", s.cfg.MaxGenerateAttempts))
		return VerificationCode{}, domain.E(op, domain.ReasonSystemError, ErrGenerationExhausted)
	}

	c := &VerificationCode{
		Value:     value,
		Ref:       s.fp.Short(value),
		ChatID:    chatID,
		GameID:    gameHint,
		Tier:      tier,
		CreatedAt: now,
		ExpiresAt: exp,
	}
	s.live[value] = c
	s.byChat[chatID] = append(s.byChat[chatID], value)

	var evicted []string
	for len(s.byChat[chatID]) > s.cfg.PerUserCap {
		oldest := s.byChat[chatID][0]
		s.byChat[chatID] = s.byChat[chatID][1:]
		delete(s.live, oldest)
		evicted = append(evicted, s.fp.Short(oldest))
	}
	out := *c
	s.mu.Unlock()

	fp := c.Ref
	s.record(chatID, audit.ActionCodeIssue, "ok", map[string]any{
		"fp": fp, "tier": string(tier), "game_id": gameHint, "expires_at": exp,
	})
	for _, e := range evicted {
		s.record(chatID, audit.ActionCodeEvict, "cap", map[string]any{"fp": e})
	}
	s.log.Debug("code issued", logger.ChatID(chatID), logger.CodeFingerprint(fp), logger.Count(len(evicted)))
	return out, nil
}

// taken indica si v colisiona con la tabla viva, el set anti-replay o una lápida.
// Requiere s.mu.
func (s *Service) taken(v string) bool {
	if _, ok := s.live[v]; ok {
		return true
	}
	fp := s.fp.Sum(v)
	if _, ok := s.used[fp]; ok {
		return true
	}
	_, ok := s.expired[fp]
	return ok
}

func (s *Service) randomHex(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}

// Validate intenta consumir un código. El paso de marcar usado, agregar al set
// anti-replay y quitar de la tabla viva ocurre bajo un único lock, por lo que a
// lo sumo una llamada concurrente con el mismo código obtiene Valid.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) Outcome {
	id := rateIdentifier(req)

	if s.guard != nil {
		if blocked, until := s.guard.Blocked(id); blocked {
			out := Outcome{Result: Blocked, RetryAfter: until.Sub(s.now.Now())}
			s.finish(id, req, out)
			return out
		}
	}
	if s.limiter != nil {
		res, err := s.limiter.Allow(ctx, "validate:"+id)
		if err != nil {
			s.log.Warn("validate limiter failed, allowing", logger.Err(err))
		} else if !res.Allowed {
			out := Outcome{Result: RateLimited, RetryAfter: res.RetryAfter}
			return s.fail(id, req, out)
		}
	}

	value := Normalize(req.Code)
	if !s.WellFormed(value) {
		return s.fail(id, req, Outcome{Result: InvalidFormat})
	}

	fp := s.fp.Sum(value)
	now := s.now.Now()

	s.mu.Lock()
	if _, ok := s.used[fp]; ok {
		s.mu.Unlock()
		return s.fail(id, req, Outcome{Result: AlreadyUsed})
	}
	c, ok := s.live[value]
	if !ok {
		_, tomb := s.expired[fp]
		s.mu.Unlock()
		if tomb {
			return s.fail(id, req, Outcome{Result: Expired})
		}
		return s.fail(id, req, Outcome{Result: NotFound})
	}
	if c.Expired(now) {
		s.retireLocked(c)
		s.expired[fp] = c.ExpiresAt
		info := redact(*c)
		s.mu.Unlock()
		return s.fail(id, req, Outcome{Result: Expired, Code: info})
	}
	c.Attempts++
	if (req.ClaimedChatID != "" && req.ClaimedChatID != c.ChatID) ||
		(req.GameID != "" && c.GameID != "" && !strings.EqualFold(req.GameID, c.GameID)) {
		info := redact(*c)
		s.mu.Unlock()
		return s.fail(id, req, Outcome{Result: OwnershipMismatch, Code: info})
	}
	c.Used = true
	c.UsedAt = now
	if c.GameID == "" {
		c.GameID = req.GameID
	}
	s.used[fp] = now
	s.pending = append(s.pending, replayEntry{fp: fp, at: now})
	s.retireLocked(c)
	out := Outcome{Result: Valid, Code: *c}
	s.mu.Unlock()

	if s.guard != nil {
		s.guard.Reset(id)
	}
	s.finish(id, req, out)
	return out
}

// retireLocked quita c de la tabla viva y del índice por chat. Requiere s.mu.
func (s *Service) retireLocked(c *VerificationCode) {
	delete(s.live, c.Value)
	vals := s.byChat[c.ChatID]
	for i, v := range vals {
		if v == c.Value {
			vals = append(vals[:i:i], vals[i+1:]...)
			break
		}
	}
	if len(vals) == 0 {
		delete(s.byChat, c.ChatID)
	} else {
		s.byChat[c.ChatID] = vals
	}
}

func (s *Service) fail(id string, req ValidateRequest, out Outcome) Outcome {
	if s.guard != nil && s.guard.Fail(id) {
		s.log.Warn("validation identifier blocked", logger.String("identifier", id))
		out = Outcome{Result: Blocked, RetryAfter: s.guardRetry(id)}
	}
	s.finish(id, req, out)
	return out
}

func (s *Service) guardRetry(id string) time.Duration {
	_, until := s.guard.Blocked(id)
	return until.Sub(s.now.Now())
}

func (s *Service) finish(id string, req ValidateRequest, out Outcome) {
	detail := map[string]any{"source": req.SourceAddr}
	if req.GameID != "" {
		detail["game_id"] = req.GameID
	}
	if v := Normalize(req.Code); v != "" && s.WellFormed(v) {
		detail["fp"] = s.fp.Short(v)
	}
	actor := req.ClaimedChatID
	if actor == "" {
		actor = out.Code.ChatID
	}
	if actor == "" {
		actor = id
	}
	s.record(actor, audit.ActionCodeValidate, string(out.Result), detail)
	if out.Result == Valid {
		s.log.Info("code consumed", logger.ChatID(out.Code.ChatID), logger.GameID(out.Code.GameID))
		return
	}
	s.log.Debug("code rejected", logger.String("identifier", id), logger.Result(string(out.Result)))
}

func (s *Service) record(actor string, action audit.Action, status string, detail map[string]any) {
	if s.audit != nil {
		s.audit.Record(actor, action, status, detail)
	}
}

// rateIdentifier prefiere la identidad de chat y cae a la dirección de origen.
func rateIdentifier(req ValidateRequest) string {
	if req.ClaimedChatID != "" {
		return "chat:" + req.ClaimedChatID
	}
	if req.SourceAddr != "" {
		return "addr:" + req.SourceAddr
	}
	return "anon"
}

// redact quita el valor del código.
func redact(c VerificationCode) VerificationCode {
	c.Value = ""
	return c
}

// Revoke descarta todos los códigos sin consumir de chatID. Retorna cuántos.
func (s *Service) Revoke(chatID string) int {
	s.mu.Lock()
	vals := s.byChat[chatID]
	for _, v := range vals {
		delete(s.live, v)
	}
	delete(s.byChat, chatID)
	s.mu.Unlock()
	if len(vals) > 0 {
		s.record(chatID, audit.ActionCodeRevoke, "ok", map[string]any{"count": len(vals)})
	}
	return len(vals)
}

// Expire retira los códigos sin consumir de chatID dejándolos como lápida: una
// validación posterior retorna EXPIRED y no NOT_FOUND. Retorna cuántos.
func (s *Service) Expire(chatID string) int {
	now := s.now.Now()
	s.mu.Lock()
	vals := s.byChat[chatID]
	for _, v := range vals {
		delete(s.live, v)
		s.expired[s.fp.Sum(v)] = now
	}
	delete(s.byChat, chatID)
	s.mu.Unlock()
	if len(vals) > 0 {
		s.record(chatID, audit.ActionCodeRevoke, "expired", map[string]any{"count": len(vals)})
	}
	return len(vals)
}

// Current retorna el código vivo más reciente de chatID.
func (s *Service) Current(chatID string) (VerificationCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := s.byChat[chatID]
	if len(vals) == 0 {
		return VerificationCode{}, false
	}
	c, ok := s.live[vals[len(vals)-1]]
	if !ok {
		return VerificationCode{}, false
	}
	return *c, true
}

// Outstanding cuenta los códigos vivos.
func (s *Service) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// OutstandingFor cuenta los códigos vivos de chatID.
func (s *Service) OutstandingFor(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byChat[chatID])
}

// ReplaySize cuenta las huellas del set anti-replay.
func (s *Service) ReplaySize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.used)
}

// BlockedCount cuenta los identificadores bloqueados.
func (s *Service) BlockedCount() int {
	if s.guard == nil {
		return 0
	}
	return s.guard.BlockedCount()
}

// ExpireCodes mueve a lápida los códigos vencidos y purga lápidas viejas.
// Retorna cuántos códigos vivos se quitaron.
func (s *Service) ExpireCodes(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.live {
		if c.Expired(now) {
			s.retireLocked(c)
			s.expired[s.fp.Sum(c.Value)] = c.ExpiresAt
			n++
		}
	}
	cutoff := now.Add(-s.cfg.ExpiredRetention)
	for fp, at := range s.expired {
		if at.Before(cutoff) {
			delete(s.expired, fp)
		}
	}
	return n
}

// prunable lo implementan los limitadores en memoria.
type prunable interface {
	Prune(now time.Time) int
}

// PruneLimits descarta ventanas de rate limit y bloqueos vencidos.
func (s *Service) PruneLimits(now time.Time) int {
	n := 0
	if p, ok := s.limiter.(prunable); ok {
		n += p.Prune(now)
	}
	if s.guard != nil {
		n += s.guard.Prune(now)
	}
	return n
}

// FlushReplay escribe al journal las huellas consumidas pendientes.
// Las que fallan quedan para el próximo flush.
func (s *Service) FlushReplay(ctx context.Context) (int, error) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for i, e := range batch {
		if err := s.journal.Add(ctx, e.fp, e.at); err != nil {
			s.mu.Lock()
			s.pending = append(batch[i:len(batch):len(batch)], s.pending...)
			s.mu.Unlock()
			return i, fmt.Errorf("replay journal add: %w", err)
		}
	}
	return len(batch), nil
}

// PruneHistory purga del set anti-replay (y del journal) las huellas más viejas
// que ReplayRetention. Un código purgado ya no está en la tabla viva, por lo que
// nunca vuelve a validar.
func (s *Service) PruneHistory(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.ReplayRetention)
	s.mu.Lock()
	n := 0
	for fp, at := range s.used {
		if at.Before(cutoff) {
			delete(s.used, fp)
			n++
		}
	}
	s.mu.Unlock()
	if _, err := s.journal.Prune(ctx, cutoff); err != nil {
		return n, fmt.Errorf("replay journal prune: %w", err)
	}
	return n, nil
}
