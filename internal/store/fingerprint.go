package store

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprinter deriva huellas blake2b con clave para códigos de verificación.
// La huella identifica un código sin revelarlo (journal, audit, logs).
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter crea el derivador. Claves de más de 64 bytes se reducen con blake2b-256.
func NewFingerprinter(key string) *Fingerprinter {
	k := []byte(key)
	if len(k) > blake2b.Size {
		sum := blake2b.Sum256(k)
		k = sum[:]
	}
	return &Fingerprinter{key: k}
}

// Sum retorna la huella (32 hex) del código normalizado a minúsculas.
func (f *Fingerprinter) Sum(code string) string {
	h, err := blake2b.New(16, f.key)
	if err != nil {
		// sólo falla con clave > 64 bytes, descartado en NewFingerprinter
		panic(err)
	}
	h.Write([]byte(strings.ToLower(code)))
	return hex.EncodeToString(h.Sum(nil))
}

// Short retorna un prefijo corto de la huella para logs.
func (f *Fingerprinter) Short(code string) string {
	return f.Sum(code)[:8]
}
