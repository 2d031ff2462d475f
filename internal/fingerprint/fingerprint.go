// Package fingerprint computes stable content fingerprints for skill inputs,
// artifact contents, and manifest payloads. The fingerprint is a 256-bit
// digest over a canonical byte encoding of a value, not over its JSON text,
// so that semantically identical values always hash identically regardless
// of key ordering or incidental whitespace in the source payload.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// Dereferencer resolves a file URI present in an input value to its content
// bytes. The content, not the URI, is mixed into the fingerprint so that
// relocating a file does not invalidate a cache entry keyed on it.
type Dereferencer interface {
	Dereference(uri string) ([]byte, error)
}

// DereferencerFunc adapts a function to the Dereferencer interface.
type DereferencerFunc func(uri string) ([]byte, error)

// Dereference calls f(uri).
func (f DereferencerFunc) Dereference(uri string) ([]byte, error) { return f(uri) }

// Fingerprinter canonicalizes and hashes skill inputs. A zero value is
// usable; WithDereferencer and WithVolatileFields configure optional
// behavior.
type Fingerprinter struct {
	deref    Dereferencer
	volatile map[string]struct{}
	fileKeys map[string]struct{}
}

// Option configures a Fingerprinter.
type Option func(*Fingerprinter)

// WithDereferencer installs the callback used to resolve file:// URIs found
// in input values into their content bytes.
func WithDereferencer(d Dereferencer) Option {
	return func(f *Fingerprinter) { f.deref = d }
}

// WithVolatileFields marks object keys, at any depth, that are excluded from
// the canonical encoding entirely. Skill descriptors mark fields such as
// executionId or caller-supplied timestamps as volatile (§4.A).
func WithVolatileFields(keys ...string) Option {
	return func(f *Fingerprinter) {
		for _, k := range keys {
			f.volatile[k] = struct{}{}
		}
	}
}

// WithFileURIFields marks object keys whose string value is a file:// URI to
// dereference before hashing. Without this option, string values are never
// dereferenced even if they look like file URIs, since the value's type
// alone is not sufficient to disambiguate "a path" from "a string that
// happens to look like a path".
func WithFileURIFields(keys ...string) Option {
	return func(f *Fingerprinter) {
		for _, k := range keys {
			f.fileKeys[k] = struct{}{}
		}
	}
}

// New constructs a Fingerprinter.
func New(opts ...Option) *Fingerprinter {
	f := &Fingerprinter{
		volatile: make(map[string]struct{}),
		fileKeys: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Scope identifies the namespace a skill input is fingerprinted within: the
// tenant, skill id, and resolved skill version are mixed into the digest
// alongside the resolved input so that the same input bytes under a
// different tenant or skill version never collide.
type Scope struct {
	TenantID     string
	SkillID      string
	SkillVersion string
}

// Fingerprint computes F(tenant, skill_id, skill_version, resolved_input)
// per §4.A: canonicalize, emit a deterministic byte stream, SHA-256, hex
// encode. value must be built from the types produced by encoding/json
// Unmarshal into `any` (map[string]any, []any, string, float64, bool, nil)
// plus int/int64 for convenience.
func (f *Fingerprinter) Fingerprint(scope Scope, value any) (string, error) {
	h := sha256.New()
	writeString(h, "tenant:"+scope.TenantID)
	writeString(h, "skill:"+scope.SkillID)
	writeString(h, "version:"+scope.SkillVersion)

	enc := &encoder{w: h, f: f}
	if err := enc.encode(value); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeString(w byteWriter, s string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	w.Write(lenBuf[:])
	w.Write([]byte(s))
}

type encoder struct {
	w byteWriter
	f *Fingerprinter
}

// encode writes a length-prefixed, type-tagged deterministic encoding of v.
// Object keys are visited in lexicographic order at every depth; volatile
// keys are skipped entirely (their absence is itself part of the stable
// encoding, so two inputs differing only in a volatile field always
// produce identical output).
func (e *encoder) encode(v any) error {
	return e.encodeKeyed("", v)
}

func (e *encoder) encodeKeyed(key string, v any) error {
	switch val := v.(type) {
	case nil:
		e.w.Write([]byte{tagNull})
		return nil
	case bool:
		e.w.Write([]byte{tagBool})
		if val {
			e.w.Write([]byte{1})
		} else {
			e.w.Write([]byte{0})
		}
		return nil
	case string:
		if _, ok := e.f.fileKeys[key]; ok && e.f.deref != nil {
			content, err := e.f.deref.Dereference(val)
			if err != nil {
				return fmt.Errorf("dereference %q: %w", val, err)
			}
			e.w.Write([]byte{tagFileContent})
			writeString(e.w, string(content))
			return nil
		}
		e.w.Write([]byte{tagString})
		writeString(e.w, val)
		return nil
	case float64:
		e.w.Write([]byte{tagNumber})
		writeString(e.w, shortestDecimal(val))
		return nil
	case int:
		return e.encodeKeyed(key, float64(val))
	case int64:
		return e.encodeKeyed(key, float64(val))
	case []any:
		e.w.Write([]byte{tagArray})
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(val)))
		e.w.Write(lenBuf[:])
		for _, item := range val {
			if err := e.encodeKeyed("", item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			if _, volatile := e.f.volatile[k]; volatile {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.w.Write([]byte{tagObject})
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(keys)))
		e.w.Write(lenBuf[:])
		for _, k := range keys {
			writeString(e.w, k)
			if err := e.encodeKeyed(k, val[k]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported type %T for fingerprinting", v)
	}
}

const (
	tagNull byte = iota
	tagBool
	tagString
	tagNumber
	tagArray
	tagObject
	tagFileContent
)

// shortestDecimal renders f in its shortest round-tripping IEEE-754 decimal
// form, matching the canonicalization rule in §4.A.
func shortestDecimal(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
