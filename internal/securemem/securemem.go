// Package securemem keeps credentials in memguard-locked buffers while they
// travel from a client connection to the auth worker.
package securemem

import (
	"crypto/subtle"

	"github.com/awnumar/memguard"
)

// String holds a secret in locked, guarded memory. The zero value and nil
// behave as an empty secret.
type String struct {
	buf *memguard.LockedBuffer
}

// NewString copies plaintext into a locked buffer
func NewString(plaintext string) *String {
	return NewStringFromBytes([]byte(plaintext))
}

// NewStringFromBytes moves data into a locked buffer. data is wiped.
func NewStringFromBytes(data []byte) *String {
	if len(data) == 0 {
		return &String{}
	}
	return &String{buf: memguard.NewBufferFromBytes(data)}
}

func (s *String) alive() bool {
	return s != nil && s.buf != nil && s.buf.IsAlive()
}

// String returns a plaintext copy in ordinary memory
func (s *String) String() string {
	if !s.alive() {
		return ""
	}
	return string(s.buf.Bytes())
}

// Len returns the length of the secret
func (s *String) Len() int {
	if !s.alive() {
		return 0
	}
	return s.buf.Size()
}

// IsEmpty reports whether the secret is empty or destroyed
func (s *String) IsEmpty() bool {
	return s.Len() == 0
}

// Equal compares against plaintext in constant time
func (s *String) Equal(other string) bool {
	if !s.alive() {
		return other == ""
	}
	return subtle.ConstantTimeCompare(s.buf.Bytes(), []byte(other)) == 1
}

// WithBytes calls fn with a temporary plaintext copy that is wiped when fn
// returns. fn must not retain the slice.
func (s *String) WithBytes(fn func([]byte)) {
	if !s.alive() {
		fn(nil)
		return
	}
	b := make([]byte, s.buf.Size())
	copy(b, s.buf.Bytes())
	defer memguard.WipeBytes(b)
	fn(b)
}

// Destroy wipes and releases the secret. Safe to call more than once.
func (s *String) Destroy() {
	if s == nil || s.buf == nil {
		return
	}
	s.buf.Destroy()
	s.buf = nil
}

// Wipe zeroes b in place
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}

// Purge destroys every live locked buffer. Call it on process exit.
func Purge() {
	memguard.Purge()
}
