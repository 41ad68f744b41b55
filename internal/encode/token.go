package encode

import "sync"

// Token is the shared cancellation signal for one job. Every supervisor
// taking part in the job polls the same token; once signalled it never
// resets, and no further stage may start.
type Token struct {
	once sync.Once
	done chan struct{}
}

// NewToken creates an unsignalled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Signal marks the token cancelled. Idempotent, never blocks, safe from
// any goroutine, including before the token is attached to a process.
func (t *Token) Signal() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Signal has been called.
func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the token is signalled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
