package singleflight

import "fmt"

// PanicError carries a value recovered from a panicking call so every waiter
// observes the failure instead of blocking forever.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("singleflight: call panicked: %v", p.Value)
}
