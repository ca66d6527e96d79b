// Package app turns producer events from the CRUD services into envelopes and routes them
// through the delivery primitives. It depends on domain interfaces only.
package app
