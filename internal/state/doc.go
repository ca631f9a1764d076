// Package state is the durable client-side key-value store.
package state
