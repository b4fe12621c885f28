//go:build !fdtable_debug

package fdtable

const debugChecks = false
