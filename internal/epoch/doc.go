// Package epoch implements grace-period reclamation for data that is read
// without locks.
//
// A Domain tracks readers in one of two epoch parities. Readers bracket
// their access with Enter/Exit; writers publish a replacement, Retire the
// old value into a Queue, and the Queue frees it only after the Domain has
// advanced two epochs past the retirement, at which point no reader that
// could have seen the old value is still active.
//
//	g := d.Enter()
//	t := current.Load()
//	... read t ...
//	g.Exit()
//
// Writers never wait for readers before publishing. Advancing is
// opportunistic (TryAdvance) on the write path; Synchronize blocks until two
// advances have happened and is reserved for teardown.
//
// # Reader stripes
//
// Reader counters are spread over cache-line-padded stripes so concurrent
// Enter/Exit calls from many goroutines do not contend on one word. A
// reader picks a stripe at random; the Guard remembers which one.
package epoch
