/*
Package rockyardhost coordinates the lifecycle of database, transaction,
iterator and snapshot handles over an embedded key/value engine.

Every handle is confined to a single request loop owned by an Env. Engine
calls never run on the loop: each request becomes a work item whose execute
phase runs on a bounded worker pool and whose completion is delivered back
on the loop. Completions are never invoked from inside the call that
requested them.

# Teardown

A Database tracks its in-flight work and its live dependents. Closing it
while either is non-zero parks the close, closes every iterator, rolls back
every open transaction and releases every snapshot. The engine is closed
only after the last of them has finished. Transactions do the same for
their iterators before a commit or rollback executes, and an iterator
closed during a batch read closes once the read completes.

Requests against handles that are closing or closed fail with protocol
errors (see Error and Kind). Closing, releasing, committing and rolling back
are idempotent.

# Usage

	env := rockyardhost.NewEnv(nil)
	defer env.Shutdown(context.Background())

	var db *rockyardhost.Database
	err := env.Invoke(func(done func(error)) {
		db = env.NewDatabase("/tmp/example")
		db.Open(nil, done)
	})
	...
	err = env.Invoke(func(done func(error)) {
		db.Put([]byte("k"), []byte("v"), nil, done)
	})

# Concurrency

Handle methods must be called on the loop: inside Env.Do, Env.Invoke,
Await, or a completion callback. Env.Invoke, Await and Env.Shutdown block
and must not be called on the loop.
*/
package rockyardhost
