/*
Package cache implements an in-memory, block-addressed page cache fronting a
set of RAID volumes. Pages are grouped into fixed-size buckets addressed by a
linear-hashing directory, so the table can grow one bucket at a time under
load instead of needing a stop-the-world rehash.

Each bucket runs its own eviction policy (LRU, LFU, FIFO, CLOCK or GCLOCK)
over a small fixed-size set of page slots, the way a set-associative CPU
cache picks a victim within a set rather than across the whole cache. A
coordinator turns caller reads and writes into page fetches, filling misses
through a pluggable transport.Transport, and a flush engine drains dirty
pages back out, merging adjacent dirty pages into larger writes where it can.

The lock ordering is: directory lock, then bucket lock (a spinlock, held for
microseconds), then page lock (a mutex, never held together with a bucket
lock except when the bucket briefly inspects a page's flags during
eviction).
*/
package cache
